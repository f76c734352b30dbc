package tracker

import (
	"bytes"
	"strings"

	"settler/bridge"
	"settler/chain/stacks"
)

const eventTypeContractLog = "smart_contract_log"

// MatchMint returns the first mint event in events belonging to the
// transfer identified by hook, or by recipient when hook is empty. Events
// whose hex payload decodes to a Clarity tuple are matched on its fields;
// the rest fall back to the textual repr.
func MatchMint(events []stacks.ContractEvent, hook bridge.HookData, recipient string) (stacks.ContractEvent, MatchKind, bool) {
	for _, ev := range events {
		if kind, ok := matchEvent(ev, hook, recipient); ok {
			return ev, kind, true
		}
	}
	return stacks.ContractEvent{}, "", false
}

func matchEvent(ev stacks.ContractEvent, hook bridge.HookData, recipient string) (MatchKind, bool) {
	if ev.EventType != eventTypeContractLog {
		return "", false
	}
	if tuple, ok := decodeTuple(ev.Hex); ok {
		return matchTuple(tuple, hook, recipient)
	}
	return matchRepr(ev.Repr, hook, recipient)
}

func decodeTuple(hexValue string) (stacks.Value, bool) {
	if strings.TrimSpace(hexValue) == "" {
		return stacks.Value{}, false
	}
	v, err := stacks.DecodeValueHex(hexValue)
	if err != nil || v.Type != stacks.TypeTuple {
		return stacks.Value{}, false
	}
	if _, ok := v.Field("topic"); !ok {
		return stacks.Value{}, false
	}
	return v, true
}

func matchTuple(tuple stacks.Value, hook bridge.HookData, recipient string) (MatchKind, bool) {
	topic, _ := tuple.Field("topic")
	if text, ok := topic.Text(); !ok || text != "mint" {
		return "", false
	}
	if !hook.Empty() {
		want, err := hook.Bytes()
		if err != nil {
			return "", false
		}
		field, ok := tuple.Field("hook-data")
		if !ok || field.Type != stacks.TypeBuffer {
			return "", false
		}
		return MatchHookData, bytes.Equal(field.Bytes, want)
	}
	if recipient == "" {
		return "", false
	}
	field, ok := tuple.Field("remote-recipient")
	if !ok {
		return "", false
	}
	switch field.Type {
	case stacks.TypeStandardPrincipal, stacks.TypeContractPrincipal:
		return MatchRecipient, field.Principal == recipient
	case stacks.TypeBuffer:
		if len(field.Bytes) != 32 {
			return "", false
		}
		var raw bridge.RemoteRecipient
		copy(raw[:], field.Bytes)
		decoded, err := bridge.DecodeRemoteRecipient(raw)
		return MatchRecipient, err == nil && decoded == recipient
	}
	return "", false
}

// matchRepr applies the textual rules. The API has served the topic both
// with plain and with escaped quotes.
func matchRepr(repr string, hook bridge.HookData, recipient string) (MatchKind, bool) {
	if !strings.Contains(repr, `(topic "mint")`) && !strings.Contains(repr, `(topic \"mint\")`) {
		return "", false
	}
	if !hook.Empty() {
		needle := "(hook-data " + string(hook.Normalized()) + ")"
		return MatchHookData, strings.Contains(strings.ToLower(repr), needle)
	}
	if recipient == "" {
		return "", false
	}
	return MatchRecipient, strings.Contains(repr, "(remote-recipient '"+recipient+")")
}
