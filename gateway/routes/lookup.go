package routes

import (
	"errors"
	"net/http"
	"strings"

	"settler/identity"
	"settler/invoice"
)

// balances returns the treasury summary for the given owners. Either may be
// omitted; a chain that could not be read is reported on its own line.
func (g *Gateway) balances(w http.ResponseWriter, r *http.Request) {
	if g.cfg.Balances == nil {
		writeJSONError(w, http.StatusNotImplemented, errors.New("balances not configured"))
		return
	}
	query := r.URL.Query()
	eth := strings.TrimSpace(query.Get("eth"))
	stx := strings.TrimSpace(query.Get("stx"))
	if eth == "" && stx == "" {
		writeBadRequest(w, errors.New("eth or stx owner required"))
		return
	}
	if eth != "" && !invoice.IsValidEthAddress(eth) {
		writeBadRequest(w, errors.New("Invalid Ethereum address format (must be 0x...)"))
		return
	}
	if stx != "" && !invoice.IsValidStacksTestnetAddress(stx) {
		writeBadRequest(w, errors.New("Invalid Stacks address format (must start with ST)"))
		return
	}
	writeJSON(w, http.StatusOK, g.cfg.Balances.Summary(r.Context(), eth, stx))
}

type resolveResponse struct {
	Name    string         `json:"name"`
	Address string         `json:"address"`
	Chain   identity.Chain `json:"chain,omitempty"`
}

// resolve looks up a .btc or .eth name. chain, when given, must match the
// name's service.
func (g *Gateway) resolve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	name := strings.TrimSpace(query.Get("name"))
	if name == "" {
		writeBadRequest(w, errors.New("name required"))
		return
	}
	chain := identity.Chain(strings.ToLower(strings.TrimSpace(query.Get("chain"))))
	var (
		address string
		err     error
	)
	switch chain {
	case "":
		address, err = g.cfg.Resolver.Resolve(r.Context(), name)
		if invoice.IsBnsName(name) {
			chain = identity.ChainStacks
		} else if invoice.IsEnsName(name) {
			chain = identity.ChainEthereum
		}
	case identity.ChainStacks, identity.ChainEthereum:
		address, err = g.cfg.Resolver.ResolveRecipient(r.Context(), name, chain)
	default:
		writeBadRequest(w, errors.New("chain must be stacks or ethereum"))
		return
	}
	if err != nil {
		var rerr *identity.ResolutionError
		if errors.As(err, &rerr) {
			if errors.Is(err, identity.ErrWrongChain) {
				writeJSONError(w, http.StatusUnprocessableEntity, err)
				return
			}
			writeJSONError(w, http.StatusNotFound, err)
			return
		}
		writeBadRequest(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Name: name, Address: address, Chain: chain})
}
