package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"settler/identity"
	"settler/invoice"
)

const maxInvoiceBody = 16 << 10

type createInvoiceRequest struct {
	Direction string `json:"direction"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	Memo      string `json:"memo"`
}

type invoiceResponse struct {
	Token     string          `json:"token,omitempty"`
	PayURL    string          `json:"payUrl,omitempty"`
	Invoice   invoice.Invoice `json:"invoice"`
	Source    string          `json:"source"`
	Dest      string          `json:"destination"`
	Minimum   string          `json:"minimum"`
	ETA       int             `json:"etaMinutes"`
	Requested string          `json:"requestedRecipient,omitempty"`
}

func (g *Gateway) describe(inv invoice.Invoice) invoiceResponse {
	resp := invoiceResponse{
		Invoice: inv,
		Source:  inv.Direction.SourceAsset() + " on " + inv.Direction.SourceChain(),
		Dest:    inv.Direction.DestinationAsset() + " on " + inv.Direction.DestinationChain(),
		Minimum: g.cfg.Network.MinDeposit.String(),
		ETA:     int(g.cfg.Network.DepositETA.Minutes()),
	}
	if inv.Direction == invoice.StxToEth {
		resp.Minimum = g.cfg.Network.MinWithdraw.String()
		resp.ETA = int(g.cfg.Network.WithdrawETA.Minutes())
	}
	return resp
}

// createInvoice resolves a .btc/.eth recipient, checks the destination
// address and returns the encoded token with its pay link.
func (g *Gateway) createInvoice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxInvoiceBody+1))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if len(body) > maxInvoiceBody {
		writeJSONError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
		return
	}
	var req createInvoiceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, errors.New("invalid JSON body"))
		return
	}

	direction := invoice.Direction(strings.TrimSpace(req.Direction))
	if !direction.Valid() {
		writeValidationError(w, &invoice.ValidationError{Reason: invoice.ReasonInvalidDirection, Field: "direction", Message: "Invalid bridge direction"})
		return
	}
	requested := strings.TrimSpace(req.Recipient)
	if requested == "" {
		writeValidationError(w, &invoice.ValidationError{Reason: invoice.ReasonInvalidRecipient, Field: "recipient", Message: "Invalid recipient address"})
		return
	}
	recipient, err := g.cfg.Resolver.ResolveRecipient(r.Context(), requested, identity.ChainFor(direction))
	if err != nil {
		var rerr *identity.ResolutionError
		if errors.As(err, &rerr) {
			writeValidationError(w, &invoice.ValidationError{Reason: invoice.ReasonInvalidRecipient, Field: "recipient", Message: rerr.Message})
			return
		}
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	if err := invoice.CheckRecipientAddress(recipient, direction); err != nil {
		writeValidationError(w, err)
		return
	}

	inv := invoice.Invoice{
		Direction: direction,
		Amount:    strings.TrimSpace(req.Amount),
		Recipient: recipient,
		Memo:      req.Memo,
	}
	token, err := invoice.Encode(inv)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	resp := g.describe(inv)
	resp.Token = token
	resp.PayURL = invoice.PayURL(g.cfg.BaseURL, token)
	if !strings.EqualFold(requested, recipient) {
		resp.Requested = requested
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (g *Gateway) decodeInvoice(w http.ResponseWriter, r *http.Request) {
	token, err := invoice.TokenFromQuery(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	inv, err := invoice.Decode(token)
	if err != nil {
		g.cfg.Metrics.RecordDecodeFailure(string(invoice.ReasonOf(err)))
		writeValidationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g.describe(inv))
}
