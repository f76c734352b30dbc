package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"settler/invoice"
)

type errorBody struct {
	Error  string         `json:"error"`
	Reason invoice.Reason `json:"reason,omitempty"`
	Field  string         `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := ""
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: message})
}

// writeValidationError reports an invoice validation failure as 422 with its
// machine readable reason. Other errors fall back to 400.
func writeValidationError(w http.ResponseWriter, err error) {
	var verr *invoice.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Message, Reason: verr.Reason, Field: verr.Field})
		return
	}
	writeBadRequest(w, err)
}
