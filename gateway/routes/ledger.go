package routes

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"settler/gateway/middleware"
	"settler/ledger"
)

func parseLedgerFilter(query url.Values) (ledger.Filter, error) {
	filter := ledger.Filter{
		Kind:      ledger.Kind(strings.TrimSpace(query.Get("kind"))),
		Status:    strings.TrimSpace(query.Get("status")),
		Recipient: strings.TrimSpace(query.Get("recipient")),
	}
	switch filter.Kind {
	case "", ledger.KindDeposit, ledger.KindBurn:
	default:
		return ledger.Filter{}, fmt.Errorf("unknown kind %q", filter.Kind)
	}
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ledger.Filter{}, fmt.Errorf("since must be RFC3339: %w", err)
		}
		filter.Since = since
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := strings.TrimSpace(query.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return ledger.Filter{}, fmt.Errorf("%s must be a non-negative integer", name)
		}
		*dst = n
	}
	return filter, nil
}

type ledgerPage struct {
	Transfers []ledger.Transfer `json:"transfers"`
	Count     int               `json:"count"`
}

func (g *Gateway) listLedger(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLedgerFilter(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rows, err := g.cfg.Ledger.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if rows == nil {
		rows = []ledger.Transfer{}
	}
	writeJSON(w, http.StatusOK, ledgerPage{Transfers: rows, Count: len(rows)})
}

// exportLedger streams the filtered ledger as a parquet file. The file is
// built in memory first so a failed export still gets a JSON error.
func (g *Gateway) exportLedger(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLedgerFilter(r.URL.Query())
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var buf bytes.Buffer
	n, err := g.cfg.Ledger.ExportParquet(r.Context(), &buf, filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	op, _ := middleware.OperatorFromContext(r.Context())
	g.cfg.Logger.Info("ledger exported", slog.Int("rows", n), slog.String("operator", op.Subject))
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="settler-ledger.parquet"`)
	w.Header().Set("X-Row-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
