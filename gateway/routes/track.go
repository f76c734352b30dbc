package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"settler/invoice"
	"settler/tracker"
)

type trackResponse struct {
	Params         trackParams   `json:"params"`
	State          tracker.State `json:"state"`
	ElapsedSeconds int64         `json:"elapsedSeconds"`
	Live           bool          `json:"live"`
	TrackURL       string        `json:"trackUrl"`
}

type trackParams struct {
	TxID      string            `json:"tx"`
	Direction invoice.Direction `json:"dir"`
	Recipient string            `json:"to,omitempty"`
	HookData  string            `json:"hookData,omitempty"`
}

func (g *Gateway) trackResponse(params tracker.Params, update tracker.Update, live bool) trackResponse {
	return trackResponse{
		Params:         trackParams{TxID: params.TxID, Direction: params.Direction, Recipient: params.Recipient, HookData: params.HookData},
		State:          update.State,
		ElapsedSeconds: update.ElapsedSeconds,
		Live:           live,
		TrackURL:       params.URL(g.cfg.BaseURL),
	}
}

// track reports a live session's latest state, or runs a single check when
// nobody is streaming the transfer.
func (g *Gateway) track(w http.ResponseWriter, r *http.Request) {
	params, err := invoice.ParseTrackParams(r.URL.Query())
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if runner, ok := g.hub.Lookup(params); ok {
		writeJSON(w, http.StatusOK, g.trackResponse(params, latest(runner), true))
		return
	}
	t, err := g.newTracker(params)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	state := t.Tick(r.Context())
	elapsed := t.Elapsed(time.Now())
	writeJSON(w, http.StatusOK, g.trackResponse(params, tracker.Update{
		State:          state,
		Elapsed:        elapsed,
		ElapsedSeconds: int64(elapsed / time.Second),
	}, false))
}

// refresh asks a live session for an immediate check. Without one it
// starts a session so the check happens in the background.
func (g *Gateway) refresh(w http.ResponseWriter, r *http.Request) {
	params, err := invoice.ParseTrackParams(r.URL.Query())
	if err != nil {
		writeValidationError(w, err)
		return
	}
	runner, err := g.hub.Join(params)
	if err != nil {
		g.writeJoinError(w, err)
		return
	}
	runner.Refresh()
	writeJSON(w, http.StatusAccepted, g.trackResponse(params, latest(runner), true))
}

func (g *Gateway) writeJoinError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTooManySessions):
		writeJSONError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("shutting down"))
	default:
		writeBadRequest(w, err)
	}
}

// latest reads the current update from a runner's subscription.
func latest(runner *tracker.Runner) tracker.Update {
	updates, cancel := runner.Subscribe()
	defer cancel()
	return <-updates
}

// stream upgrades to a websocket and pushes every update until the session
// is terminal or the client goes away. A text frame "refresh" triggers an
// immediate check.
func (g *Gateway) stream(w http.ResponseWriter, r *http.Request) {
	params, err := invoice.ParseTrackParams(r.URL.Query())
	if err != nil {
		writeValidationError(w, err)
		return
	}
	runner, err := g.hub.Join(params)
	if err != nil {
		g.writeJoinError(w, err)
		return
	}
	origins := g.cfg.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if string(data) == "refresh" {
				runner.Refresh()
			}
		}
	}()

	if err := g.pump(ctx, conn, params, runner); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			g.cfg.Logger.Debug("tracking stream ended", slog.String("tx", params.TxID), slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (g *Gateway) pump(ctx context.Context, conn *websocket.Conn, params tracker.Params, runner *tracker.Runner) error {
	updates, unsubscribe := runner.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := g.writeUpdate(ctx, conn, g.trackResponse(params, update, true)); err != nil {
				return err
			}
			if update.State.Status.Terminal() {
				return nil
			}
		}
	}
}

func (g *Gateway) writeUpdate(ctx context.Context, conn *websocket.Conn, payload trackResponse) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	timeout := g.cfg.Stream.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	writeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
