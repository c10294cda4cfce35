package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wonny/egp/internal/audit"
)

// Stream timing
const (
	DefaultStreamInterval = 5 * time.Second
	streamPingInterval    = 30 * time.Second
	streamWriteWait       = 10 * time.Second
)

// RunEvent is one message on a run stream
type RunEvent struct {
	Type  string           `json:"type"` // run | error
	Run   *audit.RunRecord `json:"run,omitempty"`
	Error string           `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// WithStreamInterval sets how often the run store is checked for a new run
func (h *RunHandler) WithStreamInterval(d time.Duration) *RunHandler {
	if d > 0 {
		h.streamInterval = d
	}
	return h
}

// StreamRuns pushes the strategy's latest successful run, then every newer one as it lands.
// Runs are written by other processes (scheduler, CLI), so the store is the source of truth.
// GET /api/strategies/{strategy}/runs/stream (websocket)
func (h *RunHandler) StreamRuns(w http.ResponseWriter, r *http.Request) {
	strategy := mux.Vars(r)["strategy"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade이 이미 오류 응답을 씀
		h.logger.WithError(err).Debug("Run stream upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 클라이언트 종료 감지 (수신 메시지는 버림)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	h.logger.WithField("strategy", strategy).Debug("Run stream opened")

	poll := time.NewTicker(h.streamInterval)
	defer poll.Stop()
	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	lastID := ""
	for {
		rec, err := h.runs.LatestRun(ctx, strategy)
		switch {
		case errors.Is(err, audit.ErrNotFound):
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			h.logger.WithError(err).Warn("Run stream read failed")
			if h.send(conn, RunEvent{Type: "error", Error: "internal"}) != nil {
				return
			}
		case rec.RunID != lastID:
			if h.send(conn, RunEvent{Type: "run", Run: rec}) != nil {
				return
			}
			lastID = rec.RunID
		}

		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(streamWriteWait)
			if conn.WriteControl(websocket.PingMessage, nil, deadline) != nil {
				return
			}
		case <-poll.C:
		}
	}
}

func (h *RunHandler) send(conn *websocket.Conn, ev RunEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(ev)
}
