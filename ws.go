package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var queueUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cookie auth already ran in the gating wrapper; cross-origin pages
	// cannot read the cookie so origin checking adds nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const queueJoinPoll = 500 * time.Millisecond

// handleQueueJoin streams job status over a websocket: the client sends
// {"hash": ...} once, the server pushes {"status", "data"} envelopes
// until the job reaches a terminal state.
func (s *Server) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	conn, err := queueUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logWarnCtx(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var join struct {
		Hash string `json:"hash"`
	}
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	if err := conn.ReadJSON(&join); err != nil {
		conn.WriteJSON(map[string]any{"error": "expected {\"hash\": ...}"})
		return
	}

	logInfoCtx(r.Context(), "queue join", "hash", join.Hash)
	ticker := time.NewTicker(queueJoinPoll)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		status, result, err := s.engine.Status(r.Context(), join.Hash)
		if err != nil {
			logErrorCtx(r.Context(), "queue status failed", "hash", join.Hash, "error", err)
			conn.WriteJSON(map[string]any{"error": "internal server error"})
			return
		}

		// Push every transition plus a final envelope with the result.
		// Idle ticks send a ping instead, so a vanished client errors the
		// write and the loop exits rather than polling forever.
		if status != last {
			last = status
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(map[string]any{"status": status, "data": result}); err != nil {
				return
			}
		} else {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}

		switch status {
		case jobCompleted, jobFailed, jobNotFound:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
