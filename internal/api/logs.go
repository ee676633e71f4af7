package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	logWriteWait  = 10 * time.Second
	logPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogs streams live log lines: WebSocket text messages for upgrade
// requests, chunked text/plain otherwise.
func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logBroadcaster == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "log streaming disabled"})
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		s.logsOverWebSocket(w, r)
		return
	}
	s.logsOverHTTP(w, r)
}

// pumpLogs forwards subscribed lines to send until stop fires, send fails or
// the subscription closes. ping, when non-nil, runs every logPingPeriod.
func (s *APIServer) pumpLogs(stop <-chan struct{}, send func([]byte) error, ping func() error) {
	ch := s.logBroadcaster.Subscribe()
	defer s.logBroadcaster.Unsubscribe(ch)

	var tick <-chan time.Time
	if ping != nil {
		t := time.NewTicker(logPingPeriod)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case line, ok := <-ch:
			if !ok || send(line) != nil {
				return
			}
		case <-tick:
			if ping() != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *APIServer) logsOverWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	// The client never sends anything; a failed read means it went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.pumpLogs(gone,
		func(line []byte) error {
			_ = conn.SetWriteDeadline(time.Now().Add(logWriteWait))
			return conn.WriteMessage(websocket.TextMessage, line)
		},
		func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(logWriteWait))
		})
}

func (s *APIServer) logsOverHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.pumpLogs(r.Context().Done(), func(line []byte) error {
		if _, err := w.Write(line); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, nil)
}
