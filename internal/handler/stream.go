package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/console"
	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	console   *ConsoleHandler
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(consoleHandler *ConsoleHandler, log *logger.Logger) *StreamHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &StreamHandler{
		console:   consoleHandler,
		logger:    log.Named("stream"),
		heartbeat: heartbeatInterval,
	}
}

// ConnectedEvent is the first event of a console stream.
type ConnectedEvent struct {
	SessionID  string `json:"sessionId"`
	Activation string `json:"activation"`
}

// Stream handles GET /api/v1/console/{agent}/{activation}/stream
// It pushes the current view, then every view change and notification of the
// session until the client goes away or live updates become unavailable.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s, ok := h.console.session(w, r)
	if !ok {
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	log := h.logger.With(
		zap.String("session_id", s.ID()),
		zap.String("activation", s.Identity().Key()),
	)

	sendSSEEvent(w, flusher, "connected", &ConnectedEvent{
		SessionID:  s.ID(),
		Activation: s.Identity().Key(),
	})

	view := s.View()
	if view.Degraded {
		sendSSEEvent(w, flusher, string(console.UpdateUnavailable), &view)
		return
	}
	sendSSEEvent(w, flusher, string(console.UpdateView), &view)

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("SSE client disconnected")
			return

		case u, open := <-updates:
			if !open {
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "session_closed",
					Message: "session closed, reopen the console",
				})
				return
			}
			if err := sendUpdate(w, flusher, u); err != nil {
				log.Warn("failed to encode update", zap.Error(err))
				continue
			}
			if u.Kind == console.UpdateUnavailable {
				log.Info("closing stream, live updates unavailable")
				return
			}

		case <-heartbeat.C:
			// Send heartbeat to keep connection alive
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendUpdate(w http.ResponseWriter, flusher http.Flusher, u console.Update) error {
	switch u.Kind {
	case console.UpdateNotification:
		return sendSSEEvent(w, flusher, string(u.Kind), u.Notification)
	default:
		return sendSSEEvent(w, flusher, string(u.Kind), u.View)
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
