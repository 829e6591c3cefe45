package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/console"
	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/internal/middleware"
	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/internal/selection"
	"github.com/capitalize-ai/agent-console/pkg/logger"
)

// ConsoleHandler serves the console API.
type ConsoleHandler struct {
	manager *console.Manager
	logger  *logger.Logger
}

// NewConsoleHandler creates a new console handler.
func NewConsoleHandler(manager *console.Manager, log *logger.Logger) *ConsoleHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &ConsoleHandler{
		manager: manager,
		logger:  log.Named("handler"),
	}
}

// SelectTopicRequest is the body of PUT .../selection.
type SelectTopicRequest struct {
	Topic string `json:"topic"`
}

// CreateTopicRequest is the body of POST .../topics.
type CreateTopicRequest struct {
	Name string `json:"name"`
}

// SendRequest is the body of POST .../messages.
type SendRequest struct {
	Text string `json:"text"`
}

// SendResponse carries the optimistic message appended for a send.
type SendResponse struct {
	Message model.Message `json:"message"`
}

// Activations handles GET /api/v1/activations
func (h *ConsoleHandler) Activations(w http.ResponseWriter, r *http.Request) {
	options, err := h.manager.Activations(r.Context())
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	if options == nil {
		options = []model.ActivationOption{}
	}
	writeJSON(w, http.StatusOK, options)
}

// Open handles GET /api/v1/console/{agent}/{activation}
// The topic query parameter is the URL topic the selection is synced against.
func (h *ConsoleHandler) Open(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	urlTopic := selection.ParseURL(r.URL.Query()).Topic
	_, view, err := h.manager.Open(r.Context(), identity, urlTopic)
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Refresh handles POST /api/v1/console/{agent}/{activation}/refresh
func (h *ConsoleHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.Refresh(r.Context())
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Select handles PUT /api/v1/console/{agent}/{activation}/selection
func (h *ConsoleHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req SelectTopicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateTopicID(req.Topic); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.SelectTopic(r.Context(), req.Topic)
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CreateTopic handles POST /api/v1/console/{agent}/{activation}/topics
func (h *ConsoleHandler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req CreateTopicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateTopicName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.CreateTopic(r.Context(), req.Name)
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// Send handles POST /api/v1/console/{agent}/{activation}/messages
func (h *ConsoleHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	msg, err := s.Send(r.Context(), req.Text)
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SendResponse{Message: msg})
}

// SendFile handles POST /api/v1/console/{agent}/{activation}/files
func (h *ConsoleHandler) SendFile(w http.ResponseWriter, r *http.Request) {
	var req console.FileUpload
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateFileUpload(req.FileName, req.ContentType, req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	msg, err := s.SendFile(r.Context(), req)
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SendResponse{Message: msg})
}

// LoadMore handles POST /api/v1/console/{agent}/{activation}/messages/more
func (h *ConsoleHandler) LoadMore(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.LoadMore(r.Context())
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteTopicMessages handles DELETE /api/v1/console/{agent}/{activation}/topics/{topic}/messages
func (h *ConsoleHandler) DeleteTopicMessages(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	if err := middleware.ValidateTopicID(topic); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.DeleteTopicMessages(r.Context(), topic)
	if err != nil {
		h.writeConsoleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// identity builds the console identity from the token and the route.
func (h *ConsoleHandler) identity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	identity := model.Identity{
		TenantID:       middleware.GetTenantID(r.Context()),
		User:           middleware.GetUserID(r.Context()),
		AgentName:      chi.URLParam(r, "agent"),
		ActivationName: chi.URLParam(r, "activation"),
	}
	if err := middleware.ValidateTenantID(identity.TenantID); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return identity, false
	}
	if err := middleware.ValidateName("agent", identity.AgentName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return identity, false
	}
	if err := middleware.ValidateName("activation", identity.ActivationName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return identity, false
	}
	return identity, true
}

func (h *ConsoleHandler) session(w http.ResponseWriter, r *http.Request) (*console.Session, bool) {
	identity, ok := h.identity(w, r)
	if !ok {
		return nil, false
	}
	s, err := h.manager.Acquire(r.Context(), identity)
	if err != nil {
		h.writeConsoleError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *ConsoleHandler) writeConsoleError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *messaging.APIError
	switch {
	case errors.Is(err, context.Canceled):
		h.logger.Debug("request cancelled", zap.String("path", r.URL.Path))
	case errors.Is(err, console.ErrDegraded):
		writeError(w, http.StatusServiceUnavailable, "live updates unavailable")
	case errors.Is(err, console.ErrUnknownActivation):
		writeError(w, http.StatusNotFound, "activation not found")
	case errors.Is(err, console.ErrUnknownTopic):
		writeError(w, http.StatusNotFound, "topic not found")
	case errors.Is(err, console.ErrInvalidFile), errors.Is(err, console.ErrInvalidTopicName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, console.ErrClosed):
		writeError(w, http.StatusConflict, "session closed, reopen the console")
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, apiErr.Error())
	case errors.Is(err, messaging.ErrMalformedPayload):
		writeError(w, http.StatusBadGateway, "malformed backend response")
	default:
		h.logger.Error("console request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
