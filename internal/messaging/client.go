// Package messaging is a client for the remote agent messaging backend.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/pkg/logger"
	"github.com/capitalize-ai/agent-console/pkg/metrics"
	"github.com/capitalize-ai/agent-console/pkg/tracing"
)

const maxErrorBody = 64 * 1024

// Config holds messaging backend client configuration.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the messaging backend over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *logger.Logger
}

// NewClient creates a messaging backend client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("messaging base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid messaging base URL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: httpClient,
		tracer:     tracing.Tracer("github.com/capitalize-ai/agent-console/internal/messaging"),
		logger:     log.Named("messaging"),
	}, nil
}

// ListTopics fetches one page of topic metadata.
func (c *Client) ListTopics(ctx context.Context, q TopicsQuery) (*TopicsPage, error) {
	query := url.Values{}
	query.Set("agentName", q.AgentName)
	query.Set("activationName", q.ActivationName)
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("pageSize", strconv.Itoa(q.PageSize))

	var page TopicsPage
	if err := c.do(ctx, "list_topics", http.MethodGet, tenantPath(q.TenantID, "messaging/topics"), query, nil, &page); err != nil {
		return nil, err
	}
	if page.Topics == nil {
		page.Topics = []RemoteTopic{}
	}
	return &page, nil
}

// History fetches one page of topic history, newest first.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]HistoryItem, error) {
	query := url.Values{}
	query.Set("agentName", q.AgentName)
	query.Set("activationName", q.ActivationName)
	query.Set("topic", q.Topic)
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("pageSize", strconv.Itoa(q.PageSize))
	query.Set("chatOnly", strconv.FormatBool(q.ChatOnly))
	sortOrder := q.SortOrder
	if sortOrder == "" {
		sortOrder = "desc"
	}
	query.Set("sortOrder", sortOrder)

	var raw json.RawMessage
	if err := c.do(ctx, "history", http.MethodGet, tenantPath(q.TenantID, "messaging/history"), query, nil, &raw); err != nil {
		return nil, err
	}
	if !isJSONArray(raw) {
		return nil, fmt.Errorf("history: %w: expected array", ErrMalformedPayload)
	}

	var items []HistoryItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("history: %w: %v", ErrMalformedPayload, err)
	}
	return items, nil
}

// Send posts a text message to an activation.
func (c *Client) Send(ctx context.Context, tenantID string, req model.SendMessageRequest) error {
	return c.do(ctx, "send", http.MethodPost, tenantPath(tenantID, "messaging/send"), nil, req, nil)
}

// SendFile posts a base64 encoded file to an activation.
func (c *Client) SendFile(ctx context.Context, tenantID string, req model.SendFileRequest) error {
	if req.Type == "" {
		req.Type = "File"
	}
	return c.do(ctx, "send_file", http.MethodPost, tenantPath(tenantID, "messaging/send"), nil, req, nil)
}

// DeleteTopicMessages purges the history of one topic.
func (c *Client) DeleteTopicMessages(ctx context.Context, ref TopicRef) error {
	query := url.Values{}
	query.Set("agentName", ref.AgentName)
	query.Set("activationName", ref.ActivationName)
	query.Set("topic", ref.Topic)
	return c.do(ctx, "delete_messages", http.MethodDelete, tenantPath(ref.TenantID, "messaging/messages"), query, nil, nil)
}

// Activations lists the agent activations visible to the caller.
func (c *Client) Activations(ctx context.Context) ([]model.ActivationOption, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "activations", http.MethodGet, "/api/agent-activations", nil, nil, &raw); err != nil {
		return nil, err
	}
	if !isJSONArray(raw) {
		return nil, fmt.Errorf("activations: %w: expected array", ErrMalformedPayload)
	}

	var out []model.ActivationOption
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("activations: %w: %v", ErrMalformedPayload, err)
	}
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = model.ActivationKey(out[i].AgentName, out[i].Name)
		}
	}
	return out, nil
}

// OpenEvents opens the live event stream of an activation.
// The caller owns the returned body.
func (c *Client) OpenEvents(ctx context.Context, tenantID, agentName, activationName string) (io.ReadCloser, error) {
	query := url.Values{}
	query.Set("agentName", agentName)
	query.Set("activationName", activationName)

	req, err := c.newRequest(ctx, http.MethodGet, tenantPath(tenantID, "messaging/events"), query, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The stream is long-lived; the shared client's timeout would cut it off.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError("events", resp)
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "messaging."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("messaging.path", path),
	))
	start := time.Now()
	defer func() {
		metrics.RecordBackendCall(op, err, time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := decodeAPIError(op, resp)
		c.logger.Debug("backend call failed",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.Error(apiErr),
		)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedPayload, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeAPIError(op string, resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(data, &errResp) == nil {
		msg = errResp.Error
		if msg == "" {
			msg = errResp.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}

	return &APIError{
		Operation:  op,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

func tenantPath(tenantID, suffix string) string {
	return "/api/tenants/" + url.PathEscape(tenantID) + "/" + suffix
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
