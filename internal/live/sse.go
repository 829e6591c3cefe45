package live

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/capitalize-ai/agent-console/internal/model"
)

const (
	// maxEventSize caps a single SSE event payload.
	maxEventSize = 1 << 20

	// maxLineSize caps one raw line: a full payload plus its field name.
	maxLineSize = maxEventSize + 64
)

// ErrEventTooLarge is returned when an event exceeds maxEventSize.
var ErrEventTooLarge = errors.New("live event exceeds maximum size")

// EventOpener opens the raw event stream of an activation.
type EventOpener interface {
	OpenEvents(ctx context.Context, tenantID, agentName, activationName string) (io.ReadCloser, error)
}

// SSESource reads live events from a text/event-stream endpoint.
type SSESource struct {
	opener EventOpener
}

// NewSSESource creates an SSE source backed by opener.
func NewSSESource(opener EventOpener) *SSESource {
	return &SSESource{opener: opener}
}

// Name implements Source.
func (s *SSESource) Name() string { return "sse" }

// Open implements Source.
func (s *SSESource) Open(ctx context.Context, key Key) (Stream, error) {
	body, err := s.opener.OpenEvents(ctx, key.TenantID, key.AgentName, key.ActivationName)
	if err != nil {
		return nil, err
	}
	return newSSEStream(body), nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, reader: bufio.NewReader(body)}
}

// Next returns the next "message" event. Other event names (connected,
// heartbeat) and payloads that are not live events are skipped.
func (s *sseStream) Next(ctx context.Context) (model.LiveEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.LiveEvent{}, err
		}

		name, data, err := s.readEvent()
		if err != nil {
			return model.LiveEvent{}, err
		}
		if name != "" && name != "message" {
			continue
		}
		if strings.TrimSpace(data) == "" {
			continue
		}

		var ev model.LiveEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		if ev.Direction == "" {
			continue
		}
		return ev, nil
	}
}

// readLine reads up to and including the next newline without buffering more
// than maxLineSize bytes.
func (s *sseStream) readLine() (string, error) {
	var buf []byte
	for {
		chunk, err := s.reader.ReadSlice('\n')
		if len(buf)+len(chunk) > maxLineSize {
			return "", ErrEventTooLarge
		}
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return string(buf), err
	}
}

func (s *sseStream) readEvent() (string, string, error) {
	var (
		name string
		data strings.Builder
		seen bool
	)
	for {
		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && seen && strings.TrimSpace(line) == "" {
				return name, data.String(), nil
			}
			if errors.Is(err, io.EOF) {
				return "", "", io.ErrUnexpectedEOF
			}
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !seen {
				continue
			}
			return name, data.String(), nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
			seen = true
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			if data.Len()+len(value) > maxEventSize {
				return "", "", ErrEventTooLarge
			}
			data.WriteString(value)
			seen = true
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
