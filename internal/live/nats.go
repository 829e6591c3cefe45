package live

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/capitalize-ai/agent-console/internal/model"
)

// SubjectPrefix is the root of all live event subjects.
const SubjectPrefix = "console.events"

const (
	defaultNATSBuffer = 256
	natsHealthCheck   = 5 * time.Second
)

// ErrNATSDisconnected is returned when the NATS connection is not usable.
var ErrNATSDisconnected = errors.New("nats connection unavailable")

// Subject returns the subject carrying live events for key.
func Subject(key Key) string {
	return strings.Join([]string{
		SubjectPrefix,
		subjectToken(key.TenantID),
		subjectToken(key.AgentName),
		subjectToken(key.ActivationName),
	}, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

// NATSSource reads live events published on NATS subjects.
type NATSSource struct {
	conn   *nats.Conn
	buffer int
}

// NewNATSSource creates a NATS source on an established connection.
func NewNATSSource(conn *nats.Conn) *NATSSource {
	return &NATSSource{conn: conn, buffer: defaultNATSBuffer}
}

// Name implements Source.
func (s *NATSSource) Name() string { return "nats" }

// Open implements Source.
func (s *NATSSource) Open(ctx context.Context, key Key) (Stream, error) {
	if s.conn == nil || !s.conn.IsConnected() {
		return nil, ErrNATSDisconnected
	}
	ch := make(chan *nats.Msg, s.buffer)
	sub, err := s.conn.ChanSubscribe(Subject(key), ch)
	if err != nil {
		return nil, err
	}
	return &natsStream{conn: s.conn, sub: sub, ch: ch}, nil
}

type natsStream struct {
	conn *nats.Conn
	sub  *nats.Subscription
	ch   chan *nats.Msg
}

func (s *natsStream) Next(ctx context.Context) (model.LiveEvent, error) {
	ticker := time.NewTicker(natsHealthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return model.LiveEvent{}, ctx.Err()
		case <-ticker.C:
			if s.conn.IsClosed() || !s.sub.IsValid() {
				return model.LiveEvent{}, ErrNATSDisconnected
			}
		case msg := <-s.ch:
			ev, ok := decodeNATSEvent(msg.Data)
			if !ok {
				continue
			}
			return ev, nil
		}
	}
}

func (s *natsStream) Close() error {
	return s.sub.Unsubscribe()
}

func decodeNATSEvent(data []byte) (model.LiveEvent, bool) {
	var ev model.LiveEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.LiveEvent{}, false
	}
	if ev.Direction == "" {
		return model.LiveEvent{}, false
	}
	return ev, true
}
