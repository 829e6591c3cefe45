// Package topics holds the ordered topic list of one agent activation.
package topics

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/pkg/logger"
)

// ErrSuperseded is returned when a newer fetch replaced this one.
var ErrSuperseded = errors.New("topic fetch superseded")

// DefaultPageSize is used when a query does not set one.
const DefaultPageSize = 50

// Lister fetches topic pages from the messaging backend.
type Lister interface {
	ListTopics(ctx context.Context, q messaging.TopicsQuery) (*messaging.TopicsPage, error)
}

// Query selects one page of topics for an activation.
type Query struct {
	TenantID       string
	AgentName      string
	ActivationName string
	Page           int
	PageSize       int
}

// Result is a committed topic page.
type Result struct {
	Topics     []model.Topic
	TotalPages int
	HasMore    bool
}

// Store holds the topic list and guards it against stale writes.
type Store struct {
	lister Lister
	logger *logger.Logger

	mu                sync.Mutex
	topics            []model.Topic
	totalPages        int
	hasMore           bool
	loading           bool
	notConversational bool
	lastErr           error
	generation        uint64
	cancel            context.CancelFunc
}

// NewStore creates a topic store.
func NewStore(lister Lister, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		lister: lister,
		logger: log.Named("topics"),
		topics: []model.Topic{model.NewDefaultTopic()},
	}
}

// Fetch loads one page of topics. Any fetch still in flight is cancelled
// and its result discarded.
func (s *Store) Fetch(ctx context.Context, q Query) (Result, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.generation++
	gen := s.generation
	s.loading = true
	s.mu.Unlock()
	defer cancel()

	page, err := s.lister.ListTopics(ctx, messaging.TopicsQuery{
		TenantID:       q.TenantID,
		AgentName:      q.AgentName,
		ActivationName: q.ActivationName,
		Page:           q.Page,
		PageSize:       q.PageSize,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug("discarding superseded topic fetch",
			zap.String("agent", q.AgentName),
			zap.String("activation", q.ActivationName),
		)
		return Result{}, ErrSuperseded
	}
	s.loading = false
	s.cancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{}, ErrSuperseded
		}
		s.lastErr = err
		if messaging.IsNotConversational(err) {
			s.notConversational = true
			s.topics = []model.Topic{model.NewDefaultTopic()}
			s.totalPages = 0
			s.hasMore = false
		}
		return Result{}, err
	}

	s.lastErr = nil
	s.notConversational = false
	s.topics = withDefaultFirst(mapTopics(page.Topics))
	s.totalPages = totalPages(page.Pagination.Total, q.PageSize)
	s.hasMore = page.Pagination.HasMore

	return s.resultLocked(), nil
}

// AddTopic inserts a locally created topic right after the default topic.
// Adding an id that already exists is a no-op.
func (s *Store) AddTopic(topic model.Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.topics {
		if t.ID == topic.ID {
			return false
		}
	}
	if topic.Messages == nil {
		topic.Messages = []model.Message{}
	}
	if topic.AssociatedTasks == nil {
		topic.AssociatedTasks = []string{}
	}
	if topic.CreatedAt.IsZero() {
		topic.CreatedAt = time.Now().UTC()
	}
	topic.IsDefault = false

	idx := 0
	for i, t := range s.topics {
		if t.IsDefault {
			idx = i + 1
			break
		}
	}
	out := make([]model.Topic, 0, len(s.topics)+1)
	out = append(out, s.topics[:idx]...)
	out = append(out, topic)
	out = append(out, s.topics[idx:]...)
	s.topics = out
	return true
}

// Topics returns a copy of the current topic list.
func (s *Store) Topics() []model.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneTopics(s.topics)
}

// Result returns the current committed state.
func (s *Store) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultLocked()
}

// Loading reports whether a fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// NotConversational reports whether the last fetch found no conversational
// capability on the agent.
func (s *Store) NotConversational() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notConversational
}

// LastError returns the last fetch failure, nil after a success.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Reset drops all topics except the synthesized default and cancels any
// fetch in flight.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.topics = []model.Topic{model.NewDefaultTopic()}
	s.totalPages = 0
	s.hasMore = false
	s.notConversational = false
	s.lastErr = nil
}

// Close cancels any fetch in flight.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Store) cancelLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.loading = false
}

func (s *Store) resultLocked() Result {
	return Result{
		Topics:     model.CloneTopics(s.topics),
		TotalPages: s.totalPages,
		HasMore:    s.hasMore,
	}
}

func mapTopics(remote []messaging.RemoteTopic) []model.Topic {
	out := make([]model.Topic, 0, len(remote))
	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		if r.Scope == "" || seen[r.Scope] {
			continue
		}
		seen[r.Scope] = true

		topic := model.Topic{
			ID:              r.Scope,
			Name:            r.Scope,
			CreatedAt:       r.LastMessageAt,
			Status:          "active",
			Messages:        []model.Message{},
			AssociatedTasks: []string{},
			MessageCount:    r.MessageCount,
			LastMessageAt:   r.LastMessageAt,
		}
		if r.Scope == model.DefaultTopicID {
			topic.Name = model.DefaultTopicName
			topic.IsDefault = true
		}
		out = append(out, topic)
	}
	return out
}

// withDefaultFirst guarantees exactly one default topic at index zero.
func withDefaultFirst(topics []model.Topic) []model.Topic {
	def := model.NewDefaultTopic()
	out := make([]model.Topic, 0, len(topics)+1)
	for _, t := range topics {
		if t.ID == model.DefaultTopicID {
			def.MessageCount = t.MessageCount
			def.LastMessageAt = t.LastMessageAt
			def.CreatedAt = t.CreatedAt
			continue
		}
		t.IsDefault = false
		out = append(out, t)
	}
	return append([]model.Topic{def}, out...)
}

func totalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
