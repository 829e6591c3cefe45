// Package pages caches paginated topic history.
package pages

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/pkg/logger"
)

// PageSize is the fixed number of messages requested per page.
const PageSize = 10

// ErrSuperseded is returned when a load finished after its entry was reset.
var ErrSuperseded = errors.New("page load superseded")

// Fetcher loads topic history from the messaging backend.
type Fetcher interface {
	History(ctx context.Context, q messaging.HistoryQuery) ([]messaging.HistoryItem, error)
}

// Target is the activation whose topics are cached.
type Target struct {
	TenantID       string
	AgentName      string
	ActivationName string
}

// Cache keeps one TopicMessageState per topic.
type Cache struct {
	fetcher Fetcher
	logger  *logger.Logger

	mu      sync.Mutex
	target  Target
	states  map[string]*model.TopicMessageState
	cancels map[string]context.CancelFunc
}

// NewCache creates an empty page cache for target.
func NewCache(fetcher Fetcher, target Target, log *logger.Logger) *Cache {
	if log == nil {
		log = logger.NewNop()
	}
	return &Cache{
		fetcher: fetcher,
		logger:  log.Named("pages"),
		target:  target,
		states:  make(map[string]*model.TopicMessageState),
		cancels: make(map[string]context.CancelFunc),
	}
}

// LoadInitial fetches the first page of topic. It does nothing when an
// entry already exists, even an empty one. The returned bool reports
// whether a fetch was attempted.
func (c *Cache) LoadInitial(ctx context.Context, topic string) (model.TopicMessageState, bool, error) {
	c.mu.Lock()
	if st, ok := c.states[topic]; ok {
		out := st.Clone()
		c.mu.Unlock()
		return out, false, nil
	}
	st := &model.TopicMessageState{
		Messages:  []model.Message{},
		IsLoading: true,
		Page:      1,
	}
	c.states[topic] = st
	target := c.target
	ctx = c.trackLocked(ctx, topic)
	c.mu.Unlock()

	items, err := c.fetch(ctx, target, topic, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[topic] != st {
		return model.TopicMessageState{}, true, ErrSuperseded
	}
	c.untrackLocked(topic)
	st.IsLoading = false

	if err != nil {
		st.Messages = []model.Message{}
		st.HasMore = false
		if errors.Is(err, context.Canceled) {
			// An aborted first load does not count as an attempt.
			delete(c.states, topic)
			return model.TopicMessageState{}, true, ErrSuperseded
		}
		c.logger.Warn("initial page load failed", zap.String("topic", topic), zap.Error(err))
		return st.Clone(), true, err
	}

	st.Messages = uniqueByID(chronological(items))
	st.HasMore = len(items) == PageSize
	return st.Clone(), true, nil
}

// LoadMore fetches the next older page and prepends the messages that are
// not already present. It returns the prepended messages in chronological
// order. Failures keep the existing messages.
func (c *Cache) LoadMore(ctx context.Context, topic string) (model.TopicMessageState, []model.Message, error) {
	c.mu.Lock()
	st, ok := c.states[topic]
	if !ok || st.IsLoading || st.IsLoadingMore || !st.HasMore {
		var out model.TopicMessageState
		if ok {
			out = st.Clone()
		}
		c.mu.Unlock()
		return out, nil, nil
	}
	st.IsLoadingMore = true
	next := st.Page + 1
	target := c.target
	ctx = c.trackLocked(ctx, topic)
	c.mu.Unlock()

	items, err := c.fetch(ctx, target, topic, next)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[topic] != st {
		return model.TopicMessageState{}, nil, ErrSuperseded
	}
	c.untrackLocked(topic)
	st.IsLoadingMore = false

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return st.Clone(), nil, ErrSuperseded
		}
		c.logger.Warn("load more failed", zap.String("topic", topic), zap.Int("page", next), zap.Error(err))
		return st.Clone(), nil, err
	}

	fresh := withoutKnown(chronological(items), st.Messages)
	merged := make([]model.Message, 0, len(fresh)+len(st.Messages))
	merged = append(merged, fresh...)
	merged = append(merged, st.Messages...)
	st.Messages = merged
	st.Page = next
	st.HasMore = len(items) == PageSize

	return st.Clone(), model.CloneMessages(fresh), nil
}

// State returns a copy of the entry for topic.
func (c *Cache) State(topic string) (model.TopicMessageState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[topic]
	if !ok {
		return model.TopicMessageState{}, false
	}
	return st.Clone(), true
}

// States returns a copy of every entry.
func (c *Cache) States() map[string]model.TopicMessageState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]model.TopicMessageState, len(c.states))
	for k, v := range c.states {
		out[k] = v.Clone()
	}
	return out
}

// Clear drops the entry for topic and cancels its load.
func (c *Cache) Clear(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.cancels[topic]; ok {
		cancel()
		delete(c.cancels, topic)
	}
	delete(c.states, topic)
}

// Retain drops the entries of topics not in list and returns their ids.
func (c *Cache) Retain(list []model.Topic) []string {
	keep := make(map[string]struct{}, len(list))
	for _, t := range list {
		keep[t.ID] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var dropped []string
	for topic := range c.states {
		if _, ok := keep[topic]; ok {
			continue
		}
		if cancel, ok := c.cancels[topic]; ok {
			cancel()
			delete(c.cancels, topic)
		}
		delete(c.states, topic)
		dropped = append(dropped, topic)
	}
	return dropped
}

// Reset drops every entry, cancels all loads and retargets the cache.
func (c *Cache) Reset(target Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for topic, cancel := range c.cancels {
		cancel()
		delete(c.cancels, topic)
	}
	c.states = make(map[string]*model.TopicMessageState)
	c.target = target
}

func (c *Cache) fetch(ctx context.Context, target Target, topic string, page int) ([]messaging.HistoryItem, error) {
	return c.fetcher.History(ctx, messaging.HistoryQuery{
		TenantID:       target.TenantID,
		AgentName:      target.AgentName,
		ActivationName: target.ActivationName,
		Topic:          topic,
		Page:           page,
		PageSize:       PageSize,
		SortOrder:      "desc",
	})
}

func (c *Cache) trackLocked(ctx context.Context, topic string) context.Context {
	if cancel, ok := c.cancels[topic]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancels[topic] = cancel
	return ctx
}

func (c *Cache) untrackLocked(topic string) {
	if cancel, ok := c.cancels[topic]; ok {
		cancel()
		delete(c.cancels, topic)
	}
}

// chronological maps a newest-first page into oldest-first messages.
func chronological(items []messaging.HistoryItem) []model.Message {
	out := make([]model.Message, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item.Message()
	}
	return out
}

func uniqueByID(msgs []model.Message) []model.Message {
	seen := make(map[string]bool, len(msgs))
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	return out
}

func withoutKnown(batch, existing []model.Message) []model.Message {
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		known[m.ID] = true
	}
	out := make([]model.Message, 0, len(batch))
	for _, m := range batch {
		if known[m.ID] {
			continue
		}
		known[m.ID] = true
		out = append(out, m)
	}
	return out
}
