// Package reconciler merges topic metadata, history pages, live events and
// optimistic sends into a single conversation view.
package reconciler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/pkg/logger"
	"github.com/capitalize-ai/agent-console/pkg/metrics"
)

const (
	tempPrefix     = "temp-"
	tempFilePrefix = "temp-file-"

	// notificationPreview bounds the message body carried in a notification.
	notificationPreview = 120
)

// Notifier receives user-facing notifications.
type Notifier interface {
	Notify(n model.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(model.Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n model.Notification) { f(n) }

// Reconciler is the only writer of the merged conversation.
type Reconciler struct {
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	conv     *model.Conversation
	identity model.Identity
	unread   map[string]int
	selected string
	lastTemp int64
}

// New creates an empty reconciler. notifier may be nil.
func New(notifier Notifier, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reconciler{
		notifier: notifier,
		logger:   log.Named("reconciler"),
		now:      func() time.Time { return time.Now().UTC() },
		unread:   make(map[string]int),
	}
}

// ApplyTopics installs a topic list. A missing conversation or a different
// identity replaces the conversation wholesale; otherwise topics are merged by
// id and each existing topic keeps its loaded messages.
func (r *Reconciler) ApplyTopics(identity model.Identity, topics []model.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conv == nil || r.identity != identity {
		r.conv = &model.Conversation{
			ID:       identity.Key(),
			TenantID: identity.TenantID,
			User:     identity.User,
			Agent:    identity.AgentName,
			Topics:   withMessages(model.CloneTopics(topics)),
			Status:   "active",
		}
		r.identity = identity
		r.unread = make(map[string]int)
		r.logger.Debug("conversation replaced",
			zap.String("conversation_id", r.conv.ID),
			zap.Int("topics", len(topics)),
		)
		return
	}

	merged := make([]model.Topic, 0, len(topics))
	listed := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		listed[t.ID] = struct{}{}
		next := t.Clone()
		if existing, ok := r.conv.Topic(t.ID); ok {
			next.Messages = existing.Messages
		}
		if next.Messages == nil {
			next.Messages = []model.Message{}
		}
		merged = append(merged, next)
	}
	r.conv.Topics = merged

	for id := range r.unread {
		if _, ok := listed[id]; !ok {
			delete(r.unread, id)
		}
	}
}

// HasTopic reports whether id is in the current conversation.
func (r *Reconciler) HasTopic(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv == nil {
		return false
	}
	_, ok := r.conv.Topic(id)
	return ok
}

// ApplyLive applies a live event and reports whether state changed.
// Only agent-originated events on a known topic are applied.
func (r *Reconciler) ApplyLive(ev model.LiveEvent) bool {
	if ev.Direction != model.DirectionOutgoing {
		return false
	}

	r.mu.Lock()
	if r.conv == nil {
		r.mu.Unlock()
		return false
	}
	topicID := ev.Topic()
	topic, ok := r.conv.Topic(topicID)
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("live event for unknown topic", zap.String("topic", topicID))
		return false
	}

	msg := ev.Message()
	if msg.ID != "" && containsID(topic.Messages, msg.ID) {
		r.mu.Unlock()
		return false
	}
	topic.Messages = append(topic.Messages, msg)
	topic.MessageCount++
	topic.LastMessageAt = msg.Timestamp

	var note *model.Notification
	if msg.EffectiveType() == model.MessageTypeChat && topicID != r.selected {
		r.unread[topicID]++
		note = &model.Notification{
			Kind:      model.NotificationMessage,
			Level:     model.LevelInfo,
			Topic:     topicID,
			Title:     fmt.Sprintf("New message in %s", topic.Name),
			Body:      preview(msg.Content),
			CreatedAt: r.now(),
		}
	}
	r.mu.Unlock()

	if note != nil {
		metrics.RecordNotification(string(note.Kind), string(note.Level))
		if r.notifier != nil {
			r.notifier.Notify(*note)
		}
	}
	return true
}

// SelectTopic marks id as the selected topic and clears its unread counter.
func (r *Reconciler) SelectTopic(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = id
	if id != "" {
		delete(r.unread, id)
	}
}

// SendOptimistic appends a user message to topicID ahead of the network send.
// The returned message is never replaced by the server copy.
func (r *Reconciler) SendOptimistic(topicID, text string) (model.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := model.Message{
		ID:          r.tempID(tempPrefix),
		Content:     text,
		Role:        model.RoleUser,
		Timestamp:   r.now(),
		Status:      model.StatusDelivered,
		MessageType: model.MessageTypeChat,
	}
	return msg, r.appendLocked(topicID, msg)
}

// SendFileOptimistic appends a user file message to topicID.
func (r *Reconciler) SendFileOptimistic(topicID string, file model.Attachment) (model.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := model.Message{
		ID:          r.tempID(tempFilePrefix),
		Content:     file.FileName,
		Role:        model.RoleUser,
		Timestamp:   r.now(),
		Status:      model.StatusDelivered,
		MessageType: model.MessageTypeChat,
		Attachments: []model.Attachment{file},
	}
	return msg, r.appendLocked(topicID, msg)
}

// MergeHistory prepends a chronological batch to a topic, dropping ids that
// are already present. It returns the messages that were added.
func (r *Reconciler) MergeHistory(topicID string, batch []model.Message) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conv == nil {
		return nil
	}
	topic, ok := r.conv.Topic(topicID)
	if !ok {
		return nil
	}

	seen := make(map[string]struct{}, len(topic.Messages)+len(batch))
	for _, m := range topic.Messages {
		seen[m.ID] = struct{}{}
	}
	added := make([]model.Message, 0, len(batch))
	for _, m := range batch {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		added = append(added, m.Clone())
	}
	if len(added) == 0 {
		return nil
	}

	merged := make([]model.Message, 0, len(added)+len(topic.Messages))
	merged = append(merged, added...)
	merged = append(merged, topic.Messages...)
	topic.Messages = merged
	return model.CloneMessages(added)
}

// ClearTopicMessages empties a topic after its history was purged.
func (r *Reconciler) ClearTopicMessages(topicID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conv == nil {
		return
	}
	if topic, ok := r.conv.Topic(topicID); ok {
		topic.Messages = []model.Message{}
		topic.MessageCount = 0
	}
	delete(r.unread, topicID)
}

// Reset drops the conversation, unread counters and selection.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conv = nil
	r.identity = model.Identity{}
	r.unread = make(map[string]int)
	r.selected = ""
}

// Conversation returns a copy of the merged conversation.
func (r *Reconciler) Conversation() (model.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv == nil {
		return model.Conversation{}, false
	}
	return r.conv.Clone(), true
}

// Messages returns a copy of one topic's merged message list.
func (r *Reconciler) Messages(topicID string) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv == nil {
		return nil
	}
	topic, ok := r.conv.Topic(topicID)
	if !ok {
		return nil
	}
	return model.CloneMessages(topic.Messages)
}

// Unread returns a copy of the unread counters. Topics at zero are omitted.
func (r *Reconciler) Unread() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.unread))
	for k, v := range r.unread {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// Selected returns the selected topic id.
func (r *Reconciler) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

func (r *Reconciler) appendLocked(topicID string, msg model.Message) bool {
	if r.conv == nil {
		return false
	}
	topic, ok := r.conv.Topic(topicID)
	if !ok {
		return false
	}
	topic.Messages = append(topic.Messages, msg)
	return true
}

// tempID returns prefix plus a unix millisecond stamp, bumped past the last
// one handed out so two sends in the same millisecond stay distinct.
func (r *Reconciler) tempID(prefix string) string {
	stamp := r.now().UnixMilli()
	if stamp <= r.lastTemp {
		stamp = r.lastTemp + 1
	}
	r.lastTemp = stamp
	return fmt.Sprintf("%s%d", prefix, stamp)
}

// IsTemporary reports whether id was synthesized for an optimistic send.
func IsTemporary(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

func withMessages(topics []model.Topic) []model.Topic {
	for i := range topics {
		if topics[i].Messages == nil {
			topics[i].Messages = []model.Message{}
		}
	}
	return topics
}

func containsID(messages []model.Message, id string) bool {
	for _, m := range messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= notificationPreview {
		return s
	}
	return string(runes[:notificationPreview]) + "..."
}
