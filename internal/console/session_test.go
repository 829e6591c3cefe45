package console

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agent-console/internal/live"
	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/internal/model"
)

type fakeBackend struct {
	mu          sync.Mutex
	topics      map[string][]messaging.RemoteTopic
	topicsErr   error
	history     map[string][]messaging.HistoryItem
	activations []model.ActivationOption
	sent        []model.SendMessageRequest
	files       []model.SendFileRequest
	deleted     []messaging.TopicRef
	sendErr     error

	sendStarted chan struct{}
	sendGate    chan struct{}
	listing     chan string
	listGate    map[string]chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		topics: map[string][]messaging.RemoteTopic{
			"AgentA-Inst1": {{Scope: model.DefaultTopicID, MessageCount: 3}, {Scope: "billing", MessageCount: 2}},
			"AgentA-Inst2": {{Scope: model.DefaultTopicID}, {Scope: "support"}},
		},
		history: map[string][]messaging.HistoryItem{},
		activations: []model.ActivationOption{
			{ID: "AgentA-Inst1", Name: "Inst1", AgentName: "AgentA", Status: model.ActivationActive},
			{ID: "AgentA-Inst2", Name: "Inst2", AgentName: "AgentA", Status: model.ActivationActive},
			{ID: "AgentA-Off", Name: "Off", AgentName: "AgentA", Status: model.ActivationInactive},
		},
		listGate: map[string]chan struct{}{},
	}
}

func (b *fakeBackend) ListTopics(ctx context.Context, q messaging.TopicsQuery) (*messaging.TopicsPage, error) {
	key := model.ActivationKey(q.AgentName, q.ActivationName)
	b.mu.Lock()
	gate := b.listGate[key]
	listing := b.listing
	b.mu.Unlock()

	if gate != nil {
		if listing != nil {
			listing <- key
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topicsErr != nil {
		return nil, b.topicsErr
	}
	list := b.topics[key]
	return &messaging.TopicsPage{
		Topics:     list,
		Pagination: messaging.Pagination{Total: len(list), PageSize: q.PageSize},
	}, nil
}

func (b *fakeBackend) History(ctx context.Context, q messaging.HistoryQuery) ([]messaging.HistoryItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.history[model.ActivationKey(q.AgentName, q.ActivationName)+"/"+q.Topic]
	start := (q.Page - 1) * q.PageSize
	if start >= len(all) {
		return []messaging.HistoryItem{}, nil
	}
	end := start + q.PageSize
	if end > len(all) {
		end = len(all)
	}
	return append([]messaging.HistoryItem(nil), all[start:end]...), nil
}

func (b *fakeBackend) Send(ctx context.Context, tenantID string, req model.SendMessageRequest) error {
	b.mu.Lock()
	started, gate := b.sendStarted, b.sendGate
	b.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, req)
	return b.sendErr
}

func (b *fakeBackend) SendFile(ctx context.Context, tenantID string, req model.SendFileRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = append(b.files, req)
	return b.sendErr
}

func (b *fakeBackend) DeleteTopicMessages(ctx context.Context, ref messaging.TopicRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, ref)
	return nil
}

func (b *fakeBackend) Activations(ctx context.Context) ([]model.ActivationOption, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ActivationOption(nil), b.activations...), nil
}

// setHistory stores n items for a topic, newest first.
func (b *fakeBackend) setHistory(activationKey, topic, prefix string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]messaging.HistoryItem, 0, n)
	for i := n; i >= 1; i-- {
		items = append(items, messaging.HistoryItem{
			ID:        fmt.Sprintf("%s%02d", prefix, i),
			Text:      fmt.Sprintf("message %d", i),
			Direction: model.DirectionOutgoing,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	b.history[activationKey+"/"+topic] = items
}

type fakeStream struct {
	events chan model.LiveEvent
	closed chan struct{}
	once   sync.Once
}

func (s *fakeStream) Next(ctx context.Context) (model.LiveEvent, error) {
	select {
	case <-ctx.Done():
		return model.LiveEvent{}, ctx.Err()
	case <-s.closed:
		return model.LiveEvent{}, errors.New("closed")
	case ev := <-s.events:
		return ev, nil
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeSource struct {
	mu      sync.Mutex
	fail    bool
	opened  chan *fakeStream
	lastKey live.Key
}

func newFakeSource() *fakeSource {
	return &fakeSource{opened: make(chan *fakeStream, 8)}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Open(ctx context.Context, key live.Key) (live.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKey = key
	if f.fail {
		return nil, errors.New("connection refused")
	}
	st := &fakeStream{events: make(chan model.LiveEvent, 8), closed: make(chan struct{})}
	f.opened <- st
	return st, nil
}

func (f *fakeSource) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

var identityInst1 = model.Identity{TenantID: "acme", User: "u1", AgentName: "AgentA", ActivationName: "Inst1"}

func testConfig() Config {
	return Config{
		TopicPageSize: 50,
		Live: live.Config{
			MaxReconnectAttempts: 2,
			InitialInterval:      time.Millisecond,
			MaxInterval:          2 * time.Millisecond,
		},
	}
}

func activation(b *fakeBackend, name string) model.ActivationOption {
	for _, a := range b.activations {
		if a.Name == name {
			return a
		}
	}
	panic("unknown activation " + name)
}

func newTestSession(t *testing.T, b *fakeBackend, source live.Source) *Session {
	t.Helper()
	s := NewSession(identityInst1, activation(b, "Inst1"), b, source, testConfig(), nil)
	t.Cleanup(s.Close)
	return s
}

func waitForUpdate(t *testing.T, ch <-chan Update, match func(Update) bool) Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if match(u) {
				return u
			}
		case <-timeout:
			t.Fatal("expected update not received")
			return Update{}
		}
	}
}

func TestOpenUnknownURLTopicFallsBackToDefault(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)

	v, err := s.Open(context.Background(), "unknown-id")
	require.NoError(t, err)

	require.Equal(t, model.DefaultTopicID, v.Selected)
	require.Equal(t, model.DefaultTopicID, v.URL.Topic)
	require.Contains(t, v.URL.Encode(), "topic=general-discussions")
	require.Len(t, v.Conversation.Topics, 2)
	require.Equal(t, "AgentA-Inst1", v.Conversation.ID)
}

func TestOpenLoadsSelectedTopicHistory(t *testing.T) {
	b := newFakeBackend()
	b.setHistory("AgentA-Inst1", "billing", "b", 12)
	s := newTestSession(t, b, nil)

	v, err := s.Open(context.Background(), "billing")
	require.NoError(t, err)
	require.Equal(t, "billing", v.Selected)

	msgs := v.SelectedMessages()
	require.Len(t, msgs, 10)
	require.Equal(t, "b03", msgs[0].ID)
	require.Equal(t, "b12", msgs[9].ID)
	require.True(t, v.Pages["billing"].HasMore)

	v, err = s.LoadMore(context.Background())
	require.NoError(t, err)
	msgs = v.SelectedMessages()
	require.Len(t, msgs, 12)
	require.Equal(t, "b01", msgs[0].ID)
	require.False(t, v.Pages["billing"].HasMore)
}

func TestSendIsOptimistic(t *testing.T) {
	b := newFakeBackend()
	b.sendStarted = make(chan struct{}, 1)
	b.sendGate = make(chan struct{})
	s := newTestSession(t, b, nil)

	_, err := s.Open(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, model.DefaultTopicID, s.View().Selected)

	done := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "Hi")
		done <- err
	}()
	<-b.sendStarted

	msgs := s.View().SelectedMessages()
	require.Len(t, msgs, 1)
	require.True(t, strings.HasPrefix(msgs[0].ID, "temp-"))
	require.Equal(t, "Hi", msgs[0].Content)
	require.Equal(t, model.RoleUser, msgs[0].Role)
	require.Equal(t, model.StatusDelivered, msgs[0].Status)

	close(b.sendGate)
	require.NoError(t, <-done)
	require.Len(t, b.sent, 1)
	require.Equal(t, model.DefaultTopicID, b.sent[0].Topic)
	require.Equal(t, "Inst1", b.sent[0].ActivationName)
}

func TestSendFailureRaisesToastAndKeepsMessage(t *testing.T) {
	b := newFakeBackend()
	b.sendErr = errors.New("boom")
	s := newTestSession(t, b, nil)
	updates, cancel := s.Subscribe()
	defer cancel()

	_, err := s.Open(context.Background(), "")
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "Hi")
	require.Error(t, err)

	u := waitForUpdate(t, updates, func(u Update) bool { return u.Kind == UpdateNotification })
	require.Equal(t, model.NotificationToast, u.Notification.Kind)
	require.Equal(t, model.LevelError, u.Notification.Level)
	require.Len(t, s.View().SelectedMessages(), 1)
}

func TestSendFileIsOptimistic(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)
	_, err := s.Open(context.Background(), "billing")
	require.NoError(t, err)

	content := base64.StdEncoding.EncodeToString([]byte("hello"))
	msg, err := s.SendFile(context.Background(), FileUpload{FileName: "a.txt", ContentType: "text/plain", Content: content})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(msg.ID, "temp-file-"))

	require.Len(t, b.files, 1)
	require.Equal(t, "File", b.files[0].Type)
	require.Equal(t, "a.txt", b.files[0].Text)
	require.Equal(t, int64(5), b.files[0].Data.FileSize)
	require.Equal(t, "billing", b.files[0].Topic)

	_, err = s.SendFile(context.Background(), FileUpload{FileName: "a.txt", Content: "%%%"})
	require.ErrorIs(t, err, ErrInvalidFile)
}

func TestSwitchActivationClearsCachesAndSelection(t *testing.T) {
	b := newFakeBackend()
	b.setHistory("AgentA-Inst1", "billing", "b", 3)
	s := newTestSession(t, b, nil)

	_, err := s.Open(context.Background(), "billing")
	require.NoError(t, err)
	require.Len(t, s.View().SelectedMessages(), 3)

	b.mu.Lock()
	b.listing = make(chan string, 1)
	gate := make(chan struct{})
	b.listGate["AgentA-Inst2"] = gate
	b.mu.Unlock()

	type result struct {
		view View
		err  error
	}
	done := make(chan result, 1)
	go func() {
		v, err := s.SwitchActivation(context.Background(), activation(b, "Inst2"), "")
		done <- result{v, err}
	}()
	require.Equal(t, "AgentA-Inst2", <-b.listing)

	mid := s.View()
	require.Empty(t, mid.Selected)
	require.Empty(t, mid.Pages)
	require.Empty(t, mid.Unread)
	require.Equal(t, "AgentA-Inst2", mid.Conversation.ID)

	close(gate)
	res := <-done
	require.NoError(t, res.err)
	v := res.view
	require.Equal(t, model.DefaultTopicID, v.Selected)
	require.Equal(t, "Inst2", v.Identity.ActivationName)
	require.NotContains(t, v.Pages, "billing")
	_, ok := v.Pages[model.DefaultTopicID]
	require.True(t, ok)
	for _, topic := range v.Conversation.Topics {
		require.NotEqual(t, "billing", topic.ID)
	}
}

func TestLiveMessagesUpdateUnread(t *testing.T) {
	b := newFakeBackend()
	source := newFakeSource()
	s := newTestSession(t, b, source)
	updates, cancel := s.Subscribe()
	defer cancel()

	_, err := s.Open(context.Background(), "")
	require.NoError(t, err)

	stream := <-source.opened
	require.Equal(t, live.Key{TenantID: "acme", AgentName: "AgentA", ActivationName: "Inst1"}, source.lastKey)

	stream.events <- model.LiveEvent{ID: "u1", Direction: model.DirectionIncoming, Scope: "billing", Text: "mine"}
	stream.events <- model.LiveEvent{ID: "e1", Direction: model.DirectionOutgoing, Scope: "billing", Text: "hello"}

	u := waitForUpdate(t, updates, func(u Update) bool {
		return u.Kind == UpdateNotification && u.Notification.Kind == model.NotificationMessage
	})
	require.Equal(t, "billing", u.Notification.Topic)

	v := s.View()
	require.Equal(t, 1, v.Unread["billing"])
	require.True(t, v.Live.Enabled)

	conv := v.Conversation
	billing, ok := conv.Topic("billing")
	require.True(t, ok)
	require.Len(t, billing.Messages, 1)
	require.Equal(t, 3, billing.MessageCount)

	v, err = s.SelectTopic(context.Background(), "billing")
	require.NoError(t, err)
	require.Zero(t, v.Unread["billing"])
}

func TestLiveDisabledForInactiveActivation(t *testing.T) {
	b := newFakeBackend()
	source := newFakeSource()
	identity := identityInst1
	identity.ActivationName = "Off"
	s := NewSession(identity, activation(b, "Off"), b, source, testConfig(), nil)
	defer s.Close()

	v, err := s.Open(context.Background(), "")
	require.NoError(t, err)
	require.False(t, v.Live.Enabled)
	require.Empty(t, source.opened)
}

func TestLiveDisabledWithoutUser(t *testing.T) {
	b := newFakeBackend()
	source := newFakeSource()
	identity := identityInst1
	identity.User = ""
	s := NewSession(identity, activation(b, "Inst1"), b, source, testConfig(), nil)
	defer s.Close()

	v, err := s.Open(context.Background(), "")
	require.NoError(t, err)
	require.False(t, v.Live.Enabled)
}

func TestLiveExhaustionDegradesSession(t *testing.T) {
	b := newFakeBackend()
	source := newFakeSource()
	source.setFail(true)
	s := newTestSession(t, b, source)
	updates, cancel := s.Subscribe()
	defer cancel()

	_, err := s.Open(context.Background(), "")
	require.NoError(t, err)

	toast := waitForUpdate(t, updates, func(u Update) bool { return u.Kind == UpdateNotification })
	require.Equal(t, "Failed to establish live connection", toast.Notification.Title)

	u := waitForUpdate(t, updates, func(u Update) bool { return u.Kind == UpdateUnavailable })
	require.True(t, u.View.Degraded)
	require.True(t, u.View.Live.Unavailable)

	_, err = s.Send(context.Background(), "Hi")
	require.ErrorIs(t, err, ErrDegraded)
	_, err = s.SelectTopic(context.Background(), "billing")
	require.ErrorIs(t, err, ErrDegraded)
}

func TestNotConversationalAgent(t *testing.T) {
	b := newFakeBackend()
	b.topicsErr = &messaging.APIError{Operation: "topics", StatusCode: 400, Message: "workflow type is not registered"}
	s := newTestSession(t, b, nil)
	updates, cancel := s.Subscribe()
	defer cancel()

	v, err := s.Open(context.Background(), "")
	require.NoError(t, err)
	require.True(t, v.NotConversational)
	require.Len(t, v.Conversation.Topics, 1)
	require.Equal(t, model.DefaultTopicID, v.Selected)

	for len(updates) > 0 {
		u := <-updates
		require.NotEqual(t, UpdateNotification, u.Kind)
	}
}

func TestTopicFetchFailureRaisesToast(t *testing.T) {
	b := newFakeBackend()
	b.topicsErr = &messaging.APIError{Operation: "topics", StatusCode: 500, Message: "internal"}
	s := newTestSession(t, b, nil)
	updates, cancel := s.Subscribe()
	defer cancel()

	v, err := s.Open(context.Background(), "")
	require.NoError(t, err)
	require.False(t, v.NotConversational)

	u := waitForUpdate(t, updates, func(u Update) bool { return u.Kind == UpdateNotification })
	require.Equal(t, "Failed to load topics", u.Notification.Title)
}

func TestDeleteTopicMessages(t *testing.T) {
	b := newFakeBackend()
	b.setHistory("AgentA-Inst1", "billing", "b", 4)
	s := newTestSession(t, b, nil)
	_, err := s.Open(context.Background(), "billing")
	require.NoError(t, err)

	v, err := s.DeleteTopicMessages(context.Background(), "billing")
	require.NoError(t, err)
	require.Empty(t, v.SelectedMessages())
	require.NotContains(t, v.Pages, "billing")
	require.Len(t, b.deleted, 1)
	require.Equal(t, "billing", b.deleted[0].Topic)

	_, err = s.DeleteTopicMessages(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownTopic)
}

func TestCreateTopicInsertsAfterDefault(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)
	_, err := s.Open(context.Background(), "")
	require.NoError(t, err)

	v, err := s.CreateTopic(context.Background(), "Q3 Planning!")
	require.NoError(t, err)
	require.Equal(t, "q3-planning", v.Selected)
	require.Equal(t, "q3-planning", v.URL.Topic)
	require.Equal(t, model.DefaultTopicID, v.Conversation.Topics[0].ID)
	require.Equal(t, "q3-planning", v.Conversation.Topics[1].ID)
	require.Equal(t, "Q3 Planning!", v.Conversation.Topics[1].Name)

	_, err = s.CreateTopic(context.Background(), "  !! ")
	require.ErrorIs(t, err, ErrInvalidTopicName)
}

func TestSelectUnknownTopic(t *testing.T) {
	b := newFakeBackend()
	s := newTestSession(t, b, nil)
	_, err := s.Open(context.Background(), "")
	require.NoError(t, err)

	_, err = s.SelectTopic(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnknownTopic)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := newFakeBackend()
	s := NewSession(identityInst1, activation(b, "Inst1"), b, nil, testConfig(), nil)
	updates, cancel := s.Subscribe()
	defer cancel()

	s.Close()
	_, ok := <-updates
	require.False(t, ok)

	_, err := s.Open(context.Background(), "")
	require.ErrorIs(t, err, ErrClosed)
}

func TestTopicID(t *testing.T) {
	require.Equal(t, "billing", TopicID("Billing"))
	require.Equal(t, "q3-planning", TopicID("  Q3 -- Planning! "))
	require.Empty(t, TopicID("???"))
}

func TestLoadMoreFetchesOlderPages(t *testing.T) {
	b := newFakeBackend()
	b.setHistory("AgentA-Inst1", "billing", "g", 15)
	s := newTestSession(t, b, nil)

	v, err := s.Open(context.Background(), "billing")
	require.NoError(t, err)
	msgs := v.SelectedMessages()
	require.Len(t, msgs, 10)
	require.Equal(t, "g06", msgs[0].ID)
	require.Equal(t, "g15", msgs[9].ID)
	require.True(t, v.Pages["billing"].HasMore)

	v, err = s.LoadMore(context.Background())
	require.NoError(t, err)
	msgs = v.SelectedMessages()
	require.Len(t, msgs, 15)
	require.Equal(t, "g01", msgs[0].ID)
	require.Equal(t, "g15", msgs[14].ID)
	require.False(t, v.Pages["billing"].HasMore)
	require.Equal(t, 2, v.Pages["billing"].Page)

	// Nothing older remains, so another call changes nothing.
	v, err = s.LoadMore(context.Background())
	require.NoError(t, err)
	require.Len(t, v.SelectedMessages(), 15)
}

func TestTopicDroppedAndRelistedReloadsHistory(t *testing.T) {
	b := newFakeBackend()
	b.setHistory("AgentA-Inst1", "billing", "b", 3)
	s := newTestSession(t, b, nil)

	v, err := s.Open(context.Background(), "billing")
	require.NoError(t, err)
	require.Len(t, v.SelectedMessages(), 3)

	b.mu.Lock()
	full := b.topics["AgentA-Inst1"]
	b.topics["AgentA-Inst1"] = []messaging.RemoteTopic{{Scope: model.DefaultTopicID, MessageCount: 3}}
	b.mu.Unlock()

	v, err = s.Refresh(context.Background())
	require.NoError(t, err)
	require.NotContains(t, v.Pages, "billing")
	_, ok := v.Conversation.Topic("billing")
	require.False(t, ok)

	b.mu.Lock()
	b.topics["AgentA-Inst1"] = full
	b.mu.Unlock()

	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	v, err = s.SelectTopic(context.Background(), "billing")
	require.NoError(t, err)
	msgs := v.SelectedMessages()
	require.Len(t, msgs, 3)
	require.Equal(t, "b01", msgs[0].ID)
}

func TestLiveEventForNewScopeRefreshesTopics(t *testing.T) {
	b := newFakeBackend()
	source := newFakeSource()
	s := newTestSession(t, b, source)
	updates, cancel := s.Subscribe()
	defer cancel()

	_, err := s.Open(context.Background(), "")
	require.NoError(t, err)
	stream := <-source.opened

	b.mu.Lock()
	b.topics["AgentA-Inst1"] = append(b.topics["AgentA-Inst1"], messaging.RemoteTopic{Scope: "escalations", MessageCount: 1})
	b.mu.Unlock()

	stream.events <- model.LiveEvent{ID: "e1", Direction: model.DirectionOutgoing, Scope: "escalations", Text: "urgent"}

	u := waitForUpdate(t, updates, func(u Update) bool {
		return u.Kind == UpdateNotification && u.Notification.Kind == model.NotificationMessage
	})
	require.Equal(t, "escalations", u.Notification.Topic)

	v := s.View()
	require.Equal(t, 1, v.Unread["escalations"])
	topic, ok := v.Conversation.Topic("escalations")
	require.True(t, ok)
	require.Len(t, topic.Messages, 1)
	require.Equal(t, "urgent", topic.Messages[0].Content)
	require.Equal(t, 2, topic.MessageCount)
	require.Len(t, v.Conversation.Topics, 3)
}

func TestLiveEventForUnlistedScopeAddsTopic(t *testing.T) {
	b := newFakeBackend()
	source := newFakeSource()
	s := newTestSession(t, b, source)
	updates, cancel := s.Subscribe()
	defer cancel()

	_, err := s.Open(context.Background(), "")
	require.NoError(t, err)
	stream := <-source.opened

	stream.events <- model.LiveEvent{ID: "e1", Direction: model.DirectionOutgoing, Scope: "handoff", Text: "picked up"}

	u := waitForUpdate(t, updates, func(u Update) bool {
		return u.Kind == UpdateNotification && u.Notification.Kind == model.NotificationMessage
	})
	require.Equal(t, "handoff", u.Notification.Topic)

	v := s.View()
	require.Equal(t, 1, v.Unread["handoff"])
	topic, ok := v.Conversation.Topic("handoff")
	require.True(t, ok)
	require.Len(t, topic.Messages, 1)
	require.Equal(t, model.DefaultTopicID, v.Selected)
}
