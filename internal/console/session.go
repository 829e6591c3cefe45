// Package console drives the conversation core for one user: it owns the
// topic store, page cache, live listener, reconciler and selection of the
// activation the user is looking at, and publishes the merged view.
package console

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/live"
	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/internal/pages"
	"github.com/capitalize-ai/agent-console/internal/reconciler"
	"github.com/capitalize-ai/agent-console/internal/selection"
	"github.com/capitalize-ai/agent-console/internal/topics"
	"github.com/capitalize-ai/agent-console/pkg/logger"
	"github.com/capitalize-ai/agent-console/pkg/metrics"
)

var (
	// ErrDegraded is returned once live updates are unavailable for the session.
	ErrDegraded = errors.New("live updates unavailable")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrUnknownTopic is returned when a topic id is not in the topic list.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrUnknownActivation is returned when no activation matches the request.
	ErrUnknownActivation = errors.New("unknown activation")

	// ErrInvalidFile is returned when an upload is not valid base64.
	ErrInvalidFile = errors.New("invalid file content")

	// ErrInvalidTopicName is returned when a topic name yields no id.
	ErrInvalidTopicName = errors.New("invalid topic name")
)

const subscriberBuffer = 32

// Backend is the subset of the messaging client a session needs.
type Backend interface {
	topics.Lister
	pages.Fetcher
	Send(ctx context.Context, tenantID string, req model.SendMessageRequest) error
	SendFile(ctx context.Context, tenantID string, req model.SendFileRequest) error
	DeleteTopicMessages(ctx context.Context, ref messaging.TopicRef) error
}

// Config tunes sessions.
type Config struct {
	TopicPageSize int
	Live          live.Config
	IdleTimeout   time.Duration
}

// FileUpload is a base64 encoded file sent into a topic.
type FileUpload struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Session is the console state of one user on one activation at a time.
type Session struct {
	id      string
	backend Backend
	source  live.Source
	cfg     Config
	logger  *logger.Logger

	topics *topics.Store
	pages  *pages.Cache
	rec    *reconciler.Reconciler
	sel    *selection.Synchronizer

	// opMu serializes Open and SwitchActivation.
	opMu sync.Mutex

	mu         sync.RWMutex
	identity   model.Identity
	activation model.ActivationOption
	urlTopic   string
	listener   *live.Listener
	degraded   bool
	closed     bool
	lastUsed   time.Time
	subs       map[uint64]chan Update
	nextSub    uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates a session bound to identity. source may be nil, in
// which case no live updates are received.
func NewSession(identity model.Identity, activation model.ActivationOption, backend Backend, source live.Source, cfg Config, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:         uuid.NewString(),
		backend:    backend,
		source:     source,
		cfg:        cfg,
		identity:   identity,
		activation: activation,
		lastUsed:   time.Now(),
		subs:       make(map[uint64]chan Update),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.logger = log.WithSession(identity.TenantID, identity.User, identity.Key()).With(zap.String("session_id", s.id))
	s.topics = topics.NewStore(backend, s.logger)
	s.pages = pages.NewCache(backend, pageTarget(identity), s.logger)
	s.rec = reconciler.New(reconciler.NotifierFunc(s.notify), s.logger)
	s.sel = selection.New(identity.AgentName, identity.ActivationName)
	metrics.SessionsActive.Inc()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Identity returns the current identity.
func (s *Session) Identity() model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Degraded reports whether live updates became unavailable.
func (s *Session) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Open loads topics, resolves the selection against urlTopic, loads the
// selected topic's first page and starts live updates.
func (s *Session) Open(ctx context.Context, urlTopic string) (View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.openLocked(ctx, urlTopic)
}

// SwitchActivation moves the session to another activation. A changed
// agent+activation key drops every per-topic cache and the selection
// before the new topic list is loaded.
func (s *Session) SwitchActivation(ctx context.Context, activation model.ActivationOption, urlTopic string) (View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.sel.SwitchActivation(activation.AgentName, activation.Name) {
		s.mu.Lock()
		s.activation = activation
		s.mu.Unlock()
		return s.openLocked(ctx, urlTopic)
	}

	s.stopListener()

	s.mu.Lock()
	prev := s.identity.Key()
	s.identity.AgentName = activation.AgentName
	s.identity.ActivationName = activation.Name
	s.activation = activation
	s.urlTopic = ""
	s.degraded = false
	identity := s.identity
	s.mu.Unlock()

	s.pages.Reset(pageTarget(identity))
	s.rec.Reset()
	s.topics.Reset()

	s.logger.Info("activation switched",
		zap.String("from", prev),
		zap.String("to", identity.Key()),
	)
	return s.openLocked(ctx, urlTopic)
}

func (s *Session) openLocked(ctx context.Context, urlTopic string) (View, error) {
	if err := s.usable(); err != nil {
		return View{}, err
	}
	s.touch()

	_ = s.refreshTopics(ctx)
	s.syncSelection(ctx, urlTopic)
	s.startLive()

	v := s.View()
	s.publish(Update{Kind: UpdateView, View: &v})
	return v, nil
}

// Refresh reloads topic metadata, keeping loaded messages.
func (s *Session) Refresh(ctx context.Context) (View, error) {
	if err := s.usable(); err != nil {
		return View{}, err
	}
	s.touch()

	if err := s.refreshTopics(ctx); err != nil && !errors.Is(err, topics.ErrSuperseded) && !messaging.IsNotConversational(err) {
		return s.View(), err
	}
	s.syncSelection(ctx, s.currentURLTopic())
	return s.publishView(), nil
}

// SelectTopic selects a known topic, clears its unread counter and loads its
// first page if it was never loaded.
func (s *Session) SelectTopic(ctx context.Context, id string) (View, error) {
	if err := s.usable(); err != nil {
		return View{}, err
	}
	s.touch()

	if !s.sel.Select(s.topics.Topics(), id) {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownTopic, id)
	}
	s.rec.SelectTopic(id)
	s.setURLTopic(id)
	s.loadSelected(ctx, id)
	return s.publishView(), nil
}

// LoadMore fetches the next older page of the selected topic.
func (s *Session) LoadMore(ctx context.Context) (View, error) {
	if err := s.usable(); err != nil {
		return View{}, err
	}
	s.touch()

	topic := s.sel.Selected()
	if topic == "" {
		return View{}, ErrUnknownTopic
	}

	_, fresh, err := s.pages.LoadMore(ctx, topic)
	if err != nil {
		if errors.Is(err, pages.ErrSuperseded) {
			return s.View(), nil
		}
		s.fail("Failed to load older messages", err)
		return s.publishView(), err
	}
	s.rec.MergeHistory(topic, fresh)
	return s.publishView(), nil
}

// Send appends an optimistic message to the selected topic and posts it.
// The optimistic message stays in place when the send fails.
func (s *Session) Send(ctx context.Context, text string) (model.Message, error) {
	if err := s.usable(); err != nil {
		return model.Message{}, err
	}
	s.touch()

	identity := s.Identity()
	topic := s.selectedOrDefault()

	msg, _ := s.rec.SendOptimistic(topic, text)
	s.publishView()

	err := s.backend.Send(ctx, identity.TenantID, model.SendMessageRequest{
		AgentName:      identity.AgentName,
		ActivationName: identity.ActivationName,
		Text:           text,
		Topic:          topic,
	})
	if err != nil {
		s.fail("Failed to send message", err)
		return msg, fmt.Errorf("send message: %w", err)
	}
	metrics.MessagesSentTotal.WithLabelValues(identity.TenantID, "text").Inc()
	return msg, nil
}

// SendFile appends an optimistic file message to the selected topic and
// uploads the file.
func (s *Session) SendFile(ctx context.Context, up FileUpload) (model.Message, error) {
	if err := s.usable(); err != nil {
		return model.Message{}, err
	}
	s.touch()

	data, err := base64.StdEncoding.DecodeString(up.Content)
	if err != nil {
		return model.Message{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	identity := s.Identity()
	topic := s.selectedOrDefault()
	size := int64(len(data))

	msg, _ := s.rec.SendFileOptimistic(topic, model.Attachment{
		FileName:    up.FileName,
		ContentType: up.ContentType,
		FileSize:    size,
	})
	s.publishView()

	err = s.backend.SendFile(ctx, identity.TenantID, model.SendFileRequest{
		AgentName:      identity.AgentName,
		ActivationName: identity.ActivationName,
		Type:           "File",
		Text:           up.FileName,
		Topic:          topic,
		Data: model.FileData{
			Content:     up.Content,
			FileName:    up.FileName,
			ContentType: up.ContentType,
			FileSize:    size,
		},
	})
	if err != nil {
		s.fail("Failed to send file", err)
		return msg, fmt.Errorf("send file: %w", err)
	}
	metrics.MessagesSentTotal.WithLabelValues(identity.TenantID, "file").Inc()
	return msg, nil
}

// DeleteTopicMessages purges a topic's history on the backend and clears
// its local message state.
func (s *Session) DeleteTopicMessages(ctx context.Context, topic string) (View, error) {
	if err := s.usable(); err != nil {
		return View{}, err
	}
	s.touch()

	if !containsTopic(s.topics.Topics(), topic) {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	identity := s.Identity()
	err := s.backend.DeleteTopicMessages(ctx, messaging.TopicRef{
		TenantID:       identity.TenantID,
		AgentName:      identity.AgentName,
		ActivationName: identity.ActivationName,
		Topic:          topic,
	})
	if err != nil {
		s.fail("Failed to delete messages", err)
		return s.View(), fmt.Errorf("delete topic messages: %w", err)
	}

	s.rec.ClearTopicMessages(topic)
	s.pages.Clear(topic)
	s.toast(model.LevelInfo, "Messages deleted", "")
	return s.publishView(), nil
}

// CreateTopic adds a local topic after the default topic and selects it.
// Creating a topic whose id already exists selects the existing one.
func (s *Session) CreateTopic(ctx context.Context, name string) (View, error) {
	if err := s.usable(); err != nil {
		return View{}, err
	}
	s.touch()

	name = strings.TrimSpace(name)
	id := TopicID(name)
	if id == "" {
		return View{}, ErrInvalidTopicName
	}

	if s.topics.AddTopic(model.Topic{ID: id, Name: name, Status: "active"}) {
		s.rec.ApplyTopics(s.Identity(), s.topics.Topics())
		s.logger.Info("topic created", zap.String("topic", id))
	}
	return s.SelectTopic(ctx, id)
}

// View returns the current render-ready state.
func (s *Session) View() View {
	s.mu.RLock()
	identity := s.identity
	activation := s.activation
	urlTopic := s.urlTopic
	degraded := s.degraded
	listener := s.listener
	s.mu.RUnlock()

	conv, ok := s.rec.Conversation()
	if !ok {
		conv = model.Conversation{
			ID:       identity.Key(),
			TenantID: identity.TenantID,
			User:     identity.User,
			Agent:    identity.AgentName,
			Topics:   s.topics.Topics(),
			Status:   "active",
		}
	}

	states := s.pages.States()
	pageStatus := make(map[string]PageStatus, len(states))
	for topic, st := range states {
		pageStatus[topic] = PageStatus{
			IsLoading:     st.IsLoading,
			IsLoadingMore: st.IsLoadingMore,
			HasMore:       st.HasMore,
			Page:          st.Page,
		}
	}

	var ls LiveStatus
	if listener != nil {
		ls = liveStatus(true, listener.Status())
	}

	result := s.topics.Result()
	return View{
		SessionID:    s.id,
		Identity:     identity,
		Activation:   activation,
		Conversation: conv,
		Selected:     s.sel.Selected(),
		URL: selection.URLState{
			Topic:          urlTopic,
			AgentName:      identity.AgentName,
			ActivationName: identity.ActivationName,
		},
		Unread:            s.rec.Unread(),
		Pages:             pageStatus,
		TotalPages:        result.TotalPages,
		HasMoreTopics:     result.HasMore,
		LoadingTopics:     s.topics.Loading(),
		NotConversational: s.topics.NotConversational(),
		Live:              ls,
		Degraded:          degraded,
	}
}

// Subscribe registers for session updates. The returned function
// unsubscribes. Updates are dropped for subscribers that fall behind.
func (s *Session) Subscribe() (<-chan Update, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Update, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	metrics.StreamsActive.Inc()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
			metrics.StreamsActive.Dec()
		}
	}
}

// HasSubscribers reports whether any stream is attached.
func (s *Session) HasSubscribers() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs) > 0
}

// IdleSince returns how long the session has gone unused.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastUsed)
}

// Close stops live updates, cancels in-flight loads and closes every
// subscriber channel.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
		metrics.StreamsActive.Dec()
	}
	s.mu.Unlock()

	s.stopListener()
	s.topics.Close()
	s.pages.Reset(pageTarget(s.Identity()))
	s.cancel()
	metrics.SessionsActive.Dec()
	s.logger.Info("session closed")
}

func (s *Session) refreshTopics(ctx context.Context) error {
	identity := s.Identity()
	_, err := s.topics.Fetch(ctx, topics.Query{
		TenantID:       identity.TenantID,
		AgentName:      identity.AgentName,
		ActivationName: identity.ActivationName,
		PageSize:       s.cfg.TopicPageSize,
	})
	if errors.Is(err, topics.ErrSuperseded) {
		return err
	}

	list := s.topics.Topics()
	s.rec.ApplyTopics(identity, list)
	if dropped := s.pages.Retain(list); len(dropped) > 0 {
		s.logger.Debug("dropped history of removed topics", zap.Strings("topics", dropped))
	}

	switch {
	case err == nil:
	case messaging.IsNotConversational(err):
		s.logger.Info("agent has no conversational capability")
	default:
		s.fail("Failed to load topics", err)
	}
	return err
}

func (s *Session) syncSelection(ctx context.Context, urlTopic string) {
	d := s.sel.Sync(s.topics.Topics(), urlTopic)
	switch {
	case d.RewriteURL:
		s.setURLTopic(d.URLTopic)
	case urlTopic != "":
		s.setURLTopic(urlTopic)
	}
	if d.Selected == "" {
		return
	}
	s.rec.SelectTopic(d.Selected)
	s.loadSelected(ctx, d.Selected)
}

func (s *Session) loadSelected(ctx context.Context, topic string) {
	st, attempted, err := s.pages.LoadInitial(ctx, topic)
	if err != nil {
		if !errors.Is(err, pages.ErrSuperseded) {
			s.fail("Failed to load messages", err)
		}
		return
	}
	if attempted {
		s.rec.MergeHistory(topic, st.Messages)
	}
}

// startLive starts the listener when the activation is active and a user
// is known.
func (s *Session) startLive() {
	s.mu.Lock()
	if s.listener != nil || s.source == nil || s.closed {
		s.mu.Unlock()
		return
	}
	if s.activation.Status != model.ActivationActive || s.identity.User == "" {
		s.mu.Unlock()
		s.logger.Debug("live updates disabled",
			zap.String("activation_status", string(s.activation.Status)),
		)
		return
	}
	l := live.NewListener(s.source, live.Key{
		TenantID:       s.identity.TenantID,
		AgentName:      s.identity.AgentName,
		ActivationName: s.identity.ActivationName,
	}, s.cfg.Live, live.Callbacks{
		OnMessage:    s.onLiveMessage,
		OnConnect:    s.onLiveConnect,
		OnDisconnect: s.onLiveDisconnect,
	}, s.logger)
	s.listener = l
	s.mu.Unlock()

	l.Start(s.ctx)
	go s.watch(l)
}

func (s *Session) stopListener() {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	s.mu.Unlock()
	if l != nil {
		l.Stop()
	}
}

// watch marks the session degraded when l gives up reconnecting.
func (s *Session) watch(l *live.Listener) {
	<-l.Done()
	if !l.Status().MaxReconnectAttemptsReached {
		return
	}

	s.mu.Lock()
	current := s.listener == l && !s.closed
	if current {
		s.degraded = true
	}
	s.mu.Unlock()
	if !current {
		return
	}

	s.logger.Error("live updates unavailable", zap.Error(l.Status().LastError))
	v := s.View()
	s.publish(Update{Kind: UpdateUnavailable, View: &v})
}

func (s *Session) onLiveMessage(ev model.LiveEvent) {
	if ev.Direction == model.DirectionOutgoing && !s.rec.HasTopic(ev.Topic()) {
		s.adoptTopic(ev.Topic())
	}
	if s.rec.ApplyLive(ev) {
		s.publishView()
	}
}

// adoptTopic makes a scope first seen on the live stream part of the topic
// list. The list is refreshed from the backend; a scope the backend does not
// list yet is added locally.
func (s *Session) adoptTopic(id string) {
	if s.usable() != nil {
		return
	}
	s.logger.Info("live event for unknown topic, refreshing topics", zap.String("topic", id))

	if err := s.refreshTopics(s.ctx); err != nil && !messaging.IsNotConversational(err) {
		s.logger.Debug("topic refresh for live event failed", zap.Error(err))
	}
	if !s.rec.HasTopic(id) {
		s.topics.AddTopic(model.Topic{ID: id, Name: id, Status: "active"})
		s.rec.ApplyTopics(s.Identity(), s.topics.Topics())
	}
	s.syncSelection(s.ctx, s.currentURLTopic())
}

func (s *Session) onLiveConnect() {
	s.publishView()
}

func (s *Session) onLiveDisconnect(err error) {
	if errors.Is(err, live.ErrEstablish) {
		s.toast(model.LevelError, "Failed to establish live connection", err.Error())
	}
	s.publishView()
}

// fail raises an error toast unless err is a cancellation.
func (s *Session) fail(title string, err error) {
	if errors.Is(err, context.Canceled) {
		s.logger.Debug("request cancelled", zap.String("operation", title))
		return
	}
	s.logger.Warn(title, zap.Error(err))
	s.toast(model.LevelError, title, err.Error())
}

func (s *Session) toast(level model.NotificationLevel, title, body string) {
	n := model.Notification{
		Kind:      model.NotificationToast,
		Level:     level,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	metrics.RecordNotification(string(n.Kind), string(n.Level))
	s.notify(n)
}

func (s *Session) notify(n model.Notification) {
	s.publish(Update{Kind: UpdateNotification, Notification: &n})
}

func (s *Session) publishView() View {
	v := s.View()
	s.publish(Update{Kind: UpdateView, View: &v})
	return v
}

func (s *Session) publish(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.logger.Debug("dropping update for slow subscriber",
				zap.Uint64("subscriber", id),
				zap.String("kind", string(u.Kind)),
			)
		}
	}
}

func (s *Session) usable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.closed:
		return ErrClosed
	case s.degraded:
		return ErrDegraded
	}
	return nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) setURLTopic(topic string) {
	s.mu.Lock()
	s.urlTopic = topic
	s.mu.Unlock()
}

func (s *Session) currentURLTopic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.urlTopic
}

func (s *Session) selectedOrDefault() string {
	if topic := s.sel.Selected(); topic != "" {
		return topic
	}
	return model.DefaultTopicID
}

// TopicID derives a topic id from a display name: lower case, with runs of
// anything other than letters and digits collapsed to a single dash.
func TopicID(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func containsTopic(list []model.Topic, id string) bool {
	for _, t := range list {
		if t.ID == id {
			return true
		}
	}
	return false
}

func pageTarget(identity model.Identity) pages.Target {
	return pages.Target{
		TenantID:       identity.TenantID,
		AgentName:      identity.AgentName,
		ActivationName: identity.ActivationName,
	}
}
