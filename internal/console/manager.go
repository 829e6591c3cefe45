package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/live"
	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/pkg/logger"
)

const defaultIdleTimeout = 30 * time.Minute

// ActivationLister lists the activations visible to the console.
type ActivationLister interface {
	Activations(ctx context.Context) ([]model.ActivationOption, error)
}

// Manager keeps one session per tenant and user and evicts idle ones.
type Manager struct {
	backend     Backend
	activations ActivationLister
	source      live.Source
	cfg         Config
	logger      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager. source may be nil to disable live
// updates.
func NewManager(backend Backend, activations ActivationLister, source live.Source, cfg Config, log *logger.Logger) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		backend:     backend,
		activations: activations,
		source:      source,
		cfg:         cfg,
		logger:      log.Named("console"),
		sessions:    make(map[string]*Session),
	}
}

// Activations lists selectable activations.
func (m *Manager) Activations(ctx context.Context) ([]model.ActivationOption, error) {
	return m.activations.Activations(ctx)
}

// Open returns the view of identity's activation, creating the session or
// switching it to that activation as needed. A degraded session is
// replaced by a fresh one.
func (m *Manager) Open(ctx context.Context, identity model.Identity, urlTopic string) (*Session, View, error) {
	key := sessionKey(identity)

	m.mu.Lock()
	s := m.sessions[key]
	if s != nil && s.Degraded() {
		delete(m.sessions, key)
		m.mu.Unlock()
		s.Close()
		s = nil
		m.logger.Info("replacing degraded session", zap.String("session", key))
	} else {
		m.mu.Unlock()
	}

	activation, err := m.resolve(ctx, identity.AgentName, identity.ActivationName)
	if err != nil {
		return nil, View{}, err
	}

	if s == nil {
		var created bool
		if s, created = m.create(identity, activation); created {
			v, err := s.Open(ctx, urlTopic)
			return s, v, err
		}
	}
	v, err := s.SwitchActivation(ctx, activation, urlTopic)
	return s, v, err
}

// Acquire returns the session of identity bound to identity's activation,
// opening it when it does not exist or points at another activation.
func (m *Manager) Acquire(ctx context.Context, identity model.Identity) (*Session, error) {
	m.mu.Lock()
	s := m.sessions[sessionKey(identity)]
	m.mu.Unlock()

	if s != nil && s.Identity().Key() == identity.Key() {
		return s, nil
	}
	s, _, err := m.Open(ctx, identity, "")
	return s, err
}

// Get returns the session of identity, if any.
func (m *Manager) Get(identity model.Identity) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(identity)]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run evicts idle sessions until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.IdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.EvictIdle(now); n > 0 {
				m.logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// EvictIdle closes sessions without subscribers that have been idle longer
// than the idle timeout. It returns the number of closed sessions.
func (m *Manager) EvictIdle(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for key, s := range m.sessions {
		if s.HasSubscribers() || s.IdleSince(now) < m.cfg.IdleTimeout {
			continue
		}
		idle = append(idle, s)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// create registers a new session unless a concurrent Open already did.
func (m *Manager) create(identity model.Identity, activation model.ActivationOption) (*Session, bool) {
	key := sessionKey(identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[key]; ok {
		return existing, false
	}
	s := NewSession(identity, activation, m.backend, m.source, m.cfg, m.logger)
	m.sessions[key] = s
	m.logger.Info("session created",
		zap.String("session_id", s.ID()),
		zap.String("tenant_id", identity.TenantID),
		zap.String("activation", identity.Key()),
	)
	return s, true
}

func (m *Manager) resolve(ctx context.Context, agentName, activationName string) (model.ActivationOption, error) {
	options, err := m.activations.Activations(ctx)
	if err != nil {
		return model.ActivationOption{}, fmt.Errorf("list activations: %w", err)
	}
	for _, opt := range options {
		if opt.AgentName == agentName && opt.Name == activationName {
			return opt, nil
		}
	}
	return model.ActivationOption{}, fmt.Errorf("%w: %s", ErrUnknownActivation, model.ActivationKey(agentName, activationName))
}

func sessionKey(identity model.Identity) string {
	return identity.TenantID + "/" + identity.User
}
