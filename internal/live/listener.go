// Package live subscribes to the server-push event stream of an activation.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/model"
	"github.com/capitalize-ai/agent-console/pkg/logger"
	"github.com/capitalize-ai/agent-console/pkg/metrics"
)

var (
	// ErrEstablish wraps failures to open the live stream.
	ErrEstablish = errors.New("failed to establish live connection")

	// ErrUnavailable is reported once the reconnect ceiling is reached.
	ErrUnavailable = errors.New("live updates unavailable")
)

const (
	defaultMaxReconnectAttempts = 5
	defaultInitialInterval      = time.Second
	defaultMaxInterval          = 30 * time.Second
)

// Key identifies the activation a listener is bound to.
type Key struct {
	TenantID       string
	AgentName      string
	ActivationName string
}

// Stream is an open live connection.
type Stream interface {
	// Next blocks until the next event or a connection error.
	Next(ctx context.Context) (model.LiveEvent, error)
	Close() error
}

// Source opens live connections.
type Source interface {
	Name() string
	Open(ctx context.Context, key Key) (Stream, error)
}

// Callbacks receive listener events. Nil callbacks are skipped.
type Callbacks struct {
	OnMessage    func(model.LiveEvent)
	OnConnect    func()
	OnDisconnect func(error)
}

// Config bounds the reconnect loop.
type Config struct {
	MaxReconnectAttempts int
	InitialInterval      time.Duration
	MaxInterval          time.Duration
}

// Status is a snapshot of the listener state.
type Status struct {
	Connected                   bool  `json:"connected"`
	Attempts                    int   `json:"attempts"`
	MaxReconnectAttemptsReached bool  `json:"maxReconnectAttemptsReached"`
	LastError                   error `json:"-"`
}

// Listener keeps one live subscription open, reconnecting with backoff
// until MaxReconnectAttempts consecutive attempts have failed.
type Listener struct {
	source Source
	key    Key
	cfg    Config
	cb     Callbacks
	logger *logger.Logger

	mu      sync.Mutex
	status  Status
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewListener creates a listener. It does not connect until Start.
func NewListener(source Source, key Key, cfg Config, cb Callbacks, log *logger.Logger) *Listener {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Listener{
		source: source,
		key:    key,
		cfg:    cfg,
		cb:     cb,
		logger: log.Named("live").With(zap.String("source", source.Name())),
		done:   make(chan struct{}),
	}
}

// Start launches the subscription loop. Calling Start twice is a no-op.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	ctx, l.cancel = context.WithCancel(ctx)
	go l.run(ctx)
}

// Stop cancels the subscription and waits for the loop to exit.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	started := l.started
	l.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-l.done
}

// Done is closed when the loop exits.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Status returns the current listener status.
func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialInterval
	b.MaxInterval = l.cfg.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		stream, err := l.source.Open(ctx, l.key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			err = fmt.Errorf("%w: %w", ErrEstablish, err)
			l.setFailure(err, failures)
			l.logger.Warn("live connection attempt failed",
				zap.Int("attempt", failures),
				zap.Int("max_attempts", l.cfg.MaxReconnectAttempts),
				zap.Error(err),
			)
			l.disconnected(err)

			if failures >= l.cfg.MaxReconnectAttempts {
				l.setExhausted()
				l.logger.Error("live reconnect attempts exhausted", zap.Int("attempts", failures))
				return
			}
			if !l.wait(ctx, b.NextBackOff()) {
				return
			}
			metrics.LiveReconnectsTotal.WithLabelValues(l.source.Name()).Inc()
			continue
		}

		failures = 0
		b.Reset()
		l.setConnected(true)
		metrics.LiveConnectionsActive.Inc()
		if l.cb.OnConnect != nil {
			l.cb.OnConnect()
		}

		err = l.consume(ctx, stream)
		_ = stream.Close()
		l.setConnected(false)
		metrics.LiveConnectionsActive.Dec()

		if ctx.Err() != nil {
			return
		}
		l.setLastError(err)
		l.logger.Info("live connection lost", zap.Error(err))
		l.disconnected(err)

		if !l.wait(ctx, b.NextBackOff()) {
			return
		}
		metrics.LiveReconnectsTotal.WithLabelValues(l.source.Name()).Inc()
	}
}

func (l *Listener) consume(ctx context.Context, stream Stream) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		metrics.RecordLiveEvent(string(ev.Direction), string(ev.MessageType))
		if l.cb.OnMessage != nil {
			l.cb.OnMessage(ev)
		}
	}
}

func (l *Listener) disconnected(err error) {
	if l.cb.OnDisconnect != nil {
		l.cb.OnDisconnect(err)
	}
}

func (l *Listener) wait(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		d = l.cfg.MaxInterval
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Listener) setConnected(connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Connected = connected
	if connected {
		l.status.Attempts = 0
		l.status.LastError = nil
	}
}

func (l *Listener) setFailure(err error, attempts int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Connected = false
	l.status.Attempts = attempts
	l.status.LastError = err
}

func (l *Listener) setLastError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.LastError = err
}

func (l *Listener) setExhausted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.MaxReconnectAttemptsReached = true
	l.status.LastError = fmt.Errorf("%w: %w", ErrUnavailable, l.status.LastError)
}
