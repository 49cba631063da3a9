// ============================================================================
// jobwatch Connection Manager
// ============================================================================
//
// Package: internal/client/conn
// File: manager.go
// Purpose: Own the push channel lifecycle on the client side.
//
// States:
//
//   Disconnected ──► Connecting ──► Connected ──► Reconnecting ──► Connected
//        │                │             │               │
//        │ empty          │ 403         │ server        └──► Failed
//        ▼ assertion      ▼             ▼ close                (5 failed
//   Unauthorized     Unauthorized     Failed                   attempts)
//
// Rules:
//   - An empty assertion never reaches Connecting.
//   - At most MaxAttempts consecutive failed dials, the first one included.
//   - Retry n waits clamp(BaseDelay·2^(n−1), BaseDelay, MaxDelay).
//   - A successful handshake resets both counters.
//   - Failed and Unauthorized are terminal. Calling Run again is the
//     manual reload.
//   - Every transition is published to the mailbox as a Status.
//
// ============================================================================

package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

var log = slog.Default()

// State is the connectivity state shown to the user.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
	StateUnauthorized
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateUnauthorized:
		return "unauthorized"
	}
	return "unknown"
}

// Terminal reports whether no further automatic attempt follows s.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateUnauthorized
}

// Status is one connectivity transition.
type Status struct {
	State   State
	Attempt int           // consecutive failed attempts so far
	Delay   time.Duration // wait before the next attempt, Reconnecting only
	Err     error
}

// Credentials is the channel handshake metadata.
type Credentials struct {
	InitData string
	ChatID   string // optional
}

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int           // default 5
	BaseDelay   time.Duration // default 1s
	MaxDelay    time.Duration // default 5s
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
}

// Backoff returns the wait before retry n (n >= 1).
func Backoff(n int, base, ceiling time.Duration) time.Duration {
	d := base
	for i := 1; i < n && d < ceiling; i++ {
		d *= 2
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// Manager drives one channel at a time through Dialer.
type Manager struct {
	dialer  Dialer
	creds   Credentials
	cfg     Config
	mailbox *Mailbox
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
	dials int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSleep replaces the retry delay, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// WithMailbox makes the manager publish into mb instead of its own mailbox.
func WithMailbox(mb *Mailbox) Option {
	return func(m *Manager) { m.mailbox = mb }
}

// NewManager creates a manager in the Disconnected state.
func NewManager(d Dialer, creds Credentials, cfg Config, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		dialer: d,
		creds:  creds,
		cfg:    cfg,
		sleep:  sleepCtx,
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.mailbox == nil {
		m.mailbox = NewMailbox()
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mailbox returns the queue the manager publishes into.
func (m *Manager) Mailbox() *Mailbox {
	return m.mailbox
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Dials returns how many dial attempts were made across all runs.
func (m *Manager) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

func (m *Manager) transition(st Status) {
	m.mu.Lock()
	m.state = st.State
	m.mu.Unlock()

	log.Debug("Channel state", "state", st.State, "attempt", st.Attempt, "delay", st.Delay, "error", st.Err)
	m.mailbox.PutStatus(st)
}

// Run connects and keeps the channel alive until a terminal state or ctx
// is done. The returned error is types.ErrUnauthorized,
// types.ErrServerClosed, a wrapped types.ErrTransientConnection once the
// attempt bound is exceeded, or ctx.Err().
func (m *Manager) Run(ctx context.Context) error {
	if m.creds.InitData == "" {
		m.transition(Status{State: StateUnauthorized, Err: types.ErrUnauthorized})
		return types.ErrUnauthorized
	}

	failures := 0 // consecutive failed dials
	retry := 0    // retries since the last successful handshake
	m.transition(Status{State: StateConnecting})

	for {
		if retry > 0 {
			if err := m.sleep(ctx, Backoff(retry, m.cfg.BaseDelay, m.cfg.MaxDelay)); err != nil {
				return m.stop(ctx)
			}
		}

		m.mu.Lock()
		m.dials++
		m.mu.Unlock()

		ch, err := m.dialer.Dial(ctx, m.creds)
		if err != nil {
			if ctx.Err() != nil {
				return m.stop(ctx)
			}
			if errors.Is(err, types.ErrUnauthorized) {
				m.transition(Status{State: StateUnauthorized, Err: err})
				return types.ErrUnauthorized
			}
			failures++
			if failures >= m.cfg.MaxAttempts {
				m.transition(Status{State: StateFailed, Attempt: failures, Err: err})
				return fmt.Errorf("%w: gave up after %d attempts: %v", types.ErrTransientConnection, failures, err)
			}
			retry++
			m.transition(Status{
				State:   StateReconnecting,
				Attempt: failures,
				Delay:   Backoff(retry, m.cfg.BaseDelay, m.cfg.MaxDelay),
				Err:     err,
			})
			continue
		}

		failures, retry = 0, 0
		m.transition(Status{State: StateConnected})
		err = m.receive(ctx, ch)
		_ = ch.Close()

		switch {
		case ctx.Err() != nil:
			return m.stop(ctx)
		case errors.Is(err, types.ErrServerClosed):
			m.transition(Status{State: StateFailed, Err: err})
			return types.ErrServerClosed
		case errors.Is(err, types.ErrUnauthorized):
			m.transition(Status{State: StateUnauthorized, Err: err})
			return types.ErrUnauthorized
		}

		retry++
		m.transition(Status{
			State: StateReconnecting,
			Delay: Backoff(retry, m.cfg.BaseDelay, m.cfg.MaxDelay),
			Err:   err,
		})
	}
}

func (m *Manager) receive(ctx context.Context, ch Channel) error {
	for {
		snap, err := ch.Recv(ctx)
		if err != nil {
			return err
		}
		m.mailbox.PutSnapshot(snap)
	}
}

func (m *Manager) stop(ctx context.Context) error {
	m.transition(Status{State: StateDisconnected})
	return ctx.Err()
}
