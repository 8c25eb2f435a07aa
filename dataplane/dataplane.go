package dataplane

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Session is the external contract of a live data-plane connection.  The
// concrete driver is supplied by the embedding test framework; this package
// only manages its lifecycle.
type Session interface {
	// RefreshTopology instructs the session to re-resolve cluster topology
	// from its current view.  It does not reconnect.
	RefreshTopology(ctx context.Context) error

	// Shutdown releases the session and all its resources.
	Shutdown()
}

// Connector builds a new Session bound to the given node addresses.
type Connector func(ctx context.Context, addrs []string, port int, secure bool) (Session, error)

var (
	// ErrAlreadyConnected is returned when Connect is called while a session
	// is still active.  Callers must Disconnect first; a session is only ever
	// replaced, never silently rebound.
	ErrAlreadyConnected = errors.New("data-plane session is already connected")

	// ErrNoAddresses is returned when Connect is called with an empty address
	// set.  A session is either absent or bound to a non-empty server set.
	ErrNoAddresses = errors.New("cannot bind a data-plane session to an empty address set")
)

type ManagerOptions struct {
	Connector Connector
	Port      int
	Secure    bool
	Logger    *zap.Logger
}

// Manager owns the data-plane session for one orchestrator instance.  It is
// the only component that mutates the session, and callers must not invoke
// the mutating operations concurrently.
type Manager struct {
	connector Connector
	port      int
	secure    bool
	logger    *zap.Logger

	session Session
	addrs   []string
}

func NewManager(opts *ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		connector: opts.Connector,
		port:      opts.Port,
		secure:    opts.Secure,
		logger:    logger,
	}
}

// Connect builds a new session bound to addrs.  When no Connector was
// configured the call is a no-op; running without a live driver is legal in
// test mode.
func (m *Manager) Connect(ctx context.Context, addrs []string) error {
	if m.connector == nil {
		return nil
	}
	if m.session != nil {
		return ErrAlreadyConnected
	}
	if len(addrs) == 0 {
		return ErrNoAddresses
	}

	m.logger.Debug("connecting data-plane session", zap.Strings("addrs", addrs))

	session, err := m.connector(ctx, addrs, m.port, m.secure)
	if err != nil {
		return fmt.Errorf("connect data-plane session: %w", err)
	}

	m.session = session
	m.addrs = append([]string(nil), addrs...)
	return nil
}

// Disconnect shuts the session down.  Calling it with no active session is
// not an error.
func (m *Manager) Disconnect() {
	if m.session == nil {
		return
	}

	m.logger.Debug("shutting down data-plane session")
	m.session.Shutdown()
	m.session = nil
	m.addrs = nil
}

// Refresh makes an already-connected session re-resolve cluster topology.
// No-op when disconnected.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.session == nil {
		return nil
	}

	m.logger.Debug("refreshing data-plane topology")
	if err := m.session.RefreshTopology(ctx); err != nil {
		return fmt.Errorf("refresh data-plane topology: %w", err)
	}

	return nil
}

// Session returns the active session, or nil when disconnected.
func (m *Manager) Session() Session {
	return m.session
}

// IsConnected reports whether a session is currently bound.
func (m *Manager) IsConnected() bool {
	return m.session != nil
}
