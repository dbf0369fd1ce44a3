package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inbucket/mailgate/pkg/account"
	"github.com/inbucket/mailgate/pkg/config"
	"github.com/inbucket/mailgate/pkg/extension"
	"github.com/inbucket/mailgate/pkg/extension/event"
	"github.com/inbucket/mailgate/pkg/mailerr"
	"github.com/inbucket/mailgate/pkg/metric"
	"github.com/inbucket/mailgate/pkg/remote"
	"github.com/rs/zerolog/log"
)

// Reasons a session was closed.
const (
	ReasonLogout   = "logout"
	ReasonExpired  = "expired"
	ReasonConnLost = "connection lost"
	ReasonShutdown = "shutdown"
)

var (
	counters       = metric.NewCounters("sessions")
	expOpenedTotal = counters.Total("Opened")
	expFailedTotal = counters.Total("Failed")
	expCurrent     = counters.Int("Current")
)

// Manager opens, tracks and closes sessions.  All access to a session's connection goes through
// WithSession.
type Manager struct {
	dialer      remote.Dialer
	store       Store
	extHost     *extension.Host
	idleTimeout time.Duration
	opTimeout   time.Duration
	now         func() time.Time
}

// NewManager creates a session manager dialing with dialer.
func NewManager(conf *config.Root, dialer remote.Dialer, store Store, extHost *extension.Host) *Manager {
	if extHost == nil {
		extHost = extension.NewHost()
	}
	return &Manager{
		dialer:      dialer,
		store:       store,
		extHost:     extHost,
		idleTimeout: conf.Session.IdleTimeout,
		opTimeout:   conf.IMAP.OpTimeout,
		now:         time.Now,
	}
}

// Open authenticates identity against the mail server, making exactly one connection attempt, and
// returns the new session id.
func (m *Manager) Open(ctx context.Context, identity account.Identity) (string, error) {
	if !identity.Valid() {
		return "", mailerr.Validation("email address and password are required")
	}
	m.reap()

	now := m.now()
	s := newSession(uuid.NewString(), identity, now)
	logger := log.With().Str("module", "session").Str("session", shortID(s.ID)).
		Str("account", identity.Address).Logger()

	s.setState(Connecting)
	conn, err := m.dialer.Dial(ctx, identity)
	if err != nil {
		s.setState(Disconnected)
		expFailedTotal.Add(1)
		logger.Info().Str("kind", mailerr.Kind(err)).Err(err).Msg("Connect failed")
		return "", err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Connected
	s.mu.Unlock()
	m.store.Put(s)

	expOpenedTotal.Add(1)
	expCurrent.Set(int64(m.store.Len()))
	logger.Info().Msg("Session opened")
	m.emit(&m.extHost.Events.AfterSessionOpened, s, "")
	return s.ID, nil
}

// Close logs out and forgets a session.  Unknown or already closed sessions are ignored.
func (m *Manager) Close(ctx context.Context, id string) {
	s := m.store.Delete(id)
	if s == nil {
		return
	}
	m.shutdown(ctx, s, ReasonLogout)
}

// Get returns the session with id if it is connected and has not expired.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.store.Get(id)
	if !ok || s.State() != Connected {
		return nil, fmt.Errorf("%w: unknown session", mailerr.ErrNotConnected)
	}
	if s.expired(m.now(), m.idleTimeout) {
		if m.store.Delete(id) != nil {
			m.shutdown(context.Background(), s, ReasonExpired)
		}
		return nil, fmt.Errorf("%w: session expired", mailerr.ErrNotConnected)
	}
	return s, nil
}

// WithSession runs op with exclusive use of the session's connection, bounded by the operation
// timeout.  A second caller waits for the first to finish, failing with ErrSessionBusy if its
// deadline passes first.  If the deadline passes while op is running, ErrTimeout is returned
// immediately, but the session stays reserved until op returns.  If ctx is already done, op never
// runs and ErrTimeout is returned.
func (m *Manager) WithSession(ctx context.Context, id string, op func(ctx context.Context, h *Handle) error) error {
	m.reap()
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	// A free slot must not win over a context that is already done.
	if err := ctx.Err(); err != nil {
		return mailerr.Wrap(mailerr.ErrTimeout, err)
	}
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return mailerr.Wrap(mailerr.ErrSessionBusy, ctx.Err())
	}

	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()
	if state != Connected {
		<-s.slot
		return fmt.Errorf("%w: session closed", mailerr.ErrNotConnected)
	}
	s.touch(m.now())

	h := &Handle{Conn: conn, Identity: s.Identity, session: s}
	done := make(chan error, 1)
	go func() {
		defer func() { <-s.slot }()
		err := op(account.NewContext(ctx, s.Identity), h)
		s.touch(m.now())
		if !conn.Alive() && m.store.Delete(s.ID) != nil {
			m.lockedShutdown(s, ReasonConnLost)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		log.Warn().Str("module", "session").Str("session", shortID(s.ID)).
			Msg("Operation exceeded time bound")
		return mailerr.Wrap(mailerr.ErrTimeout, ctx.Err())
	}
}

// CloseAll logs out every session, for use during shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.store.Range(func(s *Session) bool {
		if m.store.Delete(s.ID) != nil {
			m.shutdown(ctx, s, ReasonShutdown)
		}
		return true
	})
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	return m.store.Len()
}

// reap closes sessions idle for longer than the idle timeout.
func (m *Manager) reap() {
	now := m.now()
	m.store.Range(func(s *Session) bool {
		if s.expired(now, m.idleTimeout) && m.store.Delete(s.ID) != nil {
			m.shutdown(context.Background(), s, ReasonExpired)
		}
		return true
	})
}

// shutdown closes a session already removed from the store.  It waits for any running operation,
// until ctx is done, then finishes in the background.
func (m *Manager) shutdown(ctx context.Context, s *Session, reason string) {
	s.setState(Closing)
	select {
	case s.slot <- struct{}{}:
		m.lockedShutdown(s, reason)
		<-s.slot
	case <-ctx.Done():
		go func() {
			s.slot <- struct{}{}
			m.lockedShutdown(s, reason)
			<-s.slot
		}()
	}
}

// lockedShutdown closes the connection.  The session slot must be held.
func (m *Manager) lockedShutdown(s *Session, reason string) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	logger := log.With().Str("module", "session").Str("session", shortID(s.ID)).
		Str("reason", reason).Logger()
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, mailerr.ErrTransport) {
			logger.Debug().Err(err).Msg("Close failed")
		}
	}
	expCurrent.Set(int64(m.store.Len()))
	logger.Info().Msg("Session closed")
	m.emit(&m.extHost.Events.AfterSessionClosed, s, reason)
}

func (m *Manager) emit(broker *extension.AsyncEventBroker[event.Session], s *Session, reason string) {
	broker.Emit(&event.Session{
		ID:      s.ID,
		Account: s.Identity.Address,
		Reason:  reason,
		At:      m.now(),
	})
}

// shortID abbreviates a session id for logs; full ids are bearer tokens.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
