package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zidewell/zidwell-team-sub000/internal/ledger"
	"github.com/zidewell/zidwell-team-sub000/internal/notification"
	"github.com/zidewell/zidwell-team-sub000/internal/store"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/internal/withdrawal"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
	"github.com/zidewell/zidwell-team-sub000/pkg/id"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound           = errors.New("no open session for this user")
	ErrClosedWhileOpening = errors.New("session was closed while it was opening")
)

// Backend is every collaborator call a session makes.
type Backend interface {
	store.Backend
	notification.Backend
	withdrawal.Backend
	ledger.Renderer
}

// NewCron builds the process-wide scheduler that drives notification polls
// and the idle sweep. A panicking job is logged, not fatal.
func NewCron() *cron.Cron {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Log))
	return cron.New(cron.WithChain(cron.Recover(cronLogger)))
}

type Manager struct {
	cfg     config.Config
	backend Backend
	lookup  withdrawal.Lookup
	sched   notification.Scheduler
	now     func() time.Time

	opening singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*pendingOpen
	sweep    cron.EntryID
}

// pendingOpen is an Open still loading. Close marks it abandoned so the
// session it builds is discarded instead of published.
type pendingOpen struct {
	cancel    context.CancelFunc
	abandoned bool
}

func NewManager(cfg config.Config, b Backend, l withdrawal.Lookup, sched notification.Scheduler) *Manager {
	return &Manager{
		cfg:      cfg,
		backend:  b,
		lookup:   l,
		sched:    sched,
		now:      time.Now,
		sessions: make(map[string]*Session),
		pending:  make(map[string]*pendingOpen),
	}
}

// Open returns the user's session, creating and initializing it on first
// use. Opening again with the same identity is a no-op; a different identity
// for the same user id replaces the old session.
func (m *Manager) Open(ctx context.Context, identity wallet.SessionIdentity) (*Session, error) {
	if identity.IsZero() {
		return nil, errors.New("session identity is required")
	}

	v, err, _ := m.opening.Do(identity.UserID, func() (interface{}, error) {
		if existing, ok := m.lookupSession(identity.UserID); ok {
			if existing.Identity == identity {
				existing.touch(m.now())
				return existing, nil
			}
			m.Close(identity.UserID)
		}

		openCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		p := &pendingOpen{cancel: cancel}
		m.mu.Lock()
		m.pending[identity.UserID] = p
		m.mu.Unlock()

		sess := m.build(identity)
		fields := logger.Fields{logger.SessionKey: sess.ID, logger.UserIdKey: identity.UserID}

		// Whatever loaded is kept; failures show up as error flags on reads.
		if err := sess.Store.Initialize(openCtx, identity); err != nil {
			logger.Warn("Session opened with incomplete data", logger.Merge(fields, logger.WithError(err)))
		}
		if err := sess.Notifications.StartPolling(m.sched, m.cfg.NotificationPollInterval, m.cfg.FetchTimeout); err != nil {
			m.publish(identity.UserID, p, nil)
			sess.Close()
			return nil, err
		}

		if !m.publish(identity.UserID, p, sess) {
			logger.Info("Session closed before it finished opening", fields)
			sess.Close()
			return nil, ErrClosedWhileOpening
		}

		logger.Info("Session opened", fields)
		return sess, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return v.(*Session), nil
}

// publish ends p and, unless Close abandoned it meanwhile, stores sess as
// the user's session. A nil sess only clears the pending entry.
func (m *Manager) publish(userID string, p *pendingOpen, sess *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[userID] == p {
		delete(m.pending, userID)
	}
	if p.abandoned || sess == nil {
		return false
	}
	m.sessions[userID] = sess
	return true
}

func (m *Manager) build(identity wallet.SessionIdentity) *Session {
	st := store.New(m.backend, store.Options{
		TransactionFetchSize: m.cfg.TransactionFetchSize,
		NotificationLimit:    m.cfg.NotificationLimit,
		FetchTimeout:         m.cfg.FetchTimeout,
	})
	loc := m.cfg.Location()

	sess := &Session{
		ID:            id.Generate(),
		Identity:      identity,
		Store:         st,
		Notifications: notification.NewReconciler(st, m.backend),
		Ledger:        ledger.NewView(st, m.cfg.LedgerPageSize, loc),
		Exporter:      ledger.NewExporter(m.backend, loc),
		Withdrawal: withdrawal.NewOrchestrator(st, m.lookup, m.backend, withdrawal.Options{
			BankDebounce:       m.cfg.BankLookupDebounce,
			P2PDebounce:        m.cfg.P2PLookupDebounce,
			LookupTimeout:      m.cfg.LookupTimeout,
			NarrationMaxLength: m.cfg.NarrationMaxLength,
		}),
	}
	sess.touch(m.now())
	return sess
}

func (m *Manager) lookupSession(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	return sess, ok
}

// Get returns the open session for userID and marks it as used.
func (m *Manager) Get(userID string) (*Session, error) {
	sess, ok := m.lookupSession(userID)
	if !ok {
		return nil, ErrNotFound
	}
	sess.touch(m.now())
	return sess, nil
}

// Peek is Get without touching, for background callers that must not keep a
// session alive.
func (m *Manager) Peek(userID string) (*Session, bool) {
	return m.lookupSession(userID)
}

// Close tears down userID's session. An Open still in progress is abandoned
// and its session never becomes visible. It reports whether either existed.
func (m *Manager) Close(userID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	delete(m.sessions, userID)
	p, opening := m.pending[userID]
	if opening {
		p.abandoned = true
		p.cancel()
		delete(m.pending, userID)
	}
	m.mu.Unlock()

	if ok {
		sess.Close()
	}
	return ok || opening
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the configured timeout and
// returns how many it closed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.SessionIdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for uid, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			idle = append(idle, sess)
			delete(m.sessions, uid)
		}
	}
	m.mu.Unlock()

	for _, sess := range idle {
		logger.Info("Closing idle session", logger.Fields{logger.SessionKey: sess.ID, logger.UserIdKey: sess.Identity.UserID})
		sess.Close()
	}
	return len(idle)
}

// StartSweeper schedules Sweep every minute.
func (m *Manager) StartSweeper() error {
	entry, err := m.sched.AddFunc("@every 1m", func() { m.Sweep() })
	if err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	m.mu.Lock()
	m.sweep = entry
	m.mu.Unlock()
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	for uid, p := range m.pending {
		p.abandoned = true
		p.cancel()
		delete(m.pending, uid)
	}
	if m.sweep != 0 {
		m.sched.Remove(m.sweep)
		m.sweep = 0
	}
	m.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
	logger.Info("All sessions closed", logger.Fields{"count": len(all)})
}
