// Package store holds the per-session financial state: balance, transactions,
// notifications and the user's profile. Reads return the cached snapshot
// immediately; all network work happens in refreshes.
package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zidewell/zidwell-team-sub000/internal/backend"
	"github.com/zidewell/zidwell-team-sub000/internal/user"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSession  = errors.New("store has no active session")
	ErrSuperseded = errors.New("session changed while the request was in flight")
)

type Backend interface {
	FetchBalance(ctx context.Context, userID string) (wallet.Balance, error)
	FetchTransactions(ctx context.Context, q backend.TransactionQuery) (wallet.TransactionPage, error)
	FetchNotifications(ctx context.Context, userID string, limit int) ([]wallet.Notification, error)
	FetchProfile(ctx context.Context, userID string) (user.Profile, error)
}

// NotificationMerger folds a server notification list into the local one.
// fetchSeq identifies the fetch that produced server; it was issued before
// the request went out.
type NotificationMerger interface {
	Merge(local, server []wallet.Notification, fetchSeq uint64) []wallet.Notification
}

type Options struct {
	TransactionFetchSize int
	NotificationLimit    int
	FetchTimeout         time.Duration
}

type Store struct {
	backend Backend
	opts    Options
	now     func() time.Time

	// mu guards identity, epoch, ctx and merger. Any write into a resource
	// happens under mu.RLock after an epoch check, so Teardown (mu.Lock)
	// can't interleave with it.
	mu       sync.RWMutex
	identity wallet.SessionIdentity
	epoch    uint64
	ctx      context.Context
	cancel   context.CancelFunc
	merger   NotificationMerger

	notificationSeq atomic.Uint64

	balance       resource[wallet.Balance]
	transactions  resource[wallet.TransactionPage]
	notifications resource[[]wallet.Notification]
	profile       resource[user.Profile]
}

func New(b Backend, opts Options) *Store {
	if opts.TransactionFetchSize <= 0 {
		opts.TransactionFetchSize = 200
	}
	if opts.NotificationLimit <= 0 {
		opts.NotificationLimit = 50
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 20 * time.Second
	}
	s := &Store{
		backend:       b,
		opts:          opts,
		now:           time.Now,
		balance:       resource[wallet.Balance]{name: "balance"},
		transactions:  resource[wallet.TransactionPage]{name: "transactions"},
		notifications: resource[[]wallet.Notification]{name: "notifications"},
		profile:       resource[user.Profile]{name: "profile"},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Store) SetNotificationMerger(m NotificationMerger) {
	s.mu.Lock()
	s.merger = m
	s.mu.Unlock()
}

// Initialize binds the store to identity and loads every resource in
// parallel. Calling it again with the same identity does nothing; a
// different identity tears the old session down first.
func (s *Store) Initialize(ctx context.Context, identity wallet.SessionIdentity) error {
	if identity.IsZero() {
		return errors.New("session identity is required")
	}

	s.mu.Lock()
	if s.identity == identity {
		s.mu.Unlock()
		return nil
	}
	if !s.identity.IsZero() {
		s.teardownLocked()
	}
	s.cancel()
	s.identity = identity
	s.epoch++
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	logger.Info("Initializing financial state", logger.Fields{logger.UserIdKey: identity.UserID})

	var g errgroup.Group
	g.Go(func() error { return s.RefreshBalance(ctx) })
	g.Go(func() error { return s.RefreshTransactions(ctx) })
	g.Go(func() error { return s.RefreshNotifications(ctx) })
	g.Go(func() error { return s.RefreshProfile(ctx) })
	return g.Wait()
}

// Teardown drops every cached value and the identity. Responses still in
// flight for the old session are discarded when they land.
func (s *Store) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *Store) teardownLocked() {
	logger.Info("Tearing down financial state", logger.Fields{logger.UserIdKey: s.identity.UserID})
	s.cancel()
	s.epoch++
	s.identity = wallet.SessionIdentity{}
	s.balance.reset()
	s.transactions.reset()
	s.notifications.reset()
	s.profile.reset()
}

func (s *Store) Identity() (wallet.SessionIdentity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, !s.identity.IsZero()
}

func (s *Store) Balance() Snapshot[wallet.Balance] {
	if s.balance.needsRefetch() {
		s.background(s.RefreshBalance)
	}
	return s.balance.get()
}

func (s *Store) Transactions() Snapshot[wallet.TransactionPage] {
	if s.transactions.needsRefetch() {
		s.background(s.RefreshTransactions)
	}
	snap := s.transactions.get()
	snap.Value.Transactions = append([]wallet.Transaction(nil), snap.Value.Transactions...)
	return snap
}

func (s *Store) Notifications() Snapshot[[]wallet.Notification] {
	if s.notifications.needsRefetch() {
		s.background(s.RefreshNotifications)
	}
	snap := s.notifications.get()
	snap.Value = wallet.CloneNotifications(snap.Value)
	return snap
}

func (s *Store) Profile() Snapshot[user.Profile] {
	return s.profile.get()
}

// InvalidateBalance marks the balance stale and refetches it right away.
func (s *Store) InvalidateBalance() {
	s.balance.invalidate()
	s.background(s.RefreshBalance)
}

func (s *Store) InvalidateTransactions() {
	s.transactions.invalidate()
	s.background(s.RefreshTransactions)
}

func (s *Store) InvalidateNotifications() {
	s.notifications.invalidate()
	s.background(s.RefreshNotifications)
}

func (s *Store) RefreshBalance(ctx context.Context) error {
	return refresh(ctx, s, &s.balance, func(ctx context.Context, id wallet.SessionIdentity) (func(wallet.Balance) wallet.Balance, error) {
		bal, err := s.backend.FetchBalance(ctx, id.UserID)
		if err != nil {
			return nil, err
		}
		return func(wallet.Balance) wallet.Balance { return bal }, nil
	})
}

func (s *Store) RefreshTransactions(ctx context.Context) error {
	return refresh(ctx, s, &s.transactions, func(ctx context.Context, id wallet.SessionIdentity) (func(wallet.TransactionPage) wallet.TransactionPage, error) {
		page, err := s.backend.FetchTransactions(ctx, backend.TransactionQuery{
			UserID:   id.UserID,
			Page:     1,
			PageSize: s.opts.TransactionFetchSize,
		})
		if err != nil {
			return nil, err
		}
		return func(wallet.TransactionPage) wallet.TransactionPage { return page }, nil
	})
}

func (s *Store) RefreshProfile(ctx context.Context) error {
	return refresh(ctx, s, &s.profile, func(ctx context.Context, id wallet.SessionIdentity) (func(user.Profile) user.Profile, error) {
		p, err := s.backend.FetchProfile(ctx, id.UserID)
		if err != nil {
			return nil, err
		}
		return func(user.Profile) user.Profile { return p }, nil
	})
}

// RefreshNotifications fetches the server list and hands it to the merger
// together with a sequence number taken before the request went out.
func (s *Store) RefreshNotifications(ctx context.Context) error {
	return refresh(ctx, s, &s.notifications, func(ctx context.Context, id wallet.SessionIdentity) (func([]wallet.Notification) []wallet.Notification, error) {
		seq := s.notificationSeq.Add(1)
		server, err := s.backend.FetchNotifications(ctx, id.UserID, s.opts.NotificationLimit)
		if err != nil {
			return nil, err
		}
		s.mu.RLock()
		m := s.merger
		s.mu.RUnlock()
		return func(local []wallet.Notification) []wallet.Notification {
			if m == nil {
				return server
			}
			return m.Merge(local, server, seq)
		}, nil
	})
}

// NotificationFetchSeq is the sequence number of the most recently started
// notification fetch.
func (s *Store) NotificationFetchSeq() uint64 {
	return s.notificationSeq.Load()
}

// MutateNotifications applies a local edit. fn receives a private copy and
// runs under the resource lock, so it is atomic with respect to merges.
func (s *Store) MutateNotifications(fn func([]wallet.Notification) []wallet.Notification) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity.IsZero() {
		return ErrNoSession
	}

	s.notifications.mu.Lock()
	s.notifications.snap.Value = fn(wallet.CloneNotifications(s.notifications.snap.Value))
	s.notifications.mu.Unlock()
	return nil
}

// fetcher performs the network call and returns how to fold the result into
// the cached value.
type fetcher[T any] func(ctx context.Context, id wallet.SessionIdentity) (func(T) T, error)

func refresh[T any](ctx context.Context, s *Store, r *resource[T], fetch fetcher[T]) error {
	s.mu.RLock()
	id, epoch, sessionCtx := s.identity, s.epoch, s.ctx
	if id.IsZero() {
		s.mu.RUnlock()
		return ErrNoSession
	}
	gen := r.begin()
	s.mu.RUnlock()

	// Concurrent refreshes of one resource generation share a request.
	key := strconv.FormatUint(epoch, 10) + ":" + strconv.FormatUint(gen, 10)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(sessionCtx, s.opts.FetchTimeout)
		defer cancel()
		apply, err := fetch(fctx, id)

		s.mu.RLock()
		defer s.mu.RUnlock()
		fields := logger.Fields{logger.ComponentKey: r.name, logger.UserIdKey: id.UserID}
		if s.epoch != epoch {
			logger.Debug("Discarding response for a closed session", fields)
			return nil, ErrSuperseded
		}
		if err != nil {
			logger.Warn("Refetch failed, keeping cached value", logger.Merge(fields, logger.WithError(err)))
			r.fail(gen, err)
			return nil, err
		}
		if !r.succeed(gen, apply, s.now()) {
			logger.Debug("Discarding response older than the last invalidation", fields)
			return nil, ErrSuperseded
		}
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// background runs fn detached from any request, bound to the current
// session's lifetime.
func (s *Store) background(fn func(context.Context) error) {
	s.mu.RLock()
	ctx, active := s.ctx, !s.identity.IsZero()
	s.mu.RUnlock()
	if !active {
		return
	}
	go func() {
		if err := fn(ctx); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, context.Canceled) {
			logger.Debug("Background refetch failed", logger.WithError(err))
		}
	}()
}
