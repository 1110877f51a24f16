// Package session scopes all dashboard state to one authenticated user. A
// Session is created on login and torn down on logout; nothing it caches
// outlives it.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zidewell/zidwell-team-sub000/internal/ledger"
	"github.com/zidewell/zidwell-team-sub000/internal/notification"
	"github.com/zidewell/zidwell-team-sub000/internal/store"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/internal/withdrawal"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
)

type Session struct {
	ID       string
	Identity wallet.SessionIdentity

	Store         *store.Store
	Notifications *notification.Reconciler
	Ledger        *ledger.View
	Exporter      *ledger.Exporter
	Withdrawal    *withdrawal.Orchestrator

	lastSeen  atomic.Int64
	closeOnce sync.Once
	closed    atomic.Bool
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Export renders the ledger's currently filtered transactions.
func (s *Session) Export(ctx context.Context, format ledger.Format) (ledger.Document, error) {
	return s.Exporter.Export(ctx, s.Ledger.Filtered(), format)
}

// Statement renders every cached transaction created in [from, to].
func (s *Session) Statement(ctx context.Context, from, to time.Time) (ledger.Document, error) {
	txs, err := s.Ledger.InRange(from, to)
	if err != nil {
		return ledger.Document{}, err
	}

	profile := s.Store.Profile().Value
	holder := ledger.StatementHolder{Name: profile.Name, Email: s.Identity.Email}
	if holder.Email == "" {
		holder.Email = profile.Email
	}
	if profile.BankDetails != nil {
		holder.AccountNumber = profile.BankDetails.AccountNumber
	}
	return s.Exporter.Statement(ctx, holder, txs, from, to)
}

// Close stops polling and pending lookups, then clears the store. It is safe
// to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.Notifications.StopPolling()
		s.Withdrawal.Close()
		s.Store.Teardown()
		logger.Info("Session closed", logger.Fields{logger.SessionKey: s.ID, logger.UserIdKey: s.Identity.UserID})
	})
}
