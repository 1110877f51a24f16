package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zidewell/zidwell-team-sub000/internal/backend"
	"github.com/zidewell/zidwell-team-sub000/internal/user"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
)

type backendStub struct {
	mu           sync.Mutex
	balances     []wallet.Balance // served in order; the last one repeats
	balanceErr   error
	balanceGate  chan struct{}
	balanceCalls int32

	txs    []wallet.Transaction
	notifs []wallet.Notification
}

func (b *backendStub) FetchBalance(ctx context.Context, userID string) (wallet.Balance, error) {
	n := atomic.AddInt32(&b.balanceCalls, 1)
	b.mu.Lock()
	gate, err := b.balanceGate, b.balanceErr
	idx := int(n) - 1
	if idx >= len(b.balances) {
		idx = len(b.balances) - 1
	}
	var bal wallet.Balance
	if idx >= 0 {
		bal = b.balances[idx]
	}
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return wallet.Balance{}, ctx.Err()
		}
	}
	if err != nil {
		return wallet.Balance{}, err
	}
	return bal, nil
}

func (b *backendStub) FetchTransactions(ctx context.Context, q backend.TransactionQuery) (wallet.TransactionPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return wallet.TransactionPage{Transactions: b.txs, Total: len(b.txs)}, nil
}

func (b *backendStub) FetchNotifications(ctx context.Context, userID string, limit int) ([]wallet.Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return wallet.CloneNotifications(b.notifs), nil
}

func (b *backendStub) FetchProfile(ctx context.Context, userID string) (user.Profile, error) {
	return user.Profile{UserID: userID, Name: "Ada Obi", WalletHandle: "ada"}, nil
}

func (b *backendStub) calls() int { return int(atomic.LoadInt32(&b.balanceCalls)) }

func (b *backendStub) set(fn func(b *backendStub)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

var ada = wallet.SessionIdentity{UserID: "u-1", Email: "ada@example.com"}

func newStore(b *backendStub) *Store {
	return New(b, Options{FetchTimeout: time.Second})
}

func TestInitialize_LoadsEverything(t *testing.T) {
	b := &backendStub{
		balances: []wallet.Balance{{Current: 1_000_000, TransactionCount: 2}},
		txs:      []wallet.Transaction{{ID: "t1"}, {ID: "t2"}},
		notifs:   []wallet.Notification{{ID: "n1"}},
	}
	s := newStore(b)

	require.NoError(t, s.Initialize(context.Background(), ada))

	assert.Equal(t, wallet.Money(1_000_000), s.Balance().Value.Current)
	assert.Len(t, s.Transactions().Value.Transactions, 2)
	assert.Len(t, s.Notifications().Value, 1)
	assert.Equal(t, "Ada Obi", s.Profile().Value.Name)
	id, ok := s.Identity()
	assert.True(t, ok)
	assert.Equal(t, ada, id)
}

func TestInitialize_SameIdentityIsNoop(t *testing.T) {
	b := &backendStub{balances: []wallet.Balance{{Current: 100}}}
	s := newStore(b)

	require.NoError(t, s.Initialize(context.Background(), ada))
	require.NoError(t, s.Initialize(context.Background(), ada))

	assert.Equal(t, 1, b.calls())
}

func TestInitialize_RequiresIdentity(t *testing.T) {
	s := newStore(&backendStub{})
	assert.Error(t, s.Initialize(context.Background(), wallet.SessionIdentity{}))
}

func TestFailedRefetchKeepsCachedValue(t *testing.T) {
	b := &backendStub{balances: []wallet.Balance{{Current: 1_000_000}}}
	s := newStore(b)
	require.NoError(t, s.Initialize(context.Background(), ada))

	boom := errors.New("network down")
	b.set(func(b *backendStub) { b.balanceErr = boom })

	err := s.RefreshBalance(context.Background())
	require.ErrorIs(t, err, boom)

	snap := s.Balance()
	assert.True(t, snap.Loaded)
	assert.Equal(t, wallet.Money(1_000_000), snap.Value.Current)
	assert.ErrorIs(t, snap.Err, boom)
	assert.Equal(t, "network down", snap.ErrorMessage())
}

func TestInvalidateBalance_RefetchesInsteadOfReusingStaleValue(t *testing.T) {
	b := &backendStub{balances: []wallet.Balance{{Current: 1_000_000}, {Current: 500_000}}}
	s := newStore(b)
	require.NoError(t, s.Initialize(context.Background(), ada))
	require.Equal(t, wallet.Money(1_000_000), s.Balance().Value.Current)

	s.InvalidateBalance()

	require.Eventually(t, func() bool {
		snap := s.Balance()
		return !snap.Stale && snap.Value.Current == 500_000
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, b.calls())
}

func TestInvalidate_DropsResponseStartedBeforeInvalidation(t *testing.T) {
	gate := make(chan struct{})
	b := &backendStub{balances: []wallet.Balance{{Current: 1}, {Current: 2}, {Current: 3}}}
	s := newStore(b)
	require.NoError(t, s.Initialize(context.Background(), ada))

	b.set(func(b *backendStub) { b.balanceGate = gate })
	done := make(chan error, 1)
	go func() { done <- s.RefreshBalance(context.Background()) }()
	require.Eventually(t, func() bool { return b.calls() == 2 }, time.Second, time.Millisecond)

	s.InvalidateBalance()
	require.Eventually(t, func() bool { return b.calls() == 3 }, time.Second, time.Millisecond)
	close(gate)

	assert.ErrorIs(t, <-done, ErrSuperseded)
	require.Eventually(t, func() bool { return !s.Balance().Stale }, time.Second, time.Millisecond)
	assert.Equal(t, wallet.Money(3), s.Balance().Value.Current)
}

func TestConcurrentRefreshesShareOneRequest(t *testing.T) {
	gate := make(chan struct{})
	b := &backendStub{balances: []wallet.Balance{{Current: 1}}}
	s := newStore(b)
	require.NoError(t, s.Initialize(context.Background(), ada))
	b.set(func(b *backendStub) { b.balanceGate = gate })

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RefreshBalance(context.Background()))
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 2, b.calls())
}

func TestTeardown_ClearsAndDiscardsInFlight(t *testing.T) {
	gate := make(chan struct{})
	b := &backendStub{balances: []wallet.Balance{{Current: 700}}}
	s := newStore(b)
	require.NoError(t, s.Initialize(context.Background(), ada))

	b.set(func(b *backendStub) { b.balanceGate = gate })
	done := make(chan error, 1)
	go func() { done <- s.RefreshBalance(context.Background()) }()
	require.Eventually(t, func() bool { return b.calls() == 2 }, time.Second, time.Millisecond)

	s.Teardown()
	close(gate)
	<-done

	snap := s.Balance()
	assert.False(t, snap.Loaded)
	assert.Zero(t, snap.Value.Current)
	assert.Empty(t, s.Notifications().Value)
	_, ok := s.Identity()
	assert.False(t, ok)
	assert.ErrorIs(t, s.RefreshBalance(context.Background()), ErrNoSession)
}

func TestMutateNotifications(t *testing.T) {
	b := &backendStub{notifs: []wallet.Notification{{ID: "n1"}, {ID: "n2"}}}
	s := newStore(b)

	assert.ErrorIs(t, s.MutateNotifications(func(ns []wallet.Notification) []wallet.Notification { return ns }), ErrNoSession)

	require.NoError(t, s.Initialize(context.Background(), ada))
	now := time.Now()
	require.NoError(t, s.MutateNotifications(func(ns []wallet.Notification) []wallet.Notification {
		ns[0].ReadAt = &now
		return ns
	}))

	assert.Equal(t, 1, wallet.UnreadCount(s.Notifications().Value))
}

type replaceMerger struct{ seqs []uint64 }

func (m *replaceMerger) Merge(local, server []wallet.Notification, seq uint64) []wallet.Notification {
	m.seqs = append(m.seqs, seq)
	return server
}

func TestRefreshNotifications_UsesMergerWithIncreasingSeq(t *testing.T) {
	b := &backendStub{notifs: []wallet.Notification{{ID: "n1"}}}
	s := newStore(b)
	m := &replaceMerger{}
	s.SetNotificationMerger(m)

	require.NoError(t, s.Initialize(context.Background(), ada))
	require.NoError(t, s.RefreshNotifications(context.Background()))

	assert.Equal(t, []uint64{1, 2}, m.seqs)
	assert.Equal(t, uint64(2), s.NotificationFetchSeq())
}

func TestInitialize_CancelsPreviousContext(t *testing.T) {
	b := &backendStub{balances: []wallet.Balance{{Current: 1_000_000}}}
	s := New(b, Options{FetchTimeout: time.Second})
	unbound := s.ctx

	require.NoError(t, s.Initialize(context.Background(), ada))
	assert.ErrorIs(t, unbound.Err(), context.Canceled)

	first := s.ctx
	require.NoError(t, s.Initialize(context.Background(), wallet.SessionIdentity{UserID: "u-2"}))
	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.NoError(t, s.ctx.Err())
}
