// Package notification keeps the session's notification list in step with the
// server while letting users mark items read optimistically.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zidewell/zidwell-team-sub000/internal/store"
	"github.com/zidewell/zidwell-team-sub000/internal/wallet"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
)

var ErrNotFound = errors.New("notification not found")

type ReadState string

const (
	StateUnread        ReadState = "unread"
	StateReadPending   ReadState = "read-pending"
	StateReadConfirmed ReadState = "read-confirmed"
)

type Backend interface {
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Store is the part of *store.Store the reconciler drives.
type Store interface {
	Notifications() store.Snapshot[[]wallet.Notification]
	MutateNotifications(fn func([]wallet.Notification) []wallet.Notification) error
	RefreshNotifications(ctx context.Context) error
	InvalidateNotifications()
	NotificationFetchSeq() uint64
	SetNotificationMerger(m store.NotificationMerger)
}

// Scheduler is satisfied by *cron.Cron.
type Scheduler interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
}

// edit is a local readAt change. Until it is confirmed, and until a fetch
// that started after the confirmation has been merged, the local readAt
// wins over whatever the server returns.
type edit struct {
	readAt       time.Time
	version      uint64
	confirmed    bool
	confirmedSeq uint64
}

type Reconciler struct {
	store   Store
	backend Backend
	now     func() time.Time

	mu      sync.Mutex
	version uint64
	edits   map[string]*edit

	polling atomic.Bool
	visible atomic.Bool

	pollMu     sync.Mutex
	entry      cron.EntryID
	sched      Scheduler
	pollCancel context.CancelFunc
}

func NewReconciler(st Store, b Backend) *Reconciler {
	r := &Reconciler{
		store:   st,
		backend: b,
		now:     time.Now,
		edits:   make(map[string]*edit),
	}
	r.visible.Store(true)
	st.SetNotificationMerger(r)
	return r
}

// MarkRead flips readAt locally, then confirms with the server. If the
// server rejects it the list is refetched rather than patched.
func (r *Reconciler) MarkRead(ctx context.Context, id string) error {
	var (
		ver     uint64
		found   bool
		changed bool
	)
	err := r.store.MutateNotifications(func(ns []wallet.Notification) []wallet.Notification {
		for i := range ns {
			if ns[i].ID != id {
				continue
			}
			found = true
			if ns[i].ReadAt == nil {
				at := r.now()
				ns[i].ReadAt = &at
				ver = r.record([]string{id}, at)
				changed = true
			}
		}
		return ns
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if !changed {
		return nil
	}

	if err := r.backend.MarkNotificationRead(ctx, id); err != nil {
		r.rollback(ctx, []string{id}, ver)
		return fmt.Errorf("mark %s read: %w", id, err)
	}
	r.confirm([]string{id}, ver)
	return nil
}

// MarkAllRead is MarkRead for every unread notification, confirmed by a
// single request.
func (r *Reconciler) MarkAllRead(ctx context.Context) error {
	var (
		ver uint64
		ids []string
	)
	err := r.store.MutateNotifications(func(ns []wallet.Notification) []wallet.Notification {
		at := r.now()
		for i := range ns {
			if ns[i].ReadAt == nil {
				stamp := at
				ns[i].ReadAt = &stamp
				ids = append(ids, ns[i].ID)
			}
		}
		if len(ids) > 0 {
			ver = r.record(ids, at)
		}
		return ns
	})
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if err := r.backend.MarkAllNotificationsRead(ctx); err != nil {
		r.rollback(ctx, ids, ver)
		return fmt.Errorf("mark all read: %w", err)
	}
	r.confirm(ids, ver)
	return nil
}

// record is called from inside MutateNotifications so the local flip and
// the pending edit appear together to any concurrent merge.
func (r *Reconciler) record(ids []string, at time.Time) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	for _, id := range ids {
		r.edits[id] = &edit{readAt: at, version: r.version}
	}
	return r.version
}

func (r *Reconciler) confirm(ids []string, ver uint64) {
	seq := r.store.NotificationFetchSeq()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if e, ok := r.edits[id]; ok && e.version == ver {
			e.confirmed = true
			e.confirmedSeq = seq
		}
	}
}

func (r *Reconciler) rollback(ctx context.Context, ids []string, ver uint64) {
	r.mu.Lock()
	dropped := make(map[string]time.Time, len(ids))
	for _, id := range ids {
		if e, ok := r.edits[id]; ok && e.version == ver {
			dropped[id] = e.readAt
			delete(r.edits, id)
		}
	}
	r.mu.Unlock()

	err := r.store.RefreshNotifications(ctx)
	if err == nil {
		return
	}

	// Without a fresh list, undo the flip so nothing stays read that the
	// server never accepted; the next poll settles the rest.
	logger.Warn("Refetch after rejected read failed, reverting locally", logger.WithError(err))
	_ = r.store.MutateNotifications(func(ns []wallet.Notification) []wallet.Notification {
		for i := range ns {
			at, ok := dropped[ns[i].ID]
			if ok && ns[i].ReadAt != nil && ns[i].ReadAt.Equal(at) {
				ns[i].ReadAt = nil
			}
		}
		return ns
	})
	r.store.InvalidateNotifications()
}

// Merge implements store.NotificationMerger. The server list decides which
// notifications exist and every untouched field; readAt from a live local
// edit is kept until a fetch issued after its confirmation comes back.
func (r *Reconciler) Merge(_ []wallet.Notification, server []wallet.Notification, fetchSeq uint64) []wallet.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := wallet.CloneNotifications(server)
	for i := range out {
		e, ok := r.edits[out[i].ID]
		if !ok || r.settled(e, fetchSeq) {
			continue
		}
		if out[i].ReadAt == nil {
			at := e.readAt
			out[i].ReadAt = &at
		}
	}

	for id, e := range r.edits {
		if r.settled(e, fetchSeq) {
			delete(r.edits, id)
		}
	}
	return out
}

func (r *Reconciler) settled(e *edit, fetchSeq uint64) bool {
	return e.confirmed && fetchSeq > e.confirmedSeq
}

// State reports where notification id is in unread → read-pending →
// read-confirmed.
func (r *Reconciler) State(id string) (ReadState, error) {
	for _, n := range r.store.Notifications().Value {
		if n.ID != id {
			continue
		}
		if n.ReadAt == nil {
			return StateUnread, nil
		}
		r.mu.Lock()
		e, ok := r.edits[id]
		pending := ok && !e.confirmed
		r.mu.Unlock()
		if pending {
			return StateReadPending, nil
		}
		return StateReadConfirmed, nil
	}
	return "", ErrNotFound
}

func (r *Reconciler) UnreadCount() int {
	return wallet.UnreadCount(r.store.Notifications().Value)
}

// Poll refetches notifications unless a poll is already running, in which
// case it returns false without queueing another.
func (r *Reconciler) Poll(ctx context.Context) (bool, error) {
	if !r.polling.CompareAndSwap(false, true) {
		logger.Debug("Notification poll already in flight, skipping")
		return false, nil
	}
	defer r.polling.Store(false)

	return true, r.store.RefreshNotifications(ctx)
}

// SetVisible records foreground visibility; regaining it polls immediately.
func (r *Reconciler) SetVisible(ctx context.Context, visible bool) (bool, error) {
	was := r.visible.Swap(visible)
	if !visible || was {
		return false, nil
	}
	return r.Poll(ctx)
}

// StartPolling registers a fixed-interval poll on sched.
func (r *Reconciler) StartPolling(sched Scheduler, interval, timeout time.Duration) error {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	if r.sched != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry, err := sched.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		pctx, pcancel := context.WithTimeout(ctx, timeout)
		defer pcancel()
		if _, err := r.Poll(pctx); err != nil && ctx.Err() == nil {
			logger.Warn("Notification poll failed", logger.WithError(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule notification poll: %w", err)
	}

	r.sched, r.entry, r.pollCancel = sched, entry, cancel
	return nil
}

// StopPolling removes the scheduled poll and cancels one that is running.
func (r *Reconciler) StopPolling() {
	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	if r.sched == nil {
		return
	}
	r.sched.Remove(r.entry)
	r.pollCancel()
	r.sched = nil
}
