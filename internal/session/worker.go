package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zidewell/zidwell-team-sub000/pkg/events"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
)

// EventSource is the subset of *events.RedisClient the worker uses.
type EventSource interface {
	Subscribe(ctx context.Context) *redis.PubSub
	PushToDLQ(ctx context.Context, data []byte) error
}

// EventWorker turns wallet events into cache invalidations for the affected
// user's session, if that user has one open here.
type EventWorker struct {
	manager *Manager
	source  EventSource
	timeout time.Duration
}

func NewEventWorker(m *Manager, source EventSource, timeout time.Duration) *EventWorker {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &EventWorker{manager: m, source: source, timeout: timeout}
}

// Start consumes events until ctx is cancelled.
func (w *EventWorker) Start(ctx context.Context) {
	logger.Info("Starting wallet event worker...")
	go w.processEvents(ctx)
}

func (w *EventWorker) processEvents(ctx context.Context) {
	sub := w.source.Subscribe(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Wallet event worker stopped")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.handle(ctx, []byte(msg.Payload))
		}
	}
}

var errMissingUser = errors.New("event has no user id")

func (w *EventWorker) handle(ctx context.Context, data []byte) {
	var event events.WalletEvent
	if err := json.Unmarshal(data, &event); err != nil {
		logger.Error("EventWorker: Failed to unmarshal event", logger.Fields{"error": err.Error(), "data": string(data)})
		w.moveToDLQ(ctx, data)
		return
	}
	if event.UserID == "" {
		logger.Error("EventWorker: Rejecting event", logger.Merge(logger.Fields{"event": event.Event}, logger.WithError(errMissingUser)))
		w.moveToDLQ(ctx, data)
		return
	}

	fields := logger.Fields{"event": event.Event, "reference": event.Reference, logger.UserIdKey: event.UserID}

	sess, ok := w.manager.Peek(event.UserID)
	if !ok {
		logger.Debug("EventWorker: No open session for event", fields)
		return
	}

	switch event.Event {
	case events.EventChargeSuccess, events.EventChargeFailed, events.EventTransactionStatus, events.EventWithdrawalCompleted:
		sess.Store.InvalidateBalance()
		sess.Store.InvalidateTransactions()
	case events.EventNotificationCreated:
		pctx, cancel := context.WithTimeout(ctx, w.timeout)
		defer cancel()
		if _, err := sess.Notifications.Poll(pctx); err != nil {
			logger.Warn("EventWorker: Notification poll failed", logger.Merge(fields, logger.WithError(err)))
			return
		}
	default:
		logger.Warn("EventWorker: Unknown event type", fields)
		return
	}
	logger.Info("EventWorker: Successfully processed event", fields)
}

func (w *EventWorker) moveToDLQ(ctx context.Context, data []byte) {
	if err := w.source.PushToDLQ(context.WithoutCancel(ctx), data); err != nil {
		logger.Error("EventWorker: Failed to push to DLQ", logger.Fields{"error": err.Error()})
	}
}
