package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
)

const FailedQueue = "failed_wallet_events"

// Event names published by the wallet service.
const (
	EventChargeSuccess       = "charge.success"
	EventChargeFailed        = "charge.failed"
	EventTransactionStatus   = "transaction.status"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventNotificationCreated = "notification.created"
)

type RedisClient struct {
	Client  *redis.Client
	Channel string
}

// WalletEvent is published by the wallet service whenever something server-side changes a user's
// balance, transactions or notifications.
type WalletEvent struct {
	Event     string    `json:"event"`
	UserID    string    `json:"userId"`
	Reference string    `json:"reference,omitempty"`
	Status    string    `json:"status,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRedisClient(cfg config.Config) *RedisClient {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis url", logger.Fields{"error": err.Error(), "url": cfg.RedisURL})
		opt = &redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		}
	}
	if cfg.RedisPassword != "" && opt.Password == "" {
		opt.Password = cfg.RedisPassword
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		logger.Error("Failed to connect to Redis", logger.Fields{"error": err.Error(), "url": cfg.RedisURL})
	} else {
		logger.Info("Connected to Redis", logger.Fields{"url": cfg.RedisURL})
	}

	return &RedisClient{Client: rdb, Channel: cfg.WalletEventsChannel}
}

func (r *RedisClient) Subscribe(ctx context.Context) *redis.PubSub {
	return r.Client.Subscribe(ctx, r.Channel)
}

func (r *RedisClient) PushToDLQ(ctx context.Context, data []byte) error {
	if err := r.Client.RPush(ctx, FailedQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to DLQ: %w", err)
	}
	return nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}
