// Package events publishes task operation outcomes to Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/moonerfun/flywheel/internal/config"
	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/logger"
)

// DefaultChannel is the pub/sub channel operation events are sent to.
const DefaultChannel = "flywheel:operations"

const pingTimeout = 5 * time.Second

// OperationEvent is the message published for every operation attempt.
type OperationEvent struct {
	EventID     uuid.UUID              `json:"event_id"`
	Operation   domain.OperationType   `json:"operation"`
	PoolAddress string                 `json:"pool_address,omitempty"`
	Status      domain.OperationStatus `json:"status"`
	Amount      float64                `json:"amount"`
	Signature   string                 `json:"signature,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// FromLog builds an event from an operation log entry.
func FromLog(entry *domain.OperationLog) OperationEvent {
	event := OperationEvent{
		Operation: entry.OperationType,
		Status:    entry.Status,
		Amount:    entry.Amount,
		Timestamp: entry.CreatedAt,
	}
	if parsed, err := uuid.Parse(entry.ID); err == nil {
		event.EventID = parsed
	}
	if entry.PoolAddress != nil {
		event.PoolAddress = *entry.PoolAddress
	}
	if entry.Signature != nil {
		event.Signature = *entry.Signature
	}
	if entry.ErrorMessage != nil {
		event.Error = *entry.ErrorMessage
	}
	return event
}

// Publisher publishes operation events. A nil *Publisher is a valid no-op.
type Publisher struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

// NewPublisher creates a publisher. Returns nil if client is nil.
func NewPublisher(client *redis.Client, channel string, log logger.Logger) *Publisher {
	if client == nil {
		return nil
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{
		client:  client,
		channel: channel,
		log:     log.With(logger.Component("events")),
	}
}

// NewRedisClient connects to Redis. An empty address returns a nil client
// and publishing is disabled.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, nil //nolint:nilnil // redis is optional
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Publish sends an event to the channel.
func (p *Publisher) Publish(ctx context.Context, event OperationEvent) error {
	if p == nil || p.client == nil {
		return nil
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if publishErr := p.client.Publish(ctx, p.channel, payload).Err(); publishErr != nil {
		p.log.Warn("failed to publish operation event",
			logger.String("operation", string(event.Operation)),
			logger.String("pool_address", event.PoolAddress),
			logger.Error(publishErr),
		)
		return fmt.Errorf("publish to %s: %w", p.channel, publishErr)
	}

	p.log.Debug("published operation event",
		logger.String("operation", string(event.Operation)),
		logger.String("status", string(event.Status)),
	)
	return nil
}

// PublishLog publishes the event for an operation log entry.
func (p *Publisher) PublishLog(ctx context.Context, entry *domain.OperationLog) error {
	if p == nil {
		return nil
	}
	return p.Publish(ctx, FromLog(entry))
}
