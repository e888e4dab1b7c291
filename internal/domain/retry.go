// Package domain contains the core domain models for the flywheel service.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an entity is not found in the store.
var ErrNotFound = errors.New("entity not found")

// ErrUnknownOperation is returned for an operation type outside the known set.
var ErrUnknownOperation = errors.New("unknown operation type")

// DefaultMaxRetries is the retry ceiling applied when a request does not set one.
const DefaultMaxRetries = 5

// AbandonedInProcessing is recorded as the last error of an attempt that never
// reported back, such as one cut short by a crash.
const AbandonedInProcessing = "abandoned in processing"

// OperationType names a retryable blockchain operation.
type OperationType string

const (
	OperationFeeClaim OperationType = "fee_claim"
	OperationBuyback  OperationType = "buyback"
	OperationBurn     OperationType = "burn"
	OperationRegister OperationType = "register"
)

// IsValid reports whether t is one of the known operation types.
func (t OperationType) IsValid() bool {
	switch t {
	case OperationFeeClaim, OperationBuyback, OperationBurn, OperationRegister:
		return true
	default:
		return false
	}
}

// RequiresPool reports whether dispatching t needs a resolved pool record.
// Burns resolve a pool only when one is referenced.
func (t OperationType) RequiresPool() bool {
	return t == OperationFeeClaim || t == OperationBuyback
}

// RetryStatus is the lifecycle state of a retry queue item.
type RetryStatus string

const (
	RetryStatusPending    RetryStatus = "pending"
	RetryStatusProcessing RetryStatus = "processing"
	RetryStatusCompleted  RetryStatus = "completed"
	RetryStatusFailed     RetryStatus = "failed"
)

// IsTerminal reports whether no further automatic transition happens from s.
func (s RetryStatus) IsTerminal() bool {
	return s == RetryStatusCompleted || s == RetryStatusFailed
}

// RetryQueueItem is a durable record of an operation awaiting re-execution.
type RetryQueueItem struct {
	ID            string        `db:"id"              json:"id"`
	OperationType OperationType `db:"operation_type"  json:"operation_type"`
	PoolAddress   *string       `db:"pool_address"    json:"pool_address,omitempty"`
	Payload       PayloadMap    `db:"payload"         json:"payload"`
	RetryCount    int           `db:"retry_count"     json:"retry_count"`
	MaxRetries    int           `db:"max_retries"     json:"max_retries"`
	LastError     *string       `db:"last_error"      json:"last_error,omitempty"`
	LastAttemptAt *time.Time    `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	NextRetryAt   time.Time     `db:"next_retry_at"   json:"next_retry_at"`
	Status        RetryStatus   `db:"status"          json:"status"`
	CreatedAt     time.Time     `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"      json:"updated_at"`
}

// Exhausted reports whether retryCount has reached the ceiling.
func (i *RetryQueueItem) Exhausted(retryCount int) bool {
	return retryCount >= i.MaxRetries
}

// PoolAddressOrEmpty returns the referenced pool address or "".
func (i *RetryQueueItem) PoolAddressOrEmpty() string {
	if i.PoolAddress == nil {
		return ""
	}
	return *i.PoolAddress
}

// EnqueueRequest describes a new retry queue item.
type EnqueueRequest struct {
	OperationType OperationType
	PoolAddress   *string
	Payload       Payload
	MaxRetries    int
}

// NewEnqueueRequest builds a request whose operation type is taken from payload.
// An empty poolAddress is stored as NULL. MaxRetries is left for the engine to default.
func NewEnqueueRequest(poolAddress string, payload Payload) EnqueueRequest {
	req := EnqueueRequest{
		OperationType: payload.OperationType(),
		Payload:       payload,
	}
	if poolAddress != "" {
		req.PoolAddress = &poolAddress
	}
	return req
}

// NewRetryQueueItem converts req into a pending item eligible at now.
func NewRetryQueueItem(id string, req EnqueueRequest, now time.Time) (*RetryQueueItem, error) {
	if !req.OperationType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, req.OperationType)
	}

	payload, err := EncodePayload(req.Payload)
	if err != nil {
		return nil, err
	}

	return newPendingItem(id, req.OperationType, req.PoolAddress, payload, req.MaxRetries, now, now), nil
}

// NewRetryQueueItemFromFallback converts a fallback record back into a pending item.
// The record's creation time is kept so drain ordering reflects when the failure happened.
// maxRetries applies only when the record does not carry its own ceiling.
func NewRetryQueueItemFromFallback(id string, rec FallbackRecord, maxRetries int, now time.Time) (*RetryQueueItem, error) {
	if !rec.OperationType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, rec.OperationType)
	}
	if rec.MaxRetries > 0 {
		maxRetries = rec.MaxRetries
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() || createdAt.After(now) {
		createdAt = now
	}

	payload := rec.Payload
	if payload == nil {
		payload = PayloadMap{}
	}

	return newPendingItem(id, rec.OperationType, rec.PoolAddress, payload, maxRetries, createdAt, now), nil
}

// ToFallbackRecord returns the on-disk form of a pending item.
func (i *RetryQueueItem) ToFallbackRecord() FallbackRecord {
	return FallbackRecord{
		OperationType: i.OperationType,
		PoolAddress:   i.PoolAddress,
		Payload:       i.Payload,
		CreatedAt:     i.CreatedAt,
		MaxRetries:    i.MaxRetries,
	}
}

func newPendingItem(
	id string,
	opType OperationType,
	poolAddress *string,
	payload PayloadMap,
	maxRetries int,
	createdAt, now time.Time,
) *RetryQueueItem {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &RetryQueueItem{
		ID:            id,
		OperationType: opType,
		PoolAddress:   poolAddress,
		Payload:       payload,
		MaxRetries:    maxRetries,
		NextRetryAt:   now,
		Status:        RetryStatusPending,
		CreatedAt:     createdAt,
		UpdatedAt:     now,
	}
}

// RetryQueueStats holds item counts per status.
type RetryQueueStats struct {
	Pending    int64 `db:"pending"    json:"pending"`
	Processing int64 `db:"processing" json:"processing"`
	Completed  int64 `db:"completed"  json:"completed"`
	Failed     int64 `db:"failed"     json:"failed"`
	Due        int64 `db:"due"        json:"due"`
}

// FallbackRecord is the on-disk form of a retry request written while the store is unreachable.
type FallbackRecord struct {
	OperationType OperationType `json:"operationType"`
	PoolAddress   *string       `json:"poolAddress"`
	Payload       PayloadMap    `json:"payload"`
	CreatedAt     time.Time     `json:"createdAt"`
	MaxRetries    int           `json:"maxRetries,omitempty"`
}

// PayloadMap is the opaque at-rest form of a payload, stored as JSONB.
type PayloadMap map[string]any

// Value implements driver.Valuer.
func (p PayloadMap) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (p *PayloadMap) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = PayloadMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan payload: unsupported type %T", src)
	}

	m := PayloadMap{}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("scan payload: %w", err)
	}
	*p = m
	return nil
}
