// Package operations implements the flywheel task operations: fee claims,
// buybacks, burns and pool registration.
//
// Every operation returns a result carrying domain.Outcome instead of an
// error. Amounts are re-derived from current chain state on every call, so a
// retried operation that finds nothing left to do succeeds with zero.
package operations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/gateway"
	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/metrics"
)

// ChainClient reads wallet balances.
type ChainClient interface {
	SOLBalance(ctx context.Context) (float64, error)
	TokenBalance(ctx context.Context, mint string) (float64, error)
}

// FeeCollector reads and claims pool fees.
type FeeCollector interface {
	ClaimableFees(ctx context.Context, poolAddress string) (float64, error)
	ClaimFees(ctx context.Context, poolAddress string) (*gateway.ClaimReceipt, error)
}

// SwapExecutor swaps SOL for tokens.
type SwapExecutor interface {
	Swap(ctx context.Context, req gateway.SwapRequest) (*gateway.SwapReceipt, error)
}

// Burner burns tokens held by the wallet.
type Burner interface {
	Burn(ctx context.Context, mint string, amount float64) (*gateway.BurnReceipt, error)
}

// RecordStore persists business records and the operation log.
type RecordStore interface {
	RecordFeeClaim(ctx context.Context, claim *domain.FeeClaim) error
	RecordBuyback(ctx context.Context, buyback *domain.Buyback) error
	RecordBurn(ctx context.Context, burn *domain.Burn) error
	AppendLog(ctx context.Context, entry *domain.OperationLog) error
}

// PoolRegistry stores pool rows.
type PoolRegistry interface {
	Register(ctx context.Context, pool *domain.Pool) (bool, error)
	GetByAddress(ctx context.Context, address string) (*domain.Pool, error)
}

// EventPublisher announces operation outcomes.
type EventPublisher interface {
	PublishLog(ctx context.Context, entry *domain.OperationLog) error
}

// Config holds the business knobs operations need.
type Config struct {
	SOLReserve        float64
	SlippageBps       int
	PlatformTokenMint string
}

// Collaborators groups the external dependencies of the service.
type Collaborators struct {
	Chain     ChainClient
	Fees      FeeCollector
	Swaps     SwapExecutor
	Burner    Burner
	Records   RecordStore
	Pools     PoolRegistry
	Publisher EventPublisher
}

// Service executes task operations.
type Service struct {
	chain     ChainClient
	fees      FeeCollector
	swaps     SwapExecutor
	burner    Burner
	records   RecordStore
	pools     PoolRegistry
	publisher EventPublisher

	cfg     Config
	logger  logger.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records operation results on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service.
func NewService(c Collaborators, cfg Config, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		chain:     c.Chain,
		fees:      c.Fees,
		swaps:     c.Swaps,
		burner:    c.Burner,
		records:   c.Records,
		pools:     c.Pools,
		publisher: c.Publisher,
		cfg:       cfg,
		logger:    log.With(logger.Component("operations")),
		tracer:    otel.Tracer("operations"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SpendableSOL returns the wallet balance above the configured reserve.
func (s *Service) SpendableSOL(ctx context.Context) (float64, error) {
	balance, err := s.chain.SOLBalance(ctx)
	if err != nil {
		return 0, err
	}
	return max(balance-s.cfg.SOLReserve, 0), nil
}

// logEntry describes one operation attempt for the audit log.
type logEntry struct {
	op          domain.OperationType
	poolAddress string
	amount      float64
	signature   string
	err         error
}

// finish appends the operation log entry, publishes the outcome and
// records metrics. Failures here are logged and never change the result.
func (s *Service) finish(ctx context.Context, e logEntry) {
	entry := &domain.OperationLog{
		ID:            s.newID(),
		OperationType: e.op,
		Status:        domain.OperationStatusSuccess,
		Amount:        e.amount,
		CreatedAt:     s.now(),
	}
	if e.poolAddress != "" {
		addr := e.poolAddress
		entry.PoolAddress = &addr
	}
	if e.signature != "" {
		sig := e.signature
		entry.Signature = &sig
	}
	if e.err != nil {
		msg := e.err.Error()
		entry.Status = domain.OperationStatusFailed
		entry.ErrorMessage = &msg
	}

	s.metrics.OperationResult(string(e.op), e.err == nil)

	if err := s.records.AppendLog(ctx, entry); err != nil {
		s.logger.Warn("failed to append operation log",
			logger.String("operation", string(e.op)),
			logger.String("pool_address", e.poolAddress),
			logger.Error(err),
		)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishLog(ctx, entry); err != nil {
			s.logger.Debug("operation event not published",
				logger.String("operation", string(e.op)),
				logger.Error(err),
			)
		}
	}
}

// persistFailed logs a record write that failed after the chain accepted the
// transaction. The operation still reports success so it is not retried.
func (s *Service) persistFailed(op domain.OperationType, poolAddress, signature string, err error) {
	s.logger.Error("chain transaction confirmed but record not stored",
		logger.String("operation", string(op)),
		logger.String("pool_address", poolAddress),
		logger.String("signature", signature),
		logger.Error(err),
	)
}
