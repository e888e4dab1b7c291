package operations

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/gateway"
	"github.com/moonerfun/flywheel/internal/logger"
)

var (
	errNoPool      = errors.New("pool is required")
	errNoBurnMint  = errors.New("no token mint to burn")
	errInvalidPool = errors.New("pool address and base mint are required")
)

func (s *Service) startSpan(ctx context.Context, op domain.OperationType, poolAddress string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "operations."+string(op),
		trace.WithAttributes(
			attribute.String("operation", string(op)),
			attribute.String("pool_address", poolAddress),
		),
	)
}

func endSpan(span trace.Span, outcome domain.Outcome) {
	if !outcome.Success {
		span.SetStatus(codes.Error, outcome.Error)
	}
	span.End()
}

// CollectFees claims whatever fees the pool currently owes.
func (s *Service) CollectFees(ctx context.Context, pool *domain.Pool) (result domain.FeeClaimResult) {
	if pool == nil {
		return domain.FeeClaimResult{Outcome: domain.Failed(errNoPool)}
	}

	ctx, span := s.startSpan(ctx, domain.OperationFeeClaim, pool.Address)
	defer func() { endSpan(span, result.Outcome) }()

	claimable, err := s.fees.ClaimableFees(ctx, pool.Address)
	if err != nil {
		return s.feeClaimFailed(ctx, pool, err)
	}
	if claimable <= 0 {
		s.logger.Debug("no fees to claim", logger.String("pool_address", pool.Address))
		return domain.FeeClaimResult{Outcome: domain.Succeeded()}
	}

	receipt, err := s.fees.ClaimFees(ctx, pool.Address)
	if err != nil {
		return s.feeClaimFailed(ctx, pool, err)
	}

	claim := &domain.FeeClaim{
		ID:          s.newID(),
		PoolAddress: pool.Address,
		AmountSOL:   receipt.AmountSOL,
		Signature:   receipt.Signature,
		CreatedAt:   s.now(),
	}
	if recordErr := s.records.RecordFeeClaim(ctx, claim); recordErr != nil {
		s.persistFailed(domain.OperationFeeClaim, pool.Address, receipt.Signature, recordErr)
	}

	s.finish(ctx, logEntry{
		op:          domain.OperationFeeClaim,
		poolAddress: pool.Address,
		amount:      receipt.AmountSOL,
		signature:   receipt.Signature,
	})
	s.logger.Info("fees claimed",
		logger.String("pool_address", pool.Address),
		logger.Float64("amount_sol", receipt.AmountSOL),
		logger.String("signature", receipt.Signature),
	)

	return domain.FeeClaimResult{
		Outcome:   domain.Succeeded(),
		AmountSOL: receipt.AmountSOL,
		Signature: receipt.Signature,
	}
}

func (s *Service) feeClaimFailed(ctx context.Context, pool *domain.Pool, err error) domain.FeeClaimResult {
	err = fmt.Errorf("collect fees: %w", err)
	s.finish(ctx, logEntry{op: domain.OperationFeeClaim, poolAddress: pool.Address, err: err})
	s.logger.Warn("fee claim failed", logger.String("pool_address", pool.Address), logger.Error(err))
	return domain.FeeClaimResult{Outcome: domain.Failed(err)}
}

// Buyback spends up to solAmount on the pool's token, limited to the SOL
// available above the reserve.
func (s *Service) Buyback(ctx context.Context, pool *domain.Pool, solAmount float64) (result domain.BuybackResult) {
	if pool == nil {
		return domain.BuybackResult{Outcome: domain.Failed(errNoPool)}
	}

	ctx, span := s.startSpan(ctx, domain.OperationBuyback, pool.Address)
	span.SetAttributes(attribute.Float64("requested_sol", solAmount))
	defer func() { endSpan(span, result.Outcome) }()

	spendable, err := s.SpendableSOL(ctx)
	if err != nil {
		return s.buybackFailed(ctx, pool, solAmount, err)
	}

	amount := min(solAmount, spendable)
	if amount <= 0 {
		s.logger.Info("nothing to buy back",
			logger.String("pool_address", pool.Address),
			logger.Float64("requested_sol", solAmount),
			logger.Float64("spendable_sol", spendable),
		)
		return domain.BuybackResult{Outcome: domain.Succeeded()}
	}

	receipt, err := s.swaps.Swap(ctx, gateway.SwapRequest{
		PoolAddress: pool.Address,
		OutputMint:  pool.TokenMint,
		AmountSOL:   amount,
		SlippageBps: s.cfg.SlippageBps,
	})
	if err != nil {
		return s.buybackFailed(ctx, pool, amount, err)
	}

	record := &domain.Buyback{
		ID:             s.newID(),
		PoolAddress:    pool.Address,
		SolSpent:       receipt.SolSpent,
		TokensReceived: receipt.TokensReceived,
		Signature:      receipt.Signature,
		CreatedAt:      s.now(),
	}
	if recordErr := s.records.RecordBuyback(ctx, record); recordErr != nil {
		s.persistFailed(domain.OperationBuyback, pool.Address, receipt.Signature, recordErr)
	}

	s.finish(ctx, logEntry{
		op:          domain.OperationBuyback,
		poolAddress: pool.Address,
		amount:      receipt.SolSpent,
		signature:   receipt.Signature,
	})
	s.logger.Info("buyback executed",
		logger.String("pool_address", pool.Address),
		logger.Float64("sol_spent", receipt.SolSpent),
		logger.Float64("tokens_received", receipt.TokensReceived),
		logger.String("signature", receipt.Signature),
	)

	return domain.BuybackResult{
		Outcome:        domain.Succeeded(),
		SolSpent:       receipt.SolSpent,
		TokensReceived: receipt.TokensReceived,
		Signature:      receipt.Signature,
	}
}

func (s *Service) buybackFailed(ctx context.Context, pool *domain.Pool, amount float64, err error) domain.BuybackResult {
	err = fmt.Errorf("buyback: %w", err)
	s.finish(ctx, logEntry{op: domain.OperationBuyback, poolAddress: pool.Address, amount: amount, err: err})
	s.logger.Warn("buyback failed", logger.String("pool_address", pool.Address), logger.Error(err))
	return domain.BuybackResult{Outcome: domain.Failed(err)}
}

// Burn destroys up to tokenAmount of the pool's token, or of the platform
// token when pool is nil, limited to the wallet balance.
func (s *Service) Burn(ctx context.Context, pool *domain.Pool, tokenAmount float64) (result domain.BurnResult) {
	poolAddress := ""
	mint := s.cfg.PlatformTokenMint
	if pool != nil {
		poolAddress = pool.Address
		mint = pool.TokenMint
	}

	ctx, span := s.startSpan(ctx, domain.OperationBurn, poolAddress)
	span.SetAttributes(attribute.String("mint", mint), attribute.Float64("requested_tokens", tokenAmount))
	defer func() { endSpan(span, result.Outcome) }()

	if mint == "" {
		return s.burnFailed(ctx, poolAddress, tokenAmount, errNoBurnMint)
	}

	balance, err := s.chain.TokenBalance(ctx, mint)
	if err != nil {
		return s.burnFailed(ctx, poolAddress, tokenAmount, err)
	}

	amount := min(tokenAmount, balance)
	if amount <= 0 {
		s.logger.Info("nothing to burn",
			logger.String("mint", mint),
			logger.Float64("requested_tokens", tokenAmount),
			logger.Float64("balance", balance),
		)
		return domain.BurnResult{Outcome: domain.Succeeded()}
	}

	receipt, err := s.burner.Burn(ctx, mint, amount)
	if err != nil {
		return s.burnFailed(ctx, poolAddress, amount, err)
	}

	record := &domain.Burn{
		ID:           s.newID(),
		TokensBurned: receipt.TokensBurned,
		Signature:    receipt.Signature,
		CreatedAt:    s.now(),
	}
	if poolAddress != "" {
		record.PoolAddress = &poolAddress
	}
	if recordErr := s.records.RecordBurn(ctx, record); recordErr != nil {
		s.persistFailed(domain.OperationBurn, poolAddress, receipt.Signature, recordErr)
	}

	s.finish(ctx, logEntry{
		op:          domain.OperationBurn,
		poolAddress: poolAddress,
		amount:      receipt.TokensBurned,
		signature:   receipt.Signature,
	})
	s.logger.Info("tokens burned",
		logger.String("mint", mint),
		logger.Float64("tokens_burned", receipt.TokensBurned),
		logger.String("signature", receipt.Signature),
	)

	return domain.BurnResult{
		Outcome:      domain.Succeeded(),
		TokensBurned: receipt.TokensBurned,
		Signature:    receipt.Signature,
	}
}

func (s *Service) burnFailed(ctx context.Context, poolAddress string, amount float64, err error) domain.BurnResult {
	err = fmt.Errorf("burn: %w", err)
	s.finish(ctx, logEntry{op: domain.OperationBurn, poolAddress: poolAddress, amount: amount, err: err})
	s.logger.Warn("burn failed", logger.String("pool_address", poolAddress), logger.Error(err))
	return domain.BurnResult{Outcome: domain.Failed(err)}
}

// Register stores a discovered pool. Registering a known pool succeeds
// without changes.
func (s *Service) Register(ctx context.Context, reg domain.RegisterPayload) (result domain.RegisterResult) {
	ctx, span := s.startSpan(ctx, domain.OperationRegister, reg.PoolAddress)
	defer func() { endSpan(span, result.Outcome) }()

	if reg.PoolAddress == "" || reg.BaseMint == "" {
		return s.registerFailed(ctx, reg.PoolAddress, errInvalidPool)
	}

	pool := domain.PoolFromRegistration(reg, s.now())
	created, err := s.pools.Register(ctx, pool)
	if err != nil {
		return s.registerFailed(ctx, reg.PoolAddress, err)
	}

	if !created {
		if existing, getErr := s.pools.GetByAddress(ctx, reg.PoolAddress); getErr == nil {
			pool = existing
		}
		return domain.RegisterResult{Outcome: domain.Succeeded(), Pool: pool}
	}

	s.finish(ctx, logEntry{op: domain.OperationRegister, poolAddress: reg.PoolAddress})
	s.logger.Info("pool registered",
		logger.String("pool_address", reg.PoolAddress),
		logger.String("token_mint", reg.BaseMint),
		logger.Bool("is_migrated", reg.IsMigrated),
	)

	return domain.RegisterResult{Outcome: domain.Succeeded(), Pool: pool, Created: true}
}

func (s *Service) registerFailed(ctx context.Context, poolAddress string, err error) domain.RegisterResult {
	err = fmt.Errorf("register pool: %w", err)
	s.finish(ctx, logEntry{op: domain.OperationRegister, poolAddress: poolAddress, err: err})
	s.logger.Warn("pool registration failed", logger.String("pool_address", poolAddress), logger.Error(err))
	return domain.RegisterResult{Outcome: domain.Failed(err)}
}
