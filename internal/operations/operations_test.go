package operations_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonerfun/flywheel/internal/domain"
	"github.com/moonerfun/flywheel/internal/gateway"
	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/operations"
)

var errRPC = errors.New("rpc timeout")

type fakeGateway struct {
	solBalance   float64
	tokenBalance map[string]float64
	claimable    float64
	balanceErr   error
	swapErr      error
	claimErr     error
	burnErr      error

	swaps  []gateway.SwapRequest
	burns  []float64
	claims int
}

func (g *fakeGateway) SOLBalance(context.Context) (float64, error) {
	return g.solBalance, g.balanceErr
}

func (g *fakeGateway) TokenBalance(_ context.Context, mint string) (float64, error) {
	return g.tokenBalance[mint], g.balanceErr
}

func (g *fakeGateway) ClaimableFees(context.Context, string) (float64, error) {
	return g.claimable, nil
}

func (g *fakeGateway) ClaimFees(context.Context, string) (*gateway.ClaimReceipt, error) {
	if g.claimErr != nil {
		return nil, g.claimErr
	}
	g.claims++
	return &gateway.ClaimReceipt{AmountSOL: g.claimable, Signature: "claim-sig"}, nil
}

func (g *fakeGateway) Swap(_ context.Context, req gateway.SwapRequest) (*gateway.SwapReceipt, error) {
	if g.swapErr != nil {
		return nil, g.swapErr
	}
	g.swaps = append(g.swaps, req)
	return &gateway.SwapReceipt{SolSpent: req.AmountSOL, TokensReceived: req.AmountSOL * 1000, Signature: "swap-sig"}, nil
}

func (g *fakeGateway) Burn(_ context.Context, _ string, amount float64) (*gateway.BurnReceipt, error) {
	if g.burnErr != nil {
		return nil, g.burnErr
	}
	g.burns = append(g.burns, amount)
	return &gateway.BurnReceipt{TokensBurned: amount, Signature: "burn-sig"}, nil
}

type fakeRecords struct {
	mu        sync.Mutex
	feeClaims []domain.FeeClaim
	buybacks  []domain.Buyback
	burns     []domain.Burn
	logs      []domain.OperationLog
	recordErr error
}

func (r *fakeRecords) RecordFeeClaim(_ context.Context, c *domain.FeeClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	r.feeClaims = append(r.feeClaims, *c)
	return nil
}

func (r *fakeRecords) RecordBuyback(_ context.Context, b *domain.Buyback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	r.buybacks = append(r.buybacks, *b)
	return nil
}

func (r *fakeRecords) RecordBurn(_ context.Context, b *domain.Burn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	r.burns = append(r.burns, *b)
	return nil
}

func (r *fakeRecords) AppendLog(_ context.Context, e *domain.OperationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *e)
	return nil
}

type fakePools struct {
	pools map[string]*domain.Pool
	err   error
}

func (p *fakePools) Register(_ context.Context, pool *domain.Pool) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	if _, ok := p.pools[pool.Address]; ok {
		return false, nil
	}
	p.pools[pool.Address] = pool
	return true, nil
}

func (p *fakePools) GetByAddress(_ context.Context, address string) (*domain.Pool, error) {
	pool, ok := p.pools[address]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return pool, nil
}

type fakePublisher struct {
	published []domain.OperationLog
}

func (p *fakePublisher) PublishLog(_ context.Context, e *domain.OperationLog) error {
	p.published = append(p.published, *e)
	return nil
}

type fixture struct {
	gw      *fakeGateway
	records *fakeRecords
	pools   *fakePools
	pub     *fakePublisher
	svc     *operations.Service
}

func newFixture() *fixture {
	f := &fixture{
		gw:      &fakeGateway{tokenBalance: map[string]float64{}},
		records: &fakeRecords{},
		pools:   &fakePools{pools: map[string]*domain.Pool{}},
		pub:     &fakePublisher{},
	}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.svc = operations.NewService(operations.Collaborators{
		Chain:     f.gw,
		Fees:      f.gw,
		Swaps:     f.gw,
		Burner:    f.gw,
		Records:   f.records,
		Pools:     f.pools,
		Publisher: f.pub,
	}, operations.Config{
		SOLReserve:        0.05,
		SlippageBps:       100,
		PlatformTokenMint: "platform-mint",
	}, logger.NewNop(), operations.WithClock(func() time.Time { return now }))
	return f
}

func testPool() *domain.Pool {
	return &domain.Pool{Address: "pool1", TokenMint: "mint1", Status: domain.PoolStatusMigrated, IsMigrated: true}
}

func TestCollectFees(t *testing.T) {
	f := newFixture()
	f.gw.claimable = 0.3

	result := f.svc.CollectFees(context.Background(), testPool())

	require.True(t, result.Success)
	assert.InDelta(t, 0.3, result.AmountSOL, 1e-9)
	assert.Equal(t, "claim-sig", result.Signature)
	require.Len(t, f.records.feeClaims, 1)
	require.Len(t, f.records.logs, 1)
	assert.Equal(t, domain.OperationStatusSuccess, f.records.logs[0].Status)
	assert.Len(t, f.pub.published, 1)
}

func TestCollectFees_NothingClaimableSucceedsWithZero(t *testing.T) {
	f := newFixture()

	result := f.svc.CollectFees(context.Background(), testPool())

	require.True(t, result.Success)
	assert.Zero(t, result.AmountSOL)
	assert.Zero(t, f.gw.claims)
	assert.Empty(t, f.records.feeClaims)
}

func TestCollectFees_FailureLogged(t *testing.T) {
	f := newFixture()
	f.gw.claimable = 0.3
	f.gw.claimErr = errRPC

	result := f.svc.CollectFees(context.Background(), testPool())

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "rpc timeout")
	require.Len(t, f.records.logs, 1)
	assert.Equal(t, domain.OperationStatusFailed, f.records.logs[0].Status)
	require.NotNil(t, f.records.logs[0].ErrorMessage)
}

func TestBuyback_SpendsMinOfRequestAndSpendable(t *testing.T) {
	testCases := []struct {
		name      string
		balance   float64
		requested float64
		wantSpent float64
	}{
		{name: "request below spendable", balance: 1, requested: 0.2, wantSpent: 0.2},
		{name: "request above spendable", balance: 0.25, requested: 0.5, wantSpent: 0.2},
		{name: "only reserve left", balance: 0.05, requested: 0.5, wantSpent: 0},
		{name: "below reserve", balance: 0.01, requested: 0.5, wantSpent: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.gw.solBalance = tc.balance

			result := f.svc.Buyback(context.Background(), testPool(), tc.requested)

			require.True(t, result.Success)
			assert.InDelta(t, tc.wantSpent, result.SolSpent, 1e-9)
			if tc.wantSpent == 0 {
				assert.Empty(t, f.gw.swaps)
				assert.Empty(t, f.records.buybacks)
				return
			}
			require.Len(t, f.gw.swaps, 1)
			assert.Equal(t, "mint1", f.gw.swaps[0].OutputMint)
			assert.Equal(t, 100, f.gw.swaps[0].SlippageBps)
			require.Len(t, f.records.buybacks, 1)
		})
	}
}

func TestBuyback_SwapFailure(t *testing.T) {
	f := newFixture()
	f.gw.solBalance = 1
	f.gw.swapErr = errors.New("slippage exceeded")

	result := f.svc.Buyback(context.Background(), testPool(), 0.5)

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "slippage exceeded")
	assert.Empty(t, f.records.buybacks)
	require.Len(t, f.records.logs, 1)
	assert.Equal(t, domain.OperationStatusFailed, f.records.logs[0].Status)
}

func TestBuyback_RecordFailureStillSucceeds(t *testing.T) {
	f := newFixture()
	f.gw.solBalance = 1
	f.records.recordErr = errors.New("connection refused")

	result := f.svc.Buyback(context.Background(), testPool(), 0.5)

	require.True(t, result.Success)
	assert.Equal(t, "swap-sig", result.Signature)
}

func TestBuyback_NilPool(t *testing.T) {
	f := newFixture()
	result := f.svc.Buyback(context.Background(), nil, 0.5)
	require.False(t, result.Success)
}

func TestBurn(t *testing.T) {
	f := newFixture()
	f.gw.tokenBalance["mint1"] = 300

	result := f.svc.Burn(context.Background(), testPool(), 500)

	require.True(t, result.Success)
	assert.InDelta(t, 300, result.TokensBurned, 1e-9)
	require.Len(t, f.records.burns, 1)
	require.NotNil(t, f.records.burns[0].PoolAddress)
	assert.Equal(t, "pool1", *f.records.burns[0].PoolAddress)
}

func TestBurn_WithoutPoolUsesPlatformMint(t *testing.T) {
	f := newFixture()
	f.gw.tokenBalance["platform-mint"] = 50

	result := f.svc.Burn(context.Background(), nil, 20)

	require.True(t, result.Success)
	assert.InDelta(t, 20, result.TokensBurned, 1e-9)
	require.Len(t, f.records.burns, 1)
	assert.Nil(t, f.records.burns[0].PoolAddress)
}

func TestBurn_NothingToBurn(t *testing.T) {
	f := newFixture()

	result := f.svc.Burn(context.Background(), testPool(), 100)

	require.True(t, result.Success)
	assert.Zero(t, result.TokensBurned)
	assert.Empty(t, f.gw.burns)
}

func TestBurn_BalanceError(t *testing.T) {
	f := newFixture()
	f.gw.balanceErr = errRPC

	result := f.svc.Burn(context.Background(), testPool(), 100)

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "rpc timeout")
}

func TestRegister_Idempotent(t *testing.T) {
	f := newFixture()
	reg := domain.RegisterPayload{PoolAddress: "pool9", BaseMint: "mint9", PoolType: "dbc"}

	first := f.svc.Register(context.Background(), reg)
	require.True(t, first.Success)
	assert.True(t, first.Created)
	require.NotNil(t, first.Pool)
	assert.Equal(t, domain.PoolStatusActive, first.Pool.Status)

	second := f.svc.Register(context.Background(), reg)
	require.True(t, second.Success)
	assert.False(t, second.Created)
	assert.Same(t, first.Pool, second.Pool)
	assert.Len(t, f.records.logs, 1)
}

func TestRegister_Failures(t *testing.T) {
	f := newFixture()

	invalid := f.svc.Register(context.Background(), domain.RegisterPayload{PoolAddress: "pool1"})
	require.False(t, invalid.Success)

	f.pools.err = errors.New("connection refused")
	failed := f.svc.Register(context.Background(), domain.RegisterPayload{PoolAddress: "pool1", BaseMint: "mint1"})
	require.False(t, failed.Success)
	assert.Contains(t, failed.Error, "connection refused")
}
