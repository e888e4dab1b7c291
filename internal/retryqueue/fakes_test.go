package retryqueue_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/moonerfun/flywheel/internal/domain"
)

var errStoreDown = errors.New("connection refused")

// memStore is an in-memory retry queue store with failure injection. Writes
// fail on a cancelled context, as database/sql does.
type memStore struct {
	mu        sync.Mutex
	items     map[string]*domain.RetryQueueItem
	mutations int

	insertErr error
	fetchErr  error
	claimErr  error
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]*domain.RetryQueueItem)}
}

func (s *memStore) Insert(_ context.Context, item *domain.RetryQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}
	cp := *item
	s.items[item.ID] = &cp
	s.mutations++
	return nil
}

func (s *memStore) FetchDue(_ context.Context, now time.Time, limit int) ([]domain.RetryQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var due []domain.RetryQueueItem
	for _, item := range s.items {
		if item.Status == domain.RetryStatusPending && !item.NextRetryAt.After(now) {
			due = append(due, *item)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) update(ctx context.Context, id string, fn func(item *domain.RetryQueueItem) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok || !fn(item) {
		return domain.ErrNotFound
	}
	s.mutations++
	return nil
}

func (s *memStore) MarkProcessing(ctx context.Context, id string, now time.Time) error {
	if s.claimErr != nil {
		return s.claimErr
	}
	return s.update(ctx, id, func(item *domain.RetryQueueItem) bool {
		if item.Status != domain.RetryStatusPending {
			return false
		}
		item.Status = domain.RetryStatusProcessing
		item.LastAttemptAt = &now
		item.UpdatedAt = now
		return true
	})
}

func (s *memStore) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return s.update(ctx, id, func(item *domain.RetryQueueItem) bool {
		item.Status = domain.RetryStatusCompleted
		item.LastError = nil
		item.UpdatedAt = now
		return true
	})
}

func (s *memStore) MarkRetry(ctx context.Context, id string, retryCount int, next time.Time, lastError string, now time.Time) error {
	return s.update(ctx, id, func(item *domain.RetryQueueItem) bool {
		item.Status = domain.RetryStatusPending
		item.RetryCount = retryCount
		if next.After(item.NextRetryAt) {
			item.NextRetryAt = next
		}
		item.LastError = &lastError
		item.UpdatedAt = now
		return true
	})
}

func (s *memStore) MarkFailed(ctx context.Context, id string, retryCount int, lastError string, now time.Time) error {
	return s.update(ctx, id, func(item *domain.RetryQueueItem) bool {
		item.Status = domain.RetryStatusFailed
		item.RetryCount = retryCount
		item.LastError = &lastError
		item.UpdatedAt = now
		return true
	})
}

func (s *memStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, item := range s.items {
		if item.Status.IsTerminal() && item.UpdatedAt.Before(cutoff) {
			delete(s.items, id)
			deleted++
		}
	}
	s.mutations++
	return deleted, nil
}

func (s *memStore) ResetStaleProcessing(_ context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset int64
	for _, item := range s.items {
		if item.Status == domain.RetryStatusProcessing && item.LastAttemptAt != nil && item.LastAttemptAt.Before(cutoff) {
			item.RetryCount = min(item.RetryCount+1, item.MaxRetries)
			item.Status = domain.RetryStatusPending
			if item.Exhausted(item.RetryCount) {
				item.Status = domain.RetryStatusFailed
			}
			lastError := domain.AbandonedInProcessing
			item.LastError = &lastError
			item.UpdatedAt = now
			reset++
		}
	}
	s.mutations++
	return reset, nil
}

func (s *memStore) Stats(_ context.Context, now time.Time) (*domain.RetryQueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &domain.RetryQueueStats{}
	for _, item := range s.items {
		switch item.Status {
		case domain.RetryStatusPending:
			stats.Pending++
			if !item.NextRetryAt.After(now) {
				stats.Due++
			}
		case domain.RetryStatusProcessing:
			stats.Processing++
		case domain.RetryStatusCompleted:
			stats.Completed++
		case domain.RetryStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (s *memStore) get(id string) domain.RetryQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

func (s *memStore) all() []domain.RetryQueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.RetryQueueItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, *item)
	}
	return out
}

func (s *memStore) mutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// poolsByAddress resolves pools from a fixed map.
type poolsByAddress map[string]*domain.Pool

func (p poolsByAddress) GetByAddress(_ context.Context, address string) (*domain.Pool, error) {
	pool, ok := p[address]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return pool, nil
}

// fakeOps dispatches to function fields and records calls.
type fakeOps struct {
	mu    sync.Mutex
	calls []string

	collectFees func(ctx context.Context, pool *domain.Pool) domain.FeeClaimResult
	buyback     func(ctx context.Context, pool *domain.Pool, solAmount float64) domain.BuybackResult
	burn        func(ctx context.Context, pool *domain.Pool, tokenAmount float64) domain.BurnResult
	register    func(ctx context.Context, reg domain.RegisterPayload) domain.RegisterResult
}

func (f *fakeOps) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeOps) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeOps) CollectFees(ctx context.Context, pool *domain.Pool) domain.FeeClaimResult {
	f.record("fee_claim")
	if f.collectFees == nil {
		return domain.FeeClaimResult{Outcome: domain.Succeeded()}
	}
	return f.collectFees(ctx, pool)
}

func (f *fakeOps) Buyback(ctx context.Context, pool *domain.Pool, solAmount float64) domain.BuybackResult {
	f.record("buyback")
	if f.buyback == nil {
		return domain.BuybackResult{Outcome: domain.Succeeded(), SolSpent: solAmount}
	}
	return f.buyback(ctx, pool, solAmount)
}

func (f *fakeOps) Burn(ctx context.Context, pool *domain.Pool, tokenAmount float64) domain.BurnResult {
	f.record("burn")
	if f.burn == nil {
		return domain.BurnResult{Outcome: domain.Succeeded(), TokensBurned: tokenAmount}
	}
	return f.burn(ctx, pool, tokenAmount)
}

func (f *fakeOps) Register(ctx context.Context, reg domain.RegisterPayload) domain.RegisterResult {
	f.record("register")
	if f.register == nil {
		return domain.RegisterResult{Outcome: domain.Succeeded()}
	}
	return f.register(ctx, reg)
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
