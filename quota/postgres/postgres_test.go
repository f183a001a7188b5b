//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/aidirector"
	quotapg "github.com/ineyio/aidirector/quota/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/aidirector_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestLedger(t *testing.T, pool *pgxpool.Pool, opts ...quotapg.Option) *quotapg.Ledger {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	l := quotapg.New(pool, append([]quotapg.Option{quotapg.WithTablePrefix(prefix)}, opts...)...)

	ctx := context.Background()
	if err := l.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %susage, %sreservations", prefix, prefix))
	})
	return l
}

var (
	key    = aidirector.UsageKey{Provider: "gemini", Model: "gemini-1.5-flash", CallerID: "user-1"}
	limits = aidirector.Limits{RequestsPerDay: 1500, TokensPerDay: 1500000}
	rule   = aidirector.AdmissionRule{
		Critical:   []aidirector.Dimension{aidirector.RequestsPerDay, aidirector.TokensPerDay},
		Thresholds: aidirector.DefaultThresholds,
	}
)

func TestReserveAndCommit(t *testing.T) {
	pool := newTestPool(t)
	l := newTestLedger(t, pool)
	ctx := context.Background()

	res, _, err := l.Reserve(ctx, key, limits, rule, 100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	rec, err := l.Commit(ctx, res, aidirector.UsageDelta{Requests: 1, InputTokens: 40, OutputTokens: 60})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if rec.ReservedRequests != 0 || rec.ReservedTokens != 0 {
		t.Fatalf("reservation not released: %+v", rec)
	}
	if rec.Daily.Requests != 1 || rec.Daily.Tokens != 100 {
		t.Fatalf("unexpected daily window: %+v", rec.Daily)
	}
}

func TestReserveExceeded(t *testing.T) {
	pool := newTestPool(t)
	l := newTestLedger(t, pool)
	ctx := context.Background()

	tight := aidirector.Limits{RequestsPerDay: 3}
	for range 3 {
		if _, err := l.Record(ctx, key, tight, aidirector.UsageDelta{Requests: 1}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	_, rec, err := l.Reserve(ctx, key, tight, rule, 10)
	if !errors.Is(err, aidirector.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if rec.Daily.Requests != 3 {
		t.Fatalf("expected rejected record to carry usage, got %+v", rec.Daily)
	}
}

func TestRollback(t *testing.T) {
	pool := newTestPool(t)
	l := newTestLedger(t, pool)
	ctx := context.Background()

	res, _, err := l.Reserve(ctx, key, limits, rule, 60)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Rollback(ctx, res); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	rec, found, err := l.Status(ctx, key)
	if err != nil || !found {
		t.Fatalf("status: found=%v err=%v", found, err)
	}
	if rec.ReservedRequests != 0 || rec.Daily.Requests != 0 {
		t.Fatalf("expected nothing held or used after rollback, got %+v", rec)
	}

	if _, err := l.Commit(ctx, res, aidirector.UsageDelta{Requests: 1}); !errors.Is(err, aidirector.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound, got %v", err)
	}
}

func TestDailyReset(t *testing.T) {
	pool := newTestPool(t)
	var now atomic.Int64
	now.Store(time.Date(2026, 3, 1, 23, 59, 30, 0, time.UTC).Unix())
	l := newTestLedger(t, pool, quotapg.WithClock(func() time.Time { return time.Unix(now.Load(), 0) }))
	ctx := context.Background()

	tight := aidirector.Limits{RequestsPerDay: 1}
	if _, err := l.Record(ctx, key, tight, aidirector.UsageDelta{Requests: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := l.Reserve(ctx, key, tight, rule, 1); !errors.Is(err, aidirector.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded before midnight, got %v", err)
	}

	now.Add(60)

	if _, _, err := l.Reserve(ctx, key, tight, rule, 1); err != nil {
		t.Fatalf("expected reserve after reset, got: %v", err)
	}
}

func TestConcurrentReservesNoOverAllocation(t *testing.T) {
	pool := newTestPool(t)
	l := newTestLedger(t, pool)
	ctx := context.Background()

	tight := aidirector.Limits{RequestsPerDay: 10}

	var wg sync.WaitGroup
	var successCount atomic.Int64
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := l.Reserve(ctx, key, tight, rule, 1); err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 10 {
		t.Fatalf("expected 10 successful reserves, got %d", successCount.Load())
	}
}

func TestTablePrefixIsolation(t *testing.T) {
	pool := newTestPool(t)
	l1 := newTestLedger(t, pool)
	ctx := context.Background()

	l2 := quotapg.New(pool, quotapg.WithTablePrefix("test_iso2_"))
	if err := l2.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, "DROP TABLE IF EXISTS test_iso2_usage, test_iso2_reservations")
	})

	if _, err := l1.Record(ctx, key, limits, aidirector.UsageDelta{Requests: 2}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, found, err := l2.Status(ctx, key); err != nil || found {
		t.Fatalf("expected prefixes to isolate ledgers, found=%v err=%v", found, err)
	}
}

func TestCleanupReservations(t *testing.T) {
	pool := newTestPool(t)
	l := newTestLedger(t, pool)
	ctx := context.Background()

	for range 5 {
		if _, _, err := l.Reserve(ctx, key, limits, rule, 1); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}

	deleted, err := l.CleanupReservations(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("expected 5 deleted, got %d", deleted)
	}
}
