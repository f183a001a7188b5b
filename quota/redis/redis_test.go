//go:build integration

package redis_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/aidirector"
	quotaredis "github.com/ineyio/aidirector/quota/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestLedger(t *testing.T, client *goredis.Client, opts ...quotaredis.Option) *quotaredis.Ledger {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	l := quotaredis.New(client, append([]quotaredis.Option{quotaredis.WithKeyPrefix(prefix)}, opts...)...)
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return l
}

var (
	key    = aidirector.UsageKey{Provider: "groq", Model: "llama-3.1-8b-instant", CallerID: "user-1"}
	limits = aidirector.Limits{RequestsPerMinute: 100, RequestsPerDay: 1000, TokensPerMinute: 100000}
	rule   = aidirector.AdmissionRule{
		Critical:   []aidirector.Dimension{aidirector.RequestsPerMinute, aidirector.TokensPerMinute},
		Thresholds: aidirector.DefaultThresholds,
	}
)

func TestReserveAndCommit(t *testing.T) {
	client := newTestClient(t)
	l := newTestLedger(t, client)
	ctx := context.Background()

	res, rec, err := l.Reserve(ctx, key, limits, rule, 100)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Requests != 1 || res.Tokens != 100 {
		t.Fatalf("unexpected reservation: %+v", res)
	}
	if rec.ReservedRequests != 1 {
		t.Fatalf("expected 1 reserved request, got %d", rec.ReservedRequests)
	}

	rec, err = l.Commit(ctx, res, aidirector.UsageDelta{Requests: 1, InputTokens: 30, OutputTokens: 50})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if rec.ReservedRequests != 0 || rec.ReservedTokens != 0 {
		t.Fatalf("reservation not released: %+v", rec)
	}
	if rec.Daily.Requests != 1 || rec.Daily.Tokens != 80 {
		t.Fatalf("unexpected daily window: %+v", rec.Daily)
	}

	got, found, err := l.Status(ctx, key)
	if err != nil || !found {
		t.Fatalf("status: found=%v err=%v", found, err)
	}
	if got.Minute.Tokens != 80 {
		t.Fatalf("expected 80 minute tokens, got %d", got.Minute.Tokens)
	}
}

func TestReserveExceeded(t *testing.T) {
	client := newTestClient(t)
	l := newTestLedger(t, client)
	ctx := context.Background()

	tight := aidirector.Limits{RequestsPerMinute: 2}
	for range 2 {
		if _, err := l.Record(ctx, key, tight, aidirector.UsageDelta{Requests: 1}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	_, rec, err := l.Reserve(ctx, key, tight, rule, 10)
	if !errors.Is(err, aidirector.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if rec.Minute.Requests != 2 {
		t.Fatalf("expected rejected record to carry usage, got %+v", rec.Minute)
	}
}

func TestRollback(t *testing.T) {
	client := newTestClient(t)
	l := newTestLedger(t, client)
	ctx := context.Background()

	res, _, err := l.Reserve(ctx, key, limits, rule, 60)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if err := l.Rollback(ctx, res); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	rec, _, err := l.Status(ctx, key)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.ReservedRequests != 0 || rec.Daily.Requests != 0 {
		t.Fatalf("expected nothing held or used after rollback, got %+v", rec)
	}

	if err := l.Rollback(ctx, res); !errors.Is(err, aidirector.ErrReservationNotFound) {
		t.Fatalf("expected ErrReservationNotFound on second rollback, got %v", err)
	}
}

func TestUnknownKeyHasNoStatus(t *testing.T) {
	client := newTestClient(t)
	l := newTestLedger(t, client)

	_, found, err := l.Status(context.Background(), aidirector.UsageKey{Provider: "x", Model: "y", CallerID: "z"})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if found {
		t.Fatal("expected no record")
	}
}

func TestDailyReset(t *testing.T) {
	client := newTestClient(t)
	var now atomic.Int64
	now.Store(time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC).Unix())
	l := newTestLedger(t, client, quotaredis.WithClock(func() time.Time {
		return time.Unix(now.Load(), 0)
	}))
	ctx := context.Background()

	if _, err := l.Record(ctx, key, limits, aidirector.UsageDelta{Requests: 5}); err != nil {
		t.Fatalf("record: %v", err)
	}

	now.Add(120)

	_, found, err := l.Status(ctx, key)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if found {
		t.Fatal("expected a fresh day to have no record")
	}
}

func TestConcurrentReservesNoOverAllocation(t *testing.T) {
	client := newTestClient(t)
	fixed := time.Now().Truncate(time.Minute).Add(30 * time.Second)
	l := newTestLedger(t, client, quotaredis.WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	tight := aidirector.Limits{RequestsPerMinute: 10}

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

	// The at-limit threshold is 95%, so the 10th request is the last admitted.
	if successCount.Load() != 10 {
		t.Fatalf("expected 10 successful reserves, got %d", successCount.Load())
	}
}

func TestRecordsListsCallerModels(t *testing.T) {
	client := newTestClient(t)
	l := newTestLedger(t, client)
	ctx := context.Background()

	other := key
	other.Model = "gemma2-9b-it"
	for _, k := range []aidirector.UsageKey{key, other} {
		if _, err := l.Record(ctx, k, limits, aidirector.UsageDelta{Requests: 1, InputTokens: 10}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	recs, err := l.Records(ctx, "groq", "user-1")
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(recs) != 2 || recs[0].Model != "gemma2-9b-it" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestKeyPrefixIsolation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := quotaredis.New(client, quotaredis.WithKeyPrefix("test:iso1:"))
	l2 := quotaredis.New(client, quotaredis.WithKeyPrefix("test:iso2:"))
	t.Cleanup(func() {
		for _, p := range []string{"test:iso1:*", "test:iso2:*"} {
			iter := client.Scan(ctx, 0, p, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
	})

	if _, err := l1.Record(ctx, key, limits, aidirector.UsageDelta{Requests: 3}); err != nil {
		t.Fatalf("record: %v", err)
	}

	_, found, err := l2.Status(ctx, key)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if found {
		t.Fatal("expected prefixes to isolate ledgers")
	}
}
