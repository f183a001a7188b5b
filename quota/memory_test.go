package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ineyio/aidirector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey   = aidirector.UsageKey{Provider: "groq", Model: "llama-3.1-8b-instant", CallerID: "user-1"}
	testRule  = aidirector.AdmissionRule{Critical: aidirector.AllDimensions, Thresholds: aidirector.DefaultThresholds}
	testStart = time.Date(2025, 6, 1, 23, 59, 10, 0, time.UTC)
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLedger_ReserveAndCommit(t *testing.T) {
	l := NewMemoryLedger(WithClock(func() time.Time { return testStart }))
	ctx := context.Background()
	limits := aidirector.Limits{RequestsPerDay: 100, TokensPerDay: 10000}

	res, rec, err := l.Reserve(ctx, testKey, limits, testRule, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, int64(1), rec.ReservedRequests)
	assert.Equal(t, int64(50), rec.ReservedTokens)
	assert.Zero(t, rec.Daily.Requests)

	rec, err = l.Commit(ctx, res, aidirector.UsageDelta{Requests: 1, InputTokens: 30, OutputTokens: 70})
	require.NoError(t, err)
	assert.Zero(t, rec.ReservedRequests)
	assert.Zero(t, rec.ReservedTokens)
	assert.Equal(t, int64(1), rec.Daily.Requests)
	assert.Equal(t, int64(100), rec.Daily.Tokens)

	got, found, err := l.Status(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec.Daily, got.Daily)
	assert.Equal(t, "2025-06-01", got.Day)

	_, err = l.Commit(ctx, res, aidirector.UsageDelta{Requests: 1})
	assert.ErrorIs(t, err, aidirector.ErrReservationNotFound)
}

func TestMemoryLedger_ReserveExceeded(t *testing.T) {
	l := NewMemoryLedger(WithClock(func() time.Time { return testStart }))
	ctx := context.Background()
	limits := aidirector.Limits{RequestsPerMinute: 2}

	for i := 0; i < 2; i++ {
		_, _, err := l.Reserve(ctx, testKey, limits, testRule, 1)
		require.NoError(t, err)
	}

	_, rec, err := l.Reserve(ctx, testKey, limits, testRule, 1)
	assert.ErrorIs(t, err, aidirector.ErrQuotaExceeded)
	assert.Equal(t, int64(2), rec.ReservedRequests)
}

func TestMemoryLedger_Rollback(t *testing.T) {
	l := NewMemoryLedger(WithClock(func() time.Time { return testStart }))
	ctx := context.Background()
	limits := aidirector.Limits{RequestsPerDay: 1}

	res, _, err := l.Reserve(ctx, testKey, limits, testRule, 10)
	require.NoError(t, err)
	_, _, err = l.Reserve(ctx, testKey, limits, testRule, 10)
	require.ErrorIs(t, err, aidirector.ErrQuotaExceeded)

	require.NoError(t, l.Rollback(ctx, res))
	assert.ErrorIs(t, l.Rollback(ctx, res), aidirector.ErrReservationNotFound)

	_, _, err = l.Reserve(ctx, testKey, limits, testRule, 10)
	assert.NoError(t, err)
}

func TestMemoryLedger_UnknownKeyHasNoStatus(t *testing.T) {
	l := NewMemoryLedger()
	_, found, err := l.Status(context.Background(), testKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryLedger_WindowRollover(t *testing.T) {
	clock := &fakeClock{now: testStart}
	l := NewMemoryLedger(WithClock(clock.Now))
	ctx := context.Background()

	_, err := l.Record(ctx, testKey, aidirector.Limits{}, aidirector.UsageDelta{Requests: 3, InputTokens: 30, AudioSeconds: 2})
	require.NoError(t, err)

	// 23:59:40, same minute.
	clock.Advance(30 * time.Second)
	rec, found, err := l.Status(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(3), rec.Minute.Requests)

	// 00:00:10 the next day: a fresh record.
	clock.Advance(30 * time.Second)
	_, found, err = l.Status(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, found)

	rec, err = l.Record(ctx, testKey, aidirector.Limits{}, aidirector.UsageDelta{Requests: 1})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-02", rec.Day)
	assert.Equal(t, int64(1), rec.Daily.Requests)
	assert.Zero(t, rec.Hour.AudioSeconds)
}

func TestMemoryLedger_MinuteRolloverWithinDay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 5, 0, time.UTC)}
	l := NewMemoryLedger(WithClock(clock.Now))
	ctx := context.Background()
	limits := aidirector.Limits{RequestsPerMinute: 1, RequestsPerDay: 10}

	res, _, err := l.Reserve(ctx, testKey, limits, testRule, 1)
	require.NoError(t, err)
	_, err = l.Commit(ctx, res, aidirector.UsageDelta{Requests: 1})
	require.NoError(t, err)

	_, _, err = l.Reserve(ctx, testKey, limits, testRule, 1)
	require.ErrorIs(t, err, aidirector.ErrQuotaExceeded)

	clock.Advance(time.Minute)
	_, rec, err := l.Reserve(ctx, testKey, limits, testRule, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Daily.Requests)
	assert.Zero(t, rec.Minute.Requests)
}

func TestMemoryLedger_Location(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 20:00 UTC is 05:00 the next day in Tokyo.
	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	l := NewMemoryLedger(WithClock(func() time.Time { return now }), WithLocation(tokyo))

	rec, err := l.Record(context.Background(), testKey, aidirector.Limits{}, aidirector.UsageDelta{Requests: 1})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-02", rec.Day)
}

func TestMemoryLedger_ConcurrentReservesNoOverAllocation(t *testing.T) {
	l := NewMemoryLedger(WithClock(func() time.Time { return testStart }))
	ctx := context.Background()
	limits := aidirector.Limits{RequestsPerDay: 10}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := l.Reserve(ctx, testKey, limits, testRule, 5); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, admitted)
}

func TestMemoryLedger_Records(t *testing.T) {
	l := NewMemoryLedger(WithClock(func() time.Time { return testStart }))
	ctx := context.Background()

	for _, model := range []string{"zeta", "alpha", "mid"} {
		key := aidirector.UsageKey{Provider: "groq", Model: model, CallerID: "user-1"}
		_, err := l.Record(ctx, key, aidirector.Limits{}, aidirector.UsageDelta{Requests: 1})
		require.NoError(t, err)
	}
	_, err := l.Record(ctx, aidirector.UsageKey{Provider: "groq", Model: "alpha", CallerID: "user-2"}, aidirector.Limits{}, aidirector.UsageDelta{Requests: 1})
	require.NoError(t, err)
	_, err = l.Record(ctx, aidirector.UsageKey{Provider: "gemini", Model: "alpha", CallerID: "user-1"}, aidirector.Limits{}, aidirector.UsageDelta{Requests: 1})
	require.NoError(t, err)

	recs, err := l.Records(ctx, "groq", "user-1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "alpha", recs[0].Model)
	assert.Equal(t, "mid", recs[1].Model)
	assert.Equal(t, "zeta", recs[2].Model)
}
