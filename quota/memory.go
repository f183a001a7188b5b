package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ineyio/aidirector"
)

// MemoryLedger is an in-memory Ledger. Usage resets with the calendar day of
// its clock.
type MemoryLedger struct {
	mu           sync.Mutex
	records      map[string]*aidirector.UsageRecord // day|provider|model|caller
	reservations map[string]aidirector.Reservation
	now          func() time.Time
	loc          *time.Location
}

var _ aidirector.Ledger = (*MemoryLedger)(nil)

// MemoryOption configures a MemoryLedger.
type MemoryOption func(*MemoryLedger)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLedger) { l.now = now }
}

// WithLocation sets the location whose calendar defines minute, hour and
// day boundaries. Defaults to UTC.
func WithLocation(loc *time.Location) MemoryOption {
	return func(l *MemoryLedger) { l.loc = loc }
}

// NewMemoryLedger creates a new in-memory ledger.
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		records:      make(map[string]*aidirector.UsageRecord),
		reservations: make(map[string]aidirector.Reservation),
		now:          time.Now,
		loc:          time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLedger) clock() time.Time {
	return l.now().In(l.loc)
}

// Now returns the ledger clock in the ledger's location.
func (l *MemoryLedger) Now() time.Time {
	return l.clock()
}

func recordKey(day string, key aidirector.UsageKey) string {
	return day + "|" + key.String()
}

// load returns today's record for key, creating it if needed. Must be called
// with the lock held.
func (l *MemoryLedger) load(key aidirector.UsageKey, limits aidirector.Limits, now time.Time) *aidirector.UsageRecord {
	k := recordKey(aidirector.DayOf(now), key)
	rec, ok := l.records[k]
	if !ok {
		r := aidirector.NewUsageRecord(key, limits, now)
		rec = &r
		l.records[k] = rec
	}
	rec.Limits = limits
	rec.Rollover(now)
	return rec
}

// Reserve checks admission and holds one request and estimatedTokens tokens.
func (l *MemoryLedger) Reserve(_ context.Context, key aidirector.UsageKey, limits aidirector.Limits, rule aidirector.AdmissionRule, estimatedTokens int64) (aidirector.Reservation, aidirector.UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	rec := l.load(key, limits, now)

	res := aidirector.Reservation{
		ID:        uuid.New().String(),
		Key:       key,
		Day:       rec.Day,
		Requests:  1,
		Tokens:    estimatedTokens,
		CreatedAt: now,
	}
	if _, blocked := rec.Blocking(rule.Critical, rule.Thresholds, res); blocked {
		return aidirector.Reservation{}, *rec, aidirector.ErrQuotaExceeded
	}

	rec.Hold(res)
	l.reservations[res.ID] = res
	return res, *rec, nil
}

// Commit releases the reservation and records actual usage on today's record.
func (l *MemoryLedger) Commit(_ context.Context, res aidirector.Reservation, delta aidirector.UsageDelta) (aidirector.UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limits, err := l.release(res)
	if err != nil {
		return aidirector.UsageRecord{}, err
	}

	now := l.clock()
	rec := l.load(res.Key, limits, now)
	rec.Apply(delta, now)
	return *rec, nil
}

// Rollback releases a reservation.
func (l *MemoryLedger) Rollback(_ context.Context, res aidirector.Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.release(res)
	return err
}

// release drops a reservation and returns the limits of the record it held.
func (l *MemoryLedger) release(res aidirector.Reservation) (aidirector.Limits, error) {
	held, ok := l.reservations[res.ID]
	if !ok {
		return aidirector.Limits{}, aidirector.ErrReservationNotFound
	}
	delete(l.reservations, res.ID)

	rec, ok := l.records[recordKey(held.Day, held.Key)]
	if !ok {
		return aidirector.Limits{}, nil
	}
	rec.Release(held)
	return rec.Limits, nil
}

// Record adds usage to today's record for key.
func (l *MemoryLedger) Record(_ context.Context, key aidirector.UsageKey, limits aidirector.Limits, delta aidirector.UsageDelta) (aidirector.UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	rec := l.load(key, limits, now)
	rec.Apply(delta, now)
	return *rec, nil
}

// Status returns today's record for key.
func (l *MemoryLedger) Status(_ context.Context, key aidirector.UsageKey) (aidirector.UsageRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	rec, ok := l.records[recordKey(aidirector.DayOf(now), key)]
	if !ok {
		return aidirector.UsageRecord{}, false, nil
	}
	rec.Rollover(now)
	return *rec, true, nil
}

// Records returns today's records of callerID on provider ordered by model.
func (l *MemoryLedger) Records(_ context.Context, provider, callerID string) ([]aidirector.UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	day := aidirector.DayOf(now)

	var out []aidirector.UsageRecord
	for _, rec := range l.records {
		if rec.Day != day || rec.Provider != provider || rec.CallerID != callerID {
			continue
		}
		rec.Rollover(now)
		out = append(out, *rec)
	}
	sortByModel(out)
	return out, nil
}
