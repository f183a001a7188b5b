// Package redis provides a Redis-backed Ledger for aidirector.
//
// Each usage record is a JSON document keyed by day and (provider, model,
// caller). Mutations run in WATCH/MULTI transactions and are retried when a
// concurrent writer touched the record, so several director instances can
// share one Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/aidirector"
)

const (
	defaultKeyPrefix = "aidirector:usage:"
	defaultTTL       = 48 * time.Hour
	maxRetries       = 32
)

// Client is the subset of *goredis.Client the ledger needs. Transactions
// touch several keys, so cluster clients are not supported.
type Client interface {
	goredis.Cmdable
	Watch(ctx context.Context, fn func(*goredis.Tx) error, keys ...string) error
}

// Ledger is a Redis-backed aidirector.Ledger.
type Ledger struct {
	client    Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
	loc       *time.Location
}

var _ aidirector.Ledger = (*Ledger)(nil)

// Option configures Ledger.
type Option func(*Ledger)

// WithKeyPrefix sets the Redis key prefix (default "aidirector:usage:").
func WithKeyPrefix(prefix string) Option {
	return func(l *Ledger) { l.keyPrefix = prefix }
}

// WithTTL sets how long records and reservations are kept (default 48h).
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.ttl = ttl }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the location whose calendar defines window boundaries.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// New creates a new Redis-backed Ledger.
// The client must be a connected *goredis.Client.
func New(client Client, opts ...Option) *Ledger {
	l := &Ledger{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		ttl:       defaultTTL,
		now:       time.Now,
		loc:       time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) clock() time.Time {
	return l.now().In(l.loc)
}

// Now returns the ledger clock in the ledger's location.
func (l *Ledger) Now() time.Time {
	return l.clock()
}

func (l *Ledger) recordKey(day string, key aidirector.UsageKey) string {
	return l.keyPrefix + "rec:" + day + ":" + key.String()
}

func (l *Ledger) indexKey(day, provider, callerID string) string {
	return l.keyPrefix + "idx:" + day + ":" + provider + "|" + callerID
}

func (l *Ledger) reservationKey(id string) string {
	return l.keyPrefix + "res:" + id
}

// errSkip aborts a mutation without writing.
var errSkip = errors.New("skip")

// mutation describes one optimistic read-modify-write of a usage record.
type mutation struct {
	key    aidirector.UsageKey
	day    string
	now    time.Time
	limits *aidirector.Limits // nil keeps the stored limits
	create bool               // create the record when missing

	// apply modifies rec; returning errSkip aborts without writing and any
	// other error aborts the mutation.
	apply func(ctx context.Context, tx *goredis.Tx, rec *aidirector.UsageRecord) error

	// queue adds extra commands to the transaction.
	queue func(ctx context.Context, p goredis.Pipeliner)

	watch []string
}

// mutate runs m with retries and returns the record as last seen.
func (l *Ledger) mutate(ctx context.Context, m mutation) (aidirector.UsageRecord, error) {
	recKey := l.recordKey(m.day, m.key)
	idxKey := l.indexKey(m.day, m.key.Provider, m.key.CallerID)
	keys := append([]string{recKey}, m.watch...)

	var rec aidirector.UsageRecord
	txf := func(tx *goredis.Tx) error {
		rec = aidirector.UsageRecord{}
		data, err := tx.Get(ctx, recKey).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
			if !m.create {
				return errSkip
			}
			rec = aidirector.NewUsageRecord(m.key, aidirector.Limits{}, m.now)
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
		}

		if m.limits != nil {
			rec.Limits = *m.limits
		}
		rec.Rollover(m.now)

		if err := m.apply(ctx, tx, &rec); err != nil {
			return err
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, recKey, payload, l.ttl)
			p.SAdd(ctx, idxKey, recKey)
			p.Expire(ctx, idxKey, l.ttl)
			if m.queue != nil {
				m.queue(ctx, p)
			}
			return nil
		})
		return err
	}

	for range maxRetries {
		err := l.client.Watch(ctx, txf, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return rec, err
	}
	return rec, fmt.Errorf("aidirector/redis: too much contention on %s", recKey)
}

// Reserve checks admission and holds one request and estimatedTokens tokens.
func (l *Ledger) Reserve(ctx context.Context, key aidirector.UsageKey, limits aidirector.Limits, rule aidirector.AdmissionRule, estimatedTokens int64) (aidirector.Reservation, aidirector.UsageRecord, error) {
	now := l.clock()
	res := aidirector.Reservation{
		ID:        uuid.New().String(),
		Key:       key,
		Day:       aidirector.DayOf(now),
		Requests:  1,
		Tokens:    estimatedTokens,
		CreatedAt: now,
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return aidirector.Reservation{}, aidirector.UsageRecord{}, fmt.Errorf("aidirector/redis: encode reservation: %w", err)
	}

	rec, err := l.mutate(ctx, mutation{
		key:    key,
		day:    res.Day,
		now:    now,
		limits: &limits,
		create: true,
		apply: func(_ context.Context, _ *goredis.Tx, rec *aidirector.UsageRecord) error {
			if _, blocked := rec.Blocking(rule.Critical, rule.Thresholds, res); blocked {
				return aidirector.ErrQuotaExceeded
			}
			rec.Hold(res)
			return nil
		},
		queue: func(ctx context.Context, p goredis.Pipeliner) {
			p.Set(ctx, l.reservationKey(res.ID), payload, l.ttl)
		},
	})
	if errors.Is(err, aidirector.ErrQuotaExceeded) {
		return aidirector.Reservation{}, rec, aidirector.ErrQuotaExceeded
	}
	if err != nil {
		return aidirector.Reservation{}, aidirector.UsageRecord{}, fmt.Errorf("aidirector/redis: reserve: %w", err)
	}
	return res, rec, nil
}

// takeReservation reads the reservation at resKey inside tx.
func takeReservation(ctx context.Context, tx *goredis.Tx, resKey string) (aidirector.Reservation, error) {
	var held aidirector.Reservation
	data, err := tx.Get(ctx, resKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return held, aidirector.ErrReservationNotFound
	}
	if err != nil {
		return held, err
	}
	if err := json.Unmarshal(data, &held); err != nil {
		return held, fmt.Errorf("decode reservation: %w", err)
	}
	return held, nil
}

// release drops a reservation and returns the limits of the record it held.
func (l *Ledger) release(ctx context.Context, res aidirector.Reservation) (aidirector.Limits, error) {
	resKey := l.reservationKey(res.ID)

	rec, err := l.mutate(ctx, mutation{
		key:   res.Key,
		day:   res.Day,
		now:   l.clock(),
		watch: []string{resKey},
		apply: func(ctx context.Context, tx *goredis.Tx, rec *aidirector.UsageRecord) error {
			held, err := takeReservation(ctx, tx, resKey)
			if err != nil {
				return err
			}
			rec.Release(held)
			return nil
		},
		queue: func(ctx context.Context, p goredis.Pipeliner) {
			p.Del(ctx, resKey)
		},
	})
	switch {
	case errors.Is(err, errSkip):
		// The record expired; the reservation is meaningless now.
		_ = l.client.Del(ctx, resKey).Err()
		return aidirector.Limits{}, nil
	case err != nil:
		return aidirector.Limits{}, err
	}
	return rec.Limits, nil
}

// Commit releases the reservation and records actual usage on today's record.
// When the reservation was taken today both happen in one transaction, so no
// concurrent Reserve observes the released hold without the recorded usage.
func (l *Ledger) Commit(ctx context.Context, res aidirector.Reservation, delta aidirector.UsageDelta) (aidirector.UsageRecord, error) {
	now := l.clock()
	if day := aidirector.DayOf(now); day != res.Day {
		// The hold sits on an earlier day's record and never counted against today's.
		limits, err := l.release(ctx, res)
		if err != nil {
			return aidirector.UsageRecord{}, fmt.Errorf("aidirector/redis: commit: %w", err)
		}
		rec, err := l.Record(ctx, res.Key, limits, delta)
		if err != nil {
			return aidirector.UsageRecord{}, fmt.Errorf("aidirector/redis: commit: %w", err)
		}
		return rec, nil
	}

	resKey := l.reservationKey(res.ID)
	rec, err := l.mutate(ctx, mutation{
		key:    res.Key,
		day:    res.Day,
		now:    now,
		create: true,
		watch:  []string{resKey},
		apply: func(ctx context.Context, tx *goredis.Tx, rec *aidirector.UsageRecord) error {
			held, err := takeReservation(ctx, tx, resKey)
			if err != nil {
				return err
			}
			rec.Release(held)
			rec.Apply(delta, now)
			return nil
		},
		queue: func(ctx context.Context, p goredis.Pipeliner) {
			p.Del(ctx, resKey)
		},
	})
	if err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/redis: commit: %w", err)
	}
	return rec, nil
}

// Rollback releases a reservation that was not used.
func (l *Ledger) Rollback(ctx context.Context, res aidirector.Reservation) error {
	if _, err := l.release(ctx, res); err != nil {
		return fmt.Errorf("aidirector/redis: rollback: %w", err)
	}
	return nil
}

// Record adds usage to today's record for key.
func (l *Ledger) Record(ctx context.Context, key aidirector.UsageKey, limits aidirector.Limits, delta aidirector.UsageDelta) (aidirector.UsageRecord, error) {
	now := l.clock()
	rec, err := l.mutate(ctx, mutation{
		key:    key,
		day:    aidirector.DayOf(now),
		now:    now,
		limits: &limits,
		create: true,
		apply: func(_ context.Context, _ *goredis.Tx, rec *aidirector.UsageRecord) error {
			rec.Apply(delta, now)
			return nil
		},
	})
	if err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/redis: record: %w", err)
	}
	return rec, nil
}

// Status returns today's record for key.
func (l *Ledger) Status(ctx context.Context, key aidirector.UsageKey) (aidirector.UsageRecord, bool, error) {
	now := l.clock()
	data, err := l.client.Get(ctx, l.recordKey(aidirector.DayOf(now), key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return aidirector.UsageRecord{}, false, nil
	}
	if err != nil {
		return aidirector.UsageRecord{}, false, fmt.Errorf("aidirector/redis: status: %w", err)
	}

	var rec aidirector.UsageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return aidirector.UsageRecord{}, false, fmt.Errorf("aidirector/redis: decode record: %w", err)
	}
	rec.Rollover(now)
	return rec, true, nil
}

// Records returns today's records of callerID on provider ordered by model.
func (l *Ledger) Records(ctx context.Context, provider, callerID string) ([]aidirector.UsageRecord, error) {
	now := l.clock()
	keys, err := l.client.SMembers(ctx, l.indexKey(aidirector.DayOf(now), provider, callerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("aidirector/redis: records: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("aidirector/redis: records: %w", err)
	}

	out := make([]aidirector.UsageRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec aidirector.UsageRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("aidirector/redis: decode record: %w", err)
		}
		rec.Rollover(now)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}
