// Package postgres provides a PostgreSQL-backed Ledger for aidirector.
//
// Usage records are stored as JSONB rows keyed by (provider, model, caller,
// day). Every mutation locks the row with SELECT ... FOR UPDATE inside a
// transaction, which makes the ledger safe for multi-instance deployments
// and durable across restarts.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/aidirector"
)

// Ledger is a PostgreSQL-backed aidirector.Ledger.
type Ledger struct {
	pool        *pgxpool.Pool
	tablePrefix string
	now         func() time.Time
	loc         *time.Location
}

var _ aidirector.Ledger = (*Ledger)(nil)

// Option configures Ledger.
type Option func(*Ledger)

// WithTablePrefix sets the table name prefix (default "aidirector_").
func WithTablePrefix(prefix string) Option {
	return func(l *Ledger) { l.tablePrefix = prefix }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the location whose calendar defines window boundaries.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// New creates a new PostgreSQL-backed Ledger.
func New(pool *pgxpool.Pool, opts ...Option) *Ledger {
	l := &Ledger{
		pool:        pool,
		tablePrefix: "aidirector_",
		now:         time.Now,
		loc:         time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) usageTable() string        { return l.tablePrefix + "usage" }
func (l *Ledger) reservationsTable() string { return l.tablePrefix + "reservations" }

func (l *Ledger) clock() time.Time {
	return l.now().In(l.loc)
}

// Now returns the ledger clock in the ledger's location.
func (l *Ledger) Now() time.Time {
	return l.clock()
}

// EnsureSchema creates the required tables if they don't exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			caller_id TEXT NOT NULL,
			day TEXT NOT NULL,
			record JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (provider, model, caller_id, day)
		);
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			caller_id TEXT NOT NULL,
			day TEXT NOT NULL,
			requests BIGINT NOT NULL,
			tokens BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, l.usageTable(), l.reservationsTable())
	_, err := l.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("aidirector/postgres: ensure schema: %w", err)
	}
	return nil
}

// lock loads the record of key on day for update. With create set, a
// missing record is inserted first; otherwise found is false.
func (l *Ledger) lock(ctx context.Context, tx pgx.Tx, key aidirector.UsageKey, day string, now time.Time, limits *aidirector.Limits, create bool) (rec aidirector.UsageRecord, found bool, err error) {
	if create {
		fresh := aidirector.NewUsageRecord(key, aidirector.Limits{}, now)
		fresh.Day = day
		payload, err := json.Marshal(fresh)
		if err != nil {
			return rec, false, err
		}
		_, err = tx.Exec(ctx,
			fmt.Sprintf(`INSERT INTO %s (provider, model, caller_id, day, record) VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT DO NOTHING`, l.usageTable()),
			key.Provider, key.Model, key.CallerID, day, string(payload),
		)
		if err != nil {
			return rec, false, fmt.Errorf("insert record: %w", err)
		}
	}

	var data []byte
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT record FROM %s WHERE provider = $1 AND model = $2 AND caller_id = $3 AND day = $4 FOR UPDATE`,
			l.usageTable()),
		key.Provider, key.Model, key.CallerID, day,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("lock record: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, false, fmt.Errorf("decode record: %w", err)
	}

	if limits != nil {
		rec.Limits = *limits
	}
	rec.Rollover(now)
	return rec, true, nil
}

func (l *Ledger) save(ctx context.Context, tx pgx.Tx, rec aidirector.UsageRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET record = $1, updated_at = now()
			WHERE provider = $2 AND model = $3 AND caller_id = $4 AND day = $5`, l.usageTable()),
		string(payload), rec.Provider, rec.Model, rec.CallerID, rec.Day,
	)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

// Reserve checks admission and holds one request and estimatedTokens tokens.
func (l *Ledger) Reserve(ctx context.Context, key aidirector.UsageKey, limits aidirector.Limits, rule aidirector.AdmissionRule, estimatedTokens int64) (aidirector.Reservation, aidirector.UsageRecord, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return aidirector.Reservation{}, aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := l.clock()
	day := aidirector.DayOf(now)

	rec, _, err := l.lock(ctx, tx, key, day, now, &limits, true)
	if err != nil {
		return aidirector.Reservation{}, aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: reserve: %w", err)
	}

	res := aidirector.Reservation{
		ID:        uuid.New().String(),
		Key:       key,
		Day:       day,
		Requests:  1,
		Tokens:    estimatedTokens,
		CreatedAt: now,
	}
	if _, blocked := rec.Blocking(rule.Critical, rule.Thresholds, res); blocked {
		return aidirector.Reservation{}, rec, aidirector.ErrQuotaExceeded
	}

	rec.Hold(res)
	if err := l.save(ctx, tx, rec); err != nil {
		return aidirector.Reservation{}, aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: reserve: %w", err)
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, provider, model, caller_id, day, requests, tokens, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, l.reservationsTable()),
		res.ID, key.Provider, key.Model, key.CallerID, day, res.Requests, res.Tokens, now,
	)
	if err != nil {
		return aidirector.Reservation{}, aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return aidirector.Reservation{}, aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: commit tx: %w", err)
	}
	return res, rec, nil
}

// release deletes a reservation and releases it from the record it held.
// It returns the limits of that record.
func (l *Ledger) release(ctx context.Context, tx pgx.Tx, id string) (aidirector.Limits, error) {
	var held aidirector.Reservation
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1 RETURNING provider, model, caller_id, day, requests, tokens`,
			l.reservationsTable()),
		id,
	).Scan(&held.Key.Provider, &held.Key.Model, &held.Key.CallerID, &held.Day, &held.Requests, &held.Tokens)
	if errors.Is(err, pgx.ErrNoRows) {
		return aidirector.Limits{}, aidirector.ErrReservationNotFound
	}
	if err != nil {
		return aidirector.Limits{}, fmt.Errorf("delete reservation: %w", err)
	}

	rec, found, err := l.lock(ctx, tx, held.Key, held.Day, l.clock(), nil, false)
	if err != nil || !found {
		return aidirector.Limits{}, err
	}
	rec.Release(held)
	if err := l.save(ctx, tx, rec); err != nil {
		return aidirector.Limits{}, err
	}
	return rec.Limits, nil
}

// Commit releases the reservation and records actual usage on today's record.
func (l *Ledger) Commit(ctx context.Context, res aidirector.Reservation, delta aidirector.UsageDelta) (aidirector.UsageRecord, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	limits, err := l.release(ctx, tx, res.ID)
	if err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: commit: %w", err)
	}

	rec, err := l.apply(ctx, tx, res.Key, limits, delta)
	if err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: commit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: commit tx: %w", err)
	}
	return rec, nil
}

// Rollback releases a reservation that was not used.
func (l *Ledger) Rollback(ctx context.Context, res aidirector.Reservation) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("aidirector/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := l.release(ctx, tx, res.ID); err != nil {
		return fmt.Errorf("aidirector/postgres: rollback: %w", err)
	}
	return tx.Commit(ctx)
}

func (l *Ledger) apply(ctx context.Context, tx pgx.Tx, key aidirector.UsageKey, limits aidirector.Limits, delta aidirector.UsageDelta) (aidirector.UsageRecord, error) {
	now := l.clock()
	rec, _, err := l.lock(ctx, tx, key, aidirector.DayOf(now), now, &limits, true)
	if err != nil {
		return aidirector.UsageRecord{}, err
	}
	rec.Apply(delta, now)
	if err := l.save(ctx, tx, rec); err != nil {
		return aidirector.UsageRecord{}, err
	}
	return rec, nil
}

// Record adds usage to today's record for key.
func (l *Ledger) Record(ctx context.Context, key aidirector.UsageKey, limits aidirector.Limits, delta aidirector.UsageDelta) (aidirector.UsageRecord, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := l.apply(ctx, tx, key, limits, delta)
	if err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return aidirector.UsageRecord{}, fmt.Errorf("aidirector/postgres: commit tx: %w", err)
	}
	return rec, nil
}

// Status returns today's record for key.
func (l *Ledger) Status(ctx context.Context, key aidirector.UsageKey) (aidirector.UsageRecord, bool, error) {
	now := l.clock()
	var data []byte
	err := l.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT record FROM %s WHERE provider = $1 AND model = $2 AND caller_id = $3 AND day = $4`,
			l.usageTable()),
		key.Provider, key.Model, key.CallerID, aidirector.DayOf(now),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return aidirector.UsageRecord{}, false, nil
	}
	if err != nil {
		return aidirector.UsageRecord{}, false, fmt.Errorf("aidirector/postgres: status: %w", err)
	}

	var rec aidirector.UsageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return aidirector.UsageRecord{}, false, fmt.Errorf("aidirector/postgres: decode record: %w", err)
	}
	rec.Rollover(now)
	return rec, true, nil
}

// Records returns today's records of callerID on provider ordered by model.
func (l *Ledger) Records(ctx context.Context, provider, callerID string) ([]aidirector.UsageRecord, error) {
	now := l.clock()
	rows, err := l.pool.Query(ctx,
		fmt.Sprintf(`SELECT record FROM %s WHERE provider = $1 AND caller_id = $2 AND day = $3 ORDER BY model`,
			l.usageTable()),
		provider, callerID, aidirector.DayOf(now),
	)
	if err != nil {
		return nil, fmt.Errorf("aidirector/postgres: records: %w", err)
	}
	defer rows.Close()

	var out []aidirector.UsageRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("aidirector/postgres: scan record: %w", err)
		}
		var rec aidirector.UsageRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("aidirector/postgres: decode record: %w", err)
		}
		rec.Rollover(now)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CleanupReservations deletes reservations older than olderThan that were
// never committed or rolled back, e.g. after a crash.
func (l *Ledger) CleanupReservations(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := l.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, l.reservationsTable()),
		l.clock().Add(-olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("aidirector/postgres: cleanup reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}
