package aidirector

import (
	"context"
	"time"
)

// Ledger is the quota ledger: one UsageRecord per (provider, model, caller, day).
// Implementations must serialize every mutation of a single key.
type Ledger interface {
	// Reserve checks the critical dimensions of rule for key and, if admissible,
	// holds an in-flight reservation in the same atomic step. It returns
	// ErrQuotaExceeded together with the current record when the caller is
	// at a limit.
	Reserve(ctx context.Context, key UsageKey, limits Limits, rule AdmissionRule, estimatedTokens int64) (Reservation, UsageRecord, error)

	// Commit releases the reservation and records the actual usage.
	Commit(ctx context.Context, res Reservation, delta UsageDelta) (UsageRecord, error)

	// Rollback releases a reservation that was not used.
	Rollback(ctx context.Context, res Reservation) error

	// Record adds usage to today's record for key, creating it if needed.
	Record(ctx context.Context, key UsageKey, limits Limits, delta UsageDelta) (UsageRecord, error)

	// Status returns today's record for key with its windows rolled over to
	// the ledger clock. found is false when there is none.
	Status(ctx context.Context, key UsageKey) (rec UsageRecord, found bool, err error)

	// Records returns today's records of callerID on provider, rolled over
	// like Status.
	Records(ctx context.Context, provider, callerID string) ([]UsageRecord, error)

	// Now returns the ledger clock in the location that sets its day boundary.
	Now() time.Time
}

// AdmissionRule selects which dimensions gate admission and at what level.
type AdmissionRule struct {
	Critical   []Dimension
	Thresholds Thresholds
}

// Reservation is an in-flight hold on a usage record.
type Reservation struct {
	ID        string    `json:"id"`
	Key       UsageKey  `json:"key"`
	Day       string    `json:"day"`
	Requests  int64     `json:"requests"`
	Tokens    int64     `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}
