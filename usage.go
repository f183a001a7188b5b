package aidirector

import (
	"math"
	"time"
)

// Dimension names one of the six limit dimensions tracked per usage record.
type Dimension string

const (
	RequestsPerMinute   Dimension = "requests_per_minute"
	RequestsPerDay      Dimension = "requests_per_day"
	TokensPerMinute     Dimension = "tokens_per_minute"
	TokensPerDay        Dimension = "tokens_per_day"
	AudioSecondsPerHour Dimension = "audio_seconds_per_hour"
	AudioSecondsPerDay  Dimension = "audio_seconds_per_day"
)

// AllDimensions lists every limit dimension in a stable order.
var AllDimensions = []Dimension{
	RequestsPerMinute,
	RequestsPerDay,
	TokensPerMinute,
	TokensPerDay,
	AudioSecondsPerHour,
	AudioSecondsPerDay,
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	for _, known := range AllDimensions {
		if d == known {
			return true
		}
	}
	return false
}

// Limits is a free-tier limit set. A zero value means the dimension is not tracked.
type Limits struct {
	RequestsPerMinute   int64 `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerDay      int64 `yaml:"requests_per_day" json:"requests_per_day"`
	TokensPerMinute     int64 `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	TokensPerDay        int64 `yaml:"tokens_per_day" json:"tokens_per_day"`
	AudioSecondsPerHour int64 `yaml:"audio_seconds_per_hour" json:"audio_seconds_per_hour"`
	AudioSecondsPerDay  int64 `yaml:"audio_seconds_per_day" json:"audio_seconds_per_day"`
}

// Get returns the limit for d.
func (l Limits) Get(d Dimension) int64 {
	switch d {
	case RequestsPerMinute:
		return l.RequestsPerMinute
	case RequestsPerDay:
		return l.RequestsPerDay
	case TokensPerMinute:
		return l.TokensPerMinute
	case TokensPerDay:
		return l.TokensPerDay
	case AudioSecondsPerHour:
		return l.AudioSecondsPerHour
	case AudioSecondsPerDay:
		return l.AudioSecondsPerDay
	}
	return 0
}

// IsZero reports whether no dimension has a limit.
func (l Limits) IsZero() bool {
	return l == Limits{}
}

// Thresholds are the near-limit and at-limit percentages.
type Thresholds struct {
	Near float64 `yaml:"near" json:"near"`
	At   float64 `yaml:"at" json:"at"`
}

// DefaultThresholds flags a dimension near its limit at 80% and at its limit at 95%.
var DefaultThresholds = Thresholds{Near: 80, At: 95}

func (th Thresholds) orDefault() Thresholds {
	if th.Near <= 0 || th.At <= 0 {
		return DefaultThresholds
	}
	return th
}

// UsageKey identifies the ledger entry for one caller on one provider model.
// The calendar day is implied by the ledger clock.
type UsageKey struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	CallerID string `json:"caller_id"`
}

func (k UsageKey) String() string {
	return k.Provider + "|" + k.Model + "|" + k.CallerID
}

// UsageDelta is the usage added by one completed call.
type UsageDelta struct {
	Requests     int64   `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	AudioSeconds float64 `json:"audio_seconds"`
}

// Tokens returns input plus output tokens.
func (d UsageDelta) Tokens() int64 {
	return d.InputTokens + d.OutputTokens
}

// MinuteWindow holds the counters of the current wall-clock minute.
type MinuteWindow struct {
	Requests     int64     `json:"requests"`
	Tokens       int64     `json:"tokens"`
	AudioSeconds float64   `json:"audio_seconds"`
	Start        time.Time `json:"start"`
}

// HourWindow holds the counters of the current wall-clock hour.
type HourWindow struct {
	AudioSeconds float64   `json:"audio_seconds"`
	Start        time.Time `json:"start"`
}

// DayWindow holds the counters of the current calendar day.
type DayWindow struct {
	Requests     int64     `json:"requests"`
	Tokens       int64     `json:"tokens"`
	AudioSeconds float64   `json:"audio_seconds"`
	Start        time.Time `json:"start"`
}

// UsageRecord is the persisted ledger state for one (provider, model, caller, day).
type UsageRecord struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	CallerID string `json:"caller_id"`
	Day      string `json:"day"`

	Minute MinuteWindow `json:"minute"`
	Hour   HourWindow   `json:"hour"`
	Daily  DayWindow    `json:"daily"`

	Limits Limits `json:"limits"`

	// In-flight reservations, counted by admission but not by percentages.
	ReservedRequests int64 `json:"reserved_requests"`
	ReservedTokens   int64 `json:"reserved_tokens"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DayOf returns the calendar day key for t.
func DayOf(t time.Time) string {
	return t.Format(time.DateOnly)
}

// NewUsageRecord returns an empty record for key whose windows start at now.
func NewUsageRecord(key UsageKey, limits Limits, now time.Time) UsageRecord {
	r := UsageRecord{
		Provider: key.Provider,
		Model:    key.Model,
		CallerID: key.CallerID,
		Day:      DayOf(now),
		Limits:   limits,
	}
	r.Rollover(now)
	return r
}

// Key returns the key of the record.
func (r UsageRecord) Key() UsageKey {
	return UsageKey{Provider: r.Provider, Model: r.Model, CallerID: r.CallerID}
}

// Rollover zeroes every window whose wall-clock boundary has moved past its
// start marker. now must already be in the ledger's location.
func (r *UsageRecord) Rollover(now time.Time) {
	loc := now.Location()
	minute := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, loc)
	hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	if !r.Minute.Start.Equal(minute) {
		r.Minute = MinuteWindow{Start: minute}
	}
	if !r.Hour.Start.Equal(hour) {
		r.Hour = HourWindow{Start: hour}
	}
	if !r.Daily.Start.Equal(day) {
		r.Daily = DayWindow{Start: day}
	}
}

// Apply rolls the windows over and adds delta.
func (r *UsageRecord) Apply(delta UsageDelta, now time.Time) {
	r.Rollover(now)

	tokens := delta.Tokens()
	r.Minute.Requests += delta.Requests
	r.Minute.Tokens += tokens
	r.Minute.AudioSeconds += delta.AudioSeconds
	r.Hour.AudioSeconds += delta.AudioSeconds
	r.Daily.Requests += delta.Requests
	r.Daily.Tokens += tokens
	r.Daily.AudioSeconds += delta.AudioSeconds
	r.UpdatedAt = now
}

// Hold adds an in-flight reservation.
func (r *UsageRecord) Hold(res Reservation) {
	r.ReservedRequests += res.Requests
	r.ReservedTokens += res.Tokens
}

// Release removes an in-flight reservation.
func (r *UsageRecord) Release(res Reservation) {
	r.ReservedRequests = max(r.ReservedRequests-res.Requests, 0)
	r.ReservedTokens = max(r.ReservedTokens-res.Tokens, 0)
}

// Current returns the counter backing d.
func (r UsageRecord) Current(d Dimension) float64 {
	switch d {
	case RequestsPerMinute:
		return float64(r.Minute.Requests)
	case RequestsPerDay:
		return float64(r.Daily.Requests)
	case TokensPerMinute:
		return float64(r.Minute.Tokens)
	case TokensPerDay:
		return float64(r.Daily.Tokens)
	case AudioSecondsPerHour:
		return r.Hour.AudioSeconds
	case AudioSecondsPerDay:
		return r.Daily.AudioSeconds
	}
	return 0
}

// projected is Current plus the in-flight reservations and the pending request.
func (r UsageRecord) projected(d Dimension, pending Reservation) float64 {
	cur := r.Current(d)
	switch d {
	case RequestsPerMinute, RequestsPerDay:
		return cur + float64(r.ReservedRequests+pending.Requests)
	case TokensPerMinute, TokensPerDay:
		return cur + float64(r.ReservedTokens+pending.Tokens)
	}
	return cur
}

// Percentage returns min(current/limit*100, 100), or 0 when limit is 0.
func Percentage(current float64, limit int64) float64 {
	if limit <= 0 || current <= 0 {
		return 0
	}
	return math.Min(current/float64(limit)*100, 100)
}

// Blocking returns the first critical dimension that would be at its limit
// if pending were admitted on top of usage and in-flight reservations.
//
// The pending request itself may take a dimension to exactly its limit: a
// dimension blocks only once the usage already counted reaches the at-limit
// threshold, or when admitting pending would overshoot the limit.
func (r UsageRecord) Blocking(critical []Dimension, th Thresholds, pending Reservation) (Dimension, bool) {
	th = th.orDefault()
	for _, d := range critical {
		limit := r.Limits.Get(d)
		if limit <= 0 {
			continue
		}
		withoutPending := r.projected(d, Reservation{})
		if Percentage(withoutPending, limit) >= th.At {
			return d, true
		}
		if r.projected(d, pending) > float64(limit) && isRequestDimension(d) {
			return d, true
		}
	}
	return "", false
}

func isRequestDimension(d Dimension) bool {
	return d == RequestsPerMinute || d == RequestsPerDay
}

// UsageSnapshot is a UsageRecord with derived utilization.
type UsageSnapshot struct {
	UsageRecord
	Percentages map[Dimension]float64 `json:"percentages"`
	NearLimit   map[Dimension]bool    `json:"near_limit"`
	AtLimit     map[Dimension]bool    `json:"at_limit"`
}

// Snapshot derives percentages and limit flags for every dimension.
func (r UsageRecord) Snapshot(th Thresholds) UsageSnapshot {
	th = th.orDefault()
	s := UsageSnapshot{
		UsageRecord: r,
		Percentages: make(map[Dimension]float64, len(AllDimensions)),
		NearLimit:   make(map[Dimension]bool, len(AllDimensions)),
		AtLimit:     make(map[Dimension]bool, len(AllDimensions)),
	}
	for _, d := range AllDimensions {
		pct := Percentage(r.Current(d), r.Limits.Get(d))
		s.Percentages[d] = pct
		s.NearLimit[d] = pct >= th.Near
		s.AtLimit[d] = pct >= th.At
	}
	return s
}

// AnyNearLimit reports whether any dimension is near its limit.
func (s UsageSnapshot) AnyNearLimit() bool {
	for _, v := range s.NearLimit {
		if v {
			return true
		}
	}
	return false
}

// AnyAtLimit reports whether any dimension is at its limit.
func (s UsageSnapshot) AnyAtLimit() bool {
	for _, v := range s.AtLimit {
		if v {
			return true
		}
	}
	return false
}
