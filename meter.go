package aidirector

import (
	"time"

	"github.com/shopspring/decimal"
)

// Meter observes routing events for monitoring/logging.
type Meter interface {
	// OnRoute is called before a provider is invoked.
	OnRoute(event RouteEvent)

	// OnResult is called when a provider returns.
	OnResult(event ResultEvent)
}

// RouteEvent describes a routing decision.
type RouteEvent struct {
	Provider    string
	Model       string
	CallerID    string
	App         string
	AttemptNum  int
	Fallback    bool
	EstimatedIn int64
}

// ResultEvent describes the outcome of a provider call.
type ResultEvent struct {
	Provider string
	Model    string
	CallerID string
	App      string
	Success  bool
	Free     bool
	Cost     decimal.Decimal
	Duration time.Duration
	Usage    Usage
	Error    error
}
