package aidirector

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallOptions tunes a single CallAI or CallProvider invocation.
// Zero values fall back to the provider's configured defaults.
type CallOptions struct {
	Provider    string
	Model       string
	MaxTokens   *int
	Temperature *float64

	// CallerID enables the admission check against the caller's quota.
	CallerID string
	AppName  string
}

// Usage represents token usage information.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// CallState is the position of a call in the routing state machine.
type CallState string

const (
	StateRouting        CallState = "ROUTING"
	StateAdmissionCheck CallState = "ADMISSION_CHECK"
	StateRejectedQuota  CallState = "REJECTED_QUOTA"
	StateInvoking       CallState = "INVOKING"
	StateFallback       CallState = "FALLBACK"
	StateSucceeded      CallState = "SUCCEEDED"
	StateAllFailed      CallState = "ALL_FAILED"
)

// CallResult describes the outcome of CallAI or CallProvider.
type CallResult struct {
	ID       string          `json:"id"`
	Content  string          `json:"content"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	App      string          `json:"app"`
	Usage    Usage           `json:"usage"`
	State    CallState       `json:"state"`
	Attempts int             `json:"attempts"`
	Fallback bool            `json:"fallback"`
	Free     bool            `json:"free"`
	Cost     decimal.Decimal `json:"cost"`
	Duration time.Duration   `json:"duration"`

	// Quota is the caller's usage after the call, or the snapshot that
	// caused a rejection.
	Quota *UsageSnapshot `json:"quota,omitempty"`
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to the given bool.
func BoolPtr(v bool) *bool { return &v }
