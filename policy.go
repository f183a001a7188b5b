package aidirector

// Policy orders fallback candidates for a failed call.
type Policy interface {
	// Select orders candidates by priority. Returns ordered slice (highest priority first).
	Select(candidates []Candidate) []Candidate
}

// Candidate is a provider the router may fall back to.
type Candidate struct {
	Provider string
	Model    string

	// Free reports whether the model has a free tier that the session caller
	// has not exhausted today.
	Free bool

	// Remaining is the number of free requests left today, 0 when unknown.
	Remaining int64

	CostPer1kTokens float64
	Health          HealthState

	// Position is the index of the provider in the configured fallback order.
	Position int
}

// fixedOrderPolicy keeps the configured fallback order.
type fixedOrderPolicy struct{}

func (p *fixedOrderPolicy) Select(candidates []Candidate) []Candidate {
	return candidates
}
