package policy

import (
	"sort"

	"github.com/ineyio/aidirector"
)

// CostFirst orders fallback candidates by configured cost (cheapest first).
// Providers whose free tier is still open count as costing nothing.
type CostFirst struct{}

var _ aidirector.Policy = (*CostFirst)(nil)

// Select orders candidates by effective cost per 1k tokens ascending.
func (p *CostFirst) Select(candidates []aidirector.Candidate) []aidirector.Candidate {
	result := make([]aidirector.Candidate, len(candidates))
	copy(result, candidates)

	sort.SliceStable(result, func(i, j int) bool {
		return effectiveCost(result[i]) < effectiveCost(result[j])
	})

	return result
}

func effectiveCost(c aidirector.Candidate) float64 {
	if c.Free {
		return 0
	}
	return c.CostPer1kTokens
}
