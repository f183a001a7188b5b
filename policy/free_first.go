package policy

import (
	"slices"

	"github.com/ineyio/aidirector"
)

// FreeFirst tries providers whose free tier is still open before metered
// ones. Free providers with the most requests left today go first; metered
// providers go cheapest first. A provider being probed after an outage
// (half-open) goes after its healthy peers.
type FreeFirst struct{}

var _ aidirector.Policy = (*FreeFirst)(nil)

func (p *FreeFirst) Select(candidates []aidirector.Candidate) []aidirector.Candidate {
	out := slices.Clone(candidates)
	slices.SortStableFunc(out, func(a, b aidirector.Candidate) int {
		switch {
		case a.Free != b.Free:
			return boolOrder(a.Free)
		case a.Health != b.Health:
			return boolOrder(a.Health == aidirector.HealthHealthy)
		case a.Free:
			return cmpDesc(a.Remaining, b.Remaining)
		case a.CostPer1kTokens < b.CostPer1kTokens:
			return -1
		case a.CostPer1kTokens > b.CostPer1kTokens:
			return 1
		}
		return 0
	})
	return out
}

// boolOrder sorts true before false.
func boolOrder(first bool) int {
	if first {
		return -1
	}
	return 1
}

func cmpDesc(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
