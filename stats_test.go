package aidirector_test

import (
	"testing"

	ad "github.com/ineyio/aidirector"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStatsAccumulator(t *testing.T) {
	s := ad.NewStatsAccumulator()

	s.Add("groq", "", 100, decimal.Zero, true)
	s.Add("claude", "reports", 1000, decimal.RequireFromString("0.003"), false)
	s.Add("claude", "reports", 500, decimal.RequireFromString("0.0015"), false)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.Calls)
	assert.Equal(t, int64(1600), snap.Tokens)
	assert.Equal(t, int64(1), snap.FreeCalls)
	assert.Equal(t, int64(2), snap.PaidCalls)
	assert.Equal(t, "0.0045", snap.Cost.String())
	assert.Equal(t, "0.0015", snap.AverageCostPerCall.String())

	assert.Equal(t, int64(2), snap.Providers["claude"].Calls)
	assert.Equal(t, "0.00225", snap.Providers["claude"].AverageCost().String())
	assert.Equal(t, int64(1), snap.Apps["groq"]["default"].Calls)
	assert.Equal(t, int64(1500), snap.Apps["claude"]["reports"].Tokens)
	assert.False(t, snap.Since.IsZero())
}

func TestStatsAccumulator_SnapshotIsACopy(t *testing.T) {
	s := ad.NewStatsAccumulator()
	s.Add("groq", "a", 10, decimal.Zero, true)

	snap := s.Snapshot()
	snap.Providers["groq"] = ad.StatsTotals{Calls: 99}
	snap.Apps["groq"]["a"] = ad.StatsTotals{Calls: 99}

	again := s.Snapshot()
	assert.Equal(t, int64(1), again.Providers["groq"].Calls)
	assert.Equal(t, int64(1), again.Apps["groq"]["a"].Calls)
}

func TestStatsAccumulator_Reset(t *testing.T) {
	s := ad.NewStatsAccumulator()
	s.Add("groq", "a", 10, decimal.Zero, true)
	s.Reset()

	snap := s.Snapshot()
	assert.Zero(t, snap.Calls)
	assert.Empty(t, snap.Providers)
	assert.Empty(t, snap.Apps)
	assert.True(t, snap.AverageCostPerCall.IsZero())
}
