package aidirector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialPricing_Per1kTokens(t *testing.T) {
	// The most expensive seeded model is $75 per million output tokens.
	for _, p := range initialPricing {
		assert.LessOrEqual(t, p.input, 0.075, "%s/%s input", p.provider, p.model)
		assert.LessOrEqual(t, p.output, 0.075, "%s/%s output", p.provider, p.model)
	}

	cfg := DefaultConfig()
	for _, name := range []string{"claude", "groq", "gemini"} {
		pc, ok := cfg.Provider(name)
		require.True(t, ok)

		var seeded *seedPrice
		for i := range initialPricing {
			if initialPricing[i].provider == name && initialPricing[i].model == pc.DefaultModel {
				seeded = &initialPricing[i]
			}
		}
		require.NotNil(t, seeded, "default model of %s is seeded", name)
		assert.InDelta(t, pc.CostPer1kTokens, seeded.input, 1e-12, "%s default model price matches provider cost", name)
	}
}
