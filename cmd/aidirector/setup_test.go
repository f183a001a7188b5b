package main

import (
	"testing"

	"github.com/ineyio/aidirector"
	"github.com/ineyio/aidirector/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapters(t *testing.T) {
	cfg := aidirector.Config{Providers: []aidirector.ProviderConfig{
		{Name: "claude"},
		{Name: "gemini"},
		{Name: "groq"},
		{Name: "together"},
		{Name: "local", BaseURL: "http://localhost:8080/v1"},
		{Name: "nobody"},
	}}

	var names []string
	for _, a := range adapters(cfg) {
		names = append(names, a.Name())
	}
	assert.Equal(t, []string{"claude", "gemini", "groq", "together", "local"}, names)
}

func TestSelectPolicy(t *testing.T) {
	p, err := selectPolicy("fixed")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = selectPolicy("free-first")
	require.NoError(t, err)
	assert.IsType(t, &policy.FreeFirst{}, p)

	p, err = selectPolicy("cost-first")
	require.NoError(t, err)
	assert.IsType(t, &policy.CostFirst{}, p)

	_, err = selectPolicy("random")
	assert.Error(t, err)
}

func TestLimiter(t *testing.T) {
	assert.NotNil(t, limiter("groq"))
	assert.Nil(t, limiter("local"))
}
