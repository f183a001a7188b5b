package mock

import (
	"context"
	"testing"
	"time"

	"github.com/ineyio/aidirector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Defaults(t *testing.T) {
	p := New()
	assert.Equal(t, "mock", p.Name())

	resp, err := p.Send(context.Background(), aidirector.ProviderRequest{Model: "m", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello from mock", resp.Content)
	assert.Equal(t, "m", resp.Model)
	assert.Equal(t, aidirector.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, resp.Usage)
	assert.Equal(t, int64(1), p.CallCount())

	models, err := p.ListModels(context.Background(), "", aidirector.Auth{})
	require.NoError(t, err)
	assert.Equal(t, []aidirector.CatalogModel{{ID: "mock-model", DisplayName: "mock-model"}}, models)
}

func TestProvider_FailAfter(t *testing.T) {
	p := New(WithFailAfter(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Send(ctx, aidirector.ProviderRequest{})
		require.NoError(t, err)
	}
	_, err := p.Send(ctx, aidirector.ProviderRequest{})
	assert.ErrorIs(t, err, aidirector.ErrProviderUnavailable)
	assert.Equal(t, int64(3), p.CallCount())
}

func TestProvider_LatencyHonoursContext(t *testing.T) {
	p := New(WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Send(ctx, aidirector.ProviderRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvider_ResponseFunc(t *testing.T) {
	p := New(WithResponseFunc(func(req aidirector.ProviderRequest) (aidirector.ProviderResponse, error) {
		return aidirector.ProviderResponse{Content: "echo " + req.Prompt}, nil
	}))

	resp, err := p.Send(context.Background(), aidirector.ProviderRequest{Prompt: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "echo ping", resp.Content)
	require.Len(t, p.Requests(), 1)
	assert.Equal(t, "ping", p.Requests()[0].Prompt)
}
