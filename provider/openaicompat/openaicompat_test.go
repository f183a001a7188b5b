package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ad "github.com/ineyio/aidirector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case "/chat/completions":
			body, _ := io.ReadAll(r.Body)
			var req map[string]any
			json.Unmarshal(body, &req)
			if req["model"] != "test-model" {
				http.Error(w, "unknown model", http.StatusBadRequest)
				return
			}

			json.NewEncoder(w).Encode(map[string]any{
				"id":    "c-1",
				"model": "test-model",
				"choices": []map[string]any{
					{"index": 0, "message": map[string]string{"role": "assistant", "content": "Hello from upstream"}},
				},
				"usage": map[string]int64{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
			})
		case "/models":
			fmt.Fprint(w, `{"object":"list","data":[{"id":"b-model"},{"id":"a-model","display_name":"A Model"},{"id":""}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestProvider_Name(t *testing.T) {
	assert.Equal(t, "groq", NewGroq().Name())
	assert.Equal(t, "together", NewTogether().Name())
	assert.Equal(t, "openai", NewOpenAI().Name())
	assert.Equal(t, "local", New("local", "http://localhost:11434/v1").Name())
}

func TestProvider_Send(t *testing.T) {
	srv := newMockServer(t)
	defer srv.Close()

	p := New("test", srv.URL)
	resp, err := p.Send(context.Background(), ad.ProviderRequest{
		Auth:        ad.Auth{APIKey: "test-key"},
		Model:       "test-model",
		Prompt:      "hello",
		MaxTokens:   100,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "c-1", resp.ID)
	assert.Equal(t, "Hello from upstream", resp.Content)
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(5), resp.Usage.OutputTokens)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)
}

func TestProvider_SendUsesRequestEndpoint(t *testing.T) {
	srv := newMockServer(t)
	defer srv.Close()

	p := New("test", "http://127.0.0.1:1")
	resp, err := p.Send(context.Background(), ad.ProviderRequest{
		Auth:     ad.Auth{APIKey: "test-key"},
		Endpoint: srv.URL + "/",
		Model:    "test-model",
		Prompt:   "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello from upstream", resp.Content)
}

func TestProvider_ListModels(t *testing.T) {
	srv := newMockServer(t)
	defer srv.Close()

	p := New("test", srv.URL)
	models, err := p.ListModels(context.Background(), "", ad.Auth{APIKey: "test-key"})
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, ad.CatalogModel{ID: "b-model", DisplayName: "b-model"}, models[0])
	assert.Equal(t, ad.CatalogModel{ID: "a-model", DisplayName: "A Model"}, models[1])
}

func TestProvider_ListModelsBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"m1","display_name":"Model One"}]`)
	}))
	defer srv.Close()

	models, err := New("together", srv.URL).ListModels(context.Background(), "", ad.Auth{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, []ad.CatalogModel{{ID: "m1", DisplayName: "Model One"}}, models)
}

func TestProvider_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"empty choices", `{"id":"c-1","choices":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := New("test", srv.URL).Send(context.Background(), ad.ProviderRequest{Model: "m", Prompt: "hi"})
			assert.ErrorIs(t, err, ad.ErrMalformedUpstream)
		})
	}
}

func TestProvider_HTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ad.ErrAuthFailed},
		{http.StatusForbidden, ad.ErrAuthFailed},
		{http.StatusTooManyRequests, ad.ErrRateLimited},
		{http.StatusBadRequest, ad.ErrInvalidRequest},
		{http.StatusInternalServerError, ad.ErrProviderUnavailable},
		{http.StatusBadGateway, ad.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, "boom")
			}))
			defer srv.Close()

			_, err := New("test", srv.URL).Send(context.Background(), ad.ProviderRequest{Model: "m", Prompt: "hi"})
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, ad.IsUpstreamError(err))
		})
	}
}

func TestProvider_TransportError(t *testing.T) {
	p := New("test", "http://127.0.0.1:1")
	_, err := p.Send(context.Background(), ad.ProviderRequest{Model: "m", Prompt: "hi"})
	assert.ErrorIs(t, err, ad.ErrProviderUnavailable)
}

func TestProvider_RateLimiterHonoursContext(t *testing.T) {
	srv := newMockServer(t)
	defer srv.Close()

	// Burst of one: the first call consumes it, the second must wait.
	p := New("test", srv.URL, WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))
	req := ad.ProviderRequest{Auth: ad.Auth{APIKey: "test-key"}, Model: "test-model", Prompt: "hi"}

	_, err := p.Send(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Send(ctx, req)
	assert.ErrorIs(t, err, ad.ErrRateLimited)
}

func TestProvider_RateLimiterCancelledContext(t *testing.T) {
	srv := newMockServer(t)
	defer srv.Close()

	p := New("test", srv.URL, WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))
	req := ad.ProviderRequest{Auth: ad.Auth{APIKey: "test-key"}, Model: "test-model", Prompt: "hi"}

	_, err := p.Send(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Send(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ad.ErrRateLimited)
}
