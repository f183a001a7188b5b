package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ineyio/aidirector"
)

// Provider is a universal OpenAI-compatible API adapter.
// Works with Groq, Together, OpenAI, Ollama, and others.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var (
	_ aidirector.Provider      = (*Provider)(nil)
	_ aidirector.CatalogLister = (*Provider)(nil)
)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithRateLimiter throttles outgoing requests. Each request waits for a token.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(p *Provider) { p.limiter = l }
}

// New creates a new OpenAI-compatible provider. baseURL is used when a
// request carries no endpoint of its own.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewGroq creates a provider for Groq.
func NewGroq(opts ...Option) *Provider {
	return New("groq", "https://api.groq.com/openai/v1", opts...)
}

// NewTogether creates a provider for Together AI.
func NewTogether(opts ...Option) *Provider {
	return New("together", "https://api.together.xyz/v1", opts...)
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(opts ...Option) *Provider {
	return New("openai", "https://api.openai.com/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message apiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

type apiModel struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

func (p *Provider) Send(ctx context.Context, req aidirector.ProviderRequest) (aidirector.ProviderResponse, error) {
	body, err := json.Marshal(apiRequest{
		Model:       req.Model,
		Messages:    []apiMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return aidirector.ProviderResponse{}, fmt.Errorf("aidirector: marshal request: %w", err)
	}

	httpResp, err := p.doRequest(ctx, http.MethodPost, p.endpoint(req.Endpoint)+"/chat/completions", req.Auth, body)
	if err != nil {
		return aidirector.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return aidirector.ProviderResponse{}, fmt.Errorf("%w: decode response: %v", aidirector.ErrMalformedUpstream, err)
	}

	if len(resp.Choices) == 0 {
		return aidirector.ProviderResponse{}, fmt.Errorf("%w: empty choices in response", aidirector.ErrMalformedUpstream)
	}

	return aidirector.ProviderResponse{
		ID:      resp.ID,
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: aidirector.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// ListModels lists the models served at endpoint. Both the wrapped
// {"data": [...]} form and a bare array are accepted.
func (p *Provider) ListModels(ctx context.Context, endpoint string, auth aidirector.Auth) ([]aidirector.CatalogModel, error) {
	httpResp, err := p.doRequest(ctx, http.MethodGet, p.endpoint(endpoint)+"/models", auth, nil)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, aidirector.ErrProviderUnavailable
	}

	models, err := decodeModels(raw)
	if err != nil {
		return nil, err
	}

	out := make([]aidirector.CatalogModel, 0, len(models))
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		out = append(out, aidirector.CatalogModel{ID: m.ID, DisplayName: name})
	}
	return out, nil
}

func decodeModels(raw []byte) ([]apiModel, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var models []apiModel
		if err := json.Unmarshal(raw, &models); err != nil {
			return nil, fmt.Errorf("%w: decode models: %v", aidirector.ErrMalformedUpstream, err)
		}
		return models, nil
	}

	var wrapped struct {
		Data []apiModel `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: decode models: %v", aidirector.ErrMalformedUpstream, err)
	}
	return wrapped.Data, nil
}

func (p *Provider) endpoint(override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return p.baseURL
}

func (p *Provider) doRequest(ctx context.Context, method, url string, auth aidirector.Auth, body []byte) (*http.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", aidirector.ErrRateLimited, err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("aidirector: create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+auth.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, aidirector.ErrProviderUnavailable
	}

	if err := mapHTTPError(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return aidirector.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return aidirector.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", aidirector.ErrInvalidRequest, string(body))
	default:
		return fmt.Errorf("%w: status %d", aidirector.ErrProviderUnavailable, resp.StatusCode)
	}
}

