package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
)

// Provider is the Anthropic Messages API adapter. It registers as "claude".
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

// WithName overrides the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithRateLimiter throttles outgoing requests.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(p *Provider) { p.limiter = l }
}

// New creates a new Anthropic provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:       "claude",
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type modelList struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

func (p *Provider) Send(ctx context.Context, req aidirector.ProviderRequest) (aidirector.ProviderResponse, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return aidirector.ProviderResponse{}, fmt.Errorf("aidirector: marshal anthropic request: %w", err)
	}

	httpResp, err := p.doRequest(ctx, http.MethodPost, p.endpoint(req.Endpoint)+"/messages", req.Auth, body)
	if err != nil {
		return aidirector.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return aidirector.ProviderResponse{}, fmt.Errorf("%w: decode anthropic response: %v", aidirector.ErrMalformedUpstream, err)
	}

	if len(resp.Content) == 0 {
		return aidirector.ProviderResponse{}, fmt.Errorf("%w: empty content in anthropic response", aidirector.ErrMalformedUpstream)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return aidirector.ProviderResponse{
		ID:      resp.ID,
		Content: text.String(),
		Model:   resp.Model,
		Usage: aidirector.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (p *Provider) ListModels(ctx context.Context, endpoint string, auth aidirector.Auth) ([]aidirector.CatalogModel, error) {
	httpResp, err := p.doRequest(ctx, http.MethodGet, p.endpoint(endpoint)+"/models", auth, nil)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var list modelList
	if err := json.NewDecoder(httpResp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: decode anthropic models: %v", aidirector.ErrMalformedUpstream, err)
	}

	out := make([]aidirector.CatalogModel, 0, len(list.Data))
	for _, m := range list.Data {
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		out = append(out, aidirector.CatalogModel{ID: m.ID, DisplayName: name})
	}
	return out, nil
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
		return nil, fmt.Errorf("aidirector: create anthropic request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("x-api-key", auth.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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
		// 529 is Anthropic's "overloaded".
		return fmt.Errorf("%w: status %d", aidirector.ErrProviderUnavailable, resp.StatusCode)
	}
}
