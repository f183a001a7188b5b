package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ineyio/aidirector"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini API adapter.
type Provider struct {
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

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	ResponseID string `json:"responseId"`
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiModelList struct {
	Models []struct {
		Name                       string   `json:"name"`
		DisplayName                string   `json:"displayName"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

func (p *Provider) Send(ctx context.Context, req aidirector.ProviderRequest) (aidirector.ProviderResponse, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	})
	if err != nil {
		return aidirector.ProviderResponse{}, fmt.Errorf("aidirector: marshal gemini request: %w", err)
	}

	u := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.endpoint(req.Endpoint), req.Model, url.QueryEscape(req.Auth.APIKey))
	httpResp, err := p.doRequest(ctx, http.MethodPost, u, body)
	if err != nil {
		return aidirector.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return aidirector.ProviderResponse{}, fmt.Errorf("%w: decode gemini response: %v", aidirector.ErrMalformedUpstream, err)
	}

	if len(resp.Candidates) == 0 {
		return aidirector.ProviderResponse{}, fmt.Errorf("%w: empty candidates in gemini response", aidirector.ErrMalformedUpstream)
	}

	var content strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	return aidirector.ProviderResponse{
		ID:      resp.ResponseID,
		Content: content.String(),
		Model:   req.Model,
		Usage: aidirector.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

// ListModels returns the models that support generateContent, with the
// "models/" resource prefix removed.
func (p *Provider) ListModels(ctx context.Context, endpoint string, auth aidirector.Auth) ([]aidirector.CatalogModel, error) {
	u := fmt.Sprintf("%s/models?key=%s", p.endpoint(endpoint), url.QueryEscape(auth.APIKey))
	httpResp, err := p.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var list geminiModelList
	if err := json.NewDecoder(httpResp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: decode gemini models: %v", aidirector.ErrMalformedUpstream, err)
	}

	var out []aidirector.CatalogModel
	for _, m := range list.Models {
		if !slices.Contains(m.SupportedGenerationMethods, "generateContent") {
			continue
		}
		id := strings.TrimPrefix(m.Name, "models/")
		name := m.DisplayName
		if name == "" {
			name = id
		}
		out = append(out, aidirector.CatalogModel{ID: id, DisplayName: name})
	}
	return out, nil
}

func (p *Provider) endpoint(override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	return p.baseURL
}

func (p *Provider) doRequest(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
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
		return nil, fmt.Errorf("aidirector: create gemini request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

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
		return fmt.Errorf("%w: status %d", aidirector.ErrProviderUnavailable, resp.StatusCode)
	}
}
