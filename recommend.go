package aidirector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PermitUnknownCapabilities decides whether a model whose capabilities were
// never recorded passes the requirement filter of RecommendProvider.
const PermitUnknownCapabilities = true

// Priority selects how models are ranked.
type Priority string

const (
	PriorityCost    Priority = "cost"
	PrioritySpeed   Priority = "speed"
	PriorityQuality Priority = "quality"
)

// defaultRequiredTokens is the minimum capacity ModelsForTask asks for.
const defaultRequiredTokens = 4096

// ModelInfo is the catalog view of one model.
type ModelInfo struct {
	Provider     string             `json:"provider"`
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Pricing      *PricingRecord     `json:"pricing,omitempty"`
	FreeTier     FreeTierRecord     `json:"free_tier"`
	Capabilities *CapabilityProfile `json:"capabilities,omitempty"`
}

// combinedPrice is input plus output price, 0 when unpriced.
func (m ModelInfo) combinedPrice() float64 {
	if m.Pricing == nil {
		return 0
	}
	return m.Pricing.CombinedPrice()
}

func (m ModelInfo) speed() PerformanceClass {
	if m.Capabilities == nil {
		return SpeedMedium
	}
	return m.Capabilities.Performance.Speed
}

func (m ModelInfo) quality() PerformanceClass {
	if m.Capabilities == nil {
		return ClassGood
	}
	return m.Capabilities.Performance.Quality
}

// ProviderModels is the catalog view of one provider.
type ProviderModels struct {
	Provider    string      `json:"provider"`
	Models      []ModelInfo `json:"models"`
	TotalModels int         `json:"total_models"`
	HasAPIKey   bool        `json:"has_api_key"`
	Enabled     bool        `json:"enabled"`
}

// Available reports whether the provider may be called.
func (p ProviderModels) Available() bool {
	return p.HasAPIKey && p.Enabled
}

// ModelSummary counts the catalog.
type ModelSummary struct {
	TotalProviders    int `json:"total_providers"`
	TotalModels       int `json:"total_models"`
	ProvidersWithKeys int `json:"providers_with_keys"`
	EnabledProviders  int `json:"enabled_providers"`
}

// ModelInformation is the collected catalog of every configured provider.
type ModelInformation struct {
	Providers []ProviderModels `json:"providers"`
	Summary   ModelSummary     `json:"summary"`
}

// ModelInformation collects models, pricing, free tiers and capabilities of
// every configured provider. Usable providers with a stale catalog are
// refreshed first; refresh failures are logged.
func (d *Director) ModelInformation(ctx context.Context) (ModelInformation, error) {
	var info ModelInformation

	for _, cfg := range d.registry.Configs() {
		if cfg.Usable() {
			if _, err := d.registry.RefreshCatalog(ctx, cfg.Name, false); err != nil {
				d.logger.Warn("catalog refresh failed", "provider", cfg.Name, "error", err)
			}
		}

		models, err := d.providerModels(ctx, cfg.Name)
		if err != nil {
			return ModelInformation{}, err
		}

		pm := ProviderModels{
			Provider:    cfg.Name,
			Models:      models,
			TotalModels: len(models),
			HasAPIKey:   cfg.HasCredential(),
			Enabled:     cfg.Enabled,
		}
		info.Providers = append(info.Providers, pm)

		info.Summary.TotalProviders++
		info.Summary.TotalModels += pm.TotalModels
		if pm.HasAPIKey {
			info.Summary.ProvidersWithKeys++
		}
		if pm.Enabled {
			info.Summary.EnabledProviders++
		}
	}

	return info, nil
}

// providerModels joins the active models of provider with their pricing and
// free tier.
func (d *Director) providerModels(ctx context.Context, provider string) ([]ModelInfo, error) {
	records, err := d.registry.ListModels(ctx, provider)
	if err != nil {
		return nil, err
	}

	pricing, err := d.store.Pricing(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("aidirector: load pricing of %s: %w", provider, err)
	}
	prices := make(map[string]PricingRecord, len(pricing))
	for _, p := range pricing {
		if p.Active {
			prices[p.ModelID] = p
		}
	}

	tiers, err := d.store.FreeTiers(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("aidirector: load free tiers of %s: %w", provider, err)
	}
	free := make(map[string]FreeTierRecord, len(tiers))
	for _, f := range tiers {
		free[f.ModelID] = f
	}

	models := make([]ModelInfo, 0, len(records))
	for _, r := range records {
		m := ModelInfo{
			Provider:     provider,
			ID:           r.ModelID,
			Name:         r.Name,
			Capabilities: r.Capabilities,
		}
		if p, ok := prices[r.ModelID]; ok {
			m.Pricing = &p
		}
		if f, ok := free[r.ModelID]; ok {
			m.FreeTier = f
		} else {
			m.FreeTier = FreeTierRecord{Provider: provider, ModelID: r.ModelID}
		}
		models = append(models, m)
	}
	return models, nil
}

// ModelCostEstimate is the estimated cost of one prompt on one model.
type ModelCostEstimate struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
	InputTokens   int64           `json:"input_tokens"`
	OutputTokens  int64           `json:"output_tokens"`
	Pricing       *PricingRecord  `json:"pricing,omitempty"`
}

// ProviderCostAnalysis lists a provider's models cheapest first.
type ProviderCostAnalysis struct {
	Provider string              `json:"provider"`
	Models   []ModelCostEstimate `json:"models"`
}

// CostAnalysis estimates the metered cost of prompt with an expected
// response of expectedResponseTokens on every model of every available
// provider. Models are sorted by estimated cost; catalog order breaks ties.
func (d *Director) CostAnalysis(ctx context.Context, prompt string, expectedResponseTokens int64) ([]ProviderCostAnalysis, error) {
	info, err := d.ModelInformation(ctx)
	if err != nil {
		return nil, err
	}

	in := EstimateTokens(prompt)
	inK := decimal.NewFromInt(in).Div(thousand)
	outK := decimal.NewFromInt(expectedResponseTokens).Div(thousand)

	var out []ProviderCostAnalysis
	for _, p := range info.Providers {
		if !p.Available() {
			continue
		}

		estimates := make([]ModelCostEstimate, 0, len(p.Models))
		for _, m := range p.Models {
			cost := decimal.Zero
			if m.Pricing != nil {
				cost = inK.Mul(decimal.NewFromFloat(m.Pricing.InputPrice)).
					Add(outK.Mul(decimal.NewFromFloat(m.Pricing.OutputPrice)))
			}
			estimates = append(estimates, ModelCostEstimate{
				ID:            m.ID,
				Name:          m.Name,
				EstimatedCost: cost,
				InputTokens:   in,
				OutputTokens:  expectedResponseTokens,
				Pricing:       m.Pricing,
			})
		}
		sort.SliceStable(estimates, func(i, j int) bool {
			return estimates[i].EstimatedCost.LessThan(estimates[j].EstimatedCost)
		})

		out = append(out, ProviderCostAnalysis{Provider: p.Provider, Models: estimates})
	}
	return out, nil
}

// Requirements are explicit task requirements. A nil field is derived from
// the task description.
type Requirements struct {
	Vision          *bool `json:"vision,omitempty"`
	Audio           *bool `json:"audio,omitempty"`
	FunctionCalling *bool `json:"function_calling,omitempty"`
	Reasoning       *bool `json:"reasoning,omitempty"`
	CodeGeneration  *bool `json:"code_generation,omitempty"`
	JSONOutput      *bool `json:"json_output,omitempty"`
	MaxTokens       int   `json:"max_tokens,omitempty"`
}

// TaskRequirements are the resolved requirement flags of a task.
type TaskRequirements struct {
	NeedsVision          bool `json:"needs_vision"`
	NeedsAudio           bool `json:"needs_audio"`
	NeedsFunctionCalling bool `json:"needs_function_calling"`
	NeedsReasoning       bool `json:"needs_reasoning"`
	NeedsCodeGeneration  bool `json:"needs_code_generation"`
	NeedsJSONOutput      bool `json:"needs_json_output"`
	MaxTokens            int  `json:"max_tokens"`
}

var taskKeywords = struct {
	vision, audio, function, reasoning, code, json []string
}{
	vision:    []string{"image", "vision", "photo"},
	audio:     []string{"audio", "speech", "whisper"},
	function:  []string{"function", "tool"},
	reasoning: []string{"reason", "logic", "solve"},
	code:      []string{"code", "program", "script"},
	json:      []string{"json", "structured"},
}

// ParseTaskRequirements derives requirement flags from keywords in task.
// Explicit requirements override the derived flags.
func ParseTaskRequirements(task string, req Requirements) TaskRequirements {
	lower := strings.ToLower(task)
	flag := func(explicit *bool, keywords []string) bool {
		if explicit != nil {
			return *explicit
		}
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
		return false
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultRequiredTokens
	}

	return TaskRequirements{
		NeedsVision:          flag(req.Vision, taskKeywords.vision),
		NeedsAudio:           flag(req.Audio, taskKeywords.audio),
		NeedsFunctionCalling: flag(req.FunctionCalling, taskKeywords.function),
		NeedsReasoning:       flag(req.Reasoning, taskKeywords.reasoning),
		NeedsCodeGeneration:  flag(req.CodeGeneration, taskKeywords.code),
		NeedsJSONOutput:      flag(req.JSONOutput, taskKeywords.json),
		MaxTokens:            maxTokens,
	}
}

// RecommendRequest asks for the best provider for a task.
type RecommendRequest struct {
	Task         string       `json:"task"`
	Budget       *float64     `json:"budget,omitempty"`
	Priority     Priority     `json:"priority"`
	Requirements Requirements `json:"requirements"`
}

// Recommendation is the best model of one provider.
type Recommendation struct {
	Provider     string             `json:"provider"`
	Model        ModelInfo          `json:"model"`
	Reasoning    string             `json:"reasoning"`
	Capabilities *CapabilityProfile `json:"capabilities,omitempty"`
}

// RecommendationReport ranks providers for a task.
type RecommendationReport struct {
	Recommendations []Recommendation `json:"recommendations"`
	Task            string           `json:"task"`
	Budget          *float64         `json:"budget,omitempty"`
	Priority        Priority         `json:"priority"`
	Requirements    TaskRequirements `json:"requirements"`
}

// RecommendProvider picks the best model of every available provider for a
// task and ranks the providers by priority. The budget is reported back but
// does not filter.
func (d *Director) RecommendProvider(ctx context.Context, req RecommendRequest) (RecommendationReport, error) {
	if req.Priority == "" {
		req.Priority = PriorityCost
	}

	info, err := d.ModelInformation(ctx)
	if err != nil {
		return RecommendationReport{}, err
	}

	needs := ParseTaskRequirements(req.Task, req.Requirements)
	report := RecommendationReport{
		Recommendations: []Recommendation{},
		Task:            req.Task,
		Budget:          req.Budget,
		Priority:        req.Priority,
		Requirements:    needs,
	}

	for _, p := range info.Providers {
		if !p.Available() {
			continue
		}

		var best *ModelInfo
		for i := range p.Models {
			m := &p.Models[i]
			if !suitable(*m, needs) {
				continue
			}
			if best == nil || better(*m, *best, req.Priority) {
				best = m
			}
		}
		if best == nil {
			continue
		}

		report.Recommendations = append(report.Recommendations, Recommendation{
			Provider:     p.Provider,
			Model:        *best,
			Reasoning:    reasoning(*best, needs, req.Priority),
			Capabilities: best.Capabilities,
		})
	}

	recs := report.Recommendations
	sort.SliceStable(recs, func(i, j int) bool {
		return better(recs[i].Model, recs[j].Model, req.Priority)
	})

	return report, nil
}

// suitable reports whether m meets the task requirements.
func suitable(m ModelInfo, needs TaskRequirements) bool {
	c := m.Capabilities
	if c == nil {
		return PermitUnknownCapabilities
	}
	switch {
	case needs.NeedsVision && !c.Vision:
		return false
	case needs.NeedsAudio && !c.Audio:
		return false
	case needs.NeedsFunctionCalling && !c.FunctionCalling:
		return false
	case needs.NeedsReasoning && c.Performance.Reasoning == ClassBasic:
		return false
	case needs.NeedsCodeGeneration && !c.Tasks.CodeGeneration:
		return false
	case needs.NeedsJSONOutput && !c.JSONOutput:
		return false
	}
	return true
}

// better reports whether a ranks strictly ahead of b.
func better(a, b ModelInfo, priority Priority) bool {
	switch priority {
	case PriorityCost:
		return a.combinedPrice() < b.combinedPrice()
	case PrioritySpeed:
		return speedRank(a.speed()) > speedRank(b.speed())
	case PriorityQuality:
		return qualityRank(a.quality()) > qualityRank(b.quality())
	}
	return false
}

func reasoning(m ModelInfo, needs TaskRequirements, priority Priority) string {
	var reasons []string
	c := m.Capabilities

	if m.FreeTier.IsFree {
		reasons = append(reasons, "Free tier available")
	}
	if needs.NeedsVision && c != nil && c.Vision {
		reasons = append(reasons, "Supports vision tasks")
	}
	if needs.NeedsReasoning && (c == nil || c.Performance.Reasoning != ClassBasic) {
		reasons = append(reasons, "Good reasoning capabilities")
	}
	if priority == PrioritySpeed && c != nil && c.Performance.Speed == SpeedUltraFast {
		reasons = append(reasons, "Ultra-fast inference")
	}
	if priority == PriorityQuality && c != nil && c.Performance.Quality == ClassStateOfTheArt {
		reasons = append(reasons, "State-of-the-art quality")
	}
	if priority == PriorityCost && m.FreeTier.IsFree {
		reasons = append(reasons, "Cost-effective (free tier)")
	}

	if len(reasons) == 0 {
		return fmt.Sprintf("Best %s option", priority)
	}
	return strings.Join(reasons, ", ")
}

// ModelsForTask returns the active models of every provider that meet the
// requirements, ranked by priority. For cost, free models come first, then
// cheaper input price.
func (d *Director) ModelsForTask(ctx context.Context, needs TaskRequirements, priority Priority) ([]ModelInfo, error) {
	if priority == "" {
		priority = PriorityCost
	}
	if needs.MaxTokens <= 0 {
		needs.MaxTokens = defaultRequiredTokens
	}

	var out []ModelInfo
	for _, cfg := range d.registry.Configs() {
		models, err := d.providerModels(ctx, cfg.Name)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			if m.Capabilities == nil || m.Capabilities.MaxTokens < needs.MaxTokens {
				continue
			}
			if suitable(m, needs) {
				out = append(out, m)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if priority == PriorityCost {
			if a.FreeTier.IsFree != b.FreeTier.IsFree {
				return a.FreeTier.IsFree
			}
			return inputPriceOrMax(a) < inputPriceOrMax(b)
		}
		return better(a, b, priority)
	})
	return out, nil
}

// unpricedInput ranks models without pricing after priced ones.
const unpricedInput = 999

func inputPriceOrMax(m ModelInfo) float64 {
	if m.Pricing == nil || m.Pricing.InputPrice == 0 {
		return unpricedInput
	}
	return m.Pricing.InputPrice
}
