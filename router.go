package aidirector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CallAI sends prompt to the requested (or default) provider. When the
// provider fails, the remaining providers of the fallback order are tried,
// each with its own default model, until one succeeds.
//
// A caller rejected by the admission check of the first provider gets a
// *QuotaError and a result in StateRejectedQuota; no fallback happens unless
// the config sets fallback_on_quota. When every provider fails the error is
// a *CallError wrapping ErrAllProvidersFailed and no usage is recorded.
func (d *Director) CallAI(ctx context.Context, prompt string, opts CallOptions) (CallResult, error) {
	primary := opts.Provider
	if primary == "" {
		primary = d.DefaultProvider()
	}

	res, err := d.attempt(ctx, primary, prompt, opts, 1, false)
	if err == nil {
		return res, nil
	}

	var qe *QuotaError
	if errors.As(err, &qe) && !d.cfg.FallbackOnQuota {
		return res, err
	}

	attempts := []Attempt{{Provider: primary, Model: res.Model, Err: err}}
	tried := map[string]bool{primary: true}

	d.logger.Warn("provider failed, trying fallback", "provider", primary, "model", res.Model, "error", err)

	if ctx.Err() == nil {
		ordered := d.policy.Select(d.fallbackCandidates(ctx, tried))
		for _, c := range ordered {
			if ctx.Err() != nil {
				break
			}

			fbOpts := CallOptions{
				Provider: c.Provider,
				CallerID: opts.CallerID,
				AppName:  opts.AppName,
			}
			res, err := d.attempt(ctx, c.Provider, prompt, fbOpts, len(attempts)+1, true)
			if err == nil {
				res.Fallback = true
				res.Attempts = len(attempts) + 1
				d.logger.Info("fallback succeeded", "provider", c.Provider, "model", res.Model, "attempts", res.Attempts)
				return res, nil
			}

			attempts = append(attempts, Attempt{Provider: c.Provider, Model: res.Model, Err: err})
			d.logger.Warn("fallback provider failed", "provider", c.Provider, "model", res.Model, "error", err)
		}
	}

	return CallResult{
			Provider: primary,
			Model:    attempts[0].Model,
			App:      appName(opts.AppName),
			State:    StateAllFailed,
			Attempts: len(attempts),
		}, &CallError{
			Err:      ErrAllProvidersFailed,
			Provider: primary,
			Model:    attempts[0].Model,
			Attempts: attempts,
		}
}

// CallProvider sends prompt to exactly one provider without fallback.
// Admission, billing and usage recording work as in CallAI.
func (d *Director) CallProvider(ctx context.Context, provider, prompt string, opts CallOptions) (CallResult, error) {
	res, err := d.attempt(ctx, provider, prompt, opts, 1, false)
	if err == nil {
		return res, nil
	}

	var qe *QuotaError
	if errors.As(err, &qe) {
		return res, err
	}
	return res, &CallError{
		Err:      err,
		Provider: provider,
		Model:    res.Model,
		Attempts: []Attempt{{Provider: provider, Model: res.Model, Err: err}},
	}
}

// attempt runs one provider invocation: admission, invoke with timeout,
// then billing and usage recording on success.
func (d *Director) attempt(ctx context.Context, provider, prompt string, opts CallOptions, num int, fallback bool) (CallResult, error) {
	app := appName(opts.AppName)
	result := CallResult{Provider: provider, Model: opts.Model, App: app, State: StateRouting, Attempts: 1}

	cfg, adapter, err := d.registry.Resolve(provider)
	if err != nil {
		return result, err
	}

	model := opts.Model
	if model == "" {
		model = cfg.DefaultModel
	}
	result.Model = model

	maxTokens := cfg.MaxTokens
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	estimated := EstimateTokens(prompt)

	limits, err := d.limitsFor(ctx, provider, model)
	if err != nil {
		return result, err
	}

	var reservation *Reservation
	if opts.CallerID != "" {
		result.State = StateAdmissionCheck
		key := UsageKey{Provider: provider, Model: model, CallerID: opts.CallerID}
		rule := AdmissionRule{Critical: d.cfg.CriticalDimensions(provider), Thresholds: d.cfg.Thresholds}

		res, rec, err := d.ledger.Reserve(ctx, key, limits, rule, estimated)
		if err != nil {
			if !errors.Is(err, ErrQuotaExceeded) {
				return result, fmt.Errorf("aidirector: reserve %s: %w", key, err)
			}
			snap := rec.Snapshot(d.cfg.Thresholds)
			dim, _ := rec.Blocking(rule.Critical, rule.Thresholds, Reservation{Requests: 1, Tokens: estimated})
			result.State = StateRejectedQuota
			result.Quota = &snap
			return result, &QuotaError{
				Provider:  provider,
				Model:     model,
				CallerID:  opts.CallerID,
				Dimension: dim,
				Snapshot:  snap,
			}
		}
		reservation = &res
	}

	result.State = StateInvoking
	if fallback {
		result.State = StateFallback
	}

	d.meter.OnRoute(RouteEvent{
		Provider:    provider,
		Model:       model,
		CallerID:    opts.CallerID,
		App:         app,
		AttemptNum:  num,
		Fallback:    fallback,
		EstimatedIn: estimated,
	})

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	start := d.now()
	resp, err := adapter.Send(callCtx, ProviderRequest{
		Auth:        cfg.Auth(),
		Endpoint:    cfg.BaseURL,
		Model:       model,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	cancel()
	duration := d.now().Sub(start)
	result.Duration = duration

	// Bookkeeping must not be skipped because the caller gave up.
	bookCtx := context.WithoutCancel(ctx)

	if err != nil {
		if reservation != nil {
			if rbErr := d.ledger.Rollback(bookCtx, *reservation); rbErr != nil {
				d.logger.Error("rollback reservation", "reservation", reservation.ID, "error", rbErr)
			}
		}
		// A caller that gave up says nothing about the provider's health.
		if IsUpstreamError(err) && ctx.Err() == nil {
			d.health.RecordFailure(provider)
		}
		d.meter.OnResult(ResultEvent{
			Provider: provider,
			Model:    model,
			CallerID: opts.CallerID,
			App:      app,
			Success:  false,
			Duration: duration,
			Error:    err,
		})
		return result, err
	}

	d.health.RecordSuccess(provider)

	usage := resp.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	delta := UsageDelta{Requests: 1, InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
	if delta.Tokens() == 0 {
		delta.InputTokens = usage.TotalTokens
	}

	// Billing reads the session caller's usage before this call is added.
	charge, err := d.UpdateStats(bookCtx, provider, usage.InputTokens, usage.TotalTokens-usage.InputTokens, model, app)
	if err != nil {
		d.logger.Error("billing failed", "provider", provider, "model", model, "error", err)
	}

	if reservation != nil {
		rec, err := d.ledger.Commit(bookCtx, *reservation, delta)
		if err != nil {
			d.logger.Error("commit usage", "provider", provider, "model", model, "caller", opts.CallerID, "error", err)
		} else {
			snap := rec.Snapshot(d.cfg.Thresholds)
			result.Quota = &snap
		}
	}

	if opts.CallerID != d.cfg.SessionCaller {
		key := UsageKey{Provider: provider, Model: model, CallerID: d.cfg.SessionCaller}
		if _, err := d.ledger.Record(bookCtx, key, limits, delta); err != nil {
			d.logger.Error("record session usage", "provider", provider, "model", model, "error", err)
		}
	}

	if err := d.registry.EnsureModel(bookCtx, provider, model); err != nil {
		d.logger.Warn("ensure model", "provider", provider, "model", model, "error", err)
	}

	d.meter.OnResult(ResultEvent{
		Provider: provider,
		Model:    model,
		CallerID: opts.CallerID,
		App:      app,
		Success:  true,
		Free:     charge.Free,
		Cost:     charge.Cost,
		Duration: duration,
		Usage:    usage,
	})

	result.ID = uuid.NewString()
	result.Content = resp.Content
	result.Usage = usage
	result.State = StateSucceeded
	result.Free = charge.Free
	result.Cost = charge.Cost
	return result, nil
}

func appName(name string) string {
	if name == "" {
		return defaultApp
	}
	return name
}
