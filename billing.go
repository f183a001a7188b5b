package aidirector

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Charge is the billing outcome of one call.
type Charge struct {
	Free bool            `json:"free"`
	Cost decimal.Decimal `json:"cost"`
}

// UpdateStats bills one completed call and adds it to the session statistics.
// A call is free when the model has a free tier and the session caller is not
// at any of its limits; otherwise it costs total tokens / 1000 times the
// provider's configured price. No usage is recorded.
func (d *Director) UpdateStats(ctx context.Context, provider string, inputTokens, outputTokens int64, model, app string) (Charge, error) {
	cfg, ok := d.registry.Config(provider)
	if !ok {
		return Charge{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if model == "" {
		model = cfg.DefaultModel
	}

	charge, err := d.charge(ctx, cfg, model, inputTokens+outputTokens)
	if err != nil {
		return Charge{}, err
	}

	d.stats.Add(provider, app, inputTokens+outputTokens, charge.Cost, charge.Free)
	return charge, nil
}

func (d *Director) charge(ctx context.Context, cfg ProviderConfig, model string, totalTokens int64) (Charge, error) {
	free, err := d.freeTierOpen(ctx, cfg.Name, model)
	if err != nil {
		return Charge{}, err
	}
	if free {
		return Charge{Free: true, Cost: decimal.Zero}, nil
	}

	cost := decimal.NewFromInt(totalTokens).
		Div(thousand).
		Mul(decimal.NewFromFloat(cfg.CostPer1kTokens))
	return Charge{Cost: cost}, nil
}

// freeTierOpen reports whether the model has a free tier and the session
// caller has not reached any of its limits today.
func (d *Director) freeTierOpen(ctx context.Context, provider, model string) (bool, error) {
	ft, found, err := d.store.FreeTier(ctx, provider, model)
	if err != nil {
		return false, fmt.Errorf("aidirector: load free tier %s/%s: %w", provider, model, err)
	}
	if !found || !ft.IsFree {
		return false, nil
	}

	snap, err := d.UsageStatus(ctx, provider, model, d.cfg.SessionCaller)
	if err != nil {
		return false, err
	}
	return !snap.AnyAtLimit(), nil
}
