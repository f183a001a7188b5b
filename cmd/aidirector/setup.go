package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ineyio/aidirector"
	"github.com/ineyio/aidirector/catalog"
	"github.com/ineyio/aidirector/catalog/sqlite"
	"github.com/ineyio/aidirector/meter"
	"github.com/ineyio/aidirector/policy"
	"github.com/ineyio/aidirector/provider/anthropic"
	"github.com/ineyio/aidirector/provider/gemini"
	"github.com/ineyio/aidirector/provider/openaicompat"
	"github.com/ineyio/aidirector/quota"
	"github.com/ineyio/aidirector/quota/postgres"
	quotaredis "github.com/ineyio/aidirector/quota/redis"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
)

// Requests per minute allowed by each adapter's client-side limiter.
var adapterRPM = map[string]int{
	"claude":   50,
	"groq":     30,
	"gemini":   60,
	"together": 60,
}

// runtime holds a director and the resources that must be released with it.
type runtime struct {
	director *aidirector.Director
	closers  []io.Closer
	cleanup  []func()
}

func (r *runtime) Close() {
	for _, fn := range r.cleanup {
		fn()
	}
	for _, c := range r.closers {
		_ = c.Close()
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig(cmd *cli.Command) (aidirector.Config, error) {
	if path := cmd.String(envFileFlag); path != "" {
		if err := godotenv.Load(path); err != nil {
			return aidirector.Config{}, fmt.Errorf("load env file: %w", err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	if path := cmd.String(configFlag); path != "" {
		return aidirector.LoadConfig(path)
	}
	return aidirector.DefaultConfig(), nil
}

func limiter(provider string) *rate.Limiter {
	rpm, ok := adapterRPM[provider]
	if !ok {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// adapters builds an adapter for every configured provider this binary
// knows how to call. Unknown OpenAI-compatible providers with a base URL
// get a generic adapter.
func adapters(cfg aidirector.Config) []aidirector.Provider {
	var out []aidirector.Provider
	for _, p := range cfg.Providers {
		switch p.Name {
		case "claude":
			out = append(out, anthropic.New(anthropic.WithRateLimiter(limiter(p.Name))))
		case "gemini":
			out = append(out, gemini.New(gemini.WithRateLimiter(limiter(p.Name))))
		case "groq":
			out = append(out, openaicompat.NewGroq(openaicompat.WithRateLimiter(limiter(p.Name))))
		case "together":
			out = append(out, openaicompat.NewTogether(openaicompat.WithRateLimiter(limiter(p.Name))))
		default:
			if p.BaseURL != "" {
				out = append(out, openaicompat.New(p.Name, p.BaseURL))
			}
		}
	}
	return out
}

func openLedger(ctx context.Context, cmd *cli.Command, rt *runtime) (aidirector.Ledger, error) {
	redisURL, pgURL := cmd.String(redisFlag), cmd.String(postgresFlag)
	switch {
	case redisURL != "" && pgURL != "":
		return nil, errors.New("--redis and --postgres are mutually exclusive")

	case redisURL != "":
		opts, err := goredis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		rt.closers = append(rt.closers, client)
		return quotaredis.New(client), nil

	case pgURL != "":
		pool, err := pgxpool.New(ctx, pgURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		rt.cleanup = append(rt.cleanup, pool.Close)
		l := postgres.New(pool)
		if err := l.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return l, nil

	default:
		return quota.NewMemoryLedger(), nil
	}
}

func openStore(cmd *cli.Command, rt *runtime) (aidirector.CatalogStore, error) {
	path := cmd.String(dbFlag)
	if path == "" {
		return catalog.NewMemoryStore(), nil
	}
	s, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, s)
	return s, nil
}

func selectPolicy(name string) (aidirector.Policy, error) {
	switch name {
	case "", "fixed":
		return nil, nil
	case "free-first":
		return &policy.FreeFirst{}, nil
	case "cost-first":
		return &policy.CostFirst{}, nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

// setup builds and initializes a director from the global flags.
func setup(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	logger := newLogger(cmd.Bool(debugFlag))
	slog.SetDefault(logger)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	rt := &runtime{}
	ledger, err := openLedger(ctx, cmd, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}
	store, err := openStore(cmd, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	opts := []aidirector.Option{
		aidirector.WithLedger(ledger),
		aidirector.WithStore(store),
		aidirector.WithLogger(logger),
		aidirector.WithMeter(meter.NewLogMeter(logger)),
	}
	p, err := selectPolicy(cmd.String(policyFlag))
	if err != nil {
		rt.Close()
		return nil, err
	}
	if p != nil {
		opts = append(opts, aidirector.WithPolicy(p))
	}

	d, err := aidirector.New(cfg, adapters(cfg), opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := d.Init(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	d.LogKeyStatus()

	rt.director = d
	return rt, nil
}
