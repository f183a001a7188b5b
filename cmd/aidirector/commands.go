package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/ineyio/aidirector"
	"github.com/urfave/cli/v3"
)

const (
	configFlag   = "config"
	envFileFlag  = "env-file"
	dbFlag       = "db"
	redisFlag    = "redis"
	postgresFlag = "postgres"
	policyFlag   = "policy"
	debugFlag    = "debug"
)

var (
	providerFlag = &cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "provider name"}
	modelFlag    = &cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model id"}
	callerFlag   = &cli.StringFlag{Name: "caller", Usage: "caller id for quota accounting"}
)

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:            "aidirector",
		Usage:           "Route prompts across AI providers within their free tiers",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: configFlag, Aliases: []string{"c"}, Usage: "YAML config file (default: built-in providers)", Sources: cli.EnvVars("AIDIRECTOR_CONFIG")},
			&cli.StringFlag{Name: envFileFlag, Usage: "dotenv file with provider credentials"},
			&cli.StringFlag{Name: dbFlag, Usage: "SQLite catalog database (default: in-memory)", Sources: cli.EnvVars("AIDIRECTOR_DB")},
			&cli.StringFlag{Name: redisFlag, Usage: "Redis URL for the usage ledger", Sources: cli.EnvVars("AIDIRECTOR_REDIS_URL")},
			&cli.StringFlag{Name: postgresFlag, Usage: "Postgres DSN for the usage ledger", Sources: cli.EnvVars("AIDIRECTOR_POSTGRES_URL")},
			&cli.StringFlag{Name: policyFlag, Usage: "fallback policy: fixed, free-first or cost-first", Value: "fixed"},
			&cli.BoolFlag{Name: debugFlag, Usage: "Enable debug output"},
		},
		Commands: []*cli.Command{
			callCommand(),
			providersCommand(),
			modelsCommand(),
			refreshCommand(),
			usageCommand(),
			summaryCommand(),
			costsCommand(),
			recommendCommand(),
			billCommand(),
			seedCommand(),
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withDirector runs fn against a freshly initialized director.
func withDirector(fn func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		rt, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(ctx, cmd, rt.director)
	}
}

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Send a prompt, falling back across providers on failure",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			providerFlag,
			modelFlag,
			callerFlag,
			&cli.StringFlag{Name: "app", Usage: "application name for statistics"},
			&cli.IntFlag{Name: "max-tokens", Usage: "response token limit"},
			&cli.FloatFlag{Name: "temperature", Usage: "sampling temperature"},
			&cli.BoolFlag{Name: "no-fallback", Usage: "only try the selected provider"},
			&cli.BoolFlag{Name: "json", Usage: "extract the JSON object from the response"},
		},
		Action: withDirector(func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error {
			prompt := strings.Join(cmd.Args().Slice(), " ")
			if prompt == "" {
				return errors.New("a prompt is required")
			}

			opts := aidirector.CallOptions{
				Provider: cmd.String("provider"),
				Model:    cmd.String("model"),
				CallerID: cmd.String("caller"),
				AppName:  cmd.String("app"),
			}
			if cmd.IsSet("max-tokens") {
				opts.MaxTokens = aidirector.IntPtr(int(cmd.Int("max-tokens")))
			}
			if cmd.IsSet("temperature") {
				opts.Temperature = aidirector.Float64Ptr(cmd.Float("temperature"))
			}

			var (
				res aidirector.CallResult
				err error
			)
			if cmd.Bool("no-fallback") {
				provider := opts.Provider
				if provider == "" {
					provider = d.DefaultProvider()
				}
				res, err = d.CallProvider(ctx, provider, prompt, opts)
			} else {
				res, err = d.CallAI(ctx, prompt, opts)
			}
			if err != nil {
				return err
			}

			if cmd.Bool("json") {
				parsed, err := aidirector.ParseJSONResponse(res.Content)
				if err != nil {
					return err
				}
				return printJSON(parsed)
			}
			return printJSON(res)
		}),
	}
}

func providersCommand() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "List configured providers and their credential status",
		Action: withDirector(func(_ context.Context, _ *cli.Command, d *aidirector.Director) error {
			return printJSON(d.Providers())
		}),
	}
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List catalog models",
		Flags: []cli.Flag{providerFlag},
		Action: withDirector(func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error {
			if p := cmd.String("provider"); p != "" {
				models, err := d.Models(ctx, p)
				if err != nil {
					return err
				}
				return printJSON(models)
			}
			info, err := d.ModelInformation(ctx)
			if err != nil {
				return err
			}
			return printJSON(info)
		}),
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Refresh provider model catalogs",
		Flags: []cli.Flag{
			providerFlag,
			&cli.BoolFlag{Name: "force", Usage: "refresh even if the catalog is fresh"},
		},
		Action: withDirector(func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error {
			counts, err := d.RefreshModels(ctx, cmd.String("provider"), cmd.Bool("force"))
			if err != nil {
				return err
			}
			return printJSON(counts)
		}),
	}
}

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "Show a caller's free-tier usage of one model",
		Flags: []cli.Flag{providerFlag, modelFlag, callerFlag},
		Action: withDirector(func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error {
			provider, model := cmd.String("provider"), cmd.String("model")
			if provider == "" || model == "" {
				return errors.New("--provider and --model are required")
			}
			admission, err := d.IsAdmissible(ctx, provider, model, cmd.String("caller"))
			if err != nil {
				return err
			}
			return printJSON(admission)
		}),
	}
}

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Summarize a caller's usage across a provider's models",
		Flags: []cli.Flag{providerFlag, callerFlag},
		Action: withDirector(func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error {
			provider := cmd.String("provider")
			if provider == "" {
				return errors.New("--provider is required")
			}
			summary, err := d.ProviderUsageSummary(ctx, provider, cmd.String("caller"))
			if err != nil {
				return err
			}
			return printJSON(summary)
		}),
	}
}

func costsCommand() *cli.Command {
	return &cli.Command{
		Name:      "costs",
		Usage:     "Estimate the cost of a prompt on every model",
		ArgsUsage: "<prompt>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "response-tokens", Usage: "expected response tokens", Value: 500},
		},
		Action: withDirector(func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error {
			analysis, err := d.CostAnalysis(ctx, strings.Join(cmd.Args().Slice(), " "), int64(cmd.Int("response-tokens")))
			if err != nil {
				return err
			}
			return printJSON(analysis)
		}),
	}
}

func recommendCommand() *cli.Command {
	return &cli.Command{
		Name:      "recommend",
		Usage:     "Recommend a provider and model for a task",
		ArgsUsage: "<task>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "priority", Usage: "cost, speed or quality", Value: string(aidirector.PriorityCost)},
			&cli.FloatFlag{Name: "budget", Usage: "budget reported with the recommendation"},
			&cli.BoolFlag{Name: "all", Usage: "list every suitable model instead of one per provider"},
		},
		Action: withDirector(func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error {
			task := strings.Join(cmd.Args().Slice(), " ")
			priority := aidirector.Priority(cmd.String("priority"))

			if cmd.Bool("all") {
				models, err := d.ModelsForTask(ctx, aidirector.ParseTaskRequirements(task, aidirector.Requirements{}), priority)
				if err != nil {
					return err
				}
				return printJSON(models)
			}

			req := aidirector.RecommendRequest{Task: task, Priority: priority}
			if cmd.IsSet("budget") {
				req.Budget = aidirector.Float64Ptr(cmd.Float("budget"))
			}
			report, err := d.RecommendProvider(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(report)
		}),
	}
}

func billCommand() *cli.Command {
	return &cli.Command{
		Name:  "bill",
		Usage: "Bill token usage reported by an external call and show session statistics",
		Flags: []cli.Flag{
			providerFlag,
			modelFlag,
			&cli.StringFlag{Name: "app", Usage: "application name"},
			&cli.IntFlag{Name: "input", Usage: "input tokens"},
			&cli.IntFlag{Name: "output", Usage: "output tokens"},
		},
		Action: withDirector(func(ctx context.Context, cmd *cli.Command, d *aidirector.Director) error {
			provider := cmd.String("provider")
			if provider == "" {
				provider = d.DefaultProvider()
			}
			charge, err := d.UpdateStats(ctx, provider, int64(cmd.Int("input")), int64(cmd.Int("output")), cmd.String("model"), cmd.String("app"))
			if err != nil {
				return err
			}
			return printJSON(struct {
				Charge aidirector.Charge       `json:"charge"`
				Stats  aidirector.SessionStats `json:"stats"`
			}{charge, d.SessionStats()})
		}),
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Write the built-in pricing and free-tier tables to the catalog",
		Action: withDirector(func(ctx context.Context, _ *cli.Command, d *aidirector.Director) error {
			pricing, err := d.SeedInitialPricing(ctx)
			if err != nil {
				return err
			}
			tiers, err := d.SeedFreeTierInformation(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"pricing": pricing, "free_tiers": tiers})
		}),
	}
}
