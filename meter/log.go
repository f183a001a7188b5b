package meter

import (
	"context"
	"log/slog"

	"github.com/ineyio/aidirector"
)

// LogMeter writes one slog record per routing decision and per provider
// result. Routing decisions are logged at debug level except fallbacks.
type LogMeter struct {
	Logger *slog.Logger
}

var _ aidirector.Meter = (*LogMeter)(nil)

// NewLogMeter returns a LogMeter writing to logger, or to slog.Default()
// when logger is nil.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnRoute(e aidirector.RouteEvent) {
	level := slog.LevelDebug
	if e.Fallback {
		level = slog.LevelInfo
	}
	m.Logger.LogAttrs(context.Background(), level, "route",
		slog.String("provider", e.Provider),
		slog.String("model", e.Model),
		slog.String("caller", e.CallerID),
		slog.String("app", e.App),
		slog.Int("attempt", e.AttemptNum),
		slog.Bool("fallback", e.Fallback),
		slog.Int64("estimated_tokens", e.EstimatedIn),
	)
}

func (m *LogMeter) OnResult(e aidirector.ResultEvent) {
	call := slog.Group("call",
		slog.String("provider", e.Provider),
		slog.String("model", e.Model),
		slog.String("caller", e.CallerID),
		slog.String("app", e.App),
	)
	if !e.Success {
		m.Logger.Warn("provider call failed", call,
			slog.String("kind", string(aidirector.Classify(e.Error))),
			slog.Duration("elapsed", e.Duration),
			slog.Any("error", e.Error),
		)
		return
	}
	m.Logger.Info("provider call succeeded", call,
		slog.Bool("free", e.Free),
		slog.String("cost", e.Cost.String()),
		slog.Duration("elapsed", e.Duration),
		slog.Int64("input_tokens", e.Usage.InputTokens),
		slog.Int64("output_tokens", e.Usage.OutputTokens),
	)
}
