package meter

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ineyio/aidirector"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferMeter(level slog.Level) (*LogMeter, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewLogMeter(slog.New(h)), &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestLogMeter_RouteLevels(t *testing.T) {
	m, buf := newBufferMeter(slog.LevelInfo)

	m.OnRoute(aidirector.RouteEvent{Provider: "claude", AttemptNum: 1})
	assert.Empty(t, buf.String(), "first attempts are debug")

	m.OnRoute(aidirector.RouteEvent{Provider: "groq", AttemptNum: 2, Fallback: true})
	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "route", got[0]["msg"])
	assert.Equal(t, "groq", got[0]["provider"])
	assert.Equal(t, true, got[0]["fallback"])
}

func TestLogMeter_Result(t *testing.T) {
	m, buf := newBufferMeter(slog.LevelInfo)

	m.OnResult(aidirector.ResultEvent{
		Provider: "groq",
		Model:    "llama",
		Success:  true,
		Free:     true,
		Cost:     decimal.Zero,
		Duration: 150 * time.Millisecond,
		Usage:    aidirector.Usage{InputTokens: 3, OutputTokens: 4},
	})
	m.OnResult(aidirector.ResultEvent{
		Provider: "claude",
		Error:    aidirector.ErrRateLimited,
	})

	got := lines(t, buf)
	require.Len(t, got, 2)

	assert.Equal(t, "provider call succeeded", got[0]["msg"])
	assert.Equal(t, "groq", got[0]["call"].(map[string]any)["provider"])
	assert.Equal(t, "0", got[0]["cost"])

	assert.Equal(t, "WARN", got[1]["level"])
	assert.Equal(t, string(aidirector.Classify(aidirector.ErrRateLimited)), got[1]["kind"])
}
