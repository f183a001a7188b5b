package aidirector_test

import (
	"testing"

	ad "github.com/ineyio/aidirector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferCapabilities_Empty(t *testing.T) {
	assert.Equal(t, ad.DefaultCapabilities(), ad.InferCapabilities(""))
}

func TestInferCapabilities_Naming(t *testing.T) {
	big := ad.InferCapabilities("llama-3.1-405b-reasoning")
	assert.Equal(t, ad.ClassStateOfTheArt, big.Performance.Quality)
	assert.Equal(t, ad.ClassStateOfTheArt, big.Performance.Reasoning)
	assert.Equal(t, 8192, big.MaxTokens)

	mid := ad.InferCapabilities("some-70b-chat")
	assert.Equal(t, ad.ClassExcellent, mid.Performance.Quality)
	assert.True(t, mid.Tasks.Reasoning)

	fast := ad.InferCapabilities("tiny-8b-instant")
	assert.Equal(t, ad.SpeedUltraFast, fast.Performance.Speed)

	audio := ad.InferCapabilities("whisper-next")
	assert.True(t, audio.Audio)
	assert.False(t, audio.Tasks.CodeGeneration)

	vision := ad.InferCapabilities("Llama-Vision-Preview")
	assert.True(t, vision.Vision)

	guard := ad.InferCapabilities("llama-guard-9")
	assert.False(t, guard.Tasks.Translation)

	long := ad.InferCapabilities("claude-200k")
	assert.Equal(t, 200000, long.ContextWindow)
	assert.True(t, long.FunctionCalling)
}

func TestInferCapabilities_MillionContextToken(t *testing.T) {
	for _, id := range []string{"acme-chat-1m", "acme-1m-preview", "acme_1m", "acme-1048576"} {
		assert.Equal(t, 1048576, ad.InferCapabilities(id).ContextWindow, id)
	}
	for _, id := range []string{"meta-llama/llama-prompt-guard-2-22m", "acme-21m", "acme-31m-chat", "acme-1mini"} {
		assert.NotEqual(t, 1048576, ad.InferCapabilities(id).ContextWindow, id)
	}
}

func TestKnownCapabilities(t *testing.T) {
	c, ok := ad.KnownCapabilities("gemini", "gemini-1.5-pro")
	require.True(t, ok)
	assert.True(t, c.Vision)
	assert.Equal(t, 1048576, c.ContextWindow)
	assert.Equal(t, ad.ClassStateOfTheArt, c.Performance.Quality)

	c, ok = ad.KnownCapabilities("anthropic", "claude-3-haiku-20240307")
	require.True(t, ok)
	assert.Equal(t, ad.SpeedUltraFast, c.Performance.Speed)

	_, ok = ad.KnownCapabilities("groq", "unknown")
	assert.False(t, ok)
}

func TestCapabilitiesFor_PrefersKnown(t *testing.T) {
	c := ad.CapabilitiesFor("groq", "whisper-large-v3")
	assert.True(t, c.Audio)
	assert.Equal(t, ad.SpeedFast, c.Performance.Speed)

	inferred := ad.CapabilitiesFor("groq", "new-model-70b")
	assert.Equal(t, ad.ClassExcellent, inferred.Performance.Quality)
}
