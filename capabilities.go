package aidirector

import (
	"slices"
	"strings"
)

// PerformanceClass ranks a model on one performance axis.
type PerformanceClass string

const (
	ClassBasic         PerformanceClass = "basic"
	ClassGood          PerformanceClass = "good"
	ClassExcellent     PerformanceClass = "excellent"
	ClassStateOfTheArt PerformanceClass = "state-of-the-art"

	SpeedSlow      PerformanceClass = "slow"
	SpeedMedium    PerformanceClass = "medium"
	SpeedFast      PerformanceClass = "fast"
	SpeedUltraFast PerformanceClass = "ultra-fast"
)

const defaultContextWindow = 4096

// qualityRank orders quality and reasoning classes, higher is better.
func qualityRank(c PerformanceClass) int {
	switch c {
	case ClassStateOfTheArt:
		return 3
	case ClassExcellent:
		return 2
	case ClassGood, "":
		return 1
	}
	return 0
}

// speedRank orders speed classes, higher is faster.
func speedRank(c PerformanceClass) int {
	switch c {
	case SpeedUltraFast:
		return 3
	case SpeedFast:
		return 2
	case SpeedMedium, "":
		return 1
	}
	return 0
}

// TaskSupport flags which kinds of work a model handles.
type TaskSupport struct {
	TextGeneration    bool `json:"text_generation"`
	CodeGeneration    bool `json:"code_generation"`
	Reasoning         bool `json:"reasoning"`
	Analysis          bool `json:"analysis"`
	Summarization     bool `json:"summarization"`
	Translation       bool `json:"translation"`
	QuestionAnswering bool `json:"question_answering"`
	CreativeWriting   bool `json:"creative_writing"`
	StructuredOutput  bool `json:"structured_output"`
}

// Performance is a model's speed, quality and reasoning class.
type Performance struct {
	Speed     PerformanceClass `json:"speed"`
	Quality   PerformanceClass `json:"quality"`
	Reasoning PerformanceClass `json:"reasoning"`
}

// CapabilityProfile describes what a model supports.
type CapabilityProfile struct {
	MaxTokens       int         `json:"max_tokens"`
	ContextWindow   int         `json:"context_window"`
	Vision          bool        `json:"vision"`
	Audio           bool        `json:"audio"`
	FunctionCalling bool        `json:"function_calling"`
	JSONOutput      bool        `json:"json_output"`
	Streaming       bool        `json:"streaming"`
	Tasks           TaskSupport `json:"tasks"`
	Performance     Performance `json:"performance"`
}

// DefaultCapabilities is the conservative profile assumed for unknown models.
func DefaultCapabilities() CapabilityProfile {
	return CapabilityProfile{
		MaxTokens:     defaultContextWindow,
		ContextWindow: defaultContextWindow,
		JSONOutput:    true,
		Streaming:     true,
		Tasks: TaskSupport{
			TextGeneration:    true,
			CodeGeneration:    true,
			Analysis:          true,
			Summarization:     true,
			Translation:       true,
			QuestionAnswering: true,
			CreativeWriting:   true,
			StructuredOutput:  true,
		},
		Performance: Performance{
			Speed:     SpeedMedium,
			Quality:   ClassGood,
			Reasoning: ClassBasic,
		},
	}
}

// InferCapabilities derives a best-guess profile from naming conventions in
// modelID. It never fails; an empty id yields DefaultCapabilities.
func InferCapabilities(modelID string) CapabilityProfile {
	c := DefaultCapabilities()
	if modelID == "" {
		return c
	}

	id := strings.ToLower(modelID)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(id, s) {
				return true
			}
		}
		return false
	}
	tokens := strings.FieldsFunc(id, func(r rune) bool {
		return r == '-' || r == '_' || r == '/' || r == ':' || r == '.'
	})
	hasToken := func(want string) bool {
		return slices.Contains(tokens, want)
	}

	if has("vision", "multimodal") {
		c.Vision = true
	}

	if has("whisper", "tts", "audio") {
		c.Audio = true
		c.Tasks.CodeGeneration = false
		c.Tasks.CreativeWriting = false
		c.Tasks.StructuredOutput = false
	}

	if has("70b", "405b") {
		c.MaxTokens, c.ContextWindow = 8192, 8192
		c.Tasks.Reasoning = true
		c.Performance.Reasoning = ClassExcellent
		c.Performance.Quality = ClassExcellent
	}
	if has("405b") {
		c.Performance.Reasoning = ClassStateOfTheArt
		c.Performance.Quality = ClassStateOfTheArt
	}

	if has("8b", "9b") {
		c.MaxTokens, c.ContextWindow = 8192, 8192
		c.Performance.Speed = SpeedUltraFast
	}
	if has("instant", "turbo") {
		c.Performance.Speed = SpeedUltraFast
	}

	if has("claude", "gemini") {
		c.FunctionCalling = true
	}

	if has("guard") {
		c.Tasks.CodeGeneration = false
		c.Tasks.CreativeWriting = false
		c.Tasks.StructuredOutput = false
		c.Tasks.Translation = false
	}

	if has("200k") {
		c.MaxTokens, c.ContextWindow = 200000, 200000
	}
	if hasToken("1m") || has("1048576") {
		c.MaxTokens, c.ContextWindow = 1048576, 1048576
	}

	return c
}

// CapabilitiesFor returns the documented profile of a known model, or the
// inferred one otherwise.
func CapabilitiesFor(provider, modelID string) CapabilityProfile {
	if c, ok := KnownCapabilities(provider, modelID); ok {
		return c
	}
	return InferCapabilities(modelID)
}

// KnownCapabilities returns the documented profile of a curated model.
func KnownCapabilities(provider, modelID string) (CapabilityProfile, bool) {
	if provider == "anthropic" {
		provider = "claude"
	}
	known, ok := knownModels[provider][modelID]
	if !ok {
		return CapabilityProfile{}, false
	}
	return known.profile(), true
}

type knownModel struct {
	context         int
	speed           PerformanceClass
	quality         PerformanceClass
	reasoning       PerformanceClass
	vision          bool
	audio           bool
	functionCalling bool
}

func (k knownModel) profile() CapabilityProfile {
	c := DefaultCapabilities()
	c.MaxTokens, c.ContextWindow = k.context, k.context
	c.Vision = k.vision
	c.Audio = k.audio
	c.FunctionCalling = k.functionCalling
	c.Performance = Performance{Speed: k.speed, Quality: k.quality, Reasoning: k.reasoning}
	c.Tasks.Reasoning = k.reasoning != ClassBasic
	if k.audio {
		c.Tasks.CodeGeneration = false
		c.Tasks.CreativeWriting = false
		c.Tasks.StructuredOutput = false
	}
	return c
}

var knownModels = map[string]map[string]knownModel{
	"claude": {
		"claude-3-5-sonnet-20241022": {context: 200000, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent, functionCalling: true},
		"claude-3-5-haiku-20241022":  {context: 200000, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassGood, functionCalling: true},
		"claude-opus-4-1-20250805":   {context: 200000, speed: SpeedSlow, quality: ClassStateOfTheArt, reasoning: ClassStateOfTheArt, vision: true, functionCalling: true},
		"claude-opus-4-20250514":     {context: 200000, speed: SpeedSlow, quality: ClassStateOfTheArt, reasoning: ClassStateOfTheArt, vision: true, functionCalling: true},
		"claude-sonnet-4-20250514":   {context: 200000, speed: SpeedMedium, quality: ClassExcellent, reasoning: ClassExcellent, functionCalling: true},
		"claude-3-7-sonnet-20250219": {context: 200000, speed: SpeedMedium, quality: ClassExcellent, reasoning: ClassExcellent, functionCalling: true},
		"claude-3-haiku-20240307":    {context: 200000, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassGood, functionCalling: true},
	},
	"groq": {
		"llama-3.1-8b-instant":                          {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic},
		"llama-3.1-70b-versatile":                       {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"llama-3.1-405b-reasoning":                      {context: 8192, speed: SpeedMedium, quality: ClassExcellent, reasoning: ClassStateOfTheArt},
		"llama-3.3-70b-versatile":                       {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"llama3-8b-8192":                                {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic},
		"llama3-70b-8192":                               {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"mixtral-8x7b-instant":                          {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic},
		"gemma-2-9b-it":                                 {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic},
		"gemma2-9b-it":                                  {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic},
		"compound-beta":                                 {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic},
		"compound-beta-mini":                            {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic},
		"meta-llama/llama-4-scout-17b-16e-instruct":     {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"meta-llama/llama-4-maverick-17b-128e-instruct": {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"meta-llama/llama-guard-4-12b":                  {context: 8192, speed: SpeedFast, quality: ClassGood, reasoning: ClassBasic},
		"meta-llama/llama-prompt-guard-2-22m":           {context: 8192, speed: SpeedUltraFast, quality: ClassBasic, reasoning: ClassBasic},
		"meta-llama/llama-prompt-guard-2-86m":           {context: 8192, speed: SpeedUltraFast, quality: ClassBasic, reasoning: ClassBasic},
		"qwen/qwen3-32b":                                {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"moonshotai/kimi-k2-instruct":                   {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"openai/gpt-oss-20b":                            {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"openai/gpt-oss-120b":                           {context: 8192, speed: SpeedMedium, quality: ClassStateOfTheArt, reasoning: ClassStateOfTheArt},
		"allam-2-7b":                                    {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic},
		"deepseek-r1-distill-llama-70b":                 {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"whisper-large-v3":                              {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassBasic, audio: true},
		"whisper-large-v3-turbo":                        {context: 8192, speed: SpeedUltraFast, quality: ClassExcellent, reasoning: ClassBasic, audio: true},
		"distil-whisper-large-v3-en":                    {context: 8192, speed: SpeedUltraFast, quality: ClassGood, reasoning: ClassBasic, audio: true},
		"playai-tts":                                    {context: 8192, speed: SpeedFast, quality: ClassGood, reasoning: ClassBasic, audio: true},
		"playai-tts-arabic":                             {context: 8192, speed: SpeedFast, quality: ClassGood, reasoning: ClassBasic, audio: true},
	},
	"gemini": {
		"gemini-1.5-flash": {context: 1048576, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent, vision: true, functionCalling: true},
		"gemini-1.5-pro":   {context: 1048576, speed: SpeedMedium, quality: ClassStateOfTheArt, reasoning: ClassStateOfTheArt, vision: true, functionCalling: true},
		"gemini-pro":       {context: 1048576, speed: SpeedMedium, quality: ClassExcellent, reasoning: ClassExcellent, functionCalling: true},
	},
	"together": {
		"meta-llama/Llama-Vision-Free":                   {context: 4096, speed: SpeedFast, quality: ClassGood, reasoning: ClassBasic, vision: true},
		"deepseek-ai/DeepSeek-R1-Distill-Llama-70B-free": {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
		"lgai/exaone-deep-32b":                           {context: 4096, speed: SpeedFast, quality: ClassGood, reasoning: ClassBasic},
		"lgai/exaone-3-5-32b-instruct":                   {context: 4096, speed: SpeedFast, quality: ClassGood, reasoning: ClassBasic},
		"meta-llama/Llama-3.3-70B-Instruct-Turbo-Free":   {context: 8192, speed: SpeedFast, quality: ClassExcellent, reasoning: ClassExcellent},
	},
}
