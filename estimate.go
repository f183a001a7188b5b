package aidirector

// EstimateTokens approximates the token count of text at ~4 chars per token,
// rounded up.
func EstimateTokens(text string) int64 {
	n := int64(len(text))
	return (n + 3) / 4
}
