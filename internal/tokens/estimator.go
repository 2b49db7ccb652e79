// Package tokens estimates how many LLM tokens a piece of intercepted
// text represents.
//
// Two mechanisms coexist. Estimate is the canonical chars/4 heuristic:
// it is deterministic, allocation-free, and every reporting surface
// (control-plane events, telemetry entries) uses it so that counts are
// reproducible across hosts. Counter is an optional tiktoken-backed
// counter used only to annotate local telemetry with a more precise
// figure when precise counting is switched on.
package tokens

// Estimate returns the canonical token estimate for text: the character
// count divided by four, rounded up. An empty string is zero tokens.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateBytes is Estimate for raw request bodies.
func EstimateBytes(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	return (len(b) + 3) / 4
}
