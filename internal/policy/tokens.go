package policy

import (
	"math"
	"strings"
)

// EstimateTokens is the proxy's deliberately cheap token estimate:
// ceil(whitespace_word_count * 1.5). §9 calls this an over-approximation
// that is never used in a metric that must be accurate, so a real
// tokenizer (e.g. a BPE implementation) would be over-engineering for
// what the specification explicitly wants cheap — see DESIGN.md.
func EstimateTokens(body []byte) int {
	words := len(strings.Fields(string(body)))
	return int(math.Ceil(float64(words) * 1.5))
}
