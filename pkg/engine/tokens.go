package engine

import (
	"github.com/pkoukk/tiktoken-go"
)

// estimateTokens gives a rough cl100k_base token count for audit metadata
// and prompt-size diagnostics. Falls back to a length-based estimate (one
// token per four bytes) if the encoding can't be loaded (e.g. no cached
// BPE file reachable).
func estimateTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
