// Package tokencount estimates pre-call token usage for reservation sizing.
// It uses a coarse character-based heuristic rather than a real tokenizer:
// the ledger only needs an estimate tight enough to avoid gross
// over-reservation, and the settle step corrects it using the
// provider-returned usage once the call completes.
package tokencount

import "github.com/alcray/trainforge-conductor/internal/conductor"

// Estimate returns the pre-call token estimate for a chat request: the
// character length of every message's content summed, divided by 4 and
// rounded up, plus the request's max_tokens. This is intentionally coarse.
func Estimate(req *conductor.ChatRequest) int64 {
	var chars int
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return int64(ceilDiv4(chars)) + int64(req.MaxTokens)
}

func ceilDiv4(n int) int {
	return (n + 3) / 4
}
