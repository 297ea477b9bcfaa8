package contextmgr

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// Adapted near-verbatim from internal/context/token.go's getTokenizer/
// EstimateTokens: tiktoken-go's cl100k_base encoding when available,
// falling back to a char/4 heuristic if the encoding can't be loaded
// (e.g. no network access to fetch its vocabulary file in a sandboxed
// environment). Used here only to size a recovery-injection block against
// a budget before splicing it into a prompt — this package never counts
// tokens for billing; that number comes from the Companion's own `usage`
// field (spec.md §4.C).
var (
	tkm     *tiktoken.Tiktoken
	tkmOnce sync.Once
)

func getTokenizer() *tiktoken.Tiktoken {
	tkmOnce.Do(func() {
		var err error
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Str("component", "contextmgr").Err(err).Msg("failed to load tiktoken encoding, falling back to char heuristic")
		}
	})
	return tkm
}

// EstimateTokens estimates the token count of text using tiktoken when
// available, otherwise a 1:4 character heuristic.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if tokenizer := getTokenizer(); tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}
	return len(text) / 4
}
