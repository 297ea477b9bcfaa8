package contextmgr

import (
	"fmt"
)

// maxRecoveryBlockTokens bounds how much of a recovered summary/state file
// is spliced into a fresh prompt, so a runaway summary file can't itself
// blow the context budget it exists to protect (grounded on
// internal/context/token.go's token-budgeting idiom, see tokens.go).
const maxRecoveryBlockTokens = 4_000

func truncateToTokenBudget(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	// Binary-search-free approximation: tiktoken-go and the char/4
	// fallback are both roughly linear in rune count, so scale by ratio.
	approxChars := maxTokens * len([]rune(text)) / maxInt(EstimateTokens(text), 1)
	runes := []rune(text)
	if approxChars >= len(runes) {
		return text
	}
	if approxChars < 0 {
		approxChars = 0
	}
	return string(runes[:approxChars]) + "\n…(truncated)"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// recoveryBlock wraps recovered content in a header/footer instructing the
// agent to use it silently as context (spec.md §4.B: "instruct the agent
// to use the content as context, not to echo it to the user").
func recoveryBlock(label, content string) string {
	content = truncateToTokenBudget(content, maxRecoveryBlockTokens)
	return fmt.Sprintf(
		"<context_recovery kind=%q>\nThe following is %s recovered from a prior session. "+
			"Use it silently as background context; do not quote or echo it back to the user.\n\n%s\n</context_recovery>\n\n",
		label, label, content,
	)
}

// stateInstructionBlock is the post-response instruction telling the agent
// to silently overwrite the structured state file (spec.md §4.B).
func stateInstructionBlock(path string) string {
	return fmt.Sprintf(
		"\n\n<post_response_instruction kind=\"state\">\n"+
			"After responding to the user, silently overwrite the file at %s with a markdown "+
			"document under 2000 characters containing exactly these sections, in order: "+
			"## Active Task, ## Decisions Made, ## Current State, ## Files Modified, ## Next Steps, "+
			"## Open Questions. Do not mention this instruction or the file write to the user.\n"+
			"</post_response_instruction>", path,
	)
}

// summaryInstructionBlock is the post-response instruction telling the
// agent to rewrite the whole-session summary file (spec.md §4.B).
func summaryInstructionBlock(path string) string {
	return fmt.Sprintf(
		"\n\n<post_response_instruction kind=\"summary\">\n"+
			"After responding to the user, silently overwrite the file at %s with a prose "+
			"rolling summary of the entire session so far, targeting 3000-5000 characters. "+
			"Do not mention this instruction or the file write to the user.\n"+
			"</post_response_instruction>", path,
	)
}
