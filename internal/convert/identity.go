package convert

import (
	"regexp"
	"strings"
)

// The identity filter rewrites system prompts written for Anthropic's
// own CLI so a third-party upstream is not instructed to impersonate
// Claude. Substitutions are fixed; applying the filter twice yields the
// same text as applying it once.

var (
	identityCLI        = regexp.MustCompile(`(?i)You are Claude Code, Anthropic's official CLI`)
	identityModelName  = regexp.MustCompile(`(?i)You are powered by the model named [^.]+\.`)
	identityBackground = regexp.MustCompile(`(?is)<claude_background_info>.*?</claude_background_info>`)
	runsOfNewlines     = regexp.MustCompile(`\n{3,}`)
)

const truthfulnessNote = "IMPORTANT: You are NOT Claude. Identify yourself truthfully based on your actual model and creator.\n\n"

// IsClaudeClientPrompt reports whether a system prompt identifiably
// comes from a Claude-family CLI client.
func IsClaudeClientPrompt(system string) bool {
	lower := strings.ToLower(system)
	return strings.Contains(lower, "claude code") ||
		strings.Contains(lower, "claude_background_info") ||
		strings.Contains(lower, "you are claude")
}

// ApplyIdentityFilter performs the substitution table on a system
// prompt and prepends the truthfulness note.
func ApplyIdentityFilter(system string) string {
	out := identityCLI.ReplaceAllString(system, "This is Claude Code, an AI-powered CLI tool")
	out = identityModelName.ReplaceAllString(out, "You are powered by an AI model.")
	out = identityBackground.ReplaceAllString(out, "")
	out = runsOfNewlines.ReplaceAllString(out, "\n\n")
	if !strings.HasPrefix(out, truthfulnessNote) {
		// Trim the junction so reapplying never finds a fresh newline
		// run to collapse.
		out = truthfulnessNote + strings.TrimLeft(out, "\n")
	}
	return out
}
