// Package model resolves which AI model a worker dispatch uses and
// gates dispatch on that model's current availability (spec §4.5/§4.6
// step 5, §2's "four-priority chain ... availability probe").
package model

import (
	"regexp"
	"strings"
)

// Tier is an escalation rung within a provider's model family, used by
// the self-healer's quality-gate escalation (spec §4.10).
type Tier int

const (
	TierBase Tier = iota
	TierMid
	TierTop
)

// Family names the model ladder a task's provider uses.
type Family []string

var (
	// AnthropicLadder mirrors the spec's "haiku->sonnet->opus" escalation.
	AnthropicLadder = Family{"claude-haiku-4-5", "claude-sonnet-4-5", "claude-opus-4-1"}
	// GoogleLadder mirrors the spec's "flash->pro" escalation.
	GoogleLadder = Family{"gemini-2.5-flash", "gemini-2.5-pro"}
)

// Escalate returns the next tier up in ladder from current, or current
// unchanged if already at the top (the caller is responsible for
// checking max_escalation before calling this).
func Escalate(ladder Family, current string) string {
	for i, m := range ladder {
		if m == current && i+1 < len(ladder) {
			return ladder[i+1]
		}
	}
	if len(ladder) > 0 {
		return ladder[len(ladder)-1]
	}
	return current
}

// complexityPattern flags description text that looks architecturally
// non-trivial, for the third priority ("complexity classifier") in the
// resolution chain — a deliberately coarse heuristic per spec §9's
// preference for simple, inspectable signals over opaque ML classifiers.
var complexityPattern = regexp.MustCompile(`(?i)\b(architecture|migrat|refactor|redesign|concurrenc|race condition|distributed|security|cryptograph)\w*\b`)

// Resolve implements the four-priority chain: explicit override, then a
// subagent's frontmatter-declared model, then a complexity classifier
// over the task description, then the family's tier default.
func Resolve(explicit, frontmatter, description string, ladder Family, tierDefault Tier) string {
	if explicit != "" {
		return explicit
	}
	if frontmatter != "" {
		return frontmatter
	}
	if len(ladder) == 0 {
		return ""
	}
	if complexityPattern.MatchString(description) {
		return ladder[len(ladder)-1] // most capable tier the ladder offers
	}
	idx := int(tierDefault)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(ladder) {
		idx = len(ladder) - 1
	}
	return ladder[idx]
}

// NormalizeDescription lower-cases and collapses whitespace before
// classification, so callers building test fixtures don't need to
// worry about incidental formatting differences.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
