package tarot

import "regexp"

// crisisPatterns match self-harm signals in the caller's question. The check
// runs before any provider call: a match short-circuits generation entirely
// and returns SafeResponse.
var crisisPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bkill(ing)?\s+myself\b`),
	regexp.MustCompile(`(?i)\bsuicid(e|al)\b`),
	regexp.MustCompile(`(?i)\bself[\s-]?harm\b`),
	regexp.MustCompile(`(?i)\bend(ing)?\s+my\s+life\b`),
	regexp.MustCompile(`(?i)\bhurt(ing)?\s+myself\b`),
	regexp.MustCompile(`(?i)\bwant\s+to\s+die\b`),
	regexp.MustCompile(`(?i)\bno\s+reason\s+to\s+(live|go\s+on)\b`),
	regexp.MustCompile(`(?i)\bbetter\s+off\s+dead\b`),
}

// CrisisDetected reports whether the input text carries a crisis signal.
func CrisisDetected(text string) bool {
	for _, p := range crisisPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// SafeResponse is the fixed response returned when a crisis signal is
// detected. It is intentionally not generated: no model sees the input.
const SafeResponse = `The cards can wait — what you're carrying right now matters more.

If you're having thoughts of harming yourself, please reach out to someone who can be fully present with you: a trusted person in your life, or a crisis line such as 988 (US) or your local equivalent. You deserve real support from a real person.

Whenever you feel steadier, the deck will still be here. Be gentle with yourself today.`
