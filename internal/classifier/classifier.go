// Package classifier maps a request's user-agent string to a bot classification.
package classifier

import "strings"

// Class is the outcome of classifying a single user agent.
type Class string

// Supported classifications.
const (
	// ClassUnclassified covers humans, unknown clients and empty user agents.
	ClassUnclassified Class = "unclassified"
	// ClassWhitelisted marks crawlers presumed legitimate; never reported.
	ClassWhitelisted Class = "whitelisted"
	// ClassAIBot marks clients matching the automation heuristic; subject to reporting.
	ClassAIBot Class = "ai-bot"
)

// Classifier performs case-insensitive substring matching against an allowlist and a
// pattern list. It is immutable after construction and safe for concurrent use.
type Classifier struct {
	whitelist []string
	patterns  []string
}

// New builds a Classifier from the built-in lists plus any operator-supplied extras.
func New(extraWhitelist, extraPatterns []string) *Classifier {
	return &Classifier{
		whitelist: normalize(append(append([]string(nil), DefaultWhitelist...), extraWhitelist...)),
		patterns:  normalize(append(append([]string(nil), DefaultPatterns...), extraPatterns...)),
	}
}

// Default returns a Classifier using only the built-in lists.
func Default() *Classifier {
	return New(nil, nil)
}

// IsWhitelisted reports whether ua contains any allowlisted crawler identifier.
func (c *Classifier) IsWhitelisted(ua string) bool {
	_, ok := firstMatch(strings.ToLower(ua), c.whitelist)
	return ok
}

// IsAIBot reports whether ua contains any AI-crawler or automation signature.
func (c *Classifier) IsAIBot(ua string) bool {
	_, ok := c.MatchAIBot(ua)
	return ok
}

// MatchAIBot returns the first pattern ua matched.
func (c *Classifier) MatchAIBot(ua string) (string, bool) {
	return firstMatch(strings.ToLower(ua), c.patterns)
}

// Classify applies the decision policy: an empty user agent is never classified, and the
// allowlist is consulted first so whitelisted crawlers are not reported even when they
// also match an automation pattern.
func (c *Classifier) Classify(ua string) Class {
	if strings.TrimSpace(ua) == "" {
		return ClassUnclassified
	}
	if c.IsWhitelisted(ua) {
		return ClassWhitelisted
	}
	if c.IsAIBot(ua) {
		return ClassAIBot
	}
	return ClassUnclassified
}

func firstMatch(lowerUA string, needles []string) (string, bool) {
	if lowerUA == "" {
		return "", false
	}
	for _, needle := range needles {
		if strings.Contains(lowerUA, needle) {
			return needle, true
		}
	}
	return "", false
}

func normalize(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, raw := range values {
		value := strings.TrimSpace(strings.ToLower(raw))
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
