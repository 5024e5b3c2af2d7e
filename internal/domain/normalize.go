package domain

import "strings"

// NormalizeAnswer is the single canonical normalization applied to student
// input before comparison. Trims, lower-cases, collapses internal runs of
// whitespace, and folds common true/false aliases.
func NormalizeAnswer(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.Join(strings.Fields(normalized), " ")
	switch normalized {
	case "t", "yes", "y", "true":
		return "true"
	case "f", "no", "n", "false":
		return "false"
	}
	return normalized
}

// MatchOption resolves a raw answer against a question's options: first by
// option ID, then by single-letter position (a=first, b=second, ...), then by
// normalized option text. Returns nil when nothing matches.
func MatchOption(q Question, raw string) *Option {
	normalized := NormalizeAnswer(raw)
	if normalized == "" {
		return nil
	}

	for i := range q.Options {
		if strings.EqualFold(q.Options[i].ID, strings.TrimSpace(raw)) {
			return &q.Options[i]
		}
	}

	if len(normalized) == 1 {
		idx := int(normalized[0] - 'a')
		if idx >= 0 && idx < len(q.Options) {
			return &q.Options[idx]
		}
	}

	for i := range q.Options {
		if NormalizeAnswer(q.Options[i].Text) == normalized {
			return &q.Options[i]
		}
	}
	return nil
}
