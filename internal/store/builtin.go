package store

// builtinPattern mirrors the shape orig/database.rs deserializes from its
// embedded builtin_patterns.json. That file was never part of the example
// pack retrieved for this project, so the pattern *content* below is
// authored from scratch rather than grounded on it — see DESIGN.md. The
// seeding mechanics (update-preserving-enabled, else insert, keyed on
// is_builtin=1 AND name) are a direct port of seed_builtin_patterns.
type builtinPattern struct {
	Name                string
	PatternType         string
	Patterns            []string
	NegativePatternType string
	NegativePatterns    []string
	MinOccurrences      int
	MinUniqueChars      int
}

func builtinPatterns() []builtinPattern {
	return []builtinPattern{
		{
			Name:           "anthropic_api_key",
			PatternType:    "regex",
			Patterns:       []string{`sk-ant-[A-Za-z0-9_-]{20,}`},
			MinOccurrences: 1,
			MinUniqueChars: 8,
		},
		{
			Name:           "openai_api_key",
			PatternType:    "regex",
			Patterns:       []string{`sk-[A-Za-z0-9]{20,}`, `sk-proj-[A-Za-z0-9_-]{20,}`},
			MinOccurrences: 1,
			MinUniqueChars: 8,
		},
		{
			Name:           "aws_access_key_id",
			PatternType:    "regex",
			Patterns:       []string{`(AKIA|ASIA)[0-9A-Z]{16}`},
			MinOccurrences: 1,
			MinUniqueChars: 6,
		},
		{
			Name:           "private_key_block",
			PatternType:    "regex",
			Patterns:       []string{`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`},
			MinOccurrences: 1,
			MinUniqueChars: 0,
		},
		{
			Name:           "email_address",
			PatternType:    "regex",
			Patterns:       []string{`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`},
			MinOccurrences: 1,
			MinUniqueChars: 4,
		},
		{
			Name:           "github_token",
			PatternType:    "regex",
			Patterns:       []string{`gh[pousr]_[A-Za-z0-9]{36,}`},
			MinOccurrences: 1,
			MinUniqueChars: 8,
		},
		{
			Name:           "slack_token",
			PatternType:    "regex",
			Patterns:       []string{`xox[baprs]-[A-Za-z0-9-]{10,}`},
			MinOccurrences: 1,
			MinUniqueChars: 6,
		},
		{
			Name:           "generic_bearer_token",
			PatternType:    "regex",
			Patterns:       []string{`[Bb]earer\s+[A-Za-z0-9._-]{20,}`},
			MinOccurrences: 1,
			MinUniqueChars: 8,
		},
	}
}
