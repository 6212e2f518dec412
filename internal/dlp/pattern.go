// Package dlp implements the data-loss-prevention engine: pattern
// compilation, JSON-aware selective redaction of user-authored request
// content, shape-preserving placeholder minting, and response-side
// un-redaction.
package dlp

import (
	"regexp"
	"time"
)

// Kind distinguishes how a pattern's expressions are compiled.
type Kind string

const (
	// KindKeyword expressions are literal strings matched case-insensitively.
	KindKeyword Kind = "keyword"
	// KindRegex expressions are compiled as-is.
	KindRegex Kind = "regex"
)

// Pattern is a named detector for one class of sensitive value, as stored
// in the Pattern Store.
type Pattern struct {
	ID             int64
	Name           string
	Kind           Kind
	Positive       []string
	NegativeKind   Kind
	Negative       []string
	MinOccurrences int
	MinUniqueChars int
	Enabled        bool
	Builtin        bool
	CreatedAt      time.Time
}

// CompiledPattern is a Pattern with its expressions compiled to regexes,
// ready for matching against request text.
type CompiledPattern struct {
	Name           string
	Kind           Kind
	Positive       []*regexp.Regexp
	Negative       []*regexp.Regexp
	MinOccurrences int
	MinUniqueChars int
}

// Compile turns a set of enabled Patterns into CompiledPatterns. A pattern
// whose positive list fails to yield at least one compiled regex is
// dropped entirely: a compile error disables that pattern for the
// request rather than aborting it.
func Compile(patterns []Pattern) []CompiledPattern {
	compiled := make([]CompiledPattern, 0, len(patterns))
	for _, p := range patterns {
		positive := compileExpressions(p.Kind, p.Positive)
		if len(positive) == 0 {
			continue
		}
		negative := compileExpressions(p.NegativeKind, p.Negative)
		compiled = append(compiled, CompiledPattern{
			Name:           p.Name,
			Kind:           p.Kind,
			Positive:       positive,
			Negative:       negative,
			MinOccurrences: p.MinOccurrences,
			MinUniqueChars: p.MinUniqueChars,
		})
	}
	return compiled
}

func compileExpressions(kind Kind, exprs []string) []*regexp.Regexp {
	regexes := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		pattern := expr
		if kind == KindKeyword {
			pattern = "(?i)" + regexp.QuoteMeta(expr)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		regexes = append(regexes, re)
	}
	return regexes
}
