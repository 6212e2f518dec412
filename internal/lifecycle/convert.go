package lifecycle

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/dlpproxy/dlpproxy/internal/backend"
	"github.com/dlpproxy/dlpproxy/internal/dlp"
	"github.com/dlpproxy/dlpproxy/internal/store"
)

// toRegistryBackends converts store rows into the live backend.Backend
// shape the Registry and Dispatcher operate on. cursor-hooks is never a
// store row (spec.md §3) and gets no registry entry either: its events
// are served by the /cursor_hook routes and CursorHookHandler.
func toRegistryBackends(rows []store.Backend) []backend.Backend {
	out := make([]backend.Backend, 0, len(rows))
	for _, r := range rows {
		out = append(out, backend.Backend{
			Name:    r.Name,
			BaseURL: backend.NormalizeBaseURL(r.BaseURL),
			Kind:    backend.Kind(r.Kind),
			Enabled: r.Enabled,
			Settings: backend.Settings{
				DlpEnabled:         r.DlpEnabled,
				RateLimitRequests:  r.RateLimitRequests,
				RateLimitMinutes:   r.RateLimitMinutes,
				MaxTokensInRequest: r.MaxTokensInRequest,
				ActionForMaxTokens: backend.TokenLimitAction(r.ActionForMaxTokens),
			},
		})
	}
	return out
}

// toDlpPatterns converts store rows into dlp.Pattern, decoding the
// JSON-array columns back into string slices.
func toDlpPatterns(rows []store.Pattern) []dlp.Pattern {
	out := make([]dlp.Pattern, 0, len(rows))
	for _, r := range rows {
		var positive, negative []string
		if err := json.Unmarshal([]byte(r.Patterns), &positive); err != nil {
			logrus.WithError(err).WithField("pattern", r.Name).Warn("lifecycle: malformed positive patterns column, pattern will not match anything")
		}
		if r.NegativePatterns != "" {
			if err := json.Unmarshal([]byte(r.NegativePatterns), &negative); err != nil {
				logrus.WithError(err).WithField("pattern", r.Name).Warn("lifecycle: malformed negative patterns column, ignoring negative patterns")
			}
		}
		out = append(out, dlp.Pattern{
			ID:             int64(r.ID),
			Name:           r.Name,
			Kind:           dlp.Kind(r.PatternType),
			Positive:       positive,
			NegativeKind:   dlp.Kind(r.NegativePatternType),
			Negative:       negative,
			MinOccurrences: r.MinOccurrences,
			MinUniqueChars: r.MinUniqueChars,
			Enabled:        r.Enabled,
			Builtin:        r.IsBuiltin,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out
}
