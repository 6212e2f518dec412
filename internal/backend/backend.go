// Package backend implements the Backend Registry: named upstream
// integrations together with the request/response metadata parsers and
// policy accessors that parameterize the rest of the proxy.
package backend

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects which request/response parser a Backend uses.
type Kind string

const (
	KindClaudeNative    Kind = "claude-native"
	KindCodexResponses  Kind = "codex-responses"
	KindOpenAICompat    Kind = "openai-compat"
	KindCursorHooks     Kind = "cursor-hooks"
)

// TokenLimitAction selects what happens when a request exceeds a
// backend's token budget.
type TokenLimitAction string

const (
	TokenLimitBlock  TokenLimitAction = "block"
	TokenLimitNotify TokenLimitAction = "notify"
)

// Settings are the per-backend policy knobs evaluated by the Policy Gate.
type Settings struct {
	DlpEnabled          bool
	RateLimitRequests   uint32
	RateLimitMinutes    uint32
	MaxTokensInRequest  uint32
	ActionForMaxTokens  TokenLimitAction
}

// DefaultSettings mirrors the original implementation's serde defaults:
// DLP on, no rate limit, one-minute window, no token limit, block on
// overflow.
func DefaultSettings() Settings {
	return Settings{
		DlpEnabled:         true,
		RateLimitRequests:  0,
		RateLimitMinutes:   1,
		MaxTokensInRequest: 0,
		ActionForMaxTokens: TokenLimitBlock,
	}
}

// RateLimit returns (max_requests, window_minutes); window is clamped to
// at least one minute the way the original settings struct clamps it.
func (s Settings) RateLimit() (uint32, uint32) {
	window := s.RateLimitMinutes
	if window < 1 {
		window = 1
	}
	return s.RateLimitRequests, window
}

// TokenLimit returns (max_tokens, action).
func (s Settings) TokenLimit() (uint32, TokenLimitAction) {
	return s.MaxTokensInRequest, s.ActionForMaxTokens
}

// Backend is a named upstream integration.
type Backend struct {
	Name     string
	BaseURL  string
	Kind     Kind
	Settings Settings
	Enabled  bool
}

// reservedNames are backend names that a custom backend may never use,
// compared case-insensitively.
var reservedNames = map[string]struct{}{
	"claude":       {},
	"codex":        {},
	"cursor_hook":  {},
	"cursor-hooks": {},
}

var customNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// IsReservedName reports whether name (compared case-insensitively)
// collides with a built-in backend's route prefix.
func IsReservedName(name string) bool {
	_, reserved := reservedNames[strings.ToLower(name)]
	return reserved
}

// ValidateCustomName enforces the custom-backend naming invariant: a
// non-empty, URL-safe name that does not shadow a reserved built-in.
func ValidateCustomName(name string) error {
	if name == "" {
		return fmt.Errorf("backend name must not be empty")
	}
	if !customNamePattern.MatchString(name) {
		return fmt.Errorf("backend name %q must contain only letters, digits, '-' or '_'", name)
	}
	if IsReservedName(name) {
		return fmt.Errorf("backend name %q collides with a reserved built-in route", name)
	}
	return nil
}

// NormalizeBaseURL trims every trailing slash, matching the original
// implementation's base_url.trim_end_matches('/').
func NormalizeBaseURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL enforces the scheme invariant from §6: the URL must
// start with http:// or https://.
func ValidateBaseURL(baseURL string) error {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return fmt.Errorf("backend base_url %q must start with http:// or https://", baseURL)
	}
	return nil
}

// Built-in backend base URLs and names.
const (
	ClaudeName   = "claude"
	ClaudeBaseURL = "https://api.anthropic.com"

	CodexName   = "codex"
	CodexBaseURL = "https://chatgpt.com/backend-api/codex"

	CursorHookName = "cursor_hook"
)
