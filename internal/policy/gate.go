package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dlpproxy/dlpproxy/internal/backend"
	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/dlp"
)

// DlpAction is the outcome classification stamped onto a Request Record,
// matching the exact enum ordinals from §3: PASSED=0, REDACTED=1,
// BLOCKED=2, RATELIMITED=3, NOTIFY_RATELIMIT=4.
type DlpAction int

const (
	ActionPassed DlpAction = iota
	ActionRedacted
	ActionBlocked
	ActionRateLimited
	ActionNotifyRateLimit
)

// String renders the lowercase names used in log lines and API responses.
func (a DlpAction) String() string {
	switch a {
	case ActionPassed:
		return "passed"
	case ActionRedacted:
		return "redacted"
	case ActionBlocked:
		return "blocked"
	case ActionRateLimited:
		return "rate_limited"
	case ActionNotifyRateLimit:
		return "notify_rate_limit"
	default:
		return "unknown"
	}
}

// Result is the outcome of running the Policy Gate against one request.
type Result struct {
	Allowed           bool
	StatusCode        int
	ResponseBody      []byte
	RetryAfterSeconds int

	Body            []byte // body to forward upstream: redacted if DLP ran in redact mode
	RedactionMap    *dlp.RedactionMap
	Detections      []dlp.Detection
	NotifyRatelimit bool
	Action          DlpAction
}

// Gate evaluates the three-stage Policy Gate in fixed order: rate
// limiter, token-budget admission, DLP gate. The first failing stage
// terminates evaluation with a synthesized, still-loggable response.
type Gate struct {
	Limiter *SlidingWindowLimiter
}

// NewGate returns a Gate backed by a fresh sliding-window limiter.
func NewGate() *Gate {
	return &Gate{Limiter: NewSlidingWindowLimiter()}
}

// Evaluate runs all three stages for one request against backendName/
// settings/parser, using patterns as the immutable snapshot of enabled
// DLP patterns for this request and globalAction as the configured
// fallback DLP action.
func (g *Gate) Evaluate(
	backendName string,
	settings backend.Settings,
	kind backend.Kind,
	parser backend.Parser,
	body []byte,
	patterns []dlp.CompiledPattern,
	globalAction config.DlpAction,
	now time.Time,
) Result {
	maxRequests, windowMinutes := settings.RateLimit()
	window := time.Duration(windowMinutes) * time.Minute
	if !g.Limiter.Allow(backendName, maxRequests, window, now) {
		return Result{
			Allowed:           false,
			StatusCode:        429,
			ResponseBody:      rateLimitBody("rate_limit_exceeded", "Rate limit exceeded"),
			RetryAfterSeconds: int(window.Seconds()),
			Action:            ActionRateLimited,
		}
	}

	notifyRatelimit := false
	shouldLog := parser != nil && parser.ShouldLog(body)
	if shouldLog {
		maxTokens, action := settings.TokenLimit()
		if maxTokens > 0 {
			tokens := EstimateTokens(body)
			if tokens > int(maxTokens) {
				if action == backend.TokenLimitBlock {
					return Result{
						Allowed:           false,
						StatusCode:        429,
						ResponseBody:      rateLimitBody("token_limit_exceeded", "Token limit exceeded"),
						RetryAfterSeconds: int(window.Seconds()),
						Action:            ActionRateLimited,
					}
				}
				notifyRatelimit = true
			}
		}
	}

	if !settings.DlpEnabled {
		return Result{Allowed: true, Body: body, RedactionMap: dlp.NewRedactionMap(), NotifyRatelimit: notifyRatelimit, Action: classify(notifyRatelimit, nil)}
	}

	redactedBody, rm, detections := dlp.RedactBody(body, patterns)
	if globalAction == config.DlpActionBlock && len(detections) > 0 {
		return Result{
			Allowed:      false,
			StatusCode:   400,
			ResponseBody: dlpBlockBody(kind, detections),
			Detections:   detections,
			Action:       ActionBlocked,
		}
	}

	return Result{
		Allowed:         true,
		Body:            redactedBody,
		RedactionMap:    rm,
		Detections:      detections,
		NotifyRatelimit: notifyRatelimit,
		Action:          classify(notifyRatelimit, detections),
	}
}

// classify implements §4.5's logging outcome classification for a
// successfully-dispatched request.
func classify(notifyRatelimit bool, detections []dlp.Detection) DlpAction {
	if notifyRatelimit && len(detections) == 0 {
		return ActionNotifyRateLimit
	}
	if len(detections) > 0 {
		return ActionRedacted
	}
	return ActionPassed
}

func rateLimitBody(code, message string) []byte {
	return []byte(fmt.Sprintf(`{"error":{"message":%q,"type":"rate_limit_error","code":%q}}`, message, code))
}

// dlpBlockBody shapes the DLP-block error body to the backend family,
// per §6: Claude gets {type:"error",error:{...}}, OpenAI/Codex gets
// {error:{...,code:"content_policy_violation"}}. The message enumerates
// distinct pattern names, sorted and deduplicated.
func dlpBlockBody(kind backend.Kind, detections []dlp.Detection) []byte {
	names := distinctSortedNames(detections)
	message := fmt.Sprintf("Request blocked: sensitive data detected (%s)", strings.Join(names, ", "))

	if kind == backend.KindClaudeNative {
		return []byte(fmt.Sprintf(`{"type":"error","error":{"type":"invalid_request_error","message":%q}}`, message))
	}
	return []byte(fmt.Sprintf(`{"error":{"message":%q,"type":"invalid_request_error","code":"content_policy_violation"}}`, message))
}

func distinctSortedNames(detections []dlp.Detection) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, d := range detections {
		if _, ok := seen[d.PatternName]; ok {
			continue
		}
		seen[d.PatternName] = struct{}{}
		names = append(names, d.PatternName)
	}
	sort.Strings(names)
	return names
}
