package backend

import "net/http"

// RequestMetadata is the normalized projection of an inbound request
// body, produced by a Parser's ParseRequest.
type RequestMetadata struct {
	Model                  string
	HasSystemPrompt        bool
	HasTools               bool
	UserMessageCount       int
	AssistantMessageCount  int
}

// ToolCall is a single tool invocation assembled from a Claude streaming
// response (or read directly from a non-streaming one).
type ToolCall struct {
	ID    string
	Name  string
	Input []byte // raw JSON, parsed from accumulated partial_json fragments
}

// ResponseMetadata is the normalized projection of an upstream response,
// produced by a Parser's ParseResponse.
type ResponseMetadata struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	StopReason          string
	HasThinking         bool
	ToolCalls           []ToolCall
}

// Parser is the capability set every Backend kind implements: request
// and response metadata extraction, a should-log predicate, and backend-
// specific extra metadata. The policy accessors consulted by the Policy
// Gate live on Settings, not here.
type Parser interface {
	ParseRequest(body []byte) RequestMetadata
	ParseResponse(body []byte, isStreaming bool) ResponseMetadata
	ShouldLog(body []byte) bool
	ExtractExtraMetadata(requestBody, responseBody []byte, headers http.Header) (json []byte, ok bool)
}

// ParserFor returns the Parser implementation for a Kind. Cursor-hooks
// is not a proxied backend (§4.6) and has no Parser.
func ParserFor(kind Kind) Parser {
	switch kind {
	case KindClaudeNative:
		return ClaudeParser{}
	case KindCodexResponses:
		return CodexParser{}
	case KindOpenAICompat:
		return OpenAICompatParser{}
	default:
		return nil
	}
}
