package backend

import (
	"bytes"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CodexParser implements Parser for OpenAI's Codex Responses API shape.
type CodexParser struct{}

func (CodexParser) ParseRequest(body []byte) RequestMetadata {
	var meta RequestMetadata
	if !gjson.ValidBytes(body) {
		return meta
	}
	root := gjson.ParseBytes(body)
	meta.Model = root.Get("model").String()
	meta.HasSystemPrompt = root.Get("instructions").Exists()
	meta.HasTools = root.Get("tools").Exists()

	for _, item := range root.Get("input").Array() {
		if item.Get("type").String() != "message" {
			continue
		}
		switch item.Get("role").String() {
		case "user":
			meta.UserMessageCount++
		case "assistant":
			meta.AssistantMessageCount++
		}
	}
	return meta
}

func (CodexParser) ParseResponse(body []byte, isStreaming bool) ResponseMetadata {
	var meta ResponseMetadata
	if isStreaming {
		meta.HasThinking = bytes.Contains(body, []byte(`"type":"reasoning"`))
		for _, data := range sseDataLines(body) {
			if !gjson.ValidBytes(data) {
				continue
			}
			event := gjson.ParseBytes(data)
			if event.Get("type").String() != "response.completed" {
				continue
			}
			response := event.Get("response")
			meta.StopReason = response.Get("status").String()
			usage := response.Get("usage")
			meta.InputTokens = int(usage.Get("input_tokens").Int())
			meta.OutputTokens = int(usage.Get("output_tokens").Int())
			meta.CacheReadTokens = int(usage.Get("input_tokens_details.cached_tokens").Int())
		}
		return meta
	}

	if !gjson.ValidBytes(body) {
		return meta
	}
	root := gjson.ParseBytes(body)
	for _, item := range root.Get("output").Array() {
		if item.Get("type").String() == "reasoning" {
			meta.HasThinking = true
			break
		}
	}
	meta.StopReason = root.Get("status").String()
	usage := root.Get("usage")
	meta.InputTokens = int(usage.Get("input_tokens").Int())
	meta.OutputTokens = int(usage.Get("output_tokens").Int())
	meta.CacheReadTokens = int(usage.Get("input_tokens_details.cached_tokens").Int())
	return meta
}

func (CodexParser) ShouldLog(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	root := gjson.ParseBytes(body)
	return root.Get("input").Exists() && root.Get("model").Type == gjson.String
}

// ExtractExtraMetadata copies the conversation_id/session_id headers
// verbatim, counts function_call items, flags reasoning input, carries
// prompt_cache_key, and collects reasoning_summary_text.done text
// fragments from the streamed response, per §4.2.
func (CodexParser) ExtractExtraMetadata(requestBody, responseBody []byte, headers http.Header) ([]byte, bool) {
	extra := []byte(`{}`)
	any := false

	if convID := headers.Get("conversation_id"); convID != "" {
		extra, _ = sjson.SetBytes(extra, "conversation_id", convID)
		any = true
	}
	if sessID := headers.Get("session_id"); sessID != "" {
		extra, _ = sjson.SetBytes(extra, "session_id", sessID)
		any = true
	}

	if gjson.ValidBytes(requestBody) {
		root := gjson.ParseBytes(requestBody)
		input := root.Get("input")
		if input.IsArray() {
			functionCalls := 0
			hasReasoningInput := false
			for _, item := range input.Array() {
				switch item.Get("type").String() {
				case "function_call":
					functionCalls++
				case "reasoning":
					hasReasoningInput = true
				}
			}
			if functionCalls > 0 {
				extra, _ = sjson.SetBytes(extra, "function_call_count", functionCalls)
				any = true
			}
			if hasReasoningInput {
				extra, _ = sjson.SetBytes(extra, "has_reasoning_input", true)
				any = true
			}
		}
		if cacheKey := root.Get("prompt_cache_key"); cacheKey.Exists() {
			extra, _ = sjson.SetBytes(extra, "prompt_cache_key", cacheKey.String())
			any = true
		}
	}

	var summaries []string
	for _, data := range sseDataLines(responseBody) {
		if gjson.GetBytes(data, "type").String() != "reasoning_summary_text.done" {
			continue
		}
		if text := gjson.GetBytes(data, "text"); text.Exists() {
			summaries = append(summaries, text.String())
		}
	}
	if len(summaries) > 0 {
		extra, _ = sjson.SetBytes(extra, "reasoning_summaries", summaries)
		any = true
	}

	if !any {
		return nil, false
	}
	return extra, true
}
