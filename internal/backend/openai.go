package backend

import (
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// OpenAICompatParser implements Parser for generic OpenAI-compatible
// chat-completions endpoints (the "custom backend" shape).
type OpenAICompatParser struct{}

func (OpenAICompatParser) ParseRequest(body []byte) RequestMetadata {
	var meta RequestMetadata
	if !gjson.ValidBytes(body) {
		return meta
	}
	root := gjson.ParseBytes(body)
	meta.Model = root.Get("model").String()
	meta.HasSystemPrompt = root.Get("system").Exists()
	meta.HasTools = root.Get("tools").Exists() || root.Get("functions").Exists()

	for _, msg := range root.Get("messages").Array() {
		switch msg.Get("role").String() {
		case "user":
			meta.UserMessageCount++
		case "assistant":
			meta.AssistantMessageCount++
		case "system":
			meta.HasSystemPrompt = true
		}
	}
	return meta
}

func (OpenAICompatParser) ParseResponse(body []byte, isStreaming bool) ResponseMetadata {
	var meta ResponseMetadata
	if isStreaming {
		for _, data := range sseDataLines(body) {
			if !gjson.ValidBytes(data) {
				continue
			}
			event := gjson.ParseBytes(data)
			for _, choice := range event.Get("choices").Array() {
				if reason := choice.Get("finish_reason"); reason.Type == gjson.String {
					meta.StopReason = reason.String()
				}
			}
			if usage := event.Get("usage"); usage.Exists() {
				meta.InputTokens = int(usage.Get("prompt_tokens").Int())
				meta.OutputTokens = int(usage.Get("completion_tokens").Int())
			}
		}
		return meta
	}

	if !gjson.ValidBytes(body) {
		return meta
	}
	root := gjson.ParseBytes(body)
	if first := root.Get("choices.0"); first.Exists() {
		if reason := first.Get("finish_reason"); reason.Type == gjson.String {
			meta.StopReason = reason.String()
		}
	}
	usage := root.Get("usage")
	meta.InputTokens = int(usage.Get("prompt_tokens").Int())
	meta.OutputTokens = int(usage.Get("completion_tokens").Int())
	meta.CacheReadTokens = int(usage.Get("prompt_tokens_details.cached_tokens").Int())
	return meta
}

func (OpenAICompatParser) ShouldLog(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	root := gjson.ParseBytes(body)
	return root.Get("messages").Exists() && root.Get("model").Type == gjson.String
}

func (OpenAICompatParser) ExtractExtraMetadata(requestBody, responseBody []byte, headers http.Header) ([]byte, bool) {
	if !gjson.ValidBytes(responseBody) {
		return nil, false
	}
	root := gjson.ParseBytes(responseBody)
	extra := []byte(`{}`)
	any := false

	if id := root.Get("id"); id.Type == gjson.String {
		extra, _ = sjson.SetBytes(extra, "response_id", id.String())
		any = true
	}
	if created := root.Get("created"); created.Type == gjson.Number {
		extra, _ = sjson.SetBytes(extra, "created", created.Int())
		any = true
	}

	if !any {
		return nil, false
	}
	return extra, true
}
