package backend

import (
	"bytes"
	"net/http"
	"sort"

	"github.com/tidwall/gjson"
)

// ClaudeParser implements Parser for Anthropic's Messages API shape.
type ClaudeParser struct{}

func (ClaudeParser) ParseRequest(body []byte) RequestMetadata {
	var meta RequestMetadata
	if !gjson.ValidBytes(body) {
		return meta
	}
	root := gjson.ParseBytes(body)
	meta.Model = root.Get("model").String()
	meta.HasSystemPrompt = root.Get("system").Exists()
	meta.HasTools = root.Get("tools").Exists()

	for _, msg := range root.Get("messages").Array() {
		switch msg.Get("role").String() {
		case "user":
			meta.UserMessageCount++
		case "assistant":
			meta.AssistantMessageCount++
		}
	}
	return meta
}

func (ClaudeParser) ParseResponse(body []byte, isStreaming bool) ResponseMetadata {
	if isStreaming {
		return parseClaudeStreaming(body)
	}
	return parseClaudeBuffered(body)
}

func parseClaudeBuffered(body []byte) ResponseMetadata {
	var meta ResponseMetadata
	if !gjson.ValidBytes(body) {
		return meta
	}
	root := gjson.ParseBytes(body)
	if reason := root.Get("stop_reason"); reason.Exists() {
		meta.StopReason = reason.String()
	}

	var toolCalls []ToolCall
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "thinking":
			meta.HasThinking = true
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:    block.Get("id").String(),
				Name:  block.Get("name").String(),
				Input: []byte(block.Get("input").Raw),
			})
		}
	}
	meta.ToolCalls = toolCalls

	usage := root.Get("usage")
	meta.InputTokens = int(usage.Get("input_tokens").Int())
	meta.OutputTokens = int(usage.Get("output_tokens").Int())
	meta.CacheReadTokens = int(usage.Get("cache_read_input_tokens").Int())
	meta.CacheCreationTokens = int(usage.Get("cache_creation_input_tokens").Int())
	return meta
}

type claudeToolAccumulator struct {
	id      string
	name    string
	partial bytes.Buffer
}

// parseClaudeStreaming accumulates tool_use blocks across
// content_block_start/content_block_delta events and reads the final
// stop_reason/usage from message_delta, per §4.2.
func parseClaudeStreaming(body []byte) ResponseMetadata {
	var meta ResponseMetadata
	meta.HasThinking = bytes.Contains(body, []byte(`"type":"thinking"`))

	accumulators := make(map[int64]*claudeToolAccumulator)
	var indices []int64

	for _, data := range sseDataLines(body) {
		if !gjson.ValidBytes(data) {
			continue
		}
		event := gjson.ParseBytes(data)
		switch event.Get("type").String() {
		case "content_block_start":
			block := event.Get("content_block")
			if block.Get("type").String() != "tool_use" {
				continue
			}
			idx := event.Get("index").Int()
			accumulators[idx] = &claudeToolAccumulator{
				id:   block.Get("id").String(),
				name: block.Get("name").String(),
			}
			indices = append(indices, idx)
		case "content_block_delta":
			delta := event.Get("delta")
			if delta.Get("type").String() != "input_json_delta" {
				continue
			}
			idx := event.Get("index").Int()
			if acc, ok := accumulators[idx]; ok {
				acc.partial.WriteString(delta.Get("partial_json").String())
			}
		case "message_delta":
			if reason := event.Get("delta.stop_reason"); reason.Exists() {
				meta.StopReason = reason.String()
			}
			usage := event.Get("usage")
			if usage.Exists() {
				meta.InputTokens = int(usage.Get("input_tokens").Int())
				meta.OutputTokens = int(usage.Get("output_tokens").Int())
				meta.CacheReadTokens = int(usage.Get("cache_read_input_tokens").Int())
				meta.CacheCreationTokens = int(usage.Get("cache_creation_input_tokens").Int())
			}
		}
	}

	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		acc := accumulators[idx]
		meta.ToolCalls = append(meta.ToolCalls, ToolCall{
			ID:    acc.id,
			Name:  acc.name,
			Input: acc.partial.Bytes(),
		})
	}
	return meta
}

func (ClaudeParser) ShouldLog(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	root := gjson.ParseBytes(body)
	return root.Get("messages").IsArray() && root.Get("model").Type == gjson.String
}

func (ClaudeParser) ExtractExtraMetadata(requestBody, responseBody []byte, headers http.Header) ([]byte, bool) {
	return nil, false
}
