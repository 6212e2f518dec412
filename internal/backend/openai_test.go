package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAICompatParser_ParseRequestAndResponse(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hi"}],"tools":[{}]}`)
	meta := OpenAICompatParser{}.ParseRequest(body)
	require.Equal(t, "gpt-4o", meta.Model)
	require.True(t, meta.HasSystemPrompt)
	require.True(t, meta.HasTools)
	require.Equal(t, 1, meta.UserMessageCount)

	resp := []byte(`{"choices":[{"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":4,"prompt_tokens_details":{"cached_tokens":1}}}`)
	respMeta := OpenAICompatParser{}.ParseResponse(resp, false)
	require.Equal(t, "stop", respMeta.StopReason)
	require.Equal(t, 3, respMeta.InputTokens)
	require.Equal(t, 4, respMeta.OutputTokens)
	require.Equal(t, 1, respMeta.CacheReadTokens)
}

func TestOpenAICompatParser_StreamingSkipsDoneSentinel(t *testing.T) {
	stream := "data: {\"choices\":[{\"finish_reason\":\"stop\"}]}\ndata: [DONE]\n"
	meta := OpenAICompatParser{}.ParseResponse([]byte(stream), true)
	require.Equal(t, "stop", meta.StopReason)
}

func TestOpenAICompatParser_ShouldLog(t *testing.T) {
	require.True(t, OpenAICompatParser{}.ShouldLog([]byte(`{"model":"m","messages":[]}`)))
	require.False(t, OpenAICompatParser{}.ShouldLog([]byte(`{"messages":[]}`)))
}
