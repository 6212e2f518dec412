package proxy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/dlp"
	"github.com/dlpproxy/dlpproxy/internal/logging"
	"github.com/dlpproxy/dlpproxy/internal/policy"
	"github.com/dlpproxy/dlpproxy/internal/store"
)

// CursorHookHandler answers the six Cursor IDE hook endpoints (§4.6).
// These never proxy upstream; they run DLP in detection-only mode
// against the text Cursor is about to submit or has just received, and
// upsert a single Request Record per generation_id. Grounded on
// spec.md §4.6 — orig/cursor_hooks.rs is an unimplemented stub, so the
// request/response JSON shapes here are authored against the spec text
// rather than ported (see DESIGN.md).
type CursorHookHandler struct {
	Store         *store.Store
	PatternSource func() []dlp.CompiledPattern
	DlpAction     func() config.DlpAction
	Now           func() time.Time
}

// NewCursorHookHandler builds a handler with a real-clock Now.
func NewCursorHookHandler(st *store.Store, patternSource func() []dlp.CompiledPattern, dlpAction func() config.DlpAction) *CursorHookHandler {
	return &CursorHookHandler{Store: st, PatternSource: patternSource, DlpAction: dlpAction, Now: time.Now}
}

type hookResponse struct {
	Continue    bool   `json:"continue"`
	UserMessage string `json:"user_message,omitempty"`
}

// beforeDecision runs detection-only DLP over text, classifies the
// resulting dlp_action, stamps it onto c for the request logger, and
// upserts a before_* event into the Request Record for generationID.
func (h *CursorHookHandler) beforeDecision(c *gin.Context, generationID, endpointName, text string, now time.Time) (hookResponse, int) {
	var patterns []dlp.CompiledPattern
	if h.PatternSource != nil {
		patterns = h.PatternSource()
	}
	detections := dlp.Detect(text, patterns)

	action := policy.ActionPassed
	deny := false
	if len(detections) > 0 {
		if h.DlpAction() == config.DlpActionBlock {
			action = policy.ActionBlocked
			deny = true
		} else {
			action = policy.ActionRedacted
		}
	}

	extra, _ := json.Marshal(map[string]string{"generation_id": generationID})
	status := http.StatusOK
	if deny {
		status = http.StatusForbidden
	}
	c.Set(logging.DlpActionContextKey, action.String())

	h.Store.LogCursorHookBefore(store.CursorHookBeforeParams{
		GenerationID:   generationID,
		EndpointName:   endpointName,
		InputTokens:    policy.EstimateTokens([]byte(text)),
		RequestBody:    text,
		ResponseStatus: status,
		ExtraMetadata:  string(extra),
		DlpAction:      int(action),
	}, now)

	resp := hookResponse{Continue: !deny}
	if deny {
		resp.UserMessage = "Request blocked: sensitive data detected"
	}
	return resp, status
}

type beforeSubmitPromptRequest struct {
	GenerationID string `json:"generation_id"`
	Prompt       string `json:"prompt"`
}

// BeforeSubmitPrompt scans the user's prompt before it reaches the
// model.
func (h *CursorHookHandler) BeforeSubmitPrompt(c *gin.Context) {
	var req beforeSubmitPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	resp, status := h.beforeDecision(c, req.GenerationID, "before_submit_prompt", req.Prompt, h.Now())
	c.JSON(status, resp)
}

type beforeFileRequest struct {
	GenerationID string `json:"generation_id"`
	Path         string `json:"path"`
	Content      string `json:"content"`
}

// BeforeReadFile scans a file's content before the agent reads it.
func (h *CursorHookHandler) BeforeReadFile(c *gin.Context) {
	var req beforeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	resp, status := h.beforeDecision(c, req.GenerationID, "before_read_file", req.Content, h.Now())
	c.JSON(status, resp)
}

// BeforeTabFileRead scans a tab-completion file read the same way as
// BeforeReadFile.
func (h *CursorHookHandler) BeforeTabFileRead(c *gin.Context) {
	var req beforeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	resp, status := h.beforeDecision(c, req.GenerationID, "before_tab_file_read", req.Content, h.Now())
	c.JSON(status, resp)
}

type afterAgentResponseRequest struct {
	GenerationID string `json:"generation_id"`
	ResponseText string `json:"response_text"`
}

// AfterAgentResponse records the assistant's reply tokens, body, and
// the conversation's overall latency.
func (h *CursorHookHandler) AfterAgentResponse(c *gin.Context) {
	var req afterAgentResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	tokens := policy.EstimateTokens([]byte(req.ResponseText))
	h.Store.UpdateCursorHookOutput(req.GenerationID, tokens, req.ResponseText, true, h.Now())
	c.JSON(http.StatusOK, hookResponse{Continue: true})
}

type afterAgentThoughtRequest struct {
	GenerationID string `json:"generation_id"`
	Thought      string `json:"thought"`
}

// AfterAgentThought records reasoning/thinking tokens.
func (h *CursorHookHandler) AfterAgentThought(c *gin.Context) {
	var req afterAgentThoughtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	tokens := policy.EstimateTokens([]byte(req.Thought))
	h.Store.AddCursorHookThinkingTokens(req.GenerationID, tokens, h.Now())
	c.JSON(http.StatusOK, hookResponse{Continue: true})
}

type fileEdit struct {
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

type afterTabFileEditRequest struct {
	GenerationID string     `json:"generation_id"`
	Edits        []fileEdit `json:"edits"`
}

// AfterTabFileEdit sums estimate_tokens(new_string) across edits.
func (h *CursorHookHandler) AfterTabFileEdit(c *gin.Context) {
	var req afterTabFileEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	total := 0
	for _, e := range req.Edits {
		total += policy.EstimateTokens([]byte(e.NewString))
	}
	h.Store.AddCursorHookTabFileEditTokens(req.GenerationID, total, h.Now())
	c.JSON(http.StatusOK, hookResponse{Continue: true})
}
