package store

import (
	"time"

	"gorm.io/gorm"
)

// cursorHooksRecencyWindow bounds the generation_id index scan per
// §4.6: a before_* event inserts (or finds) a record only among rows
// written in the last 5 minutes; after_* events that find nothing in
// that window are silently dropped.
const cursorHooksRecencyWindow = 5 * time.Minute

// findCursorHookRequest looks up the Request row for generation_id within
// the recency window, grounded on orig/database.rs's
// `json_extract(extra_metadata, '$.generation_id') = ?1 AND backend =
// 'cursor-hooks'` lookup (the original carries no time bound; the
// 5-minute window is a specification-mandated refinement — see
// DESIGN.md).
func (s *Store) findCursorHookRequest(generationID string, now time.Time) (*Request, error) {
	var row Request
	err := s.db.Raw(
		`SELECT * FROM requests WHERE json_extract(extra_metadata, '$.generation_id') = ? AND backend = 'cursor-hooks' AND timestamp >= ? ORDER BY id DESC LIMIT 1`,
		generationID, now.Add(-cursorHooksRecencyWindow),
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &row, nil
}

// CursorHookBeforeParams describes one before_* event.
type CursorHookBeforeParams struct {
	GenerationID    string
	EndpointName    string
	Model           string
	InputTokens     int
	RequestBody     string
	ResponseBody    string
	ResponseStatus  int
	ExtraMetadata   string
	RequestHeaders  string
	ResponseHeaders string
	DlpAction       int
}

// LogCursorHookBefore upserts a before_* event: the first one with a
// given generation_id inserts a new cursor-hooks Request Record; later
// ones add to input_tokens and monotonically upgrade response_status
// and dlp_action (kept as plain max() since the DlpAction ordinals
// PASSED=0 < REDACTED=1 < BLOCKED=2 already encode the required order).
// Ported from log_cursor_hook_request in orig/database.rs.
func (s *Store) LogCursorHookBefore(p CursorHookBeforeParams, now time.Time) uint {
	existing, err := s.findCursorHookRequest(p.GenerationID, now)
	if err == nil {
		existing.InputTokens += p.InputTokens
		if p.ResponseStatus > existing.ResponseStatus {
			existing.ResponseStatus = p.ResponseStatus
		}
		if p.DlpAction > existing.DlpAction {
			existing.DlpAction = p.DlpAction
		}
		if saveErr := s.db.Save(existing).Error; saveErr != nil {
			logWriteErr("log_cursor_hook_request.update", saveErr)
			return 0
		}
		return existing.ID
	}
	if err != gorm.ErrRecordNotFound {
		logWriteErr("log_cursor_hook_request.lookup", err)
	}

	row := Request{
		Timestamp:        now,
		Backend:          "cursor-hooks",
		EndpointName:     p.EndpointName,
		Method:           "POST",
		Path:             "/cursor_hook",
		Model:            p.Model,
		InputTokens:      p.InputTokens,
		UserMessageCount: 1,
		ResponseStatus:   p.ResponseStatus,
		RequestBody:      p.RequestBody,
		ResponseBody:     p.ResponseBody,
		ExtraMetadata:    p.ExtraMetadata,
		RequestHeaders:   p.RequestHeaders,
		ResponseHeaders:  p.ResponseHeaders,
		DlpAction:        p.DlpAction,
	}
	if err := s.db.Create(&row).Error; err != nil {
		logWriteErr("log_cursor_hook_request.insert", err)
		return 0
	}
	return row.ID
}

// UpdateCursorHookOutput implements after_agent_response: adds
// outputTokens to the record's output_tokens, optionally sets
// response_body and assistant_message_count=1, and recomputes
// latency_ms from the record's original timestamp to now. A miss within
// the recency window is silently dropped per §4.6.
func (s *Store) UpdateCursorHookOutput(generationID string, outputTokens int, responseBody string, hasResponseBody bool, now time.Time) {
	existing, err := s.findCursorHookRequest(generationID, now)
	if err != nil {
		return
	}
	existing.OutputTokens += outputTokens
	existing.LatencyMs = now.Sub(existing.Timestamp).Milliseconds()
	if existing.LatencyMs < 0 {
		existing.LatencyMs = 0
	}
	if hasResponseBody {
		existing.ResponseBody = responseBody
		existing.AssistantMessageCount = 1
	}
	if err := s.db.Save(existing).Error; err != nil {
		logWriteErr("update_cursor_hook_output", err)
	}
}

// AddCursorHookThinkingTokens implements after_agent_thought: adds
// estimated tokens to output_tokens and sets has_thinking=1.
func (s *Store) AddCursorHookThinkingTokens(generationID string, tokens int, now time.Time) {
	existing, err := s.findCursorHookRequest(generationID, now)
	if err != nil {
		return
	}
	existing.OutputTokens += tokens
	existing.HasThinking = true
	if err := s.db.Save(existing).Error; err != nil {
		logWriteErr("add_cursor_hook_thinking_tokens", err)
	}
}

// AddCursorHookTabFileEditTokens implements after_tab_file_edit: adds
// the sum of estimate_tokens(new_string) across edits to output_tokens.
// orig/database.rs has no dedicated method for this event; it is
// modeled the same way as the other after_* accumulators per §4.6's
// text.
func (s *Store) AddCursorHookTabFileEditTokens(generationID string, tokens int, now time.Time) {
	existing, err := s.findCursorHookRequest(generationID, now)
	if err != nil {
		return
	}
	existing.OutputTokens += tokens
	if err := s.db.Save(existing).Error; err != nil {
		logWriteErr("add_cursor_hook_tab_file_edit_tokens", err)
	}
}
