package store

import "time"

// Pattern is one row of dlp_patterns: a builtin or user-defined DLP
// pattern definition. Patterns and NegativePatterns are stored as JSON
// arrays in TEXT columns, mirroring orig/database.rs's schema.
type Pattern struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"`
	Name                string    `gorm:"not null"`
	PatternType         string    `gorm:"column:pattern_type;not null"`
	Patterns            string    `gorm:"not null"` // JSON array of strings
	NegativePatternType string    `gorm:"column:negative_pattern_type"`
	NegativePatterns    string    `gorm:"column:negative_patterns"` // JSON array, may be empty
	Enabled             bool      `gorm:"not null;default:true"`
	MinOccurrences      int       `gorm:"column:min_occurrences;not null;default:1"`
	MinUniqueChars      int       `gorm:"column:min_unique_chars;not null;default:0"`
	IsBuiltin           bool      `gorm:"column:is_builtin;not null;default:false"`
	CreatedAt           time.Time `gorm:"column:created_at;not null"`
}

func (Pattern) TableName() string { return "dlp_patterns" }

// Detection is one row of dlp_detections, a redaction event tied back
// to the Request Record it occurred in.
type Detection struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	RequestID     uint      `gorm:"column:request_id;index"`
	Timestamp     time.Time `gorm:"not null"`
	PatternName   string    `gorm:"column:pattern_name;not null"`
	PatternType   string    `gorm:"column:pattern_type;not null"`
	OriginalValue string    `gorm:"column:original_value;not null"`
	Placeholder   string    `gorm:"not null"`
	MessageIndex  *int      `gorm:"column:message_index"`
}

func (Detection) TableName() string { return "dlp_detections" }

// Request is one row of requests: a single admitted or denied proxy
// call, or (for backend="cursor-hooks") the merged record for one
// generation_id's event sequence.
type Request struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp           time.Time `gorm:"not null;index:idx_requests_timestamp_backend,priority:1"`
	Backend             string    `gorm:"not null;default:claude;index:idx_requests_timestamp_backend,priority:2"`
	EndpointName        string    `gorm:"column:endpoint_name;not null"`
	Method              string    `gorm:"not null"`
	Path                string    `gorm:"not null"`
	Model               string
	InputTokens         int       `gorm:"column:input_tokens;not null;default:0"`
	OutputTokens        int       `gorm:"column:output_tokens;not null;default:0"`
	CacheReadTokens     int       `gorm:"column:cache_read_tokens;not null;default:0"`
	CacheCreationTokens int       `gorm:"column:cache_creation_tokens;not null;default:0"`
	LatencyMs           int64     `gorm:"column:latency_ms;not null;default:0"`
	HasSystemPrompt     bool      `gorm:"column:has_system_prompt;not null;default:false"`
	HasTools            bool      `gorm:"column:has_tools;not null;default:false"`
	HasThinking         bool      `gorm:"column:has_thinking;not null;default:false"`
	StopReason          string    `gorm:"column:stop_reason"`
	UserMessageCount    int       `gorm:"column:user_message_count;not null;default:0"`
	AssistantMessageCount int     `gorm:"column:assistant_message_count;not null;default:0"`
	ResponseStatus      int       `gorm:"column:response_status"`
	IsStreaming         bool      `gorm:"column:is_streaming;not null;default:false"`
	RequestBody         string    `gorm:"column:request_body"`
	ResponseBody        string    `gorm:"column:response_body"`
	ExtraMetadata       string    `gorm:"column:extra_metadata"` // JSON object
	RequestHeaders      string    `gorm:"column:request_headers"`
	ResponseHeaders     string    `gorm:"column:response_headers"`
	DlpAction           int       `gorm:"column:dlp_action;not null;default:0"`
}

func (Request) TableName() string { return "requests" }

// Setting is one row of the settings key-value table (proxy_port,
// dlp_action).
type Setting struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value string `gorm:"column:value;not null"`
}

func (Setting) TableName() string { return "settings" }

// Backend is one row of the backends table: a predefined (claude,
// codex) or user-created custom upstream integration and its policy
// settings. cursor-hooks is never persisted here — it has no base_url
// and no registry entry; its events go to the /cursor_hook routes.
type Backend struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement"`
	Name               string    `gorm:"not null;uniqueIndex"`
	BaseURL            string    `gorm:"column:base_url;not null"`
	Kind               string    `gorm:"not null"`
	Enabled            bool      `gorm:"not null;default:true"`
	DlpEnabled         bool      `gorm:"column:dlp_enabled;not null;default:true"`
	RateLimitRequests  uint32    `gorm:"column:rate_limit_requests;not null;default:0"`
	RateLimitMinutes   uint32    `gorm:"column:rate_limit_minutes;not null;default:1"`
	MaxTokensInRequest uint32    `gorm:"column:max_tokens_in_request;not null;default:0"`
	ActionForMaxTokens string    `gorm:"column:action_for_max_tokens;not null;default:block"`
	IsBuiltin          bool      `gorm:"column:is_builtin;not null;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at;not null"`
}

func (Backend) TableName() string { return "backends" }
