package store

import "time"

// RequestMeta bundles the request-side fields of a Request Record, kept
// as a plain struct so callers in internal/proxy don't have to depend
// on the store's gorm model directly.
type RequestMeta struct {
	Model                 string
	HasSystemPrompt        bool
	HasTools               bool
	UserMessageCount       int
	AssistantMessageCount  int
}

// ResponseMeta bundles the response-side fields.
type ResponseMeta struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	HasThinking         bool
	StopReason          string
}

// LogRequestParams is everything the Record Writer needs to insert one
// Request Record, grounded on log_request in orig/database.rs.
type LogRequestParams struct {
	Backend         string
	Method          string
	Path            string
	EndpointName    string
	RequestBody     string
	ResponseBody    string
	ResponseStatus  int
	IsStreaming     bool
	LatencyMs       int64
	Req             RequestMeta
	Resp            ResponseMeta
	ExtraMetadata   string
	RequestHeaders  string
	ResponseHeaders string
	DlpAction       int
	Timestamp       time.Time
}

// LogRequest inserts one Request Record and returns its id. Best-effort:
// on failure it logs and returns 0, never an error the caller must
// handle, per §4.7's "writes must not fail the response" contract.
func (s *Store) LogRequest(p LogRequestParams) uint {
	row := Request{
		Timestamp:             p.Timestamp,
		Backend:               p.Backend,
		EndpointName:          p.EndpointName,
		Method:                p.Method,
		Path:                  p.Path,
		Model:                 p.Req.Model,
		InputTokens:           p.Resp.InputTokens,
		OutputTokens:          p.Resp.OutputTokens,
		CacheReadTokens:       p.Resp.CacheReadTokens,
		CacheCreationTokens:   p.Resp.CacheCreationTokens,
		LatencyMs:             p.LatencyMs,
		HasSystemPrompt:       p.Req.HasSystemPrompt,
		HasTools:              p.Req.HasTools,
		HasThinking:           p.Resp.HasThinking,
		StopReason:            p.Resp.StopReason,
		UserMessageCount:      p.Req.UserMessageCount,
		AssistantMessageCount: p.Req.AssistantMessageCount,
		ResponseStatus:        p.ResponseStatus,
		IsStreaming:           p.IsStreaming,
		RequestBody:           p.RequestBody,
		ResponseBody:          p.ResponseBody,
		ExtraMetadata:         p.ExtraMetadata,
		RequestHeaders:        p.RequestHeaders,
		ResponseHeaders:       p.ResponseHeaders,
		DlpAction:             p.DlpAction,
	}
	if err := s.db.Create(&row).Error; err != nil {
		logWriteErr("log_request", err)
		return 0
	}
	return row.ID
}

// LogDetections inserts one Detection row per detection, linked by
// requestID. A zero requestID (the prior write failed) is a no-op,
// since the foreign key would be meaningless.
func (s *Store) LogDetections(requestID uint, timestamp time.Time, detections []DetectionParams) {
	if requestID == 0 || len(detections) == 0 {
		return
	}
	rows := make([]Detection, 0, len(detections))
	for _, d := range detections {
		rows = append(rows, Detection{
			RequestID:     requestID,
			Timestamp:     timestamp,
			PatternName:   d.PatternName,
			PatternType:   d.PatternType,
			OriginalValue: d.OriginalValue,
			Placeholder:   d.Placeholder,
			MessageIndex:  d.MessageIndex,
		})
	}
	if err := s.db.Create(&rows).Error; err != nil {
		logWriteErr("log_dlp_detections", err)
	}
}

// DetectionParams is the store-agnostic shape internal/dlp.Detection
// gets adapted into before being written.
type DetectionParams struct {
	PatternName   string
	PatternType   string
	OriginalValue string
	Placeholder   string
	MessageIndex  *int
}
