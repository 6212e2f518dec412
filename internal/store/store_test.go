package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Request{}, &Setting{}, &Pattern{}, &Detection{}, &Backend{}))
	s := &Store{db: db}
	require.NoError(t, s.seedBuiltinPatterns())
	require.NoError(t, s.seedDefaultBackends())
	return s
}

func TestSeedBuiltinPatterns_InsertsAndPreservesEnabledOnReseed(t *testing.T) {
	s := newTestStore(t)

	patterns, err := s.LoadEnabledPatterns()
	require.NoError(t, err)
	require.NotEmpty(t, patterns)

	require.NoError(t, s.db.Model(&Pattern{}).Where("name = ?", "anthropic_api_key").Update("enabled", false).Error)

	require.NoError(t, s.seedBuiltinPatterns())

	var row Pattern
	require.NoError(t, s.db.Where("name = ?", "anthropic_api_key").First(&row).Error)
	require.False(t, row.Enabled, "re-seeding must not flip a user-disabled builtin back on")
}

func TestCleanupOldData_CascadesDetectionsByRequestID(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	oldReq := Request{Timestamp: now.AddDate(0, 0, -8), Backend: "claude", EndpointName: "claude", Method: "POST", Path: "/claude/v1/messages"}
	require.NoError(t, s.db.Create(&oldReq).Error)
	s.LogDetections(oldReq.ID, oldReq.Timestamp, []DetectionParams{{PatternName: "x", PatternType: "regex", OriginalValue: "a", Placeholder: "b"}})

	freshReq := Request{Timestamp: now, Backend: "claude", EndpointName: "claude", Method: "POST", Path: "/claude/v1/messages"}
	require.NoError(t, s.db.Create(&freshReq).Error)

	deleted, err := s.CleanupOldData(now)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remainingRequests int64
	require.NoError(t, s.db.Model(&Request{}).Count(&remainingRequests).Error)
	require.Equal(t, int64(1), remainingRequests)

	var remainingDetections int64
	require.NoError(t, s.db.Model(&Detection{}).Count(&remainingDetections).Error)
	require.Equal(t, int64(0), remainingDetections, "cascade must remove the stale request's detections")
}

// S6 Cursor-hooks upsert.
func TestCursorHooksUpsert_S6(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	id := s.LogCursorHookBefore(CursorHookBeforeParams{
		GenerationID:   "g1",
		EndpointName:   "cursor-hooks",
		InputTokens:    5,
		ExtraMetadata:  `{"generation_id":"g1"}`,
		ResponseStatus: 200,
		DlpAction:      0, // PASSED
	}, now)
	require.NotZero(t, id)

	later := now.Add(2 * time.Second)
	s.UpdateCursorHookOutput("g1", 60, "the agent's reply", true, later)

	var row Request
	require.NoError(t, s.db.First(&row, id).Error)
	require.Equal(t, 1, row.UserMessageCount)
	require.Equal(t, 1, row.AssistantMessageCount)
	require.Equal(t, 60, row.OutputTokens)
	require.Greater(t, row.LatencyMs, int64(0))
	require.Equal(t, 0, row.DlpAction)
}

// Invariant 6: across the event sequence for one generation_id the
// stored dlp_action never decreases.
func TestCursorHooksUpsert_MonotoneDlpAction(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	id := s.LogCursorHookBefore(CursorHookBeforeParams{
		GenerationID:  "g2",
		EndpointName:  "cursor-hooks",
		ExtraMetadata: `{"generation_id":"g2"}`,
		DlpAction:     2, // BLOCKED
	}, now)
	require.NotZero(t, id)

	s.LogCursorHookBefore(CursorHookBeforeParams{
		GenerationID:  "g2",
		EndpointName:  "cursor-hooks",
		ExtraMetadata: `{"generation_id":"g2"}`,
		DlpAction:     0, // PASSED — must not downgrade the stored value
	}, now.Add(time.Second))

	var row Request
	require.NoError(t, s.db.First(&row, id).Error)
	require.Equal(t, 2, row.DlpAction, "dlp_action must never decrease across the event sequence")
}

func TestCursorHooksUpsert_AfterEventOutsideRecencyWindowIsDropped(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()

	s.LogCursorHookBefore(CursorHookBeforeParams{
		GenerationID:  "g3",
		EndpointName:  "cursor-hooks",
		ExtraMetadata: `{"generation_id":"g3"}`,
	}, now)

	// 6 minutes later is outside the 5-minute recency window.
	s.UpdateCursorHookOutput("g3", 99, "late reply", true, now.Add(6*time.Minute))

	var row Request
	require.NoError(t, s.db.Where("json_extract(extra_metadata, '$.generation_id') = ?", "g3").First(&row).Error)
	require.Equal(t, 0, row.OutputTokens, "an after_* event outside the recency window must be silently dropped")
}

func TestSeedDefaultBackends_InsertsOnceAndPreservesEdits(t *testing.T) {
	s := newTestStore(t)

	backends, err := s.LoadEnabledBackends()
	require.NoError(t, err)
	require.Len(t, backends, 2)

	require.NoError(t, s.db.Model(&Backend{}).Where("name = ?", "claude").Update("base_url", "https://example.internal").Error)
	require.NoError(t, s.seedDefaultBackends())

	var row Backend
	require.NoError(t, s.db.Where("name = ?", "claude").First(&row).Error)
	require.Equal(t, "https://example.internal", row.BaseURL, "re-seeding must not clobber a user-edited backend")
}

func TestSettings_SaveAndGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveSetting("proxy_port", "8008"))
	require.Equal(t, "8008", s.GetSetting("proxy_port", "0"))
	require.Equal(t, "fallback", s.GetSetting("missing_key", "fallback"))
}
