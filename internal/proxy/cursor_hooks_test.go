package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/dlp"
	dstore "github.com/dlpproxy/dlpproxy/internal/store"
)

func newTestHookHandler(t *testing.T, patterns []dlp.CompiledPattern, action config.DlpAction, now time.Time) *CursorHookHandler {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	st, err := dstore.NewFromDB(db)
	require.NoError(t, err)

	return &CursorHookHandler{
		Store:         st,
		PatternSource: func() []dlp.CompiledPattern { return patterns },
		DlpAction:     func() config.DlpAction { return action },
		Now:           func() time.Time { return now },
	}
}

func postJSON(t *testing.T, handler gin.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/cursor_hook/x", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	handler(c)
	return w
}

// S6 Cursor-hooks upsert, exercised through the handler's public entry
// points instead of the store directly.
func TestCursorHookHandler_S6(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	h := newTestHookHandler(t, nil, config.DlpActionRedact, now)

	w := postJSON(t, h.BeforeSubmitPrompt, `{"generation_id":"g1","prompt":"write me a function"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"continue":true`)

	h.Now = func() time.Time { return now.Add(2 * time.Second) }
	words := strings.Repeat("w ", 40)
	w2 := postJSON(t, h.AfterAgentResponse, `{"generation_id":"g1","response_text":"`+words+`"}`)
	require.Equal(t, http.StatusOK, w2.Code)

	var row dstore.Request
	require.NoError(t, h.Store.DB().Where("json_extract(extra_metadata,'$.generation_id') = ?", "g1").First(&row).Error)
	require.Equal(t, 1, row.UserMessageCount)
	require.Equal(t, 1, row.AssistantMessageCount)
	require.Equal(t, 60, row.OutputTokens)
	require.Greater(t, row.LatencyMs, int64(0))
	require.Equal(t, 0, row.DlpAction)
}

func TestCursorHookHandler_BeforeSubmitPrompt_BlockDenies(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	patterns := dlp.Compile([]dlp.Pattern{{Name: "anthropic_api_key", Kind: dlp.KindRegex, Positive: []string{`sk-[A-Za-z0-9]{8}`}, MinOccurrences: 1, Enabled: true}})
	h := newTestHookHandler(t, patterns, config.DlpActionBlock, now)

	w := postJSON(t, h.BeforeSubmitPrompt, `{"generation_id":"g2","prompt":"use sk-ABCDEFGH here"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Contains(t, w.Body.String(), `"continue":false`)
}

func TestCursorHookHandler_AfterEventOutsideWindowDropped(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	h := newTestHookHandler(t, nil, config.DlpActionRedact, now)

	postJSON(t, h.BeforeSubmitPrompt, `{"generation_id":"g3","prompt":"hello"}`)

	h.Now = func() time.Time { return now.Add(6 * time.Minute) }
	w := postJSON(t, h.AfterAgentResponse, `{"generation_id":"g3","response_text":"too late"}`)
	require.Equal(t, http.StatusOK, w.Code, "after_* always replies 200 even when silently dropped")

	var row dstore.Request
	require.NoError(t, h.Store.DB().Where("json_extract(extra_metadata,'$.generation_id') = ?", "g3").First(&row).Error)
	require.Equal(t, 0, row.OutputTokens)
}
