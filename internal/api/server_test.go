package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dlpproxy/dlpproxy/internal/backend"
	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/dlp"
	"github.com/dlpproxy/dlpproxy/internal/policy"
	"github.com/dlpproxy/dlpproxy/internal/proxy"
	"github.com/dlpproxy/dlpproxy/internal/store"
)

func newTestEngine(t *testing.T, upstreamURL string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.NewFromDB(db)
	require.NoError(t, err)

	reg := backend.NewRegistry()
	reg.Load([]backend.Backend{{Name: "claude", BaseURL: upstreamURL, Kind: backend.KindClaudeNative, Settings: backend.DefaultSettings(), Enabled: true}})

	noPatterns := func() []dlp.CompiledPattern { return nil }
	dlpAction := func() config.DlpAction { return config.DlpActionRedact }

	dispatcher := proxy.NewDispatcher(reg, policy.NewGate(), st, noPatterns, dlpAction)
	hooks := proxy.NewCursorHookHandler(st, noPatterns, dlpAction)

	return NewEngine(dispatcher, hooks)
}

func TestHealthProbe(t *testing.T) {
	engine := newTestEngine(t, "http://unused.invalid")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "healthy")
}

func TestCursorHookRoute_BeforeSubmitPrompt(t *testing.T) {
	engine := newTestEngine(t, "http://unused.invalid")

	w := httptest.NewRecorder()
	body := `{"generation_id":"gen-1","prompt":"hello there"}`
	req := httptest.NewRequest(http.MethodPost, "/cursor_hook/before_submit_prompt", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"continue":true`)
}

func TestGenericBackendRoute_ForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","model":"m","role":"assistant","content":[],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstream.Close()

	engine := newTestEngine(t, upstream.URL)

	w := httptest.NewRecorder()
	body := `{"model":"m","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/claude/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownBackendRoute_Returns404(t *testing.T) {
	engine := newTestEngine(t, "http://unused.invalid")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/nope/v1/messages", strings.NewReader(`{}`))
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight_RespondsNoContentForLocalOrigin(t *testing.T) {
	engine := newTestEngine(t, "http://unused.invalid")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/claude/v1/messages", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_OmitsHeadersForNonLocalOrigin(t *testing.T) {
	engine := newTestEngine(t, "http://unused.invalid")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/claude/v1/messages", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
