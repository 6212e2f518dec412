package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/dlpproxy/dlpproxy/internal/backend"
	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/dlp"
	"github.com/dlpproxy/dlpproxy/internal/policy"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dstore "github.com/dlpproxy/dlpproxy/internal/store"
)

func newTestDispatcher(t *testing.T, upstreamURL string, patterns []dlp.CompiledPattern, action config.DlpAction) *Dispatcher {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	st := openTestStore(t, db)

	reg := backend.NewRegistry()
	reg.Load([]backend.Backend{{Name: "claude", BaseURL: upstreamURL, Kind: backend.KindClaudeNative, Settings: backend.DefaultSettings(), Enabled: true}})

	return &Dispatcher{
		Registry:      reg,
		Gate:          policy.NewGate(),
		Store:         st,
		PatternSource: func() []dlp.CompiledPattern { return patterns },
		DlpAction:     func() config.DlpAction { return action },
		Client:        &http.Client{},
		Now:           time.Now,
	}
}

// openTestStore builds a store.Store directly against an in-memory gorm
// handle, bypassing store.Open's file-based sqlite.Open.
func openTestStore(t *testing.T, db *gorm.DB) *dstore.Store {
	t.Helper()
	st, err := dstore.NewFromDB(db)
	require.NoError(t, err)
	return st
}

// S1 Redact Claude, exercised end to end through the Dispatcher against
// a fake upstream.
func TestDispatcher_S1_RedactClaude(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","model":"m","role":"assistant","content":[{"type":"text","text":"stored sk-ABCDEFGH ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstream.Close()

	patterns := dlp.Compile([]dlp.Pattern{{Name: "anthropic_api_key", Kind: dlp.KindRegex, Positive: []string{`sk-[A-Za-z0-9]{8}`}, MinOccurrences: 1, Enabled: true}})
	d := newTestDispatcher(t, upstream.URL, patterns, config.DlpActionRedact)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body := `{"model":"m","messages":[{"role":"user","content":"use sk-ABCDEFGH here"}]}`
	c.Request = httptest.NewRequest(http.MethodPost, "/claude/v1/messages", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	d.Forward(c, "claude")

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "sk-ABCDEFGH", "client must see the un-redacted original back")
}

// S2 Block Claude through the Dispatcher: no upstream call is made.
func TestDispatcher_S2_BlockClaude(t *testing.T) {
	called := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer upstream.Close()

	patterns := dlp.Compile([]dlp.Pattern{{Name: "anthropic_api_key", Kind: dlp.KindRegex, Positive: []string{`sk-[A-Za-z0-9]{8}`}, MinOccurrences: 1, Enabled: true}})
	d := newTestDispatcher(t, upstream.URL, patterns, config.DlpActionBlock)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body := `{"model":"m","messages":[{"role":"user","content":"use sk-ABCDEFGH here"}]}`
	c.Request = httptest.NewRequest(http.MethodPost, "/claude/v1/messages", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	d.Forward(c, "claude")

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.False(t, called, "a blocked request must never reach upstream")
	require.Contains(t, w.Body.String(), "anthropic_api_key")
}
