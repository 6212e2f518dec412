package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestGinLogrusLogger_IncludesBackendAndDlpAction(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	orig := log.StandardLogger().Out
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/:backend/v1/messages", func(c *gin.Context) {
		c.Set(DlpActionContextKey, "redacted")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/claude/v1/messages", nil)
	engine.ServeHTTP(w, req)

	require.Contains(t, buf.String(), "backend=claude")
	require.Contains(t, buf.String(), "dlp_action=redacted")
}

func TestGinLogrusLogger_OmitsFieldsWhenUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	orig := log.StandardLogger().Out
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	engine.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	engine.ServeHTTP(w, req)

	require.NotContains(t, buf.String(), "backend=")
	require.NotContains(t, buf.String(), "dlp_action=")
}
