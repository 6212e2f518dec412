// Package api assembles the Router (spec.md §4.1): a gin engine with a
// fixed route table — health probe, the generic backend proxy handler,
// and the six Cursor-hook endpoints. A fresh Engine is built from
// scratch on every lifecycle reload rather than mutated in place,
// mirroring the teacher's internal/watcher-triggered UpdateClients
// rebuild.
package api

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/dlpproxy/dlpproxy/internal/logging"
	"github.com/dlpproxy/dlpproxy/internal/proxy"
)

// NewEngine builds the route table bound to dispatcher and hooks.
func NewEngine(dispatcher *proxy.Dispatcher, hooks *proxy.CursorHookHandler) *gin.Engine {
	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(corsMiddleware())
	engine.Use(logging.GinLogrusLogger())

	engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	cursorHook := engine.Group("/cursor_hook")
	{
		cursorHook.POST("/before_submit_prompt", hooks.BeforeSubmitPrompt)
		cursorHook.POST("/before_read_file", hooks.BeforeReadFile)
		cursorHook.POST("/before_tab_file_read", hooks.BeforeTabFileRead)
		cursorHook.POST("/after_agent_response", hooks.AfterAgentResponse)
		cursorHook.POST("/after_agent_thought", hooks.AfterAgentThought)
		cursorHook.POST("/after_tab_file_edit", hooks.AfterTabFileEdit)
	}

	generic := func(c *gin.Context) {
		dispatcher.Forward(c, c.Param("backend"))
	}
	// Both forms are needed: gin's wildcard requires at least one byte
	// after the slash, so a bare "/claude" (no trailing path) needs its
	// own route alongside "/claude/v1/messages".
	engine.Any("/:backend", generic)
	engine.Any("/:backend/*rest", generic)

	return engine
}

// corsMiddleware restricts cross-origin access to localhost origins.
// The teacher's equivalent answers every origin with "*", which is
// appropriate for a proxy meant to be reachable from arbitrary
// clients; dlpproxy is the opposite case, a loopback-only proxy sitting
// in front of a single developer's own tools (Cursor's webview, CLI
// agents), so echoing "*" would let any remote page's script read
// DLP-redacted upstream responses back through a developer's browser.
// A request whose Origin isn't localhost gets no CORS headers at all
// and falls back to the browser's ordinary same-origin policy.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if isLocalOrigin(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "*")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// isLocalOrigin reports whether origin names loopback: localhost,
// 127.0.0.1, or ::1, with any port.
func isLocalOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
