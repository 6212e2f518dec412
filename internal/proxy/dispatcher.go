// Package proxy is the Dispatcher: it forwards admitted requests to a
// Backend's upstream, applies DLP redaction/un-redaction around the
// call, and writes the resulting Request Record. Grounded on
// orig/proxy.rs's proxy_handler and start_proxy_server.
package proxy

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dlpproxy/dlpproxy/internal/backend"
	"github.com/dlpproxy/dlpproxy/internal/config"
	"github.com/dlpproxy/dlpproxy/internal/dlp"
	"github.com/dlpproxy/dlpproxy/internal/logging"
	"github.com/dlpproxy/dlpproxy/internal/policy"
	"github.com/dlpproxy/dlpproxy/internal/store"
)

// isStreamingRequest mirrors orig/proxy.rs's exact literal-byte-window
// check: it looks for the two JSON spellings of a true "stream" field
// rather than parsing JSON, since the redacted body is forwarded as-is.
func isStreamingRequest(body []byte) bool {
	return bytes.Contains(body, []byte(`"stream":true`)) || bytes.Contains(body, []byte(`"stream": true`))
}

// Dispatcher forwards proxied requests to their upstream Backend.
type Dispatcher struct {
	Registry       *backend.Registry
	Gate           *policy.Gate
	Store          *store.Store
	PatternSource  func() []dlp.CompiledPattern
	DlpAction      func() config.DlpAction
	Client         *http.Client
	Now            func() time.Time
}

// NewDispatcher builds a Dispatcher with a default http.Client and
// real-clock Now.
func NewDispatcher(reg *backend.Registry, gate *policy.Gate, st *store.Store, patternSource func() []dlp.CompiledPattern, dlpAction func() config.DlpAction) *Dispatcher {
	return &Dispatcher{
		Registry:      reg,
		Gate:          gate,
		Store:         st,
		PatternSource: patternSource,
		DlpAction:     dlpAction,
		Client:        &http.Client{},
		Now:           time.Now,
	}
}

// Forward handles one proxied call to backendName, covering policy-gate
// evaluation, upstream dispatch, and Request Record logging.
func (d *Dispatcher) Forward(c *gin.Context, backendName string) {
	start := d.Now()

	b, parser, ok := d.Registry.Lookup(backendName)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"message": fmt.Sprintf("unknown backend %q", backendName), "type": "not_found"}})
		return
	}

	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	// Per §6, the forwarded path is the request path with the
	// /<backendName> route prefix stripped: ANY /{backend}/{rest...} ->
	// {base_url}/{rest}{?query}.
	rest := strings.TrimPrefix(c.Request.URL.Path, "/"+backendName)
	if rest == "" {
		rest = "/"
	}
	fullPath := rest
	if q := c.Request.URL.RawQuery; q != "" {
		fullPath += "?" + q
	}

	var patterns []dlp.CompiledPattern
	if b.Settings.DlpEnabled {
		patterns = d.PatternSource()
	}

	result := d.Gate.Evaluate(b.Name, b.Settings, b.Kind, parser, bodyBytes, patterns, d.DlpAction(), start)
	c.Set(logging.DlpActionContextKey, result.Action.String())
	reqMeta := backend.RequestMetadata{}
	if parser != nil {
		reqMeta = parser.ParseRequest(bodyBytes)
	}

	if !result.Allowed {
		if result.RetryAfterSeconds > 0 {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
		}
		c.Data(result.StatusCode, "application/json", result.ResponseBody)
		d.logDenied(b.Name, c.Request.Method, fullPath, bodyBytes, result, reqMeta, start)
		return
	}

	upstreamReq, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, b.BaseURL+fullPath, bytes.NewReader(result.Body))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("proxy error: %v", err)})
		return
	}
	copyRequestHeaders(upstreamReq.Header, c.Request.Header)

	requestHeadersJSON := headersToJSON(c.Request.Header)

	upstreamResp, err := d.Client.Do(upstreamReq)
	if err != nil {
		logrus.WithError(err).Warn("proxy: upstream request failed")
		c.Data(http.StatusBadGateway, "text/plain", []byte(fmt.Sprintf("proxy error: %v", err)))
		d.logUpstreamFailure(b.Name, c.Request.Method, fullPath, bodyBytes, reqMeta, requestHeadersJSON, result, start)
		return
	}
	defer upstreamResp.Body.Close()

	streaming := isStreamingRequest(bodyBytes)
	responseHeadersJSON := headersToJSON(upstreamResp.Header)

	if streaming {
		d.forwardStreaming(c, b, parser, upstreamResp, reqMeta, bodyBytes, fullPath, requestHeadersJSON, responseHeadersJSON, result, start)
		return
	}
	d.forwardBuffered(c, b, parser, upstreamResp, reqMeta, bodyBytes, fullPath, requestHeadersJSON, responseHeadersJSON, result, start)
}

func (d *Dispatcher) forwardBuffered(c *gin.Context, b backend.Backend, parser backend.Parser, upstreamResp *http.Response, reqMeta backend.RequestMetadata, requestBody []byte, fullPath, requestHeadersJSON, responseHeadersJSON string, result policy.Result, start time.Time) {
	raw, err := io.ReadAll(upstreamResp.Body)
	if err != nil {
		c.Data(http.StatusBadGateway, "text/plain", []byte(fmt.Sprintf("failed to read response: %v", err)))
		return
	}

	if isGzip(upstreamResp.Header) {
		if decoded, ok := decompressGzip(raw); ok {
			raw = decoded
		}
	}

	unredacted := raw
	if result.RedactionMap != nil && !result.RedactionMap.Empty() {
		unredacted = []byte(result.RedactionMap.Unredact(string(raw)))
	}

	latency := d.Now().Sub(start)

	var respMeta backend.ResponseMetadata
	if parser != nil {
		respMeta = parser.ParseResponse(unredacted, false)
	}

	copyResponseHeaders(c.Writer.Header(), upstreamResp.Header)
	c.Status(upstreamResp.StatusCode)
	_, _ = c.Writer.Write(unredacted)

	if parser != nil && parser.ShouldLog(requestBody) {
		d.writeRecord(b, parser, c.Request.Method, fullPath, requestBody, unredacted, upstreamResp.StatusCode, false, latency.Milliseconds(), reqMeta, respMeta, requestHeadersJSON, responseHeadersJSON, result, start)
	}
}

// forwardStreaming relays the upstream SSE body chunk by chunk, applying
// un-redaction across chunk boundaries: each read is appended to the
// carried tail, un-redacted as a whole, and all but the last
// MaxPlaceholderLen()-1 bytes are flushed, so a placeholder split across
// two reads is never missed. With no placeholders nothing is held back.
func (d *Dispatcher) forwardStreaming(c *gin.Context, b backend.Backend, parser backend.Parser, upstreamResp *http.Response, reqMeta backend.RequestMetadata, requestBody []byte, fullPath, requestHeadersJSON, responseHeadersJSON string, result policy.Result, start time.Time) {
	copyResponseHeaders(c.Writer.Header(), upstreamResp.Header)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(upstreamResp.StatusCode)

	flusher, _ := c.Writer.(http.Flusher)

	holdback := 0
	if result.RedactionMap != nil {
		holdback = result.RedactionMap.MaxPlaceholderLen() - 1
	}

	var carry []byte
	var accumulated bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, readErr := upstreamResp.Body.Read(buf)
		if n > 0 {
			combined := append(carry, buf[:n]...)
			if result.RedactionMap != nil && !result.RedactionMap.Empty() {
				combined = []byte(result.RedactionMap.Unredact(string(combined)))
			}
			var toFlush, nextCarry []byte
			if holdback > 0 && len(combined) > holdback {
				toFlush = combined[:len(combined)-holdback]
				nextCarry = append([]byte(nil), combined[len(combined)-holdback:]...)
			} else if holdback > 0 {
				toFlush = nil
				nextCarry = combined
			} else {
				toFlush = combined
			}
			carry = nextCarry

			if len(toFlush) > 0 {
				out := toFlush
				accumulated.Write(out)
				_, _ = c.Writer.Write(out)
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	if len(carry) > 0 {
		out := carry
		if result.RedactionMap != nil && !result.RedactionMap.Empty() {
			out = []byte(result.RedactionMap.Unredact(string(carry)))
		}
		accumulated.Write(out)
		_, _ = c.Writer.Write(out)
		if flusher != nil {
			flusher.Flush()
		}
	}

	latency := d.Now().Sub(start)
	unredacted := accumulated.Bytes()

	var respMeta backend.ResponseMetadata
	if parser != nil {
		respMeta = parser.ParseResponse(unredacted, true)
	}
	if parser != nil && parser.ShouldLog(requestBody) {
		d.writeRecord(b, parser, c.Request.Method, fullPath, requestBody, unredacted, upstreamResp.StatusCode, true, latency.Milliseconds(), reqMeta, respMeta, requestHeadersJSON, responseHeadersJSON, result, start)
	}
}

func (d *Dispatcher) writeRecord(b backend.Backend, parser backend.Parser, method, path string, requestBody, responseBody []byte, status int, streaming bool, latencyMs int64, reqMeta backend.RequestMetadata, respMeta backend.ResponseMetadata, requestHeadersJSON, responseHeadersJSON string, result policy.Result, start time.Time) {
	var extraMetadata string
	if parser != nil {
		requestHeaders := http.Header{}
		var flat map[string]string
		if json.Unmarshal([]byte(requestHeadersJSON), &flat) == nil {
			for name, value := range flat {
				requestHeaders.Set(name, value)
			}
		}
		if extra, ok := parser.ExtractExtraMetadata(requestBody, responseBody, requestHeaders); ok {
			extraMetadata = string(extra)
		}
	}

	id := d.Store.LogRequest(store.LogRequestParams{
		Backend:         b.Name,
		Method:          method,
		Path:            path,
		EndpointName:    "Messages",
		RequestBody:     string(requestBody),
		ResponseBody:    string(responseBody),
		ResponseStatus:  status,
		IsStreaming:     streaming,
		LatencyMs:       latencyMs,
		Req:             toStoreRequestMeta(reqMeta),
		Resp:            toStoreResponseMeta(respMeta),
		ExtraMetadata:   extraMetadata,
		RequestHeaders:  requestHeadersJSON,
		ResponseHeaders: responseHeadersJSON,
		DlpAction:       int(result.Action),
		Timestamp:       start,
	})
	if len(result.Detections) > 0 {
		d.Store.LogDetections(id, start, toStoreDetections(result.Detections))
	}
}

func (d *Dispatcher) logDenied(backendName, method, path string, requestBody []byte, result policy.Result, reqMeta backend.RequestMetadata, start time.Time) {
	id := d.Store.LogRequest(store.LogRequestParams{
		Backend:        backendName,
		Method:         method,
		Path:           path,
		EndpointName:   "Messages",
		RequestBody:    string(requestBody),
		ResponseBody:   string(result.ResponseBody),
		ResponseStatus: result.StatusCode,
		Req:            toStoreRequestMeta(reqMeta),
		DlpAction:      int(result.Action),
		Timestamp:      start,
	})
	if len(result.Detections) > 0 {
		d.Store.LogDetections(id, start, toStoreDetections(result.Detections))
	}
}

func (d *Dispatcher) logUpstreamFailure(backendName, method, path string, requestBody []byte, reqMeta backend.RequestMetadata, requestHeadersJSON string, result policy.Result, start time.Time) {
	d.Store.LogRequest(store.LogRequestParams{
		Backend:        backendName,
		Method:         method,
		Path:           path,
		EndpointName:   "Messages",
		RequestBody:    string(requestBody),
		ResponseStatus: http.StatusBadGateway,
		Req:            toStoreRequestMeta(reqMeta),
		RequestHeaders: requestHeadersJSON,
		DlpAction:      int(result.Action),
		Timestamp:      start,
	})
}

func toStoreRequestMeta(m backend.RequestMetadata) store.RequestMeta {
	return store.RequestMeta{
		Model:                 m.Model,
		HasSystemPrompt:       m.HasSystemPrompt,
		HasTools:              m.HasTools,
		UserMessageCount:      m.UserMessageCount,
		AssistantMessageCount: m.AssistantMessageCount,
	}
}

func toStoreResponseMeta(m backend.ResponseMetadata) store.ResponseMeta {
	return store.ResponseMeta{
		InputTokens:         m.InputTokens,
		OutputTokens:        m.OutputTokens,
		CacheReadTokens:     m.CacheReadTokens,
		CacheCreationTokens: m.CacheCreationTokens,
		HasThinking:         m.HasThinking,
		StopReason:          m.StopReason,
	}
}

func toStoreDetections(detections []dlp.Detection) []store.DetectionParams {
	out := make([]store.DetectionParams, 0, len(detections))
	for _, det := range detections {
		out = append(out, store.DetectionParams{
			PatternName:   det.PatternName,
			PatternType:   string(det.Kind),
			OriginalValue: det.OriginalValue,
			Placeholder:   det.Placeholder,
			MessageIndex:  det.MessageIndex,
		})
	}
	return out
}

func isGzip(h http.Header) bool {
	return bytes.Contains([]byte(h.Get("Content-Encoding")), []byte("gzip"))
}

func decompressGzip(data []byte) ([]byte, bool) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, false
	}
	return out, true
}
