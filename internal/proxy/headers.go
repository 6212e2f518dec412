package proxy

import (
	"encoding/json"
	"net/http"
)

// skipRequestHeaders are never forwarded upstream: host and
// content-length must be recalculated for the (possibly redacted,
// possibly different-length) body being sent.
var skipRequestHeaders = map[string]struct{}{
	"host":           {},
	"content-length": {},
}

// skipResponseHeaders are never copied back to the client: the body we
// return may have been decompressed and/or un-redacted, so the
// upstream's framing headers no longer describe it.
var skipResponseHeaders = map[string]struct{}{
	"content-encoding":  {},
	"content-length":    {},
	"transfer-encoding": {},
}

func copyRequestHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, skip := skipRequestHeaders[httpHeaderKeyLower(name)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, skip := skipResponseHeaders[httpHeaderKeyLower(name)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func httpHeaderKeyLower(name string) string {
	b := []byte(name)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// headersToJSON flattens a header map to a single-value-per-key JSON
// object, mirroring headers_to_json/reqwest_headers_to_json in
// orig/proxy.rs (which also collapse multi-value headers to their last
// value via HashMap::collect).
func headersToJSON(h http.Header) string {
	flat := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			flat[name] = values[len(values)-1]
		}
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(b)
}
