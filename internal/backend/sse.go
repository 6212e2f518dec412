package backend

import "bytes"

// sseDataLines splits an accumulated SSE body into the JSON payload of
// each "data: " line, skipping blank lines and the "[DONE]" sentinel.
func sseDataLines(body []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		data := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			continue
		}
		out = append(out, data)
	}
	return out
}
