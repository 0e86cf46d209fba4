package proxy

import (
	"bufio"
	"bytes"
	"net/http"

	"github.com/greyhawk/ocular/pkg/dlp"
	"github.com/greyhawk/ocular/pkg/models"
)

// relayStream copies an SSE upstream response to w line by line,
// restoring placeholders through rm as bytes become safe to emit,
// flushing on each event boundary. It returns both the raw
// (pre-restoration) body, for provider metadata extraction the same
// way it would run on a buffered response, and the restored body
// actually written to w, for the request log's client-visible copy.
func relayStream(w http.ResponseWriter, resp *http.Response, rm *models.RedactionMap) (raw, restored []byte) {
	flusher, canFlush := w.(http.Flusher)

	var restorer *dlp.Restorer
	if rm != nil && !rm.Empty() {
		restorer = dlp.NewRestorer(rm)
	}

	var rawBuf, restoredBuf bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		rawBuf.Write(line)
		rawBuf.WriteByte('\n')

		chunk := append(append([]byte(nil), line...), '\n')
		if restorer != nil {
			chunk = restorer.Write(chunk)
		}
		if len(chunk) > 0 {
			restoredBuf.Write(chunk)
			w.Write(chunk)
		}
		if len(line) == 0 && canFlush {
			flusher.Flush()
		}
	}

	if restorer != nil {
		if tail := restorer.Flush(); len(tail) > 0 {
			restoredBuf.Write(tail)
			w.Write(tail)
		}
	}
	if canFlush {
		flusher.Flush()
	}

	return rawBuf.Bytes(), restoredBuf.Bytes()
}
