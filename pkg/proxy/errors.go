package proxy

import (
	"encoding/json"
	"net/http"
)

// writeJSONError writes a structured JSON error body: upstream
// failures and route/limit errors are always a small JSON object with
// an "error" field, never a bare status line.
func writeJSONError(w http.ResponseWriter, status int, code, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  code,
		"detail": detail,
	})
}

// writeBlocked writes the 403 produced when a Block-action pattern
// survives the DLP pipeline.
func writeBlocked(w http.ResponseWriter, patternIDs []int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":    "blocked_by_dlp",
		"patterns": patternIDs,
	})
}
