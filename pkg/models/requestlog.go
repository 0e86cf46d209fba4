package models

import "time"

// RequestLogRecord is one entry in the Request Log Store. Backend-
// specific fields are carried in Extra, keyed by name, rather than
// widening the schema per backend.
type RequestLogRecord struct {
	ID            int64
	RequestID     string
	Timestamp     time.Time
	Backend       string
	Model         string
	Method        string
	Path          string
	StatusCode    int
	LatencyMS     int64
	IsStreaming   bool
	InputTokens   int64
	OutputTokens  int64
	DetectionsHit int // count of Match entries redacted in this request
	Blocked       bool

	// RequestHeaders/RequestBody are what was actually sent upstream:
	// the client's headers after policy rewriting, and the redacted
	// JSON body (the pre-block form, with every match placeholder-
	// substituted, when Blocked is true and nothing was forwarded).
	RequestHeaders map[string][]string
	RequestBody    []byte

	// ResponseHeaders/ResponseBody are what the client actually saw:
	// the upstream response headers, and the restored (unredacted)
	// JSON body. Both are empty when Blocked is true, since no
	// upstream call was made.
	ResponseHeaders map[string][]string
	ResponseBody    []byte

	// Extra carries backend-specific metadata: has_system_prompt,
	// has_tools, has_thinking, stop_reason, user_message_count,
	// assistant_message_count, cache_read_tokens, cache_creation_tokens.
	Extra map[string]any

	// Detections is populated when the caller requests detail; it is
	// persisted separately in the dlp_detections table.
	Detections []DetectionRecord
}

// DetectionRecord is one surviving DLP match persisted alongside a
// RequestLogRecord, enough to audit what was redacted without storing
// the original literal.
type DetectionRecord struct {
	ID            int64
	RequestID     string
	Timestamp     time.Time
	PatternName   string
	PatternKind   PatternKind
	Placeholder   string
	MessageIndex  int
}

// LogQueryOpts filters RequestLogRecord queries for get_message_logs.
type LogQueryOpts struct {
	Backend   string
	Model     string
	Since     time.Time
	RequestID string
	Limit     int
}

// DetectionStatsRange selects a lookback window for
// get_dlp_detection_stats using "1h"/"6h"/"1d"/"7d" shorthand.
type DetectionStatsRange string

const (
	Range1Hour  DetectionStatsRange = "1h"
	Range6Hours DetectionStatsRange = "6h"
	Range1Day   DetectionStatsRange = "1d"
	Range7Days  DetectionStatsRange = "7d"
)

// Since converts a DetectionStatsRange into an absolute cutoff.
func (r DetectionStatsRange) Since(now time.Time) time.Time {
	switch r {
	case Range1Hour:
		return now.Add(-1 * time.Hour)
	case Range6Hours:
		return now.Add(-6 * time.Hour)
	case Range1Day:
		return now.Add(-24 * time.Hour)
	case Range7Days:
		return now.Add(-7 * 24 * time.Hour)
	default:
		return now.Add(-24 * time.Hour)
	}
}

// DetectionStats summarizes dlp_detections for get_dlp_detection_stats.
type DetectionStats struct {
	TotalDetections    int
	DetectionsByPattern map[string]int
	Recent              []DetectionRecord
}
