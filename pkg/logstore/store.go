// Package logstore implements the Request Log Store: append-only
// request records plus the detections logged alongside them, with a
// background retention sweep.
package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/greyhawk/ocular/pkg/models"
)

// RetentionWindow is how long a RequestLogRecord survives before the
// sweeper deletes it (spec: 7 days).
const RetentionWindow = 7 * 24 * time.Hour

// sweepInterval is the retention sweeper's tick rate.
const sweepInterval = time.Hour

// Store persists RequestLogRecords and DetectionRecords, and runs a
// background sweeper that deletes anything older than RetentionWindow.
type Store struct {
	db   *sql.DB
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens a Request Log Store over db (already migrated by
// pkg/storage) and starts the retention sweeper.
func New(db *sql.DB) *Store {
	s := &Store{db: db, done: make(chan struct{})}
	s.wg.Add(1)
	go s.retentionLoop()
	return s
}

// Close stops the sweeper. It does not close db; the caller owns it.
func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
}

// Append enqueues a completed record. Callers invoke this from a
// spawned goroutine on the request path, so storage failures never
// fail the client response.
func (s *Store) Append(ctx context.Context, rec models.RequestLogRecord) {
	if err := s.append(ctx, rec); err != nil {
		log.Printf("logstore: dropping record %s: %v", rec.RequestID, err)
	}
}

func (s *Store) append(ctx context.Context, rec models.RequestLogRecord) error {
	extraJSON, err := json.Marshal(rec.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra_metadata: %w", err)
	}
	reqHeadersJSON, err := json.Marshal(rec.RequestHeaders)
	if err != nil {
		return fmt.Errorf("marshal request_headers: %w", err)
	}
	respHeadersJSON, err := json.Marshal(rec.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("marshal response_headers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO requests
			(request_id, timestamp, backend, model, method, path, status_code,
			 latency_ms, is_streaming, input_tokens, output_tokens,
			 detections_hit, blocked, request_headers, request_body,
			 response_headers, response_body, extra_metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Timestamp, rec.Backend, rec.Model, rec.Method, rec.Path,
		rec.StatusCode, rec.LatencyMS, boolToInt(rec.IsStreaming), rec.InputTokens,
		rec.OutputTokens, rec.DetectionsHit, boolToInt(rec.Blocked),
		string(reqHeadersJSON), string(rec.RequestBody),
		string(respHeadersJSON), string(rec.ResponseBody), string(extraJSON))
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	for _, d := range rec.Detections {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO dlp_detections
				(request_id, timestamp, pattern_name, pattern_kind, placeholder, message_index)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.RequestID, d.Timestamp, d.PatternName, d.PatternKind, d.Placeholder, d.MessageIndex); err != nil {
			log.Printf("logstore: dropping detection for %s: %v", rec.RequestID, err)
		}
	}
	return nil
}

// Query returns matching RequestLogRecords for get_message_logs.
func (s *Store) Query(ctx context.Context, opts models.LogQueryOpts) ([]models.RequestLogRecord, error) {
	q := `SELECT request_id, timestamp, backend, model, method, path, status_code,
		latency_ms, is_streaming, input_tokens, output_tokens, detections_hit,
		blocked, request_headers, request_body, response_headers, response_body,
		extra_metadata FROM requests WHERE 1=1`
	var args []any

	if opts.Backend != "" {
		q += " AND backend = ?"
		args = append(args, opts.Backend)
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if !opts.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}
	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	q += " ORDER BY timestamp DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []models.RequestLogRecord
	for rows.Next() {
		var rec models.RequestLogRecord
		var streaming, blocked int
		var reqHeadersJSON, respHeadersJSON, extraJSON sql.NullString
		var reqBody, respBody sql.NullString
		if err := rows.Scan(&rec.RequestID, &rec.Timestamp, &rec.Backend, &rec.Model,
			&rec.Method, &rec.Path, &rec.StatusCode, &rec.LatencyMS, &streaming,
			&rec.InputTokens, &rec.OutputTokens, &rec.DetectionsHit, &blocked,
			&reqHeadersJSON, &reqBody, &respHeadersJSON, &respBody, &extraJSON); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		rec.IsStreaming = streaming != 0
		rec.Blocked = blocked != 0
		if extraJSON.Valid && extraJSON.String != "" {
			_ = json.Unmarshal([]byte(extraJSON.String), &rec.Extra)
		}
		if reqHeadersJSON.Valid && reqHeadersJSON.String != "" {
			_ = json.Unmarshal([]byte(reqHeadersJSON.String), &rec.RequestHeaders)
		}
		if respHeadersJSON.Valid && respHeadersJSON.String != "" {
			_ = json.Unmarshal([]byte(respHeadersJSON.String), &rec.ResponseHeaders)
		}
		rec.RequestBody = []byte(reqBody.String)
		rec.ResponseBody = []byte(respBody.String)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DetectionStats aggregates dlp_detections for get_dlp_detection_stats.
func (s *Store) DetectionStats(ctx context.Context, r models.DetectionStatsRange, now time.Time) (models.DetectionStats, error) {
	cutoff := r.Since(now)
	var stats models.DetectionStats
	stats.DetectionsByPattern = make(map[string]int)

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dlp_detections WHERE timestamp >= ?`, cutoff,
	).Scan(&stats.TotalDetections); err != nil {
		return stats, fmt.Errorf("count detections: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern_name, COUNT(*) FROM dlp_detections WHERE timestamp >= ? GROUP BY pattern_name ORDER BY COUNT(*) DESC`,
		cutoff)
	if err != nil {
		return stats, fmt.Errorf("detections by pattern: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return stats, fmt.Errorf("scan pattern count: %w", err)
		}
		stats.DetectionsByPattern[name] = count
	}

	recentRows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, timestamp, pattern_name, pattern_kind, placeholder, message_index
		FROM dlp_detections WHERE timestamp >= ? ORDER BY id DESC LIMIT 50`, cutoff)
	if err != nil {
		return stats, fmt.Errorf("recent detections: %w", err)
	}
	defer recentRows.Close()
	for recentRows.Next() {
		var d models.DetectionRecord
		if err := recentRows.Scan(&d.ID, &d.RequestID, &d.Timestamp, &d.PatternName,
			&d.PatternKind, &d.Placeholder, &d.MessageIndex); err != nil {
			return stats, fmt.Errorf("scan recent detection: %w", err)
		}
		stats.Recent = append(stats.Recent, d)
	}
	return stats, recentRows.Err()
}

// Cleanup deletes records older than RetentionWindow, returning the
// number of request rows removed.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-RetentionWindow)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dlp_detections WHERE timestamp < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("cleanup detections: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup requests: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n, err := s.Cleanup(context.Background()); err != nil {
				log.Printf("logstore: retention sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("logstore: retention sweep removed %d records", n)
			}
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
