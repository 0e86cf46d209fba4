package proxy

import (
	"encoding/json"
	"time"

	"github.com/greyhawk/ocular/pkg/dlp"
	"github.com/greyhawk/ocular/pkg/models"
)

// leafMatch is one surviving match tagged with the array index of the
// enclosing message, for dlp_detections.message_index.
type leafMatch struct {
	models.Match
	messageIndex int
}

// applyRequestDLP runs the DLP Engine over every JSON string leaf in
// body. It returns the reassembled, redacted body and the matches that
// survived, or a *dlp.BlockedError if a Block-action pattern matched
// anywhere in the document. On block, the walk still visits every leaf
// so BlockedError.Redacted carries the pre-block form (every match,
// block or redact, substituted with its placeholder) for logging; the
// caller must not forward that body upstream.
func applyRequestDLP(patterns []*dlp.CompiledPattern, body []byte, rm *models.RedactionMap) ([]byte, []leafMatch, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, nil, err
	}

	var matches []leafMatch
	var blockedIDs []int64

	redacted := walkJSONStrings(root, -1, func(s string, msgIndex int) string {
		out, leafMatches, err := dlp.Redact(s, patterns, rm)
		if err != nil {
			if be, ok := err.(*dlp.BlockedError); ok {
				blockedIDs = append(blockedIDs, be.PatternIDs...)
				for _, m := range be.Matches {
					matches = append(matches, leafMatch{Match: m, messageIndex: msgIndex})
				}
				return be.Redacted
			}
			return s
		}
		for _, m := range leafMatches {
			matches = append(matches, leafMatch{Match: m, messageIndex: msgIndex})
		}
		return out
	})

	out, err := json.Marshal(redacted)
	if err != nil {
		return nil, nil, err
	}

	if len(blockedIDs) > 0 {
		return out, matches, &dlp.BlockedError{PatternIDs: blockedIDs, Redacted: string(out)}
	}
	return out, matches, nil
}

// detectionRecords converts the matches found during applyRequestDLP
// into persisted DetectionRecords, deliberately dropping the original
// literal.
func detectionRecords(requestID string, patternNames map[int64]string, patternKinds map[int64]models.PatternKind, matches []leafMatch, now time.Time) []models.DetectionRecord {
	out := make([]models.DetectionRecord, 0, len(matches))
	for _, m := range matches {
		out = append(out, models.DetectionRecord{
			RequestID:    requestID,
			Timestamp:    now,
			PatternName:  patternNames[m.PatternID],
			PatternKind:  patternKinds[m.PatternID],
			Placeholder:  m.Placeholder,
			MessageIndex: m.messageIndex,
		})
	}
	return out
}
