// Package dlp implements the matching, redaction, and restoration
// pipeline applied to coding-agent request and response bodies.
package dlp

import (
	"sort"
	"unicode/utf8"

	"github.com/greyhawk/ocular/pkg/models"
)

// candidate is one surviving occurrence of a compiled pattern, tied
// back to the pattern that produced it for placeholder prefix and
// action lookup.
type candidate struct {
	start, end int
	literal    string
	pattern    *CompiledPattern
}

// BlockedError is returned by Redact when a Block-action pattern
// produces a surviving match; no upstream call should follow. Redacted
// holds the text with every surviving match substituted (block and
// redact actions alike), for callers that need a logged copy of the
// pre-block form without the original literal.
type BlockedError struct {
	PatternIDs []int64
	Redacted   string
	Matches    []models.Match
}

func (e *BlockedError) Error() string {
	return "dlp: request blocked by policy"
}

// Redact runs the full matching pipeline against text for the given
// set of enabled patterns, recording substitutions in rm. It returns
// the redacted text and the matches that survived, or a *BlockedError
// if a Block-action pattern matched.
func Redact(text string, patterns []*CompiledPattern, rm *models.RedactionMap) (string, []models.Match, error) {
	var allCandidates []candidate

	for _, cp := range patterns {
		if !cp.Enabled {
			continue
		}
		found := findCandidates(text, cp)
		found = filterByNegativeContext(text, found, cp)
		found = filterByEntropy(found, cp)
		found = filterByOccurrence(found, cp)
		allCandidates = append(allCandidates, found...)
	}

	if len(allCandidates) == 0 {
		return text, nil, nil
	}

	selected := resolveOverlaps(allCandidates)

	var blockedIDs []int64
	for _, c := range selected {
		if c.pattern.Action == models.ActionBlock {
			blockedIDs = append(blockedIDs, c.pattern.ID)
		}
	}
	if len(blockedIDs) > 0 {
		redacted, matches := substitute(text, selected, rm)
		return text, nil, &BlockedError{PatternIDs: blockedIDs, Redacted: redacted, Matches: matches}
	}

	redacted, matches := substitute(text, selected, rm)
	return redacted, matches, nil
}

// findCandidates runs the positive matcher and returns one candidate
// per non-overlapping match, left to right.
func findCandidates(text string, cp *CompiledPattern) []candidate {
	locs := cp.positive.FindAllStringIndex(text, -1)
	out := make([]candidate, 0, len(locs))
	for _, loc := range locs {
		out = append(out, candidate{
			start:   loc[0],
			end:     loc[1],
			literal: text[loc[0]:loc[1]],
			pattern: cp,
		})
	}
	return out
}

// filterByNegativeContext drops candidates whose context window (the
// pattern's context_window bytes on either side, clipped to a valid
// UTF-8 boundary) contains a negative match that does not overlap the
// candidate itself.
func filterByNegativeContext(text string, candidates []candidate, cp *CompiledPattern) []candidate {
	if len(cp.negatives) == 0 {
		return candidates
	}
	w := cp.ContextWindow
	out := candidates[:0:0]
	for _, c := range candidates {
		winStart := clipUTF8Boundary(sBytes(text), max0(c.start-w))
		winEnd := clipUTF8BoundaryForward(sBytes(text), minLen(c.end+w, len(text)))
		window := text[winStart:winEnd]

		excluded := false
		for _, neg := range cp.negatives {
			for _, loc := range neg.FindAllStringIndex(window, -1) {
				negStart := winStart + loc[0]
				negEnd := winStart + loc[1]
				if negEnd <= c.start || negStart >= c.end {
					excluded = true
					break
				}
			}
			if excluded {
				break
			}
		}
		if !excluded {
			out = append(out, c)
		}
	}
	return out
}

// filterByEntropy drops candidates whose literal has fewer distinct
// Unicode code points than the pattern's min_unique_chars.
func filterByEntropy(candidates []candidate, cp *CompiledPattern) []candidate {
	if cp.MinUniqueChars <= 1 {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if countUniqueRunes(c.literal) >= cp.MinUniqueChars {
			out = append(out, c)
		}
	}
	return out
}

// filterByOccurrence drops all of a pattern's candidates when the
// number of distinct literals it matched is below min_occurrences.
func filterByOccurrence(candidates []candidate, cp *CompiledPattern) []candidate {
	if cp.MinOccurrences <= 1 {
		return candidates
	}
	distinct := make(map[string]struct{})
	for _, c := range candidates {
		distinct[c.literal] = struct{}{}
	}
	if len(distinct) < cp.MinOccurrences {
		return nil
	}
	return candidates
}

// resolveOverlaps picks a non-overlapping subset across all patterns'
// candidates: earlier-starting matches win; among equal starts, the
// longer match wins.
func resolveOverlaps(candidates []candidate) []candidate {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].start != candidates[j].start {
			return candidates[i].start < candidates[j].start
		}
		return (candidates[i].end - candidates[i].start) > (candidates[j].end - candidates[j].start)
	})

	var selected []candidate
	lastEnd := -1
	for _, c := range candidates {
		if c.start >= lastEnd {
			selected = append(selected, c)
			lastEnd = c.end
		}
	}
	return selected
}

// substitute applies the selected candidates to text, right to left,
// assigning or reusing placeholders in rm, and returns the redacted
// text plus the list of Match records for logging.
func substitute(text string, selected []candidate, rm *models.RedactionMap) (string, []models.Match) {
	matches := make([]models.Match, len(selected))
	out := text
	for i := len(selected) - 1; i >= 0; i-- {
		c := selected[i]
		ph := rm.Assign(c.pattern.PlaceholderPrefix, c.literal)
		out = out[:c.start] + ph + out[c.end:]
		matches[i] = models.Match{
			PatternID:   c.pattern.ID,
			Start:       c.start,
			End:         c.end,
			Literal:     c.literal,
			Placeholder: ph,
		}
	}
	return out, matches
}

func countUniqueRunes(s string) int {
	seen := make(map[rune]struct{})
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}

func max0(i int) int {
	if i < 0 {
		return 0
	}
	return i
}

func minLen(i, n int) int {
	if i > n {
		return n
	}
	return i
}

func sBytes(s string) []byte { return []byte(s) }

// clipUTF8BoundaryForward moves i forward, if needed, so it does not
// split a multi-byte rune (used for the trailing edge of a context
// window, where clipping must not shrink past a rune start).
func clipUTF8BoundaryForward(b []byte, i int) int {
	if i <= 0 || i >= len(b) {
		return i
	}
	for i < len(b) && !utf8.RuneStart(b[i]) {
		i++
	}
	return i
}
