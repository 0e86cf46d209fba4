package dlp

import (
	"regexp"

	"github.com/greyhawk/ocular/pkg/models"
)

// CompiledPattern is a Pattern with its positive and negative matchers
// already compiled, ready to run against request text.
type CompiledPattern struct {
	models.Pattern
	positive  *regexp.Regexp
	negatives []*regexp.Regexp
}

// compilePattern turns a models.Pattern into a CompiledPattern, applying
// keyword-vs-regex compilation rules: a keyword body is escaped and
// matched case-insensitively; a regex body is used as-is (case-sensitive
// unless it embeds its own flags).
func compilePattern(p models.Pattern) (*CompiledPattern, error) {
	p.Defaults()

	pos, err := compileBody(p.Body, p.Kind)
	if err != nil {
		return nil, &models.PatternSyntaxError{Pattern: p.Body, Err: err}
	}

	negKind := p.NegativeKind
	if negKind == "" {
		negKind = models.KindRegex
	}
	negs := make([]*regexp.Regexp, 0, len(p.Negatives))
	for _, n := range p.Negatives {
		re, err := compileBody(n, negKind)
		if err != nil {
			return nil, &models.PatternSyntaxError{Pattern: n, Err: err}
		}
		negs = append(negs, re)
	}

	return &CompiledPattern{Pattern: p, positive: pos, negatives: negs}, nil
}

func compileBody(body string, kind models.PatternKind) (*regexp.Regexp, error) {
	switch kind {
	case models.KindKeyword:
		return safeCompile("(?i)" + regexp.QuoteMeta(body))
	default:
		return safeCompile(body)
	}
}
