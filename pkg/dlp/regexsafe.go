package dlp

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// compileTimeout bounds regex compilation to defend against pathological
// patterns supplied through add_dlp_pattern.
const compileTimeout = 100 * time.Millisecond

// safeCompile compiles pattern with a timeout, returning an error rather
// than hanging the caller on a catastrophic pattern.
func safeCompile(pattern string) (*regexp.Regexp, error) {
	if err := validateComplexity(pattern); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), compileTimeout)
	defer cancel()

	type result struct {
		re  *regexp.Regexp
		err error
	}
	ch := make(chan result, 1)
	go func() {
		re, err := regexp.Compile(pattern)
		ch <- result{re, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.re, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("regex compile timeout after %v (possible ReDoS pattern)", compileTimeout)
	}
}

var (
	nestedQuantifierRe = regexp.MustCompile(`\)[+*?]\s*[+*?]`)
	groupedNestedRe    = regexp.MustCompile(`\([^)]*[+*]\)[+*]`)
)

const maxPatternLength = 1000

// validateComplexity performs cheap heuristic checks for nested
// quantifiers before handing the pattern to regexp.Compile.
func validateComplexity(pattern string) error {
	if len(pattern) > maxPatternLength {
		return fmt.Errorf("pattern exceeds maximum length (%d > %d)", len(pattern), maxPatternLength)
	}
	if nestedQuantifierRe.MatchString(pattern) || groupedNestedRe.MatchString(pattern) {
		return fmt.Errorf("pattern contains potentially dangerous nested quantifiers")
	}
	return nil
}
