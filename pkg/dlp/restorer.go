package dlp

import (
	"strings"
	"unicode/utf8"

	"github.com/greyhawk/ocular/pkg/models"
)

// Restorer replaces placeholders with their original literals across a
// stream of chunks, without ever emitting a partial placeholder that
// might still be completed by the next chunk.
type Restorer struct {
	rm     *models.RedactionMap
	maxLen int
	buf    []byte
}

// NewRestorer builds a streaming restorer for rm. If rm has no entries,
// callers should skip the restorer entirely and pipe bytes through.
func NewRestorer(rm *models.RedactionMap) *Restorer {
	return &Restorer{rm: rm, maxLen: rm.MaxPlaceholderLen()}
}

// Write appends chunk and returns the bytes now safe to emit. Bytes
// within maxLen of the buffer's end are always withheld, since they
// could be the prefix of a placeholder not yet fully received.
func (r *Restorer) Write(chunk []byte) []byte {
	r.buf = append(r.buf, chunk...)
	r.applyReplacements()

	if len(r.buf) <= r.maxLen {
		return nil
	}
	emitLen := clipUTF8Boundary(r.buf, len(r.buf)-r.maxLen)
	out := r.buf[:emitLen:emitLen]
	r.buf = append([]byte(nil), r.buf[emitLen:]...)
	return out
}

// Flush returns any remaining buffered bytes at end of stream.
func (r *Restorer) Flush() []byte {
	r.applyReplacements()
	out := r.buf
	r.buf = nil
	return out
}

func (r *Restorer) applyReplacements() {
	if r.rm.Empty() {
		return
	}
	s := string(r.buf)
	for _, ph := range r.rm.Placeholders() {
		if lit, ok := r.rm.Literal(ph); ok {
			s = strings.ReplaceAll(s, ph, lit)
		}
	}
	r.buf = []byte(s)
}

// clipUTF8Boundary moves i backward, if needed, so it does not split a
// multi-byte rune.
func clipUTF8Boundary(b []byte, i int) int {
	if i <= 0 || i >= len(b) {
		return i
	}
	for i > 0 && !utf8.RuneStart(b[i]) {
		i--
	}
	return i
}
