package trigger

import (
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ReadFrom returns the bytes of path in [offset, EOF) using a fresh handle.
func ReadFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

func isNewline(r rune) bool {
	switch r {
	case '\n', '\r', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

// ParseIDs extracts the positive integers found one per line in text, in order.
// Lines that are blank, non-numeric or not strictly positive are skipped.
func ParseIDs(text string) []int {
	var ids []int
	for _, line := range strings.FieldsFunc(text, isNewline) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseInt(line, 10, 32)
		if err != nil || v <= 0 {
			continue
		}
		ids = append(ids, int(v))
	}
	return ids
}

// splitComplete separates text into the part ending at the last newline and
// the unterminated remainder.
func splitComplete(text string) (complete, rest string) {
	i := strings.LastIndexFunc(text, isNewline)
	if i < 0 {
		return "", text
	}
	_, size := utf8.DecodeRuneInString(text[i:])
	return text[:i+size], text[i+size:]
}
