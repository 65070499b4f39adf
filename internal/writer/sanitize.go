package writer

import (
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
)

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// traceIDStringLen is the fixed width of GetTraceID's output: 64^11
// comfortably covers every non-negative int64.
const traceIDStringLen = 11

// GetTraceID renders traceID as an 11-character base64 string, most
// significant digit first, zero-padded. Negative IDs are rejected.
func GetTraceID(traceID int64) (string, error) {
	if traceID < 0 {
		return "", errors.Newf("writer: trace id %d must be non-negative", traceID)
	}
	var buf [traceIDStringLen]byte
	n := traceID
	for i := traceIDStringLen - 1; i >= 0; i-- {
		buf[i] = base64Alphabet[n%64]
		n /= 64
	}
	return string(buf[:]), nil
}

// Sanitize replaces any character outside [A-Za-z0-9._-] with '_'.
// Sanitize is idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	out := []byte(s)
	for i, ch := range out {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// buildFilename computes "<prefix>-<pid>-<YYYY-M-D>T<H-M-S>-<id>.tmp"
// from local time, with no zero-padding on any numeric field.
func buildFilename(prefix, traceIDString string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%d-%d-%dT%d-%d-%d-%s.tmp",
		prefix, os.Getpid(),
		now.Year(), int(now.Month()), now.Day(),
		now.Hour(), now.Minute(), now.Second(),
		traceIDString,
	)
}
