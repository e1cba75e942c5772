package interceptor

import (
	"math/rand"
	"strings"
	"sync"
)

// TargetHost is the API host whose requests carry the fingerprint
// header.
var (
	TargetHost     = "api2.cursor.sh"
	ChecksumHeader = "X-Cursor-Checksum"
)

var (
	checksumOnce    sync.Once
	sessionChecksum string
)

func newChecksum() string {
	const hexChars = "0123456789abcdef"
	out := make([]byte, 64)
	for i := range out {
		out[i] = hexChars[rand.Intn(len(hexChars))]
	}
	return string(out)
}

// SessionChecksum returns the replacement checksum, generated exactly
// once per process so the rate limiter sees one stable installation.
func SessionChecksum() string {
	checksumOnce.Do(func() {
		sessionChecksum = newChecksum()
	})
	return sessionChecksum
}

// RewriteChecksum replaces the checksum segment of a "prefix/checksum"
// header value, preserving the prefix. Values without a separator are
// returned unchanged.
func RewriteChecksum(value string) string {
	prefix, _, found := strings.Cut(value, "/")
	if !found {
		return value
	}
	return prefix + "/" + SessionChecksum()
}
