package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// maxPlainKey is the longest request identity stored verbatim; longer ones are hashed.
const maxPlainKey = 512

// RequestKey returns the identity of a request: "<METHOD> <url>" plus a short
// body digest when a body is present, so distinct submissions never collide.
func RequestKey(method, rawURL string, body []byte) string {
	var b strings.Builder
	b.Grow(len(method) + 1 + len(rawURL) + 18)
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(rawURL)
	if len(body) > 0 {
		sum := sha256.Sum256(body)
		b.WriteString(" #")
		b.WriteString(hex.EncodeToString(sum[:8]))
	}
	return b.String()
}

// StorageKey joins a prefix and a request identity into a provider key.
// Long identities are replaced by a hash prefix to keep provider keys bounded.
func StorageKey(prefix, requestKey string) string {
	if len(requestKey) <= maxPlainKey {
		return prefix + ":" + requestKey
	}
	sum := sha256.Sum256([]byte(requestKey))
	return prefix + ":h:" + hex.EncodeToString(sum[:16])
}
