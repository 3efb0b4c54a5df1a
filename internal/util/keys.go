package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// EntryKey returns the storage key for a source URL: the prefix plus a short
// digest of the URL. URLs routinely exceed backend key-size sweet spots
// (query-string heavy CDN links), so the digest keeps keys small and uniform.
func EntryKey(prefix, url string) string {
	sum := sha256.Sum256([]byte(url))
	return prefix + ":" + hex.EncodeToString(sum[:8])
}
