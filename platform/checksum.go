package platform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Checksum computes a deterministic hex-encoded SHA-256 digest of blob.
//
// Determinism relies on encoding/json's documented behavior of sorting
// map[string]interface{} keys lexically when marshaling, and on json.Marshal
// never emitting insignificant whitespace. That gives a canonical
// serialization (sorted keys, UTF-8, no padding) without hand-rolling a
// key-sort pass, resolving the "hashed string checksums" ambiguity the
// source implementation left underspecified.
func Checksum(blob map[string]interface{}) (string, error) {
	if blob == nil {
		blob = map[string]interface{}{}
	}
	canonical, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
