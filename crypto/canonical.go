package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"trustcore/errkit"
)

// CanonicalEncode produces a deterministic byte string for v: fixed field
// order (Go's encoding/json marshals struct fields in declaration order and
// map keys in sorted order), no insignificant whitespace, and no HTML
// escaping so the bytes are stable across encode/decode round-trips.
func CanonicalEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errkit.Wrap(errkit.InvalidInput, "canonical encode", err)
	}
	// json.Encoder.Encode appends a trailing newline; trim it so the
	// canonical form carries no insignificant whitespace.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ContentHash returns the SHA-256 digest of b.
func ContentHash(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// ContentHashHex is ContentHash rendered as lowercase hex, the form used in
// content-addressed IDs throughout the core.
func ContentHashHex(b []byte) string {
	sum := ContentHash(b)
	return hex.EncodeToString(sum[:])
}

// HashOf canonically encodes v and returns the hex content hash, the
// composite operation every content-addressed ID in the core is built
// from (policy entity ids, LCT ids, provenance hashes).
func HashOf(v any) (string, error) {
	enc, err := CanonicalEncode(v)
	if err != nil {
		return "", err
	}
	return ContentHashHex(enc), nil
}
