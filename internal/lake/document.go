package lake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Document is one API payload: an arbitrarily nested JSON object. Values are
// the usual encoding/json shapes (nil, bool, float64, string, []any,
// map[string]any).
type Document = map[string]any

// canonicalJSON returns the deterministic serialization of doc. encoding/json
// emits map keys in sorted order, so two structurally equal documents always
// produce the same bytes.
func canonicalJSON(doc Document) ([]byte, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return b, nil
}

// hashDocument returns the hex SHA-256 of the canonical serialization along
// with its byte length. The same document always hashes the same regardless
// of map iteration order.
func hashDocument(doc Document) (digest string, size int64, err error) {
	b, err := canonicalJSON(doc)
	if err != nil {
		return "", 0, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), int64(len(b)), nil
}
