package objstore

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Object wire format: 4-byte big-endian header length | header JSON | body.
// The body is the zstd-compressed file content, optionally encrypted with a
// per-object key wrapped by the master key. The header JSON is the AEAD
// associated data, so a tampered header fails decryption.

const (
	Magic   = "LAGOBJ"
	Version = 1

	TypeFile     = "file"
	TypeManifest = "manifest"
)

// Header is the unencrypted routing prefix of every replicated object.
type Header struct {
	Magic      string    `json:"magic"`
	Version    int       `json:"version"`
	ObjectType string    `json:"object_type"`
	LakeID     string    `json:"lake_id"`
	CreatedAt  time.Time `json:"created_at"`
	Crypto     CryptoEnv `json:"crypto"`

	// file objects
	Path         string `json:"path,omitempty"`
	ContentHash  string `json:"content_hash,omitempty"`
	ByteLenPlain int    `json:"byte_len_plain,omitempty"`
	Compression  string `json:"compression,omitempty"`

	// manifest objects
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// CryptoEnv is the per-object envelope. Empty when the object is plaintext.
type CryptoEnv struct {
	NonceHex   string `json:"nonce"`
	WrappedKey string `json:"wrapped_key"`
}

// Encode frames plaintext into a replication object. The body is always
// zstd-compressed; when master is non-nil it is also sealed under a fresh
// per-object key. h.Crypto and h.Compression are set here.
func Encode(h *Header, plaintext []byte, master []byte) ([]byte, error) {
	h.Magic = Magic
	h.Version = Version
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	h.ByteLenPlain = len(plaintext)
	h.Compression = "zstd"

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	body := enc.EncodeAll(plaintext, nil)
	enc.Close()

	if master == nil {
		h.Crypto = CryptoEnv{}
		headerBytes, err := json.Marshal(h)
		if err != nil {
			return nil, err
		}
		return frame(headerBytes, body), nil
	}

	if len(master) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes", KeySize)
	}
	objKey := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, objKey); err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	wrapped, err := WrapKey(master, objKey)
	if err != nil {
		return nil, err
	}
	h.Crypto = CryptoEnv{
		NonceHex:   hex.EncodeToString(nonce),
		WrappedKey: hex.EncodeToString(wrapped),
	}
	headerBytes, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	sealed, err := SealWithKey(objKey, nonce, body, headerBytes)
	if err != nil {
		return nil, err
	}
	return frame(headerBytes, sealed), nil
}

func frame(header, body []byte) []byte {
	buf := make([]byte, 4, 4+len(header)+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(header)))
	buf = append(buf, header...)
	return append(buf, body...)
}

// DecodeHeader parses an object's framing and returns the header and raw
// body. It does not decrypt or decompress.
func DecodeHeader(raw []byte) (*Header, []byte, error) {
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("object too short")
	}
	headerLen := binary.BigEndian.Uint32(raw[:4])
	if headerLen > 1024*1024 {
		return nil, nil, fmt.Errorf("header too long")
	}
	if len(raw) < 4+int(headerLen) {
		return nil, nil, fmt.Errorf("truncated object")
	}
	headerBytes := raw[4 : 4+headerLen]
	body := raw[4+headerLen:]

	var h Header
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, nil, fmt.Errorf("parse header: %w", err)
	}
	if h.Magic != Magic || h.Version != Version {
		return nil, nil, fmt.Errorf("invalid magic/version")
	}
	return &h, body, nil
}

// Decode recovers the original plaintext from a replication object. master
// is required for encrypted objects and ignored for plaintext ones.
func Decode(raw []byte, master []byte) (*Header, []byte, error) {
	h, body, err := DecodeHeader(raw)
	if err != nil {
		return nil, nil, err
	}

	if h.Crypto.NonceHex != "" || h.Crypto.WrappedKey != "" {
		if master == nil {
			return nil, nil, fmt.Errorf("object is encrypted and no key was provided")
		}
		// the AAD must be the exact header bytes from the frame, not a re-marshal
		headerLen := binary.BigEndian.Uint32(raw[:4])
		headerBytes := raw[4 : 4+headerLen]
		nonce, err := hex.DecodeString(h.Crypto.NonceHex)
		if err != nil {
			return nil, nil, fmt.Errorf("nonce: %w", err)
		}
		wrapped, err := hex.DecodeString(h.Crypto.WrappedKey)
		if err != nil {
			return nil, nil, fmt.Errorf("wrapped key: %w", err)
		}
		body, err = OpenWithWrappedKey(master, nonce, body, wrapped, headerBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt object: %w", err)
		}
	}

	if h.Compression == "zstd" {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, nil, err
		}
		defer dec.Close()
		plain, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress object: %w", err)
		}
		body = plain
	}
	return h, body, nil
}
