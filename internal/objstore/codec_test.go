package objstore

import (
	"bytes"
	"testing"
)

func TestEncodeDecodePlaintext(t *testing.T) {
	h := &Header{
		ObjectType:  TypeFile,
		LakeID:      "lagoa-prod",
		Path:        "raw/getGuestChecks/year=2025/month=08/day=10/store=s1/r1.json",
		ContentHash: "abc",
	}
	plain := []byte(`{"metadados":{"endpoint":"getGuestChecks"},"dados":{"total":125.5}}`)

	raw, err := Encode(h, plain, nil)
	if err != nil {
		t.Fatal(err)
	}

	h2, body, err := Decode(raw, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h2.ObjectType != TypeFile || h2.Path != h.Path {
		t.Fatalf("header mismatch: %+v", h2)
	}
	if h2.Compression != "zstd" {
		t.Fatalf("expected zstd compression, got %q", h2.Compression)
	}
	if h2.ByteLenPlain != len(plain) {
		t.Fatalf("ByteLenPlain = %d, want %d", h2.ByteLenPlain, len(plain))
	}
	if !bytes.Equal(body, plain) {
		t.Fatalf("body mismatch: %q", body)
	}
}

func TestEncodeDecodeEncrypted(t *testing.T) {
	master := make([]byte, KeySize)
	for i := range master {
		master[i] = byte(i)
	}
	h := &Header{ObjectType: TypeFile, LakeID: "lagoa-prod", Path: "raw/x.json"}
	plain := []byte("confidential sales figures")

	raw, err := Encode(h, plain, master)
	if err != nil {
		t.Fatal(err)
	}

	hdr, sealed, err := DecodeHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Crypto.NonceHex == "" || hdr.Crypto.WrappedKey == "" {
		t.Fatal("expected crypto envelope in header")
	}
	if bytes.Contains(sealed, []byte("confidential")) {
		t.Fatal("ciphertext leaks plaintext")
	}

	_, body, err := Decode(raw, master)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, plain) {
		t.Fatalf("round trip mismatch: %q", body)
	}
}

func TestDecodeEncryptedNeedsKey(t *testing.T) {
	master := make([]byte, KeySize)
	raw, err := Encode(&Header{ObjectType: TypeFile, LakeID: "l"}, []byte("x"), master)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Decode(raw, nil); err == nil {
		t.Fatal("expected error decoding encrypted object without key")
	}
}

func TestDecodeWrongKeyFails(t *testing.T) {
	master := make([]byte, KeySize)
	for i := range master {
		master[i] = byte(i)
	}
	raw, err := Encode(&Header{ObjectType: TypeFile, LakeID: "l"}, []byte("x"), master)
	if err != nil {
		t.Fatal(err)
	}
	wrong := make([]byte, KeySize)
	if _, _, err := Decode(raw, wrong); err == nil {
		t.Fatal("expected decrypt failure with wrong key")
	}
}

func TestTamperedBodyFails(t *testing.T) {
	master := make([]byte, KeySize)
	for i := range master {
		master[i] = byte(i + 1)
	}
	raw, err := Encode(&Header{ObjectType: TypeFile, LakeID: "l"}, []byte("payload"), master)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xff
	if _, _, err := Decode(raw, master); err == nil {
		t.Fatal("expected decrypt to fail on tampered body")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeHeader([]byte{0x01}); err == nil {
		t.Fatal("short input should fail")
	}
	if _, _, err := DecodeHeader([]byte{0xff, 0xff, 0xff, 0xff, 0x00}); err == nil {
		t.Fatal("oversized header length should fail")
	}
	raw, err := Encode(&Header{ObjectType: TypeFile, LakeID: "l"}, []byte("x"), nil)
	if err != nil {
		t.Fatal(err)
	}
	raw[7] ^= 0xff // corrupt the header JSON
	if _, _, err := DecodeHeader(raw); err == nil {
		t.Fatal("corrupted header should fail")
	}
}

func TestDeriveKeyStable(t *testing.T) {
	k1 := DeriveKey([]byte("hunter2"), []byte("lagoon:prod"))
	k2 := DeriveKey([]byte("hunter2"), []byte("lagoon:prod"))
	if !bytes.Equal(k1, k2) {
		t.Fatal("same passphrase and salt must derive the same key")
	}
	if len(k1) != KeySize {
		t.Fatalf("key size = %d, want %d", len(k1), KeySize)
	}
	k3 := DeriveKey([]byte("hunter2"), []byte("lagoon:staging"))
	if bytes.Equal(k1, k3) {
		t.Fatal("different salts must derive different keys")
	}
}
