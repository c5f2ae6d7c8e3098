package lake

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store writes one payload into the raw zone and returns the absolute path of
// the record file. businessDate selects the partition; extra is merged flat
// into the envelope, with extra keys winning on conflict. The sidecar write
// and catalog insert afterwards are best effort and only warn.
func (m *Manager) Store(endpoint string, payload Document, businessDate time.Time, storeID string, extra map[string]any) (string, error) {
	if err := ValidateEndpoint(endpoint); err != nil {
		return "", err
	}
	if err := ValidateStoreID(storeID); err != nil {
		return "", err
	}
	if businessDate.IsZero() {
		return "", fmt.Errorf("business date must be set")
	}
	if payload == nil {
		return "", &SerializationError{Err: errors.New("nil payload")}
	}

	digest, size, err := hashDocument(payload)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	env := Envelope{
		Endpoint:      endpoint,
		BusinessDate:  businessDate,
		StoreID:       storeID,
		IngestedAt:    now,
		SchemaVersion: m.cfg.SchemaVersion,
		ContentHash:   digest,
		SizeBytes:     size,
		Extra:         extra,
	}
	rec := Record{Envelope: env, Payload: payload}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return "", &SerializationError{Err: err}
	}

	dir := m.PartitionDir(ZoneRaw, endpoint, businessDate, storeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &StorageError{Op: "store", Path: dir, Err: err}
	}
	name := recordFileName(endpoint, storeID, now)
	path := filepath.Join(dir, name)
	// records are immutable: a name collision fails instead of replacing
	if _, err := os.Stat(path); err == nil {
		return "", &StorageError{Op: "store", Path: path, Err: os.ErrExist}
	}
	if err := m.writeFileAtomic("store", path, data); err != nil {
		return "", err
	}

	m.log.Info().
		Str("endpoint", endpoint).
		Str("store", storeID).
		Str("file", name).
		Int64("bytes", size).
		Msg("record stored")

	sc := Sidecar{Envelope: env, FilePath: path, FileName: name}
	m.writeSidecar(sc)
	if m.indexer != nil {
		if err := m.indexer.Index(sc); err != nil {
			m.log.Warn().Err(err).Str("file", name).Msg("catalog insert failed")
		}
	}
	return path, nil
}

// recordFileName is <endpoint>_<store>_<UTC timestamp>_<suffix>.json. The
// random suffix keeps records written within the same second apart.
func recordFileName(endpoint, storeID string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.json",
		endpoint, storeID, ts.Format("20060102_150405"), uuid.NewString()[:8])
}

// writeSidecar stores the record's envelope plus location in the metadata
// zone. Losing a sidecar only degrades catalog rebuilds, so failures warn.
func (m *Manager) writeSidecar(sc Sidecar) {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		m.log.Warn().Err(err).Str("file", sc.FileName).Msg("sidecar marshal failed")
		return
	}
	dir := filepath.Join(m.zoneDirs[ZoneMetadata], sc.Envelope.Endpoint)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.log.Warn().Err(err).Str("dir", dir).Msg("sidecar dir failed")
		return
	}
	name := "meta_" + strings.TrimSuffix(sc.FileName, ".json") + ".json"
	if err := m.writeFileAtomic("sidecar", filepath.Join(dir, name), data); err != nil {
		m.log.Warn().Err(err).Str("file", name).Msg("sidecar write failed")
	}
}

// writeFileAtomic stages data in the temp zone, fsyncs and renames it into
// place. Readers in other zones never observe a partial file.
func (m *Manager) writeFileAtomic(op, path string, data []byte) error {
	tmpDir := m.zoneDirs[ZoneTemp]
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return &StorageError{Op: op, Path: tmpDir, Err: err}
	}
	tmp := filepath.Join(tmpDir, stagingName())
	f, err := os.Create(tmp)
	if err != nil {
		return &StorageError{Op: op, Path: tmp, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &StorageError{Op: op, Path: tmp, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &StorageError{Op: op, Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &StorageError{Op: op, Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &StorageError{Op: op, Path: path, Err: err}
	}
	return nil
}

func stagingName() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:]) + ".partial"
}
