package backup

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Manifest describes one replicated snapshot: every lake file uploaded and
// its content hash. It is stored as a manifest object next to the files.
type Manifest struct {
	SnapshotID string         `json:"snapshot_id"`
	LakeID     string         `json:"lake_id"`
	CreatedAt  time.Time      `json:"created_at"`
	Files      []ManifestFile `json:"files"`
}

// ManifestFile is one replicated lake file, addressed by its path relative
// to the lake base.
type ManifestFile struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	ByteLen     int64  `json:"byte_len"`
}

func NewManifest(lakeID, snapshotID string) *Manifest {
	return &Manifest{
		SnapshotID: snapshotID,
		LakeID:     lakeID,
		CreatedAt:  time.Now().UTC(),
	}
}

// AddFile records one uploaded file. Duplicate paths keep the first entry.
func (m *Manifest) AddFile(f ManifestFile) {
	for _, existing := range m.Files {
		if existing.Path == f.Path {
			return
		}
	}
	m.Files = append(m.Files, f)
}

// Encode serializes the manifest with files sorted by path.
func (m *Manifest) Encode() ([]byte, error) {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	return json.MarshalIndent(m, "", "  ")
}

// DecodeManifest parses a manifest body.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.SnapshotID == "" {
		return nil, fmt.Errorf("manifest has no snapshot id")
	}
	return &m, nil
}
