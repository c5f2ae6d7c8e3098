// Package backup produces local snapshots of the lake tree and replicates
// them to an object store.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/data-lagoon/lagoon/internal/lake"
	"github.com/data-lagoon/lagoon/internal/objstore"
)

// Manager runs backups of one lake.
type Manager struct {
	lake *lake.Manager
	log  zerolog.Logger
}

func New(lk *lake.Manager, log zerolog.Logger) *Manager {
	return &Manager{lake: lk, log: log}
}

// SnapshotInfo is the metadados_backup.json written inside each snapshot.
type SnapshotInfo struct {
	Timestamp  time.Time         `json:"timestamp_backup"`
	SourcePath string            `json:"caminho_original"`
	BackupPath string            `json:"caminho_backup"`
	Stats      *lake.StatsReport `json:"estatisticas"`
}

// Snapshot copies the entire lake tree into a timestamped directory under
// destRoot and writes a metadados_backup.json manifest with fresh statistics
// beside the copy. Returns the snapshot directory.
func (m *Manager) Snapshot(destRoot string) (string, error) {
	destRoot, err := filepath.Abs(destRoot)
	if err != nil {
		return "", &lake.StorageError{Op: "backup", Path: destRoot, Err: err}
	}
	name := "backup_data_lake_" + time.Now().Format("20060102_150405")
	dest := filepath.Join(destRoot, name)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", &lake.StorageError{Op: "backup", Path: dest, Err: err}
	}

	base := m.lake.BaseDir()
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		// never recurse into the snapshot itself when it nests under the lake
		if d.IsDir() && strings.HasPrefix(path, destRoot) {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
	if err != nil {
		return "", &lake.StorageError{Op: "backup", Path: base, Err: err}
	}

	stats, err := m.lake.Statistics()
	if err != nil {
		return "", err
	}
	info := SnapshotInfo{
		Timestamp:  time.Now().UTC(),
		SourcePath: base,
		BackupPath: dest,
		Stats:      stats,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dest, "metadados_backup.json"), data, 0o644); err != nil {
		return "", &lake.StorageError{Op: "backup", Path: dest, Err: err}
	}

	m.log.Info().Str("dest", dest).Int("files", stats.TotalFiles).Msg("snapshot complete")
	return dest, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ReplicateResult summarizes one replication run.
type ReplicateResult struct {
	SnapshotID    string
	FilesUploaded int
	FilesSkipped  int
	BytesUploaded int64
}

// Replicate uploads the lake's .json files to the object store under lakeID,
// then publishes a snapshot manifest. Keys already present are skipped, so
// repeated runs only ship new records. The temp zone and non-JSON files
// (such as the catalog database, which is rebuildable) are not replicated.
// master, when non-nil, encrypts every object.
func (m *Manager) Replicate(store objstore.ObjectStore, lakeID string, master []byte) (*ReplicateResult, error) {
	if lakeID == "" {
		return nil, fmt.Errorf("lake id must not be empty")
	}

	existing, err := store.List(objstore.FilePrefix(lakeID))
	if err != nil {
		return nil, fmt.Errorf("list existing objects: %w", err)
	}
	present := make(map[string]struct{}, len(existing))
	for _, k := range existing {
		present[k] = struct{}{}
	}

	snapshotID := fmt.Sprintf("snap_%s_%s", time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
	manifest := NewManifest(lakeID, snapshotID)
	res := &ReplicateResult{SnapshotID: snapshotID}

	base := m.lake.BaseDir()
	tempDir := m.lake.ZoneDir(lake.ZoneTemp)
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() {
			if path == tempDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])
		manifest.AddFile(ManifestFile{Path: rel, ContentHash: digest, ByteLen: int64(len(data))})

		key := objstore.FileKey(lakeID, rel)
		if _, ok := present[key]; ok {
			res.FilesSkipped++
			return nil
		}

		obj, err := objstore.Encode(&objstore.Header{
			ObjectType:  objstore.TypeFile,
			LakeID:      lakeID,
			Path:        rel,
			ContentHash: digest,
		}, data, master)
		if err != nil {
			return err
		}
		if err := store.PutAtomic(key, obj); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		res.FilesUploaded++
		res.BytesUploaded += int64(len(data))
		return nil
	})
	if err != nil {
		return res, err
	}

	body, err := manifest.Encode()
	if err != nil {
		return res, err
	}
	obj, err := objstore.Encode(&objstore.Header{
		ObjectType: objstore.TypeManifest,
		LakeID:     lakeID,
		SnapshotID: snapshotID,
	}, body, master)
	if err != nil {
		return res, err
	}
	if err := store.PutAtomic(objstore.ManifestKey(lakeID, snapshotID), obj); err != nil {
		return res, fmt.Errorf("publish manifest: %w", err)
	}

	m.log.Info().
		Str("snapshot", snapshotID).
		Int("uploaded", res.FilesUploaded).
		Int("skipped", res.FilesSkipped).
		Msg("replication complete")
	return res, nil
}

// Restore downloads a replicated snapshot into destRoot, verifying every
// file's content hash. snapshotID may be empty to restore the most recent
// snapshot. The catalog database is not replicated, so run a catalog rebuild
// afterwards if the restored lake uses one.
func (m *Manager) Restore(store objstore.ObjectStore, lakeID, destRoot, snapshotID string, master []byte) (int, error) {
	manifest, err := m.fetchManifest(store, lakeID, snapshotID, master)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, f := range manifest.Files {
		raw, err := store.Get(objstore.FileKey(lakeID, f.Path))
		if err != nil {
			return restored, fmt.Errorf("fetch %s: %w", f.Path, err)
		}
		hdr, data, err := objstore.Decode(raw, master)
		if err != nil {
			return restored, fmt.Errorf("decode %s: %w", f.Path, err)
		}
		sum := sha256.Sum256(data)
		digest := hex.EncodeToString(sum[:])
		if digest != f.ContentHash || (hdr.ContentHash != "" && digest != hdr.ContentHash) {
			return restored, fmt.Errorf("restore %s: content hash mismatch", f.Path)
		}

		target := filepath.Join(destRoot, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return restored, err
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return restored, err
		}
		restored++
	}

	m.log.Info().
		Str("snapshot", manifest.SnapshotID).
		Int("files", restored).
		Str("dest", destRoot).
		Msg("restore complete")
	return restored, nil
}

func (m *Manager) fetchManifest(store objstore.ObjectStore, lakeID, snapshotID string, master []byte) (*Manifest, error) {
	key := ""
	if snapshotID != "" {
		key = objstore.ManifestKey(lakeID, snapshotID)
	} else {
		keys, err := store.List(objstore.ManifestPrefix(lakeID))
		if err != nil {
			return nil, fmt.Errorf("list manifests: %w", err)
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("no snapshots found for lake %q", lakeID)
		}
		// snapshot ids embed a UTC timestamp, so the lexically last key is
		// the newest snapshot
		sort.Strings(keys)
		key = keys[len(keys)-1]
	}

	raw, err := store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", key, err)
	}
	_, body, err := objstore.Decode(raw, master)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return DecodeManifest(body)
}
