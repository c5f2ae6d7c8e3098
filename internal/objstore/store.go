// Package objstore provides the replication backends for lake snapshots: a
// local folder store and an S3-compatible store behind one interface, plus
// the framed object codec with optional encryption.
package objstore

import (
	"errors"
	"path"
	"strings"
)

// ObjectStore is the backend contract for replicated lake objects.
type ObjectStore interface {
	List(prefix string) ([]string, error)
	Get(key string) ([]byte, error)
	PutAtomic(key string, data []byte) error
}

// Key layout:
//   lakes/<lake_id>/objects/files/<zone-relative path>.lagobj
//   lakes/<lake_id>/objects/manifests/<snapshot_id>.lagmf
// Writers stage under tmp/ and rename into objects/.

// FileKey returns the object key for one replicated lake file. relPath is
// the file's path relative to the lake base, using forward slashes.
func FileKey(lakeID, relPath string) string {
	return path.Join("lakes", lakeID, "objects", "files", relPath) + ".lagobj"
}

// ManifestKey returns the object key for a snapshot manifest.
func ManifestKey(lakeID, snapshotID string) string {
	return path.Join("lakes", lakeID, "objects", "manifests", snapshotID+".lagmf")
}

// FilePrefix is the listing prefix for all replicated files of a lake.
func FilePrefix(lakeID string) string {
	return path.Join("lakes", lakeID, "objects", "files") + "/"
}

// ManifestPrefix is the listing prefix for all manifests of a lake.
func ManifestPrefix(lakeID string) string {
	return path.Join("lakes", lakeID, "objects", "manifests") + "/"
}

// RelPath recovers the zone-relative lake path from a file object key.
func RelPath(lakeID, key string) (string, bool) {
	prefix := FilePrefix(lakeID)
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".lagobj") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".lagobj"), true
}

// IsObjectKey reports whether key is a published object rather than staging.
func IsObjectKey(key string) bool {
	return strings.Contains(key, "/objects/") && !strings.Contains(key, "/tmp/")
}

var ErrNotFound = errors.New("object not found")
