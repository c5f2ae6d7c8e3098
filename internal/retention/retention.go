// Package retention removes and archives aged raw-zone partitions.
package retention

import (
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/data-lagoon/lagoon/internal/lake"
)

// Manager runs retention passes against one lake.
type Manager struct {
	lake *lake.Manager
	log  zerolog.Logger
}

func New(lk *lake.Manager, log zerolog.Logger) *Manager {
	return &Manager{lake: lk, log: log}
}

// CleanupResult summarizes one cleanup run, serialized with the report keys
// downstream consumers read.
type CleanupResult struct {
	FilesRemoved int     `json:"arquivos_removidos"`
	FreedMB      float64 `json:"tamanho_liberado_mb"`
	CutoffDate   string  `json:"data_corte"`
	BytesFreed   int64   `json:"-"`
}

// Cleanup deletes raw-zone day partitions whose date is strictly before
// today minus retentionDays. Partitions dated exactly at the cutoff stay.
// Directories with unparseable date segments are never touched. days <= 0
// disables the pass. On a delete failure the counts so far are returned with
// the error.
func (m *Manager) Cleanup(retentionDays int) (*CleanupResult, error) {
	res := &CleanupResult{}
	if retentionDays <= 0 {
		return res, nil
	}
	cutoff := today().AddDate(0, 0, -retentionDays)
	res.CutoffDate = cutoff.Format("2006-01-02")

	doomed, err := m.expired(cutoff)
	if err != nil {
		return res, err
	}

	for _, p := range doomed {
		files, bytes, err := dirUsage(p.Dir)
		if err != nil {
			return res, err
		}
		if err := os.RemoveAll(p.Dir); err != nil {
			return res, &lake.StorageError{Op: "cleanup", Path: p.Dir, Err: err}
		}
		res.FilesRemoved += files
		res.BytesFreed += bytes
		m.log.Info().
			Str("endpoint", p.Endpoint).
			Str("date", p.Date.Format("2006-01-02")).
			Int("files", files).
			Msg("partition removed")
	}
	res.FreedMB = mb(res.BytesFreed)

	m.log.Info().
		Str("cutoff", res.CutoffDate).
		Int("files_removed", res.FilesRemoved).
		Float64("freed_mb", res.FreedMB).
		Msg("cleanup complete")
	return res, nil
}

// ArchiveResult summarizes one archive run.
type ArchiveResult struct {
	PartitionsMoved int     `json:"particoes_arquivadas"`
	FilesCompressed int     `json:"arquivos_comprimidos"`
	SizeBeforeMB    float64 `json:"tamanho_original_mb"`
	SizeAfterMB     float64 `json:"tamanho_comprimido_mb"`
	CutoffDate      string  `json:"data_corte"`

	bytesBefore int64
	bytesAfter  int64
}

// Archive moves raw-zone day partitions older than olderThanDays into the
// archive zone, zstd-compressing every file and mirroring the partition
// path. The raw partition is removed only after all of its files are
// archived. days <= 0 disables the pass.
func (m *Manager) Archive(olderThanDays int) (*ArchiveResult, error) {
	res := &ArchiveResult{}
	if olderThanDays <= 0 {
		return res, nil
	}
	cutoff := today().AddDate(0, 0, -olderThanDays)
	res.CutoffDate = cutoff.Format("2006-01-02")

	doomed, err := m.expired(cutoff)
	if err != nil {
		return res, err
	}
	if len(doomed) == 0 {
		return res, nil
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return res, err
	}
	defer enc.Close()

	rawRoot := m.lake.ZoneDir(lake.ZoneRaw)
	archiveRoot := m.lake.ZoneDir(lake.ZoneArchive)

	for _, p := range doomed {
		rel, err := filepath.Rel(rawRoot, p.Dir)
		if err != nil {
			return res, &lake.StorageError{Op: "archive", Path: p.Dir, Err: err}
		}
		destDir := filepath.Join(archiveRoot, rel)

		files, before, after, err := compressTree(enc, p.Dir, destDir)
		if err != nil {
			return res, err
		}
		if err := os.RemoveAll(p.Dir); err != nil {
			return res, &lake.StorageError{Op: "archive", Path: p.Dir, Err: err}
		}
		res.PartitionsMoved++
		res.FilesCompressed += files
		res.bytesBefore += before
		res.bytesAfter += after
		m.log.Info().
			Str("endpoint", p.Endpoint).
			Str("date", p.Date.Format("2006-01-02")).
			Int("files", files).
			Msg("partition archived")
	}
	res.SizeBeforeMB = mb(res.bytesBefore)
	res.SizeAfterMB = mb(res.bytesAfter)
	return res, nil
}

// expired collects well-formed raw day partitions dated strictly before
// cutoff. Unparseable date chains are logged and left alone.
func (m *Manager) expired(cutoff time.Time) ([]lake.DayPartition, error) {
	var out []lake.DayPartition
	err := m.lake.WalkDayPartitions(lake.ZoneRaw, "", func(p lake.DayPartition, perr error) error {
		if perr != nil {
			m.log.Warn().Err(perr).Msg("skipping partition with invalid date")
			return nil
		}
		if p.Date.Before(cutoff) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// compressTree writes a .zst copy of every file under src into dest, keeping
// the relative layout. Returns file count and byte sizes before and after.
func compressTree(enc *zstd.Encoder, src, dest string) (files int, before, after int64, err error) {
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		packed := enc.EncodeAll(data, nil)
		outPath := filepath.Join(dest, rel+".zst")
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(outPath, packed, 0o644); err != nil {
			return err
		}
		files++
		before += int64(len(data))
		after += int64(len(packed))
		return nil
	})
	if err != nil {
		return 0, 0, 0, &lake.StorageError{Op: "archive", Path: src, Err: err}
	}
	return files, before, after, nil
}

func dirUsage(dir string) (files int, bytes int64, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, &lake.StorageError{Op: "cleanup", Path: dir, Err: err}
	}
	return files, bytes, nil
}

// today is the local calendar date at UTC midnight, the same frame partition
// dates parse into, so Before() compares dates rather than instants.
func today() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func mb(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
