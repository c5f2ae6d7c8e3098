package lake

import (
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ZoneStats is the footprint of one zone directory.
type ZoneStats struct {
	TotalFiles int     `json:"total_arquivos"`
	SizeMB     float64 `json:"tamanho_mb"`
	Path       string  `json:"caminho"`
}

// EndpointStats is the raw-zone breakdown for one endpoint. Counts cover
// record files inside well-formed day partitions.
type EndpointStats struct {
	TotalFiles     int      `json:"total_arquivos"`
	SizeMB         float64  `json:"tamanho_mb"`
	UniqueStores   []string `json:"lojas_unicas"`
	AvailableDates []string `json:"datas_disponiveis"`
}

// PeriodStats is the business-date range present across all endpoints.
// Empty strings when the lake holds no records.
type PeriodStats struct {
	Oldest string `json:"data_mais_antiga"`
	Newest string `json:"data_mais_recente"`
}

// StatsReport is the full usage summary, keyed the way it is serialized.
type StatsReport struct {
	ComputedAt  time.Time                `json:"timestamp_calculo"`
	ZoneLayout  map[string]ZoneStats     `json:"estrutura_pastas"`
	TotalFiles  int                      `json:"total_arquivos"`
	TotalSizeMB float64                  `json:"tamanho_total_mb"`
	Endpoints   map[string]EndpointStats `json:"endpoints"`
	Period      PeriodStats              `json:"periodo_dados"`
}

// Statistics walks the lake and reports per-zone totals, a per-endpoint
// raw-zone breakdown and the overall business-date range. Malformed
// partition directories are skipped with a warning and never counted.
func (m *Manager) Statistics() (*StatsReport, error) {
	rep := &StatsReport{
		ComputedAt: time.Now().UTC(),
		ZoneLayout: make(map[string]ZoneStats, len(m.zoneDirs)),
		Endpoints:  make(map[string]EndpointStats, len(m.cfg.Endpoints)),
	}

	var totalBytes int64
	for _, z := range Zones() {
		dir := m.zoneDirs[z]
		files, bytes, err := countTree(dir, false)
		if err != nil {
			return nil, err
		}
		rep.ZoneLayout[filepath.Base(dir)] = ZoneStats{
			TotalFiles: files,
			SizeMB:     mb(bytes),
			Path:       dir,
		}
		rep.TotalFiles += files
		totalBytes += bytes
	}
	rep.TotalSizeMB = mb(totalBytes)

	var oldest, newest time.Time
	for _, ep := range m.cfg.Endpoints {
		epDir := filepath.Join(m.zoneDirs[ZoneRaw], ep)
		if _, err := os.Stat(epDir); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &StorageError{Op: "statistics", Path: epDir, Err: err}
		}

		var (
			files  int
			bytes  int64
			stores = make(map[string]struct{})
			dates  = make(map[string]struct{})
		)
		err := m.WalkDayPartitions(ZoneRaw, ep, func(p DayPartition, perr error) error {
			if perr != nil {
				m.log.Warn().Err(perr).Msg("skipping malformed partition")
				return nil
			}
			f, b, err := countTree(p.Dir, true)
			if err != nil {
				return err
			}
			files += f
			bytes += b
			dates[p.Date.Format(dateLayout)] = struct{}{}
			if oldest.IsZero() || p.Date.Before(oldest) {
				oldest = p.Date
			}
			if p.Date.After(newest) {
				newest = p.Date
			}
			sd, err := storeSubdirs(p.Dir)
			if err != nil {
				return err
			}
			for _, s := range sd {
				stores[s.name] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		rep.Endpoints[ep] = EndpointStats{
			TotalFiles:     files,
			SizeMB:         mb(bytes),
			UniqueStores:   sortedKeys(stores),
			AvailableDates: sortedKeys(dates),
		}
	}

	if !oldest.IsZero() {
		rep.Period = PeriodStats{
			Oldest: oldest.Format(dateLayout),
			Newest: newest.Format(dateLayout),
		}
	}
	return rep, nil
}

// countTree counts regular files under dir, optionally only .json ones. A
// missing dir counts as empty.
func countTree(dir string, jsonOnly bool) (int, int64, error) {
	var files int
	var bytes int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if jsonOnly && !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, &StorageError{Op: "statistics", Path: dir, Err: err}
	}
	return files, bytes, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mb(bytes int64) float64 {
	return math.Round(float64(bytes)/(1024*1024)*100) / 100
}
