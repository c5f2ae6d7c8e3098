package lake

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/data-lagoon/lagoon/internal/config"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = filepath.Join(t.TempDir(), "lake")
	m, err := New(cfg, opts...)
	require.NoError(t, err)
	return m
}

func samplePayload() Document {
	return Document{
		"guest_check_id": "gc-9911",
		"total":          float64(125.5),
		"itens": []any{
			map[string]any{"sku": "burger", "qtd": float64(2)},
			map[string]any{"sku": "soda", "qtd": float64(1)},
		},
	}
}

func TestNewCreatesZonesAndSeedsPartitions(t *testing.T) {
	m := newTestManager(t)

	require.True(t, filepath.IsAbs(m.BaseDir()))
	for _, z := range Zones() {
		info, err := os.Stat(m.ZoneDir(z))
		require.NoError(t, err, "zone %s", z)
		assert.True(t, info.IsDir())
	}

	today := time.Now()
	for _, ep := range m.Endpoints() {
		for _, z := range []Zone{ZoneRaw, ZoneProcessed} {
			_, err := os.Stat(m.DayDir(z, ep, today))
			assert.NoError(t, err, "seeded partition for %s in %s", ep, z)
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.Endpoints = nil
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.BaseDir = t.TempDir()
	cfg.Endpoints = []string{"../escape"}
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrPathTraversal)
}

func TestStoreWritesRecordAndSidecar(t *testing.T) {
	m := newTestManager(t)
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

	path, err := m.Store("getGuestChecks", samplePayload(), day, "store_001", nil)
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(path))

	wantDir := m.PartitionDir(ZoneRaw, "getGuestChecks", day, "store_001")
	assert.Equal(t, wantDir, filepath.Dir(path))

	name := filepath.Base(path)
	assert.Regexp(t, regexp.MustCompile(`^getGuestChecks_store_001_\d{8}_\d{6}_[0-9a-f]{8}\.json$`), name)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(b, &rec))
	assert.Equal(t, "getGuestChecks", rec.Envelope.Endpoint)
	assert.Equal(t, "store_001", rec.Envelope.StoreID)
	assert.Equal(t, "1.0", rec.Envelope.SchemaVersion)
	assert.True(t, rec.Envelope.BusinessDate.Equal(day))
	assert.Equal(t, samplePayload(), rec.Payload)

	digest, size, err := hashDocument(samplePayload())
	require.NoError(t, err)
	assert.Equal(t, digest, rec.Envelope.ContentHash)
	assert.Equal(t, size, rec.Envelope.SizeBytes)

	// sidecar lands in the metadata zone and points back at the record
	scPath := filepath.Join(m.ZoneDir(ZoneMetadata), "getGuestChecks", "meta_"+name)
	sb, err := os.ReadFile(scPath)
	require.NoError(t, err)
	var sc Sidecar
	require.NoError(t, json.Unmarshal(sb, &sc))
	assert.Equal(t, path, sc.FilePath)
	assert.Equal(t, name, sc.FileName)
	assert.Equal(t, digest, sc.Envelope.ContentHash)
}

func TestStoreExtraMetadataSitsFlat(t *testing.T) {
	m := newTestManager(t)
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

	path, err := m.Store("getTransactions", samplePayload(), day, "store_002",
		map[string]any{"origem_api": "simulacao", "lote": float64(7)})
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))

	meta, ok := raw["metadados"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "simulacao", meta["origem_api"])
	assert.Equal(t, float64(7), meta["lote"])
	assert.Equal(t, "getTransactions", meta["endpoint"])
	_, hasPayload := raw["dados"]
	assert.True(t, hasPayload)
}

func TestStoreRejectsUnsafeIdentifiers(t *testing.T) {
	m := newTestManager(t)
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

	_, err := m.Store("../../etc", samplePayload(), day, "store_001", nil)
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = m.Store("getGuestChecks", samplePayload(), day, "a/b", nil)
	assert.ErrorIs(t, err, ErrPathTraversal)

	_, err = m.Store("", samplePayload(), day, "store_001", nil)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)

	_, err = m.Store("getGuestChecks", samplePayload(), time.Time{}, "store_001", nil)
	assert.Error(t, err)

	_, err = m.Store("getGuestChecks", nil, day, "store_001", nil)
	var serr *SerializationError
	assert.ErrorAs(t, err, &serr)
}

func TestStoreQueryRoundTrip(t *testing.T) {
	m := newTestManager(t)
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

	path, err := m.Store("getGuestChecks", samplePayload(), day, "store_001", nil)
	require.NoError(t, err)

	recs, rep, err := m.Query("getGuestChecks", day, day, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, rep.Loaded)
	assert.Equal(t, 0, rep.Skipped)
	assert.Equal(t, path, recs[0].SourcePath)
	assert.Equal(t, samplePayload(), recs[0].Payload)
}

func TestQueryDateWindow(t *testing.T) {
	m := newTestManager(t)
	for d := 10; d <= 12; d++ {
		day := time.Date(2025, 8, d, 0, 0, 0, 0, time.UTC)
		_, err := m.Store("getGuestChecks", samplePayload(), day, "store_001", nil)
		require.NoError(t, err)
	}

	recs, rep, err := m.Query("getGuestChecks",
		time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 8, 12, 23, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 2, rep.Attempted)
	for _, r := range recs {
		assert.False(t, r.Envelope.BusinessDate.Before(time.Date(2025, 8, 11, 0, 0, 0, 0, time.UTC)))
	}
}

func TestQueryStoreFilter(t *testing.T) {
	m := newTestManager(t)
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

	_, err := m.Store("getGuestChecks", samplePayload(), day, "store_001", nil)
	require.NoError(t, err)
	_, err = m.Store("getGuestChecks", samplePayload(), day, "store_002", nil)
	require.NoError(t, err)

	recs, _, err := m.Query("getGuestChecks", day, day, "store_002")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "store_002", recs[0].Envelope.StoreID)

	all, _, err := m.Query("getGuestChecks", day, day, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQueryInvertedRangeIsEmpty(t *testing.T) {
	m := newTestManager(t)
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	_, err := m.Store("getGuestChecks", samplePayload(), day, "store_001", nil)
	require.NoError(t, err)

	recs, rep, err := m.Query("getGuestChecks", day.AddDate(0, 0, 5), day, "")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, rep.Attempted)
}

func TestQueryMissingPartitionsIsEmpty(t *testing.T) {
	m := newTestManager(t)
	recs, rep, err := m.Query("getGuestChecks",
		time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1999, 1, 3, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, rep.Attempted)
}

func TestQuerySkipsCorruptRecords(t *testing.T) {
	m := newTestManager(t)
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

	_, err := m.Store("getGuestChecks", samplePayload(), day, "store_001", nil)
	require.NoError(t, err)

	dir := m.PartitionDir(ZoneRaw, "getGuestChecks", day, "store_001")
	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0o644))

	recs, rep, err := m.Query("getGuestChecks", day, day, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, rep.Attempted)
	assert.Equal(t, 1, rep.Skipped)
	require.Len(t, rep.SkippedPaths, 1)
	assert.Equal(t, broken, rep.SkippedPaths[0])
}

func TestConcurrentStoresGetUniquePaths(t *testing.T) {
	m := newTestManager(t)
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

	const n = 20
	paths := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := m.Store("getGuestChecks", samplePayload(), day, "store_001", nil)
			if err != nil {
				t.Error(err)
				return
			}
			paths <- p
		}()
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]struct{}, n)
	for p := range paths {
		_, dup := seen[p]
		assert.False(t, dup, "duplicate path %s", p)
		seen[p] = struct{}{}
	}
	require.Len(t, seen, n)

	recs, rep, err := m.Query("getGuestChecks", day, day, "")
	require.NoError(t, err)
	assert.Len(t, recs, n)
	assert.Zero(t, rep.Skipped)
}

func TestStatistics(t *testing.T) {
	m := newTestManager(t)

	d1 := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC)
	_, err := m.Store("getGuestChecks", samplePayload(), d1, "store_001", nil)
	require.NoError(t, err)
	_, err = m.Store("getGuestChecks", samplePayload(), d2, "store_002", nil)
	require.NoError(t, err)

	// a malformed partition with a stray file: counted by the zone total,
	// excluded from the endpoint breakdown
	badDir := filepath.Join(m.ZoneDir(ZoneRaw), "getTransactions", "year=2025", "month=02", "day=30")
	require.NoError(t, os.MkdirAll(badDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badDir, "stray.json"), []byte("{}"), 0o644))

	rep, err := m.Statistics()
	require.NoError(t, err)

	assert.Len(t, rep.ZoneLayout, 6)
	assert.Equal(t, 3, rep.ZoneLayout["raw"].TotalFiles)
	assert.Equal(t, 2, rep.ZoneLayout["metadata"].TotalFiles)
	assert.Equal(t, 5, rep.TotalFiles)
	assert.Greater(t, rep.TotalSizeMB, 0.0)

	gc := rep.Endpoints["getGuestChecks"]
	assert.Equal(t, 2, gc.TotalFiles)
	assert.Equal(t, []string{"store_001", "store_002"}, gc.UniqueStores)
	assert.Contains(t, gc.AvailableDates, "2025-08-10")
	assert.Contains(t, gc.AvailableDates, "2025-08-12")

	tx := rep.Endpoints["getTransactions"]
	assert.Zero(t, tx.TotalFiles)

	assert.Equal(t, "2025-08-10", rep.Period.Oldest)
	// seeded current-date partitions push the newest date to today
	assert.Equal(t, time.Now().Format("2006-01-02"), rep.Period.Newest)
}

func TestSchemaRegisterAndList(t *testing.T) {
	m := newTestManager(t)

	schema := Document{"type": "object", "required": []any{"guest_check_id"}}
	path, err := m.RegisterSchema("getGuestChecks", "v1.0", schema)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = m.RegisterSchema("getGuestChecks", "../v2", schema)
	assert.ErrorIs(t, err, ErrPathTraversal)

	versions, err := m.SchemaVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.0"}, versions["getGuestChecks"])
	_, present := versions["getTransactions"]
	assert.False(t, present)
}

type captureIndexer struct {
	mu   sync.Mutex
	seen []Sidecar
}

func (c *captureIndexer) Index(sc Sidecar) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, sc)
	return nil
}

func TestStoreFeedsIndexer(t *testing.T) {
	ix := &captureIndexer{}
	m := newTestManager(t, WithIndexer(ix))
	day := time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC)

	path, err := m.Store("getGuestChecks", samplePayload(), day, "store_001", nil)
	require.NoError(t, err)

	require.Len(t, ix.seen, 1)
	assert.Equal(t, path, ix.seen[0].FilePath)
	assert.Equal(t, "getGuestChecks", ix.seen[0].Envelope.Endpoint)
}
