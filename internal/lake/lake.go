// Package lake manages a partitioned JSON data lake for restaurant POS API
// payloads. The tree is hive-style: zone/endpoint/year=/month=/day=/store=.
package lake

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/data-lagoon/lagoon/internal/config"
)

// Indexer receives the sidecar of every stored record. Indexing is best
// effort: failures are logged, never surfaced to the caller of Store.
type Indexer interface {
	Index(sc Sidecar) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithIndexer attaches a metadata indexer that is fed on every store.
func WithIndexer(ix Indexer) Option {
	return func(m *Manager) { m.indexer = ix }
}

// Manager owns one lake tree. Safe for concurrent use: all state is immutable
// after New, and writes go through atomic rename.
type Manager struct {
	cfg      *config.Config
	log      zerolog.Logger
	base     string
	zoneDirs map[Zone]string
	indexer  Indexer
}

func zoneDirNames(z config.ZoneNames) map[Zone]string {
	return map[Zone]string{
		ZoneRaw:       z.Raw,
		ZoneProcessed: z.Processed,
		ZoneSchemas:   z.Schemas,
		ZoneMetadata:  z.Metadata,
		ZoneArchive:   z.Archive,
		ZoneTemp:      z.Temp,
	}
}

// New validates cfg, creates the six zone directories and seeds current-date
// partitions for every configured endpoint. A nil cfg uses config.Default().
// Zone creation failure is fatal; partition seeding is not.
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, ep := range cfg.Endpoints {
		if err := ValidateEndpoint(ep); err != nil {
			return nil, fmt.Errorf("config endpoint: %w", err)
		}
	}
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, &StorageError{Op: "resolve base dir", Path: cfg.BaseDir, Err: err}
	}

	m := &Manager{
		cfg:      cfg,
		log:      zerolog.Nop(),
		base:     base,
		zoneDirs: make(map[Zone]string, 6),
	}
	for z, name := range zoneDirNames(cfg.Zones) {
		m.zoneDirs[z] = filepath.Join(base, name)
	}
	for _, o := range opts {
		o(m)
	}

	for _, z := range Zones() {
		if err := os.MkdirAll(m.zoneDirs[z], 0o755); err != nil {
			return nil, &StorageError{Op: "create zone", Path: m.zoneDirs[z], Err: err}
		}
	}
	m.seedPartitions()

	m.log.Info().
		Str("base", base).
		Int("endpoints", len(cfg.Endpoints)).
		Msg("lake ready")
	return m, nil
}

// seedPartitions creates today's partition chain for each endpoint under the
// raw and processed zones. Ingestion creates partitions on demand anyway, so
// failures only warn.
func (m *Manager) seedPartitions() {
	now := time.Now()
	for _, ep := range m.cfg.Endpoints {
		for _, z := range []Zone{ZoneRaw, ZoneProcessed} {
			dir := m.DayDir(z, ep, now)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				m.log.Warn().Err(err).Str("dir", dir).Msg("seed partition failed")
			}
		}
	}
}

// BaseDir returns the absolute lake root.
func (m *Manager) BaseDir() string { return m.base }

// Endpoints returns a copy of the configured endpoint names.
func (m *Manager) Endpoints() []string {
	return append([]string(nil), m.cfg.Endpoints...)
}
