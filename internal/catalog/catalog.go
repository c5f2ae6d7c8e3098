// Package catalog keeps a SQLite index of record envelopes so metadata
// questions (counts, duplicates, store coverage) are answered without
// walking the partition tree. The catalog is derived data: it can be
// rebuilt at any time from the sidecars in the metadata zone.
package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/data-lagoon/lagoon/internal/lake"
)

const dateLayout = "2006-01-02"

// Catalog wraps the SQLite connection. Safe for concurrent use; SQLite
// serializes writers and WAL keeps readers unblocked.
type Catalog struct {
	conn *sql.DB
	log  zerolog.Logger
}

// Open opens (creating if needed) the catalog database at path and runs
// migrations.
func Open(path string, log zerolog.Logger) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if err := conn.Ping(); err != nil {
		if cerr := conn.Close(); cerr != nil {
			return nil, fmt.Errorf("ping catalog: %v (close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("ping catalog: %w", err)
	}

	if err := migrate(conn); err != nil {
		if cerr := conn.Close(); cerr != nil {
			return nil, fmt.Errorf("migrate catalog: %v (close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}

	return &Catalog{conn: conn, log: log}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.conn.Close()
}

func migrate(conn *sql.DB) error {
	_, err := conn.Exec(schema)
	return err
}

// Column names follow the sidecar wire keys so a rebuild is a 1:1 mapping.
const schema = `
CREATE TABLE IF NOT EXISTS records (
    nome_arquivo       TEXT PRIMARY KEY,
    caminho_arquivo    TEXT NOT NULL,
    endpoint           TEXT NOT NULL,
    data_negocio       TEXT NOT NULL,
    id_loja            TEXT NOT NULL,
    timestamp_ingestao TEXT NOT NULL,
    versao_esquema     TEXT NOT NULL DEFAULT '',
    hash_dados         TEXT NOT NULL,
    tamanho_bytes      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_records_endpoint_date ON records(endpoint, data_negocio);
CREATE INDEX IF NOT EXISTS idx_records_hash ON records(hash_dados);
CREATE INDEX IF NOT EXISTS idx_records_store ON records(id_loja);
`

// Index upserts one record envelope. Implements lake.Indexer, so a Catalog
// can be handed to lake.WithIndexer and fed on every successful store.
func (c *Catalog) Index(sc lake.Sidecar) error {
	_, err := c.conn.Exec(`
		INSERT OR REPLACE INTO records
		(nome_arquivo, caminho_arquivo, endpoint, data_negocio, id_loja, timestamp_ingestao, versao_esquema, hash_dados, tamanho_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.FileName,
		sc.FilePath,
		sc.Envelope.Endpoint,
		sc.Envelope.BusinessDate.Format(dateLayout),
		sc.Envelope.StoreID,
		sc.Envelope.IngestedAt.UTC().Format(time.RFC3339),
		sc.Envelope.SchemaVersion,
		sc.Envelope.ContentHash,
		sc.Envelope.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("index record %s: %w", sc.FileName, err)
	}
	return nil
}

// Entry is one cataloged record.
type Entry struct {
	FileName      string
	FilePath      string
	Endpoint      string
	BusinessDate  string
	StoreID       string
	IngestedAt    time.Time
	SchemaVersion string
	ContentHash   string
	SizeBytes     int64
}

// CountByEndpoint returns how many records each endpoint holds.
func (c *Catalog) CountByEndpoint() (map[string]int, error) {
	rows, err := c.conn.Query(`SELECT endpoint, COUNT(*) FROM records GROUP BY endpoint`)
	if err != nil {
		return nil, fmt.Errorf("count by endpoint: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var ep string
		var n int
		if err := rows.Scan(&ep, &n); err != nil {
			return nil, fmt.Errorf("count by endpoint: %w", err)
		}
		counts[ep] = n
	}
	return counts, rows.Err()
}

// FindByHash returns every record whose payload hash matches digest. More
// than one row means the same payload was ingested under different names.
func (c *Catalog) FindByHash(digest string) ([]Entry, error) {
	rows, err := c.conn.Query(selectEntry+` WHERE hash_dados = ? ORDER BY nome_arquivo`, digest)
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return scanEntries(rows)
}

// DistinctStores returns the sorted store ids seen for endpoint, or across
// every endpoint when endpoint is empty.
func (c *Catalog) DistinctStores(endpoint string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if endpoint == "" {
		rows, err = c.conn.Query(`SELECT DISTINCT id_loja FROM records ORDER BY id_loja`)
	} else {
		rows, err = c.conn.Query(`SELECT DISTINCT id_loja FROM records WHERE endpoint = ? ORDER BY id_loja`, endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("distinct stores: %w", err)
	}
	defer rows.Close()

	var stores []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("distinct stores: %w", err)
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

// Between returns entries for endpoint whose business date falls in
// [startDate, endDate], optionally narrowed to one store. Dates are
// YYYY-MM-DD strings; lexical order matches chronological order.
func (c *Catalog) Between(endpoint, startDate, endDate, storeID string) ([]Entry, error) {
	q := selectEntry + ` WHERE endpoint = ? AND data_negocio >= ? AND data_negocio <= ?`
	args := []any{endpoint, startDate, endDate}
	if storeID != "" {
		q += ` AND id_loja = ?`
		args = append(args, storeID)
	}
	q += ` ORDER BY data_negocio, id_loja, nome_arquivo`

	rows, err := c.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog between: %w", err)
	}
	return scanEntries(rows)
}

const selectEntry = `
	SELECT nome_arquivo, caminho_arquivo, endpoint, data_negocio, id_loja,
	       timestamp_ingestao, versao_esquema, hash_dados, tamanho_bytes
	FROM records`

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ingested string
		if err := rows.Scan(&e.FileName, &e.FilePath, &e.Endpoint, &e.BusinessDate,
			&e.StoreID, &ingested, &e.SchemaVersion, &e.ContentHash, &e.SizeBytes); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		ts, err := time.Parse(time.RFC3339, ingested)
		if err != nil {
			return nil, fmt.Errorf("scan entry %s: %w", e.FileName, err)
		}
		e.IngestedAt = ts
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rebuild drops every row and re-indexes from the sidecars in the metadata
// zone. Unreadable sidecars are skipped with a warning so one bad file
// cannot block recovery. Returns how many records were indexed.
func (c *Catalog) Rebuild(lk *lake.Manager) (int, error) {
	tx, err := c.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM records`); err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO records
		(nome_arquivo, caminho_arquivo, endpoint, data_negocio, id_loja, timestamp_ingestao, versao_esquema, hash_dados, tamanho_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}
	defer stmt.Close()

	indexed := 0
	metaDir := lk.ZoneDir(lake.ZoneMetadata)
	endpoints, err := os.ReadDir(metaDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, tx.Commit()
		}
		return 0, fmt.Errorf("rebuild: %w", err)
	}

	for _, epDir := range endpoints {
		if !epDir.IsDir() {
			continue
		}
		dir := filepath.Join(metaDir, epDir.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return 0, fmt.Errorf("rebuild: %w", err)
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.HasPrefix(name, "meta_") || !strings.HasSuffix(name, ".json") {
				continue
			}
			path := filepath.Join(dir, name)
			raw, err := os.ReadFile(path)
			if err != nil {
				c.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable sidecar")
				continue
			}
			var sc lake.Sidecar
			if err := json.Unmarshal(raw, &sc); err != nil {
				c.log.Warn().Err(err).Str("path", path).Msg("skipping malformed sidecar")
				continue
			}
			_, err = stmt.Exec(
				sc.FileName,
				sc.FilePath,
				sc.Envelope.Endpoint,
				sc.Envelope.BusinessDate.Format(dateLayout),
				sc.Envelope.StoreID,
				sc.Envelope.IngestedAt.UTC().Format(time.RFC3339),
				sc.Envelope.SchemaVersion,
				sc.Envelope.ContentHash,
				sc.Envelope.SizeBytes,
			)
			if err != nil {
				return 0, fmt.Errorf("rebuild %s: %w", name, err)
			}
			indexed++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}
	c.log.Info().Int("records", indexed).Msg("catalog rebuilt")
	return indexed, nil
}
