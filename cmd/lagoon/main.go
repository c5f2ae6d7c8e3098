// lagoon: CLI for the partitioned POS payload data lake.
// Commands: init, store, query, stats, schema, backup, replicate, restore,
// cleanup, archive, catalog.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/data-lagoon/lagoon/internal/backup"
	"github.com/data-lagoon/lagoon/internal/catalog"
	"github.com/data-lagoon/lagoon/internal/config"
	"github.com/data-lagoon/lagoon/internal/lake"
	"github.com/data-lagoon/lagoon/internal/logging"
	"github.com/data-lagoon/lagoon/internal/objstore"
	"github.com/data-lagoon/lagoon/internal/retention"
)

const dateLayout = "2006-01-02"

// set from the --config preamble in main; empty falls back to LAGOON_CONFIG.
var configPath string

func die(cmd string, err error) {
	fmt.Fprintf(os.Stderr, "lagoon %s: %v\n", cmd, err)
	os.Exit(1)
}

func argValue(cmd string, args []string, i *int) string {
	if *i+1 >= len(args) {
		die(cmd, fmt.Errorf("%s requires a value", args[*i]))
	}
	*i++
	return args[*i]
}

func loadConfig(cmd string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		die(cmd, err)
	}
	return cfg
}

func catalogPath(cfg *config.Config) string {
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		base = cfg.BaseDir
	}
	return filepath.Join(base, cfg.Zones.Metadata, "catalog.db")
}

func openLake(cmd string, cfg *config.Config, log zerolog.Logger, opts ...lake.Option) *lake.Manager {
	opts = append([]lake.Option{lake.WithLogger(log)}, opts...)
	lk, err := lake.New(cfg, opts...)
	if err != nil {
		die(cmd, err)
	}
	return lk
}

// replicationStore picks the configured target: S3 when a bucket is set
// (wrapped in retries), otherwise a plain folder target.
func replicationStore(cmd string, cfg *config.Config) objstore.ObjectStore {
	if cfg.Backup.S3.Bucket != "" {
		s3, err := objstore.NewS3Store(context.Background(), objstore.S3Config{
			Bucket:       cfg.Backup.S3.Bucket,
			Prefix:       cfg.Backup.S3.Prefix,
			Region:       cfg.Backup.S3.Region,
			Endpoint:     cfg.Backup.S3.Endpoint,
			PathStyle:    cfg.Backup.S3.PathStyle,
			AccessKey:    cfg.Backup.S3.AccessKey,
			SecretKey:    cfg.Backup.S3.SecretKey,
			SessionToken: cfg.Backup.S3.SessionToken,
		})
		if err != nil {
			die(cmd, err)
		}
		return objstore.NewRetryableStore(s3, objstore.DefaultRetryConfig())
	}
	if cfg.Backup.FolderTarget != "" {
		dir, err := filepath.Abs(cfg.Backup.FolderTarget)
		if err != nil {
			die(cmd, err)
		}
		return objstore.NewFolderStore(dir)
	}
	die(cmd, fmt.Errorf("no replication target configured (set backup.s3.bucket or backup.folder_target)"))
	return nil
}

// passphrase reads a passphrase without echo. LAGOON_PASSPHRASE overrides the
// prompt for scripted runs.
func passphrase(cmd string, confirm bool) []byte {
	if v := os.Getenv("LAGOON_PASSPHRASE"); v != "" {
		return []byte(v)
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		die(cmd, fmt.Errorf("stdin is not a terminal; set LAGOON_PASSPHRASE"))
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		die(cmd, err)
	}
	if len(pass) == 0 {
		die(cmd, fmt.Errorf("empty passphrase"))
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			die(cmd, err)
		}
		if !bytes.Equal(pass, again) {
			die(cmd, fmt.Errorf("passphrases do not match"))
		}
	}
	return pass
}

func cmdInit() {
	cfg := loadConfig("init")
	log := logging.Configure(cfg.Logging)

	opts := []lake.Option{}
	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(catalogPath(cfg), log)
		if err != nil {
			die("init", err)
		}
		defer cat.Close()
		opts = append(opts, lake.WithIndexer(cat))
	}
	lk := openLake("init", cfg, log, opts...)

	fmt.Println("Lake initialized.")
	fmt.Printf("  lake id:   %s\n", cfg.LakeID)
	fmt.Printf("  base:      %s\n", lk.BaseDir())
	fmt.Printf("  endpoints: %s\n", strings.Join(lk.Endpoints(), ", "))
	for _, z := range lake.Zones() {
		fmt.Printf("  %-10s %s\n", z.String()+":", lk.ZoneDir(z))
	}
}

func cmdStore(args []string) {
	var endpoint, storeID, file string
	dateStr := time.Now().Format(dateLayout)
	extra := map[string]any{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--endpoint", "-e":
			endpoint = argValue("store", args, &i)
		case "--store", "-s":
			storeID = argValue("store", args, &i)
		case "--date", "-d":
			dateStr = argValue("store", args, &i)
		case "--file", "-f":
			file = argValue("store", args, &i)
		case "--meta", "-m":
			kv := argValue("store", args, &i)
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				die("store", fmt.Errorf("--meta wants key=value, got %q", kv))
			}
			extra[k] = v
		default:
			die("store", fmt.Errorf("unknown flag %q", args[i]))
		}
	}
	if endpoint == "" || storeID == "" {
		fmt.Fprintln(os.Stderr, "usage: lagoon store --endpoint <name> --store <id> [--date YYYY-MM-DD] [--file payload.json] [--meta k=v]")
		os.Exit(1)
	}
	day, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		die("store", fmt.Errorf("invalid --date %q: %w", dateStr, err))
	}

	var raw []byte
	if file == "" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		die("store", err)
	}
	var payload lake.Document
	if err := json.Unmarshal(raw, &payload); err != nil {
		die("store", fmt.Errorf("payload is not valid JSON: %w", err))
	}
	if len(extra) == 0 {
		extra = nil
	}

	cfg := loadConfig("store")
	log := logging.Configure(cfg.Logging)

	opts := []lake.Option{}
	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(catalogPath(cfg), log)
		if err != nil {
			die("store", err)
		}
		defer cat.Close()
		opts = append(opts, lake.WithIndexer(cat))
	}
	lk := openLake("store", cfg, log, opts...)

	path, err := lk.Store(endpoint, payload, day, storeID, extra)
	if err != nil {
		die("store", err)
	}
	fmt.Printf("Stored %s\n", path)
}

func cmdQuery(args []string) {
	var endpoint, storeID, startStr, endStr string
	asJSON := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--endpoint", "-e":
			endpoint = argValue("query", args, &i)
		case "--store", "-s":
			storeID = argValue("query", args, &i)
		case "--start":
			startStr = argValue("query", args, &i)
		case "--end":
			endStr = argValue("query", args, &i)
		case "--json":
			asJSON = true
		default:
			die("query", fmt.Errorf("unknown flag %q", args[i]))
		}
	}
	if endpoint == "" || startStr == "" {
		fmt.Fprintln(os.Stderr, "usage: lagoon query --endpoint <name> --start YYYY-MM-DD [--end YYYY-MM-DD] [--store <id>] [--json]")
		os.Exit(1)
	}
	if endStr == "" {
		endStr = startStr
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		die("query", fmt.Errorf("invalid --start %q: %w", startStr, err))
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		die("query", fmt.Errorf("invalid --end %q: %w", endStr, err))
	}

	cfg := loadConfig("query")
	log := logging.Configure(cfg.Logging)
	lk := openLake("query", cfg, log)

	records, rep, err := lk.Query(endpoint, start, end, storeID)
	if err != nil {
		die("query", err)
	}

	if asJSON {
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			die("query", err)
		}
		os.Stdout.Write(out)
		fmt.Println()
	} else {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"DATE", "STORE", "FILE", "BYTES", "INGESTED"})
		for _, r := range records {
			t.AppendRow(table.Row{
				r.Envelope.BusinessDate.Format(dateLayout),
				r.Envelope.StoreID,
				filepath.Base(r.SourcePath),
				r.Envelope.SizeBytes,
				r.Envelope.IngestedAt.Format(time.RFC3339),
			})
		}
		t.Render()
	}
	fmt.Fprintf(os.Stderr, "%d loaded, %d skipped (%d attempted)\n", rep.Loaded, rep.Skipped, rep.Attempted)
	for _, p := range rep.SkippedPaths {
		fmt.Fprintf(os.Stderr, "  skipped: %s\n", p)
	}
}

func cmdStats(args []string) {
	asJSON := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--json":
			asJSON = true
		default:
			die("stats", fmt.Errorf("unknown flag %q", args[i]))
		}
	}

	cfg := loadConfig("stats")
	log := logging.Configure(cfg.Logging)
	lk := openLake("stats", cfg, log)

	rep, err := lk.Statistics()
	if err != nil {
		die("stats", err)
	}

	if asJSON {
		out, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			die("stats", err)
		}
		os.Stdout.Write(out)
		fmt.Println()
		return
	}

	zones := table.NewWriter()
	zones.SetOutputMirror(os.Stdout)
	zones.AppendHeader(table.Row{"ZONE", "FILES", "SIZE (MB)", "PATH"})
	for _, name := range []string{
		cfg.Zones.Raw, cfg.Zones.Processed, cfg.Zones.Schemas,
		cfg.Zones.Metadata, cfg.Zones.Archive, cfg.Zones.Temp,
	} {
		zs, ok := rep.ZoneLayout[name]
		if !ok {
			continue
		}
		zones.AppendRow(table.Row{name, zs.TotalFiles, zs.SizeMB, zs.Path})
	}
	zones.AppendFooter(table.Row{"TOTAL", rep.TotalFiles, rep.TotalSizeMB, ""})
	zones.Render()

	if len(rep.Endpoints) > 0 {
		eps := table.NewWriter()
		eps.SetOutputMirror(os.Stdout)
		eps.AppendHeader(table.Row{"ENDPOINT", "FILES", "SIZE (MB)", "STORES", "DATES"})
		names := make([]string, 0, len(rep.Endpoints))
		for name := range rep.Endpoints {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			es := rep.Endpoints[name]
			eps.AppendRow(table.Row{
				name, es.TotalFiles, es.SizeMB,
				strings.Join(es.UniqueStores, ", "), len(es.AvailableDates),
			})
		}
		eps.Render()
	}

	if rep.Period.Oldest != "" {
		fmt.Printf("Data period: %s .. %s\n", rep.Period.Oldest, rep.Period.Newest)
	}
}

func cmdSchema(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: lagoon schema <register|list> [flags]")
		os.Exit(1)
	}
	cfg := loadConfig("schema")
	log := logging.Configure(cfg.Logging)
	lk := openLake("schema", cfg, log)

	switch args[0] {
	case "register":
		var endpoint, version, file string
		rest := args[1:]
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case "--endpoint", "-e":
				endpoint = argValue("schema", rest, &i)
			case "--version", "-v":
				version = argValue("schema", rest, &i)
			case "--file", "-f":
				file = argValue("schema", rest, &i)
			default:
				die("schema", fmt.Errorf("unknown flag %q", rest[i]))
			}
		}
		if endpoint == "" || version == "" || file == "" {
			fmt.Fprintln(os.Stderr, "usage: lagoon schema register --endpoint <name> --version <v> --file schema.json")
			os.Exit(1)
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			die("schema", err)
		}
		var doc lake.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			die("schema", fmt.Errorf("schema is not valid JSON: %w", err))
		}
		path, err := lk.RegisterSchema(endpoint, version, doc)
		if err != nil {
			die("schema", err)
		}
		fmt.Printf("Registered %s\n", path)
	case "list":
		versions, err := lk.SchemaVersions()
		if err != nil {
			die("schema", err)
		}
		if len(versions) == 0 {
			fmt.Println("(no schemas registered)")
			return
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ENDPOINT", "VERSIONS"})
		names := make([]string, 0, len(versions))
		for name := range versions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			t.AppendRow(table.Row{name, strings.Join(versions[name], ", ")})
		}
		t.Render()
	default:
		die("schema", fmt.Errorf("unknown subcommand %q", args[0]))
	}
}

func cmdBackup(args []string) {
	var dest string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dest":
			dest = argValue("backup", args, &i)
		default:
			die("backup", fmt.Errorf("unknown flag %q", args[i]))
		}
	}

	cfg := loadConfig("backup")
	log := logging.Configure(cfg.Logging)
	lk := openLake("backup", cfg, log)
	if dest == "" {
		dest = cfg.Backup.Dir
	}

	path, err := backup.New(lk, log).Snapshot(dest)
	if err != nil {
		die("backup", err)
	}
	fmt.Printf("Backup written to %s\n", path)
}

func cmdReplicate(args []string) {
	encrypt := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--encrypt":
			encrypt = true
		default:
			die("replicate", fmt.Errorf("unknown flag %q", args[i]))
		}
	}

	cfg := loadConfig("replicate")
	log := logging.Configure(cfg.Logging)
	lk := openLake("replicate", cfg, log)
	store := replicationStore("replicate", cfg)

	var master []byte
	if encrypt {
		pass := passphrase("replicate", true)
		master = objstore.DeriveKey(pass, []byte("lagoon:"+cfg.LakeID))
	}

	res, err := backup.New(lk, log).Replicate(store, cfg.LakeID, master)
	if err != nil {
		die("replicate", err)
	}
	fmt.Println("Replication complete.")
	fmt.Printf("  snapshot: %s\n", res.SnapshotID)
	fmt.Printf("  uploaded: %d files (%.2f MB)\n", res.FilesUploaded, float64(res.BytesUploaded)/(1024*1024))
	fmt.Printf("  skipped:  %d files\n", res.FilesSkipped)
}

func cmdRestore(args []string) {
	var dest, snapshotID string
	encrypt := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dest":
			dest = argValue("restore", args, &i)
		case "--snapshot":
			snapshotID = argValue("restore", args, &i)
		case "--encrypt":
			encrypt = true
		default:
			die("restore", fmt.Errorf("unknown flag %q", args[i]))
		}
	}
	if dest == "" {
		fmt.Fprintln(os.Stderr, "usage: lagoon restore --dest <dir> [--snapshot <id>] [--encrypt]")
		os.Exit(1)
	}

	cfg := loadConfig("restore")
	log := logging.Configure(cfg.Logging)
	lk := openLake("restore", cfg, log)
	store := replicationStore("restore", cfg)

	var master []byte
	if encrypt {
		pass := passphrase("restore", false)
		master = objstore.DeriveKey(pass, []byte("lagoon:"+cfg.LakeID))
	}

	n, err := backup.New(lk, log).Restore(store, cfg.LakeID, dest, snapshotID, master)
	if err != nil {
		die("restore", err)
	}
	fmt.Printf("Restored %d files to %s\n", n, dest)
}

func cmdCleanup(args []string) {
	days := -1
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--days":
			v := argValue("cleanup", args, &i)
			n, err := strconv.Atoi(v)
			if err != nil {
				die("cleanup", fmt.Errorf("invalid --days %q", v))
			}
			days = n
		default:
			die("cleanup", fmt.Errorf("unknown flag %q", args[i]))
		}
	}

	cfg := loadConfig("cleanup")
	log := logging.Configure(cfg.Logging)
	lk := openLake("cleanup", cfg, log)
	if days < 0 {
		days = cfg.Retention.Days
	}

	res, err := retention.New(lk, log).Cleanup(days)
	if err != nil {
		die("cleanup", err)
	}
	if res.CutoffDate == "" {
		fmt.Println("Cleanup disabled (retention days <= 0).")
		return
	}
	fmt.Println("Cleanup complete.")
	fmt.Printf("  cutoff:  %s\n", res.CutoffDate)
	fmt.Printf("  removed: %d files\n", res.FilesRemoved)
	fmt.Printf("  freed:   %.2f MB\n", res.FreedMB)
}

func cmdArchive(args []string) {
	days := -1
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--days":
			v := argValue("archive", args, &i)
			n, err := strconv.Atoi(v)
			if err != nil {
				die("archive", fmt.Errorf("invalid --days %q", v))
			}
			days = n
		default:
			die("archive", fmt.Errorf("unknown flag %q", args[i]))
		}
	}

	cfg := loadConfig("archive")
	log := logging.Configure(cfg.Logging)
	lk := openLake("archive", cfg, log)
	if days < 0 {
		days = cfg.Retention.ArchiveAfterDays
	}

	res, err := retention.New(lk, log).Archive(days)
	if err != nil {
		die("archive", err)
	}
	if res.CutoffDate == "" {
		fmt.Println("Archive disabled (archive_after_days <= 0).")
		return
	}
	fmt.Println("Archive complete.")
	fmt.Printf("  cutoff:     %s\n", res.CutoffDate)
	fmt.Printf("  partitions: %d\n", res.PartitionsMoved)
	fmt.Printf("  files:      %d\n", res.FilesCompressed)
	fmt.Printf("  size:       %.2f MB -> %.2f MB\n", res.SizeBeforeMB, res.SizeAfterMB)
}

func cmdCatalog(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: lagoon catalog <rebuild|stats|find> [flags]")
		os.Exit(1)
	}
	cfg := loadConfig("catalog")
	log := logging.Configure(cfg.Logging)

	cat, err := catalog.Open(catalogPath(cfg), log)
	if err != nil {
		die("catalog", err)
	}
	defer cat.Close()

	switch args[0] {
	case "rebuild":
		lk := openLake("catalog", cfg, log)
		n, err := cat.Rebuild(lk)
		if err != nil {
			die("catalog", err)
		}
		fmt.Printf("Catalog rebuilt: %d records\n", n)
	case "stats":
		counts, err := cat.CountByEndpoint()
		if err != nil {
			die("catalog", err)
		}
		if len(counts) == 0 {
			fmt.Println("(catalog is empty)")
			return
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"ENDPOINT", "RECORDS"})
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		total := 0
		for _, name := range names {
			t.AppendRow(table.Row{name, counts[name]})
			total += counts[name]
		}
		t.AppendFooter(table.Row{"TOTAL", total})
		t.Render()
		stores, err := cat.DistinctStores("")
		if err != nil {
			die("catalog", err)
		}
		fmt.Printf("Stores: %s\n", strings.Join(stores, ", "))
	case "find":
		var digest string
		rest := args[1:]
		for i := 0; i < len(rest); i++ {
			switch rest[i] {
			case "--hash":
				digest = argValue("catalog", rest, &i)
			default:
				die("catalog", fmt.Errorf("unknown flag %q", rest[i]))
			}
		}
		if digest == "" {
			fmt.Fprintln(os.Stderr, "usage: lagoon catalog find --hash <sha256>")
			os.Exit(1)
		}
		entries, err := cat.FindByHash(digest)
		if err != nil {
			die("catalog", err)
		}
		if len(entries) == 0 {
			fmt.Println("(no matches)")
			return
		}
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"FILE", "ENDPOINT", "DATE", "STORE", "BYTES"})
		for _, e := range entries {
			t.AppendRow(table.Row{e.FileName, e.Endpoint, e.BusinessDate, e.StoreID, e.SizeBytes})
		}
		t.Render()
	default:
		die("catalog", fmt.Errorf("unknown subcommand %q", args[0]))
	}
}

func usage() {
	fmt.Println("lagoon: partitioned data lake for POS API payloads")
	fmt.Println("Usage: lagoon [--config <path>] <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                       create zones and today's partitions")
	fmt.Println("  store                      ingest one payload (stdin or --file)")
	fmt.Println("  query                      list records for an endpoint and date range")
	fmt.Println("  stats                      lake statistics")
	fmt.Println("  schema register|list       manage endpoint schema documents")
	fmt.Println("  backup                     snapshot the lake to the backup directory")
	fmt.Println("  replicate                  upload lake files to the object store target")
	fmt.Println("  restore                    download a snapshot from the object store")
	fmt.Println("  cleanup                    delete raw partitions past retention")
	fmt.Println("  archive                    compress old raw partitions into the archive zone")
	fmt.Println("  catalog rebuild|stats|find metadata catalog operations")
}

func main() {
	args := os.Args[1:]
	for len(args) >= 2 && (args[0] == "--config" || args[0] == "-c") {
		configPath = args[1]
		args = args[2:]
	}
	if len(args) < 1 {
		usage()
		os.Exit(0)
	}
	switch args[0] {
	case "init":
		cmdInit()
	case "store":
		cmdStore(args[1:])
	case "query":
		cmdQuery(args[1:])
	case "stats":
		cmdStats(args[1:])
	case "schema":
		cmdSchema(args[1:])
	case "backup":
		cmdBackup(args[1:])
	case "replicate":
		cmdReplicate(args[1:])
	case "restore":
		cmdRestore(args[1:])
	case "cleanup":
		cmdCleanup(args[1:])
	case "archive":
		cmdArchive(args[1:])
	case "catalog":
		cmdCatalog(args[1:])
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "lagoon: unknown command %q\n", args[0])
		os.Exit(1)
	}
}
