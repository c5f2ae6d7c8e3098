package lake

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Zone names one of the fixed lake areas. The on-disk directory for a zone
// comes from the configured name table; the Zone constants are the stable
// programmatic handles.
type Zone string

const (
	ZoneRaw       Zone = "raw"
	ZoneProcessed Zone = "processed"
	ZoneSchemas   Zone = "schemas"
	ZoneMetadata  Zone = "metadata"
	ZoneArchive   Zone = "archive"
	ZoneTemp      Zone = "temp"
)

// Zones returns all lake zones in creation order.
func Zones() []Zone {
	return []Zone{ZoneRaw, ZoneProcessed, ZoneSchemas, ZoneMetadata, ZoneArchive, ZoneTemp}
}

func (z Zone) String() string { return string(z) }

const maxIdentifierLength = 64

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// validateIdentifier guards every endpoint name and store ID before it is
// spliced into a path. kind is only for the error message.
func validateIdentifier(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidIdentifier, kind)
	}
	if len(s) > maxIdentifierLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidIdentifier, kind, maxIdentifierLength)
	}
	if strings.Contains(s, "..") || strings.ContainsAny(s, `/\`) || strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: %s %q", ErrPathTraversal, kind, s)
	}
	if !identifierPattern.MatchString(s) {
		return fmt.Errorf("%w: %s %q", ErrInvalidIdentifier, kind, s)
	}
	return nil
}

// ValidateEndpoint reports whether name is safe to use as an endpoint path
// segment.
func ValidateEndpoint(name string) error {
	return validateIdentifier("endpoint", name)
}

// ValidateStoreID reports whether id is safe to use as a store path segment.
func ValidateStoreID(id string) error {
	return validateIdentifier("store id", id)
}

func dateSegments(t time.Time) (year, month, day string) {
	return fmt.Sprintf("year=%04d", t.Year()),
		fmt.Sprintf("month=%02d", int(t.Month())),
		fmt.Sprintf("day=%02d", t.Day())
}

// ZoneDir returns the absolute directory of a zone.
func (m *Manager) ZoneDir(z Zone) string {
	return m.zoneDirs[z]
}

// DayDir returns the day-level partition directory for an endpoint and date
// within a zone, without a store segment.
func (m *Manager) DayDir(z Zone, endpoint string, date time.Time) string {
	year, month, day := dateSegments(date)
	return filepath.Join(m.zoneDirs[z], endpoint, year, month, day)
}

// PartitionDir returns the full partition directory for a record. storeID may
// be empty, which stops the chain at the day level.
func (m *Manager) PartitionDir(z Zone, endpoint string, date time.Time, storeID string) string {
	dir := m.DayDir(z, endpoint, date)
	if storeID == "" {
		return dir
	}
	return filepath.Join(dir, "store="+storeID)
}
