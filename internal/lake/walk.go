package lake

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DayPartition is one endpoint/year=/month=/day= directory inside a zone.
type DayPartition struct {
	Endpoint string
	Date     time.Time
	Dir      string
}

// WalkDayPartitions visits every day partition in zone, in lexical order.
// endpoint narrows the walk to one endpoint; empty walks all endpoint
// directories present. Day chains whose segments do not form a real calendar
// date are reported through fn with a non-nil perr (an
// *InvalidPartitionDateError) and a partition carrying Endpoint and Dir only.
// fn returning an error stops the walk.
func (m *Manager) WalkDayPartitions(zone Zone, endpoint string, fn func(p DayPartition, perr error) error) error {
	zdir := m.zoneDirs[zone]
	var endpoints []string
	if endpoint != "" {
		if err := ValidateEndpoint(endpoint); err != nil {
			return err
		}
		endpoints = []string{endpoint}
	} else {
		entries, err := os.ReadDir(zdir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return &StorageError{Op: "walk zone", Path: zdir, Err: err}
		}
		for _, e := range entries {
			if e.IsDir() {
				endpoints = append(endpoints, e.Name())
			}
		}
	}

	for _, ep := range endpoints {
		if err := m.walkEndpointDays(zone, ep, fn); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) walkEndpointDays(zone Zone, ep string, fn func(p DayPartition, perr error) error) error {
	epDir := filepath.Join(m.zoneDirs[zone], ep)
	years, err := readSubdirs(epDir, "year=")
	if err != nil {
		return err
	}
	for _, y := range years {
		months, err := readSubdirs(y.path, "month=")
		if err != nil {
			return err
		}
		for _, mo := range months {
			days, err := readSubdirs(mo.path, "day=")
			if err != nil {
				return err
			}
			for _, d := range days {
				p := DayPartition{Endpoint: ep, Dir: d.path}
				date, perr := parseDayChain(y.name, mo.name, d.name)
				if perr != nil {
					if err := fn(p, &InvalidPartitionDateError{Dir: d.path, Err: perr}); err != nil {
						return err
					}
					continue
				}
				p.Date = date
				if err := fn(p, nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type subdir struct {
	name string
	path string
}

func readSubdirs(dir, prefix string) ([]subdir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StorageError{Op: "walk partitions", Path: dir, Err: err}
	}
	var out []subdir
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, subdir{name: e.Name(), path: filepath.Join(dir, e.Name())})
		}
	}
	return out, nil
}

// storeSubdirs lists the store=<id> directories under a day partition in
// lexical order. A missing day directory is an empty result.
func storeSubdirs(dayDir string) ([]subdir, error) {
	dirs, err := readSubdirs(dayDir, "store=")
	if err != nil {
		return nil, err
	}
	for i := range dirs {
		dirs[i].name = strings.TrimPrefix(dirs[i].name, "store=")
	}
	return dirs, nil
}

// parseDayChain converts a year=/month=/day= segment triple into a date.
// Values that normalize (day=31 in April, day=30 in February) are rejected by
// a round trip through time.Date.
func parseDayChain(yearSeg, monthSeg, daySeg string) (time.Time, error) {
	y, err := segmentValue(yearSeg, "year=")
	if err != nil {
		return time.Time{}, err
	}
	mo, err := segmentValue(monthSeg, "month=")
	if err != nil {
		return time.Time{}, err
	}
	d, err := segmentValue(daySeg, "day=")
	if err != nil {
		return time.Time{}, err
	}
	if y < 1 || y > 9999 {
		return time.Time{}, fmt.Errorf("year %d out of range", y)
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return time.Time{}, fmt.Errorf("%s/%s/%s is not a calendar date", yearSeg, monthSeg, daySeg)
	}
	return t, nil
}

func segmentValue(seg, prefix string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(seg, prefix))
	if err != nil {
		return 0, fmt.Errorf("segment %q: %w", seg, err)
	}
	return n, nil
}
