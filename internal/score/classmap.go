// Package score turns raw per-class confidence vectors into per-group
// composite scores: pooling across overlapping windows, the class→group
// table, and the boosting/threshold rules.
package score

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ClassMap is the static table mapping every classifier class index to a
// semantic group. Row order must match the classifier's class-index order
// exactly — a shifted table silently misattributes every downstream score,
// so the loader validates index contiguity.
type ClassMap struct {
	names  []string // class display name per index
	groups []string // group per index
	all    []string // sorted unique group names
}

// LoadClassMap reads a class map CSV of the form
//
//	index,mid,display_name
//	0,/m/09x0r,people.speech
//	1,/m/05zppz,people.speech_male
//
// The group of a class is its display-name prefix before the first "."; a
// name with no "." is its own group. The header row is skipped.
func LoadClassMap(path string) (*ClassMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("score: open class map %q: %w", path, err)
	}
	defer f.Close()

	cm, err := ReadClassMap(f)
	if err != nil {
		return nil, fmt.Errorf("score: class map %q: %w", path, err)
	}
	return cm, nil
}

// ReadClassMap parses class map CSV data from r. See [LoadClassMap] for the
// expected format.
func ReadClassMap(r io.Reader) (*ClassMap, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no class rows (got %d records including header)", len(records))
	}
	rows := records[1:] // skip header

	cm := &ClassMap{
		names:  make([]string, len(rows)),
		groups: make([]string, len(rows)),
	}
	seen := make(map[string]struct{})
	for i, row := range rows {
		idx, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad class index %q: %w", i+1, row[0], err)
		}
		if idx != i {
			return nil, fmt.Errorf("row %d: class index %d out of order (want %d); the table must match the classifier's index order", i+1, idx, i)
		}
		name := strings.Trim(strings.TrimSpace(row[2]), `"`)
		if name == "" {
			return nil, fmt.Errorf("row %d: empty display name", i+1)
		}
		group, _, _ := strings.Cut(name, ".")
		cm.names[i] = name
		cm.groups[i] = group
		if _, ok := seen[group]; !ok {
			seen[group] = struct{}{}
			cm.all = append(cm.all, group)
		}
	}
	sort.Strings(cm.all)
	return cm, nil
}

// Len returns the class cardinality N of the table.
func (cm *ClassMap) Len() int { return len(cm.names) }

// Name returns the display name of class index i.
func (cm *ClassMap) Name(i int) string { return cm.names[i] }

// Group returns the group of class index i.
func (cm *ClassMap) Group(i int) string { return cm.groups[i] }

// Groups returns the sorted set of all group names in the table.
func (cm *ClassMap) Groups() []string {
	out := make([]string, len(cm.all))
	copy(out, cm.all)
	return out
}

// HasGroup reports whether g is a group of any class in the table.
func (cm *ClassMap) HasGroup(g string) bool {
	i := sort.SearchStrings(cm.all, g)
	return i < len(cm.all) && cm.all[i] == g
}
