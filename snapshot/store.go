package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/tdx-attest-tools/quote"
)

// DefaultRoot is where snapshots are kept unless the operator overrides it.
const DefaultRoot = "/var/lib/tdx-attest/snapshots"

// Artifact file names inside a snapshot directory.
const (
	QuoteFile        = "quote.bin"
	MeasurementsFile = "measurements.json"
	CmdlineFile      = "cmdline.txt"
	DmesgHeadFile    = "dmesg-head.txt"
	TimestampFile    = "timestamp.txt"
)

// autoNamePrefix is used when the operator does not pick a snapshot name.
const autoNamePrefix = "boot"

// Artifacts is the material captured for one boot.
type Artifacts struct {
	Quote     []byte
	Cmdline   string
	DmesgHead string
	Timestamp time.Time
}

// Snapshot is one loaded per-boot record. QuoteErr is set when the quote file
// is missing or undecodable; the comparator treats such snapshots as hard
// failures rather than skipping them.
type Snapshot struct {
	Name         string
	Quote        []byte
	Measurements *quote.Measurements
	QuoteErr     error
	Cmdline      string
	DmesgHead    string
	Timestamp    time.Time
}

// Store manages the snapshot directory tree. Reads never mutate snapshots.
type Store struct {
	root   string
	layout quote.Layout
}

// NewStore returns a store rooted at dir, decoding quotes with the default
// layout table.
func NewStore(dir string) *Store {
	return &Store{root: dir, layout: quote.DefaultLayout}
}

// Root returns the snapshot root directory.
func (s *Store) Root() string { return s.root }

// NextName returns the first unused auto-incremented snapshot name (boot1,
// boot2, ...).
func (s *Store) NextName() (string, error) {
	existing, err := s.List()
	if err != nil {
		return "", err
	}
	used := make(map[string]bool, len(existing))
	for _, name := range existing {
		used[name] = true
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s%d", autoNamePrefix, i)
		if !used[name] {
			return name, nil
		}
	}
}

// Create persists one snapshot all-or-nothing: artifacts are written into a
// hidden staging directory and renamed into place only once every file is on
// disk. A snapshot directory that exists is therefore always complete.
func (s *Store) Create(name string, art Artifacts) (*Snapshot, error) {
	if name == "" {
		var err error
		name, err = s.NextName()
		if err != nil {
			return nil, err
		}
	}
	if strings.ContainsRune(name, os.PathSeparator) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("invalid snapshot name %q", name)
	}

	final := filepath.Join(s.root, name)
	if _, err := os.Stat(final); err == nil {
		return nil, fmt.Errorf("snapshot %q already exists", name)
	}

	// Decode before touching the disk; a quote the codec rejects must not
	// leave a snapshot behind.
	m, err := s.layout.Parse(art.Quote)
	if err != nil {
		return nil, fmt.Errorf("refusing to snapshot undecodable quote: %w", err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp(s.root, "."+name+".partial-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	measurementsJSON, err := json.MarshalIndent(m.Hex(), "", "  ")
	if err != nil {
		return nil, err
	}

	ts := art.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	files := map[string][]byte{
		QuoteFile:        art.Quote,
		MeasurementsFile: measurementsJSON,
		CmdlineFile:      []byte(art.Cmdline),
		DmesgHeadFile:    []byte(art.DmesgHead),
		TimestampFile:    []byte(ts.Format(time.RFC3339) + "\n"),
	}
	for fname, data := range files {
		if err := os.WriteFile(filepath.Join(staging, fname), data, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", fname, err)
		}
	}

	if err := os.Rename(staging, final); err != nil {
		return nil, fmt.Errorf("committing snapshot %q: %w", name, err)
	}

	return &Snapshot{
		Name:         name,
		Quote:        art.Quote,
		Measurements: m,
		Cmdline:      art.Cmdline,
		DmesgHead:    art.DmesgHead,
		Timestamp:    ts,
	}, nil
}

// Load reads one snapshot. A missing or undecodable quote does not fail the
// load; it is recorded in QuoteErr so the comparator can report it as a hard
// failure for every pair the snapshot participates in.
func (s *Store) Load(name string) (*Snapshot, error) {
	dir := filepath.Join(s.root, name)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("snapshot %q not found in %s", name, s.root)
	}

	snap := &Snapshot{Name: name}

	if raw, err := os.ReadFile(filepath.Join(dir, QuoteFile)); err != nil {
		snap.QuoteErr = fmt.Errorf("quote missing: %w", err)
	} else {
		snap.Quote = raw
		if m, err := s.layout.Parse(raw); err != nil {
			snap.QuoteErr = err
		} else {
			snap.Measurements = m
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, CmdlineFile)); err == nil {
		snap.Cmdline = string(data)
	}
	if data, err := os.ReadFile(filepath.Join(dir, DmesgHeadFile)); err == nil {
		snap.DmesgHead = string(data)
	}
	if data, err := os.ReadFile(filepath.Join(dir, TimestampFile)); err == nil {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data))); err == nil {
			snap.Timestamp = ts
		}
	}

	return snap, nil
}

// List returns all complete snapshot names in creation order: auto-named
// snapshots sort by boot number, anything else lexicographically after them.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		// Staging directories are hidden and never listed.
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		ni, iok := autoNameNumber(names[i])
		nj, jok := autoNameNumber(names[j])
		switch {
		case iok && jok:
			return ni < nj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names, nil
}

// LoadAll loads every snapshot in creation order.
func (s *Store) LoadAll() ([]*Snapshot, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}
	snaps := make([]*Snapshot, 0, len(names))
	for _, name := range names {
		snap, err := s.Load(name)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func autoNameNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, autoNamePrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
