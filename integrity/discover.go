package integrity

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Profile is the single versioned artifact naming everything considered
// security-critical. Adding a protected file is a data change here, not a
// code change spread across scripts.
type Profile struct {
	// Version identifies the profile revision recorded in baselines.
	Version string

	// BinaryDirs are trusted directories whose regular files are all
	// protected. Missing directories are optional on some images and are
	// skipped silently.
	BinaryDirs []string

	// Globs match additional protected files: unit files, admission policy
	// sources, deployment manifests.
	Globs []string

	// RequiredFiles must exist; a hard-coded expected file that is absent is
	// an error, never a silent skip.
	RequiredFiles []string

	// IncludeSelf adds the running executable to the protected set, so the
	// detector cannot be rewritten without being detected.
	IncludeSelf bool
}

// DefaultProfile covers the k3s TEE guest image.
var DefaultProfile = Profile{
	Version: "1",
	BinaryDirs: []string{
		"/usr/local/bin",
		"/opt/tdx/bin",
	},
	Globs: []string{
		"/etc/systemd/system/*.service",
		"/etc/systemd/system/*.timer",
		"/etc/opa/policies/*.rego",
		"/var/lib/rancher/k3s/server/manifests/*.yaml",
		"/etc/rancher/k3s/*.yaml",
	},
	RequiredFiles: []string{
		"/usr/bin/tdx-quote-generator",
	},
	IncludeSelf: true,
}

// Discover enumerates the protected file set: absolute paths, sorted,
// deduplicated. Two runs against an unchanged filesystem produce identical
// output; the list doubles as the baseline-build input and the runtime-check
// input, so any nondeterminism would break the trust comparison.
func (p Profile) Discover() ([]string, error) {
	seen := make(map[string]bool)

	for _, dir := range p.BinaryDirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				seen[path] = true
			}
			return nil
		})
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", dir, err)
		}
	}

	for _, pattern := range p.Globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", pattern, err)
		}
		for _, match := range matches {
			if fi, err := os.Stat(match); err == nil && fi.Mode().IsRegular() {
				seen[match] = true
			}
		}
	}

	for _, path := range p.RequiredFiles {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("required protected file %s: %w", path, err)
		}
		seen[path] = true
	}

	if p.IncludeSelf {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving own executable: %w", err)
		}
		seen[self] = true
	}

	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}
