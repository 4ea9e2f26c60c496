package integrity

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBaselinePath is where the image build drops the baseline.
const DefaultBaselinePath = "/etc/tdx-attest/integrity-baseline"

// digestPrefix tags every baseline line with the digest scheme in use.
const digestPrefix = "sha256:"

// Entry is one (path, content measurement) pair.
type Entry struct {
	Path   string
	Digest string
}

// Baseline is the flat ordered trust anchor built at image-build time.
// Read-only at runtime; replaced wholesale only at rebuild.
type Baseline struct {
	Entries []Entry
	BuiltAt time.Time
}

// Summary is the JSON sidecar written next to the flat baseline.
type Summary struct {
	ProtectedFiles int       `json:"protected_files"`
	TotalFiles     int       `json:"total_files"`
	Timestamp      time.Time `json:"timestamp"`
	Hostname       string    `json:"hostname"`
	ProfileVersion string    `json:"profile_version"`
}

// HashFile computes the keyless content measurement of one file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Build runs discovery against the profile and hashes every protected file.
// Only ever run this in a presumed-trusted build environment.
func Build(profile Profile, now time.Time) (*Baseline, error) {
	paths, err := profile.Discover()
	if err != nil {
		return nil, err
	}

	baseline := &Baseline{BuiltAt: now}
	for _, path := range paths {
		digest, err := HashFile(path)
		if err != nil {
			return nil, err
		}
		baseline.Entries = append(baseline.Entries, Entry{Path: path, Digest: digest})
	}
	return baseline, nil
}

// WriteFile persists the baseline as flat text plus a JSON summary sidecar,
// both via atomic rename.
func (b *Baseline) WriteFile(path string, profile Profile) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# built %s\n", b.BuiltAt.Format(time.RFC3339))
	for _, e := range b.Entries {
		fmt.Fprintf(&sb, "%s%s %s\n", digestPrefix, e.Digest, e.Path)
	}
	if err := writeFileAtomic(path, []byte(sb.String())); err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	summary := Summary{
		ProtectedFiles: len(b.Entries),
		TotalFiles:     len(b.Entries),
		Timestamp:      b.BuiltAt,
		Hostname:       hostname,
		ProfileVersion: profile.Version,
	}
	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path+".json", summaryJSON)
}

// Load reads a flat baseline file.
func Load(path string) (*Baseline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	baseline := &Baseline{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if ts, ok := strings.CutPrefix(line, "# built "); ok {
				if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(ts)); err == nil {
					baseline.BuiltAt = parsed
				}
			}
			continue
		}

		digest, path, found := strings.Cut(line, " ")
		if !found || !strings.HasPrefix(digest, digestPrefix) {
			return nil, fmt.Errorf("malformed baseline line %q", line)
		}
		baseline.Entries = append(baseline.Entries, Entry{
			Path:   path,
			Digest: strings.TrimPrefix(digest, digestPrefix),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return baseline, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
