package integrity

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// ViolationKind classifies an integrity violation.
type ViolationKind string

const (
	// MissingFile: a baseline entry whose file no longer exists.
	MissingFile ViolationKind = "MissingFile"

	// HashMismatch: a baseline entry whose content measurement changed.
	HashMismatch ViolationKind = "HashMismatch"

	// UnexpectedNewProtectedFile: a discovered protected file absent from the
	// baseline. Possibly attacker-planted, possibly legitimate but
	// unreviewed; either way reportable, never auto-trusted.
	UnexpectedNewProtectedFile ViolationKind = "UnexpectedNewProtectedFile"
)

// Violation is one divergence between the baseline and the running system.
// Violations are ephemeral: reported, never persisted.
type Violation struct {
	Kind     ViolationKind
	Path     string
	Expected string
	Observed string
}

func (v Violation) String() string {
	switch v.Kind {
	case MissingFile:
		return fmt.Sprintf("%s: %s (expected %s%s)", v.Kind, v.Path, digestPrefix, v.Expected)
	case HashMismatch:
		return fmt.Sprintf("%s: %s (expected %s%s, observed %s%s)", v.Kind, v.Path, digestPrefix, v.Expected, digestPrefix, v.Observed)
	default:
		return fmt.Sprintf("%s: %s (observed %s%s)", v.Kind, v.Path, digestPrefix, v.Observed)
	}
}

// Check re-runs discovery, recomputes measurements for present files and
// reports every divergence from the baseline. It mutates nothing; zero
// violations means the system matches its build-time trust anchor.
func (b *Baseline) Check(profile Profile) ([]Violation, error) {
	discovered, err := profile.Discover()
	if err != nil {
		return nil, err
	}

	baselined := make(map[string]string, len(b.Entries))
	for _, e := range b.Entries {
		baselined[e.Path] = e.Digest
	}
	currentSet := make(map[string]bool, len(discovered))
	for _, path := range discovered {
		currentSet[path] = true
	}

	var violations []Violation

	for _, e := range b.Entries {
		if _, err := os.Stat(e.Path); err != nil {
			violations = append(violations, Violation{Kind: MissingFile, Path: e.Path, Expected: e.Digest})
			continue
		}
		observed, err := HashFile(e.Path)
		if err != nil {
			return nil, err
		}
		if observed != e.Digest {
			violations = append(violations, Violation{Kind: HashMismatch, Path: e.Path, Expected: e.Digest, Observed: observed})
		}
	}

	var newPaths []string
	for path := range currentSet {
		if _, ok := baselined[path]; !ok {
			newPaths = append(newPaths, path)
		}
	}
	sort.Strings(newPaths)
	for _, path := range newPaths {
		observed, err := HashFile(path)
		if err != nil {
			return nil, err
		}
		violations = append(violations, Violation{Kind: UnexpectedNewProtectedFile, Path: path, Observed: observed})
	}

	return violations, nil
}

// RenderViolations returns the operator-facing itemized report.
func RenderViolations(violations []Violation) string {
	var sb strings.Builder
	for _, v := range violations {
		sb.WriteString(v.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
