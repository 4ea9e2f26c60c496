package snapshot

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ruteri/tdx-attest-tools/quote"
)

// ErrInsufficientSnapshots is returned when fewer than two snapshots are
// available; a single boot cannot answer the drift question and must not be
// reported as a silent pass.
var ErrInsufficientSnapshots = errors.New("need at least two snapshots to compare")

// Comparison field names reported alongside the measurement registers.
const (
	FieldCmdline       = "cmdline"
	FieldInitrdAddress = "initrd_address"
)

// initrdAddressRe extracts the initial RAM disk load address from the early
// kernel log. The address moves between boots on most firmware; it is
// flagged even when benign so operators know where nondeterminism came from.
var initrdAddressRe = regexp.MustCompile(`(?m)(?:RAMDISK:\s*\[mem (0x[0-9a-f]+-0x[0-9a-f]+)\]|initrd @ (0x[0-9a-f]+))`)

// FieldDiff is one differing field between two snapshots. A and B hold the
// rendered values on each side.
type FieldDiff struct {
	Field string
	A     string
	B     string
}

// PairReport is the comparison result of two consecutive snapshots.
type PairReport struct {
	A, B string

	// Failed is set when the pair could not be compared at all, for example
	// because one side has no decodable quote. A failed pair is a hard
	// failure of the whole comparison, never a skip.
	Failed bool
	Reason string

	Diffs []FieldDiff
}

// Identical reports whether the pair was comparable and fully matching.
func (p *PairReport) Identical() bool {
	return !p.Failed && len(p.Diffs) == 0
}

// Report is the structured outcome of comparing N snapshots in creation
// order.
type Report struct {
	Pairs []PairReport

	// AllIdentical is the strict equality reduction over every snapshot's
	// measurement set: true only when all N boots produced byte-identical
	// registers and every pair was comparable.
	AllIdentical bool

	// UnstableRegisters names the measurement registers that differ anywhere
	// across the set (e.g. "RTMR3" implicates the runtime measurement
	// sequence, not firmware).
	UnstableRegisters []string
}

// Compare diffs N >= 2 snapshots pairwise in the given order and computes the
// global all-identical verdict.
func Compare(snaps []*Snapshot) (*Report, error) {
	if len(snaps) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientSnapshots, len(snaps))
	}

	report := &Report{AllIdentical: true}

	for i := 0; i+1 < len(snaps); i++ {
		pair := comparePair(snaps[i], snaps[i+1])
		if pair.Failed {
			report.AllIdentical = false
		}
		report.Pairs = append(report.Pairs, pair)
	}

	// Strict reduction across all N, not just consecutive pairs.
	for _, name := range quote.RegisterNames() {
		stable := true
		var first string
		for i, snap := range snaps {
			if snap.Measurements == nil {
				stable = false
				break
			}
			v := snap.Measurements.Hex()[name]
			if i == 0 {
				first = v
			} else if v != first {
				stable = false
			}
		}
		if !stable {
			report.AllIdentical = false
			report.UnstableRegisters = append(report.UnstableRegisters, name)
		}
	}

	return report, nil
}

func comparePair(a, b *Snapshot) PairReport {
	pair := PairReport{A: a.Name, B: b.Name}

	if a.QuoteErr != nil {
		pair.Failed = true
		pair.Reason = fmt.Sprintf("%s: %v", a.Name, a.QuoteErr)
		return pair
	}
	if b.QuoteErr != nil {
		pair.Failed = true
		pair.Reason = fmt.Sprintf("%s: %v", b.Name, b.QuoteErr)
		return pair
	}

	hexA, hexB := a.Measurements.Hex(), b.Measurements.Hex()
	for _, name := range quote.RegisterNames() {
		if hexA[name] != hexB[name] {
			pair.Diffs = append(pair.Diffs, FieldDiff{Field: name, A: hexA[name], B: hexB[name]})
		}
	}

	cmdA, cmdB := strings.TrimSpace(a.Cmdline), strings.TrimSpace(b.Cmdline)
	if cmdA != cmdB {
		pair.Diffs = append(pair.Diffs, FieldDiff{Field: FieldCmdline, A: cmdA, B: cmdB})
	}

	initrdA, initrdB := InitrdAddress(a.DmesgHead), InitrdAddress(b.DmesgHead)
	if initrdA != initrdB {
		pair.Diffs = append(pair.Diffs, FieldDiff{Field: FieldInitrdAddress, A: initrdA, B: initrdB})
	}

	return pair
}

// InitrdAddress extracts the initrd load address from an early kernel log
// excerpt, or "" when the log has none.
func InitrdAddress(dmesgHead string) string {
	m := initrdAddressRe.FindStringSubmatch(dmesgHead)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// Render returns the operator-facing itemized report.
func (r *Report) Render() string {
	var b strings.Builder
	for _, pair := range r.Pairs {
		switch {
		case pair.Failed:
			fmt.Fprintf(&b, "%s vs %s: FAILED (%s)\n", pair.A, pair.B, pair.Reason)
		case pair.Identical():
			fmt.Fprintf(&b, "%s vs %s: IDENTICAL\n", pair.A, pair.B)
		default:
			fmt.Fprintf(&b, "%s vs %s:\n", pair.A, pair.B)
			for _, d := range pair.Diffs {
				fmt.Fprintf(&b, "  %s DIFFERS\n    %s: %s\n    %s: %s\n", d.Field, pair.A, renderValue(d.A), pair.B, renderValue(d.B))
			}
		}
	}
	if r.AllIdentical {
		b.WriteString("all snapshots carry identical measurements\n")
	} else if len(r.UnstableRegisters) > 0 {
		fmt.Fprintf(&b, "unstable registers across boots: %s\n", strings.Join(r.UnstableRegisters, ", "))
	}
	return b.String()
}

func renderValue(v string) string {
	if v == "" {
		return "(absent)"
	}
	return v
}
