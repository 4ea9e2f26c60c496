// Package snapshot persists per-boot measurement snapshots and compares them
// across boots.
//
// A snapshot is an immutable directory holding the raw signed quote, the
// decoded measurement registers as JSON, the kernel command line, the head of
// the early kernel log and a wall-clock timestamp. Snapshots are created once
// per boot by an operator action and never mutated afterwards.
//
// The comparator answers the core reproducibility question: given the
// snapshots of N boots, did any trust-relevant state change? Expected-stable
// values (MRTD, RTMRs) must never drift; the kernel command line and the
// initrd load address are known sources of boot-to-boot variation and are
// reported separately so operators can tell benign changes from tampering.
package snapshot
