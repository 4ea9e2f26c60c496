// Package integrity maintains the file-integrity trust anchor for a TEE
// image.
//
// At image-build time, in a presumed-trusted environment, the discoverer
// enumerates every security-critical file and a content digest is recorded
// per file into a flat baseline. At runtime the same discovery and hashing
// run again and any divergence is reported as a violation: a baseline file
// that disappeared, a baseline file whose content changed, or a new file
// claiming protection that the baseline has never seen.
//
// The baseline is a measurement scheme, not an authorization scheme: digests
// are keyless and detect tampering without proving provenance. The checker
// never mutates files or the baseline; remediation is an operator action. The
// baseline itself must never be regenerated from a potentially compromised
// running system.
package integrity
