// Package bootgate verifies a sensitive storage volume before it may be
// mounted.
//
// The gate walks a fixed state machine, Unverified -> DeviceLocated ->
// TypeChecked -> LabelChecked -> Ready, and routes any failed transition to
// FailClosed. An unverifiable volume is treated as evidence of tampering or
// misconfiguration; there is no retry and no degraded-mode continuation.
//
// Verification itself is pure and returns a typed Result, so it can be tested
// without powering off a machine. The Enforce caller maps FailClosed to the
// irreversible action: flush disk caches and power off, logging to console
// and kernel ring buffer first, on the assumption that the log line may be
// the only forensic evidence that survives.
package bootgate
