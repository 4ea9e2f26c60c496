// Package common holds shared build and logging configuration for all binaries.
package common

// PackageName is used as the metrics namespace.
const PackageName = "tdx_attest_tools"

// Version is set at build time via -ldflags.
var Version = "dev"
