// Package flags holds CLI flags and helpers shared by all binaries.
package flags

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/tdx-attest-tools/common"
	"github.com/ruteri/tdx-attest-tools/integrity"
	"github.com/ruteri/tdx-attest-tools/snapshot"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: "tdx-attest",
	Usage: "add 'service' tag to logs",
}

// LoggingFlags is the set every binary carries.
var LoggingFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var SnapshotDirFlag = &cli.StringFlag{
	Name:  "snapshot-dir",
	Value: snapshot.DefaultRoot,
	Usage: "directory holding per-boot measurement snapshots",
}

var BaselineFlag = &cli.StringFlag{
	Name:  "baseline",
	Value: integrity.DefaultBaselinePath,
	Usage: "path of the file-integrity baseline",
}
