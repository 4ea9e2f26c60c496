package main

import (
	"log"
	"os"

	"github.com/ruteri/tdx-attest-tools/bootgate"
	"github.com/ruteri/tdx-attest-tools/cmd/flags"
	"github.com/urfave/cli/v2"
)

var appFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "device-glob",
		Required: true,
		Usage:    "glob locating the volume to verify, e.g. /dev/disk/by-path/*scsi-0:0:0:1*",
	},
	&cli.StringFlag{
		Name:  "fs-type",
		Value: "ext4",
		Usage: "filesystem type the volume must carry",
	},
	&cli.StringFlag{
		Name:     "label",
		Required: true,
		Usage:    "filesystem label the volume must carry",
	},
	&cli.BoolFlag{
		Name:  "dry-run",
		Usage: "report the verdict without powering off",
	},
	&cli.StringFlag{
		Name:  "mount-point",
		Usage: "mount the verified LUKS volume here (requires --volume-secret-file)",
	},
	&cli.StringFlag{
		Name:  "mapper-name",
		Value: "tdx-data",
		Usage: "device-mapper name for the opened volume",
	},
	&cli.StringFlag{
		Name:  "volume-secret-file",
		Usage: "file holding the secret the volume key is derived from",
	},
}

func main() {
	app := &cli.App{
		Name:  "bootgate",
		Usage: "verify a sensitive volume before mount; power off on any mismatch",
		Flags: append(appFlags, flags.LoggingFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			gate := &bootgate.Gate{
				Inspector: bootgate.GHWInspector{},
				Want: bootgate.Expectation{
					DeviceGlob:     cCtx.String("device-glob"),
					FilesystemType: cCtx.String("fs-type"),
					Label:          cCtx.String("label"),
				},
			}

			res := gate.Run()

			powerOff := bootgate.SystemPowerOff
			if cCtx.Bool("dry-run") {
				powerOff = func() error {
					logger.Warn("Dry run, skipping power-off")
					return nil
				}
			}
			if err := bootgate.Enforce(logger, res, powerOff); err != nil {
				return err
			}
			if !res.Ready() {
				// Power-off is in flight; do not fall through to mounting.
				return cli.Exit("volume verification failed", 1)
			}

			mountPoint := cCtx.String("mount-point")
			if mountPoint == "" {
				return nil
			}

			secretFile := cCtx.String("volume-secret-file")
			if secretFile == "" {
				return cli.Exit("--mount-point requires --volume-secret-file", 1)
			}
			secret, err := os.ReadFile(secretFile)
			if err != nil {
				return err
			}

			cfg := bootgate.NewVolumeConfig(res.Device.Path, mountPoint, cCtx.String("mapper-name"))
			key, err := bootgate.DeriveVolumeKey(secret, res.Device.FilesystemLabel)
			if err != nil {
				return err
			}
			if err := bootgate.OpenAndMount(cfg, key); err != nil {
				return err
			}
			logger.Info("Verified volume mounted", "device", res.Device.Path, "mountPoint", mountPoint)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
