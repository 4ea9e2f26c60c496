package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ruteri/tdx-attest-tools/cmd/flags"
	"github.com/ruteri/tdx-attest-tools/integrity"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "integrity",
		Usage: "build and verify the critical-file integrity baseline",
		Flags: append([]cli.Flag{flags.BaselineFlag}, flags.LoggingFlags...),
		Commands: []*cli.Command{
			{
				Name:  "build-baseline",
				Usage: "hash all protected files into a new baseline (image-build environments only)",
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					baseline, err := integrity.Build(integrity.DefaultProfile, time.Now())
					if err != nil {
						return err
					}
					path := cCtx.String(flags.BaselineFlag.Name)
					if err := baseline.WriteFile(path, integrity.DefaultProfile); err != nil {
						return err
					}
					logger.Info("Baseline written", "path", path, "files", len(baseline.Entries))
					return nil
				},
			},
			{
				Name:  "verify-baseline",
				Usage: "compare the running system against the build-time baseline",
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					baseline, err := integrity.Load(cCtx.String(flags.BaselineFlag.Name))
					if err != nil {
						return err
					}
					violations, err := baseline.Check(integrity.DefaultProfile)
					if err != nil {
						return err
					}
					if len(violations) > 0 {
						fmt.Print(integrity.RenderViolations(violations))
						return cli.Exit(fmt.Sprintf("%d integrity violation(s) found", len(violations)), 1)
					}
					logger.Info("Integrity check passed", "files", len(baseline.Entries))
					return nil
				},
			},
			{
				Name:  "list-protected",
				Usage: "print the deterministic protected-file list",
				Action: func(cCtx *cli.Context) error {
					paths, err := integrity.DefaultProfile.Discover()
					if err != nil {
						return err
					}
					for _, path := range paths {
						fmt.Println(path)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
