package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ruteri/tdx-attest-tools/cmd/flags"
	"github.com/ruteri/tdx-attest-tools/quote"
	"github.com/ruteri/tdx-attest-tools/snapshot"
	"github.com/ruteri/tdx-attest-tools/transport"
	"github.com/urfave/cli/v2"
)

// dmesgHeadLines bounds the early-boot log excerpt stored per snapshot.
const dmesgHeadLines = 200

var nonceFlag = &cli.StringFlag{
	Name:  "nonce",
	Usage: "caller nonce embedded in the quote (max 64 bytes; omit only for diagnostics)",
}
var outputFlag = &cli.StringFlag{
	Name:  "output",
	Value: "quote.bin",
	Usage: "file to write the raw quote to",
}
var jsonFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "machine-readable output",
}
var quoteFileFlag = &cli.StringFlag{
	Name:  "quote-file",
	Usage: "snapshot a previously captured quote file instead of fetching one",
}
var timeoutFlag = &cli.DurationFlag{
	Name:  "timeout",
	Value: transport.DefaultTimeout,
	Usage: "bound on the quote generation service exchange",
}

func main() {
	app := &cli.App{
		Name:  "attestctl",
		Usage: "capture, decode and compare TDX attestation evidence",
		Flags: append([]cli.Flag{flags.SnapshotDirFlag}, flags.LoggingFlags...),
		Commands: []*cli.Command{
			{
				Name:  "fetch-quote",
				Usage: "obtain one signed quote from the quote generation service",
				Flags: []cli.Flag{nonceFlag, outputFlag, timeoutFlag},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					raw, err := fetchQuote(cCtx, logger)
					if err != nil {
						return err
					}
					output := cCtx.String(outputFlag.Name)
					if err := os.WriteFile(output, raw, 0o644); err != nil {
						return err
					}
					logger.Info("Quote written", "path", output, "bytes", len(raw))
					return nil
				},
			},
			{
				Name:      "decode-quote",
				Usage:     "decode a raw quote file into named measurements",
				ArgsUsage: "[quote file, default quote.bin]",
				Flags:     []cli.Flag{jsonFlag},
				Action: func(cCtx *cli.Context) error {
					path := cCtx.Args().First()
					if path == "" {
						path = "quote.bin"
					}
					raw, err := os.ReadFile(path)
					if err != nil {
						return err
					}
					m, err := quote.Parse(raw)
					if err != nil {
						return err
					}
					if cCtx.Bool(jsonFlag.Name) {
						out, err := json.MarshalIndent(m.Hex(), "", "  ")
						if err != nil {
							return err
						}
						fmt.Println(string(out))
						return nil
					}
					fmt.Print(m.Dump())
					return nil
				},
			},
			{
				Name:      "capture-snapshot",
				Usage:     "record this boot's quote, cmdline and early boot log",
				ArgsUsage: "[snapshot name, default auto-incremented bootN]",
				Flags:     []cli.Flag{nonceFlag, quoteFileFlag, timeoutFlag},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					store := snapshot.NewStore(cCtx.String(flags.SnapshotDirFlag.Name))

					var raw []byte
					var err error
					if quoteFile := cCtx.String(quoteFileFlag.Name); quoteFile != "" {
						raw, err = os.ReadFile(quoteFile)
					} else {
						raw, err = fetchQuote(cCtx, logger)
					}
					if err != nil {
						return err
					}

					snap, err := store.Create(cCtx.Args().First(), snapshot.Artifacts{
						Quote:     raw,
						Cmdline:   readCmdline(),
						DmesgHead: readDmesgHead(),
						Timestamp: time.Now(),
					})
					if err != nil {
						return err
					}
					logger.Info("Snapshot captured", "name", snap.Name, "dir", store.Root())
					return nil
				},
			},
			{
				Name:  "diff-snapshots",
				Usage: "compare all recorded snapshots for measurement drift",
				Action: func(cCtx *cli.Context) error {
					store := snapshot.NewStore(cCtx.String(flags.SnapshotDirFlag.Name))
					snaps, err := store.LoadAll()
					if err != nil {
						return err
					}
					report, err := snapshot.Compare(snaps)
					if err != nil {
						return err
					}
					fmt.Print(report.Render())

					for _, pair := range report.Pairs {
						if pair.Failed {
							return cli.Exit("snapshot comparison failed", 1)
						}
					}
					if len(report.UnstableRegisters) > 0 {
						return cli.Exit("trust measurements drifted across boots", 1)
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

func fetchQuote(cCtx *cli.Context, logger *slog.Logger) ([]byte, error) {
	client := transport.NewClient(logger)
	client.Timeout = cCtx.Duration(timeoutFlag.Name)

	var nonce []byte
	if s := cCtx.String(nonceFlag.Name); s != "" {
		nonce = []byte(s)
	}
	return client.FetchQuote(context.Background(), nonce)
}

func readCmdline() string {
	data, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readDmesgHead returns the first lines of the kernel ring buffer. Best
// effort: an empty excerpt only disables the initrd-address comparison.
func readDmesgHead() string {
	out, err := exec.Command("dmesg").Output()
	if err != nil {
		return ""
	}
	lines := strings.SplitN(string(out), "\n", dmesgHeadLines+1)
	if len(lines) > dmesgHeadLines {
		lines = lines[:dmesgHeadLines]
	}
	return strings.Join(lines, "\n")
}
