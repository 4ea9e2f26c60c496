package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/tdx-attest-tools/cmd/flags"
	"github.com/ruteri/tdx-attest-tools/httpserver"
	"github.com/ruteri/tdx-attest-tools/transport"
	"github.com/urfave/cli/v2"
)

var appFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the quote API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.DurationFlag{
		Name:  "qgs-timeout",
		Value: transport.DefaultTimeout,
		Usage: "bound on each quote generation service exchange",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "quoteserver",
		Usage: "serve signed TDX quotes to admission-side verifiers",
		Flags: append(appFlags, flags.LoggingFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			client := transport.NewClient(logger)
			client.Timeout = cCtx.Duration("qgs-timeout")

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               cCtx.String("listen-addr"),
				MetricsAddr:              cCtx.String("metrics-addr"),
				Log:                      logger,
				EnablePprof:              cCtx.Bool("pprof"),
				DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             60 * time.Second,
			}

			server, err := httpserver.New(cfg, httpserver.NewHandler(client, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
