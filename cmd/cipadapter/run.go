package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tturner/cipadapter/internal/app"
)

func newRunCmd() *cobra.Command {
	opts := app.AdapterOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the adapter",
		Long: `Run the adapter until interrupted.

The adapter listens for encapsulation traffic on TCP and UDP port 44818 and
exchanges Class 1 I/O on UDP port 2222. Scanners register a session, open
connections to the configured Assembly instances and exchange cyclic data.

Configuration comes from --config (YAML, or TOML by extension); without it the
built-in defaults are used. --preset replaces the identity and assemblies with a
device profile, --mode adjusts logging, and the remaining flags override single
settings.

Press Ctrl+C to stop the adapter gracefully.`,
		Example: `  # Run with the built-in defaults
  cipadapter run

  # Run a configured device with the status API enabled
  cipadapter run --config press.yaml --api

  # Emulate a drive and record all traffic
  cipadapter run --preset drive --capture drive.pcap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			cfg, err := app.PrepareConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunAdapter(ctx, cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Adapter config file (.yaml or .toml)")
	flags.StringVar(&opts.Preset, "preset", "", "Device preset: generic|discrete_io|analog_io|drive")
	flags.StringVar(&opts.Mode, "mode", "", "Mode preset: baseline|diagnostic|perf")
	flags.StringVar(&opts.ListenIP, "listen-ip", "", "Listen IP address override")
	flags.IntVar(&opts.TCPPort, "tcp-port", 0, "Encapsulation port override")
	flags.IntVar(&opts.IOPort, "io-port", 0, "Class 1 I/O port override")
	flags.BoolVar(&opts.EnableAPI, "api", false, "Enable the HTTP status API")
	flags.IntVar(&opts.APIPort, "api-port", 0, "Status API port override")
	flags.StringVar(&opts.CaptureFile, "capture", "", "Record adapter traffic to a pcap file")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "Append counter snapshots to a CSV file")
	flags.StringVar(&opts.LogFormat, "log-format", "", "Log format override: text|json")
	flags.StringVar(&opts.LogLevel, "log-level", "", "Log level override: silent|error|info|verbose|debug")
	flags.StringVar(&opts.LogFile, "log-file", "", "Also write JSON logs to this file")
	return cmd
}
