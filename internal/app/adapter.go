package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tturner/cipadapter/internal/api"
	"github.com/tturner/cipadapter/internal/capture"
	"github.com/tturner/cipadapter/internal/config"
	cipErrors "github.com/tturner/cipadapter/internal/errors"
	"github.com/tturner/cipadapter/internal/iosink"
	"github.com/tturner/cipadapter/internal/logging"
	"github.com/tturner/cipadapter/internal/metrics"
	"github.com/tturner/cipadapter/internal/netdetect"
	"github.com/tturner/cipadapter/internal/server"
)

// AdapterOptions are the run command's inputs. Empty fields keep the
// configured value.
type AdapterOptions struct {
	ConfigPath  string // empty runs the built-in defaults
	Preset      string
	Mode        string
	ListenIP    string
	TCPPort     int
	IOPort      int
	EnableAPI   bool
	APIPort     int
	CaptureFile string
	MetricsFile string
	LogFormat   string
	LogLevel    string
	LogFile     string
}

// PrepareConfig loads the configuration and applies the preset, mode and
// flag overrides in that order, then validates the result.
func PrepareConfig(opts AdapterOptions) (*config.AdapterConfig, error) {
	var cfg *config.AdapterConfig
	if opts.ConfigPath == "" {
		cfg = config.CreateDefaultAdapterConfig()
	} else {
		var err error
		cfg, err = config.LoadAdapterConfig(opts.ConfigPath)
		if err != nil {
			return nil, cipErrors.WrapConfigError(err, opts.ConfigPath)
		}
	}

	if opts.Preset != "" {
		if err := server.ApplyPreset(cfg, opts.Preset); err != nil {
			return nil, err
		}
	}
	if opts.Mode != "" {
		if err := ApplyMode(cfg, opts.Mode); err != nil {
			return nil, err
		}
	}

	if opts.ListenIP != "" {
		cfg.Server.ListenIP = opts.ListenIP
	}
	if opts.TCPPort != 0 {
		cfg.Server.TCPPort = opts.TCPPort
	}
	if opts.IOPort != 0 {
		cfg.Server.IOPort = opts.IOPort
	}
	if opts.EnableAPI {
		cfg.API.Enable = true
	}
	if opts.APIPort != 0 {
		cfg.API.Port = opts.APIPort
	}
	if opts.CaptureFile != "" {
		cfg.Capture.File = opts.CaptureFile
	}
	if opts.MetricsFile != "" {
		cfg.Metrics.File = opts.MetricsFile
	}
	if opts.LogFormat != "" {
		cfg.Logging.Format = opts.LogFormat
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Logging.LogFile = opts.LogFile
	}

	if err := config.ValidateAdapterConfig(cfg); err != nil {
		source := opts.ConfigPath
		if source == "" {
			source = "command-line flags"
		}
		return nil, cipErrors.WrapConfigError(err, source)
	}
	return cfg, nil
}

// ApplyMode adjusts logging for an operating mode.
func ApplyMode(cfg *config.AdapterConfig, mode string) error {
	switch mode {
	case "baseline":
		cfg.Logging.Level = "info"
		cfg.Logging.IncludeHexDump = false
	case "diagnostic":
		cfg.Logging.Level = "debug"
		cfg.Logging.IncludeHexDump = true
	case "perf":
		cfg.Logging.Level = "error"
		cfg.Logging.IncludeHexDump = false
	default:
		return fmt.Errorf("unknown mode %q; must be baseline, diagnostic or perf", mode)
	}
	return nil
}

// NewLogger builds the logger described by the logging section.
func NewLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:   level,
		Format:  cfg.Format,
		File:    cfg.LogFile,
		HexDump: cfg.IncludeHexDump,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// RunAdapter serves cfg until ctx is cancelled or a component fails.
func RunAdapter(ctx context.Context, cfg *config.AdapterConfig, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	if info, err := netdetect.DetectInterfaceForListen(cfg.Server.ListenIP); err != nil {
		logger.Verbose("Interface detection skipped: %v", err)
	} else if filled := fillNetwork(&cfg.Network, cfg.Server.ListenIP, info); len(filled) > 0 {
		logger.Info("Network attributes %v taken from %s", filled, netdetect.GetInterfaceAddressString(info))
	}
	if cfg.Network.HostName == "" {
		if host, err := os.Hostname(); err == nil && len(host) <= 64 {
			cfg.Network.HostName = host
		}
	}

	reg := metrics.NewRegistry()
	adapter, err := server.New(cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("create adapter: %w", err)
	}

	var rec *capture.Recorder
	if cfg.Capture.File != "" {
		rec, err = capture.Create(cfg.Capture.File, cfg.Capture.Snaplen, reg)
		if err != nil {
			return fmt.Errorf("start packet capture: %w", err)
		}
		adapter.SetTap(rec)
		fmt.Fprintf(out, "Capturing adapter traffic to %s\n", cfg.Capture.File)
	}

	fan, err := iosink.Open(ctx, cfg.Sinks, logger, reg)
	if err != nil {
		closeRecorder(rec, cfg.Capture.File, out)
		return fmt.Errorf("open sinks: %w", err)
	}
	if fan.Enabled() {
		adapter.SetSink(fan)
	}

	if err := adapter.Listen(); err != nil {
		closeRecorder(rec, cfg.Capture.File, out)
		return cipErrors.WrapListenError(err, cfg.Server.ListenIP, cfg.Server.TCPPort, cfg.Server.IOPort)
	}
	fmt.Fprintf(out, "Adapter %s listening on %s\n", cfg.Server.Name, adapter.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return adapter.Run(gctx)
	})
	if fan.Enabled() {
		g.Go(func() error {
			return fan.Run(gctx)
		})
	}
	if cfg.API.Enable {
		apiServer := api.NewServer(cfg.API.ListenIP, cfg.API.Port, adapter, logger)
		fmt.Fprintf(out, "Status API on %s\n", apiServer.Address())
		g.Go(func() error {
			return apiServer.Run(gctx)
		})
	}
	if cfg.Metrics.File != "" {
		w, err := metrics.NewWriter(cfg.Metrics.File)
		if err != nil {
			logger.Error("metrics file disabled: %v", err)
		} else {
			interval := time.Duration(cfg.Metrics.IntervalMs) * time.Millisecond
			g.Go(func() error {
				return metricsLoop(gctx, w, reg, interval)
			})
		}
	}

	err = g.Wait()
	fmt.Fprintf(out, "\nAdapter stopped\n%s", metrics.FormatSnapshot(reg.Snapshot()))
	closeRecorder(rec, cfg.Capture.File, out)
	return err
}

func metricsLoop(ctx context.Context, w *metrics.Writer, reg *metrics.Registry, interval time.Duration) error {
	defer w.Close()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return w.WriteSnapshot(time.Now(), reg.Snapshot())
		case now := <-ticker.C:
			if err := w.WriteSnapshot(now, reg.Snapshot()); err != nil {
				return err
			}
		}
	}
}

func closeRecorder(rec *capture.Recorder, path string, out io.Writer) {
	if rec == nil {
		return
	}
	if err := rec.Close(); err != nil {
		fmt.Fprintf(out, "close capture: %v\n", err)
		return
	}
	absPath, _ := filepath.Abs(path)
	fmt.Fprintf(out, "Packets captured: %d\n", rec.Packets())
	fmt.Fprintf(out, "PCAP written to: %s\n", absPath)
}
