package app

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tturner/cipadapter/internal/config"
	cipErrors "github.com/tturner/cipadapter/internal/errors"
	"github.com/tturner/cipadapter/internal/metrics"
	"github.com/tturner/cipadapter/internal/netdetect"
)

func TestApplyMode(t *testing.T) {
	tests := []struct {
		name          string
		mode          string
		wantErr       bool
		expectedLevel string
		hexDump       bool
	}{
		{name: "baseline mode", mode: "baseline", expectedLevel: "info"},
		{name: "diagnostic mode", mode: "diagnostic", expectedLevel: "debug", hexDump: true},
		{name: "perf mode", mode: "perf", expectedLevel: "error"},
		{name: "unknown mode", mode: "dpi-torture", wantErr: true},
		{name: "empty mode", mode: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.CreateDefaultAdapterConfig()

			err := ApplyMode(cfg, tt.mode)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.Logging.Level != tt.expectedLevel {
				t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, tt.expectedLevel)
			}
			if cfg.Logging.IncludeHexDump != tt.hexDump {
				t.Errorf("Logging.IncludeHexDump = %v, want %v", cfg.Logging.IncludeHexDump, tt.hexDump)
			}
		})
	}
}

func TestPrepareConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := PrepareConfig(AdapterOptions{
		Preset:      "drive",
		Mode:        "perf",
		ListenIP:    "127.0.0.1",
		TCPPort:     44819,
		IOPort:      2223,
		EnableAPI:   true,
		APIPort:     9090,
		CaptureFile: "adapter.pcap",
		LogFormat:   "json",
	})
	if err != nil {
		t.Fatalf("PrepareConfig() error = %v", err)
	}
	if cfg.Identity.DeviceType != 0x02 {
		t.Errorf("DeviceType = 0x%02X, want drive preset", cfg.Identity.DeviceType)
	}
	if cfg.Server.ListenIP != "127.0.0.1" || cfg.Server.TCPPort != 44819 || cfg.Server.IOPort != 2223 {
		t.Errorf("server overrides not applied: %+v", cfg.Server)
	}
	if !cfg.API.Enable || cfg.API.Port != 9090 {
		t.Errorf("API overrides not applied: %+v", cfg.API)
	}
	if cfg.Capture.File != "adapter.pcap" {
		t.Errorf("Capture.File = %q", cfg.Capture.File)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestPrepareConfigFlagsOverrideMode(t *testing.T) {
	cfg, err := PrepareConfig(AdapterOptions{Mode: "perf", LogLevel: "verbose"})
	if err != nil {
		t.Fatalf("PrepareConfig() error = %v", err)
	}
	if cfg.Logging.Level != "verbose" {
		t.Errorf("Logging.Level = %q, want the flag value", cfg.Logging.Level)
	}
}

func TestPrepareConfigLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapter.toml")
	body := `
[server]
name = "press-7"
listen_ip = "127.0.0.1"

[identity]
vendor_id = 1
device_type = 12
product_code = 7

[[assemblies]]
name = "In"
instance = 100
size_bytes = 4
direction = "input"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := PrepareConfig(AdapterOptions{ConfigPath: path})
	if err != nil {
		t.Fatalf("PrepareConfig() error = %v", err)
	}
	if cfg.Server.Name != "press-7" || cfg.Server.TCPPort != config.DefaultTCPPort {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Assemblies) != 1 || cfg.Assemblies[0].UpdatePattern != "static" {
		t.Errorf("assemblies = %+v", cfg.Assemblies)
	}
}

func TestPrepareConfigErrorsAreUserFriendly(t *testing.T) {
	_, err := PrepareConfig(AdapterOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	var friendly cipErrors.UserFriendlyError
	if !errors.As(err, &friendly) {
		t.Fatalf("missing file error = %v, want UserFriendlyError", err)
	}
	if !strings.Contains(friendly.Error(), "missing.yaml") {
		t.Errorf("error should name the file: %v", friendly)
	}

	_, err = PrepareConfig(AdapterOptions{ListenIP: "not-an-ip"})
	if !errors.As(err, &friendly) {
		t.Fatalf("bad override error = %v, want UserFriendlyError", err)
	}
	if !strings.Contains(friendly.Error(), "command-line flags") {
		t.Errorf("error should blame the flags: %v", friendly)
	}

	if _, err := PrepareConfig(AdapterOptions{Preset: "robot"}); err == nil {
		t.Error("unknown preset should fail")
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "chatty"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
	logger, err := NewLogger(config.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Close()
}

func TestMetricsLoopWritesFinalSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	w, err := metrics.NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	reg := metrics.NewRegistry()
	reg.Inc(metrics.EncapFramesIn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- metricsLoop(ctx, w, reg, time.Hour) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("metricsLoop() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), metrics.EncapFramesIn+",counter,1") {
		t.Errorf("metrics file missing counter row:\n%s", data)
	}
}

func TestFillNetwork(t *testing.T) {
	info := netdetect.InterfaceInfo{
		Name: "eth0",
		Addr: netip.MustParseAddr("192.168.1.20"),
		Mask: netip.MustParseAddr("255.255.255.0"),
		MAC:  net.HardwareAddr{0x00, 0x1d, 0x9c, 0x01, 0x02, 0x03},
	}

	var n config.NetworkSection
	filled := fillNetwork(&n, "0.0.0.0", info)
	if len(filled) != 3 {
		t.Fatalf("filled = %v, want address, mask and mac", filled)
	}
	if n.Address != "192.168.1.20" || n.NetworkMask != "255.255.255.0" || n.MAC != "00:1d:9c:01:02:03" {
		t.Errorf("network = %+v", n)
	}

	n = config.NetworkSection{MAC: "02:00:00:00:00:01"}
	filled = fillNetwork(&n, "192.168.1.20", info)
	if n.Address != "" {
		t.Errorf("a specific listen IP should not set the address, got %q", n.Address)
	}
	if n.MAC != "02:00:00:00:00:01" {
		t.Errorf("configured MAC was overwritten: %q", n.MAC)
	}
	if len(filled) != 1 || filled[0] != "network_mask" {
		t.Errorf("filled = %v", filled)
	}
}
