package server

import (
	"fmt"
	"strings"

	"github.com/tturner/cipadapter/internal/config"
)

// DevicePreset is a ready-made identity and assembly layout for a kind of
// device the adapter can pose as.
type DevicePreset struct {
	Name        string
	Description string
	Identity    config.IdentitySection
	Assemblies  []config.AssemblyConfig
	// Heartbeat points for input-only and listen-only connections.
	HeartbeatInputOnly  uint16
	HeartbeatListenOnly uint16
}

// AvailablePresets returns the supported device presets.
func AvailablePresets() []DevicePreset {
	return []DevicePreset{
		{
			Name:        "generic",
			Description: "Communications adapter with 32-byte counter, echo and output assemblies",
			Identity:    config.CreateDefaultAdapterConfig().Identity,
			Assemblies:  config.CreateDefaultAdapterConfig().Assemblies,

			HeartbeatInputOnly:  152,
			HeartbeatListenOnly: 153,
		},
		{
			Name:        "discrete_io",
			Description: "16-point discrete I/O block (2 bytes in, 2 bytes out)",
			Identity: config.IdentitySection{
				VendorID:    1,
				DeviceType:  0x07, // general purpose discrete I/O
				ProductCode: 65010,
				RevMajor:    1,
				RevMinor:    1,
				Serial:      0x00C1AD10,
				ProductName: "cipadapter 16pt DIO",
			},
			Assemblies:          ioAssemblies(2, 2, 4),
			HeartbeatInputOnly:  198,
			HeartbeatListenOnly: 199,
		},
		{
			Name:        "analog_io",
			Description: "8-channel analog module (16 bytes in, 16 bytes out)",
			Identity: config.IdentitySection{
				VendorID:    1,
				DeviceType:  0x0A, // general purpose analog I/O
				ProductCode: 65020,
				RevMajor:    2,
				RevMinor:    1,
				Serial:      0x00C1AD20,
				ProductName: "cipadapter 8ch AIO",
			},
			Assemblies:          ioAssemblies(16, 16, 32),
			HeartbeatInputOnly:  198,
			HeartbeatListenOnly: 199,
		},
		{
			Name:        "drive",
			Description: "AC drive with the basic speed control assemblies 20/70",
			Identity: config.IdentitySection{
				VendorID:    1,
				DeviceType:  0x02, // AC drive
				ProductCode: 65030,
				RevMajor:    1,
				RevMinor:    3,
				Serial:      0x00C1AD30,
				ProductName: "cipadapter AC Drive",
			},
			Assemblies: []config.AssemblyConfig{
				{Name: "BasicSpeedControlIn", Instance: 70, SizeBytes: 4, Direction: "input", UpdatePattern: "reflect", ReflectFrom: 20},
				{Name: "BasicSpeedControlOut", Instance: 20, SizeBytes: 4, Direction: "output", UpdatePattern: "static"},
				{Name: "Config", Instance: 1, SizeBytes: 0, Direction: "config", UpdatePattern: "static"},
				{Name: "InputOnlyHeartbeat", Instance: 198, SizeBytes: 0, Direction: "output", UpdatePattern: "static"},
				{Name: "ListenOnlyHeartbeat", Instance: 199, SizeBytes: 0, Direction: "output", UpdatePattern: "static"},
			},
			HeartbeatInputOnly:  198,
			HeartbeatListenOnly: 199,
		},
	}
}

// ApplyPreset replaces the identity and assemblies of cfg with a named
// preset. Network, session and side-service settings are kept.
func ApplyPreset(cfg *config.AdapterConfig, name string) error {
	if cfg == nil {
		return fmt.Errorf("adapter config is nil")
	}
	preset, ok := findPreset(name)
	if !ok {
		return fmt.Errorf("unknown device preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	cfg.Identity = preset.Identity
	cfg.Assemblies = append([]config.AssemblyConfig(nil), preset.Assemblies...)
	cfg.CIP.HeartbeatInputOnly = preset.HeartbeatInputOnly
	cfg.CIP.HeartbeatListenOnly = preset.HeartbeatListenOnly
	return nil
}

// PresetNames lists the preset names.
func PresetNames() []string {
	presets := AvailablePresets()
	names := make([]string, 0, len(presets))
	for _, p := range presets {
		names = append(names, p.Name)
	}
	return names
}

func findPreset(name string) (DevicePreset, bool) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, preset := range AvailablePresets() {
		if preset.Name == normalized {
			return preset, true
		}
	}
	return DevicePreset{}, false
}

// ioAssemblies is the 100/150/151 layout with a counter input and heartbeat
// points at 198/199.
func ioAssemblies(in, out, cfgSize int) []config.AssemblyConfig {
	return []config.AssemblyConfig{
		{Name: "Inputs", Instance: 100, SizeBytes: in, Direction: "input", UpdatePattern: "counter"},
		{Name: "Outputs", Instance: 150, SizeBytes: out, Direction: "output", UpdatePattern: "static"},
		{Name: "Config", Instance: 151, SizeBytes: cfgSize, Direction: "config", UpdatePattern: "static"},
		{Name: "InputOnlyHeartbeat", Instance: 198, SizeBytes: 0, Direction: "output", UpdatePattern: "static"},
		{Name: "ListenOnlyHeartbeat", Instance: 199, SizeBytes: 0, Direction: "output", UpdatePattern: "static"},
	}
}
