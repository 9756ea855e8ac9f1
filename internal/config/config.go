package config

// Configuration loading and validation for the adapter

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ServerSection selects the sockets and loop timing.
type ServerSection struct {
	Name           string `yaml:"name" toml:"name"`
	ListenIP       string `yaml:"listen_ip" toml:"listen_ip"`
	TCPPort        int    `yaml:"tcp_port" toml:"tcp_port"` // encapsulation TCP and UDP
	IOPort         int    `yaml:"io_port" toml:"io_port"`
	TickIntervalMs int    `yaml:"tick_interval_ms" toml:"tick_interval_ms"`
}

// IdentitySection holds the Identity object attributes.
type IdentitySection struct {
	VendorID    uint16 `yaml:"vendor_id" toml:"vendor_id"`
	DeviceType  uint16 `yaml:"device_type" toml:"device_type"`
	ProductCode uint16 `yaml:"product_code" toml:"product_code"`
	RevMajor    uint8  `yaml:"rev_major" toml:"rev_major"`
	RevMinor    uint8  `yaml:"rev_minor" toml:"rev_minor"`
	Serial      uint32 `yaml:"serial" toml:"serial"`
	ProductName string `yaml:"product_name" toml:"product_name"`
	State       uint8  `yaml:"state,omitempty" toml:"state,omitempty"`
}

// NetworkSection holds the TCP/IP Interface and Ethernet Link attributes and
// the multicast production settings.
type NetworkSection struct {
	Address            string `yaml:"address,omitempty" toml:"address,omitempty"` // defaults to the listen address
	NetworkMask        string `yaml:"network_mask,omitempty" toml:"network_mask,omitempty"`
	Gateway            string `yaml:"gateway,omitempty" toml:"gateway,omitempty"`
	NameServer         string `yaml:"name_server,omitempty" toml:"name_server,omitempty"`
	NameServer2        string `yaml:"name_server_2,omitempty" toml:"name_server_2,omitempty"`
	DomainName         string `yaml:"domain_name,omitempty" toml:"domain_name,omitempty"`
	HostName           string `yaml:"host_name,omitempty" toml:"host_name,omitempty"`
	MAC                string `yaml:"mac,omitempty" toml:"mac,omitempty"`
	LinkSpeedMbps      uint32 `yaml:"link_speed_mbps,omitempty" toml:"link_speed_mbps,omitempty"`
	MulticastTTL       int    `yaml:"multicast_ttl" toml:"multicast_ttl"`
	MulticastBase      string `yaml:"multicast_base" toml:"multicast_base"`
	MulticastInterface string `yaml:"multicast_interface,omitempty" toml:"multicast_interface,omitempty"`
	// 0 disables the timeout; unset means 120 s.
	InactivityTimeoutS *int `yaml:"encapsulation_inactivity_timeout_s,omitempty" toml:"encapsulation_inactivity_timeout_s,omitempty"`
}

// ENIPSection bounds the encapsulation layer.
type ENIPSection struct {
	MaxSessions        int `yaml:"max_sessions" toml:"max_sessions"`
	MaxDelayedMessages int `yaml:"max_delayed_messages" toml:"max_delayed_messages"`
}

// CIPSection bounds the object model and the connection manager.
type CIPSection struct {
	MaxConnections         int    `yaml:"max_connections" toml:"max_connections"`
	MaxConnectionsPerPoint int    `yaml:"max_connections_per_point" toml:"max_connections_per_point"`
	MaxInstancesPerClass   int    `yaml:"max_instances_per_class" toml:"max_instances_per_class"`
	Allow64Bit             *bool  `yaml:"allow_64bit,omitempty" toml:"allow_64bit,omitempty"`
	RunIdleHeader          *bool  `yaml:"run_idle_header,omitempty" toml:"run_idle_header,omitempty"` // O->T
	ProducedRunIdle        bool   `yaml:"produced_run_idle,omitempty" toml:"produced_run_idle,omitempty"`
	IncarnationID          uint16 `yaml:"incarnation_id,omitempty" toml:"incarnation_id,omitempty"`
	HeartbeatInputOnly     uint16 `yaml:"heartbeat_input_only" toml:"heartbeat_input_only"`
	HeartbeatListenOnly    uint16 `yaml:"heartbeat_listen_only" toml:"heartbeat_listen_only"`
	MinRPIMs               int    `yaml:"min_rpi_ms,omitempty" toml:"min_rpi_ms,omitempty"`
	MaxExplicitSize        uint16 `yaml:"max_explicit_size,omitempty" toml:"max_explicit_size,omitempty"`
}

// AssemblyConfig describes one Assembly instance.
type AssemblyConfig struct {
	Name             string `yaml:"name" toml:"name"`
	Instance         uint16 `yaml:"instance" toml:"instance"`
	SizeBytes        int    `yaml:"size_bytes" toml:"size_bytes"`
	Direction        string `yaml:"direction" toml:"direction"`           // "input", "output", "config"
	UpdatePattern    string `yaml:"update_pattern" toml:"update_pattern"` // "static", "counter", "reflect"
	ReflectFrom      uint16 `yaml:"reflect_from,omitempty" toml:"reflect_from,omitempty"`
	UpdateIntervalMs int    `yaml:"update_interval_ms,omitempty" toml:"update_interval_ms,omitempty"`
}

// LoggingConfig controls log formatting and verbosity.
type LoggingConfig struct {
	Format         string `yaml:"format,omitempty" toml:"format,omitempty"` // "text" or "json"
	Level          string `yaml:"level,omitempty" toml:"level,omitempty"`   // "error","info","verbose","debug"
	IncludeHexDump bool   `yaml:"include_hex_dump,omitempty" toml:"include_hex_dump,omitempty"`
	LogFile        string `yaml:"log_file,omitempty" toml:"log_file,omitempty"`
}

// APIConfig controls the HTTP status API.
type APIConfig struct {
	Enable   bool   `yaml:"enable" toml:"enable"`
	ListenIP string `yaml:"listen_ip,omitempty" toml:"listen_ip,omitempty"`
	Port     int    `yaml:"port,omitempty" toml:"port,omitempty"`
}

// CaptureConfig controls pcap recording of adapter traffic.
type CaptureConfig struct {
	File    string `yaml:"file,omitempty" toml:"file,omitempty"`
	Snaplen int    `yaml:"snaplen,omitempty" toml:"snaplen,omitempty"`
}

// MetricsConfig controls periodic counter snapshots to a CSV file.
type MetricsConfig struct {
	File       string `yaml:"file,omitempty" toml:"file,omitempty"`
	IntervalMs int    `yaml:"interval_ms,omitempty" toml:"interval_ms,omitempty"`
}

// MQTTSinkConfig publishes consumed assembly data to an MQTT broker.
type MQTTSinkConfig struct {
	Enable   bool   `yaml:"enable" toml:"enable"`
	Broker   string `yaml:"broker,omitempty" toml:"broker,omitempty"` // tcp://host:1883
	ClientID string `yaml:"client_id,omitempty" toml:"client_id,omitempty"`
	Topic    string `yaml:"topic,omitempty" toml:"topic,omitempty"`
	QoS      byte   `yaml:"qos,omitempty" toml:"qos,omitempty"`
	Username string `yaml:"username,omitempty" toml:"username,omitempty"`
	Password string `yaml:"password,omitempty" toml:"password,omitempty"`
}

// RedisSinkConfig publishes consumed assembly data to Redis.
type RedisSinkConfig struct {
	Enable    bool   `yaml:"enable" toml:"enable"`
	Addr      string `yaml:"addr,omitempty" toml:"addr,omitempty"`
	Password  string `yaml:"password,omitempty" toml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty" toml:"db,omitempty"`
	Channel   string `yaml:"channel,omitempty" toml:"channel,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty" toml:"key_prefix,omitempty"`
}

// KafkaSinkConfig appends consumed assembly data to a Kafka topic.
type KafkaSinkConfig struct {
	Enable  bool     `yaml:"enable" toml:"enable"`
	Brokers []string `yaml:"brokers,omitempty" toml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty" toml:"topic,omitempty"`
}

// SinksConfig selects where consumed assembly data is forwarded.
type SinksConfig struct {
	QueueSize int             `yaml:"queue_size,omitempty" toml:"queue_size,omitempty"`
	MQTT      MQTTSinkConfig  `yaml:"mqtt,omitempty" toml:"mqtt,omitempty"`
	Redis     RedisSinkConfig `yaml:"redis,omitempty" toml:"redis,omitempty"`
	Kafka     KafkaSinkConfig `yaml:"kafka,omitempty" toml:"kafka,omitempty"`
}

// AdapterConfig is the complete adapter configuration.
type AdapterConfig struct {
	Server     ServerSection    `yaml:"server" toml:"server"`
	Identity   IdentitySection  `yaml:"identity" toml:"identity"`
	Network    NetworkSection   `yaml:"network" toml:"network"`
	ENIP       ENIPSection      `yaml:"enip" toml:"enip"`
	CIP        CIPSection       `yaml:"cip" toml:"cip"`
	Assemblies []AssemblyConfig `yaml:"assemblies" toml:"assemblies"`
	Logging    LoggingConfig    `yaml:"logging,omitempty" toml:"logging,omitempty"`
	API        APIConfig        `yaml:"api,omitempty" toml:"api,omitempty"`
	Capture    CaptureConfig    `yaml:"capture,omitempty" toml:"capture,omitempty"`
	Metrics    MetricsConfig    `yaml:"metrics,omitempty" toml:"metrics,omitempty"`
	Sinks      SinksConfig      `yaml:"sinks,omitempty" toml:"sinks,omitempty"`
}

// TickInterval returns the loop tick as a duration.
func (c *AdapterConfig) TickInterval() time.Duration {
	return time.Duration(c.Server.TickIntervalMs) * time.Millisecond
}

// InactivityTimeout returns the encapsulation inactivity timeout; 0 means
// disabled.
func (c *AdapterConfig) InactivityTimeout() time.Duration {
	if c.Network.InactivityTimeoutS == nil {
		return DefaultInactivityTimeoutS * time.Second
	}
	return time.Duration(*c.Network.InactivityTimeoutS) * time.Second
}

// Defaults applied when a field is left empty.
const (
	DefaultTCPPort             = 44818
	DefaultIOPort              = 2222
	DefaultTickIntervalMs      = 10
	DefaultInactivityTimeoutS  = 120
	DefaultMaxSessions         = 20
	DefaultMaxDelayedMessages  = 2
	DefaultMaxConnections      = 16
	DefaultConnectionsPerPoint = 3
	DefaultInstancesPerClass   = 64
	DefaultMulticastBase       = "239.192.1.0"
	DefaultAPIPort             = 8080
	DefaultSinkQueueSize       = 256
)

// CreateDefaultAdapterConfig returns a configuration with one input, one
// output, one configuration assembly and the two heartbeat points.
func CreateDefaultAdapterConfig() *AdapterConfig {
	cfg := &AdapterConfig{
		Server: ServerSection{
			Name:     "cipadapter",
			ListenIP: "0.0.0.0",
		},
		Identity: IdentitySection{
			VendorID:    1,
			DeviceType:  0x0C,
			ProductCode: 65001,
			RevMajor:    1,
			RevMinor:    1,
			Serial:      0x00C1AD01,
			ProductName: "cipadapter",
		},
		CIP: CIPSection{
			HeartbeatInputOnly:  152,
			HeartbeatListenOnly: 153,
		},
		Assemblies: []AssemblyConfig{
			{Name: "Inputs", Instance: 100, SizeBytes: 32, Direction: "input", UpdatePattern: "counter"},
			{Name: "Echo", Instance: 101, SizeBytes: 32, Direction: "input", UpdatePattern: "reflect", ReflectFrom: 150},
			{Name: "Outputs", Instance: 150, SizeBytes: 32, Direction: "output", UpdatePattern: "static"},
			{Name: "Config", Instance: 151, SizeBytes: 10, Direction: "config", UpdatePattern: "static"},
			{Name: "InputOnlyHeartbeat", Instance: 152, SizeBytes: 0, Direction: "output", UpdatePattern: "static"},
			{Name: "ListenOnlyHeartbeat", Instance: 153, SizeBytes: 0, Direction: "output", UpdatePattern: "static"},
		},
	}
	applyDefaults(cfg)
	return cfg
}

// LoadAdapterConfig reads a YAML or TOML file (by extension), applies
// defaults and validates the result.
func LoadAdapterConfig(path string) (*AdapterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s\n\n"+
				"To fix this:\n"+
				"  1. Write the defaults: cipadapter print-default-config > cipadapter.yaml\n"+
				"  2. Edit cipadapter.yaml with your device settings\n"+
				"  3. Or specify a custom config file with --config <path>", path)
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg, err := ParseAdapterConfig(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	if err := ValidateAdapterConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ParseAdapterConfig decodes data in the given format ("yaml" or "toml") and
// applies defaults. It does not validate.
func ParseAdapterConfig(data []byte, format string) (*AdapterConfig, error) {
	var cfg AdapterConfig
	switch format {
	case "toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Marshal encodes cfg in the given format ("yaml" or "toml").
func Marshal(cfg *AdapterConfig, format string) ([]byte, error) {
	if format == "toml" {
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encode TOML: %w", err)
		}
		return []byte(buf.String()), nil
	}
	return yaml.Marshal(cfg)
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

func applyDefaults(cfg *AdapterConfig) {
	applyServerDefaults(cfg)
	applyNetworkDefaults(cfg)
	applyENIPDefaults(cfg)
	applyCIPDefaults(cfg)
	applyAssemblyDefaults(cfg)
	applyLoggingDefaults(cfg)
	applySideDefaults(cfg)
}

func applyServerDefaults(cfg *AdapterConfig) {
	if cfg.Server.ListenIP == "" {
		cfg.Server.ListenIP = "0.0.0.0"
	}
	if cfg.Server.TCPPort == 0 {
		cfg.Server.TCPPort = DefaultTCPPort
	}
	if cfg.Server.IOPort == 0 {
		cfg.Server.IOPort = DefaultIOPort
	}
	if cfg.Server.TickIntervalMs == 0 {
		cfg.Server.TickIntervalMs = DefaultTickIntervalMs
	}
	if cfg.Identity.ProductName == "" {
		if cfg.Server.Name != "" {
			cfg.Identity.ProductName = cfg.Server.Name
		} else {
			cfg.Identity.ProductName = "cipadapter"
		}
	}
	if cfg.Identity.RevMajor == 0 {
		cfg.Identity.RevMajor = 1
	}
}

func applyNetworkDefaults(cfg *AdapterConfig) {
	if cfg.Network.MulticastTTL == 0 {
		cfg.Network.MulticastTTL = 1
	}
	if cfg.Network.MulticastBase == "" {
		cfg.Network.MulticastBase = DefaultMulticastBase
	}
	if cfg.Network.InactivityTimeoutS == nil {
		v := DefaultInactivityTimeoutS
		cfg.Network.InactivityTimeoutS = &v
	}
	if cfg.Network.LinkSpeedMbps == 0 {
		cfg.Network.LinkSpeedMbps = 100
	}
}

func applyENIPDefaults(cfg *AdapterConfig) {
	if cfg.ENIP.MaxSessions == 0 {
		cfg.ENIP.MaxSessions = DefaultMaxSessions
	}
	if cfg.ENIP.MaxDelayedMessages == 0 {
		cfg.ENIP.MaxDelayedMessages = DefaultMaxDelayedMessages
	}
}

func applyCIPDefaults(cfg *AdapterConfig) {
	if cfg.CIP.MaxConnections == 0 {
		cfg.CIP.MaxConnections = DefaultMaxConnections
	}
	if cfg.CIP.MaxConnectionsPerPoint == 0 {
		cfg.CIP.MaxConnectionsPerPoint = DefaultConnectionsPerPoint
	}
	if cfg.CIP.MaxInstancesPerClass == 0 {
		cfg.CIP.MaxInstancesPerClass = DefaultInstancesPerClass
	}
	cfg.CIP.Allow64Bit = boolPtrDefault(cfg.CIP.Allow64Bit, true)
	cfg.CIP.RunIdleHeader = boolPtrDefault(cfg.CIP.RunIdleHeader, true)
}

func applyAssemblyDefaults(cfg *AdapterConfig) {
	for i := range cfg.Assemblies {
		if cfg.Assemblies[i].UpdatePattern == "" {
			cfg.Assemblies[i].UpdatePattern = "static"
		}
	}
}

func applyLoggingDefaults(cfg *AdapterConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func applySideDefaults(cfg *AdapterConfig) {
	if cfg.API.ListenIP == "" {
		cfg.API.ListenIP = "127.0.0.1"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = DefaultAPIPort
	}
	if cfg.Capture.Snaplen == 0 {
		cfg.Capture.Snaplen = 65535
	}
	if cfg.Metrics.IntervalMs == 0 {
		cfg.Metrics.IntervalMs = 1000
	}
	if cfg.Sinks.QueueSize == 0 {
		cfg.Sinks.QueueSize = DefaultSinkQueueSize
	}
	if cfg.Sinks.MQTT.Topic == "" {
		cfg.Sinks.MQTT.Topic = "cipadapter/assemblies"
	}
	if cfg.Sinks.MQTT.ClientID == "" {
		cfg.Sinks.MQTT.ClientID = "cipadapter"
	}
	if cfg.Sinks.Redis.Channel == "" {
		cfg.Sinks.Redis.Channel = "cipadapter:assemblies"
	}
	if cfg.Sinks.Redis.KeyPrefix == "" {
		cfg.Sinks.Redis.KeyPrefix = "cipadapter:assembly:"
	}
	if cfg.Sinks.Kafka.Topic == "" {
		cfg.Sinks.Kafka.Topic = "cipadapter-assemblies"
	}
}

func boolPtrDefault(value *bool, def bool) *bool {
	if value != nil {
		return value
	}
	v := def
	return &v
}

// ValidateAdapterConfig rejects inconsistent configurations.
func ValidateAdapterConfig(cfg *AdapterConfig) error {
	if err := validatePort("server.tcp_port", cfg.Server.TCPPort); err != nil {
		return err
	}
	if err := validatePort("server.io_port", cfg.Server.IOPort); err != nil {
		return err
	}
	if net.ParseIP(cfg.Server.ListenIP).To4() == nil {
		return fmt.Errorf("server.listen_ip must be an IPv4 address, got '%s'", cfg.Server.ListenIP)
	}
	if cfg.Server.TickIntervalMs < 1 {
		return fmt.Errorf("server.tick_interval_ms must be >= 1")
	}
	if cfg.Identity.VendorID == 0 {
		return fmt.Errorf("identity.vendor_id is required")
	}
	if len(cfg.Identity.ProductName) > 32 {
		return fmt.Errorf("identity.product_name must be at most 32 characters")
	}

	if err := validateNetwork(cfg.Network); err != nil {
		return err
	}

	if cfg.ENIP.MaxSessions < 1 {
		return fmt.Errorf("enip.max_sessions must be >= 1")
	}
	if cfg.ENIP.MaxDelayedMessages < 1 {
		return fmt.Errorf("enip.max_delayed_messages must be >= 1")
	}
	if cfg.CIP.MaxConnections < 1 {
		return fmt.Errorf("cip.max_connections must be >= 1")
	}
	if cfg.CIP.MaxConnectionsPerPoint < 1 {
		return fmt.Errorf("cip.max_connections_per_point must be >= 1")
	}
	if cfg.CIP.MaxInstancesPerClass < 1 {
		return fmt.Errorf("cip.max_instances_per_class must be >= 1")
	}
	if cfg.CIP.MinRPIMs < 0 {
		return fmt.Errorf("cip.min_rpi_ms must be >= 0")
	}

	if len(cfg.Assemblies) == 0 {
		return fmt.Errorf("assemblies must have at least one entry")
	}
	if len(cfg.Assemblies) > cfg.CIP.MaxInstancesPerClass {
		return fmt.Errorf("assemblies has %d entries, cip.max_instances_per_class is %d", len(cfg.Assemblies), cfg.CIP.MaxInstancesPerClass)
	}
	byInstance := make(map[uint16]AssemblyConfig, len(cfg.Assemblies))
	for i, asm := range cfg.Assemblies {
		if err := validateAssembly(asm, i); err != nil {
			return err
		}
		if _, dup := byInstance[asm.Instance]; dup {
			return fmt.Errorf("assemblies[%d]: instance %d is defined twice", i, asm.Instance)
		}
		byInstance[asm.Instance] = asm
	}
	for i, asm := range cfg.Assemblies {
		if asm.UpdatePattern != "reflect" {
			continue
		}
		src, ok := byInstance[asm.ReflectFrom]
		if !ok || src.Direction != "output" {
			return fmt.Errorf("assemblies[%d]: reflect_from %d must name an output assembly", i, asm.ReflectFrom)
		}
	}
	for _, hb := range []struct {
		key      string
		instance uint16
	}{
		{"cip.heartbeat_input_only", cfg.CIP.HeartbeatInputOnly},
		{"cip.heartbeat_listen_only", cfg.CIP.HeartbeatListenOnly},
	} {
		if hb.instance == 0 {
			continue
		}
		asm, ok := byInstance[hb.instance]
		if !ok || asm.Direction != "output" {
			return fmt.Errorf("%s: instance %d must be an output assembly", hb.key, hb.instance)
		}
	}

	if cfg.Logging.Level != "" {
		switch strings.ToLower(cfg.Logging.Level) {
		case "silent", "error", "info", "verbose", "debug":
		default:
			return fmt.Errorf("logging.level must be silent, error, info, verbose, or debug")
		}
	}
	if cfg.Logging.Format != "" {
		switch strings.ToLower(cfg.Logging.Format) {
		case "text", "json":
		default:
			return fmt.Errorf("logging.format must be text or json")
		}
	}

	if cfg.API.Enable {
		if err := validatePort("api.port", cfg.API.Port); err != nil {
			return err
		}
	}
	if cfg.Metrics.IntervalMs < 1 {
		return fmt.Errorf("metrics.interval_ms must be >= 1")
	}
	return validateSinks(cfg.Sinks)
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", key, port)
	}
	return nil
}

func validateNetwork(n NetworkSection) error {
	for _, f := range []struct{ key, value string }{
		{"network.address", n.Address},
		{"network.network_mask", n.NetworkMask},
		{"network.gateway", n.Gateway},
		{"network.name_server", n.NameServer},
		{"network.name_server_2", n.NameServer2},
	} {
		if f.value == "" {
			continue
		}
		if addr, err := netip.ParseAddr(f.value); err != nil || !addr.Is4() {
			return fmt.Errorf("%s must be an IPv4 address, got '%s'", f.key, f.value)
		}
	}
	base, err := netip.ParseAddr(n.MulticastBase)
	if err != nil || !base.Is4() || !base.IsMulticast() {
		return fmt.Errorf("network.multicast_base must be an IPv4 multicast address, got '%s'", n.MulticastBase)
	}
	if n.MulticastTTL < 1 || n.MulticastTTL > 255 {
		return fmt.Errorf("network.multicast_ttl must be between 1 and 255")
	}
	if n.MAC != "" {
		if _, err := ParseMAC(n.MAC); err != nil {
			return fmt.Errorf("network.mac: %w", err)
		}
	}
	if n.InactivityTimeoutS != nil && (*n.InactivityTimeoutS < 0 || *n.InactivityTimeoutS > 3600) {
		return fmt.Errorf("network.encapsulation_inactivity_timeout_s must be between 0 and 3600")
	}
	return nil
}

// validateAssembly validates one assembly entry.
func validateAssembly(asm AssemblyConfig, index int) error {
	if asm.Name == "" {
		return fmt.Errorf("assemblies[%d]: name is required", index)
	}
	if asm.Instance == 0 {
		return fmt.Errorf("assemblies[%d]: instance must be > 0", index)
	}
	if asm.SizeBytes < 0 || asm.SizeBytes > 65535 {
		return fmt.Errorf("assemblies[%d]: size_bytes must be between 0 and 65535", index)
	}
	switch asm.Direction {
	case "input", "output", "config":
	default:
		return fmt.Errorf("assemblies[%d]: direction must be 'input', 'output', or 'config', got '%s'", index, asm.Direction)
	}
	switch asm.UpdatePattern {
	case "static", "counter":
	case "reflect":
		if asm.Direction == "output" {
			return fmt.Errorf("assemblies[%d]: output assemblies cannot use the reflect pattern", index)
		}
	default:
		return fmt.Errorf("assemblies[%d]: update_pattern must be 'static', 'counter', or 'reflect', got '%s'", index, asm.UpdatePattern)
	}
	if asm.UpdateIntervalMs < 0 {
		return fmt.Errorf("assemblies[%d]: update_interval_ms must be >= 0", index)
	}
	return nil
}

func validateSinks(s SinksConfig) error {
	if s.QueueSize < 1 {
		return fmt.Errorf("sinks.queue_size must be >= 1")
	}
	if s.MQTT.Enable {
		if s.MQTT.Broker == "" {
			return fmt.Errorf("sinks.mqtt.broker is required when mqtt is enabled")
		}
		if s.MQTT.QoS > 2 {
			return fmt.Errorf("sinks.mqtt.qos must be 0, 1, or 2")
		}
	}
	if s.Redis.Enable && s.Redis.Addr == "" {
		return fmt.Errorf("sinks.redis.addr is required when redis is enabled")
	}
	if s.Kafka.Enable && len(s.Kafka.Brokers) == 0 {
		return fmt.Errorf("sinks.kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// ParseMAC parses a colon or dash separated 6-byte hardware address.
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, err
	}
	if len(hw) != 6 {
		return mac, fmt.Errorf("want a 6-byte address, got %d bytes", len(hw))
	}
	copy(mac[:], hw)
	return mac, nil
}

// ParseIPv4 parses an optional IPv4 address; an empty string yields the zero
// address.
func ParseIPv4(s string) netip.Addr {
	if s == "" {
		return netip.Addr{}
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}
	}
	return addr
}
