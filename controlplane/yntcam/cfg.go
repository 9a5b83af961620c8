package yntcam

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/tcam/common/go/logging"
	"github.com/yanet-platform/tcam/controlplane/tcam/fields"
	"github.com/yanet-platform/tcam/controlplane/tcam/geometry"
	"github.com/yanet-platform/tcam/controlplane/tcam/hw"
)

type Config config
type config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// MetricsEndpoint is the address Prometheus metrics are served on.
	MetricsEndpoint string `yaml:"metrics_endpoint"`
	// ScriptSizeLimit bounds the size of rule scripts.
	ScriptSizeLimit datasize.ByteSize `yaml:"script_size_limit"`
	// Tables configuration.
	Tables []TableConfig `yaml:"tables"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level:  zapcore.InfoLevel,
			Format: "console",
		},
		MetricsEndpoint: "[::1]:9100",
		ScriptSizeLimit: datasize.MB,
		Tables: []TableConfig{
			DefaultTableConfig("ingress"),
		},
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}

// UnmarshalYAML serves as a proxy for validation.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*config)(m)); err != nil {
		return err
	}
	return m.Validate()
}

// Validate validates the configuration.
func (m *Config) Validate() error {
	if err := m.Logging.Validate(); err != nil {
		return err
	}
	if len(m.Tables) == 0 {
		return fmt.Errorf("no tables configured")
	}

	names := map[string]struct{}{}
	for idx := range m.Tables {
		table := &m.Tables[idx]
		if _, ok := names[table.Name]; ok {
			return fmt.Errorf("table %q is configured twice", table.Name)
		}
		names[table.Name] = struct{}{}

		if err := table.Validate(); err != nil {
			return fmt.Errorf("table %q: %w", table.Name, err)
		}
	}

	return nil
}

// PollConfig configures hardware command completion polling.
type PollConfig struct {
	// Interval is the sleep between two idle checks.
	Interval time.Duration `yaml:"interval"`
	// Timeout bounds a single hardware command.
	Timeout time.Duration `yaml:"timeout"`
	// Latency is the number of polls a simulated command stays busy.
	Latency int `yaml:"latency"`
}

// TableConfig describes a single table.
type TableConfig tableConfig
type tableConfig struct {
	Name     string            `yaml:"name"`
	Geometry geometry.Geometry `yaml:"geometry"`
	Poll     PollConfig        `yaml:"poll"`
	// Key lists the match fields of rules.
	Key []fields.Field `yaml:"key"`
	// Action lists the action fields of rules.
	Action []fields.Field `yaml:"action"`
}

// DefaultTableConfig returns a table of the default geometry matching on
// common L2-L4 fields.
func DefaultTableConfig(name string) TableConfig {
	return TableConfig{
		Name:     name,
		Geometry: geometry.Default(),
		Poll: PollConfig{
			Interval: hw.DefaultPollInterval,
			Timeout:  hw.DefaultPollTimeout,
		},
		Key: []fields.Field{
			{Name: "in_port", Offset: 0, Width: 6, Kind: fields.KindUint},
			{Name: "vlan", Offset: 6, Width: 12, Kind: fields.KindUint},
			{Name: "eth_type", Offset: 18, Kind: fields.KindEtherType},
			{Name: "ip_proto", Offset: 34, Kind: fields.KindIPProto},
			{Name: "dst_ip", Offset: 42, Kind: fields.KindIPv4},
			{Name: "src_ip", Offset: 74, Kind: fields.KindIPv4},
			{Name: "dst_mac", Offset: 106, Kind: fields.KindMAC},
			{Name: "src_mac", Offset: 154, Kind: fields.KindMAC},
			{Name: "dst_ip6", Offset: 202, Kind: fields.KindIPv6},
		},
		Action: []fields.Field{
			{Name: "queue", Offset: 0, Width: 3, Kind: fields.KindUint},
			{Name: "drop", Offset: 3, Kind: fields.KindBool},
			{Name: "mirror", Offset: 4, Kind: fields.KindBool},
			{Name: "set_vlan", Offset: 5, Width: 12, Kind: fields.KindUint},
			{Name: "meter", Offset: 17, Width: 16, Kind: fields.KindUint},
		},
	}
}

// UnmarshalYAML fills in defaults for omitted settings and validates the
// table.
func (m *TableConfig) UnmarshalYAML(value *yaml.Node) error {
	*m = DefaultTableConfig("")
	if err := value.Decode((*tableConfig)(m)); err != nil {
		return err
	}
	return m.Validate()
}

// Validate checks the table settings and that the largest size class can
// hold any rule the layouts describe.
func (m *TableConfig) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("table name is required")
	}
	if err := m.Geometry.Validate(); err != nil {
		return err
	}
	if m.Poll.Interval <= 0 || m.Poll.Timeout < m.Poll.Interval {
		return fmt.Errorf("poll interval %s and timeout %s are inconsistent", m.Poll.Interval, m.Poll.Timeout)
	}
	if m.Poll.Latency < 0 {
		return fmt.Errorf("negative poll latency")
	}

	key, action, err := m.Layouts()
	if err != nil {
		return err
	}
	if _, err := m.Geometry.Classify(key.Bits(), action.Bits()); err != nil {
		return fmt.Errorf("key and action layouts do not fit: %w", err)
	}

	return nil
}

// Layouts builds the key and action layouts.
func (m *TableConfig) Layouts() (*fields.Layout, *fields.Layout, error) {
	key, err := fields.NewLayout(m.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("key: %w", err)
	}
	action, err := fields.NewLayout(m.Action)
	if err != nil {
		return nil, nil, fmt.Errorf("action: %w", err)
	}

	return key, action, nil
}
