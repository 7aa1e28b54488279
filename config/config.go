package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pdtbutler/log"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFile   = "pdtbutler.yaml"
	ConfigDirEnv = "PDTBUTLER_CONFIG_DIR"

	DefaultClockRoot = "${PDT_TESTS}/etc/clock"
	DefaultTimeoutMs = 1000
	IPbusURIPrefix   = "ipbusudp-2.0://"
)

type Connection struct {
	ID           string `yaml:"id"`
	URI          string `yaml:"uri"`
	AddressTable string `yaml:"address_table"`
	TimeoutMs    int    `yaml:"timeout_ms,omitempty"`
}

// HostSFP describes an SFP cage wired to the host rather than to the FPGA.
type HostSFP struct {
	Name      string `yaml:"name"`
	Bus       string `yaml:"bus"`
	TxDisable int    `yaml:"tx_disable_gpio,omitempty"`
	ModAbs    int    `yaml:"mod_abs_gpio,omitempty"`
	LosChip   string `yaml:"los_chip,omitempty"`
	LosLine   int    `yaml:"los_line,omitempty"`
}

type IPMI struct {
	MCH      string `yaml:"mch"`
	Slot     int    `yaml:"slot"`
	Ipmitool string `yaml:"ipmitool,omitempty"`
}

type Metrics struct {
	Textfile string `yaml:"textfile,omitempty"`
}

type Config struct {
	Connections []Connection `yaml:"connections"`
	TimeoutMs   int          `yaml:"timeout_ms,omitempty"`
	ClockRoot   string       `yaml:"clock_root,omitempty"`
	IPMI        IPMI         `yaml:"ipmi,omitempty"`
	HostSFPs    []HostSFP    `yaml:"host_sfps,omitempty"`
	Metrics     Metrics      `yaml:"metrics,omitempty"`
	Debug       bool         `yaml:"debug,omitempty"`

	dir string
}

var (
	ErrNoConnections = errors.New("config: no connections defined")
	ErrNotFound      = errors.New("config: not found")
)

var (
	loadOnce sync.Once
	loaded   *Config
	loadErr  error
)

// Get loads the configuration file once per process.
func Get() (*Config, error) {
	loadOnce.Do(func() {
		dir := os.Getenv(ConfigDirEnv)
		if dir == "" {
			dir = "."
		}
		loaded, loadErr = Load(filepath.Join(dir, ConfigFile))
	})
	return loaded, loadErr
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Errorf("failed to open config %v", err)
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log.Debugf("config %+v", c)
	return &c, nil
}

func (c *Config) Normalize() {
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.ClockRoot == "" {
		c.ClockRoot = DefaultClockRoot
	}
	if c.IPMI.Ipmitool == "" {
		c.IPMI.Ipmitool = "ipmitool"
	}
	for i := range c.Connections {
		if c.Connections[i].TimeoutMs <= 0 {
			c.Connections[i].TimeoutMs = c.TimeoutMs
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Connections) == 0 {
		return ErrNoConnections
	}
	seen := make(map[string]bool)
	for _, conn := range c.Connections {
		if conn.ID == "" {
			return errors.New("config: connection id required")
		}
		if seen[conn.ID] {
			return fmt.Errorf("config: duplicate connection id %q", conn.ID)
		}
		seen[conn.ID] = true
		if !strings.HasPrefix(conn.URI, IPbusURIPrefix) {
			return fmt.Errorf("config: connection %s: unsupported uri %q", conn.ID, conn.URI)
		}
		if conn.AddressTable == "" {
			return fmt.Errorf("config: connection %s: address table required", conn.ID)
		}
	}
	for _, s := range c.HostSFPs {
		if s.Name == "" || s.Bus == "" {
			return errors.New("config: host sfp needs name and bus")
		}
	}
	if c.IPMI.MCH != "" && (c.IPMI.Slot < 1 || c.IPMI.Slot > 12) {
		return fmt.Errorf("config: ipmi slot %d out of range 1-12", c.IPMI.Slot)
	}
	return nil
}

func (c *Config) Connection(id string) (Connection, error) {
	for _, conn := range c.Connections {
		if conn.ID == id {
			return conn, nil
		}
	}
	return Connection{}, fmt.Errorf("%w: device %q, must be one of %s", ErrNotFound, id, strings.Join(c.DeviceIDs(), ", "))
}

func (c *Config) DeviceIDs() []string {
	ids := make([]string, 0, len(c.Connections))
	for _, conn := range c.Connections {
		ids = append(ids, conn.ID)
	}
	return ids
}

func (c *Config) HostSFP(name string) (HostSFP, error) {
	for _, s := range c.HostSFPs {
		if s.Name == name {
			return s, nil
		}
	}
	return HostSFP{}, fmt.Errorf("%w: host sfp %q", ErrNotFound, name)
}

// AddressTablePath resolves a table path relative to the config file.
func (c *Config) AddressTablePath(conn Connection) string {
	p := strings.TrimPrefix(conn.AddressTable, "file://")
	if filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// ClockDir expands environment variables such as PDT_TESTS in the clock root.
func (c *Config) ClockDir() string {
	return os.ExpandEnv(c.ClockRoot)
}

func (conn Connection) Timeout() time.Duration {
	return time.Duration(conn.TimeoutMs) * time.Millisecond
}

// HostPort strips the ipbus scheme.
func (conn Connection) HostPort() string {
	return strings.TrimPrefix(conn.URI, IPbusURIPrefix)
}
