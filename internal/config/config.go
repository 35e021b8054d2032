package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/fabrpc/internal/sm"
)

// ProcessConfig describes one fabrpc process: its locator, the shared
// management port, and the endpoints it hosts.
type ProcessConfig struct {
	Hostname    string           `toml:"hostname"`
	MgmtUDPPort uint16           `toml:"mgmt_udp_port"`
	DataUDPPort uint16           `toml:"data_udp_port"`
	DropProb    float64          `toml:"drop_prob"`
	AdminAddr   string           `toml:"admin_addr"`
	Endpoints   []EndpointConfig `toml:"endpoints"`
}

// EndpointConfig describes one single-threaded RPC endpoint.
type EndpointConfig struct {
	AppTID   uint8   `toml:"app_tid"`
	PhyPorts []uint8 `toml:"phy_ports"`
}

// Default returns the config a process gets with no file at all.
func Default() ProcessConfig {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return ProcessConfig{
		Hostname:    host,
		MgmtUDPPort: 31850,
		DataUDPPort: 31851,
		Endpoints: []EndpointConfig{
			{AppTID: 0, PhyPorts: []uint8{0}},
		},
	}
}

// Load reads and validates a process config, filling defaults for fields
// the file leaves out.
func Load(path string) (ProcessConfig, error) {
	var cfg ProcessConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return ProcessConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return ProcessConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return ProcessConfig{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *ProcessConfig) {
	defaults := Default()
	if strings.TrimSpace(cfg.Hostname) == "" {
		cfg.Hostname = defaults.Hostname
	}
	if cfg.MgmtUDPPort == 0 {
		cfg.MgmtUDPPort = defaults.MgmtUDPPort
	}
	if cfg.DataUDPPort == 0 {
		cfg.DataUDPPort = defaults.DataUDPPort
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = defaults.Endpoints
	}
}

// Marshal renders cfg as TOML, for configgen and round-trip tests.
func Marshal(cfg ProcessConfig) ([]byte, error) {
	return toml.Marshal(cfg)
}

func Validate(cfg ProcessConfig) error {
	host := strings.TrimSpace(cfg.Hostname)
	if host == "" {
		return fmt.Errorf("config missing hostname")
	}
	if len(host) > sm.MaxHostnameLen-1 {
		return fmt.Errorf("config hostname %q exceeds %d bytes", host, sm.MaxHostnameLen-1)
	}
	if cfg.MgmtUDPPort == 0 {
		return fmt.Errorf("config missing mgmt_udp_port")
	}
	if cfg.DropProb < 0 || cfg.DropProb >= 1 {
		return fmt.Errorf("config drop_prob %v outside [0, 1)", cfg.DropProb)
	}
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("config declares no endpoints")
	}
	seen := make(map[uint8]struct{}, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if ep.AppTID == sm.InvalidAppTID {
			return fmt.Errorf("endpoint[%d] app_tid %d is reserved", i, ep.AppTID)
		}
		if _, ok := seen[ep.AppTID]; ok {
			return fmt.Errorf("endpoint[%d] duplicate app_tid %d", i, ep.AppTID)
		}
		seen[ep.AppTID] = struct{}{}
		if len(ep.PhyPorts) == 0 {
			return fmt.Errorf("endpoint[%d] declares no phy_ports", i)
		}
		for _, port := range ep.PhyPorts {
			if port == sm.InvalidPhyPort {
				return fmt.Errorf("endpoint[%d] phy_port %d is reserved", i, port)
			}
		}
	}
	return nil
}
