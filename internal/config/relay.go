package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRelayAddr       = ":8080"
	DefaultRelaySendBuffer = 256
)

// RelayConfig holds relay server configuration.
type RelayConfig struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer"`
	LogLevel       string   `yaml:"log_level"`
	LogFile        string   `yaml:"log_file"`
}

// RelayOptions carries relay flag values. Zero values mean "not set".
type RelayOptions struct {
	ConfigFile string
	Addr       string
	LogLevel   string
	LogFile    string
}

// LoadRelay reads relay configuration: YAML file, then environment, then flags.
func LoadRelay(opts RelayOptions) (*RelayConfig, error) {
	cfg := &RelayConfig{
		Addr:       DefaultRelayAddr,
		SendBuffer: DefaultRelaySendBuffer,
		LogLevel:   "info",
	}

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read relay config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, opts.ConfigFile, err)
		}
	}

	if v := os.Getenv("RELAY_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("RELAY_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("RELAY_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("RELAY_SEND_BUFFER"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, fmt.Errorf("%w: RELAY_SEND_BUFFER: %v", ErrInvalid, err)
		}
		cfg.SendBuffer = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.Addr = pick(opts.Addr, cfg.Addr)
	cfg.LogLevel = pick(opts.LogLevel, cfg.LogLevel)
	cfg.LogFile = pick(opts.LogFile, cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RelayConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: relay address is empty", ErrInvalid)
	}
	if c.SendBuffer <= 0 {
		return errors.Join(ErrInvalid, fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer))
	}
	return nil
}
