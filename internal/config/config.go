package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	pion "github.com/pion/webrtc/v4"
	"github.com/spf13/cast"
)

// Default configuration values (production)
const (
	DefaultDomain        = "roomdrop.qzz.io"
	DefaultSTUN          = "stun:stun.l.google.com:19302"
	DefaultChunkSize     = 64 * 1024
	DefaultHighWaterMark = 1024 * 1024
	DefaultPollInterval  = 10 * time.Millisecond
	DefaultWarnFileSize  = 1 << 30

	MaxChunkSize = 256 * 1024
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds client configuration.
type Config struct {
	// Domain is the relay host; RelayURL and room links derive from it.
	Domain   string
	RelayURL string

	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	ChunkSize     int
	HighWaterMark uint64
	PollInterval  time.Duration

	// MaxFileSize rejects larger files before sending. Zero disables it.
	MaxFileSize int64
	// WarnFileSize prints a warning for larger files. Zero disables it.
	WarnFileSize int64
}

// Options carries CLI flag values. Zero values mean "not set".
type Options struct {
	Domain     string
	RelayURL   string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	ChunkSize  int

	// EnvFile is loaded into the environment when present. Variables that
	// are already set win.
	EnvFile string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. .env file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		if opts.EnvFile != "" {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Domain:      pick(opts.Domain, os.Getenv("DOMAIN"), DefaultDomain),
		STUNServers: splitList(pick(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN)),
		TURNServer:  pick(opts.TURNServer, os.Getenv("TURN_SERVER"), ""),
		TURNUser:    pick(opts.TURNUser, os.Getenv("TURN_USERNAME"), ""),
		TURNPass:    pick(opts.TURNPass, os.Getenv("TURN_PASSWORD"), ""),
		ForceRelay:  opts.ForceRelay || cast.ToBool(os.Getenv("FORCE_RELAY")),
	}
	cfg.RelayURL = pick(opts.RelayURL, os.Getenv("RELAY_URL"), fmt.Sprintf("wss://%s/ws", cfg.Domain))

	var err error
	if cfg.ChunkSize, err = intSetting(opts.ChunkSize, "CHUNK_SIZE", DefaultChunkSize); err != nil {
		return nil, err
	}
	hwm, err := intSetting(0, "HIGH_WATER_MARK", DefaultHighWaterMark)
	if err != nil {
		return nil, err
	}
	cfg.HighWaterMark = uint64(max(hwm, 0))

	if cfg.PollInterval, err = durationSetting("FLOW_POLL_INTERVAL", DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.MaxFileSize, err = int64Setting("MAX_FILE_SIZE", 0); err != nil {
		return nil, err
	}
	if cfg.WarnFileSize, err = int64Setting("WARN_FILE_SIZE", DefaultWarnFileSize); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the tunables the transfer and session layers rely on.
func (c *Config) Validate() error {
	if len(c.STUNServers) == 0 && c.TURNServer == "" {
		return fmt.Errorf("%w: at least one STUN or TURN server is required", ErrInvalid)
	}
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d outside (0, %d]", ErrInvalid, c.ChunkSize, MaxChunkSize)
	}
	if c.HighWaterMark < uint64(c.ChunkSize) {
		return fmt.Errorf("%w: high-water mark %d below chunk size %d", ErrInvalid, c.HighWaterMark, c.ChunkSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalid)
	}
	if c.MaxFileSize < 0 || c.WarnFileSize < 0 {
		return fmt.Errorf("%w: file size limits must not be negative", ErrInvalid)
	}
	if !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		return fmt.Errorf("%w: relay URL %q must use ws or wss", ErrInvalid, c.RelayURL)
	}
	return nil
}

// GetRoomLink returns the web link for a room ID.
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, roomID)
}

// GetTURNServers expands the TURN host into its UDP, TCP and TLS URLs.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// ICEServers builds the pion ICE server list.
func (c *Config) ICEServers() []pion.ICEServer {
	var servers []pion.ICEServer
	if len(c.STUNServers) > 0 {
		servers = append(servers, pion.ICEServer{URLs: c.STUNServers})
	}
	if turn := c.GetTURNServers(); turn != nil {
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

func pick(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intSetting(flag int, env string, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	raw := os.Getenv(env)
	if raw == "" {
		return def, nil
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, env, err)
	}
	return v, nil
}

func int64Setting(env string, def int64) (int64, error) {
	raw := os.Getenv(env)
	if raw == "" {
		return def, nil
	}
	v, err := cast.ToInt64E(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, env, err)
	}
	return v, nil
}

func durationSetting(env string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(env)
	if raw == "" {
		return def, nil
	}
	v, err := cast.ToDurationE(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, env, err)
	}
	return v, nil
}
