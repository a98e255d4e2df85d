package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultDomain = "warpmeet.qzz.io"

	DefaultPollInterval      = 300 * time.Millisecond
	DefaultReconnectBase     = 1 * time.Second
	DefaultReconnectMax      = 10 * time.Second
	DefaultReconnectAttempts = 5
	DefaultPeerRetryDelay    = 2 * time.Second
	DefaultPeerMaxRetries    = 5
)

// DefaultSTUN lists the public STUN servers used when none is configured.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// DefaultTransports is the signaling transport preference order.
var DefaultTransports = []string{"relay", "redis", "bus", "store"}

// Config holds application configuration
type Config struct {
	// Domain is the relay server domain
	Domain string

	// WebSocketURL is constructed from domain
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	// Redis pub/sub transport, disabled when RedisAddr is empty
	RedisAddr     string
	RedisPassword string

	// StoreDir holds the local polling store files
	StoreDir string

	// Transports is the ranked list of signaling transports to try
	Transports []string

	PollInterval      time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	PeerRetryDelay    time.Duration
	PeerMaxRetries    int
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	RedisAddr  string
	Transports string

	// ConfigFile overrides the default config file location
	ConfigFile string
}

// fileConfig mirrors the optional YAML config file.
type fileConfig struct {
	Domain            string   `yaml:"domain"`
	STUNServers       []string `yaml:"stun_servers"`
	TURNServer        string   `yaml:"turn_server"`
	TURNUser          string   `yaml:"turn_username"`
	TURNPass          string   `yaml:"turn_password"`
	RedisAddr         string   `yaml:"redis_addr"`
	RedisPassword     string   `yaml:"redis_password"`
	StoreDir          string   `yaml:"store_dir"`
	Transports        []string `yaml:"transports"`
	PollInterval      string   `yaml:"poll_interval"`
	ReconnectBase     string   `yaml:"reconnect_base"`
	ReconnectMax      string   `yaml:"reconnect_max"`
	ReconnectAttempts int      `yaml:"reconnect_attempts"`
	PeerRetryDelay    string   `yaml:"peer_retry_delay"`
	PeerMaxRetries    int      `yaml:"peer_max_retries"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (YAML)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	file, err := readFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	domain := pick(opts.Domain, os.Getenv("DOMAIN"), file.Domain, DefaultDomain)

	stunServers := DefaultSTUN
	if len(file.STUNServers) > 0 {
		stunServers = file.STUNServers
	}
	if s := pick(opts.STUNServer, os.Getenv("STUN_SERVER")); s != "" {
		stunServers = splitList(s)
	}

	transports := DefaultTransports
	if len(file.Transports) > 0 {
		transports = file.Transports
	}
	if t := pick(opts.Transports, os.Getenv("TRANSPORTS")); t != "" {
		transports = splitList(t)
	}

	cfg := &Config{
		Domain:        domain,
		WebSocketURL:  fmt.Sprintf("wss://%s/ws", domain),
		STUNServers:   stunServers,
		TURNServer:    pick(opts.TURNServer, os.Getenv("TURN_SERVER"), file.TURNServer),
		TURNUser:      pick(opts.TURNUser, os.Getenv("TURN_USERNAME"), file.TURNUser),
		TURNPass:      pick(opts.TURNPass, os.Getenv("TURN_PASSWORD"), file.TURNPass),
		ForceRelay:    opts.ForceRelay,
		RedisAddr:     pick(opts.RedisAddr, os.Getenv("REDIS_ADDR"), file.RedisAddr),
		RedisPassword: pick(os.Getenv("REDIS_PASSWORD"), file.RedisPassword),
		StoreDir:      pick(os.Getenv("STORE_DIR"), file.StoreDir, filepath.Join(os.TempDir(), "warpmeet")),
		Transports:    transports,
	}

	durations := []struct {
		dst      *time.Duration
		env      string
		file     string
		fallback time.Duration
	}{
		{&cfg.PollInterval, "POLL_INTERVAL", file.PollInterval, DefaultPollInterval},
		{&cfg.ReconnectBase, "RECONNECT_BASE", file.ReconnectBase, DefaultReconnectBase},
		{&cfg.ReconnectMax, "RECONNECT_MAX", file.ReconnectMax, DefaultReconnectMax},
		{&cfg.PeerRetryDelay, "PEER_RETRY_DELAY", file.PeerRetryDelay, DefaultPeerRetryDelay},
	}
	for _, d := range durations {
		v, err := parseDuration(pick(os.Getenv(d.env), d.file), d.fallback)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.ToLower(d.env), err)
		}
		*d.dst = v
	}

	if cfg.ReconnectAttempts, err = parseInt(os.Getenv("RECONNECT_ATTEMPTS"), file.ReconnectAttempts, DefaultReconnectAttempts); err != nil {
		return nil, fmt.Errorf("reconnect_attempts: %w", err)
	}
	if cfg.PeerMaxRetries, err = parseInt(os.Getenv("PEER_MAX_RETRIES"), file.PeerMaxRetries, DefaultPeerMaxRetries); err != nil {
		return nil, fmt.Errorf("peer_max_retries: %w", err)
	}

	return cfg, nil
}

// DefaultConfigFile returns $XDG_CONFIG_HOME/warpmeet/config.yaml.
func DefaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "warpmeet", "config.yaml")
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		path = DefaultConfigFile()
	}
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

// pick returns the first non-empty value.
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
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

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

func parseInt(env string, file, fallback int) (int, error) {
	if env != "" {
		return strconv.Atoi(env)
	}
	if file != 0 {
		return file, nil
	}
	return fallback, nil
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", strings.TrimPrefix(c.TURNServer, "turn:")),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}
