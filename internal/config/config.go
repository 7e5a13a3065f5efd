// Package config loads the roomcall configuration from a YAML file, a .env
// file and ROOMCALL_* environment variables, in that order of precedence
// (later wins). Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/1ureka/roomcall/internal/util"
)

const (
	DefaultRelayURL    = "ws://127.0.0.1:9000/ws"
	DefaultListenAddr  = ":9000"
	DefaultVideoWidth  = 500
	DefaultVideoHeight = 500
	DefaultLogLevel    = "info"
)

// Default STUN servers for ICE candidate gathering. No TURN by default.
var defaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config holds every setting of the call client and the relay.
type Config struct {
	Username string `yaml:"username"`
	Room     string `yaml:"room"`

	RelayURL   string `yaml:"relay_url"`   // client: relay WebSocket endpoint
	ListenAddr string `yaml:"listen_addr"` // relay: HTTP listen address
	RedisAddr  string `yaml:"redis_addr"`  // relay: optional presence store

	ICEServers []ICEServer `yaml:"ice_servers"`

	VideoWidth  int    `yaml:"video_width"`
	VideoHeight int    `yaml:"video_height"`
	AudioFile   string `yaml:"audio_file"` // .ogg (Opus); empty sends silence
	VideoFile   string `yaml:"video_file"` // .ivf (VP8); empty sends no video

	RecordDir string `yaml:"record_dir"` // remote tracks are written here when set
	HistoryDB string `yaml:"history_db"` // SQLite path; empty disables history
	LogLevel  string `yaml:"log_level"`

	mu   sync.Mutex `yaml:"-"`
	file string     `yaml:"-"`
}

// Load reads file (if it exists), then .env and ROOMCALL_* variables, and
// fills defaults for anything still unset.
func Load(file string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{file: file}

	if file != "" {
		if _, err := os.Stat(file); err == nil {
			yamlFeeder := feeder.Yaml{Path: file}
			if err := config.New().AddFeeder(yamlFeeder).AddStruct(cfg).Feed(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", file, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", file, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from ROOMCALL_* environment variables.
func (c *Config) applyEnv() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	strs := map[string]*string{
		"ROOMCALL_USERNAME":    &c.Username,
		"ROOMCALL_ROOM":        &c.Room,
		"ROOMCALL_RELAY_URL":   &c.RelayURL,
		"ROOMCALL_LISTEN_ADDR": &c.ListenAddr,
		"ROOMCALL_REDIS_ADDR":  &c.RedisAddr,
		"ROOMCALL_AUDIO_FILE":  &c.AudioFile,
		"ROOMCALL_VIDEO_FILE":  &c.VideoFile,
		"ROOMCALL_RECORD_DIR":  &c.RecordDir,
		"ROOMCALL_HISTORY_DB":  &c.HistoryDB,
		"ROOMCALL_LOG_LEVEL":   &c.LogLevel,
	}
	for name, field := range strs {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*field = v
		}
	}

	ints := map[string]*int{
		"ROOMCALL_VIDEO_WIDTH":  &c.VideoWidth,
		"ROOMCALL_VIDEO_HEIGHT": &c.VideoHeight,
	}
	for name, field := range ints {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = n
	}

	if raw := strings.TrimSpace(os.Getenv(envICEServersJSON)); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		c.ICEServers = servers
	}
	return nil
}

func (c *Config) ensureDefaults() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.RelayURL == "" {
		c.RelayURL = DefaultRelayURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.VideoWidth == 0 {
		c.VideoWidth = DefaultVideoWidth
	}
	if c.VideoHeight == 0 {
		c.VideoHeight = DefaultVideoHeight
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if len(c.ICEServers) == 0 {
		c.ICEServers = []ICEServer{{URLs: append([]string(nil), defaultSTUN...)}}
	}
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.VideoWidth < 0 || c.VideoHeight < 0 {
		return fmt.Errorf("invalid video size %dx%d", c.VideoWidth, c.VideoHeight)
	}
	if _, err := util.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	for i, s := range c.ICEServers {
		if err := validateICEServer(s); err != nil {
			return fmt.Errorf("ice_servers[%d]: %w", i, err)
		}
	}
	return nil
}

// Save writes the current configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.file == "" {
		return fmt.Errorf("config file path is not set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.file, data, 0o644)
}

// File returns the path the configuration was loaded from.
func (c *Config) File() string { return c.file }
