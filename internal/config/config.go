// Package config handles configuration loading, validation, and persistence
// for the phxd server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir   = "config"
	DefaultConfigFile  = "config.json"
	DefaultPort        = 5500
	DefaultAPIPort     = 5600
	DefaultTrackerPort = 5499
)

// Config is the root configuration structure for phxd.
type Config struct {
	mu   sync.RWMutex
	path string

	Server    ServerConfig    `json:"server"`
	Chat      ChatConfig      `json:"chat"`
	News      NewsConfig      `json:"news"`
	Files     FilesConfig     `json:"files"`
	Transfers TransfersConfig `json:"transfers"`
	Icons     IconsConfig     `json:"icons"`
	Tracker   TrackerConfig   `json:"tracker"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	API       APIConfig       `json:"api"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Archive   ArchiveConfig   `json:"archive"`
}

// ServerConfig holds the listener and session settings.
type ServerConfig struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Bind          string `json:"bind"`
	Ports         []int  `json:"ports"`
	IdleSeconds   int    `json:"idle_seconds"`
	BanSeconds    int    `json:"ban_seconds"`
	Agreement     string `json:"agreement"`
	MaxConnPerSec int    `json:"max_conn_per_sec"`
	MaxConns      int    `json:"max_conns"`
	MaxPacketSize int    `json:"max_packet_size"`
}

// ChatConfig holds chat formatting and limits.
type ChatConfig struct {
	Format           string `json:"format"`
	PrefixLen        int    `json:"prefix_len"`
	PrefixAddNickLen bool   `json:"prefix_add_nick_len"`
	EmoteFormat      string `json:"emote_format"`
	EmotePrefixLen   int    `json:"emote_prefix_len"`
	MaxNickLen       int    `json:"max_nick_len"`
	MaxChatLen       int    `json:"max_chat_len"`
	MaxMsgLen        int    `json:"max_msg_len"`
	LogDir           string `json:"log_dir"`
}

// NewsConfig holds news formatting.
type NewsConfig struct {
	Format       string `json:"format"`
	DefaultLimit int    `json:"default_limit"`
	DateLayout   string `json:"date_layout"`
}

// FilesConfig holds the shared file tree settings.
type FilesConfig struct {
	Root         string `json:"root"`
	ShowDotfiles bool   `json:"show_dotfiles"`
	DirMode      uint32 `json:"dir_mode"`
}

// TransfersConfig holds transfer timeouts.
type TransfersConfig struct {
	TimeoutSeconds       int `json:"timeout_seconds"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

// IconsConfig holds custom GIF icon settings.
type IconsConfig struct {
	Enabled            bool   `json:"enabled"`
	MaxGIFSize         int    `json:"max_gif_size"`
	DefaultIconSeconds int    `json:"default_icon_seconds"`
	DefaultIconPath    string `json:"default_icon_path"`
}

// TrackerConfig holds tracker registration settings.
type TrackerConfig struct {
	Enabled         bool     `json:"enabled"`
	Addresses       []string `json:"addresses"`
	Port            int      `json:"port"`
	Password        string   `json:"password"`
	IntervalSeconds int      `json:"interval_seconds"`
}

// DatabaseConfig holds the account store location.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// APIConfig holds admin API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Bind           string   `json:"bind"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLS            bool     `json:"tls"`
	CertFile       string   `json:"cert_file"`
	KeyFile        string   `json:"key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
}

// ArchiveConfig holds upload archiving settings.
type ArchiveConfig struct {
	Enabled     bool   `json:"enabled"`
	Bucket      string `json:"bucket"`
	Prefix      string `json:"prefix"`
	Region      string `json:"region"`
	Endpoint    string `json:"endpoint"`
	Compression string `json:"compression"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:          "phxd",
			Description:   "My phxd server.",
			Ports:         []int{DefaultPort},
			IdleSeconds:   600,
			BanSeconds:    900,
			MaxConnPerSec: 10,
			MaxConns:      500,
			MaxPacketSize: 4 << 20,
		},
		Chat: ChatConfig{
			Format:         "\r%13.13s:  %s",
			PrefixLen:      17,
			EmoteFormat:    "\r *** %s %s",
			EmotePrefixLen: 7,
			MaxNickLen:     32,
			MaxChatLen:     4096,
			MaxMsgLen:      2048,
		},
		News: NewsConfig{
			Format:       "From %s [%s] (%s):\r\r%s\r_________________________________________________________\r",
			DefaultLimit: 25,
			DateLayout:   "Jan 02 2006 15:04:05",
		},
		Files: FilesConfig{
			Root:    "files",
			DirMode: 0755,
		},
		Transfers: TransfersConfig{
			TimeoutSeconds:       30,
			SweepIntervalSeconds: 5,
		},
		Icons: IconsConfig{
			Enabled:            true,
			MaxGIFSize:         32768,
			DefaultIconSeconds: 10,
		},
		Tracker: TrackerConfig{
			Addresses:       []string{"hltracker.com"},
			Port:            DefaultTrackerPort,
			IntervalSeconds: 300,
		},
		Database: DatabaseConfig{
			Path: "phxd.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 7,
			Console:    true,
		},
		API: APIConfig{
			Bind:         "127.0.0.1",
			Port:         DefaultAPIPort,
			RateLimitRPS: 20,
			CertFile:     "config/api.crt",
			KeyFile:      "config/api.key",
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "phxd",
		},
		Archive: ArchiveConfig{
			Prefix:      "uploads",
			Region:      "us-east-1",
			Compression: "zstd",
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults
// when missing.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// GetServer returns a copy of the server section.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.Server
	s.Ports = append([]int(nil), c.Server.Ports...)
	return s
}

// SetServer replaces the server section.
func (c *Config) SetServer(s ServerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = s
}

// GetChat returns a copy of the chat section.
func (c *Config) GetChat() ChatConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Chat
}

// GetNews returns a copy of the news section.
func (c *Config) GetNews() NewsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.News
}

// GetFiles returns a copy of the files section.
func (c *Config) GetFiles() FilesConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Files
}

// GetIcons returns a copy of the icons section.
func (c *Config) GetIcons() IconsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Icons
}

// GetTracker returns a copy of the tracker section.
func (c *Config) GetTracker() TrackerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.Tracker
	t.Addresses = append([]string(nil), c.Tracker.Addresses...)
	return t
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// GetAPI returns a copy of the admin API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a := c.API
	a.AllowedOrigins = append([]string(nil), c.API.AllowedOrigins...)
	return a
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetArchive returns a copy of the archive section.
func (c *Config) GetArchive() ArchiveConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Archive
}

// GetDatabase returns a copy of the database section.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// IdleTime returns how long a user may be silent before turning away.
func (c *Config) IdleTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Server.IdleSeconds) * time.Second
}

// BanTime returns the duration of a temporary ban after a kick.
func (c *Config) BanTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Server.BanSeconds) * time.Second
}

// TransferTimeout returns how long an idle transfer is kept.
func (c *Config) TransferTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Transfers.TimeoutSeconds) * time.Second
}

// SweepInterval returns how often stale transfers are swept.
func (c *Config) SweepInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Transfers.SweepIntervalSeconds) * time.Second
}

// TrackerInterval returns how often trackers are pinged.
func (c *Config) TrackerInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Tracker.IntervalSeconds) * time.Second
}

// DefaultIconTime returns how long a user may go without setting an icon
// before the default one is assigned.
func (c *Config) DefaultIconTime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Icons.DefaultIconSeconds) * time.Second
}

// DirMode returns the permission bits for new folders.
func (c *Config) DirMode() os.FileMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Files.DirMode == 0 {
		return 0755
	}
	return os.FileMode(c.Files.DirMode)
}
