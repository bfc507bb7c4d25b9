package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Transport TransportConfig  `toml:"transport"`
	WebSocket WebSocketConfig  `toml:"websocket"`
	Storage   StorageConfig    `toml:"storage"`
	Upload    UploadConfig     `toml:"upload"`
	Janitor   JanitorConfig    `toml:"janitor"`
	Logging   LoggingConfig    `toml:"logging"`
}

// TransportConfig contains the upload service endpoints
type TransportConfig struct {
	ChunkURL    string `toml:"chunk_url" validate:"required,url"`    // Endpoint receiving individual chunks
	CompleteURL string `toml:"complete_url" validate:"required,url"` // Endpoint signalling transfer completion
	CancelURL   string `toml:"cancel_url" validate:"required,url"`   // Endpoint for best-effort job cancellation
	Timeout     string `toml:"timeout"`                              // Per-request timeout as duration string ("" = no client timeout)
}

// WebSocketConfig contains the progress channel configuration
type WebSocketConfig struct {
	URL                  string `toml:"url" validate:"required"` // ws:// or wss:// endpoint for job progress events
	ReconnectInitial     string `toml:"reconnect_initial"`       // Backoff floor (default: "1s")
	ReconnectMax         string `toml:"reconnect_max"`           // Backoff cap (default: "30s")
	MaxRetries           int    `toml:"max_retries"`             // Reconnect attempt ceiling before giving up (default: 8)
	ProgressSaveInterval string `toml:"progress_save_interval"`  // Minimum interval between checkpoint writes for progress events (default: "2s")
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path string `toml:"path" validate:"required"` // Database directory path
}

// FilesystemConfig locates the blob spool directory
type FilesystemConfig struct {
	Blobs string `toml:"blobs" validate:"required"` // Directory holding spooled upload payloads
}

// UploadConfig contains transfer tuning
type UploadConfig struct {
	ChunkSize int64 `toml:"chunk_size" validate:"gt=0"` // Chunk size in bytes
}

// JanitorConfig controls the orphan blob sweep
type JanitorConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
	MinAge   string `toml:"min_age"`  // Blobs younger than this are never swept (default: "1h")
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			ChunkURL:    "http://localhost:8088/api/upload-service/chunk",
			CompleteURL: "http://localhost:8088/api/upload-service/complete",
			CancelURL:   "http://localhost:8088/api/upload-service/cancel",
			Timeout:     "", // Rely on transport-level behavior unless configured
		},
		WebSocket: WebSocketConfig{
			URL:                  "ws://localhost:8088/ws",
			ReconnectInitial:     "1s",
			ReconnectMax:         "30s",
			MaxRetries:           8,
			ProgressSaveInterval: "2s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Filesystem: FilesystemConfig{
				Blobs: "./data/blobs",
			},
		},
		Upload: UploadConfig{
			ChunkSize: 512 * 1024, // 0.5 MB
		},
		Janitor: JanitorConfig{
			Enabled:  false,
			Schedule: "*/10 * * * *", // Every 10 minutes
			MinAge:   "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env -> CLI flags.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if url := os.Getenv("UPSTREAM_CHUNK_URL"); url != "" {
		config.Transport.ChunkURL = url
	}
	if url := os.Getenv("UPSTREAM_COMPLETE_URL"); url != "" {
		config.Transport.CompleteURL = url
	}
	if url := os.Getenv("UPSTREAM_CANCEL_URL"); url != "" {
		config.Transport.CancelURL = url
	}
	if url := os.Getenv("UPSTREAM_WS_URL"); url != "" {
		config.WebSocket.URL = url
	}
	if path := os.Getenv("UPSTREAM_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if path := os.Getenv("UPSTREAM_BLOB_PATH"); path != "" {
		config.Storage.Filesystem.Blobs = path
	}
	if size := os.Getenv("UPSTREAM_CHUNK_SIZE"); size != "" {
		if s, err := strconv.ParseInt(size, 10, 64); err == nil && s > 0 {
			config.Upload.ChunkSize = s
		}
	}
	if level := os.Getenv("UPSTREAM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, chunkSize int64, dataDir string) {
	if chunkSize > 0 {
		config.Upload.ChunkSize = chunkSize
	}
	if dataDir != "" {
		config.Storage.Badger.Path = dataDir + "/records"
		config.Storage.Filesystem.Blobs = dataDir + "/blobs"
	}
}

// Validate checks the configuration for structural problems before startup
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for name, raw := range map[string]string{
		"transport.timeout":                c.Transport.Timeout,
		"websocket.reconnect_initial":      c.WebSocket.ReconnectInitial,
		"websocket.reconnect_max":          c.WebSocket.ReconnectMax,
		"websocket.progress_save_interval": c.WebSocket.ProgressSaveInterval,
		"janitor.min_age":                  c.Janitor.MinAge,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// DurationOrDefault parses a duration string, falling back when empty or malformed
func DurationOrDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
