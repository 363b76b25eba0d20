package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"famcal/internal/fsutil"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Remote modes.
const (
	RemoteNone   = "none"
	RemoteMirror = "mirror"
	RemoteHTTP   = "http"
)

// StoreConfig selects the local key/value medium.
type StoreConfig struct {
	// Backend is one of "file" (default), "sqlite", "memory".
	Backend string `yaml:"backend" json:"backend"`
	// Path is the directory (file) or database file (sqlite). Empty means
	// a location under DataDir.
	Path string `yaml:"path" json:"path"`
	// Key holds the event array.
	Key string `yaml:"key" json:"key"`
	// BackupKey holds the mirrored remote envelope.
	BackupKey string `yaml:"backup_key" json:"backup_key"`
}

// RemoteConfig describes the remote blob store.
type RemoteConfig struct {
	// Mode is one of "none", "mirror" (default) or "http".
	Mode string `yaml:"mode" json:"mode"`
	// BaseURL is the blob service root for mode "http".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// TimeoutSeconds bounds each fetch/push.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	// Probe is a cron-style schedule for connectivity checks in mode "http".
	Probe string `yaml:"probe" json:"probe"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the host API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the host API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone deciding "today" and ICS export times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the first grid column: "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// DataDir is the base directory for local state.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DriftWatch is a cron-style schedule (e.g. "@every 1s") for re-reading
	// the local store.
	DriftWatch string `yaml:"drift_watch" json:"drift_watch"`

	// DeviceID identifies this client in remote snapshots. Generated on
	// first load.
	DeviceID string `yaml:"device_id" json:"device_id"`

	// Members is the label set offered for Event.member. Other labels are
	// still accepted.
	Members []string `yaml:"members" json:"members"`

	Store  StoreConfig  `yaml:"store" json:"store"`
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:     "127.0.0.1:8080",
		Timezone:   "Asia/Tokyo",
		WeekStart:  "sunday",
		DataDir:    "/var/lib/famcal",
		LogLevel:   "info",
		DriftWatch: "@every 1s",
		DeviceID:   uuid.NewString(),
		Members:    []string{"けんじ", "あい", "二人"},
		Store: StoreConfig{
			Backend:   BackendFile,
			Key:       "familyCalendarEvents",
			BackupKey: "familyCalendarBackup",
		},
		Remote: RemoteConfig{
			Mode:           RemoteMirror,
			TimeoutSeconds: 10,
			Probe:          "@every 30s",
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
		// ok
	default:
		// Unknown value; fall back to sunday to avoid surprising layouts.
		c.WeekStart = "sunday"
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.DriftWatch == "" {
		c.DriftWatch = def.DriftWatch
	}
	if c.DeviceID == "" {
		c.DeviceID = def.DeviceID
	}
	if c.Members == nil {
		c.Members = def.Members
	}

	switch c.Store.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		c.Store.Backend = BackendFile
	}
	if c.Store.Key == "" {
		c.Store.Key = def.Store.Key
	}
	if c.Store.BackupKey == "" {
		c.Store.BackupKey = def.Store.BackupKey
	}

	switch c.Remote.Mode {
	case RemoteNone, RemoteMirror:
	case RemoteHTTP:
		// Without an endpoint there is nothing to talk to.
		if c.Remote.BaseURL == "" {
			c.Remote.Mode = RemoteNone
		}
	default:
		c.Remote.Mode = RemoteMirror
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = def.Remote.TimeoutSeconds
	}
	if c.Remote.Probe == "" {
		c.Remote.Probe = def.Remote.Probe
	}
}

// StorePath is the effective location of the local medium.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Backend == BackendSQLite {
		return filepath.Join(c.DataDir, "famcal.db")
	}
	return filepath.Join(c.DataDir, "store")
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - write it back if a device id had to be generated
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	missingDevice := cfg.DeviceID == ""
	cfg.Normalize()

	if missingDevice {
		// The id must be stable across restarts.
		if err := Save(path, &cfg); err != nil {
			return &cfg, err
		}
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return fsutil.WriteFileAtomic(path, data, 0o600, ".famcal-config-*.tmp")
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
