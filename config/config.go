// Package config loads the governance core's runtime configuration and
// the user preferences file it maintains across restarts.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"trustcore/errkit"
	"trustcore/storage"
)

// Config is the static runtime configuration, normally loaded from
// trustcore.toml. Environment variables WEB4_ROOT and WEB4_BACKEND
// override WebRoot and Backend respectively when set.
type Config struct {
	ListenAddress  string `toml:"ListenAddress"`
	WebRoot        string `toml:"WebRoot"`
	Backend        string `toml:"Backend"`
	DefaultPreset  string `toml:"DefaultPreset"`
	ActionBudget   int64  `toml:"ActionBudget"`
	RateLimitBurst int    `toml:"RateLimitBurst"`
	OtelEndpoint   string `toml:"OtelEndpoint"`
	Environment    string `toml:"Environment"`
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:  ":8642",
		Backend:        "native",
		DefaultPreset:  "safety",
		ActionBudget:   500,
		RateLimitBurst: 10,
		Environment:    "development",
	}
}

// Load reads path, creating it with defaults if absent, then applies
// WEB4_ROOT / WEB4_BACKEND environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path, cfg); err != nil {
			return nil, err
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errkit.Wrap(errkit.InvalidInput, "decode config at "+path, err)
		}
	}

	if root := os.Getenv("WEB4_ROOT"); root != "" {
		cfg.WebRoot = root
	}
	if backend := os.Getenv("WEB4_BACKEND"); backend != "" {
		cfg.Backend = backend
	}
	if _, err := storage.ParseBackend(cfg.Backend); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeDefault(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errkit.Wrap(errkit.CorruptState, "create config dir", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errkit.Wrap(errkit.CorruptState, "create config file", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return errkit.Wrap(errkit.CorruptState, "encode default config", err)
	}
	return nil
}

// Preferences is the small, frequently-rewritten user-preference document
// persisted at <root>/preferences.json, kept separate from Config because
// it is mutated by the running process rather than edited by hand.
type Preferences struct {
	LastSessionID  string            `json:"last_session_id,omitempty"`
	FavoritePreset string            `json:"favorite_preset,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// LoadPreferences reads preferences from root, returning zero-valued
// Preferences if the file does not yet exist.
func LoadPreferences(root *storage.Root) (Preferences, error) {
	var prefs Preferences
	_, err := storage.ReadJSONFile(root.PreferencesPath(), &prefs)
	if err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

// SavePreferences writes prefs to root atomically.
func SavePreferences(root *storage.Root, prefs Preferences) error {
	return storage.WriteJSONFile(root.PreferencesPath(), prefs)
}

// ParseBoolEnv reads a boolean environment variable, returning def when
// unset or unparsable.
func ParseBoolEnv(name string, def bool) bool {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
