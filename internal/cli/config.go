package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// ErrConfigLocked is returned when another process is writing the config file.
var ErrConfigLocked = errors.New("config file is locked by another rulekit process")

// EngineURLEnv overrides the profile engine URL when set.
const EngineURLEnv = "RULEKIT_ENGINE_URL"

// Config represents the CLI configuration
type Config struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile represents the rule engine settings for one named target
type Profile struct {
	EngineURL string `yaml:"engine_url"`
	Timeout   string `yaml:"timeout,omitempty"` // Go duration, e.g. "10s"
}

// TimeoutDuration parses Timeout; empty means zero (client default).
func (p Profile) TimeoutDuration() (time.Duration, error) {
	if p.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", p.Timeout, err)
	}
	return d, nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".rulekit", "config.yaml"), nil
}

func defaultConfig() *Config {
	return &Config{
		DefaultProfile: "local",
		Profiles: map[string]Profile{
			"local": {EngineURL: "http://localhost:5000", Timeout: "10s"},
		},
	}
}

// LoadConfig loads the configuration from the default path
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(configPath)
}

// LoadConfigFrom loads the configuration from path. A missing file yields
// the built-in default profile.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to the default path
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveConfigTo(configPath, cfg)
}

// SaveConfigTo saves the configuration to path, creating its directory.
func SaveConfigTo(path string, cfg *Config) error {
	fileLock, err := lockConfig(path)
	if err != nil {
		return err
	}
	defer fileLock.Unlock()
	return writeConfig(path, cfg)
}

// UpdateConfig applies fn to the config at path and saves the result. The
// load, fn and the save all run under the config lock, so concurrent updates
// are applied one after the other instead of overwriting each other.
// Nothing is written if fn fails.
func UpdateConfig(path string, fn func(*Config) error) error {
	fileLock, err := lockConfig(path)
	if err != nil {
		return err
	}
	defer fileLock.Unlock()

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return writeConfig(path, cfg)
}

// configLockTimeout bounds how long a writer waits for another rulekit process.
var configLockTimeout = 5 * time.Second

func lockConfig(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), configLockTimeout)
	defer cancel()

	fileLock := flock.New(path + ".lock")
	locked, err := fileLock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrConfigLocked
		}
		return nil, fmt.Errorf("failed to acquire config lock: %w", err)
	}
	if !locked {
		return nil, ErrConfigLocked
	}
	return fileLock, nil
}

func writeConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// InitConfig writes the default config file to path.
func InitConfig(path string) error {
	return SaveConfigTo(path, defaultConfig())
}

// ResolveProfile returns the effective engine settings.
// Priority: command flags > environment variables > config file.
// Returns the profile and the effective profile name.
func (c *Config) ResolveProfile(name, engineURLFlag string, timeoutFlag time.Duration) (*Profile, string, error) {
	if name == "" {
		name = c.DefaultProfile
	}

	p, ok := c.Profiles[name]
	envURL := os.Getenv(EngineURLEnv)
	if !ok && engineURLFlag == "" && envURL == "" {
		return nil, "", fmt.Errorf("profile '%s' not found in config", name)
	}

	if engineURLFlag != "" {
		p.EngineURL = engineURLFlag
	} else if envURL != "" {
		p.EngineURL = envURL
	}
	if timeoutFlag > 0 {
		p.Timeout = timeoutFlag.String()
	}

	if p.EngineURL == "" {
		return nil, "", fmt.Errorf("engine_url must be configured for profile '%s'", name)
	}
	if _, err := p.TimeoutDuration(); err != nil {
		return nil, "", err
	}
	return &p, name, nil
}

// Get returns a config value by key: "default_profile",
// "<profile>.engine_url" or "<profile>.timeout".
func (c *Config) Get(key string) (string, error) {
	if key == "default_profile" {
		return c.DefaultProfile, nil
	}
	profile, field, err := splitKey(key)
	if err != nil {
		return "", err
	}
	p, ok := c.Profiles[profile]
	if !ok {
		return "", fmt.Errorf("profile '%s' not found in config", profile)
	}
	if field == "engine_url" {
		return p.EngineURL, nil
	}
	return p.Timeout, nil
}

// Set updates a config value by key, creating the profile if needed.
func (c *Config) Set(key, value string) error {
	if key == "default_profile" {
		c.DefaultProfile = value
		return nil
	}
	profile, field, err := splitKey(key)
	if err != nil {
		return err
	}
	if c.Profiles == nil {
		c.Profiles = make(map[string]Profile)
	}
	p := c.Profiles[profile]
	switch field {
	case "engine_url":
		p.EngineURL = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", value, err)
		}
		p.Timeout = value
	}
	c.Profiles[profile] = p
	return nil
}

// Keys lists every settable key with its current value, sorted.
func (c *Config) Keys() [][2]string {
	out := [][2]string{{"default_profile", c.DefaultProfile}}
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := c.Profiles[name]
		out = append(out,
			[2]string{name + ".engine_url", p.EngineURL},
			[2]string{name + ".timeout", p.Timeout},
		)
	}
	return out
}

func splitKey(key string) (profile, field string, err error) {
	i := strings.LastIndex(key, ".")
	if i <= 0 {
		return "", "", fmt.Errorf("unknown key %q (want default_profile or <profile>.engine_url|timeout)", key)
	}
	profile, field = key[:i], key[i+1:]
	if field != "engine_url" && field != "timeout" {
		return "", "", fmt.Errorf("unknown field %q (want engine_url or timeout)", field)
	}
	return profile, field, nil
}
