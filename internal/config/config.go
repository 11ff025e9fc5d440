package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config represents the facet configuration.
type Config struct {
	Backend            string        `json:"backend"`
	Model              string        `json:"model,omitempty"`
	SearchRoot         string        `json:"searchRoot,omitempty"`
	BaseBranch         string        `json:"baseBranch"`
	Modes              []string      `json:"modes"`
	WithContext        bool          `json:"withContext"`
	OutputDir          string        `json:"outputDir,omitempty"`
	TaskTimeout        time.Duration `json:"-"`
	TaskTimeoutSeconds int           `json:"taskTimeoutSeconds"`
	NameStatusMaxBytes int           `json:"nameStatusMaxBytes"`
	DiffMaxBytes       int           `json:"diffMaxBytes"`
	Privacy            PrivacyConfig `json:"privacy"`
}

// PrivacyConfig controls privacy/redaction behavior.
type PrivacyConfig struct {
	RedactSecrets bool `json:"redactSecrets"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Backend:            "claude",
		BaseBranch:         "main",
		Modes:              []string{"review"},
		WithContext:        true,
		TaskTimeoutSeconds: 900,
		TaskTimeout:        900 * time.Second,
		NameStatusMaxBytes: 200000,
		DiffMaxBytes:       400000,
		Privacy: PrivacyConfig{
			RedactSecrets: true,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory for facet.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "facet"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "facet"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "facet"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "facet"), nil
	default:
		return filepath.Join(home, ".config", "facet"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadFile loads config from the config file. Returns zero Config and nil error if file doesn't exist.
func LoadFile() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Save writes the config to the config file.
func Save(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// The overrides map comes from CLI flags (only non-zero values should be set).
func Load(overrides map[string]string) (Config, error) {
	cfg := Default()

	fileCfg, err := LoadFile()
	if err != nil {
		return Config{}, err
	}
	mergeFile(&cfg, fileCfg)
	mergeEnv(&cfg)
	mergeOverrides(&cfg, overrides)

	cfg.TaskTimeout = time.Duration(cfg.TaskTimeoutSeconds) * time.Second
	return cfg, nil
}

func mergeFile(dst *Config, src Config) {
	if src.Backend != "" {
		dst.Backend = src.Backend
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.SearchRoot != "" {
		dst.SearchRoot = src.SearchRoot
	}
	if src.BaseBranch != "" {
		dst.BaseBranch = src.BaseBranch
	}
	if len(src.Modes) > 0 {
		dst.Modes = src.Modes
	}
	if src.OutputDir != "" {
		dst.OutputDir = src.OutputDir
	}
	if src.TaskTimeoutSeconds > 0 {
		dst.TaskTimeoutSeconds = src.TaskTimeoutSeconds
	}
	if src.NameStatusMaxBytes > 0 {
		dst.NameStatusMaxBytes = src.NameStatusMaxBytes
	}
	if src.DiffMaxBytes > 0 {
		dst.DiffMaxBytes = src.DiffMaxBytes
	}
	// Bool fields from file: JSON's zero value is false, so a simple merge
	// can't tell unset from false. The defaults win unless the file turns
	// them on; turning them off happens via flags.
	dst.WithContext = src.WithContext || dst.WithContext
	dst.Privacy.RedactSecrets = src.Privacy.RedactSecrets || dst.Privacy.RedactSecrets
}

func mergeEnv(cfg *Config) {
	if v := os.Getenv("FACET_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("FACET_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("FACET_SEARCH_ROOT"); v != "" {
		cfg.SearchRoot = v
	}
	if v := os.Getenv("FACET_BASE_BRANCH"); v != "" {
		cfg.BaseBranch = v
	}
	if v := os.Getenv("FACET_TASK_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TaskTimeoutSeconds = n
		}
	}
}

func mergeOverrides(cfg *Config, overrides map[string]string) {
	if overrides == nil {
		return
	}
	if v, ok := overrides["backend"]; ok && v != "" {
		cfg.Backend = v
	}
	if v, ok := overrides["model"]; ok && v != "" {
		cfg.Model = v
	}
	if v, ok := overrides["searchRoot"]; ok && v != "" {
		cfg.SearchRoot = v
	}
	if v, ok := overrides["baseBranch"]; ok && v != "" {
		cfg.BaseBranch = v
	}
	if v, ok := overrides["modes"]; ok && v != "" {
		cfg.Modes = splitModes(v)
	}
	if v, ok := overrides["out"]; ok && v != "" {
		cfg.OutputDir = v
	}
	if v, ok := overrides["taskTimeoutSeconds"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TaskTimeoutSeconds = n
		}
	}
	if v, ok := overrides["nameStatusMaxBytes"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NameStatusMaxBytes = n
		}
	}
	if v, ok := overrides["diffMaxBytes"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DiffMaxBytes = n
		}
	}
}

func splitModes(v string) []string {
	parts := strings.Split(v, ",")
	modes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			modes = append(modes, p)
		}
	}
	return modes
}

// SetField sets a single config field by key name. Returns error if key is unknown.
func SetField(cfg *Config, key, value string) error {
	switch key {
	case "backend":
		cfg.Backend = value
	case "model":
		cfg.Model = value
	case "searchRoot":
		cfg.SearchRoot = value
	case "baseBranch":
		cfg.BaseBranch = value
	case "modes":
		cfg.Modes = splitModes(value)
	case "outputDir":
		cfg.OutputDir = value
	case "taskTimeoutSeconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("taskTimeoutSeconds must be an integer: %w", err)
		}
		cfg.TaskTimeoutSeconds = n
	case "nameStatusMaxBytes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("nameStatusMaxBytes must be an integer: %w", err)
		}
		cfg.NameStatusMaxBytes = n
	case "diffMaxBytes":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("diffMaxBytes must be an integer: %w", err)
		}
		cfg.DiffMaxBytes = n
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}
