package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "LOOM_"
)

// Load loads configuration from defaults and LOOM_-prefixed environment
// variables only, without touching the filesystem. Used by tests and by
// loomctl, which has no config file of its own.
func Load() (*Config, error) {
	return load(koanf.New("."))
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (LOOM_SERVER_PORT, LOOM_LLM_BASE_URL, ...)
//  2. YAML config file (~/.config/loom/config.yaml by default)
//  3. Built-in defaults
//
// Only files under ~/.config/loom/ or /etc/loom/ can be loaded, they must
// be owner-only (0600 or 0400), and they must not exceed 1MB. A missing
// file is not an error; defaults and environment still apply.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "loom", "config.yaml")
	}

	// Validate the path even if the file doesn't exist.
	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a
		// TOCTOU race between the checks and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	return load(k)
}

// load overlays environment variables onto k, then unmarshals over the
// defaults so absent keys keep their default values.
func load(k *koanf.Koanf) (*Config, error) {
	// Environment variables map to config keys by stripping the LOOM_
	// prefix and splitting on the first underscore:
	//
	//	LOOM_SERVER_PORT          -> server.port
	//	LOOM_LLM_BASE_URL         -> llm.base_url
	//	LOOM_SECURITY_RATE_LIMIT  -> security.rate_limit
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// EnsureDataDir creates the loom config/data directory if it doesn't
// exist, with 0700 permissions.
func EnsureDataDir() error {
	dir := DataDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks that path is inside an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so a link cannot escape the allowed directories.
	// If resolution fails the path may simply not exist yet; validate
	// the unresolved path instead.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "loom"),
		"/etc/loom",
	}
	if testDir := os.Getenv("LOOM_CONFIG_ALLOWED_DIR"); testDir != "" {
		allowedDirs = append(allowedDirs, testDir)
	}

	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(os.PathSeparator)) || resolvedPath == dir {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/loom/ or /etc/loom/")
}

// validateConfigFileProperties checks permissions and size from an
// already-opened file descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model; skip the mode check there.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
