package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024

// envPrefix namespaces the environment variables veldtd reads.
const envPrefix = "VELDT_"

// Load reads configuration with the following precedence, highest
// first:
//
//  1. Environment variables (VELDT_SERVER_PORT, VELDT_LOGGING_LEVEL, ...)
//  2. YAML config file, when configPath is non-empty and the file exists
//  3. Built-in defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	VELDT_SERVER_PORT        -> server.port
//	VELDT_VECTORSTORE_PROVIDER -> vectorstore.provider
//	VELDT_STORE_DATA_DIR     -> store.data_dir
//
// Config files may hold API keys, so files with permissions wider than
// 0600 are rejected.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	// Stat through the open descriptor so the checks and the read see
	// the same file.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions %v on %s (want 0600)", perm, path)
		}
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}
