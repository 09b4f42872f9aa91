package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	ollamacli "github.com/MegaGrindStone/ollama-cli"
	"github.com/MegaGrindStone/ollama-cli/internal/services"
	"gopkg.in/yaml.v3"
)

const (
	appDirName     = "ollama-cli"
	configFileName = "config.yaml"
	cacheFileName  = "cache.db"
)

type config struct {
	Host           string         `yaml:"host"`
	RequestTimeout time.Duration  `yaml:"requestTimeout"`
	Chat           chatConfig     `yaml:"chat"`
	Registry       registryConfig `yaml:"registry"`
	Storage        storageConfig  `yaml:"storage"`
	Log            logConfig      `yaml:"log"`
}

type chatConfig struct {
	ExitKeywords []string `yaml:"exitKeywords"`
}

type registryConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
	CachePath string        `yaml:"cachePath"`
}

type storageConfig struct {
	ServiceRoot string `yaml:"serviceRoot"`
	UserRoot    string `yaml:"userRoot"`
}

type logConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func defaultConfigPath() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, appDirName, configFileName), nil
}

// loadConfig reads the config file at path on top of the embedded defaults. A missing file is created
// from the defaults first, so users have something to edit.
func loadConfig(path string) (config, error) {
	cfg, err := decodeConfig(ollamacli.DefaultConfig)
	if err != nil {
		return config{}, fmt.Errorf("error decoding default config: %w", err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return config{}, fmt.Errorf("error creating config directory: %w", err)
		}
		if err := os.WriteFile(path, ollamacli.DefaultConfig, 0644); err != nil {
			return config{}, fmt.Errorf("error writing default config: %w", err)
		}
		data = ollamacli.DefaultConfig
	} else if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if cfg.Registry.CachePath == "" {
		cfg.Registry.CachePath = filepath.Join(filepath.Dir(path), cacheFileName)
	}
	cfg.Registry.CachePath = services.ExpandHome(cfg.Registry.CachePath)
	cfg.Log.File = services.ExpandHome(cfg.Log.File)
	for i, k := range cfg.Chat.ExitKeywords {
		cfg.Chat.ExitKeywords[i] = strings.TrimSpace(k)
	}

	return cfg, cfg.validate()
}

func decodeConfig(data []byte) (config, error) {
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must not be negative")
	}
	if c.Registry.Timeout < 0 {
		return fmt.Errorf("registry.timeout must not be negative")
	}
	if c.Registry.CacheTTL < 0 {
		return fmt.Errorf("registry.cacheTTL must not be negative")
	}
	for _, k := range c.Chat.ExitKeywords {
		if k == "" {
			return fmt.Errorf("chat.exitKeywords must not contain blank entries")
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ollamaHost resolves the daemon address: the config value, then OLLAMA_HOST, then the default. The
// daemon accepts OLLAMA_HOST without a scheme, so plain host:port values are read as http.
func (c config) ollamaHost() string {
	host := c.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		return services.DefaultOllamaHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
