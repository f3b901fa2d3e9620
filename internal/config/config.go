package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	yaml "go.yaml.in/yaml/v3"
)

const (
	DefaultURL     = "http://127.0.0.1:8888"
	DefaultTimeout = 5 * time.Second
	DefaultDBPath  = "schedform.db"
	DefaultAddr    = ":8888"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Store   StoreConfig   `yaml:"store"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

type ServerConfig struct {
	URL     string            `yaml:"url"`
	Timeout string            `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type SandboxConfig struct {
	Addr        string       `yaml:"addr"`
	ProjectCode int64        `yaml:"projectCode"`
	UIURL       string       `yaml:"uiUrl"`
	Nodes       []NodeConfig `yaml:"nodes"`
}

// NodeConfig maps an editor task to the catalogue (workflow folder) it lives in.
type NodeConfig struct {
	DinkyTaskID int    `yaml:"dinkyTaskId"`
	CatalogueID int    `yaml:"catalogueId"`
	Name        string `yaml:"name"`
}

func Default() Config {
	return Config{
		Server:  ServerConfig{URL: DefaultURL, Timeout: DefaultTimeout.String()},
		Log:     LogConfig{Level: "info", Console: true},
		Store:   StoreConfig{Path: DefaultDBPath},
		Sandbox: SandboxConfig{Addr: DefaultAddr, ProjectCode: 1},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.url: invalid URL %q", c.Server.URL)
	}
	if _, err := ParseDurationField("server.timeout", c.Server.Timeout); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	seen := map[int]bool{}
	for i, n := range c.Sandbox.Nodes {
		if n.DinkyTaskID <= 0 || n.CatalogueID <= 0 {
			return fmt.Errorf("sandbox.nodes[%d]: dinkyTaskId and catalogueId must be positive", i)
		}
		if seen[n.DinkyTaskID] {
			return fmt.Errorf("sandbox.nodes[%d]: duplicate dinkyTaskId %d", i, n.DinkyTaskID)
		}
		seen[n.DinkyTaskID] = true
	}
	return nil
}

// Timeout is the per-call client timeout.
func (c Config) Timeout() time.Duration {
	d, err := ParseDurationOrDefault("server.timeout", c.Server.Timeout, DefaultTimeout)
	if err != nil {
		return DefaultTimeout
	}
	return d
}

func (c Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
