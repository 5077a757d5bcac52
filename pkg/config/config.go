package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/paddock/pkg/storage"
)

// ProviderConfig configures the cloud provider clients
type ProviderConfig struct {
	Region        string `yaml:"region"`
	Profile       string `yaml:"profile,omitempty"`
	MaxRetries    int    `yaml:"maxRetries,omitempty"`
	RetryBaseMS   int    `yaml:"retryBaseMs,omitempty"`
	InstanceLimit int    `yaml:"instanceLimit,omitempty"`
}

// TemplateConfig configures template loading and image alias resolution
type TemplateConfig struct {
	File          string        `yaml:"file"`
	AliasCacheTTL time.Duration `yaml:"aliasCacheTtl,omitempty"`
}

// EventsConfig configures the event publisher
type EventsConfig struct {
	Mode string `yaml:"mode,omitempty"`
}

// RequestConfig configures request lifecycle defaults
type RequestConfig struct {
	DefaultTimeout  time.Duration `yaml:"defaultTimeout,omitempty"`
	CleanupAge      time.Duration `yaml:"cleanupAge,omitempty"`
	GracePeriod     time.Duration `yaml:"gracePeriod,omitempty"`
	SpotGracePeriod time.Duration `yaml:"spotGracePeriod,omitempty"`
}

// HealthConfig configures periodic machine health checks
type HealthConfig struct {
	Interval time.Duration `yaml:"interval,omitempty"`
}

// ServerConfig configures server mode
type ServerConfig struct {
	Addr              string        `yaml:"addr,omitempty"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval,omitempty"`
	RateLimit         float64       `yaml:"rateLimit,omitempty"`
	RateBurst         int           `yaml:"rateBurst,omitempty"`
}

// DirsConfig names the directory placeholders. Each resolves explicit value
// -> environment variable -> default.
type DirsConfig struct {
	Work string `yaml:"work,omitempty"`
	Conf string `yaml:"conf,omitempty"`
	Log  string `yaml:"log,omitempty"`
}

// Config is the full broker configuration, threaded explicitly through
// constructors
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Storage  storage.Config `yaml:"storage"`
	Template TemplateConfig `yaml:"template"`
	Events   EventsConfig   `yaml:"events"`
	Request  RequestConfig  `yaml:"request"`
	Health   HealthConfig   `yaml:"health,omitempty"`
	Server   ServerConfig   `yaml:"server,omitempty"`
	Dirs     DirsConfig     `yaml:"dirs,omitempty"`
	LogLevel string         `yaml:"logLevel,omitempty"`
}

// Environment variables consulted for directory placeholders
const (
	EnvWorkDir = "PADDOCK_WORKDIR"
	EnvConfDir = "PADDOCK_CONFDIR"
	EnvLogDir  = "PADDOCK_LOGDIR"
)

// Default returns the configuration applied when no file is present
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Region:        "us-east-1",
			MaxRetries:    3,
			RetryBaseMS:   1000,
			InstanceLimit: 500,
		},
		Storage: storage.Config{Type: storage.TypeFile},
		Template: TemplateConfig{
			File:          "templates.yaml",
			AliasCacheTTL: 10 * time.Minute,
		},
		Events: EventsConfig{Mode: "logging"},
		Request: RequestConfig{
			DefaultTimeout:  time.Hour,
			CleanupAge:      72 * time.Hour,
			GracePeriod:     300 * time.Second,
			SpotGracePeriod: 120 * time.Second,
		},
		Health: HealthConfig{Interval: 300 * time.Second},
		Server: ServerConfig{
			Addr:              ":8980",
			ReconcileInterval: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML configuration file on top of the defaults. A missing
// file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.normalize()
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize resolves directory placeholders and fills storage parameters
// that depend on them
func (c *Config) normalize() {
	// retry attempts convert to an unsigned count downstream
	if c.Provider.MaxRetries < 0 {
		c.Provider.MaxRetries = 0
	}
	c.Dirs.Work = resolveDir(c.Dirs.Work, EnvWorkDir, ".")
	c.Dirs.Conf = resolveDir(c.Dirs.Conf, EnvConfDir, c.Dirs.Work)
	c.Dirs.Log = resolveDir(c.Dirs.Log, EnvLogDir, c.Dirs.Work)
	if c.Storage.Params == nil {
		c.Storage.Params = map[string]string{}
	}
	if c.Storage.Params["dir"] == "" {
		c.Storage.Params["dir"] = c.Dirs.Work
	}
	if !filepath.IsAbs(c.Template.File) {
		c.Template.File = filepath.Join(c.Dirs.Conf, c.Template.File)
	}
}

// resolveDir applies the explicit value -> env var -> default precedence
func resolveDir(explicit, envVar, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}
