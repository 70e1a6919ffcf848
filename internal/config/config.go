package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Jellyfin JellyfinConfig `mapstructure:"jellyfin"`
	Exporter ExporterConfig `mapstructure:"exporter"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// JellyfinConfig describes the upstream server.
type JellyfinConfig struct {
	URL            string               `mapstructure:"url"`
	APIKey         string               `mapstructure:"api_key"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// ExporterConfig describes the metrics endpoint.
type ExporterConfig struct {
	ListenAddress  string        `mapstructure:"listen_address"`
	Port           int           `mapstructure:"port"`
	ScrapeTimeout  time.Duration `mapstructure:"scrape_timeout"`
	RuntimeMetrics bool          `mapstructure:"runtime_metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Addr is the listen address of the metrics server.
func (e ExporterConfig) Addr() string {
	return net.JoinHostPort(e.ListenAddress, strconv.Itoa(e.Port))
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Jellyfin: JellyfinConfig{
			URL:     "",
			APIKey:  "",
			Timeout: 10 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Cooldown:         30 * time.Second,
			},
		},
		Exporter: ExporterConfig{
			ListenAddress:  "",
			Port:           9027,
			ScrapeTimeout:  10 * time.Second,
			RuntimeMetrics: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envBindings maps config keys to the environment variables that set them,
// first match wins. JELLYFIN_BASEURL, JELLYFIN_APIKEY and
// JELLYFIN_EXPORTER_PORT are the names existing deployments use.
var envBindings = map[string][]string{
	"jellyfin.url":                               {"JELLYFIN_BASEURL", "JELLYFIN_URL"},
	"jellyfin.api_key":                           {"JELLYFIN_APIKEY", "JELLYFIN_API_KEY"},
	"jellyfin.timeout":                           {"JELLYFIN_TIMEOUT"},
	"jellyfin.circuit_breaker.enabled":           {"JELLYFIN_EXPORTER_CIRCUIT_BREAKER"},
	"jellyfin.circuit_breaker.failure_threshold": {"JELLYFIN_EXPORTER_CIRCUIT_BREAKER_THRESHOLD"},
	"jellyfin.circuit_breaker.cooldown":          {"JELLYFIN_EXPORTER_CIRCUIT_BREAKER_COOLDOWN"},
	"exporter.listen_address":                    {"JELLYFIN_EXPORTER_LISTEN_ADDRESS"},
	"exporter.port":                              {"JELLYFIN_EXPORTER_PORT"},
	"exporter.scrape_timeout":                    {"JELLYFIN_EXPORTER_SCRAPE_TIMEOUT"},
	"exporter.runtime_metrics":                   {"JELLYFIN_EXPORTER_RUNTIME_METRICS"},
	"logging.level":                              {"JELLYFIN_EXPORTER_LOG_LEVEL"},
	"logging.format":                             {"JELLYFIN_EXPORTER_LOG_FORMAT"},
}

// flagBindings maps config keys to command line flags.
var flagBindings = map[string]string{
	"exporter.port":  "port",
	"logging.level":  "log-level",
	"logging.format": "log-format",
}

// Loader reads configuration from defaults, an optional file, the
// environment and flags, in increasing order of precedence.
type Loader struct {
	v    *viper.Viper
	file string
}

func NewLoader(file string, flags *pflag.FlagSet) (*Loader, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("jellyfin.url", def.Jellyfin.URL)
	v.SetDefault("jellyfin.api_key", def.Jellyfin.APIKey)
	v.SetDefault("jellyfin.timeout", def.Jellyfin.Timeout)
	v.SetDefault("jellyfin.circuit_breaker.enabled", def.Jellyfin.CircuitBreaker.Enabled)
	v.SetDefault("jellyfin.circuit_breaker.failure_threshold", def.Jellyfin.CircuitBreaker.FailureThreshold)
	v.SetDefault("jellyfin.circuit_breaker.cooldown", def.Jellyfin.CircuitBreaker.Cooldown)
	v.SetDefault("exporter.listen_address", def.Exporter.ListenAddress)
	v.SetDefault("exporter.port", def.Exporter.Port)
	v.SetDefault("exporter.scrape_timeout", def.Exporter.ScrapeTimeout)
	v.SetDefault("exporter.runtime_metrics", def.Exporter.RuntimeMetrics)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if flags != nil {
		for key, name := range flagBindings {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
	}

	return &Loader{v: v, file: file}, nil
}

// Load unmarshals the current configuration. It does not validate it.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	// The URL is kept as given: it is also the jellyfin_instance label value,
	// and dashboards match on it. The client normalises it for requests.
	cfg.Jellyfin.URL = strings.TrimSpace(cfg.Jellyfin.URL)
	cfg.Jellyfin.APIKey = strings.TrimSpace(cfg.Jellyfin.APIKey)
	return cfg, nil
}

// ConfigFile returns the config file in use, or "" when configuration comes
// only from the environment and flags.
func (l *Loader) ConfigFile() string {
	return l.file
}

// Watch calls onChange with the reloaded configuration whenever the config
// file is written. It is a no-op without a config file.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.file == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.Load())
	})
	l.v.WatchConfig()
}

// Load reads configuration from the given file (optional), the environment
// and flags, and validates it.
func Load(file string, flags *pflag.FlagSet) (*Config, *Loader, error) {
	loader, err := NewLoader(file, flags)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// ConfigError reports missing or invalid required configuration. The
// exporter refuses to start when it sees one.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Validate checks the settings the exporter cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if c.Jellyfin.URL == "" {
		errs = append(errs, &ConfigError{Field: "jellyfin.url", Reason: "JELLYFIN_BASEURL is required"})
	} else if u, err := url.Parse(c.Jellyfin.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, &ConfigError{Field: "jellyfin.url", Reason: fmt.Sprintf("%q is not an http(s) URL", c.Jellyfin.URL)})
	}
	if c.Jellyfin.APIKey == "" {
		errs = append(errs, &ConfigError{Field: "jellyfin.api_key", Reason: "JELLYFIN_APIKEY is required"})
	}
	if c.Jellyfin.Timeout <= 0 {
		errs = append(errs, &ConfigError{Field: "jellyfin.timeout", Reason: "must be positive"})
	}
	if c.Jellyfin.CircuitBreaker.Enabled {
		if c.Jellyfin.CircuitBreaker.FailureThreshold <= 0 {
			errs = append(errs, &ConfigError{Field: "jellyfin.circuit_breaker.failure_threshold", Reason: "must be positive"})
		}
		if c.Jellyfin.CircuitBreaker.Cooldown <= 0 {
			errs = append(errs, &ConfigError{Field: "jellyfin.circuit_breaker.cooldown", Reason: "must be positive"})
		}
	}
	if c.Exporter.Port < 1 || c.Exporter.Port > 65535 {
		errs = append(errs, &ConfigError{Field: "exporter.port", Reason: fmt.Sprintf("%d is not a valid port", c.Exporter.Port)})
	}
	if c.Exporter.ScrapeTimeout <= 0 {
		errs = append(errs, &ConfigError{Field: "exporter.scrape_timeout", Reason: "must be positive"})
	}

	return errors.Join(errs...)
}
