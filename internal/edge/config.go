package edge

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = 8080
	defaultRedirectTTL  = 5 * time.Minute
	defaultContentLimit = "1mb"
	defaultContentWait  = 10 * time.Second
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
	} `yaml:"server"`

	Content struct {
		APIURL      string `yaml:"apiURL"`
		Timeout     string `yaml:"timeout"`
		MaxBodySize string `yaml:"maxBodySize"`

		timeoutDur time.Duration
		maxBytes   int64
	} `yaml:"content"`

	Redirects struct {
		TTL          string `yaml:"ttl"`
		SingleFlight bool   `yaml:"singleFlight"`
		SnapshotPath string `yaml:"snapshotPath"`

		ttlDur time.Duration
	} `yaml:"redirects"`

	Site struct {
		BaseURL string `yaml:"baseURL"`
	} `yaml:"site"`

	Logging struct {
		Level         string `yaml:"level"`
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`
}

// LoadConfig reads a YAML config file, applies environment overrides and
// validates the result. An empty path skips the file and uses defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("RELVANTA_API_URL"); v != "" {
		c.Content.APIURL = v
	}
	if v := os.Getenv("RELVANTA_ORIGIN"); v != "" {
		c.Server.Origin = v
	}
	if v := os.Getenv("RELVANTA_SITE_URL"); v != "" {
		c.Site.BaseURL = v
	}
	if v := os.Getenv("RELVANTA_EDGE_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RELVANTA_EDGE_PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

func (c *Config) finalize() error {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	c.Server.Origin = strings.TrimRight(c.Server.Origin, "/")

	if c.Content.APIURL == "" {
		return fmt.Errorf("content.apiURL is required")
	}
	c.Content.APIURL = strings.TrimRight(c.Content.APIURL, "/")

	c.Content.timeoutDur = defaultContentWait
	if c.Content.Timeout != "" {
		d, err := time.ParseDuration(c.Content.Timeout)
		if err != nil {
			return fmt.Errorf("content.timeout: %w", err)
		}
		c.Content.timeoutDur = d
	}

	if c.Content.MaxBodySize == "" {
		c.Content.MaxBodySize = defaultContentLimit
	}
	n, err := parseBytes(c.Content.MaxBodySize)
	if err != nil {
		return fmt.Errorf("content.maxBodySize: %w", err)
	}
	c.Content.maxBytes = n

	c.Redirects.ttlDur = defaultRedirectTTL
	if c.Redirects.TTL != "" {
		d, err := time.ParseDuration(c.Redirects.TTL)
		if err != nil {
			return fmt.Errorf("redirects.ttl: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("redirects.ttl must be positive, got %s", d)
		}
		c.Redirects.ttlDur = d
	}

	if c.Site.BaseURL == "" {
		c.Site.BaseURL = c.Server.Origin
	}
	c.Site.BaseURL = strings.TrimRight(c.Site.BaseURL, "/")

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(c.Logging.LogStatsEvery)
		if err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		c.Logging.logStatsEveryDur = d
	}
	return nil
}

// RedirectTTL is the age after which the redirect table is considered stale.
func (c Config) RedirectTTL() time.Duration { return c.Redirects.ttlDur }

// ContentTimeout bounds a single request to the content API.
func (c Config) ContentTimeout() time.Duration { return c.Content.timeoutDur }
