package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/brunoga/plank/internal/drag"
)

const defaultConfigYAML = `# plank server configuration
addr: ":8080"
db: plank.db
board: main-board
board_title: Plank

# Leave empty to run a single instance. Set to share board events between
# instances, e.g. redis://localhost:6379/0
redis_url: ""
redis_channel: plank:events

# How long a move may wait for the database before it is rolled back.
confirm_timeout: 10s

# latest: a failed move is undone only if it is still the card's newest move.
# naive: a failed move restores the whole board as it was before it.
rollback: latest

idle_timeout: 30s
log_level: info
`

// Config is the server configuration. Values come from defaults, then the
// YAML file, then PLANK_* environment variables, then command-line flags.
type Config struct {
	Addr           string        `yaml:"addr"`
	DBPath         string        `yaml:"db"`
	BoardID        string        `yaml:"board"`
	BoardTitle     string        `yaml:"board_title"`
	RedisURL       string        `yaml:"redis_url"`
	RedisChannel   string        `yaml:"redis_channel"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	Rollback       string        `yaml:"rollback"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	LogLevel       string        `yaml:"log_level"`
}

func DefaultConfig() Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// LoadConfig reads path (when not empty) over the defaults and applies the
// environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PLANK_ADDR":          &c.Addr,
		"PLANK_DB":            &c.DBPath,
		"PLANK_BOARD":         &c.BoardID,
		"PLANK_REDIS_URL":     &c.RedisURL,
		"PLANK_REDIS_CHANNEL": &c.RedisChannel,
		"PLANK_ROLLBACK":      &c.Rollback,
		"PLANK_LOG_LEVEL":     &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("PLANK_CONFIRM_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PLANK_CONFIRM_TIMEOUT: %w", err)
		}
		c.ConfirmTimeout = d
	}
	if v, ok := lookup("DEBUG"); ok {
		if dbg, err := strconv.ParseBool(v); err == nil && dbg {
			c.LogLevel = "debug"
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must be set"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db must be set"))
	}
	if c.BoardID == "" {
		errs = append(errs, errors.New("board must be set"))
	}
	if c.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("confirm_timeout must be greater than zero"))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle_timeout must be greater than zero"))
	}
	if _, ok := drag.ParsePolicy(c.Rollback); !ok {
		errs = append(errs, fmt.Errorf("unknown rollback policy %q", c.Rollback))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Policy is the parsed rollback policy. Call after Validate.
func (c Config) Policy() drag.Policy {
	p, _ := drag.ParsePolicy(c.Rollback)
	return p
}
