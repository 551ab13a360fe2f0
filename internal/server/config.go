// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the bulletin board service.
package server

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/Tyrowin/gobulletin/internal/board"
)

const (
	defaultGroups         = "lobby,games,cs,random,music"
	defaultAllowedOrigins = "http://localhost:8080"
)

// RateLimitConfig defines the parameters for per-connection line rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
// Fields left unset in the environment keep the values of defaultConfig.
type Config struct {
	TCPAddr      string `env:"BOARD_TCP_ADDR" validate:"required"`
	HTTPAddr     string `env:"BOARD_HTTP_ADDR" validate:"required"`
	Groups       string `env:"BOARD_GROUPS"`
	DefaultGroup string `env:"BOARD_DEFAULT_GROUP" validate:"required"`
	LobbyHistory int    `env:"BOARD_LOBBY_HISTORY" validate:"gte=0"`
	MaxLineSize  int    `env:"BOARD_MAX_LINE_SIZE" validate:"gte=64"`

	RateLimitBurst          int           `env:"BOARD_RATE_LIMIT_BURST" validate:"gt=0"`
	RateLimitRefillInterval time.Duration `env:"BOARD_RATE_LIMIT_REFILL_INTERVAL" validate:"gt=0"`

	WriteTimeout    time.Duration `env:"BOARD_WRITE_TIMEOUT" validate:"gt=0"`
	AllowedOrigins  string        `env:"BOARD_ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `env:"BOARD_SHUTDOWN_TIMEOUT" validate:"gt=0"`
	LogLevel        string        `env:"BOARD_LOG_LEVEL" validate:"oneof=DEBUG INFO WARN ERROR"`
}

var validate = validator.New()

func defaultConfig() Config {
	return Config{
		TCPAddr:                 ":5000",
		HTTPAddr:                ":8080",
		Groups:                  defaultGroups,
		DefaultGroup:            "lobby",
		LobbyHistory:            2,
		MaxLineSize:             4096,
		RateLimitBurst:          20,
		RateLimitRefillInterval: time.Second,
		WriteTimeout:            10 * time.Second,
		AllowedOrigins:          defaultAllowedOrigins,
		ShutdownTimeout:         10 * time.Second,
		LogLevel:                "INFO",
	}
}

// sanitizeConfig restores defaults for values that were explicitly set empty.
func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if strings.TrimSpace(cfg.Groups) == "" {
		cfg.Groups = defaults.Groups
	}
	if strings.TrimSpace(cfg.AllowedOrigins) == "" {
		cfg.AllowedOrigins = defaults.AllowedOrigins
	}
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = defaults.TCPAddr
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaults.HTTPAddr
	}

	cfg.DefaultGroup = strings.TrimSpace(cfg.DefaultGroup)
	cfg.LogLevel = strings.ToUpper(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset, and validates the result.
func NewConfigFromEnv() (*Config, error) {
	cfg := defaultConfig()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	cfg = sanitizeConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the group list.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	groups := c.GroupNames()
	var errs []error
	for _, name := range groups {
		if name == "" {
			errs = append(errs, errors.New("group names must not be empty"))
			continue
		}
		if strings.ContainsFunc(name, unicode.IsSpace) {
			errs = append(errs, fmt.Errorf("group name %q contains whitespace", name))
		}
	}
	if dup := lo.FindDuplicates(groups); len(dup) > 0 {
		errs = append(errs, fmt.Errorf("duplicate group names: %s", strings.Join(dup, ",")))
	}
	if !lo.Contains(groups, c.DefaultGroup) {
		errs = append(errs, fmt.Errorf("default group %q is not a configured group", c.DefaultGroup))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GroupNames splits the comma-separated group list. Empty entries are kept
// so Validate can reject them.
func (c Config) GroupNames() []string {
	return splitList(c.Groups)
}

// Origins returns the non-empty entries of the allowed-origin list.
func (c Config) Origins() []string {
	return lo.Compact(splitList(c.AllowedOrigins))
}

// RateLimit returns the per-connection token bucket parameters.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{
		Burst:          c.RateLimitBurst,
		RefillInterval: c.RateLimitRefillInterval,
	}
}

// BoardOptions maps the configuration onto the board's options.
func (c Config) BoardOptions() board.Options {
	return board.Options{
		Groups:        c.GroupNames(),
		DefaultGroup:  c.DefaultGroup,
		RecentHistory: c.LobbyHistory,
	}
}

func splitList(raw string) []string {
	return lo.Map(strings.Split(raw, ","), func(part string, _ int) string {
		return strings.TrimSpace(part)
	})
}
