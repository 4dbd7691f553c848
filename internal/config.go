package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/bmatcuk/doublestar/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/ordo/internal/apperr"
	"github.com/starford/ordo/internal/rules"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app" toml:"app"`
	Organizer OrganizerConfig   `yaml:"organizer" toml:"organizer"`
	Dedup     DedupConfig       `yaml:"dedup" toml:"dedup"`
	Index     IndexConfig       `yaml:"index" toml:"index"`
	Watch     WatchConfig       `yaml:"watch" toml:"watch"`
	Auth      AuthConfig        `yaml:"auth" toml:"auth"`
	Rules     []rules.Config    `yaml:"rules" toml:"rules"`
}

// Validate validates the configuration. Every failure is a config error,
// raised before anything on disk is touched.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{&c.App, &c.Organizer, &c.Watch, &c.Auth} {
		if err := v.Validate(); err != nil {
			return apperr.New(apperr.KindConfig, "validate", "", err)
		}
	}
	if err := validateRules(c.Rules); err != nil {
		return apperr.New(apperr.KindConfig, "validate rules", "", err)
	}
	return nil
}

func validateRules(cfgs []rules.Config) error {
	if len(cfgs) == 0 {
		return fmt.Errorf("at least one rule is required")
	}
	seen := make(map[string]bool, len(cfgs))
	for i := range cfgs {
		if err := cfgs[i].Validate(); err != nil {
			return fmt.Errorf("rule %d (%s): %w", i+1, cfgs[i].Name, err)
		}
		if seen[cfgs[i].Name] {
			return fmt.Errorf("rule %d: duplicate name %q", i+1, cfgs[i].Name)
		}
		seen[cfgs[i].Name] = true
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds the status API configuration used in watch mode.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.When(c.Enabled, validation.Required), validation.Min(0), validation.Max(65535)),
	)
}

// OrganizerConfig holds the root and how it is walked.
type OrganizerConfig struct {
	Root     string   `yaml:"root" toml:"root"`
	StateDir string   `yaml:"state_dir" toml:"state_dir"`
	Workers  int      `yaml:"workers" toml:"workers"`
	MaxDepth int      `yaml:"max_depth" toml:"max_depth"`
	Exclude  []string `yaml:"exclude" toml:"exclude"`
}

// Validate validates the organizer configuration.
func (c *OrganizerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.MaxDepth, validation.Min(0)),
		validation.Field(&c.Exclude, validation.Each(validation.By(func(v any) error {
			if s, _ := v.(string); !doublestar.ValidatePattern(s) {
				return fmt.Errorf("invalid pattern %q", s)
			}
			return nil
		}))),
	)
}

// ResolvedStateDir returns the state directory, defaulting to $XDG_STATE_HOME/ordo.
func (c *OrganizerConfig) ResolvedStateDir() string {
	if c.StateDir != "" {
		return c.StateDir
	}
	return filepath.Join(xdg.StateHome, "ordo")
}

// DedupConfig controls hard-link deduplication.
type DedupConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// Paranoid compares bytes before linking on a hash match.
	Paranoid bool `yaml:"paranoid" toml:"paranoid"`
}

// IndexConfig holds the cross-run dedup index. An empty path keeps the index in memory.
type IndexConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// WatchConfig holds watch mode timing.
type WatchConfig struct {
	Quiescence  Duration `yaml:"quiescence" toml:"quiescence"`
	SessionRoll Duration `yaml:"session_roll" toml:"session_roll"`
	QueueSize   int      `yaml:"queue_size" toml:"queue_size"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Quiescence, validation.Min(Duration(0))),
		validation.Field(&c.SessionRoll, validation.Min(Duration(0))),
		validation.Field(&c.QueueSize, validation.Min(0)),
	)
}

// Duration is a time.Duration written as "2s" or "10m" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// AuthConfig holds authentication configuration for the status API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Organizer: OrganizerConfig{
			Root:     ".",
			MaxDepth: 1,
		},
		Dedup: DedupConfig{
			Enabled: true,
		},
		Watch: WatchConfig{
			Quiescence:  Duration(2 * time.Second),
			SessionRoll: Duration(10 * time.Minute),
			QueueSize:   64,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
