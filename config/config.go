// Package config loads the knowly-auth settings from a config file, a .env
// file and KNOWLY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	auth "github.com/goliatone/go-knowly-auth"
	"github.com/goliatone/go-knowly-auth/repository"
)

// EnvPrefix is prepended to every environment override, e.g.
// KNOWLY_AUTH_SAFETY_TIMEOUT.
const EnvPrefix = "KNOWLY"

// Backend kinds
const (
	BackendGoTrue = "gotrue"
	BackendLocal  = "local"
)

// Config holds the application configuration.
type Config struct {
	Auth     AuthConfig     `mapstructure:"auth" json:"auth"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Backend  BackendConfig  `mapstructure:"backend" json:"backend"`
	Server   ServerConfig   `mapstructure:"server" json:"server"`
}

// AuthConfig holds the orchestrator timings.
type AuthConfig struct {
	BootstrapTimeout time.Duration `mapstructure:"bootstrap_timeout" json:"bootstrap_timeout"`
	BootstrapRetries int           `mapstructure:"bootstrap_retries" json:"bootstrap_retries"`
	BootstrapBackoff time.Duration `mapstructure:"bootstrap_backoff" json:"bootstrap_backoff"`
	SafetyTimeout    time.Duration `mapstructure:"safety_timeout" json:"safety_timeout"`
	ProfileRetries   int           `mapstructure:"profile_retries" json:"profile_retries"`
	ProfileBackoff   time.Duration `mapstructure:"profile_backoff" json:"profile_backoff"`
	RootPath         string        `mapstructure:"root_path" json:"root_path"`
}

func (c AuthConfig) GetBootstrapTimeout() time.Duration { return c.BootstrapTimeout }
func (c AuthConfig) GetBootstrapRetries() int           { return c.BootstrapRetries }
func (c AuthConfig) GetBootstrapBackoff() time.Duration { return c.BootstrapBackoff }
func (c AuthConfig) GetSafetyTimeout() time.Duration    { return c.SafetyTimeout }
func (c AuthConfig) GetProfileRetries() int             { return c.ProfileRetries }
func (c AuthConfig) GetProfileBackoff() time.Duration   { return c.ProfileBackoff }
func (c AuthConfig) GetRootPath() string                { return c.RootPath }

var _ auth.Config = AuthConfig{}

// DatabaseConfig selects the profile and account store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" json:"dsn"`
}

// BackendConfig points the client at an auth backend.
type BackendConfig struct {
	Kind          string        `mapstructure:"kind" json:"kind"`
	URL           string        `mapstructure:"url" json:"url"`
	APIKey        string        `mapstructure:"api_key" json:"-"`
	SessionFile   string        `mapstructure:"session_file" json:"session_file"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin" json:"refresh_margin"`
}

// ServerConfig configures the development auth server.
type ServerConfig struct {
	Addr                string        `mapstructure:"addr" json:"addr"`
	APIKey              string        `mapstructure:"api_key" json:"-"`
	ServiceKey          string        `mapstructure:"service_key" json:"-"`
	SigningKey          string        `mapstructure:"signing_key" json:"-"`
	Issuer              string        `mapstructure:"issuer" json:"issuer"`
	TokenTTL            time.Duration `mapstructure:"token_ttl" json:"token_ttl"`
	RefreshTokenTTL     time.Duration `mapstructure:"refresh_token_ttl" json:"refresh_token_ttl"`
	RequireConfirmation bool          `mapstructure:"require_confirmation" json:"require_confirmation"`
	HashIDs             bool          `mapstructure:"hash_ids" json:"hash_ids"`
	MinPasswordLength   int           `mapstructure:"min_password_length" json:"min_password_length"`
}

// Validate will validate the configuration
func (c Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"auth", c.Auth},
		{"database", c.Database},
		{"backend", c.Backend},
		{"server", c.Server},
	}
	for _, section := range sections {
		if err := section.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", section.name, err)
		}
	}
	return nil
}

// Validate will validate the auth timings
func (c AuthConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BootstrapTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.BootstrapRetries, validation.Min(0)),
		validation.Field(&c.ProfileRetries, validation.Min(0)),
		validation.Field(&c.RootPath, validation.Required),
	)
}

// Validate will validate the database settings
func (c DatabaseConfig) Validate() error {
	var dsn []validation.Rule
	if c.Driver == repository.DriverPostgres {
		dsn = append(dsn, validation.Required)
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(repository.DriverSQLite, repository.DriverPostgres)),
		validation.Field(&c.DSN, dsn...),
	)
}

// Validate will validate the backend settings
func (c BackendConfig) Validate() error {
	var url []validation.Rule
	if c.Kind == BackendGoTrue {
		url = append(url, validation.Required, is.URL)
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required, validation.In(BackendGoTrue, BackendLocal)),
		validation.Field(&c.URL, url...),
	)
}

// Validate will validate the server settings
func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
		validation.Field(&c.TokenTTL, validation.Required),
		validation.Field(&c.RefreshTokenTTL, validation.Required),
		validation.Field(&c.MinPasswordLength, validation.Min(1)),
	)
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	s := auth.DefaultSettings()
	return Config{
		Auth: AuthConfig{
			BootstrapTimeout: s.BootstrapTimeout,
			BootstrapRetries: s.BootstrapRetries,
			BootstrapBackoff: s.BootstrapBackoff,
			SafetyTimeout:    s.SafetyTimeout,
			ProfileRetries:   s.ProfileRetries,
			ProfileBackoff:   s.ProfileBackoff,
			RootPath:         s.RootPath,
		},
		Database: DatabaseConfig{
			Driver: repository.DriverSQLite,
			DSN:    "file:knowly.db?cache=shared",
		},
		Backend: BackendConfig{
			Kind:          BackendGoTrue,
			URL:           "http://localhost:9999",
			SessionFile:   defaultSessionFile(),
			RefreshMargin: time.Minute,
		},
		Server: ServerConfig{
			Addr:              ":9999",
			Issuer:            "knowly-auth",
			TokenTTL:          time.Hour,
			RefreshTokenTTL:   30 * 24 * time.Hour,
			MinPasswordLength: 6,
		},
	}
}

// Load reads the config file at path (optional), the dotenv files (".env"
// when none are given and it exists) and the environment.
func Load(path string, dotenv ...string) (*Config, error) {
	if err := loadDotEnv(dotenv); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("knowly")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".knowly"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.Backend.SessionFile = expandHome(cfg.Backend.SessionFile)

	return cfg, nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		files = []string{".env"}
	}
	// existing environment variables win over dotenv values
	return godotenv.Load(files...)
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("auth.bootstrap_timeout", d.Auth.BootstrapTimeout)
	v.SetDefault("auth.bootstrap_retries", d.Auth.BootstrapRetries)
	v.SetDefault("auth.bootstrap_backoff", d.Auth.BootstrapBackoff)
	v.SetDefault("auth.safety_timeout", d.Auth.SafetyTimeout)
	v.SetDefault("auth.profile_retries", d.Auth.ProfileRetries)
	v.SetDefault("auth.profile_backoff", d.Auth.ProfileBackoff)
	v.SetDefault("auth.root_path", d.Auth.RootPath)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)

	v.SetDefault("backend.kind", d.Backend.Kind)
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.api_key", d.Backend.APIKey)
	v.SetDefault("backend.session_file", d.Backend.SessionFile)
	v.SetDefault("backend.refresh_margin", d.Backend.RefreshMargin)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.api_key", d.Server.APIKey)
	v.SetDefault("server.service_key", d.Server.ServiceKey)
	v.SetDefault("server.signing_key", d.Server.SigningKey)
	v.SetDefault("server.issuer", d.Server.Issuer)
	v.SetDefault("server.token_ttl", d.Server.TokenTTL)
	v.SetDefault("server.refresh_token_ttl", d.Server.RefreshTokenTTL)
	v.SetDefault("server.require_confirmation", d.Server.RequireConfirmation)
	v.SetDefault("server.hash_ids", d.Server.HashIDs)
	v.SetDefault("server.min_password_length", d.Server.MinPasswordLength)
}

func defaultSessionFile() string {
	return "~/.knowly/session.json"
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
