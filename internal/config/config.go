// Package config handles application configuration management.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable the service reads.
const EnvPrefix = "NOTICEBOARD_"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Notices  NoticesConfig  `yaml:"notices"`
	Stream   StreamConfig   `yaml:"stream"`
	// LogLevel is one of debug, info, warn, error
	LogLevel    string      `yaml:"log_level" env:"LOG_LEVEL"`
	Environment Environment `yaml:"environment" env:"ENV"`
}

// ServerConfig holds HTTP server and CORS configuration.
type ServerConfig struct {
	Address string `yaml:"address" env:"SERVER_ADDRESS"`
	// AllowedOrigins is a comma-separated list of allowed origins for CORS
	AllowedOrigins string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// FrontendURL is where OAuth logins return to
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL"`
}

// DatabaseConfig selects the notice store backend and its connection parameters.
type DatabaseConfig struct {
	Driver   DatabaseDriver `yaml:"driver" env:"DB_DRIVER"`
	Host     string         `yaml:"host" env:"DB_HOST"`
	Port     int            `yaml:"port" env:"DB_PORT"`
	User     string         `yaml:"user" env:"DB_USER"`
	Password string         `yaml:"password" env:"DB_PASSWORD"` //nolint:gosec // G117: credential field
	Database string         `yaml:"name" env:"DB_NAME"`
	// SQLitePath is the database file used when Driver is sqlite
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	// AutoMigrate applies pending schema migrations at startup
	AutoMigrate bool `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// AuthConfig holds authentication and session configuration.
type AuthConfig struct {
	// Method specifies authentication type: "local", "oidc", or "both"
	Method AuthMethod `yaml:"method" env:"AUTH_METHOD"`

	// SessionSecret must be changed from default in production
	SessionSecret string           `yaml:"session_secret" env:"SESSION_SECRET"`
	SessionStore  SessionStoreType `yaml:"session_store" env:"SESSION_STORE"`

	// Cookie configuration
	CookieDomain   string         `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	CookieSameSite CookieSameSite `yaml:"cookie_samesite" env:"COOKIE_SAMESITE"`

	// OIDC configuration
	OIDCProviderURL  string `yaml:"oidc_provider_url" env:"OIDC_PROVIDER_URL"`
	OIDCClientID     string `yaml:"oidc_client_id" env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `yaml:"oidc_client_secret" env:"OIDC_CLIENT_SECRET"` //nolint:gosec // G117: credential field
	OIDCRedirectURL  string `yaml:"oidc_redirect_url" env:"OIDC_REDIRECT_URL"`

	// Bootstrap administrator, created at startup when both are set and the user is missing
	AdminUsername string `yaml:"admin_username" env:"ADMIN_USERNAME"`
	AdminPassword string `yaml:"admin_password" env:"ADMIN_PASSWORD"` //nolint:gosec // G117: credential field
}

// StorageConfig holds uploaded media storage configuration.
type StorageConfig struct {
	// UploadPath is the directory blobs are written to
	UploadPath string `yaml:"upload_path" env:"UPLOAD_PATH"`
	// PublicPrefix is the first segment of every stored file_path and the URL prefix files are served under
	PublicPrefix   string `yaml:"public_prefix" env:"PUBLIC_PREFIX"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	// OrphanSweepInterval of zero disables the orphan sweeper
	OrphanSweepInterval time.Duration `yaml:"orphan_sweep_interval" env:"ORPHAN_SWEEP_INTERVAL"`
	OrphanGracePeriod   time.Duration `yaml:"orphan_grace_period" env:"ORPHAN_GRACE_PERIOD"`
}

// NoticesConfig holds per-deployment notice policy.
type NoticesConfig struct {
	// RequireDepartment rejects uploads without a department (multi-feed mode)
	RequireDepartment bool             `yaml:"require_department" env:"REQUIRE_DEPARTMENT"`
	BlobDeletePolicy  BlobDeletePolicy `yaml:"blob_delete_policy" env:"BLOB_DELETE_POLICY"`
}

// StreamConfig holds live-update stream settings.
type StreamConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"STREAM_HEARTBEAT_INTERVAL"`
	// WriteTimeout bounds each write to a viewer; a stalled viewer is dropped after it
	WriteTimeout time.Duration `yaml:"write_timeout" env:"STREAM_WRITE_TIMEOUT"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: ":8080",
		},
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			Host:        "localhost",
			Port:        3306,
			User:        "noticeboard",
			Password:    "noticeboard",
			Database:    "noticeboard",
			SQLitePath:  "./noticeboard.db",
			AutoMigrate: true,
		},
		Auth: AuthConfig{
			Method:          AuthMethodLocal,
			SessionSecret:   "your-secret-key-change-in-production",
			SessionStore:    StoreTypeMemory,
			CookieSameSite:  SameSiteLax,
			OIDCRedirectURL: "http://localhost:8080/api/v1/session/oauth/callback",
		},
		Storage: StorageConfig{
			UploadPath:          "./static/uploads",
			PublicPrefix:        "uploads",
			MaxUploadBytes:      200 * 1024 * 1024,
			OrphanSweepInterval: time.Hour,
			OrphanGracePeriod:   10 * time.Minute,
		},
		Notices: NoticesConfig{
			RequireDepartment: true,
			BlobDeletePolicy:  BlobDeleteIgnore,
		},
		Stream: StreamConfig{
			HeartbeatInterval: 25 * time.Second,
			WriteTimeout:      10 * time.Second,
		},
		LogLevel:    "info",
		Environment: EnvDevelopment,
	}
}

// Load reads configuration from the optional YAML file named by NOTICEBOARD_CONFIG_FILE
// and from environment variables, then creates required directories.
func Load() (*Config, error) {
	cfg, err := load(os.Getenv(EnvPrefix+"CONFIG_FILE"), nil)
	if err != nil {
		return nil, err
	}

	// #nosec G301 - 0755 is appropriate for media directories that need to be readable by web server
	if err := os.MkdirAll(cfg.Storage.UploadPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", cfg.Storage.UploadPath, err)
	}

	return cfg, nil
}

// load layers defaults, the YAML file and the environment, in that order.
// A nil environ reads the process environment.
func load(configFile string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		// #nosec G304 - path comes from the operator's environment
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum values and required settings.
func (c *Config) Validate() error {
	var errs []error
	if !c.Auth.Method.IsValid() {
		errs = append(errs, fmt.Errorf("invalid auth method %q", c.Auth.Method))
	}
	if !c.Environment.IsValid() {
		errs = append(errs, fmt.Errorf("invalid environment %q", c.Environment))
	}
	if !c.Auth.CookieSameSite.IsValid() {
		errs = append(errs, fmt.Errorf("invalid cookie samesite %q", c.Auth.CookieSameSite))
	}
	if !c.Auth.SessionStore.IsValid() {
		errs = append(errs, fmt.Errorf("invalid session store %q", c.Auth.SessionStore))
	}
	if !c.Database.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("invalid database driver %q", c.Database.Driver))
	}
	if !c.Notices.BlobDeletePolicy.IsValid() {
		errs = append(errs, fmt.Errorf("invalid blob delete policy %q", c.Notices.BlobDeletePolicy))
	}
	if c.Storage.UploadPath == "" {
		errs = append(errs, errors.New("upload path is required"))
	}
	if c.Storage.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}
	if c.Auth.Method.SupportsOIDC() && c.Auth.OIDCProviderURL == "" {
		errs = append(errs, errors.New("OIDC provider URL is required when OIDC is enabled"))
	}
	if c.Auth.Method.SupportsOIDC() && c.Server.FrontendURL == "" {
		errs = append(errs, errors.New("frontend URL is required when OIDC is enabled"))
	}
	if c.Environment.IsProduction() && c.Auth.SessionSecret == Default().Auth.SessionSecret {
		errs = append(errs, errors.New("session secret must be changed in production"))
	}
	return errors.Join(errs...)
}

// DSN returns the driver-specific data source name for database/sql.
func (d DatabaseConfig) DSN() string {
	if d.Driver == DriverMySQL {
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Database)
	}
	return "file:" + d.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_time_format=sqlite"
}

// MigrationURL returns the golang-migrate database URL for this configuration.
func (d DatabaseConfig) MigrationURL() string {
	if d.Driver == DriverMySQL {
		return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?multiStatements=true",
			url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Database)
	}
	return "sqlite://" + d.SQLitePath
}
