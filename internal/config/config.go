// Package config resolves AlienChat settings from flags, the environment, an optional .env
// file and an optional YAML config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/AlienChat/internal/api"
	"github.com/BTreeMap/AlienChat/internal/auth"
	"github.com/BTreeMap/AlienChat/internal/genai"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults that are not owned by another package.
const (
	DefaultStateDir   = "/var/lib/alienchat"
	DefaultDBFileName = "alienchat.db"
	DefaultReferer    = "http://localhost:8080"
	DefaultLogLevel   = "debug"
)

// Setting keys. Each key is bound to one environment variable and, for some, one flag.
const (
	KeyStateDir           = "state_dir"
	KeyDatabaseURL        = "database_url"
	KeyAPIAddr            = "api_addr"
	KeyAPIKey             = "openrouter_api_key"
	KeyModel              = "model_id"
	KeyBaseURL            = "completion_base_url"
	KeyCompletionTimeout  = "completion_timeout"
	KeyReferer            = "app_referer"
	KeyTitle              = "app_title"
	KeyAdminEmail         = "admin_email"
	KeyAdminPassword      = "admin_password"
	KeyGoogleClientID     = "google_client_id"
	KeyGoogleClientSecret = "google_client_secret"
	KeyGoogleRedirectURL  = "google_redirect_url"
	KeySessionTTL         = "session_ttl"
	KeyFlowsFile          = "flows_file"
	KeyLogLevel           = "log_level"
	KeySecureCookies      = "secure_cookies"
)

var envNames = map[string]string{
	KeyStateDir:           "ALIENCHAT_STATE_DIR",
	KeyDatabaseURL:        "DATABASE_URL",
	KeyAPIAddr:            "API_ADDR",
	KeyAPIKey:             "OPENROUTER_API_KEY",
	KeyModel:              "MODEL_ID",
	KeyBaseURL:            "COMPLETION_BASE_URL",
	KeyCompletionTimeout:  "COMPLETION_TIMEOUT",
	KeyReferer:            "APP_REFERER",
	KeyTitle:              "APP_TITLE",
	KeyAdminEmail:         "ADMIN_EMAIL",
	KeyAdminPassword:      "ADMIN_PASSWORD",
	KeyGoogleClientID:     "GOOGLE_CLIENT_ID",
	KeyGoogleClientSecret: "GOOGLE_CLIENT_SECRET",
	KeyGoogleRedirectURL:  "GOOGLE_REDIRECT_URL",
	KeySessionTTL:         "SESSION_TTL",
	KeyFlowsFile:          "FLOWS_FILE",
	KeyLogLevel:           "LOG_LEVEL",
	KeySecureCookies:      "SECURE_COOKIES",
}

// flagNames maps command line flags to setting keys.
var flagNames = map[string]string{
	"state-dir":  KeyStateDir,
	"db-dsn":     KeyDatabaseURL,
	"api-addr":   KeyAPIAddr,
	"model":      KeyModel,
	"flows-file": KeyFlowsFile,
	"log-level":  KeyLogLevel,
}

// ConfigFlag names the flag that points at an optional YAML config file.
const ConfigFlag = "config"

// Config is the resolved application configuration.
type Config struct {
	StateDir          string        `mapstructure:"state_dir"`
	DatabaseURL       string        `mapstructure:"database_url"`
	APIAddr           string        `mapstructure:"api_addr"`
	APIKey            string        `mapstructure:"openrouter_api_key"`
	Model             string        `mapstructure:"model_id"`
	BaseURL           string        `mapstructure:"completion_base_url"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	Referer           string        `mapstructure:"app_referer"`
	Title             string        `mapstructure:"app_title"`
	AdminEmail        string        `mapstructure:"admin_email"`
	AdminPassword     string        `mapstructure:"admin_password"`
	GoogleClientID    string        `mapstructure:"google_client_id"`
	GoogleSecret      string        `mapstructure:"google_client_secret"`
	GoogleRedirectURL string        `mapstructure:"google_redirect_url"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	FlowsFile         string        `mapstructure:"flows_file"`
	LogLevel          string        `mapstructure:"log_level"`
	SecureCookies     bool          `mapstructure:"secure_cookies"`
}

// RegisterFlags adds the configuration flags to cmd's persistent flag set.
func RegisterFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String(ConfigFlag, "", "path to a YAML config file")
	f.String("state-dir", "", "state directory for AlienChat data (overrides $ALIENCHAT_STATE_DIR)")
	f.String("db-dsn", "", "KV store DSN: file path, postgres://, redis:// or memory (overrides $DATABASE_URL)")
	f.String("api-addr", "", "API server address (overrides $API_ADDR)")
	f.String("model", "", "completion model identifier (overrides $MODEL_ID)")
	f.String("flows-file", "", "YAML flow table replacing the built-in one (overrides $FLOWS_FILE)")
	f.String("log-level", "", "log level: debug, info, warn or error (overrides $LOG_LEVEL)")
}

// LoadDotEnv loads .env files into the process environment without overriding variables
// that are already set. A missing file is not an error.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Debug("config.LoadDotEnv: no .env file loaded", "error", err)
		return
	}
	slog.Debug("config.LoadDotEnv: loaded .env file", "paths", paths)
}

// Load resolves the configuration for cmd. Flags registered with RegisterFlags take
// precedence, then the environment, then the config file named by --config, then defaults.
func Load(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	if cmd != nil {
		for name, key := range flagNames {
			if fl := lookupFlag(cmd, name); fl != nil {
				if err := v.BindPFlag(key, fl); err != nil {
					return Config{}, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
		if fl := lookupFlag(cmd, ConfigFlag); fl != nil && fl.Value.String() != "" {
			v.SetConfigFile(fl.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("failed to read config file %s: %w", fl.Value.String(), err)
			}
			slog.Debug("config.Load: config file read", "path", v.ConfigFileUsed())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	slog.Debug("config.Load: configuration resolved",
		"state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "",
		"api_addr", cfg.APIAddr,
		"api_key_set", cfg.APIKey != "",
		"model", cfg.Model,
		"base_url", cfg.BaseURL,
		"completion_timeout", cfg.CompletionTimeout,
		"admin_set", cfg.AdminEmail != "" && cfg.AdminPassword != "",
		"google_set", cfg.GoogleConfig().Complete(),
		"session_ttl", cfg.SessionTTL,
		"flows_file", cfg.FlowsFile,
		"log_level", cfg.LogLevel)
	return cfg, nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if fl := cmd.Flags().Lookup(name); fl != nil {
		return fl
	}
	return cmd.InheritedFlags().Lookup(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyStateDir, DefaultStateDir)
	v.SetDefault(KeyAPIAddr, api.DefaultAddr)
	v.SetDefault(KeyModel, genai.DefaultModel)
	v.SetDefault(KeyBaseURL, genai.DefaultBaseURL)
	v.SetDefault(KeyCompletionTimeout, genai.DefaultTimeout)
	v.SetDefault(KeyReferer, DefaultReferer)
	v.SetDefault(KeyTitle, genai.DefaultTitle)
	v.SetDefault(KeySessionTTL, auth.DefaultSessionTTL)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeySecureCookies, false)
	// Keys without a default still need to be known to Unmarshal.
	for _, key := range []string{KeyDatabaseURL, KeyAPIKey, KeyAdminEmail, KeyAdminPassword,
		KeyGoogleClientID, KeyGoogleClientSecret, KeyGoogleRedirectURL, KeyFlowsFile} {
		v.SetDefault(key, "")
	}
}

func (c *Config) normalize() {
	c.StateDir = strings.TrimSpace(c.StateDir)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.StateDir == "" {
		errs = append(errs, errors.New("state directory must not be empty"))
	}
	if c.CompletionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("completion timeout must be positive, got %s", c.CompletionTimeout))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("session TTL must be positive, got %s", c.SessionTTL))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if g := c.GoogleConfig(); (g.ClientID != "" || g.ClientSecret != "" || g.RedirectURL != "") && !g.Complete() {
		errs = append(errs, errors.New("google sign-in needs GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// GoogleConfig returns the Google OAuth2 client registration.
func (c Config) GoogleConfig() auth.GoogleConfig {
	return auth.GoogleConfig{
		ClientID:     c.GoogleClientID,
		ClientSecret: c.GoogleSecret,
		RedirectURL:  c.GoogleRedirectURL,
	}
}

// GenAIOptions returns the completion client options.
func (c Config) GenAIOptions() []genai.Option {
	return []genai.Option{
		genai.WithAPIKey(c.APIKey),
		genai.WithBaseURL(c.BaseURL),
		genai.WithModel(c.Model),
		genai.WithReferer(c.Referer),
		genai.WithTitle(c.Title),
		genai.WithTimeout(c.CompletionTimeout),
	}
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelDebug, fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}
