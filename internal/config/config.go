package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "FLEET_NOTIFICATIONS"

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid config")
)

type Config struct {
	Logging               LoggingConfig               `mapstructure:"logging"`
	HTTPServer            HTTPServerConfig            `mapstructure:"http_server"`
	FleetManagementServer FleetManagementServerConfig `mapstructure:"fleet_management_server"`
	Twilio                TwilioConfig                `mapstructure:"twilio"`
	Database              DatabaseConfig              `mapstructure:"database"`
	Engine                EngineConfig                `mapstructure:"engine"`
	Dispatcher            DispatcherConfig            `mapstructure:"dispatcher"`
}

type LoggingConfig struct {
	Console HandlerConfig `mapstructure:"console"`
	File    HandlerConfig `mapstructure:"file"`
}

type HandlerConfig struct {
	Level string `mapstructure:"level"`
	Use   bool   `mapstructure:"use"`
	Path  string `mapstructure:"path"`
}

// HTTPServerConfig configures the status server. Port 0 disables it.
type HTTPServerConfig struct {
	Port      int    `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type FleetManagementServerConfig struct {
	BaseURI         string `mapstructure:"base_uri"`
	APIKey          string `mapstructure:"api_key"`
	RequestTimeoutS int    `mapstructure:"request_timeout_s"`
}

type TwilioConfig struct {
	AccountSID    string              `mapstructure:"account_sid"`
	AuthToken     string              `mapstructure:"auth_token"`
	FromNumber    string              `mapstructure:"from_number"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type NotificationsConfig struct {
	PlaySoundURL             string `mapstructure:"play_sound_url"`
	RepeatedCalls            int    `mapstructure:"repeated_calls"`
	CallStatusTimeoutS       int    `mapstructure:"call_status_timeout_s"`
	CallStatusPollIntervalMs int    `mapstructure:"call_status_poll_interval_ms"`
}

type DatabaseConfig struct {
	Driver     string           `mapstructure:"driver"`
	Connection ConnectionConfig `mapstructure:"connection"`
}

type ConnectionConfig struct {
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Location     string `mapstructure:"location"`
	Port         int    `mapstructure:"port"`
	DatabaseName string `mapstructure:"database_name"`
}

type EngineConfig struct {
	ErrorBackoffS int `mapstructure:"error_backoff_s"`
}

type DispatcherConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// Default returns a Config with the values used for keys missing from the file.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Console: HandlerConfig{Level: "INFO", Use: true},
			File:    HandlerConfig{Level: "INFO"},
		},
		HTTPServer: HTTPServerConfig{Port: 8080},
		FleetManagementServer: FleetManagementServerConfig{
			RequestTimeoutS: 60,
		},
		Twilio: TwilioConfig{
			Notifications: NotificationsConfig{
				RepeatedCalls:            3,
				CallStatusTimeoutS:       60,
				CallStatusPollIntervalMs: 1000,
			},
		},
		Database: DatabaseConfig{
			Driver: DriverPostgres,
			Connection: ConnectionConfig{
				Location: "localhost",
				Port:     5432,
			},
		},
		Engine:     EngineConfig{ErrorBackoffS: 2},
		Dispatcher: DispatcherConfig{Workers: 4, QueueSize: 100},
	}
}

// SetDefaults registers every key with v so that environment variables can
// override keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("logging.console.level", d.Logging.Console.Level)
	v.SetDefault("logging.console.use", d.Logging.Console.Use)
	v.SetDefault("logging.console.path", d.Logging.Console.Path)
	v.SetDefault("logging.file.level", d.Logging.File.Level)
	v.SetDefault("logging.file.use", d.Logging.File.Use)
	v.SetDefault("logging.file.path", d.Logging.File.Path)

	v.SetDefault("http_server.port", d.HTTPServer.Port)
	v.SetDefault("http_server.jwt_secret", d.HTTPServer.JWTSecret)

	v.SetDefault("fleet_management_server.base_uri", d.FleetManagementServer.BaseURI)
	v.SetDefault("fleet_management_server.api_key", d.FleetManagementServer.APIKey)
	v.SetDefault("fleet_management_server.request_timeout_s", d.FleetManagementServer.RequestTimeoutS)

	v.SetDefault("twilio.account_sid", d.Twilio.AccountSID)
	v.SetDefault("twilio.auth_token", d.Twilio.AuthToken)
	v.SetDefault("twilio.from_number", d.Twilio.FromNumber)
	v.SetDefault("twilio.notifications.play_sound_url", d.Twilio.Notifications.PlaySoundURL)
	v.SetDefault("twilio.notifications.repeated_calls", d.Twilio.Notifications.RepeatedCalls)
	v.SetDefault("twilio.notifications.call_status_timeout_s", d.Twilio.Notifications.CallStatusTimeoutS)
	v.SetDefault("twilio.notifications.call_status_poll_interval_ms", d.Twilio.Notifications.CallStatusPollIntervalMs)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.connection.username", d.Database.Connection.Username)
	v.SetDefault("database.connection.password", d.Database.Connection.Password)
	v.SetDefault("database.connection.location", d.Database.Connection.Location)
	v.SetDefault("database.connection.port", d.Database.Connection.Port)
	v.SetDefault("database.connection.database_name", d.Database.Connection.DatabaseName)

	v.SetDefault("engine.error_backoff_s", d.Engine.ErrorBackoffS)

	v.SetDefault("dispatcher.workers", d.Dispatcher.Workers)
	v.SetDefault("dispatcher.queue_size", d.Dispatcher.QueueSize)
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"username":      "database.connection.username",
	"password":      "database.connection.password",
	"location":      "database.connection.location",
	"port":          "database.connection.port",
	"database-name": "database.connection.database_name",
	"driver":        "database.driver",
}

// Load reads the JSON config file at path. Precedence, highest first:
// flags that were set, FLEET_NOTIFICATIONS_* environment variables, the
// file, defaults. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

var validLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "WARN": true, "ERROR": true, "CRITICAL": true,
}

// Validate returns an error wrapping ErrInvalidConfig listing every problem found.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	for name, h := range map[string]HandlerConfig{"console": c.Logging.Console, "file": c.Logging.File} {
		if !validLevels[strings.ToUpper(h.Level)] {
			add("logging.%s.level: unknown level %q", name, h.Level)
		}
	}
	if c.Logging.File.Use && c.Logging.File.Path == "" {
		add("logging.file.path: required when file logging is used")
	}

	if c.HTTPServer.Port < 0 || c.HTTPServer.Port > 65535 {
		add("http_server.port: out of range")
	}
	if c.HTTPServer.Port > 0 && c.HTTPServer.JWTSecret == "" {
		add("http_server.jwt_secret: required")
	}

	if !isHTTPURL(c.FleetManagementServer.BaseURI) {
		add("fleet_management_server.base_uri: must be an http(s) URL")
	}
	if c.FleetManagementServer.RequestTimeoutS <= 0 {
		add("fleet_management_server.request_timeout_s: must be positive")
	}

	if c.Twilio.AccountSID == "" {
		add("twilio.account_sid: required")
	}
	if c.Twilio.AuthToken == "" {
		add("twilio.auth_token: required")
	}
	if c.Twilio.FromNumber == "" {
		add("twilio.from_number: required")
	}
	n := c.Twilio.Notifications
	if !isHTTPURL(n.PlaySoundURL) {
		add("twilio.notifications.play_sound_url: must be an http(s) URL")
	}
	if n.RepeatedCalls <= 0 {
		add("twilio.notifications.repeated_calls: must be positive")
	}
	if n.CallStatusTimeoutS <= 0 {
		add("twilio.notifications.call_status_timeout_s: must be positive")
	}
	if n.CallStatusPollIntervalMs <= 0 {
		add("twilio.notifications.call_status_poll_interval_ms: must be positive")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		add("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.Connection.Location == "" {
		add("database.connection.location: required")
	}

	if c.Engine.ErrorBackoffS <= 0 {
		add("engine.error_backoff_s: must be positive")
	}
	if c.Dispatcher.Workers <= 0 {
		add("dispatcher.workers: must be positive")
	}
	if c.Dispatcher.QueueSize <= 0 {
		add("dispatcher.queue_size: must be positive")
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

func isHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// DSN composes the data source name for the configured driver. For sqlite3
// the location is a directory or file path and the database name, if set,
// is the file inside it.
func (c DatabaseConfig) DSN() string {
	conn := c.Connection
	if c.Driver == DriverSQLite {
		if conn.DatabaseName == "" {
			return conn.Location
		}
		return filepath.Join(conn.Location, conn.DatabaseName)
	}

	u := url.URL{Scheme: "postgres", Host: conn.Location}
	if conn.Port > 0 {
		u.Host = net.JoinHostPort(conn.Location, strconv.Itoa(conn.Port))
	}
	if conn.Username != "" || conn.Password != "" {
		u.User = url.UserPassword(conn.Username, conn.Password)
	}
	if conn.DatabaseName != "" {
		u.Path = "/" + conn.DatabaseName
	}
	return u.String()
}

func (c FleetManagementServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutS) * time.Second
}

func (c NotificationsConfig) CallStatusTimeout() time.Duration {
	return time.Duration(c.CallStatusTimeoutS) * time.Second
}

func (c NotificationsConfig) PollInterval() time.Duration {
	return time.Duration(c.CallStatusPollIntervalMs) * time.Millisecond
}

func (c EngineConfig) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffS) * time.Second
}
