// Package config loads indexer settings from defaults, an optional config
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dex-indexer/internal/domain"
)

// Config holds every runtime setting of the indexer.
type Config struct {
	RPCURL         string `mapstructure:"rpc_url"`
	WSURL          string `mapstructure:"ws_url"`
	FactoryAddress string `mapstructure:"factory_address"`

	DatabaseURL string `mapstructure:"database_url"`
	DBHost      string `mapstructure:"db_host"`
	DBPort      int    `mapstructure:"db_port"`
	DBUsername  string `mapstructure:"db_username"`
	DBPassword  string `mapstructure:"db_password"`
	DBName      string `mapstructure:"db_name"`

	DBMaxConns       int32         `mapstructure:"db_max_conns"`
	DBMinConns       int32         `mapstructure:"db_min_conns"`
	DBConnectTimeout time.Duration `mapstructure:"db_connect_timeout"`
	DBIdleTimeout    time.Duration `mapstructure:"db_idle_timeout"`
	DBQueryTimeout   time.Duration `mapstructure:"db_query_timeout"`

	EventsBackend string `mapstructure:"events_backend"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`

	PollInterval       time.Duration `mapstructure:"poll_interval"`
	StartupConcurrency int           `mapstructure:"startup_concurrency"`
	ReserveCallTimeout time.Duration `mapstructure:"reserve_call_timeout"`

	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	UseMemory   bool   `mapstructure:"use_memory"`
}

// Event store backends.
const (
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
)

const (
	DefaultDBPort             = 5432
	DefaultDBMaxConns         = 20
	DefaultDBConnectTimeout   = 5 * time.Second
	DefaultDBIdleTimeout      = 30 * time.Second
	DefaultDBQueryTimeout     = 5 * time.Second
	DefaultPollInterval       = 4 * time.Second
	DefaultStartupConcurrency = 8
	DefaultReserveCallTimeout = 10 * time.Second
	DefaultMetricsAddr        = ":9090"
)

// New returns a viper instance carrying the defaults and bound to the
// environment. Variables use the upper-cased key, e.g. RPC_URL.
func New() *viper.Viper {
	v := viper.New()

	defaults := map[string]interface{}{
		"rpc_url":              "",
		"ws_url":               "",
		"factory_address":      "",
		"database_url":         "",
		"db_host":              "",
		"db_port":              DefaultDBPort,
		"db_username":          "",
		"db_password":          "",
		"db_name":              "",
		"db_max_conns":         DefaultDBMaxConns,
		"db_min_conns":         0,
		"db_connect_timeout":   DefaultDBConnectTimeout,
		"db_idle_timeout":      DefaultDBIdleTimeout,
		"db_query_timeout":     DefaultDBQueryTimeout,
		"events_backend":       BackendPostgres,
		"clickhouse_dsn":       "",
		"poll_interval":        DefaultPollInterval,
		"startup_concurrency":  DefaultStartupConcurrency,
		"reserve_call_timeout": DefaultReserveCallTimeout,
		"log_level":            "info",
		"log_format":           "json",
		"metrics_addr":         DefaultMetricsAddr,
		"use_memory":           false,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) into v and decodes the result.
// The returned config is validated.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostgresDSN returns DATABASE_URL, or a URL assembled from the DB_* parts.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" || c.DBName == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	if c.DBUsername != "" {
		if c.DBPassword != "" {
			u.User = url.UserPassword(c.DBUsername, c.DBPassword)
		} else {
			u.User = url.User(c.DBUsername)
		}
	}
	return u.String()
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("missing rpc_url")
	}
	if err := validateScheme(c.RPCURL, "http"); err != nil {
		return fmt.Errorf("rpc_url: %w", err)
	}
	if c.WSURL != "" {
		if err := validateScheme(c.WSURL, "ws"); err != nil {
			return fmt.Errorf("ws_url: %w", err)
		}
	}
	if c.FactoryAddress == "" {
		return errors.New("missing factory_address")
	}
	if !domain.ValidAddress(c.FactoryAddress) {
		return errors.New("invalid factory_address")
	}

	if !c.UseMemory && c.PostgresDSN() == "" {
		return errors.New("missing database_url or db_host/db_name")
	}
	switch c.EventsBackend {
	case BackendPostgres:
	case BackendClickhouse:
		if c.ClickhouseDSN == "" {
			return errors.New("events_backend clickhouse requires clickhouse_dsn")
		}
	default:
		return fmt.Errorf("invalid events_backend %q", c.EventsBackend)
	}

	if err := c.validateNumeric(); err != nil {
		return err
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	return nil
}

func (c *Config) validateNumeric() error {
	if c.DBPort <= 0 || c.DBPort > 65535 {
		return errors.New("invalid db_port")
	}
	if c.DBMaxConns <= 0 {
		return errors.New("invalid db_max_conns")
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return errors.New("invalid db_min_conns")
	}
	if c.DBConnectTimeout <= 0 {
		return errors.New("invalid db_connect_timeout")
	}
	if c.DBIdleTimeout <= 0 {
		return errors.New("invalid db_idle_timeout")
	}
	if c.DBQueryTimeout <= 0 {
		return errors.New("invalid db_query_timeout")
	}
	if c.PollInterval <= 0 {
		return errors.New("invalid poll_interval")
	}
	if c.StartupConcurrency <= 0 {
		return errors.New("invalid startup_concurrency")
	}
	if c.ReserveCallTimeout <= 0 {
		return errors.New("invalid reserve_call_timeout")
	}
	return nil
}

func validateScheme(rawURL, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}
