// Package config provides Viper-based configuration loading for the table server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/cory-johannsen/prism/internal/game/dice"
)

// Realtime backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// ServerConfig holds process identity settings.
type ServerConfig struct {
	// Name is reported in logs.
	Name string `mapstructure:"name"`
	// InstanceID tags the writes of this process so it can recognise its own
	// changes on the feed. Generated when empty.
	InstanceID string `mapstructure:"instance_id"`
	// ShutdownTimeout bounds graceful shutdown of every service.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// RealtimeConfig selects and tunes the change feed.
type RealtimeConfig struct {
	// Backend is one of postgres, redis or memory. The memory backend keeps
	// tokens in the process and needs no database.
	Backend string `mapstructure:"backend"`
	// Channel is the LISTEN channel or pub/sub channel name.
	Channel string `mapstructure:"channel"`
	// WriteTimeout bounds each repository write made by the outbox.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ReconnectDelay is the pause before resubscribing after a feed failure.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

// RedisConfig holds Redis client settings for the redis backend.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MaxRetries      int           `mapstructure:"max_retries"`
	UseTLS          bool          `mapstructure:"use_tls"`
}

// HTTPConfig holds the websocket listener settings.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// WriteTimeout bounds a single websocket frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ReadHeaderTimeout bounds reading the upgrade request headers.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// OriginPatterns lists host patterns allowed to open a websocket. Empty
	// accepts any origin.
	OriginPatterns []string `mapstructure:"origin_patterns"`
}

// Addr returns the "host:port" listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// AdminConfig holds the gRPC health and reflection listener settings.
type AdminConfig struct {
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
	// Reflection registers the gRPC reflection service.
	Reflection bool `mapstructure:"reflection"`
	// HealthInterval is how often backing stores are checked.
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// Addr returns the "host:port" gRPC address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// TableConfig describes the shared battle map and table rules.
type TableConfig struct {
	MapWidth    int    `mapstructure:"map_width"`
	MapHeight   int    `mapstructure:"map_height"`
	GridSize    int    `mapstructure:"grid_size"`
	MapImageURL string `mapstructure:"map_image_url"`
	// DragJitter is the pixel distance before a gesture counts as a drag.
	DragJitter float64 `mapstructure:"drag_jitter"`
	// BestiaryDir holds monster YAML presets. Empty disables spawning.
	BestiaryDir string `mapstructure:"bestiary_dir"`
	// InitiativeDie is the expression rolled for initiative before the modifier.
	InitiativeDie string `mapstructure:"initiative_die"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Redis    RedisConfig    `mapstructure:"redis"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Table    TableConfig    `mapstructure:"table"`
}

// UsesDatabase reports whether the selected backend persists to PostgreSQL.
func (c Config) UsesDatabase() bool {
	return c.Realtime.Backend != BackendMemory
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	add := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	add(validateServer(c.Server))
	add(validateRealtime(c.Realtime))
	if c.UsesDatabase() {
		add(validateDatabase(c.Database))
	}
	if c.Realtime.Backend == BackendRedis {
		add(validateRedis(c.Redis))
	}
	add(validatePort("http.port", c.HTTP.Port))
	if c.HTTP.WriteTimeout <= 0 {
		errs = append(errs, "http.write_timeout must be > 0")
	}
	add(validatePort("admin.grpc_port", c.Admin.GRPCPort))
	add(validateLogging(c.Logging))
	add(validateTable(c.Table))

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.InstanceID == "" {
		return errors.New("server.instance_id must not be empty")
	}
	if s.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}
	return nil
}

func validateRealtime(r RealtimeConfig) error {
	var errs []string
	valid := map[string]bool{BackendPostgres: true, BackendRedis: true, BackendMemory: true}
	if !valid[r.Backend] {
		errs = append(errs, fmt.Sprintf("realtime.backend must be one of [postgres, redis, memory], got %q", r.Backend))
	}
	if r.Channel == "" {
		errs = append(errs, "realtime.channel must not be empty")
	}
	if r.WriteTimeout <= 0 {
		errs = append(errs, "realtime.write_timeout must be > 0")
	}
	if r.ReconnectDelay < 0 {
		errs = append(errs, "realtime.reconnect_delay must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if err := validatePort("database.port", d.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRedis(r RedisConfig) error {
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "redis.addr must not be empty")
	}
	if r.DB < 0 {
		errs = append(errs, "redis.db must not be negative")
	}
	if r.PoolSize < 0 || r.MinIdleConns < 0 || r.MaxRetries < -1 {
		errs = append(errs, "redis pool settings must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateTable(t TableConfig) error {
	var errs []string
	if t.GridSize <= 0 {
		errs = append(errs, fmt.Sprintf("table.grid_size must be > 0, got %d", t.GridSize))
	}
	if t.MapWidth < t.GridSize || t.MapHeight < t.GridSize {
		errs = append(errs, "table.map_width and table.map_height must each hold at least one cell")
	}
	if t.DragJitter < 0 {
		errs = append(errs, "table.drag_jitter must not be negative")
	}
	if t.InitiativeDie == "" {
		errs = append(errs, "table.initiative_die must not be empty")
	} else if _, err := dice.Parse(t.InitiativeDie); err != nil {
		errs = append(errs, fmt.Sprintf("table.initiative_die: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and the
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRISM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if cfg.Server.InstanceID == "" {
		cfg.Server.InstanceID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	setDefaults(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "prism")
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "prism")
	v.SetDefault("database.password", "prism")
	v.SetDefault("database.name", "prism")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("realtime.backend", BackendPostgres)
	v.SetDefault("realtime.channel", "token_changes")
	v.SetDefault("realtime.write_timeout", "5s")
	v.SetDefault("realtime.reconnect_delay", "2s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)
	v.SetDefault("redis.conn_max_idle_time", "5m")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.use_tls", false)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.write_timeout", "3s")
	v.SetDefault("http.read_header_timeout", "10s")
	v.SetDefault("http.origin_patterns", []string{})

	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 50051)
	v.SetDefault("admin.reflection", true)
	v.SetDefault("admin.health_interval", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("table.map_width", 1200)
	v.SetDefault("table.map_height", 800)
	v.SetDefault("table.grid_size", 50)
	v.SetDefault("table.map_image_url", "")
	v.SetDefault("table.drag_jitter", 5.0)
	v.SetDefault("table.bestiary_dir", "content/bestiary")
	v.SetDefault("table.initiative_die", "1d20")
}
