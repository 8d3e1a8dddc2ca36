package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mobility-rollups/pkg/database"
)

// Config is the root configuration shared by the refresher, server and migrate commands.
type Config struct {
	Database DatabaseConfig `yaml:"database" validate:"required"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	NATS     NATSConfig     `yaml:"nats"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"gt=0,lte=65535"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database" validate:"required"`
	SSLMode         string        `yaml:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	Schema          string        `yaml:"schema" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Postgres returns the pool settings for database.NewPostgresDB.
func (d DatabaseConfig) Postgres() *database.Config {
	return &database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
}

// RefreshConfig drives the dedup load and the rolling refresh.
type RefreshConfig struct {
	// WindowDays is the trailing refresh window. Zero is valid and yields empty rollups.
	WindowDays int `yaml:"window_days" validate:"gte=0,lte=3660"`
	// RegionPrefix restricts both zone codes of a leg. Empty means unrestricted.
	RegionPrefix   string `yaml:"region_prefix" validate:"omitempty,numeric"`
	ZoneCodeLength int    `yaml:"zone_code_length" validate:"gt=0"`
	// RollingDays and OverlapDays position the incremental load watermark.
	RollingDays int    `yaml:"rolling_days" validate:"gt=0"`
	OverlapDays int    `yaml:"overlap_days" validate:"gte=0"`
	Timezone    string `yaml:"timezone"`
	LoadBatch   int    `yaml:"load_batch" validate:"gt=0"`
	// ServiceRules are consulted before the built-in service group table.
	ServiceRules []ServiceRule `yaml:"service_rules" validate:"dive"`

	Location *time.Location `yaml:"-"`
}

// ServiceRule maps a case-insensitive substring of a leg's mode or service name to a group.
type ServiceRule struct {
	Field    string `yaml:"field" validate:"oneof=mode service"`
	Contains string `yaml:"contains" validate:"required"`
	Group    string `yaml:"group" validate:"required,oneof=fixed_route demand_response walk bike scooter rideshare other_transit other"`
}

type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Defaults returns the configuration used when neither a file nor the environment says otherwise.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Database:        "mobility",
			SSLMode:         "disable",
			Schema:          "mobility",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Refresh: RefreshConfig{
			WindowDays:     31,
			ZoneCodeLength: 12,
			RollingDays:    34,
			OverlapDays:    5,
			LoadBatch:      50000,
		},
		NATS: NATSConfig{SubjectPrefix: "mobility"},
	}
}

// LoadConfig layers defaults, the optional YAML file named by REFRESH_CONFIG_FILE, and the
// environment (a .env file is loaded first when present).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("REFRESH_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	loc := time.Local
	if cfg.Refresh.Timezone != "" {
		l, err := time.LoadLocation(cfg.Refresh.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Refresh.Timezone, err)
		}
		loc = l
	}
	cfg.Refresh.Location = loc

	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(c.Refresh.RegionPrefix) > c.Refresh.ZoneCodeLength {
		return fmt.Errorf("invalid configuration: region prefix %q longer than zone code length %d",
			c.Refresh.RegionPrefix, c.Refresh.ZoneCodeLength)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	db := &cfg.Database
	db.Host = getenvDefault(db.Host, "DB_HOST", "PGHOST")
	db.User = getenvDefault(db.User, "DB_USER", "PGUSER")
	db.Password = getenvDefault(db.Password, "DB_PASSWORD", "PGPASSWORD")
	db.Database = getenvDefault(db.Database, "DB_NAME", "PGDATABASE")
	db.SSLMode = getenvDefault(db.SSLMode, "DB_SSLMODE", "PGSSLMODE")
	db.Schema = getenvDefault(db.Schema, "DB_SCHEMA")

	var err error
	if db.Port, err = intEnv(db.Port, "DB_PORT", "PGPORT"); err != nil {
		return err
	}
	if db.MaxOpenConns, err = intEnv(db.MaxOpenConns, "DB_MAX_OPEN_CONNS"); err != nil {
		return err
	}
	if db.MaxIdleConns, err = intEnv(db.MaxIdleConns, "DB_MAX_IDLE_CONNS"); err != nil {
		return err
	}
	if db.ConnMaxLifetime, err = durationEnv(db.ConnMaxLifetime, "DB_CONN_MAX_LIFETIME"); err != nil {
		return err
	}
	if db.ConnMaxIdleTime, err = durationEnv(db.ConnMaxIdleTime, "DB_CONN_MAX_IDLE_TIME"); err != nil {
		return err
	}

	srv := &cfg.Server
	srv.Host = getenvDefault(srv.Host, "SERVER_HOST")
	if srv.Port, err = intEnv(srv.Port, "SERVER_PORT"); err != nil {
		return err
	}
	if srv.ReadTimeout, err = durationEnv(srv.ReadTimeout, "SERVER_READ_TIMEOUT"); err != nil {
		return err
	}
	if srv.WriteTimeout, err = durationEnv(srv.WriteTimeout, "SERVER_WRITE_TIMEOUT"); err != nil {
		return err
	}
	if srv.IdleTimeout, err = durationEnv(srv.IdleTimeout, "SERVER_IDLE_TIMEOUT"); err != nil {
		return err
	}

	cfg.Logging.Level = strings.ToLower(getenvDefault(cfg.Logging.Level, "LOG_LEVEL"))

	r := &cfg.Refresh
	if r.WindowDays, err = intEnv(r.WindowDays, "WINDOW_DAYS", "PROC_DAYS_BACK"); err != nil {
		return err
	}
	r.RegionPrefix = strings.TrimSpace(getenvDefault(r.RegionPrefix, "REGION_PREFIX", "PROC_REGION_PREFIX"))
	if r.ZoneCodeLength, err = intEnv(r.ZoneCodeLength, "ZONE_CODE_LENGTH"); err != nil {
		return err
	}
	if r.RollingDays, err = intEnv(r.RollingDays, "ROLLING_DAYS"); err != nil {
		return err
	}
	if r.OverlapDays, err = intEnv(r.OverlapDays, "OVERLAP_DAYS"); err != nil {
		return err
	}
	if r.LoadBatch, err = intEnv(r.LoadBatch, "LOAD_BATCH"); err != nil {
		return err
	}
	r.Timezone = getenvDefault(r.Timezone, "REFRESH_TZ", "TZ")

	cfg.NATS.URL = getenvDefault(cfg.NATS.URL, "NATS_URL")
	cfg.NATS.SubjectPrefix = getenvDefault(cfg.NATS.SubjectPrefix, "NATS_SUBJECT_PREFIX")

	cfg.Tracing.Endpoint = getenvDefault(cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		cfg.Tracing.Insecure = parseBool(v)
	}

	return nil
}

// getenvDefault returns the first non-empty variable among keys, else def.
func getenvDefault(def string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func intEnv(def int, keys ...string) (int, error) {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %q", k, v)
		}
		return n, nil
	}
	return def, nil
}

func durationEnv(def time.Duration, key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
