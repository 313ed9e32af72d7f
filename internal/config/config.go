package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// CacheConfig selects the schema cache strategy.
type CacheConfig struct {
	Driver     string      `mapstructure:"driver"` // memory | redis
	TTLSeconds int         `mapstructure:"ttl_seconds"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	CSRFSecret  string `mapstructure:"csrf_secret"`
	CSRFEnabled bool   `mapstructure:"csrf_enabled"`
}

type EngineConfig struct {
	AuditEnabled          bool `mapstructure:"audit_enabled"`
	FailClosedPermissions bool `mapstructure:"fail_closed_permissions"`
}

type StorageConfig struct {
	LocalPath   string `mapstructure:"local_path"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

// WorkflowsConfig points at a directory of YAML workflow definitions.
type WorkflowsConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "sqlite":
		if d.Name == ":memory:" {
			return d.Name
		}
		return d.Path + "/" + d.Name + ".db"
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	default:
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			d.User, d.Password, d.Host, d.Port, d.Name)
	}
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "entityflow")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.prefix", "entityflow:")
	v.SetDefault("auth.jwt_secret", "changeme-secret")
	v.SetDefault("auth.csrf_enabled", false)
	v.SetDefault("engine.audit_enabled", true)
	v.SetDefault("engine.fail_closed_permissions", false)
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("storage.max_file_size", 10485760)
	v.SetDefault("workflows.dir", "./workflows")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", true)
}

// Load reads entityflow.yaml (optional), a .env file (optional) and
// ENTITYFLOW_* environment variables. An explicit path must exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("entityflow")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("entityflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
