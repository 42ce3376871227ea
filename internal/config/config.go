package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

type Config struct {
	Store           string
	MySQLDSN        string
	MySQLMigrate    bool
	RedisAddr       string
	RedisChannel    string
	HTTPAddr        string
	GRPCAddr        string
	LogLevel        string
	LogMode         string
	ShutdownTimeout time.Duration
}

// RegisterFlags adds every configuration flag with its default and binds it
// to v, which also reads ALLOCATION_* environment variables.
func RegisterFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.String("config", "", "config file")
	flags.String("store", StoreMemory, "store backend: memory|mysql")
	flags.String("mysql-dsn", "", "MySQL DSN, required for --store=mysql; parseTime is always enabled")
	flags.Bool("mysql-migrate", false, "create the MySQL tables on startup")
	flags.String("redis-addr", "", "Redis address; events stay in memory when empty")
	flags.String("redis-channel", "allocation:events", "Redis channel for published events")
	flags.String("http-addr", ":8080", "HTTP listen address")
	flags.String("grpc-addr", ":50051", "gRPC listen address, empty disables gRPC")
	flags.String("log-level", "info", "log level")
	flags.String("log-mode", "production", "log mode: production|development")
	flags.Duration("shutdown-timeout", 5*time.Second, "graceful shutdown timeout")

	if err := v.BindPFlags(flags); err != nil {
		return err
	}
	v.SetEnvPrefix("ALLOCATION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// Load reads the optional config file and returns the validated settings.
func Load(v *viper.Viper) (Config, error) {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Store:           strings.ToLower(v.GetString("store")),
		MySQLDSN:        v.GetString("mysql-dsn"),
		MySQLMigrate:    v.GetBool("mysql-migrate"),
		RedisAddr:       v.GetString("redis-addr"),
		RedisChannel:    v.GetString("redis-channel"),
		HTTPAddr:        v.GetString("http-addr"),
		GRPCAddr:        v.GetString("grpc-addr"),
		LogLevel:        v.GetString("log-level"),
		LogMode:         v.GetString("log-mode"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreMySQL:
		if c.MySQLDSN == "" {
			return errors.New("mysql-dsn is required for the mysql store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		return errors.New("at least one of http-addr and grpc-addr is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown-timeout must be positive")
	}
	return nil
}
