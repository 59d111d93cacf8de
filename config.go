package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of all environment variables read by the app.
const EnvPrefix = "SGATE"

// Supported persistence drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverRedis    = "redis"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit               string         `yaml:"git_commit" envconfig:"SGATE_GIT_COMMIT" json:"git_commit"`
	GitTag                  string         `yaml:"git_tag" envconfig:"SGATE_GIT_TAG" json:"git_tag"`
	BuildTime               string         `yaml:"build_time" envconfig:"SGATE_BUILD_TIME" json:"build_time"`
	IsProduction            bool           `yaml:"is_production" envconfig:"SGATE_IS_PRODUCTION" json:"is_production"`
	LogLevel                zapcore.Level  `yaml:"log_level" envconfig:"SGATE_LOG_LEVEL" json:"log_level"`
	LogFile                 string         `yaml:"log_file" envconfig:"SGATE_LOG_FILE" json:"log_file"`
	OpsEndpointsEnable      bool           `yaml:"ops_endpoints_enable" envconfig:"SGATE_OPS_ENDPOINTS_ENABLE" json:"ops_endpoints_enable"`
	ProfilerEndpointsEnable bool           `yaml:"profiler_endpoints_enable" envconfig:"SGATE_PROFILER_ENDPOINTS_ENABLE" json:"profiler_endpoints_enable"`
	Server                  ServerConfig   `yaml:"server" json:"server"`
	Database                DatabaseConfig `yaml:"database" json:"database"`
	Redis                   RedisConfig    `yaml:"redis" json:"redis"`
	BoltDB                  BoltDBConfig   `yaml:"boltdb" json:"boltdb"`
	Gateway                 GatewayConfig  `yaml:"gateway" json:"gateway"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"SGATE_SERVER_HOST" json:"host"`
	Port            string        `yaml:"port" envconfig:"SGATE_SERVER_PORT" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"SGATE_SERVER_READ_TIMEOUT" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"SGATE_SERVER_WRITE_TIMEOUT" json:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"SGATE_SERVER_REQUEST_TIMEOUT" json:"request_timeout"` // Time to wait for a request to finish
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SGATE_SERVER_SHUTDOWN_TIMEOUT" json:"shutdown_timeout"`
}

// DatabaseConfig selects the persistence driver. The DSN is
// only used by the relational drivers (postgres and sqlite).
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" envconfig:"SGATE_DATABASE_DRIVER" json:"driver"`
	DSN             string        `yaml:"dsn" envconfig:"SGATE_DATABASE_DSN" json:"-"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"SGATE_DATABASE_MAX_OPEN_CONNS" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"SGATE_DATABASE_MAX_IDLE_CONNS" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"SGATE_DATABASE_CONN_MAX_LIFETIME" json:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate" envconfig:"SGATE_DATABASE_AUTO_MIGRATE" json:"auto_migrate"`
	SeedFile        string        `yaml:"seed_file" envconfig:"SGATE_DATABASE_SEED_FILE" json:"seed_file"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"SGATE_REDIS_HOST" json:"host"`
	Port          string        `yaml:"port" envconfig:"SGATE_REDIS_PORT" json:"port"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"SGATE_REDIS_DIAL_TIMEOUT" json:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"SGATE_REDIS_READ_TIMEOUT" json:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"SGATE_REDIS_WRITE_TIMEOUT" json:"write_timeout"`
	PoolSize      int           `yaml:"pool_size" envconfig:"SGATE_REDIS_POOL_SIZE" json:"pool_size"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"SGATE_REDIS_POOL_TIMEOUT" json:"pool_timeout"`
	Username      string        `yaml:"username" envconfig:"SGATE_REDIS_USERNAME" json:"-"`
	Password      string        `yaml:"password" envconfig:"SGATE_REDIS_PASSWORD" json:"-"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"SGATE_REDIS_DATABASE_INDEX" json:"db_index"`
}

type BoltDBConfig struct {
	FilePath   string        `yaml:"filepath" envconfig:"SGATE_BOLTDB_FILE_PATH" json:"filepath"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"SGATE_BOLTDB_TIMEOUT" json:"timeout"`
	BucketName string        `yaml:"bucket_name" envconfig:"SGATE_BOLTDB_BUCKET_NAME" json:"bucket_name"`
}

// GatewayConfig holds the gateway listener and the path of its route table.
type GatewayConfig struct {
	Host       string `yaml:"host" envconfig:"SGATE_GATEWAY_HOST" json:"host"`
	Port       string `yaml:"port" envconfig:"SGATE_GATEWAY_PORT" json:"port"`
	RoutesFile string `yaml:"routes_file" envconfig:"SGATE_GATEWAY_ROUTES_FILE" json:"routes_file"`
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	yd := yaml.NewDecoder(file)
	err = yd.Decode(cfg)

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnvs reads the environments variables and fills the App config.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig setup defaults values for non provided parameters
// and configures build tags values to be used if provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	if len(config.LogFile) == 0 {
		config.LogFile = "./logs/shelfgate.log"
	}

	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 30 * time.Second
	}

	if config.Server.ShutdownTimeout == 0 {
		config.Server.ShutdownTimeout = 10 * time.Second
	}

	if len(config.Database.Driver) == 0 {
		config.Database.Driver = DriverSQLite
	}

	switch config.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if len(config.Database.DSN) == 0 {
			return fmt.Errorf("make sure to set a valid dsn for the %s database driver", config.Database.Driver)
		}
	case DriverBolt:
		if len(config.BoltDB.FilePath) == 0 {
			return errors.New("make sure to set valid boltdb file path in configuration file")
		}
		if len(config.BoltDB.BucketName) == 0 {
			config.BoltDB.BucketName = "books"
		}
	case DriverRedis:
		if len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0 {
			return errors.New("make sure to set valid redis address and port in configuration file")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", config.Database.Driver)
	}

	return nil
}

// ValidateServerConfig checks the api server listening address.
func ValidateServerConfig(config *Config) error {
	if len(config.Server.Host) == 0 || len(config.Server.Port) == 0 {
		return errors.New("make sure to set valid server address and port in configuration file")
	}
	return nil
}

// ValidateGatewayConfig checks the gateway listening address and route table location.
func ValidateGatewayConfig(config *Config) error {
	if len(config.Gateway.Host) == 0 || len(config.Gateway.Port) == 0 {
		return errors.New("make sure to set valid gateway address and port in configuration file")
	}
	if len(config.Gateway.RoutesFile) == 0 {
		return errors.New("make sure to set the gateway routes file in configuration file")
	}
	return nil
}

// LoadAndInitConfigs loads in order the configs from various predefined sources
// then build the App configuration data. A missing env file is not an error.
func LoadAndInitConfigs(configFile, envFile, gitCommit, gitTag, buildTime string) (*Config, error) {
	// Setup the yaml configuration from file.
	config, err := LoadConfigFile(configFile)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// Set the environment configuration.
	if len(envFile) != 0 {
		err = godotenv.Load(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("failed to set environment configurations: %s", err)
		}
	}

	// Use environment variables with prefix `SGATE`.
	err = LoadConfigEnvs(EnvPrefix, config)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	err = InitConfig(config, gitCommit, gitTag, buildTime)
	if err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
