package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const testConfigYAML = `
is_production: false
log_level: debug
log_file: ./logs/test.log
ops_endpoints_enable: true
server:
  host: 127.0.0.1
  port: "8080"
  request_timeout: 5s
database:
  driver: sqlite
  dsn: file::memory:
  auto_migrate: true
gateway:
  host: 127.0.0.1
  port: "8000"
  routes_file: ./gateway.routes.yml
`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	config, err := LoadConfigFile(writeTempFile(t, "config.yml", testConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, config.LogLevel)
	assert.True(t, config.OpsEndpointsEnable)
	assert.Equal(t, "8080", config.Server.Port)
	assert.Equal(t, 5*time.Second, config.Server.RequestTimeout)
	assert.Equal(t, DriverSQLite, config.Database.Driver)
	assert.True(t, config.Database.AutoMigrate)
	assert.Equal(t, "./gateway.routes.yml", config.Gateway.RoutesFile)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadAndInitConfigs(t *testing.T) {
	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("SGATE_SERVER_PORT", "9090")
		t.Setenv("SGATE_DATABASE_DRIVER", "bolt")
		t.Setenv("SGATE_BOLTDB_FILE_PATH", "./data/books.db")
		configFile := writeTempFile(t, "config.yml", testConfigYAML)
		config, err := LoadAndInitConfigs(configFile, "", "abc123", "v1.0.0", "2023-07-02")
		require.NoError(t, err)
		assert.Equal(t, "9090", config.Server.Port)
		assert.Equal(t, DriverBolt, config.Database.Driver)
		assert.Equal(t, "books", config.BoltDB.BucketName)
		assert.Equal(t, "abc123", config.GitCommit)
		assert.Equal(t, "v1.0.0", config.GitTag)
		assert.Equal(t, "2023-07-02", config.BuildTime)
	})

	t.Run("env file is loaded", func(t *testing.T) {
		// godotenv does not override variables already set so
		// the key is registered for cleanup then removed.
		t.Setenv("SGATE_GATEWAY_PORT", "")
		require.NoError(t, os.Unsetenv("SGATE_GATEWAY_PORT"))
		configFile := writeTempFile(t, "config.yml", testConfigYAML)
		envFile := writeTempFile(t, "config.env", "SGATE_GATEWAY_PORT=7000\n")
		config, err := LoadAndInitConfigs(configFile, envFile, "", "", "")
		require.NoError(t, err)
		assert.Equal(t, "7000", config.Gateway.Port)
	})

	t.Run("missing env file is tolerated", func(t *testing.T) {
		configFile := writeTempFile(t, "config.yml", testConfigYAML)
		_, err := LoadAndInitConfigs(configFile, filepath.Join(t.TempDir(), "none.env"), "", "", "")
		assert.NoError(t, err)
	})

	t.Run("invalid driver", func(t *testing.T) {
		t.Setenv("SGATE_DATABASE_DRIVER", "mongo")
		configFile := writeTempFile(t, "config.yml", testConfigYAML)
		_, err := LoadAndInitConfigs(configFile, "", "", "", "")
		assert.Error(t, err)
	})
}

func TestInitConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config := &Config{Database: DatabaseConfig{DSN: "file::memory:"}}
		require.NoError(t, InitConfig(config, "", "", ""))
		assert.Equal(t, DriverSQLite, config.Database.Driver)
		assert.Equal(t, "./logs/shelfgate.log", config.LogFile)
		assert.Equal(t, 30*time.Second, config.Server.RequestTimeout)
		assert.Equal(t, 10*time.Second, config.Server.ShutdownTimeout)
	})

	testCases := []struct {
		name   string
		config *Config
	}{
		{"postgres without dsn", &Config{Database: DatabaseConfig{Driver: DriverPostgres}}},
		{"sqlite without dsn", &Config{Database: DatabaseConfig{Driver: DriverSQLite}}},
		{"bolt without file", &Config{Database: DatabaseConfig{Driver: DriverBolt}}},
		{"redis without address", &Config{Database: DatabaseConfig{Driver: DriverRedis}, Redis: RedisConfig{Host: "localhost"}}},
		{"unknown driver", &Config{Database: DatabaseConfig{Driver: "mongo"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, InitConfig(tc.config, "", "", ""))
		})
	}
}

func TestValidateListenConfigs(t *testing.T) {
	assert.Error(t, ValidateServerConfig(&Config{}))
	assert.NoError(t, ValidateServerConfig(&Config{Server: ServerConfig{Host: "0.0.0.0", Port: "8080"}}))

	assert.Error(t, ValidateGatewayConfig(&Config{Gateway: GatewayConfig{Host: "0.0.0.0", Port: "8000"}}))
	assert.NoError(t, ValidateGatewayConfig(&Config{Gateway: GatewayConfig{Host: "0.0.0.0", Port: "8000", RoutesFile: "routes.yml"}}))
}
