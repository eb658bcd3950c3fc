package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
database:
  driver: memory
queue:
  backoff_base: 2s
dispatch:
  heartbeat_interval: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 3, cfg.Queue.DefaultMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.LivenessInterval)
	assert.Equal(t, 3, cfg.Dispatch.MissFactor)
	assert.Equal(t, []string{"SEARCH", "DOWNLOAD", "DELIVER", "NOTIFICATION"}, cfg.Worker.JobTypes)
	assert.Equal(t, "media.requests", cfg.Kafka.Topics.MediaRequests)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	c := DatabaseConfig{Username: "u", Password: "p", Host: "db", Port: 3306, Database: "acq", Charset: "utf8mb4"}
	assert.Equal(t, "u:p@tcp(db:3306)/acq?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true", c.GetDSN())
}

func TestResolvePath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CONFIG_ENV", "")
	assert.Equal(t, "configs/config.dev.yaml", ResolvePath())

	t.Setenv("CONFIG_ENV", "production")
	assert.Equal(t, "configs/config_prod.yaml", ResolvePath())

	t.Setenv("CONFIG_ENV", "staging")
	assert.Equal(t, "configs/config.staging.yaml", ResolvePath())

	t.Setenv("CONFIG_PATH", "/etc/acq.yaml")
	assert.Equal(t, "/etc/acq.yaml", ResolvePath())
}

func TestLoad_EncoderNodeDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("encoder_node:\n  server_addr: coord:9092\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "coord:9092", cfg.EncoderNode.ServerAddr)
	assert.Equal(t, 1, cfg.EncoderNode.MaxConcurrent)
	assert.Equal(t, "ffmpeg", cfg.EncoderNode.FFmpegPath)
	assert.Equal(t, cfg.Worker.Hostname, cfg.EncoderNode.EncoderID)
	assert.Equal(t, 30*time.Second, cfg.EncoderNode.ReconnectMax)
}
