package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BLOB_CONNECTION_STRING", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
	assert.EqualValues(t, 64<<20, cfg.Server.MaxBodyBytes)
	assert.Empty(t, cfg.Storage.ConnectionString)
	assert.Equal(t, "checkpoints", cfg.Storage.Container)
	assert.Equal(t, 5*time.Minute, cfg.Model.LoadTimeout)
	assert.Equal(t, "@every 5m", cfg.Monitor.Heartbeat)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("BLOB_CONNECTION_STRING", "")

	path := writeFile(t, `
server:
  addr: ":9090"
  mode: debug
  read_timeout: 5s
storage:
  container: models
model:
  load_timeout: 90s
  num_threads: 4
monitor:
  heartbeat: ""
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "models", cfg.Storage.Container)
	assert.Equal(t, 90*time.Second, cfg.Model.LoadTimeout)
	assert.Equal(t, 4, cfg.Model.NumThreads)
	assert.Empty(t, cfg.Monitor.Heartbeat)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("BLOB_CONNECTION_STRING", "DefaultEndpointsProtocol=https;AccountName=acct")
	t.Setenv("ONNXRUNTIME_LIB", "/usr/lib/libonnxruntime.so")
	t.Setenv("SAM2_SERVER_ADDR", ":7000")

	path := writeFile(t, "server:\n  addr: \":9090\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DefaultEndpointsProtocol=https;AccountName=acct", cfg.Storage.ConnectionString)
	assert.Equal(t, "/usr/lib/libonnxruntime.so", cfg.Model.OnnxRuntimeLib)
	assert.Equal(t, ":7000", cfg.Server.Addr)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server: ServerConfig{Mode: "loud", ReadTimeout: -1, MaxBodyBytes: -5},
		Model:  ModelConfig{NumThreads: -2},
		Monitor: MonitorConfig{
			Heartbeat: "  @every 1m ",
		},
	}
	cfg.Validate()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.EqualValues(t, 64<<20, cfg.Server.MaxBodyBytes)
	assert.Equal(t, "checkpoints", cfg.Storage.Container)
	assert.Equal(t, 5*time.Minute, cfg.Model.LoadTimeout)
	assert.Equal(t, 0, cfg.Model.NumThreads)
	assert.Equal(t, "@every 1m", cfg.Monitor.Heartbeat)
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(wd)) })
}
