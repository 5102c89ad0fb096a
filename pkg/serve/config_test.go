package serve

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewServerConfigTOML(t *testing.T) {
	path := writeConfig(t, "dogma.toml", `
listen = "0.0.0.0:8080"
data_dir = "/var/lib/dogma"
secret = "hunter2"
session_ttl = "1h"

[cache]
max_weight = 128
expire_after_access = "10m"

[quota]
writes_per_window = 5
window = "1m"

[replication]
method = "ZOOKEEPER"
servers = ["zk1:2181", "zk2:2181"]
prefix = "/dogma"
`)
	sc, err := NewServerConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", sc.Listen)
	assert.Equal(t, "/var/lib/dogma", sc.DataDir)
	assert.Equal(t, time.Hour, sc.SessionTTL.Duration)
	assert.Equal(t, int64(128), sc.Cache.Spec().MaxWeight)
	assert.Equal(t, 10*time.Minute, sc.Cache.Spec().ExpireAfterAccess)
	assert.Equal(t, 5, sc.Quota.Quota().WritesPerWindow)
	assert.Equal(t, ReplicationZooKeeper, sc.Replication.Method)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, sc.Replication.Servers)

	// Defaults survive a partial config.
	assert.Equal(t, DefaultReadTimeout, sc.ReadTimeout.Duration)
	assert.Equal(t, DefaultPurgeDelay, sc.PurgeDelay.Duration)
}

func TestNewServerConfigJSON(t *testing.T) {
	path := writeConfig(t, "dogma.json", `{
  "listen": "127.0.0.1:8080",
  "dataDir": "/tmp/dogma",
  "readTimeout": "30s"
}`)
	sc, err := NewServerConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dogma", sc.DataDir)
	assert.Equal(t, 30*time.Second, sc.ReadTimeout.Duration)
	assert.Equal(t, ReplicationNone, sc.Replication.Method)
}

func TestNewServerConfigExpandEnv(t *testing.T) {
	t.Setenv("DOGMA_DATA_DIR", "/data/dogma")
	path := writeConfig(t, "dogma.toml", `
listen = "127.0.0.1:8080"
data_dir = "${DOGMA_DATA_DIR}"
`)
	sc, err := NewServerConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "/data/dogma", sc.DataDir)

	// Without expansion the reference is kept verbatim.
	sc, err = NewServerConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, "${DOGMA_DATA_DIR}", sc.DataDir)
}
