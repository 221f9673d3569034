package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadParsesTypes(t *testing.T) {
	p := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9090
  db_path: "/tmp/db"
auth:
  jwt_secret: "s3cret"
  token_ttl: "12h"
storage:
  append_timeout: "250ms"
  max_message_bytes: "64KB"
broker:
  subscriber_buffer: 32
retention:
  enabled: true
  cron: "0 3 * * *"
  period: "720h"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "/tmp/db", cfg.Server.DBPath)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL.Duration())
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.AppendTimeout.Duration())
	assert.Equal(t, int64(64000), cfg.Storage.MaxMessageBytes.Int64())
	assert.Equal(t, 32, cfg.Broker.SubscriberBuffer)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.Period.Duration())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL.Duration())
	assert.Equal(t, 256, cfg.Broker.SubscriberBuffer)
	assert.Equal(t, 500, cfg.Broker.ReplayBatch)
	assert.Equal(t, 5*time.Second, cfg.Storage.AppendTimeout.Duration())
	assert.Equal(t, int64(64*1024), cfg.Storage.MaxMessageBytes.Int64())
	assert.Equal(t, ":8080", cfg.Addr())

	// explicit values survive
	cfg2 := Config{}
	cfg2.Broker.SubscriberBuffer = 8
	cfg2.ApplyDefaults()
	assert.Equal(t, 8, cfg2.Broker.SubscriberBuffer)
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "/from/flag", ResolveConfigPath("/from/flag", true))

	t.Setenv("CHATRELAY_CONFIG", "/from/env")
	assert.Equal(t, "/from/env", ResolveConfigPath("/default", false))

	t.Setenv("CHATRELAY_CONFIG", "")
	assert.Equal(t, "/default", ResolveConfigPath("/default", false))
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CHATRELAY_ADDR", "0.0.0.0:7070")
	t.Setenv("CHATRELAY_DB_PATH", "/env/db")
	t.Setenv("CHATRELAY_JWT_SECRET", "env-secret")

	cfg, used := ParseConfigEnvs()
	assert.True(t, used)
	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/env/db", cfg.Server.DBPath)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
}

func TestLoadEffectiveConfigPrecedence(t *testing.T) {
	fileCfg := &Config{}
	fileCfg.Server.Port = 9999
	fileCfg.Auth.JWTSecret = "from-file"

	envCfg := &Config{}
	envCfg.Auth.JWTSecret = "from-env"

	flags := Flags{Addr: ":8080", DB: "./.database", Set: map[string]bool{}}
	eff, err := LoadEffectiveConfig(flags, fileCfg, true, envCfg, true)
	require.NoError(t, err)
	// env overlays file where set
	assert.Equal(t, "from-env", eff.Config.Auth.JWTSecret)
	assert.Equal(t, 9999, eff.Config.Server.Port)

	// explicit flags win over both
	flags.Set = map[string]bool{"addr": true, "db": true}
	flags.Addr = ":1234"
	flags.DB = "/flag/db"
	eff, err = LoadEffectiveConfig(flags, fileCfg, true, envCfg, true)
	require.NoError(t, err)
	assert.Equal(t, ":1234", eff.Addr)
	assert.Equal(t, "/flag/db", eff.DBPath)
}
