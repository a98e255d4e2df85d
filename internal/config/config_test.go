package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)

	assert.Equal(t, DefaultDomain, cfg.Domain)
	assert.Equal(t, "wss://"+DefaultDomain+"/ws", cfg.WebSocketURL)
	assert.Equal(t, DefaultSTUN, cfg.GetSTUNServers())
	assert.Nil(t, cfg.GetTURNServers())
	assert.Equal(t, DefaultTransports, cfg.Transports)
	assert.Equal(t, DefaultPeerRetryDelay, cfg.PeerRetryDelay)
	assert.Equal(t, DefaultReconnectAttempts, cfg.ReconnectAttempts)
}

func TestLoadPriority(t *testing.T) {
	path := writeConfigFile(t, `
domain: file.example.com
redis_addr: file-redis:6379
transports: [store]
peer_retry_delay: 750ms
peer_max_retries: 2
`)

	t.Setenv("REDIS_ADDR", "env-redis:6379")
	t.Setenv("RECONNECT_MAX", "3s")

	cfg, err := Load(Options{ConfigFile: path, Domain: "flag.example.com"})
	require.NoError(t, err)

	assert.Equal(t, "flag.example.com", cfg.Domain, "flag beats file")
	assert.Equal(t, "env-redis:6379", cfg.RedisAddr, "env beats file")
	assert.Equal(t, []string{"store"}, cfg.Transports, "file beats default")
	assert.Equal(t, 750*time.Millisecond, cfg.PeerRetryDelay)
	assert.Equal(t, 2, cfg.PeerMaxRetries)
	assert.Equal(t, 3*time.Second, cfg.ReconnectMax)
}

func TestLoadTransportsFlag(t *testing.T) {
	cfg, err := Load(Options{
		ConfigFile: filepath.Join(t.TempDir(), "missing.yaml"),
		Transports: "redis, store",
		STUNServer: "stun:a:1,stun:b:2",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"redis", "store"}, cfg.Transports)
	assert.Equal(t, []string{"stun:a:1", "stun:b:2"}, cfg.STUNServers)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	_, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestTURNServers(t *testing.T) {
	cfg := &Config{TURNServer: "turn:relay.example.com", TURNUser: "u", TURNPass: "p"}
	assert.Equal(t, []string{
		"turn:relay.example.com:3478?transport=udp",
		"turn:relay.example.com:3478?transport=tcp",
		"turns:relay.example.com:5349?transport=tcp",
	}, cfg.GetTURNServers())

	user, pass := cfg.GetTURNCredentials()
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)
}
