package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.test.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	dir := writeConfig(t, `
user_id: alice
transport:
  kind: ws
  base_url: http://localhost:8080
`)
	cfg, err := Load(dir)
	assert.Equal(t, nil, err)
	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, 500*time.Millisecond, cfg.Coalesce.CursorDebounce)
	assert.Equal(t, 1500*time.Millisecond, cfg.Coalesce.TypingTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Coalesce.TypingLeeway)
	assert.Equal(t, ":9090", cfg.Admin.Addr)
	assert.Equal(t, filepath.Join(dir, "config.test.yaml"), cfg.File)

	opts := cfg.SessionOptions()
	assert.Equal(t, 20, opts.MessageLimit)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("IMSYNC_TRANSPORT_TOKEN", "secret")
	dir := writeConfig(t, `
user_id: alice
transport:
  kind: ws
  base_url: http://localhost:8080
  token: from-file
coalesce:
  cursor_debounce: 2s
`)
	cfg, err := Load(dir)
	assert.Equal(t, nil, err)
	assert.Equal(t, "secret", cfg.Transport.Token)
	assert.Equal(t, 2*time.Second, cfg.Coalesce.CursorDebounce)
}

func TestValidate(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	for _, body := range []string{
		"transport:\n  kind: ws\n  base_url: http://x\n",
		"user_id: a\ntransport:\n  kind: carrier-pigeon\n",
		"user_id: a\ntransport:\n  kind: ws\n",
		"user_id: a\ntransport:\n  kind: kafka\n",
		"user_id: a\ntransport:\n  kind: ws\n  base_url: http://x\ncoalesce:\n  typing_leeway: 2s\n",
	} {
		_, err := Load(writeConfig(t, body))
		assert.NotEqual(t, nil, err)
	}

	_, err := Load(t.TempDir())
	assert.NotEqual(t, nil, err)
}
