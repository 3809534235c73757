// ABOUTME: Tests for the agentworld command tree
// ABOUTME: Runs subcommands against a temp config and database

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentworld/internal/auth"
	"github.com/2389/agentworld/internal/config"
	"github.com/2389/agentworld/internal/event"
	"github.com/2389/agentworld/internal/store"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("AGENTWORLD_CONFIG", "/etc/agentworld.yaml")
		assert.Equal(t, "/etc/agentworld.yaml", getConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("AGENTWORLD_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		assert.Equal(t, filepath.Join("/tmp/xdg", "agentworld", "config.yaml"), getConfigPath())
	})
}

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// writeTestConfig writes a config pointing at a temp database.
func writeTestConfig(t *testing.T, secret string) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "worlds.db")
	cfg.Auth.JWTSecret = secret
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(cfg, path))
	return path, cfg
}

func TestInitCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentworld", "config.yaml")

	out, err := runCmd(t, "--config", path, "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.HTTPAddr, cfg.Server.HTTPAddr)

	_, err = runCmd(t, "--config", path, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, err = runCmd(t, "--config", path, "init", "--force")
	require.NoError(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "agentworld dev\n", out)
}

func TestEventsCmd(t *testing.T) {
	path, cfg := writeTestConfig(t, "")
	ctx := context.Background()

	s, err := store.OpenSQLite(cfg.Database.Driver, cfg.Database.Path)
	require.NoError(t, err)
	require.NoError(t, s.CreateWorld(ctx, &store.World{ID: "w1", Name: "One", TurnLimit: 5}))
	for _, content := range []string{"first", "second"} {
		require.NoError(t, s.SaveEvent(ctx, &event.Event{
			ID:        content,
			WorldID:   "w1",
			Type:      event.TypeSystem,
			Payload:   event.SystemPayload{Content: content},
			CreatedAt: time.Now(),
		}))
	}
	require.NoError(t, s.Close())

	out, err := runCmd(t, "--config", path, "events", "w1", "--types", "system", "--since", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"second"`)

	outFile := filepath.Join(t.TempDir(), "events.jsonl.zst")
	_, err = runCmd(t, "--config", path, "events", "w1", "--zstd", "--out", outFile)
	require.NoError(t, err)
	info, err := os.Stat(outFile)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = runCmd(t, "--config", path, "events", "w1", "--types", "bogus")
	require.Error(t, err)

	_, err = runCmd(t, "--config", path, "events", "missing")
	require.Error(t, err)
}

func TestExportCmd_RejectsFormat(t *testing.T) {
	path, _ := writeTestConfig(t, "")
	_, err := runCmd(t, "--config", path, "export", "w1", "c1", "--format", "pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--format")
}

func TestTokenCmd(t *testing.T) {
	secret := strings.Repeat("k", auth.MinSecretLength)
	path, _ := writeTestConfig(t, secret)

	out, err := runCmd(t, "--config", path, "token", "--subject", "ops", "--world", "w1")
	require.NoError(t, err)

	v, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	claims, err := v.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []string{"w1"}, claims.Worlds)

	noSecret, _ := writeTestConfig(t, "")
	_, err = runCmd(t, "--config", noSecret, "token")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
		logger.Debug("hidden")
		logger.Info("hello", "world_id", "w1")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), `"world_id":"w1"`)
	})

	t.Run("text groups and attrs", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Level: "debug"}, &buf)
		logger.With("component", "bus").WithGroup("req").Debug("published", "seq", 3)
		line := buf.String()
		assert.Contains(t, line, "published")
		assert.Contains(t, line, "component=")
		assert.Contains(t, line, "req.seq=")
		assert.True(t, strings.HasSuffix(line, "\n"))
	})
}
