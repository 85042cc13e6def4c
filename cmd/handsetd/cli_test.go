package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handsetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input:\n  long_press: 2s\n"), 0o600))

	out, err := execute(t, context.Background(), "config", "-c", path, "--log-level", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
	assert.Contains(t, out, "long_press: 2s")
	assert.Contains(t, out, "timer_resolution: 10ms")
}

func TestConfigCommand_invalid(t *testing.T) {
	_, err := execute(t, context.Background(), "config", "--log-level", "loud")
	assert.ErrorContains(t, err, "log.level")

	_, err = execute(t, context.Background(), "config", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := execute(t, ctx, "run", "--log-level", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "handsetd started")
}

func TestRunCommand_args(t *testing.T) {
	_, err := execute(t, context.Background(), "run", "extra")
	assert.Error(t, err)
}
