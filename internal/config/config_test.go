package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/gojasm/pkg/derrors"
)

func withHome(t *testing.T, dir string) {
	t.Helper()
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	t.Setenv("HOME", dir)
}

func TestDefaults(t *testing.T) {
	withHome(t, t.TempDir())
	v := New()
	require.NoError(t, ReadFile(v, ""))
	c, err := Resolve(v)
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), c.Workers)
	assert.Equal(t, zerolog.InfoLevel, c.LogLevel)
	assert.Equal(t, ColorAuto, c.Color)
	assert.Empty(t, c.File)
}

func TestHomeFile(t *testing.T) {
	home := t.TempDir()
	withHome(t, home)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".gojasm.yaml"), []byte("workers: 3\nlog-level: debug\ncolor: never\n"), 0o644))

	v := New()
	require.NoError(t, ReadFile(v, ""))
	c, err := Resolve(v)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Workers)
	assert.Equal(t, zerolog.DebugLevel, c.LogLevel)
	assert.False(t, c.UseColor(true))
	assert.Equal(t, ".gojasm.yaml", filepath.Base(c.File))
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\n"), 0o644))
	t.Setenv("GOJASM_WORKERS", "7")
	t.Setenv("GOJASM_LOG_LEVEL", "warn")

	v := New()
	require.NoError(t, ReadFile(v, path))
	c, err := Resolve(v)
	require.NoError(t, err)
	assert.Equal(t, 7, c.Workers)
	assert.Equal(t, zerolog.WarnLevel, c.LogLevel)
}

func TestExplicitFileMissing(t *testing.T) {
	err := ReadFile(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value any
	}{
		{KeyWorkers, -1},
		{KeyLogLevel, "loud"},
		{KeyColor, "sometimes"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.value)
			_, err := Resolve(v)
			assert.True(t, errors.Is(err, derrors.InvalidArgument), "got %v", err)
		})
	}
}

func TestUseColor(t *testing.T) {
	for _, tt := range []struct {
		mode     string
		terminal bool
		want     bool
	}{
		{ColorAuto, true, true},
		{ColorAuto, false, false},
		{ColorAlways, false, true},
		{ColorNever, true, false},
	} {
		c := &Config{Color: tt.mode}
		assert.Equal(t, tt.want, c.UseColor(tt.terminal), "%s terminal=%v", tt.mode, tt.terminal)
	}
}
