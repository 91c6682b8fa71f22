package buildtool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentuity/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memflow/memflowup/internal/merr"
)

type mockLogger struct{}

func (m *mockLogger) Debug(format string, args ...interface{}) {}
func (m *mockLogger) Info(format string, args ...interface{})  {}
func (m *mockLogger) Warn(format string, args ...interface{})  {}
func (m *mockLogger) Error(format string, args ...interface{}) {}
func (m *mockLogger) Fatal(format string, args ...interface{}) {}
func (m *mockLogger) Trace(format string, args ...interface{}) {}
func (m *mockLogger) SetLevel(level string)                    {}
func (m *mockLogger) GetLevel() string                         { return "info" }
func (m *mockLogger) WithField(key string, value interface{}) logger.Logger {
	return m
}
func (m *mockLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return m
}
func (m *mockLogger) WithError(err error) logger.Logger {
	return m
}
func (m *mockLogger) Stack(logger logger.Logger) logger.Logger {
	return m
}
func (m *mockLogger) With(fields map[string]interface{}) logger.Logger {
	return m
}
func (m *mockLogger) WithContext(ctx context.Context) logger.Logger {
	return m
}
func (m *mockLogger) WithPrefix(prefix string) logger.Logger {
	return m
}

func fakeCargo(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cargo"), []byte("#!/bin/sh\nexit 0\n"), 0755))
}

func TestEnsureToolchain(t *testing.T) {
	bin := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PATH", bin)

	err := EnsureToolchain(&mockLogger{})
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrNotFound)

	fakeCargo(t, bin)
	require.NoError(t, EnsureToolchain(&mockLogger{}))
}

func TestEnsureToolchainCargoHomeFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("PATH", t.TempDir())
	fakeCargo(t, filepath.Join(home, ".cargo", "bin"))

	require.NoError(t, EnsureToolchain(&mockLogger{}))

	// the fallback directory is appended to PATH for the build that follows
	assert.Contains(t, os.Getenv("PATH"), filepath.Join(home, ".cargo", "bin"))
}
