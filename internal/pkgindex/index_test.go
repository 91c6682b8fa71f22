package pkgindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentuity/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memflow/memflowup/internal/platform"
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

type directWriter struct{}

func (directWriter) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (directWriter) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	dir := t.TempDir()
	return &Resolver{
		Paths: platform.Paths{
			PluginsDir:      filepath.Join(dir, "plugins"),
			ConfigDir:       filepath.Join(dir, "config"),
			SystemConfigDir: filepath.Join(dir, "sysconfig"),
			TempRoot:        dir,
		},
		Writer: directWriter{},
		Log:    &mockLogger{},
	}
}

func writeUserFragment(t *testing.T, r *Resolver, name string, descs []Descriptor) {
	t.Helper()
	dir := filepath.Join(r.Paths.ConfigDir, "index.d")
	require.NoError(t, os.MkdirAll(dir, 0755))
	data, err := json.Marshal(descs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func serveUpstream(t *testing.T, descs []Descriptor) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(descs)
	}))
	t.Cleanup(server.Close)

	prev := UpstreamIndexURL
	UpstreamIndexURL = server.URL
	t.Cleanup(func() { UpstreamIndexURL = prev })
	return server
}

func TestResolveBuiltinOnly(t *testing.T) {
	r := testResolver(t)
	descs, err := r.Resolve(false, LoadOpts{IgnoreUserIndex: true, IgnoreUpstream: true})
	require.NoError(t, err)
	require.NotEmpty(t, descs)

	byName := map[string]Descriptor{}
	for _, d := range descs {
		byName[d.Name] = d
	}
	assert.Contains(t, byName, "memflow-win32")
	assert.Contains(t, byName, "memflow-qemu")
}

func TestResolveDedupFirstWins(t *testing.T) {
	r := testResolver(t)

	writeUserFragment(t, r, "override.json", []Descriptor{{
		Name:         "memflow-win32",
		Kind:         KindCorePlugin,
		RepoRootURL:  "https://github.com/example/memflow-win32-fork",
		StableBranch: "fork-main",
	}})
	serveUpstream(t, []Descriptor{
		{
			Name:         "memflow-win32",
			Kind:         KindCorePlugin,
			RepoRootURL:  "https://github.com/memflow/memflow-win32",
			StableBranch: "upstream-main",
		},
		{
			Name:         "upstream-only",
			Kind:         KindCorePlugin,
			RepoRootURL:  "https://github.com/memflow/upstream-only",
			StableBranch: "main",
		},
	})

	descs, err := r.Resolve(false, LoadOpts{})
	require.NoError(t, err)

	byName := map[string]Descriptor{}
	for _, d := range descs {
		require.NotContains(t, byName, d.Name, "names must be unique after dedup")
		byName[d.Name] = d
	}

	// user tier wins over upstream and builtin
	assert.Equal(t, "fork-main", byName["memflow-win32"].StableBranch)
	// upstream-only survives
	assert.Contains(t, byName, "upstream-only")
	// builtin entries not shadowed survive
	assert.Contains(t, byName, "memflow-qemu")
}

func TestResolveUserFragmentsLexicalOrder(t *testing.T) {
	r := testResolver(t)

	writeUserFragment(t, r, "10-first.json", []Descriptor{{
		Name:         "dup",
		StableBranch: "from-first",
	}})
	writeUserFragment(t, r, "20-second.json", []Descriptor{{
		Name:         "dup",
		StableBranch: "from-second",
	}})

	descs, err := r.Resolve(false, LoadOpts{IgnoreUpstream: true, IgnoreBuiltin: true})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "from-first", descs[0].StableBranch)
}

func TestResolveUpstreamFailureDegrades(t *testing.T) {
	r := testResolver(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)
	prev := UpstreamIndexURL
	UpstreamIndexURL = server.URL
	t.Cleanup(func() { UpstreamIndexURL = prev })

	descs, err := r.Resolve(false, LoadOpts{})
	require.NoError(t, err)
	assert.NotEmpty(t, descs, "builtin catalog must survive an upstream outage")
}

func TestResolveUpstreamCacheIsWritten(t *testing.T) {
	r := testResolver(t)
	serveUpstream(t, []Descriptor{{Name: "cached-pkg", StableBranch: "main"}})

	_, err := r.Resolve(false, LoadOpts{})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(r.Paths.ConfigDir, "index.json"))
}

func TestResolveInvalidUserFragment(t *testing.T) {
	r := testResolver(t)
	dir := filepath.Join(r.Paths.ConfigDir, "index.d")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))

	_, err := r.Resolve(false, LoadOpts{IgnoreUpstream: true, IgnoreBuiltin: true})
	require.Error(t, err)
}
