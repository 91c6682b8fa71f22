package sandbox

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentuity/go-common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memflow/memflowup/internal/database"
	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/pkgindex"
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

// mapWriter records writes in memory instead of touching the filesystem.
type mapWriter struct {
	files map[string][]byte
	dirs  []string
}

func newMapWriter() *mapWriter {
	return &mapWriter{files: map[string][]byte{}}
}

func (w *mapWriter) WriteFile(path string, data []byte, perm os.FileMode) error {
	w.files[path] = data
	return nil
}

func (w *mapWriter) MkdirAll(path string, perm os.FileMode) error {
	w.dirs = append(w.dirs, path)
	return nil
}

// fakeBuilder fabricates a release build output instead of running cargo.
type fakeBuilder struct {
	lib   string
	built []string
}

func (b *fakeBuilder) Build(ctx context.Context, dir string, args ...string) error {
	b.built = append(b.built, dir)
	out := filepath.Join(dir, "target", "release")
	if err := os.MkdirAll(out, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(out, b.lib), []byte("built dylib"), 0755)
}

func testPaths(t *testing.T) platform.Paths {
	t.Helper()
	dir := t.TempDir()
	return platform.Paths{
		PluginsDir:       filepath.Join(dir, "plugins"),
		SystemPluginsDir: filepath.Join(dir, "system"),
		ConfigDir:        filepath.Join(dir, "config"),
		SystemConfigDir:  filepath.Join(dir, "sysconfig"),
		TempRoot:         filepath.Join(dir, "tmp"),
	}
}

func makeRepoZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("memflow-coredump-abc123/Cargo.toml")
	require.NoError(t, err)
	_, err = f.Write([]byte("[package]"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testRuntime(t *testing.T, desc pkgindex.Descriptor, ch pkgindex.Channel, opts Options) (*Runtime, *mapWriter) {
	t.Helper()
	writer := newMapWriter()
	rt := &Runtime{
		Log:    &mockLogger{},
		Paths:  testPaths(t),
		Writer: writer,
		Desc:   desc,
		Chann:  ch,
		Opts:   opts,
		Commit: "abc123def456",
	}
	return rt, writer
}

func TestRunDefaultBinaryInstall(t *testing.T) {
	desc := pkgindex.Descriptor{
		Name:            "memflow-coredump",
		Kind:            pkgindex.KindCorePlugin,
		RepoRootURL:     "https://github.com/memflow/memflow-coredump",
		StableBinaryTag: "v0.2.0",
	}
	rt, writer := testRuntime(t, desc, pkgindex.Stable, Options{})

	var requestedAsset string
	rt.Collab = Collaborators{
		ReleaseAsset: func(_ context.Context, repoURL, tag, name string) ([]byte, error) {
			assert.Equal(t, desc.RepoRootURL, repoURL)
			assert.Equal(t, "v0.2.0", tag)
			requestedAsset = name
			return []byte("release binary"), nil
		},
	}

	require.NoError(t, Run(context.Background(), rt, EntryInstall))

	lib := rt.Paths.LibraryPrefix()
	ext := rt.Paths.PluginExtension()
	assert.Equal(t, lib+"memflow_coredump."+ext, requestedAsset)

	expected := filepath.Join(rt.Paths.PluginsDir, lib+"memflow_coredump.stable."+ext)
	assert.Equal(t, []byte("release binary"), writer.files[expected])
	assert.Equal(t, []string{expected}, rt.Artifacts())

	release, ok := rt.ReleaseType()
	require.True(t, ok)
	assert.Equal(t, database.BinaryRelease("v0.2.0"), release)
}

func TestRunDefaultSourceBuild(t *testing.T) {
	desc := pkgindex.Descriptor{
		Name:         "memflow-coredump",
		Kind:         pkgindex.KindCorePlugin,
		RepoRootURL:  "https://github.com/memflow/memflow-coredump",
		StableBranch: "main",
	}
	rt, writer := testRuntime(t, desc, pkgindex.Stable, Options{FromSource: true})

	lib := rt.Paths.LibraryPrefix()
	ext := rt.Paths.PluginExtension()
	builder := &fakeBuilder{lib: lib + "memflow_coredump." + ext}
	rt.Collab = Collaborators{
		FetchArchive: func(_ context.Context, repoURL, commit string) ([]byte, error) {
			assert.Equal(t, rt.Commit, commit)
			return makeRepoZip(t), nil
		},
		Builder: builder,
	}

	require.NoError(t, Run(context.Background(), rt, EntryBuildFromSource))

	require.Len(t, builder.built, 1)
	assert.FileExists(t, filepath.Join(builder.built[0], "Cargo.toml"))

	expected := filepath.Join(rt.Paths.PluginsDir, lib+"memflow_coredump.stable."+ext)
	assert.Equal(t, []byte("built dylib"), writer.files[expected])

	release, ok := rt.ReleaseType()
	require.True(t, ok)
	assert.Equal(t, database.GitSource(rt.Commit), release)
}

func TestRunLocalBuild(t *testing.T) {
	src := t.TempDir()
	desc := pkgindex.Descriptor{
		Name:        "memflow-qemu",
		Kind:        pkgindex.KindCorePlugin,
		RepoRootURL: src,
	}
	rt, writer := testRuntime(t, desc, pkgindex.Local, Options{IsLocal: true})

	lib := rt.Paths.LibraryPrefix()
	ext := rt.Paths.PluginExtension()
	builder := &fakeBuilder{lib: lib + "memflow_qemu." + ext}
	rt.Collab = Collaborators{Builder: builder}
	rt.Commit = ""

	require.NoError(t, Run(context.Background(), rt, EntryBuildLocal))

	require.Len(t, builder.built, 1)
	assert.Equal(t, src, builder.built[0])

	// local builds tag the artifact with the architecture, not a channel
	expected := filepath.Join(rt.Paths.PluginsDir, lib+"memflow_qemu."+archTag()+"."+ext)
	assert.Contains(t, writer.files, expected)

	release, ok := rt.ReleaseType()
	require.True(t, ok)
	assert.Equal(t, database.KindLocalPath, release.Kind)
}

func TestRunMissingEntrypoint(t *testing.T) {
	desc := pkgindex.Descriptor{
		Name:              "memflow-kvm",
		Kind:              pkgindex.KindCorePlugin,
		RepoRootURL:       "https://github.com/memflow/memflow-kvm",
		DevBranch:         "next",
		InstallScriptPath: "install.star",
	}
	rt, _ := testRuntime(t, desc, pkgindex.Dev, Options{FromSource: true})
	rt.Collab = Collaborators{
		RawFile: func(_ context.Context, repoURL, ref, path string) ([]byte, error) {
			assert.Equal(t, "install.star", path)
			return []byte("def install():\n    pass\n"), nil
		},
	}

	err := Run(context.Background(), rt, EntryBuildFromSource)
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrNotImplemented)
}

func TestRunScriptWithoutArtifactsLeavesReleaseUnset(t *testing.T) {
	desc := pkgindex.Descriptor{
		Name:              "memflow-noop",
		Kind:              pkgindex.KindCorePlugin,
		RepoRootURL:       "https://github.com/memflow/memflow-noop",
		StableBranch:      "main",
		InstallScriptPath: "install.star",
	}
	rt, writer := testRuntime(t, desc, pkgindex.Stable, Options{FromSource: true})
	rt.Collab = Collaborators{
		RawFile: func(_ context.Context, repoURL, ref, path string) ([]byte, error) {
			return []byte("def build_from_source():\n    info('doing nothing')\n"), nil
		},
	}

	require.NoError(t, Run(context.Background(), rt, EntryBuildFromSource))
	assert.Empty(t, writer.files)
	assert.Empty(t, rt.Artifacts())
	_, ok := rt.ReleaseType()
	assert.False(t, ok)
}

func TestRunNoCopySkipsWrites(t *testing.T) {
	desc := pkgindex.Descriptor{
		Name:            "memflow-coredump",
		Kind:            pkgindex.KindCorePlugin,
		RepoRootURL:     "https://github.com/memflow/memflow-coredump",
		StableBinaryTag: "v0.2.0",
	}
	rt, writer := testRuntime(t, desc, pkgindex.Stable, Options{NoCopy: true})
	rt.Collab = Collaborators{
		ReleaseAsset: func(_ context.Context, _, _, _ string) ([]byte, error) {
			return []byte("release binary"), nil
		},
	}

	require.NoError(t, Run(context.Background(), rt, EntryInstall))
	assert.Empty(t, writer.files, "no_copy must not write anything")
	assert.Len(t, rt.Artifacts(), 1)
	_, ok := rt.ReleaseType()
	assert.True(t, ok)
}

func TestUnsafeCommandsGate(t *testing.T) {
	script := "def install():\n    register_device_rules()\n"
	desc := pkgindex.Descriptor{
		Name:              "memflow-kvm",
		Kind:              pkgindex.KindCorePlugin,
		RepoRootURL:       "https://github.com/memflow/memflow-kvm",
		StableBranch:      "main",
		InstallScriptPath: "install.star",
	}
	rt, _ := testRuntime(t, desc, pkgindex.Stable, Options{FromSource: true})
	rt.Collab = Collaborators{
		RawFile: func(_ context.Context, _, _, _ string) ([]byte, error) {
			return []byte(script), nil
		},
	}

	err := Run(context.Background(), rt, EntryInstall)
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrNotImplemented)
	assert.Contains(t, err.Error(), "unsafe")
}

func TestRunScriptSyntaxError(t *testing.T) {
	desc := pkgindex.Descriptor{
		Name:              "memflow-broken",
		Kind:              pkgindex.KindCorePlugin,
		RepoRootURL:       "https://github.com/memflow/memflow-broken",
		StableBranch:      "main",
		InstallScriptPath: "install.star",
	}
	rt, _ := testRuntime(t, desc, pkgindex.Stable, Options{FromSource: true})
	rt.Collab = Collaborators{
		RawFile: func(_ context.Context, _, _, _ string) ([]byte, error) {
			return []byte("def install(:\n"), nil
		},
	}

	err := Run(context.Background(), rt, EntryInstall)
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrParse)
}

func TestLocalScriptFromSourceTree(t *testing.T) {
	src := t.TempDir()
	script := fmt.Sprintf("def build_local():\n    write_plugin_artifact(b\"%s\", plugin_name())\n", "local bytes")
	require.NoError(t, os.WriteFile(filepath.Join(src, "install.star"), []byte(script), 0644))

	desc := pkgindex.Descriptor{
		Name:              "memflow-qemu",
		Kind:              pkgindex.KindCorePlugin,
		RepoRootURL:       src,
		InstallScriptPath: "install.star",
	}
	rt, writer := testRuntime(t, desc, pkgindex.Local, Options{IsLocal: true})
	rt.Commit = ""

	require.NoError(t, Run(context.Background(), rt, EntryBuildLocal))
	require.Len(t, rt.Artifacts(), 1)
	assert.Equal(t, []byte("local bytes"), writer.files[rt.Artifacts()[0]])
}
