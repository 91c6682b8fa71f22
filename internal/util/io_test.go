package util

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	assert.False(t, Exists(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	assert.True(t, Exists(path))
	assert.True(t, Exists(dir))
}

func TestZipUnpackStripsRoot(t *testing.T) {
	data := makeZip(t, map[string]string{
		"repo-abc123/Cargo.toml":  "[package]",
		"repo-abc123/src/lib.rs":  "pub fn x() {}",
		"repo-abc123/src/main.rs": "fn main() {}",
	})

	out := t.TempDir()
	require.NoError(t, ZipUnpack(data, out, 1))

	assert.FileExists(t, filepath.Join(out, "Cargo.toml"))
	assert.FileExists(t, filepath.Join(out, "src", "lib.rs"))

	content, err := os.ReadFile(filepath.Join(out, "Cargo.toml"))
	require.NoError(t, err)
	assert.Equal(t, "[package]", string(content))
}

func TestZipUnpackNoStrip(t *testing.T) {
	data := makeZip(t, map[string]string{"a/b.txt": "b"})
	out := t.TempDir()
	require.NoError(t, ZipUnpack(data, out, 0))
	assert.FileExists(t, filepath.Join(out, "a", "b.txt"))
}

func TestZipUnpackRejectsSlip(t *testing.T) {
	data := makeZip(t, map[string]string{"root/../../evil.txt": "evil"})
	out := t.TempDir()
	err := ZipUnpack(data, out, 1)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(out), "evil.txt"))
}

func TestZipUnpackGarbage(t *testing.T) {
	require.Error(t, ZipUnpack([]byte("not a zip"), t.TempDir(), 0))
}

func TestSha256Hex(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Sha256Hex(nil))
	assert.Equal(t, Sha256Hex([]byte("abc")), Sha256Hex([]byte("abc")))
	assert.NotEqual(t, Sha256Hex([]byte("abc")), Sha256Hex([]byte("abd")))
}

func TestSha256File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	digest, err := Sha256File(path)
	require.NoError(t, err)
	assert.Equal(t, Sha256Hex([]byte("abc")), digest)

	_, err = Sha256File(path + ".missing")
	require.Error(t, err)
}

func TestTempDirForIsDeterministic(t *testing.T) {
	root := t.TempDir()
	a, err := TempDirFor(root, "extract", "uid1")
	require.NoError(t, err)
	b, err := TempDirFor(root, "extract", "uid1")
	require.NoError(t, err)
	c, err := TempDirFor(root, "extract", "uid2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.DirExists(t, a)
}
