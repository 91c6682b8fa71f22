package util

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// UserAgent identifies this tool in outgoing HTTP requests.
func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "memflowup/" + Version + " (" + gitSHA + ")"
}

// Sha256Hex returns the lowercase hex sha256 digest of data. Content digests
// everywhere in the tool use this encoding.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sha256File computes the content digest of the file at path.
func Sha256File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Sha256Hex(data), nil
}

// TempDirFor returns a deterministic scratch directory keyed by uid under
// tempRoot, creating it if needed. The same uid always maps to the same
// path, which makes archive extraction and clones reentrant.
func TempDirFor(tempRoot, subdir, uid string) (string, error) {
	path := filepath.Join(tempRoot, subdir, uid)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}
