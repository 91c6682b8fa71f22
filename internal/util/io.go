package util

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Exists returns true if the filename or directory specified by fn exists.
func Exists(fn string) bool {
	if _, err := os.Stat(fn); os.IsNotExist(err) {
		return false
	}
	return true
}

// ZipUnpack extracts an in-memory zip archive into outDir, stripping the
// given number of leading path components. Hosting providers wrap repository
// archives in a synthetic root folder, so callers usually pass strip=1.
func ZipUnpack(data []byte, outDir string, strip int) error {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	for _, file := range archive.File {
		name := filepath.ToSlash(file.Name)
		parts := strings.Split(name, "/")
		if len(parts) <= strip {
			continue
		}
		rel := filepath.Join(parts[strip:]...)
		if rel == "" {
			continue
		}

		outPath := filepath.Join(outDir, rel)
		// zip-slip guard
		if !strings.HasPrefix(outPath, filepath.Clean(outDir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(outPath, 0755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			rc.Close()
			return err
		}
		out.Close()
		rc.Close()
	}
	return nil
}
