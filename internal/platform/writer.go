package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/agentuity/go-common/logger"
	"github.com/google/uuid"

	"github.com/memflow/memflowup/internal/merr"
)

// PrivilegedWriter writes files and creates directories, transparently
// escalating privileges when a direct write is denied. The escalation is
// attempted exactly once per call and never retried.
type PrivilegedWriter interface {
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
}

// CommandRunner executes an external elevation helper. Swapped out in tests.
type CommandRunner func(name string, args ...string) error

// NewWriter returns the default PrivilegedWriter for the current OS.
func NewWriter(log logger.Logger) PrivilegedWriter {
	return &elevationWriter{
		log:  log,
		goos: runtime.GOOS,
		run: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			cmd.Stdin = os.Stdin
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
	}
}

// NewWriterWithRunner is NewWriter with an injected command runner and OS
// name, for tests.
func NewWriterWithRunner(log logger.Logger, goos string, run CommandRunner) PrivilegedWriter {
	return &elevationWriter{log: log, goos: goos, run: run}
}

type elevationWriter struct {
	log  logger.Logger
	goos string
	run  CommandRunner

	// direct filesystem operations, overridable in tests
	writeFile func(string, []byte, os.FileMode) error
	mkdirAll  func(string, os.FileMode) error
}

func (w *elevationWriter) WriteFile(path string, data []byte, perm os.FileMode) error {
	write := w.writeFile
	if write == nil {
		write = os.WriteFile
	}
	err := write(path, data, perm)
	if err == nil {
		return nil
	}
	if !os.IsPermission(err) {
		return merr.Wrap(merr.ErrIO, err)
	}
	if w.goos == "windows" {
		return merr.Errorf(merr.ErrIO, "writing %s requires elevation, re-run from an administrator shell", path)
	}

	// stage in a private temp file, then perform a single elevated copy
	staged := filepath.Join(os.TempDir(), "memflowup-"+uuid.New().String())
	if err := os.WriteFile(staged, data, 0600); err != nil {
		return merr.Wrap(merr.ErrIO, err)
	}
	defer os.Remove(staged)

	w.log.Info("elevating privileges to write %s", path)
	if err := w.run("sudo", "cp", staged, path); err != nil {
		return merr.Wrap(merr.ErrIO, fmt.Errorf("elevated copy to %s failed: %w", path, err))
	}
	if err := w.run("sudo", "chmod", fmt.Sprintf("%o", perm), path); err != nil {
		w.log.Warn("unable to set permissions on %s: %s", path, err)
	}
	return nil
}

func (w *elevationWriter) MkdirAll(path string, perm os.FileMode) error {
	mkdir := w.mkdirAll
	if mkdir == nil {
		mkdir = os.MkdirAll
	}
	err := mkdir(path, perm)
	if err == nil {
		return nil
	}
	if !os.IsPermission(err) {
		return merr.Wrap(merr.ErrIO, err)
	}
	if w.goos == "windows" {
		return merr.Errorf(merr.ErrIO, "creating %s requires elevation, re-run from an administrator shell", path)
	}

	w.log.Info("elevating privileges to create %s", path)
	if err := w.run("sudo", "mkdir", "-p", path); err != nil {
		return merr.Wrap(merr.ErrIO, fmt.Errorf("elevated mkdir %s failed: %w", path, err))
	}
	return nil
}
