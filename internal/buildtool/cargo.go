package buildtool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/agentuity/go-common/logger"

	"github.com/memflow/memflowup/internal/merr"
)

// Builder runs the native build toolchain for plugin source trees.
type Builder interface {
	// Build runs a release-profile build with extra args inside dir.
	Build(ctx context.Context, dir string, args ...string) error
}

// EnsureToolchain verifies that cargo is reachable. Plugins are native Rust
// dylibs, so source builds are impossible without it. A fresh rustup install
// lands in ~/.cargo/bin before any shell profile picks it up, so that
// location is checked too and appended to PATH when it hits.
func EnsureToolchain(log logger.Logger) error {
	if path, err := exec.LookPath("cargo"); err == nil {
		log.Debug("cargo found at %s", path)
		return nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		fallback := filepath.Join(home, ".cargo", "bin", "cargo")
		if _, err := os.Stat(fallback); err == nil {
			log.Debug("cargo found at %s", fallback)
			os.Setenv("PATH", os.Getenv("PATH")+string(os.PathListSeparator)+filepath.Dir(fallback))
			return nil
		}
	}
	return merr.Errorf(merr.ErrNotFound,
		"cargo not found in PATH; install Rust via https://rustup.rs to build plugins from source")
}

// InstallToolchain bootstraps Rust via the rustup install script. Only called
// after the user opted in interactively.
func InstallToolchain(ctx context.Context, log logger.Logger) error {
	if runtime.GOOS == "windows" {
		return merr.Errorf(merr.ErrNotImplemented,
			"automatic Rust setup is not available on windows, install it from https://rustup.rs")
	}
	log.Info("installing the Rust toolchain via rustup")
	cmd := exec.CommandContext(ctx, "sh", "-c",
		"curl --proto '=https' --tlsv1.2 -sSf https://sh.rustup.rs | sh -s -- -y")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return merr.Errorf(merr.ErrIO, "rustup install failed: %s", err)
	}
	return nil
}

// Cargo is the default Builder.
type Cargo struct {
	Log logger.Logger
}

// Build runs `cargo build --release [args...]` in dir, passing stdout and
// stderr through to the user. A nonzero exit is a hard error for the
// package being installed.
func (c Cargo) Build(ctx context.Context, dir string, args ...string) error {
	cmdArgs := append([]string{"build", "--release"}, args...)
	c.Log.Info("executing 'cargo %s' in %s", strings.Join(cmdArgs, " "), dir)

	cmd := exec.CommandContext(ctx, "cargo", cmdArgs...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return merr.Errorf(merr.ErrIO, "cargo build failed in %s: %s", dir, err)
	}
	return nil
}
