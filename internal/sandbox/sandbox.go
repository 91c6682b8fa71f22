// Package sandbox executes per-package install procedures inside a
// restricted Starlark interpreter. Scripts see nothing but the fixed
// capability surface in builtins.go; all filesystem, network and toolchain
// access goes through host-side functions bound to the run's call context.
package sandbox

import (
	"context"
	_ "embed"
	"errors"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"

	"github.com/memflow/memflowup/internal/merr"
)

// Entrypoint names, selected by install mode.
const (
	EntryInstall         = "install"
	EntryBuildFromSource = "build_from_source"
	EntryBuildLocal      = "build_local"
)

//go:embed default_install.star
var defaultScript []byte

// Run resolves the package's install script and calls the named entrypoint.
// The Runtime accumulates installed artifacts and the release type as the
// script invokes capabilities; Run itself never writes anything.
func Run(ctx context.Context, rt *Runtime, entrypoint string) error {
	rt.ctx = ctx

	name, src, err := rt.scriptSource(ctx)
	if err != nil {
		return err
	}

	thread := &starlark.Thread{
		Name: rt.Desc.Name,
		Print: func(_ *starlark.Thread, msg string) {
			rt.Log.Info("%s", msg)
		},
	}

	globals, err := starlark.ExecFile(thread, name, src, rt.builtins())
	if err != nil {
		return scriptError(err)
	}

	fn, ok := globals[entrypoint]
	if !ok {
		return merr.Errorf(merr.ErrNotImplemented, "install script %s does not define %s()", name, entrypoint)
	}

	if _, err := starlark.Call(thread, fn, nil, nil); err != nil {
		return scriptError(err)
	}
	return nil
}

// scriptSource returns the script name and body: the descriptor's custom
// script fetched at the resolved commit (or read from the local tree), or
// the built-in default procedure.
func (rt *Runtime) scriptSource(ctx context.Context) (string, []byte, error) {
	path := rt.Desc.InstallScriptPath
	if path == "" {
		return "default_install.star", defaultScript, nil
	}

	if rt.Opts.IsLocal {
		full := filepath.Join(rt.Desc.RepoRootURL, path)
		data, err := os.ReadFile(full)
		if err != nil {
			return "", nil, merr.Wrap(merr.ErrIO, err)
		}
		return path, data, nil
	}

	data, err := rt.Collab.RawFile(ctx, rt.Desc.RepoRootURL, rt.Commit, path)
	if err != nil {
		return "", nil, err
	}
	return path, data, nil
}

// scriptError keeps the classified sentinel when a capability failed inside
// the interpreter, and wraps plain evaluation errors as script bugs.
func scriptError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		if cause := evalErr.Unwrap(); cause != nil {
			return cause
		}
		return merr.Errorf(merr.ErrUnknown, "install script failed: %s", evalErr.Backtrace())
	}
	return merr.Wrap(merr.ErrParse, err)
}
