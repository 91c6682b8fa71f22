package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.starlark.net/starlark"

	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/registry"
	"github.com/memflow/memflowup/internal/util"
)

func archTag() string {
	return string(registry.CurrentArchitecture())
}

// builtins returns the fixed capability surface exposed to install scripts.
// Every builtin closes over the owned *Runtime; scripts never receive a raw
// handle to the call context.
func (rt *Runtime) builtins() starlark.StringDict {
	return starlark.StringDict{
		"info":                      starlark.NewBuiltin("info", rt.builtinInfo),
		"warn":                      starlark.NewBuiltin("warn", rt.builtinWarn),
		"plugin_name":               starlark.NewBuiltin("plugin_name", rt.builtinPluginName),
		"artifact_name":             starlark.NewBuiltin("artifact_name", rt.builtinArtifactName),
		"source_path":               starlark.NewBuiltin("source_path", rt.builtinSourcePath),
		"fetch_archive":             starlark.NewBuiltin("fetch_archive", rt.builtinFetchArchive),
		"clone_repository":          starlark.NewBuiltin("clone_repository", rt.builtinCloneRepository),
		"extract":                   starlark.NewBuiltin("extract", rt.builtinExtract),
		"invoke_native_build":       starlark.NewBuiltin("invoke_native_build", rt.builtinInvokeNativeBuild),
		"copy_build_artifact":       starlark.NewBuiltin("copy_build_artifact", rt.builtinCopyBuildArtifact),
		"write_plugin_artifact":     starlark.NewBuiltin("write_plugin_artifact", rt.builtinWritePluginArtifact),
		"download_release_artifact": starlark.NewBuiltin("download_release_artifact", rt.builtinDownloadReleaseArtifact),
		"register_device_rules":     starlark.NewBuiltin("register_device_rules", rt.builtinRegisterDeviceRules),
	}
}

func (rt *Runtime) builtinInfo(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackPositionalArgs("info", args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	rt.Log.Info("%s", msg)
	return starlark.None, nil
}

func (rt *Runtime) builtinWarn(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg string
	if err := starlark.UnpackPositionalArgs("warn", args, kwargs, 1, &msg); err != nil {
		return nil, err
	}
	rt.Log.Warn("%s", msg)
	return starlark.None, nil
}

func (rt *Runtime) builtinPluginName(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("plugin_name", args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.String(rt.Desc.Name), nil
}

// artifact_name returns the conventional release asset name of the package
// for the current platform, e.g. libmemflow_coredump.so.
func (rt *Runtime) builtinArtifactName(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("artifact_name", args, kwargs, 0); err != nil {
		return nil, err
	}
	name := rt.Paths.LibraryPrefix() + strings.ReplaceAll(rt.Desc.Name, "-", "_") + "." + rt.Paths.PluginExtension()
	return starlark.String(name), nil
}

func (rt *Runtime) builtinSourcePath(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("source_path", args, kwargs, 0); err != nil {
		return nil, err
	}
	if !rt.Opts.IsLocal {
		return nil, fmt.Errorf("source_path is only available for local installs")
	}
	abs, err := filepath.Abs(rt.Desc.RepoRootURL)
	if err != nil {
		return nil, err
	}
	return starlark.String(abs), nil
}

// fetch_archive downloads the package repository at the resolved commit as a
// zip archive and returns its bytes.
func (rt *Runtime) builtinFetchArchive(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("fetch_archive", args, kwargs, 0); err != nil {
		return nil, err
	}
	rt.Log.Info("fetching %s archive at %s", rt.Desc.Name, shortCommit(rt.Commit))
	data, err := rt.Collab.FetchArchive(rt.ctx, rt.Desc.RepoRootURL, rt.Commit)
	if err != nil {
		return nil, err
	}
	return starlark.Bytes(data), nil
}

// clone_repository performs a shallow single-branch recursive clone into a
// deterministic temp directory keyed by the resolved commit and returns the
// path. Calling it again for the same commit reuses the clone.
func (rt *Runtime) builtinCloneRepository(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("clone_repository", args, kwargs, 0); err != nil {
		return nil, err
	}
	dest, err := util.TempDirFor(rt.Paths.TempRoot, "memflowup_clone", util.Sha256Hex([]byte(rt.Commit)))
	if err != nil {
		return nil, merr.Wrap(merr.ErrIO, err)
	}
	branch := rt.Desc.Branch(rt.Chann)
	rt.Log.Info("cloning %s (%s) into %s", rt.Desc.RepoRootURL, branch, dest)
	if err := rt.Collab.Clone(rt.ctx, rt.Desc.RepoRootURL, branch, dest); err != nil {
		return nil, err
	}
	return starlark.String(dest), nil
}

// extract unpacks archive bytes into a temp directory keyed by their
// checksum, stripping the synthetic top-level folder hosting providers wrap
// archives in.
func (rt *Runtime) builtinExtract(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	if err := starlark.UnpackPositionalArgs("extract", args, kwargs, 1, &data); err != nil {
		return nil, err
	}
	buf, err := bytesArg("extract", data)
	if err != nil {
		return nil, err
	}
	dest, err := util.TempDirFor(rt.Paths.TempRoot, "memflowup_extract", util.Sha256Hex(buf))
	if err != nil {
		return nil, merr.Wrap(merr.ErrIO, err)
	}
	rt.Log.Info("unpacking source into %s", dest)
	if err := util.ZipUnpack(buf, dest, 1); err != nil {
		return nil, merr.Wrap(merr.ErrParse, err)
	}
	return starlark.String(dest), nil
}

// invoke_native_build runs the release-profile build in dir. stdout/stderr
// pass through to the user; a nonzero exit fails the package.
func (rt *Runtime) builtinInvokeNativeBuild(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	var extra string
	if err := starlark.UnpackArgs("invoke_native_build", args, kwargs, "dir", &dir, "args?", &extra); err != nil {
		return nil, err
	}
	var buildArgs []string
	if extra != "" {
		buildArgs = strings.Fields(extra)
	}
	if err := rt.Collab.Builder.Build(rt.ctx, dir, buildArgs...); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// copy_build_artifact locates the built dynamic library for name under dir
// and installs it under its qualified output filename.
func (rt *Runtime) builtinCopyBuildArtifact(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir, name string
	if err := starlark.UnpackPositionalArgs("copy_build_artifact", args, kwargs, 2, &dir, &name); err != nil {
		return nil, err
	}

	lib := rt.Paths.LibraryPrefix() + strings.ReplaceAll(name, "-", "_") + "." + rt.Paths.PluginExtension()
	candidates := []string{
		filepath.Join(dir, lib),
		filepath.Join(dir, "target", "release", lib),
	}
	var source string
	for _, c := range candidates {
		if util.Exists(c) {
			source = c
			break
		}
	}
	if source == "" {
		return nil, merr.Errorf(merr.ErrNotFound, "no build artifact %s found under %s; is this a dylib project?", lib, dir)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, merr.Wrap(merr.ErrIO, err)
	}
	return rt.installArtifact(data, name)
}

// write_plugin_artifact installs raw bytes under the qualified output
// filename for name.
func (rt *Runtime) builtinWritePluginArtifact(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	var name string
	if err := starlark.UnpackPositionalArgs("write_plugin_artifact", args, kwargs, 2, &data, &name); err != nil {
		return nil, err
	}
	buf, err := bytesArg("write_plugin_artifact", data)
	if err != nil {
		return nil, err
	}
	return rt.installArtifact(buf, name)
}

// download_release_artifact fetches a named asset from the channel's binary
// release tag.
func (rt *Runtime) builtinDownloadReleaseArtifact(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs("download_release_artifact", args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	tag := rt.Desc.BinaryTag(rt.Chann)
	if tag == "" {
		return nil, merr.Errorf(merr.ErrNotFound, "package %s has no binary release tag in the %s channel", rt.Desc.Name, rt.Chann)
	}
	rt.Log.Info("downloading release artifact %s@%s", name, tag)
	data, err := rt.Collab.ReleaseAsset(rt.ctx, rt.Desc.RepoRootURL, tag, name)
	if err != nil {
		return nil, err
	}
	return starlark.Bytes(data), nil
}

// register_device_rules performs the OS-specific kernel device registration
// some connectors need. It is gated on the descriptor's unsafe-commands flag
// and silently skipped where the mechanism does not apply.
func (rt *Runtime) builtinRegisterDeviceRules(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("register_device_rules", args, kwargs, 0); err != nil {
		return nil, err
	}
	if !rt.Desc.UnsafeCommands {
		return nil, merr.Errorf(merr.ErrNotImplemented, "package %s is not permitted to run unsafe commands", rt.Desc.Name)
	}
	if runtime.GOOS != "linux" {
		rt.Log.Info("device rule registration does not apply on %s, skipping", runtime.GOOS)
		return starlark.None, nil
	}

	rule := fmt.Sprintf("KERNEL==\"%s\", MODE=\"0660\", GROUP=\"memflow\"\n", strings.ReplaceAll(rt.Desc.Name, "-", "_"))
	path := "/etc/udev/rules.d/99-memflow.rules"
	rt.Log.Info("registering device rules at %s", path)
	if err := rt.Writer.WriteFile(path, []byte(rule), 0644); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// installArtifact writes data to the package kind's install directory under
// the qualified name {stem}.{channel-or-arch-tag}.{ext}, records the write
// in the artifact list and marks the release-type cell. With no_copy set it
// only prints the computed filename.
func (rt *Runtime) installArtifact(data []byte, name string) (starlark.Value, error) {
	stem := strings.ReplaceAll(strings.TrimSuffix(name, filepath.Ext(name)), "-", "_")
	fileName := fmt.Sprintf("%s%s.%s.%s", rt.Paths.LibraryPrefix(), stem, rt.artifactTag(), rt.Paths.PluginExtension())
	dest := filepath.Join(rt.Paths.InstallDir(rt.Opts.SystemWide), fileName)

	if rt.Opts.NoCopy {
		fmt.Println(dest)
	} else {
		if err := rt.Writer.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, err
		}
		if err := rt.Writer.WriteFile(dest, data, 0755); err != nil {
			return nil, err
		}
		rt.Log.Info("installed %s", dest)
	}

	rt.recordArtifact(dest)
	if err := rt.markRelease(); err != nil {
		return nil, err
	}
	return starlark.String(dest), nil
}

// bytesArg coerces a starlark bytes (or string) value into raw bytes.
func bytesArg(fn string, v starlark.Value) ([]byte, error) {
	switch val := v.(type) {
	case starlark.Bytes:
		return []byte(val), nil
	case starlark.String:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("%s: expected bytes, got %s", fn, v.Type())
	}
}

func shortCommit(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
