package sandbox

import (
	"context"
	"os"
	"path/filepath"

	"github.com/agentuity/go-common/logger"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/memflow/memflowup/internal/buildtool"
	"github.com/memflow/memflowup/internal/database"
	"github.com/memflow/memflowup/internal/github"
	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/pkgindex"
	"github.com/memflow/memflowup/internal/platform"
)

// Options are the install options relevant inside a script run.
type Options struct {
	IsLocal    bool
	NoCopy     bool
	SystemWide bool
	FromSource bool
}

// Collaborators are the transport and toolchain operations a script may
// trigger. They are injected so tests can stub them out.
type Collaborators struct {
	FetchArchive func(ctx context.Context, repoURL, commit string) ([]byte, error)
	RawFile      func(ctx context.Context, repoURL, ref, path string) ([]byte, error)
	ReleaseAsset func(ctx context.Context, repoURL, tag, name string) ([]byte, error)
	Clone        func(ctx context.Context, repoURL, branch, dest string) error
	Builder      buildtool.Builder
}

// DefaultCollaborators wires the real transports: the GitHub API client, a
// shallow single-branch recursive go-git clone, and the cargo builder.
func DefaultCollaborators(log logger.Logger) Collaborators {
	return Collaborators{
		FetchArchive: github.DownloadArchive,
		RawFile:      github.RawFile,
		ReleaseAsset: github.ReleaseAsset,
		Clone: func(ctx context.Context, repoURL, branch, dest string) error {
			// reentrant: an existing clone at the destination is reused
			if _, err := git.PlainOpen(dest); err == nil {
				log.Debug("reusing existing clone at %s", dest)
				return nil
			}
			_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
				URL:               repoURL,
				Depth:             1,
				SingleBranch:      true,
				ReferenceName:     plumbing.NewBranchReferenceName(branch),
				RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
				Progress:          os.Stderr,
			})
			if err != nil {
				return merr.Wrap(merr.ErrHTTP, err)
			}
			return nil
		},
		Builder: buildtool.Cargo{Log: log},
	}
}

// Runtime is the call context of one script run. It owns the mutable
// accumulators every capability writes into: the append-only installed
// artifact list and the one-shot release-type cell. A Runtime must not
// outlive its run and must not be shared across concurrent runs; the
// interpreter only ever sees builtins bound to this owned struct.
type Runtime struct {
	Log    logger.Logger
	Paths  platform.Paths
	Writer platform.PrivilegedWriter
	Desc   pkgindex.Descriptor
	Chann  pkgindex.Channel
	Opts   Options
	// Commit is the resolved git commit sha; empty for local installs.
	Commit string
	Collab Collaborators

	ctx       context.Context
	artifacts []string
	release   *database.EntryType
}

// Artifacts returns the ordered list of files written during the run.
func (rt *Runtime) Artifacts() []string { return rt.artifacts }

// ReleaseType returns the EntryType the run committed to, if any. The
// orchestrator refuses a run that never set it.
func (rt *Runtime) ReleaseType() (database.EntryType, bool) {
	if rt.release == nil {
		return database.EntryType{}, false
	}
	return *rt.release, true
}

func (rt *Runtime) recordArtifact(path string) {
	rt.artifacts = append(rt.artifacts, path)
}

// markRelease sets the one-shot release-type cell. The value is derived from
// the install mode, so a second mark can only ever agree with the first.
func (rt *Runtime) markRelease() error {
	target, err := rt.releaseForMode()
	if err != nil {
		return err
	}
	if rt.release != nil {
		if *rt.release != target {
			return merr.Errorf(merr.ErrUnknown, "install script marked conflicting release types %s and %s", rt.release, target)
		}
		return nil
	}
	rt.release = &target
	return nil
}

func (rt *Runtime) releaseForMode() (database.EntryType, error) {
	switch {
	case rt.Opts.IsLocal:
		abs, err := filepath.Abs(rt.Desc.RepoRootURL)
		if err != nil {
			return database.EntryType{}, merr.Wrap(merr.ErrIO, err)
		}
		return database.LocalPath(abs), nil
	case rt.Opts.FromSource:
		return database.GitSource(rt.Commit), nil
	default:
		tag := rt.Desc.BinaryTag(rt.Chann)
		if tag == "" {
			return database.EntryType{}, merr.Errorf(merr.ErrNotImplemented, "package %s has no binary release in the %s channel", rt.Desc.Name, rt.Chann)
		}
		return database.BinaryRelease(tag), nil
	}
}

// artifactTag is the qualifier embedded in installed artifact filenames: the
// channel name for remote installs, the CPU architecture for local builds.
func (rt *Runtime) artifactTag() string {
	if rt.Chann == pkgindex.Local {
		return archTag()
	}
	return rt.Chann.Filename()
}
