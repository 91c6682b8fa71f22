// Package installer drives the per-package install/update state machine: it
// decides the target entry type, checks idempotency against the installation
// database, resolves remote refs, runs the install-script sandbox and
// commits the result.
package installer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/agentuity/go-common/logger"

	"github.com/memflow/memflowup/internal/database"
	"github.com/memflow/memflowup/internal/github"
	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/pkgindex"
	"github.com/memflow/memflowup/internal/platform"
	"github.com/memflow/memflowup/internal/sandbox"
)

// Options controls one install pass. Passed by value through the whole call
// chain and never mutated after construction.
type Options struct {
	IsLocal    bool
	NoCopy     bool
	SystemWide bool
	Reinstall  bool
	FromSource bool
}

// Installer ties the index, database, sandbox and transports together.
type Installer struct {
	Log    logger.Logger
	Paths  platform.Paths
	Writer platform.PrivilegedWriter
	Collab sandbox.Collaborators

	// ref resolution, stubbed in tests
	ResolveBranch func(ctx context.Context, repoURL, branch string) (string, error)
	ResolveTag    func(ctx context.Context, repoURL, tag string) (string, error)
}

// New wires an Installer against the real transports.
func New(log logger.Logger, paths platform.Paths, writer platform.PrivilegedWriter) *Installer {
	return &Installer{
		Log:           log,
		Paths:         paths,
		Writer:        writer,
		Collab:        sandbox.DefaultCollaborators(log),
		ResolveBranch: github.Branch,
		ResolveTag:    github.Tag,
	}
}

// InstallPackage installs one package into the given channel. It returns the
// installed artifact paths; on an idempotent re-install these are the stored
// ones and no filesystem write happens.
func (i *Installer) InstallPackage(ctx context.Context, desc pkgindex.Descriptor, ch pkgindex.Channel, opts Options) ([]string, error) {
	if desc.Kind != pkgindex.KindCorePlugin {
		return nil, merr.Errorf(merr.ErrNotImplemented, "package kind %s has no install path yet", desc.Kind)
	}

	// 1. compute the target entry type without side effects
	entrypoint, target, err := i.target(desc, ch, opts)
	if err != nil {
		return nil, err
	}

	commit := ""
	resolved := target.Kind != database.KindGitSource

	// 2. idempotency check against the persisted record
	if !opts.Reinstall {
		records, err := database.Load(i.Paths, ch, opts.SystemWide)
		if err != nil {
			return nil, err
		}
		if rec, ok := records[desc.Name]; ok && rec.Ty.Kind == target.Kind {
			if !resolved {
				// a git target needs the remote sha before it can be compared
				commit, err = i.resolveCommit(ctx, desc, ch)
				if err != nil {
					return nil, err
				}
				target = database.GitSource(commit)
				resolved = true
			}
			if rec.Ty == target {
				i.Log.Info("%s is already installed (%s), skipping", desc.Name, rec.Ty)
				return rec.Artifacts, nil
			}
		}
	}

	// 3. resolve the remote commit when not done above
	if !resolved {
		commit, err = i.resolveCommit(ctx, desc, ch)
		if err != nil {
			return nil, err
		}
	} else if target.Kind == database.KindGitSource {
		commit = target.Payload
	}

	// 4. run the install script
	rt := &sandbox.Runtime{
		Log:    i.Log,
		Paths:  i.Paths,
		Writer: i.Writer,
		Desc:   desc,
		Chann:  ch,
		Opts: sandbox.Options{
			IsLocal:    opts.IsLocal,
			NoCopy:     opts.NoCopy,
			SystemWide: opts.SystemWide,
			FromSource: opts.FromSource,
		},
		Commit: commit,
		Collab: i.Collab,
	}
	if err := sandbox.Run(ctx, rt, entrypoint); err != nil {
		return nil, err
	}

	// 5. the script must have committed to a release type; files it copied
	// before failing here are deliberately not rolled back
	release, ok := rt.ReleaseType()
	if !ok {
		if len(rt.Artifacts()) > 0 {
			i.Log.Warn("partial install: %s wrote %d artifact(s) but never marked a release type; filesystem and database now diverge", desc.Name, len(rt.Artifacts()))
		}
		return nil, merr.Errorf(merr.ErrUnknown, "install script for %s completed without recording a release type", desc.Name)
	}

	if opts.NoCopy {
		return rt.Artifacts(), nil
	}

	rec := database.Record{Ty: release, Artifacts: rt.Artifacts()}
	if err := database.Commit(i.Paths, i.Writer, desc.Name, rec, ch, opts.SystemWide); err != nil {
		return nil, err
	}
	return rt.Artifacts(), nil
}

// target maps (descriptor, channel, options) to the sandbox entrypoint and
// the entry type to persist. Unsupported combinations are NotImplemented and
// batch installs simply skip them.
func (i *Installer) target(desc pkgindex.Descriptor, ch pkgindex.Channel, opts Options) (string, database.EntryType, error) {
	switch {
	case opts.IsLocal:
		abs, err := filepath.Abs(desc.RepoRootURL)
		if err != nil {
			return "", database.EntryType{}, merr.Wrap(merr.ErrIO, err)
		}
		return sandbox.EntryBuildLocal, database.LocalPath(abs), nil

	case opts.FromSource:
		if desc.Branch(ch) == "" {
			return "", database.EntryType{}, merr.Errorf(merr.ErrNotImplemented,
				"%s is not supported in the %s channel from source", desc.Name, ch)
		}
		// payload resolved in step 3
		return sandbox.EntryBuildFromSource, database.GitSource(""), nil

	default:
		tag := desc.BinaryTag(ch)
		if tag == "" {
			return "", database.EntryType{}, merr.Errorf(merr.ErrNotImplemented,
				"%s has no binary release in the %s channel (try --from-source)", desc.Name, ch)
		}
		return sandbox.EntryInstall, database.BinaryRelease(tag), nil
	}
}

// resolveCommit turns the channel branch into a commit sha, falling back to
// a tag lookup when the branch lookup fails.
func (i *Installer) resolveCommit(ctx context.Context, desc pkgindex.Descriptor, ch pkgindex.Channel) (string, error) {
	branch := desc.Branch(ch)
	if branch == "" {
		return "", merr.Errorf(merr.ErrNotImplemented, "%s has no %s branch", desc.Name, ch)
	}
	sha, err := i.ResolveBranch(ctx, desc.RepoRootURL, branch)
	if err == nil {
		return sha, nil
	}
	i.Log.Debug("branch lookup for %s@%s failed (%s), trying tag", desc.Name, branch, err)
	sha, tagErr := i.ResolveTag(ctx, desc.RepoRootURL, branch)
	if tagErr != nil {
		return "", err
	}
	return sha, nil
}

// InstallBatch installs the named packages, continuing past individual
// failures and returning the accumulated per-package errors. Packages whose
// preconditions don't hold for the requested channel and mode are reported
// and skipped, never counted as failures.
func (i *Installer) InstallBatch(ctx context.Context, descs []pkgindex.Descriptor, names []string, ch pkgindex.Channel, opts Options) []error {
	byName := make(map[string]pkgindex.Descriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	var failures []error
	for _, name := range names {
		desc, ok := byName[name]
		if !ok {
			failures = append(failures, merr.Errorf(merr.ErrNotFound, "package %s not found in index", name))
			continue
		}
		if !desc.SupportedByPlatform() {
			i.Log.Warn("%s is not supported on this platform, skipping", name)
			continue
		}
		fmt.Printf("installing %s\n", name)
		if _, err := i.InstallPackage(ctx, desc, ch, opts); err != nil {
			if errors.Is(err, merr.ErrNotImplemented) {
				i.Log.Warn("%s is not supported in this channel/mode, skipping: %s", name, err)
				continue
			}
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		}
	}
	return failures
}

// Update re-installs every package recorded in the (channel, scope)
// database. The idempotency check turns unchanged packages into no-ops.
func (i *Installer) Update(ctx context.Context, descs []pkgindex.Descriptor, ch pkgindex.Channel, opts Options) []error {
	records, err := database.Load(i.Paths, ch, opts.SystemWide)
	if err != nil {
		return []error{err}
	}

	byName := make(map[string]pkgindex.Descriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []error
	for _, name := range names {
		rec := records[name]
		if rec.Ty.Kind == database.KindLocalPath {
			// local trees are rebuilt explicitly via `memflowup build`
			i.Log.Info("skipping locally built package %s", name)
			continue
		}
		desc, ok := byName[name]
		if !ok {
			i.Log.Warn("installed package %s no longer exists in the index, skipping", name)
			continue
		}
		// update with the recorded mode, not the flags' default
		mode := opts
		mode.FromSource = rec.Ty.Kind == database.KindGitSource
		fmt.Printf("updating %s\n", name)
		if _, err := i.InstallPackage(ctx, desc, ch, mode); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		}
	}
	return failures
}
