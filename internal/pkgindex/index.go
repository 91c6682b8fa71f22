package pkgindex

import (
	_ "embed"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentuity/go-common/logger"

	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/platform"
)

// UpstreamIndexURL is the canonical package catalog. Overridable for tests.
var UpstreamIndexURL = "https://raw.githubusercontent.com/memflow/memflowup/master/index.json"

// upstreamCacheMaxAge is how old the cached upstream catalog may be before a
// refresh is attempted.
const upstreamCacheMaxAge = 60 * time.Second

//go:embed index.json
var builtinIndex []byte

// LoadOpts selects which catalog tiers participate in a resolution pass.
type LoadOpts struct {
	IgnoreUserIndex bool
	IgnoreUpstream  bool
	IgnoreBuiltin   bool
}

// Resolver loads and merges package catalogs from three tiers: user-authored
// fragments, the cached upstream catalog, and the catalog compiled into the
// binary.
type Resolver struct {
	Paths  platform.Paths
	Writer platform.PrivilegedWriter
	Log    logger.Logger

	// HTTPClient is used for upstream refreshes. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Resolve returns the merged catalog. Entries are deduplicated by name
// keeping the first occurrence, so user catalogs override upstream, which
// overrides the builtin fallback.
func (r *Resolver) Resolve(systemWide bool, opts LoadOpts) ([]Descriptor, error) {
	var all []Descriptor

	if !opts.IgnoreUserIndex {
		user, err := r.loadUserFragments()
		if err != nil {
			return nil, err
		}
		all = append(all, user...)
	}

	if !opts.IgnoreUpstream {
		upstream, err := r.loadUpstream(systemWide)
		if err != nil {
			// stale or missing upstream cache is a degraded result, not a
			// hard error
			r.Log.Warn("skipping upstream package index: %s", err)
		} else {
			all = append(all, upstream...)
		}
	}

	if !opts.IgnoreBuiltin {
		builtin, err := parseCatalog(builtinIndex)
		if err != nil {
			return nil, merr.Wrap(merr.ErrParse, err)
		}
		all = append(all, builtin...)
	}

	return dedupByName(all), nil
}

// loadUserFragments reads every *.json file under <config>/index.d in
// lexical order.
func (r *Resolver) loadUserFragments() ([]Descriptor, error) {
	dir := filepath.Join(r.Paths.ConfigDir, "index.d")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, merr.Wrap(merr.ErrIO, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Descriptor
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, merr.Wrap(merr.ErrIO, err)
		}
		descs, err := parseCatalog(data)
		if err != nil {
			return nil, merr.Errorf(merr.ErrParse, "user index %s: %s", name, err)
		}
		out = append(out, descs...)
	}
	return out, nil
}

// loadUpstream returns the cached upstream catalog, refreshing the cache
// when it is older than upstreamCacheMaxAge. A failed refresh logs a warning
// and falls back to the stale cache.
func (r *Resolver) loadUpstream(systemWide bool) ([]Descriptor, error) {
	cache := filepath.Join(r.Paths.DatabaseDir(systemWide), "index.json")

	stale := true
	if fi, err := os.Stat(cache); err == nil {
		stale = time.Since(fi.ModTime()) > upstreamCacheMaxAge
	}

	if stale {
		if err := r.refreshUpstream(cache); err != nil {
			r.Log.Warn("unable to refresh package index, using cached copy: %s", err)
		}
	}

	data, err := os.ReadFile(cache)
	if err != nil {
		return nil, merr.Wrap(merr.ErrIO, err)
	}
	descs, err := parseCatalog(data)
	if err != nil {
		return nil, merr.Wrap(merr.ErrParse, err)
	}
	return descs, nil
}

func (r *Resolver) refreshUpstream(cache string) error {
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Get(UpstreamIndexURL)
	if err != nil {
		return merr.Wrap(merr.ErrHTTP, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return merr.Errorf(merr.ErrHTTP, "fetching package index: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return merr.Wrap(merr.ErrHTTP, err)
	}
	// validate before replacing the cache
	if _, err := parseCatalog(data); err != nil {
		return merr.Wrap(merr.ErrParse, err)
	}

	if err := r.Writer.MkdirAll(filepath.Dir(cache), 0755); err != nil {
		return err
	}
	return r.Writer.WriteFile(cache, data, 0644)
}

func parseCatalog(data []byte) ([]Descriptor, error) {
	var descs []Descriptor
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, err
	}
	return descs, nil
}

// dedupByName keeps the first occurrence of each package name. The tier
// concatenation order makes this the override mechanism.
func dedupByName(descs []Descriptor) []Descriptor {
	seen := make(map[string]struct{}, len(descs))
	out := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		if _, ok := seen[d.Name]; ok {
			continue
		}
		seen[d.Name] = struct{}{}
		out = append(out, d)
	}
	return out
}
