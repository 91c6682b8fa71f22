package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/agentuity/go-common/logger"

	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/platform"
	"github.com/memflow/memflowup/internal/util"
)

// metaExtension is the sidecar metadata file extension.
const metaExtension = "meta"

// LocalPlugin is an installed plugin binary together with its sidecar
// metadata.
type LocalPlugin struct {
	PluginFile string
	MetaFile   string
	Variant    Variant
}

// PluginFileName computes the install path of a variant's binary:
// lib prefix + memflow_{name}_{digest7} + platform dylib extension.
func PluginFileName(paths platform.Paths, systemWide bool, variant Variant) string {
	name := variant.Descriptor.Name
	if name == "" {
		name = "unknown"
	}
	digest := variant.Digest
	if len(digest) > 7 {
		digest = digest[:7]
	}
	base := paths.LibraryPrefix() + "memflow_" + name + "_" + digest + "." + paths.PluginExtension()
	return filepath.Join(paths.InstallDir(systemWide), base)
}

// MetaFileName returns the sidecar path for a plugin binary: same basename
// with the extension replaced.
func MetaFileName(pluginFile string) string {
	ext := filepath.Ext(pluginFile)
	return strings.TrimSuffix(pluginFile, ext) + "." + metaExtension
}

// WriteMeta persists the sidecar JSON mirror of a variant next to its
// binary.
func WriteMeta(pluginFile string, variant Variant) error {
	data, err := json.MarshalIndent(variant, "", "  ")
	if err != nil {
		return merr.Wrap(merr.ErrParse, err)
	}
	return os.WriteFile(MetaFileName(pluginFile), data, 0644)
}

// LocalPlugins scans the install directory for sidecar files and returns the
// described plugins sorted the same way the registry ranks variants: name
// ascending, plugin ABI version descending, creation time descending, with
// semantic version as the final tie-break.
func LocalPlugins(log logger.Logger, paths platform.Paths, systemWide bool) ([]LocalPlugin, error) {
	dir := paths.InstallDir(systemWide)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, merr.Wrap(merr.ErrIO, err)
	}

	var out []LocalPlugin
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "."+metaExtension) {
			continue
		}
		metaFile := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(metaFile)
		if err != nil {
			log.Warn("unable to read plugin metadata %s: %s", metaFile, err)
			continue
		}
		var variant Variant
		if err := json.Unmarshal(data, &variant); err != nil {
			log.Warn("skipping unparsable plugin metadata %s: %s", metaFile, err)
			continue
		}
		pluginFile := strings.TrimSuffix(metaFile, "."+metaExtension) + "." + paths.PluginExtension()
		out = append(out, LocalPlugin{
			PluginFile: pluginFile,
			MetaFile:   metaFile,
			Variant:    variant,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Variant, out[j].Variant
		if a.Descriptor.Name != b.Descriptor.Name {
			return a.Descriptor.Name < b.Descriptor.Name
		}
		if a.Descriptor.PluginVersion != b.Descriptor.PluginVersion {
			return a.Descriptor.PluginVersion > b.Descriptor.PluginVersion
		}
		if !a.CreatedAt.Equal(b.CreatedAt.Time) {
			return a.CreatedAt.After(b.CreatedAt.Time)
		}
		return semverNewer(a.Descriptor.Version, b.Descriptor.Version)
	})
	return out, nil
}

// FindLocal resolves a plugin uri against the locally installed plugins. It
// matches a bare digest, name:version, or name:digest-prefix.
func FindLocal(log logger.Logger, paths platform.Paths, systemWide bool, uriStr string) (LocalPlugin, error) {
	uri, err := ParseUri(uriStr, "")
	if err != nil {
		return LocalPlugin{}, err
	}

	plugins, err := LocalPlugins(log, paths, systemWide)
	if err != nil {
		return LocalPlugin{}, err
	}
	for _, plugin := range plugins {
		digest := plugin.Variant.Digest
		version := uri.Version()
		if uriStr == digest {
			return plugin, nil
		}
		if plugin.Variant.Descriptor.Name != uri.Name() {
			continue
		}
		if version == "latest" ||
			version == plugin.Variant.Descriptor.Version ||
			(len(version) <= len(digest) && version == digest[:len(version)]) {
			return plugin, nil
		}
	}
	return LocalPlugin{}, merr.Errorf(merr.ErrNotFound, "plugin `%s` not found locally", uriStr)
}

// RemoveOrphans deletes installed binaries whose sidecar metadata is
// missing, unparsable, or whose recorded digest no longer matches the file
// contents. Binary and sidecar are always removed as a pair. It returns the
// paths that were deleted.
func RemoveOrphans(log logger.Logger, paths platform.Paths, systemWide bool) ([]string, error) {
	dir := paths.InstallDir(systemWide)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, merr.Wrap(merr.ErrIO, err)
	}

	ext := "." + paths.PluginExtension()
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		pluginFile := filepath.Join(dir, entry.Name())
		metaFile := MetaFileName(pluginFile)

		orphaned := false
		data, err := os.ReadFile(metaFile)
		if err != nil {
			log.Debug("plugin %s has no readable metadata", entry.Name())
			orphaned = true
		} else {
			var variant Variant
			if err := json.Unmarshal(data, &variant); err != nil {
				log.Debug("plugin %s has unparsable metadata", entry.Name())
				orphaned = true
			} else {
				digest, err := util.Sha256File(pluginFile)
				if err != nil || digest != variant.Digest {
					log.Debug("plugin %s digest mismatch", entry.Name())
					orphaned = true
				}
			}
		}

		if orphaned {
			removed = append(removed, removePair(log, pluginFile, metaFile)...)
		}
	}
	return removed, nil
}

// Prune keeps only the newest installed record per plugin name, ranked by
// plugin ABI version then creation time, and deletes the rest. Binary and
// sidecar are removed together.
func Prune(log logger.Logger, paths platform.Paths, systemWide bool) ([]string, error) {
	plugins, err := LocalPlugins(log, paths, systemWide)
	if err != nil {
		return nil, err
	}

	// LocalPlugins already sorts newest-first per name
	keep := map[string]struct{}{}
	var removed []string
	for _, plugin := range plugins {
		name := plugin.Variant.Descriptor.Name
		if _, ok := keep[name]; !ok {
			keep[name] = struct{}{}
			continue
		}
		removed = append(removed, removePair(log, plugin.PluginFile, plugin.MetaFile)...)
	}
	return removed, nil
}

// Remove deletes an installed plugin binary and its sidecar metadata.
func Remove(log logger.Logger, plugin LocalPlugin) []string {
	return removePair(log, plugin.PluginFile, plugin.MetaFile)
}

func removePair(log logger.Logger, pluginFile, metaFile string) []string {
	var removed []string
	for _, path := range []string{pluginFile, metaFile} {
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				log.Warn("unable to remove %s: %s", path, err)
			}
			continue
		}
		removed = append(removed, path)
	}
	return removed
}

// semverNewer reports whether a is a newer semantic version than b, falling
// back to a string compare when either does not parse.
func semverNewer(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return a > b
	}
	return va.GreaterThan(vb)
}
