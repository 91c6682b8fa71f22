package registry

import (
	"fmt"
	"strings"

	"github.com/memflow/memflowup/internal/merr"
)

// DefaultRegistry is the public plugin registry used when neither the config
// nor the URI names one.
const DefaultRegistry = "https://registry.memflow.io"

// PluginUri identifies a plugin variant as `[registry/]name[:version]`,
// where version may also be a digest or digest prefix. A missing version
// means "latest".
type PluginUri struct {
	registry string
	name     string
	version  string
}

// ParseUri parses s, filling in defaultRegistry (or DefaultRegistry) and
// "latest" when omitted. More than one '/' or ':' group is a parse error.
func ParseUri(s, defaultRegistry string) (PluginUri, error) {
	if defaultRegistry == "" {
		defaultRegistry = DefaultRegistry
	}

	uri := PluginUri{registry: defaultRegistry, version: "latest"}

	rest := s
	switch parts := strings.Split(s, "/"); len(parts) {
	case 1:
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return PluginUri{}, merr.Errorf(merr.ErrParse, "invalid plugin uri %q", s)
		}
		uri.registry = parts[0]
		rest = parts[1]
	default:
		return PluginUri{}, merr.Errorf(merr.ErrParse, "invalid plugin uri %q: too many '/' separators", s)
	}

	switch parts := strings.Split(rest, ":"); len(parts) {
	case 1:
		uri.name = parts[0]
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return PluginUri{}, merr.Errorf(merr.ErrParse, "invalid plugin uri %q", s)
		}
		uri.name = parts[0]
		uri.version = parts[1]
	default:
		return PluginUri{}, merr.Errorf(merr.ErrParse, "invalid plugin uri %q: too many ':' separators", s)
	}

	if uri.name == "" {
		return PluginUri{}, merr.Errorf(merr.ErrParse, "invalid plugin uri %q: missing plugin name", s)
	}
	return uri, nil
}

// Registry returns the registry host or base URL of the uri.
func (u PluginUri) Registry() string { return u.registry }

// Name returns the plugin name.
func (u PluginUri) Name() string { return u.name }

// Version returns the version selector, "latest" when none was given. It may
// also hold a digest or digest prefix.
func (u PluginUri) Version() string { return u.version }

func (u PluginUri) String() string {
	return fmt.Sprintf("%s/%s:%s", u.registry, u.name, u.version)
}
