package pkgindex

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind describes what a package installs. Only core plugins currently have a
// defined install path; the other kinds are listed for forward compatibility
// with the catalog format.
type Kind string

const (
	KindCorePlugin   Kind = "core_plugin"
	KindUtility      Kind = "utility"
	KindLibrary      Kind = "library"
	KindDaemonPlugin Kind = "daemon_plugin"
)

// Channel selects which branch or binary tag of a package is targeted.
type Channel int

const (
	// Stable tracks the stable branch / stable release tags.
	Stable Channel = iota
	// Dev tracks the development branch / dev release tags.
	Dev
	// Local is synthetic and only used for path-based installs. It is never
	// resolved against a remote branch.
	Local
)

// ChannelFromDev maps the --dev flag onto a channel.
func ChannelFromDev(dev bool) Channel {
	if dev {
		return Dev
	}
	return Stable
}

// Filename returns the channel tag used in database documents and qualified
// artifact names.
func (c Channel) Filename() string {
	switch c {
	case Dev:
		return "dev"
	case Local:
		return "local"
	default:
		return "stable"
	}
}

func (c Channel) String() string { return c.Filename() }

// Descriptor is one entry of a package catalog. Immutable once loaded; its
// lifetime is a single resolution pass.
type Descriptor struct {
	Name              string   `json:"name"`
	Kind              Kind     `json:"ty"`
	RepoRootURL       string   `json:"repo_root_url"`
	StableBranch      string   `json:"stable_branch,omitempty"`
	DevBranch         string   `json:"dev_branch,omitempty"`
	StableBinaryTag   string   `json:"stable_binary_tag,omitempty"`
	DevBinaryTag      string   `json:"dev_binary_tag,omitempty"`
	Platforms         []string `json:"platforms,omitempty"`
	InstallScriptPath string   `json:"install_script_path,omitempty"`
	UnsafeCommands    bool     `json:"unsafe_commands,omitempty"`
}

// Branch returns the branch ref for the channel, or "" if the package does
// not exist in that channel.
func (d Descriptor) Branch(c Channel) string {
	switch c {
	case Dev:
		return d.DevBranch
	case Stable:
		return d.StableBranch
	default:
		return ""
	}
}

// BinaryTag returns the binary release tag for the channel, if any.
func (d Descriptor) BinaryTag(c Channel) string {
	switch c {
	case Dev:
		return d.DevBinaryTag
	case Stable:
		return d.StableBinaryTag
	default:
		return ""
	}
}

// InChannel reports whether the package has a branch in the given channel.
func (d Descriptor) InChannel(c Channel) bool {
	return c == Local || d.Branch(c) != ""
}

// SupportedByPlatform checks the descriptor's platform allow-list against
// the current OS. Entries are of the form "linux" or "linux/amd64"; an empty
// list allows every platform.
func (d Descriptor) SupportedByPlatform() bool {
	if len(d.Platforms) == 0 {
		return true
	}
	this := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	for _, p := range d.Platforms {
		if p == runtime.GOOS || p == this {
			return true
		}
	}
	return false
}

// SupportsInstallMode reports whether the package can be installed from the
// given channel with the given source preference: source installs need a
// branch, binary installs need a release tag.
func (d Descriptor) SupportsInstallMode(c Channel, fromSource bool) bool {
	if c == Local {
		return true
	}
	if fromSource {
		return d.Branch(c) != ""
	}
	return d.BinaryTag(c) != ""
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, strings.ReplaceAll(string(d.Kind), "_", " "))
}
