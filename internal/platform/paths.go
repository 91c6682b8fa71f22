package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds every filesystem location the tool reads or writes. It is
// constructed once at startup and threaded through the components that need
// a path, so nothing else in the codebase consults runtime.GOOS for layout.
type Paths struct {
	// PluginsDir is the per-user plugin install directory.
	PluginsDir string
	// SystemPluginsDir is the system-wide plugin install directory.
	SystemPluginsDir string
	// ConfigDir holds the config file, index cache and user databases.
	ConfigDir string
	// SystemConfigDir holds the system-wide installation databases.
	SystemConfigDir string
	// TempRoot is the parent for all checksum-keyed scratch directories.
	TempRoot string

	goos string
}

// DefaultPaths returns the conventional layout for the current OS.
//
// Unix: ~/.local/lib/memflow and ~/.config/memflowup
// Windows: %USERPROFILE%\Documents\memflow and %ProgramData%\memflow
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, err
	}
	if runtime.GOOS == "windows" {
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		docs := filepath.Join(home, "Documents")
		return Paths{
			PluginsDir:       filepath.Join(docs, "memflow"),
			SystemPluginsDir: filepath.Join(programData, "memflow"),
			ConfigDir:        filepath.Join(docs, "memflowup"),
			SystemConfigDir:  filepath.Join(programData, "memflowup"),
			TempRoot:         os.TempDir(),
			goos:             runtime.GOOS,
		}, nil
	}
	return Paths{
		PluginsDir:       filepath.Join(home, ".local", "lib", "memflow"),
		SystemPluginsDir: filepath.Join("/", "usr", "local", "lib", "memflow"),
		ConfigDir:        filepath.Join(home, ".config", "memflowup"),
		SystemConfigDir:  filepath.Join("/", "etc", "memflowup"),
		TempRoot:         os.TempDir(),
		goos:             runtime.GOOS,
	}, nil
}

// InstallDir returns the plugin directory for the given scope.
func (p Paths) InstallDir(systemWide bool) string {
	if systemWide {
		return p.SystemPluginsDir
	}
	return p.PluginsDir
}

// DatabaseDir returns the directory holding installation databases for the
// given scope.
func (p Paths) DatabaseDir(systemWide bool) string {
	if systemWide {
		return p.SystemConfigDir
	}
	return p.ConfigDir
}

// PluginExtension returns the dynamic library extension for the current OS,
// without the leading dot.
func (p Paths) PluginExtension() string {
	switch p.osName() {
	case "windows":
		return "dll"
	case "darwin":
		return "dylib"
	default:
		return "so"
	}
}

// LibraryPrefix returns the conventional shared library prefix ("lib" on
// unix, empty on Windows).
func (p Paths) LibraryPrefix() string {
	if p.osName() == "windows" {
		return ""
	}
	return "lib"
}

func (p Paths) osName() string {
	if p.goos != "" {
		return p.goos
	}
	return runtime.GOOS
}
