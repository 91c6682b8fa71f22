package registry

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// FileType is the binary container format of a plugin variant.
type FileType string

const (
	FileTypePE   FileType = "pe"
	FileTypeELF  FileType = "elf"
	FileTypeMach FileType = "mach"
)

// Architecture is the CPU architecture a variant was built for.
type Architecture string

const (
	ArchX86    Architecture = "x86"
	ArchX86_64 Architecture = "x86_64"
	ArchArm    Architecture = "arm"
	ArchArm64  Architecture = "arm64"
)

// CurrentFileType maps the running OS onto its plugin container format.
func CurrentFileType() FileType {
	switch runtime.GOOS {
	case "windows":
		return FileTypePE
	case "darwin":
		return FileTypeMach
	default:
		return FileTypeELF
	}
}

// CurrentArchitecture maps GOARCH onto the registry's architecture names.
func CurrentArchitecture() Architecture {
	switch runtime.GOARCH {
	case "amd64":
		return ArchX86_64
	case "386":
		return ArchX86
	case "arm":
		return ArchArm
	default:
		return Architecture(runtime.GOARCH)
	}
}

// PluginVersion is the plugin ABI version this build of memflowup targets.
// Variants with other ABI versions are filtered out server-side.
const PluginVersion = 1

// Descriptor describes one build of a plugin.
type Descriptor struct {
	FileType      FileType     `json:"file_type"`
	Architecture  Architecture `json:"architecture"`
	PluginVersion int          `json:"plugin_version"`
	Name          string       `json:"name"`
	Version       string       `json:"version"`
	Description   string       `json:"description"`
}

// Variant is one architecture/format-specific build of a registry plugin.
// Its identity is the content digest; multiple variants may share a
// name+version.
type Variant struct {
	Digest     string     `json:"digest"`
	Signature  string     `json:"signature"`
	CreatedAt  Timestamp  `json:"created_at"`
	Descriptor Descriptor `json:"descriptor"`
}

// Timestamp (de)serializes the registry's naive UTC timestamps while
// accepting RFC3339 as well.
type Timestamp struct {
	time.Time
}

const naiveLayout = "2006-01-02T15:04:05.999999999"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(naiveLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if parsed, err := time.Parse(naiveLayout, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
