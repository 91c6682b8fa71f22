package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/memflow/memflowup/internal/merr"
	"github.com/memflow/memflowup/internal/pkgindex"
	"github.com/memflow/memflowup/internal/platform"
)

// EntryKind tags how a package was installed.
type EntryKind string

const (
	// KindGitSource payload is the resolved git commit sha.
	KindGitSource EntryKind = "GitSource"
	// KindBinary payload is the binary release tag.
	KindBinary EntryKind = "Binary"
	// KindLocalPath payload is the absolute path of the local source tree.
	KindLocalPath EntryKind = "LocalPath"
)

// EntryType is a closed sum over the three install origins. It is a plain
// comparable struct on purpose: two entries are equal iff their kind and
// payload match, and that structural equality is the idempotency test.
type EntryType struct {
	Kind    EntryKind
	Payload string
}

// GitSource tags an install from a git commit.
func GitSource(sha string) EntryType { return EntryType{Kind: KindGitSource, Payload: sha} }

// BinaryRelease tags an install from a binary release tag.
func BinaryRelease(tag string) EntryType { return EntryType{Kind: KindBinary, Payload: tag} }

// LocalPath tags an install from a local source tree.
func LocalPath(path string) EntryType { return EntryType{Kind: KindLocalPath, Payload: path} }

func (e EntryType) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.Payload)
}

// MarshalJSON encodes the entry as a single-key tagged union, e.g.
// {"GitSource": "abc123"}.
func (e EntryType) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{string(e.Kind): e.Payload})
}

// UnmarshalJSON decodes the single-key tagged union form.
func (e *EntryType) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("entry type must have exactly one variant, got %d", len(m))
	}
	for k, v := range m {
		switch EntryKind(k) {
		case KindGitSource, KindBinary, KindLocalPath:
			e.Kind = EntryKind(k)
			e.Payload = v
		default:
			return fmt.Errorf("unknown entry type variant %q", k)
		}
	}
	return nil
}

// Record is the persisted state of one installed package.
type Record struct {
	Ty        EntryType `json:"ty"`
	Artifacts []string  `json:"artifacts"`
}

// fileName returns the database document name for a channel. One document
// exists per (channel, scope) pair.
func fileName(ch pkgindex.Channel) string {
	return fmt.Sprintf("installs.%s.json", ch.Filename())
}

// Path returns the location of the database document.
func Path(paths platform.Paths, ch pkgindex.Channel, systemWide bool) string {
	return filepath.Join(paths.DatabaseDir(systemWide), fileName(ch))
}

// Load reads the database document for (channel, scope). A missing document
// yields an empty map, never an error.
func Load(paths platform.Paths, ch pkgindex.Channel, systemWide bool) (map[string]Record, error) {
	data, err := os.ReadFile(Path(paths, ch, systemWide))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Record{}, nil
		}
		return nil, merr.Wrap(merr.ErrIO, err)
	}
	records := map[string]Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, merr.Wrap(merr.ErrParse, err)
	}
	return records, nil
}

// Commit inserts or overwrites the record for name in the (channel, scope)
// document. The write is read-modify-write and goes through the privileged
// writer so system-wide documents can escalate once on permission denial.
func Commit(paths platform.Paths, pw platform.PrivilegedWriter, name string, rec Record, ch pkgindex.Channel, systemWide bool) error {
	records, err := Load(paths, ch, systemWide)
	if err != nil {
		return err
	}
	records[name] = rec

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return merr.Wrap(merr.ErrParse, err)
	}

	path := Path(paths, ch, systemWide)
	if err := pw.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return pw.WriteFile(path, data, 0644)
}
