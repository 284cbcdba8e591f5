package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultPrefix is the stem every artifact name starts with
	DefaultPrefix = "omnicrm_backup"

	timestampLayout = "20060102_150405"

	extGzip      = ".gz"
	extLZ4       = ".lz4"
	extZstd      = ".zst"
	extEncrypted = ".enc"
	extTemp      = ".partial"
)

// ArtifactName is an artifact filename split into its parts.
// omnicrm_backup_20240131_020000_1.db.gz.enc has Stem
// "omnicrm_backup_20240131_020000_1", BaseExt ".db" and Transforms
// [".gz", ".enc"] in the order they were applied.
type ArtifactName struct {
	Stem       string
	BaseExt    string
	Transforms []string
}

// String reassembles the filename
func (a ArtifactName) String() string {
	return a.Stem + a.BaseExt + strings.Join(a.Transforms, "")
}

// IsEncrypted reports whether the last transform applied was encryption
func (a ArtifactName) IsEncrypted() bool {
	for _, t := range a.Transforms {
		if t == extEncrypted {
			return true
		}
	}
	return false
}

// Compression returns the compression codec recorded in the name
func (a ArtifactName) Compression() CompressionType {
	for _, t := range a.Transforms {
		if ct, ok := compressionForExtension(t); ok {
			return ct
		}
	}
	return CompressionTypeNone
}

// ParseArtifactName peels transform suffixes off the right of name until a
// non-transform extension is reached.
func ParseArtifactName(name string) (ArtifactName, error) {
	base := filepath.Base(name)
	var transforms []string

	for {
		ext := filepath.Ext(base)
		if ext != extEncrypted {
			if _, ok := compressionForExtension(ext); !ok {
				break
			}
		}
		transforms = append([]string{ext}, transforms...)
		base = strings.TrimSuffix(base, ext)
	}

	baseExt := filepath.Ext(base)
	stem := strings.TrimSuffix(base, baseExt)
	if stem == "" || baseExt == "" {
		return ArtifactName{}, NewValidationError(fmt.Sprintf("artifact name %q has no base extension", name), nil)
	}

	// Encryption is always the outermost layer and compression never follows it
	for i, t := range transforms {
		if t == extEncrypted && i != len(transforms)-1 {
			return ArtifactName{}, NewValidationError(fmt.Sprintf("artifact name %q applies a transform after encryption", name), nil)
		}
	}

	return ArtifactName{Stem: stem, BaseExt: baseExt, Transforms: transforms}, nil
}

// Namer hands out artifact stems that never collide, even when two runs start
// within the same wall-clock second.
type Namer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewNamer creates a namer for artifacts under dir
func NewNamer(dir, prefix string) *Namer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Namer{
		dir:      dir,
		prefix:   prefix,
		now:      time.Now,
		reserved: make(map[string]struct{}),
	}
}

// Prefix returns the stem prefix shared by every artifact
func (n *Namer) Prefix() string {
	return n.prefix
}

// Reserve returns a fresh stem for a run started at the current time. The
// stem stays reserved until Release is called so concurrent runs in the same
// process cannot pick it before the first artifact reaches the disk.
func (n *Namer) Reserve() (string, time.Time, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now().UTC()
	base := fmt.Sprintf("%s_%s", n.prefix, now.Format(timestampLayout))

	for i := 0; i < 10000; i++ {
		stem := base
		if i > 0 {
			stem = fmt.Sprintf("%s_%d", base, i)
		}
		if _, taken := n.reserved[stem]; taken {
			continue
		}
		inUse, err := n.stemOnDisk(stem)
		if err != nil {
			return "", time.Time{}, err
		}
		if inUse {
			continue
		}
		n.reserved[stem] = struct{}{}
		return stem, now, nil
	}

	return "", time.Time{}, NewValidationError(fmt.Sprintf("no free artifact name for %s", base), nil)
}

// Release frees a stem handed out by Reserve
func (n *Namer) Release(stem string) {
	n.mu.Lock()
	delete(n.reserved, stem)
	n.mu.Unlock()
}

func (n *Namer) stemOnDisk(stem string) (bool, error) {
	matches, err := filepath.Glob(filepath.Join(n.dir, globEscape(stem)+".*"))
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// IsArtifact reports whether name looks like a finished artifact of prefix
func IsArtifact(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix+"_") {
		return false
	}
	if strings.HasSuffix(name, extTemp) || strings.HasPrefix(name, ".") {
		return false
	}
	_, err := ParseArtifactName(name)
	return err == nil
}

func compressionForExtension(ext string) (CompressionType, bool) {
	switch ext {
	case extGzip:
		return CompressionTypeGzip, true
	case extLZ4:
		return CompressionTypeLZ4, true
	case extZstd:
		return CompressionTypeZstd, true
	default:
		return CompressionTypeNone, false
	}
}

func globEscape(s string) string {
	replacer := strings.NewReplacer("*", `\*`, "?", `\?`, "[", `\[`)
	return replacer.Replace(s)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
