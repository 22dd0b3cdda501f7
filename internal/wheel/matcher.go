package wheel

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pablogsal/unrepair/internal/elf"
)

// Pair is one (extension, needed_name, bundled_file) triple discovered by
// MatchPairs, per spec.md §4.5.
type Pair struct {
	ExtensionPath string // archive-relative
	NeededName    string
	BundledPath   string // archive-relative
}

// extensionPattern matches a compiled extension's basename: a name, an
// optional interpreter/platform tag, then `.so`. e.g. `_speedups.cpython-311-x86_64-linux-gnu.so`.
var extensionPattern = regexp.MustCompile(`^[\w.]+\.(?:[a-z0-9_]+-[a-z0-9_.-]+\.)?so$`)

// bundledPattern matches the generic `lib*.so*` shared-library naming
// convention repair tools use for vendored libraries.
var bundledPattern = regexp.MustCompile(`^lib[\w.+-]+\.so(?:\.\d+)*$`)

func isExtension(basename string) bool {
	return extensionPattern.MatchString(basename) && strings.Contains(basename, ".")
}

func isBundledLibrary(basename string) bool {
	return bundledPattern.MatchString(basename)
}

// MatchPairs discovers every (extension, bundled) pairing in tree: for
// each extension found anywhere in the archive, its DT_NEEDED list is
// checked against every bundled library's basename or SONAME.
func MatchPairs(tree *Tree) ([]Pair, error) {
	var extensions, bundled []Entry
	for _, e := range tree.Entries {
		base := filepath.Base(e.ArchivePath)
		switch {
		case isExtension(base):
			extensions = append(extensions, e)
		case isBundledLibrary(base):
			bundled = append(bundled, e)
		}
	}

	index, err := indexByBasenameAndSONAME(bundled)
	if err != nil {
		return nil, err
	}

	var pairs []Pair
	for _, ext := range extensions {
		raw, err := os.ReadFile(ext.DiskPath)
		if err != nil {
			return nil, fmt.Errorf("read extension %s: %w", ext.ArchivePath, err)
		}
		img, err := elf.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse extension %s: %w", ext.ArchivePath, err)
		}
		view, err := elf.BuildSymbolView(img)
		if err != nil {
			return nil, fmt.Errorf("project extension %s: %w", ext.ArchivePath, err)
		}
		for _, needed := range view.Needed {
			entry, ok := index[needed]
			if !ok {
				continue
			}
			pairs = append(pairs, Pair{
				ExtensionPath: ext.ArchivePath,
				NeededName:    needed,
				BundledPath:   entry.ArchivePath,
			})
		}
	}
	return pairs, nil
}

// indexByBasenameAndSONAME keys every bundled library by both its on-disk
// basename and its own SONAME (when present), so a DT_NEEDED match can hit
// either.
func indexByBasenameAndSONAME(bundled []Entry) (map[string]Entry, error) {
	index := make(map[string]Entry, len(bundled)*2)
	for _, e := range bundled {
		index[filepath.Base(e.ArchivePath)] = e

		raw, err := os.ReadFile(e.DiskPath)
		if err != nil {
			return nil, fmt.Errorf("read bundled library %s: %w", e.ArchivePath, err)
		}
		img, err := elf.Parse(raw)
		if err != nil {
			continue // not a parseable ELF; basename indexing still applies
		}
		view, err := elf.BuildSymbolView(img)
		if err != nil {
			continue
		}
		if view.HasSONAME {
			if _, exists := index[view.SONAME]; !exists {
				index[view.SONAME] = e
			}
		}
	}
	return index, nil
}
