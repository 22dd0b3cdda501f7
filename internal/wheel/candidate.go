package wheel

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pablogsal/unrepair/internal/elf"
)

// Candidate is a system-provided shared library resolved for one needed
// name, along with the replacement string the caller should patch in.
type Candidate struct {
	Path string
	SONAME string
	HasSONAME bool
}

// ReplacementName returns what should be written into the patched
// DT_NEEDED entry, per the caller's chosen source (spec.md §4.4
// "Path-vs-SONAME").
func (c Candidate) ReplacementName(source ReplacementSource) string {
	if source == ReplaceWithSONAME && c.HasSONAME {
		return c.SONAME
	}
	return c.Path
}

// ReplacementSource selects what string a resolved Candidate is patched in
// as.
type ReplacementSource int

const (
	ReplaceWithSONAME ReplacementSource = iota
	ReplaceWithSystemPath
)

// CandidateOptions lists the explicit files and directories a caller
// supplied as potential system libraries, in the order given on the
// command line: explicit files take priority over scanned directories,
// and within each, user order is preserved (spec.md §4.5).
type CandidateOptions struct {
	Files       []string
	Directories []string
}

// ResolveSystemCandidate builds an index of every file in opts.Files and
// every ELF found by recursively scanning opts.Directories, keyed by
// basename and by SONAME, then returns the first match for needed
// (SONAME match preferred over basename match).
func ResolveSystemCandidate(needed string, opts CandidateOptions) (*Candidate, error) {
	ordered, err := gatherCandidatePaths(opts)
	if err != nil {
		return nil, err
	}

	var byBasename *Candidate
	for _, path := range ordered {
		c, err := buildCandidate(path)
		if err != nil {
			continue // unreadable/non-ELF candidate files are silently skipped
		}
		if c.HasSONAME && c.SONAME == needed {
			return c, nil
		}
		if byBasename == nil && filepath.Base(path) == needed {
			byBasename = c
		}
	}
	if byBasename != nil {
		return byBasename, nil
	}
	return nil, fmt.Errorf("no system candidate found for %s", needed)
}

func buildCandidate(path string) (*Candidate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := elf.Parse(raw)
	if err != nil {
		return nil, err
	}
	view, err := elf.BuildSymbolView(img)
	if err != nil {
		return nil, err
	}
	return &Candidate{Path: path, SONAME: view.SONAME, HasSONAME: view.HasSONAME}, nil
}

// gatherCandidatePaths flattens explicit files and scanned directories
// into one ordered list, files first, each directory walked in
// lexicographic order.
func gatherCandidatePaths(opts CandidateOptions) ([]string, error) {
	ordered := append([]string{}, opts.Files...)
	for _, dir := range opts.Directories {
		var found []string
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			found = append(found, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		ordered = append(ordered, found...)
	}
	return ordered, nil
}
