// Package wheel unpacks, indexes, patches, and repackages Python wheel
// archives, pairing bundled shared libraries with compatible system
// replacements.
package wheel

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

// Entry is one file extracted from the archive onto disk.
type Entry struct {
	ArchivePath string // forward-slash path as recorded in the zip
	DiskPath    string // absolute path under Tree.Dir
	Mode        os.FileMode

	// RawMode is the POSIX mode_t this entry's zip header carried in the
	// high 16 bits of ExternalAttrs, type bits (S_IFREG/S_IFLNK/...)
	// included. Zero if the archive carried no Unix mode for this entry.
	RawMode uint32
}

// Tree is a wheel's contents unpacked onto disk, in archive order.
type Tree struct {
	Dir     string
	Entries []Entry
}

// Unpack extracts every member of the wheel at wheelPath into a fresh
// directory under workdir, preserving each entry's POSIX mode bits from
// the zip header's external attributes.
func Unpack(wheelPath, workdir string) (*Tree, error) {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("open wheel %s: %w", wheelPath, err)
	}
	defer zr.Close()

	dir, err := os.MkdirTemp(workdir, "unrepair-*")
	if err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	tree := &Tree{Dir: dir}
	for _, f := range zr.File {
		if err := extractOne(dir, f, tree); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
	}
	return tree, nil
}

func extractOne(dir string, f *zip.File, tree *Tree) error {
	diskPath := filepath.Join(dir, filepath.FromSlash(f.Name))
	if f.FileInfo().IsDir() {
		return os.MkdirAll(diskPath, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(diskPath), 0o755); err != nil {
		return fmt.Errorf("create parent for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	mode := posixMode(f)
	out, err := os.OpenFile(diskPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", diskPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("write %s: %w", diskPath, err)
	}

	tree.Entries = append(tree.Entries, Entry{
		ArchivePath: f.Name,
		DiskPath:    diskPath,
		Mode:        mode,
		RawMode:     f.ExternalAttrs >> 16,
	})
	return nil
}

// posixMode recovers the POSIX permission bits a zip entry carries in the
// high 16 bits of ExternalAttrs, falling back to a sane default for
// archives written without them (e.g. by tools that only set DOS bits).
func posixMode(f *zip.File) os.FileMode {
	raw := f.ExternalAttrs >> 16
	if raw == 0 {
		return 0o644
	}
	return os.FileMode(raw) & os.ModePerm
}

// Repack writes the tree's current on-disk contents to a new wheel at
// outputPath, atomically: the archive is built at a temporary path in the
// same directory and renamed into place only once fully written, so a
// failure never leaves a partial or truncated wheel where outputPath used
// to be.
func Repack(tree *Tree, outputPath string) error {
	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, ".unrepair-wheel-*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary output: %w", err)
	}
	tmpPath := tmp.Name()
	succeeded := false
	defer func() {
		tmp.Close()
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	if err := writeArchive(tmp, tree); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("finalize temporary output: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	succeeded = true
	return nil
}

func writeArchive(w io.Writer, tree *Tree) error {
	zw := zip.NewWriter(w)

	paths := currentArchivePaths(tree)
	sort.Strings(paths)

	for _, archivePath := range paths {
		entry := tree.byArchivePath(archivePath)
		if entry == nil {
			continue
		}
		if err := addEntry(zw, *entry); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addEntry(zw *zip.Writer, entry Entry) error {
	info, err := os.Stat(entry.DiskPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", entry.DiskPath, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("build header for %s: %w", entry.ArchivePath, err)
	}
	hdr.Name = entry.ArchivePath
	hdr.Method = zip.Deflate
	hdr.SetMode(entryPermissions(entry, info))

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", entry.ArchivePath, err)
	}
	in, err := os.Open(entry.DiskPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.DiskPath, err)
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}

// entryPermissions recovers the permission bits to write into a repacked
// zip header: entry.RawMode is the original archive's raw mode_t, still
// carrying its S_IFMT file-type nibble (e.g. S_IFREG), which must be
// masked off before the bits mean anything as an os.FileMode. Falls back
// to the on-disk file's own permission bits if the entry carried no Unix
// mode originally.
func entryPermissions(entry Entry, info os.FileInfo) os.FileMode {
	if entry.RawMode == 0 {
		return info.Mode().Perm()
	}
	return os.FileMode(entry.RawMode &^ uint32(unix.S_IFMT)) & os.ModePerm
}

// currentArchivePaths lists the tree's live archive-relative paths,
// reflecting any Remove calls made since Unpack.
func currentArchivePaths(tree *Tree) []string {
	paths := make([]string, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		paths = append(paths, e.ArchivePath)
	}
	return paths
}

func (t *Tree) byArchivePath(archivePath string) *Entry {
	for i := range t.Entries {
		if t.Entries[i].ArchivePath == archivePath {
			return &t.Entries[i]
		}
	}
	return nil
}

// EntryByArchivePath returns the entry recorded under archivePath, or nil
// if the tree has none (e.g. it was already Remove'd).
func (t *Tree) EntryByArchivePath(archivePath string) *Entry {
	return t.byArchivePath(archivePath)
}

// Remove deletes archivePath from both disk and the tree's manifest, so a
// subsequent Repack omits it. Used for bundled libraries that a successful
// patch has made redundant.
func (t *Tree) Remove(archivePath string) error {
	for i, e := range t.Entries {
		if e.ArchivePath != archivePath {
			continue
		}
		if err := os.Remove(e.DiskPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", e.DiskPath, err)
		}
		t.Entries = append(t.Entries[:i], t.Entries[i+1:]...)
		return nil
	}
	return fmt.Errorf("remove %s: not found in tree", archivePath)
}

// Close removes the tree's working directory.
func (t *Tree) Close() error {
	return os.RemoveAll(t.Dir)
}
