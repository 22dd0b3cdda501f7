package wheel

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// recordRow is one line of a wheel's `*.dist-info/RECORD` file: an
// archive-relative path, a `sha256=` digest (base64url, no padding), and a
// size in bytes. RECORD itself and files with no digest (signatures) carry
// empty digest/size.
type recordRow struct {
	Path   string
	Digest string
	Size   string
}

// findRecordPath locates the single `*.dist-info/RECORD` member of a tree.
func findRecordPath(tree *Tree) (string, error) {
	for _, e := range tree.Entries {
		if strings.HasSuffix(e.ArchivePath, ".dist-info/RECORD") {
			return e.ArchivePath, nil
		}
	}
	return "", fmt.Errorf("no *.dist-info/RECORD member found")
}

func readRecord(tree *Tree, recordPath string) ([]recordRow, error) {
	f, err := os.Open(filepath.Join(tree.Dir, filepath.FromSlash(recordPath)))
	if err != nil {
		return nil, fmt.Errorf("open RECORD: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse RECORD: %w", err)
	}
	out := make([]recordRow, 0, len(rows))
	for _, row := range rows {
		rr := recordRow{Path: row[0]}
		if len(row) > 1 {
			rr.Digest = row[1]
		}
		if len(row) > 2 {
			rr.Size = row[2]
		}
		out = append(out, rr)
	}
	return out, nil
}

func writeRecord(tree *Tree, recordPath string, rows []recordRow) error {
	diskPath := filepath.Join(tree.Dir, filepath.FromSlash(recordPath))
	f, err := os.Create(diskPath)
	if err != nil {
		return fmt.Errorf("create RECORD: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, row := range rows {
		if err := w.Write([]string{row.Path, row.Digest, row.Size}); err != nil {
			return fmt.Errorf("write RECORD row for %s: %w", row.Path, err)
		}
	}
	w.Flush()
	return w.Error()
}

func digestFile(diskPath string) (string, int64, error) {
	data, err := os.ReadFile(diskPath)
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", diskPath, err)
	}
	sum := sha256.Sum256(data)
	digest := "sha256=" + base64.RawURLEncoding.EncodeToString(sum[:])
	return digest, int64(len(data)), nil
}

// UpdateRecord rewrites the tree's RECORD so that every entry in
// changedPaths carries a fresh digest/size (reflecting a patch), and every
// entry in removedPaths is dropped entirely (reflecting a deletion). Rows
// for unrelated files pass through unchanged. A no-op if the tree has no
// RECORD file, since not every wheel carries one worth enforcing.
func UpdateRecord(tree *Tree, changedPaths, removedPaths []string) error {
	recordPath, err := findRecordPath(tree)
	if err != nil {
		return nil
	}
	rows, err := readRecord(tree, recordPath)
	if err != nil {
		return err
	}

	removed := make(map[string]bool, len(removedPaths))
	for _, p := range removedPaths {
		removed[p] = true
	}
	changed := make(map[string]bool, len(changedPaths))
	for _, p := range changedPaths {
		changed[p] = true
	}

	out := make([]recordRow, 0, len(rows))
	for _, row := range rows {
		if removed[row.Path] {
			continue
		}
		if changed[row.Path] {
			digest, size, err := digestFile(filepath.Join(tree.Dir, filepath.FromSlash(row.Path)))
			if err != nil {
				return err
			}
			row.Digest = digest
			row.Size = strconv.FormatInt(size, 10)
		}
		out = append(out, row)
	}
	return writeRecord(tree, recordPath, out)
}
