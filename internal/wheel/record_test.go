package wheel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func buildTestTree(t *testing.T) *Tree {
	t.Helper()
	dir := t.TempDir()
	mustWrite := func(rel, content string) string {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %s", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %s", err)
		}
		return full
	}
	ext := mustWrite("pkg/ext.so", "patched-extension-bytes")
	lib := mustWrite("pkg/.libs/libfoo.so.1", "bundled-bytes")
	record := mustWrite("pkg-1.0.dist-info/RECORD",
		"pkg/ext.so,sha256=stale,23\n"+
			"pkg/.libs/libfoo.so.1,sha256=stale,13\n"+
			"pkg-1.0.dist-info/RECORD,,\n")
	return &Tree{
		Dir: dir,
		Entries: []Entry{
			{ArchivePath: "pkg/ext.so", DiskPath: ext},
			{ArchivePath: "pkg/.libs/libfoo.so.1", DiskPath: lib},
			{ArchivePath: "pkg-1.0.dist-info/RECORD", DiskPath: record},
		},
	}
}

func TestUpdateRecordRewritesChangedAndDropsRemoved(t *testing.T) {
	tree := buildTestTree(t)

	if err := UpdateRecord(tree, []string{"pkg/ext.so"}, []string{"pkg/.libs/libfoo.so.1"}); err != nil {
		t.Fatalf("UpdateRecord: %s", err)
	}

	data, err := os.ReadFile(filepath.Join(tree.Dir, "pkg-1.0.dist-info/RECORD"))
	if err != nil {
		t.Fatalf("read RECORD: %s", err)
	}
	text := string(data)
	if strings.Contains(text, "libfoo.so.1") {
		t.Fatalf("expected removed entry to be dropped from RECORD, got:\n%s", text)
	}
	if strings.Contains(text, "sha256=stale,23") {
		t.Fatalf("expected ext.so's digest/size to be refreshed, got:\n%s", text)
	}
	if !strings.Contains(text, "sha256=") {
		t.Fatalf("expected a real digest for ext.so, got:\n%s", text)
	}
}

func TestUpdateRecordNoopWithoutRecordFile(t *testing.T) {
	dir := t.TempDir()
	tree := &Tree{Dir: dir}
	if err := UpdateRecord(tree, nil, nil); err != nil {
		t.Fatalf("expected no error when RECORD is absent, got %s", err)
	}
}
