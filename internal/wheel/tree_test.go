package wheel

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func buildTestWheel(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	write := func(name string, mode os.FileMode, content string) {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("CreateHeader(%s): %s", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %s", name, err)
		}
	}
	write("pkg/_speedups.cpython-311-x86_64-linux-gnu.so", 0o755, "fake-elf-bytes")
	write("pkg/.libs/libfoo.so.1", 0o755, "fake-bundled-bytes")
	write("pkg-1.0.dist-info/RECORD", 0o644,
		"pkg/_speedups.cpython-311-x86_64-linux-gnu.so,sha256=aaaa,14\n"+
			"pkg/.libs/libfoo.so.1,sha256=bbbb,18\n"+
			"pkg-1.0.dist-info/RECORD,,\n")
	if err := zw.Close(); err != nil {
		t.Fatalf("close writer: %s", err)
	}

	path := filepath.Join(t.TempDir(), "pkg-1.0-cp311-cp311-linux_x86_64.whl")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wheel: %s", err)
	}
	return path
}

func TestUnpackPreservesModeAndPaths(t *testing.T) {
	wheelPath := buildTestWheel(t)
	tree, err := Unpack(wheelPath, t.TempDir())
	if err != nil {
		t.Fatalf("Unpack: %s", err)
	}
	defer tree.Close()

	if len(tree.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(tree.Entries))
	}
	found := false
	for _, e := range tree.Entries {
		if e.ArchivePath != "pkg/.libs/libfoo.so.1" {
			continue
		}
		found = true
		info, err := os.Stat(e.DiskPath)
		if err != nil {
			t.Fatalf("stat %s: %s", e.DiskPath, err)
		}
		if info.Mode().Perm()&0o100 == 0 {
			t.Fatalf("expected executable bit preserved, got mode %s", info.Mode())
		}
	}
	if !found {
		t.Fatalf("expected bundled library entry in tree")
	}
}

func TestRemoveThenRepackOmitsEntry(t *testing.T) {
	wheelPath := buildTestWheel(t)
	tree, err := Unpack(wheelPath, t.TempDir())
	if err != nil {
		t.Fatalf("Unpack: %s", err)
	}
	defer tree.Close()

	if err := tree.Remove("pkg/.libs/libfoo.so.1"); err != nil {
		t.Fatalf("Remove: %s", err)
	}

	outPath := filepath.Join(t.TempDir(), "out.whl")
	if err := Repack(tree, outPath); err != nil {
		t.Fatalf("Repack: %s", err)
	}

	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("open repacked wheel: %s", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name == "pkg/.libs/libfoo.so.1" {
			t.Fatalf("expected libfoo.so.1 to be absent from repacked wheel")
		}
	}
}

func TestRepackPreservesExecutableBit(t *testing.T) {
	wheelPath := buildTestWheel(t)
	tree, err := Unpack(wheelPath, t.TempDir())
	if err != nil {
		t.Fatalf("Unpack: %s", err)
	}
	defer tree.Close()

	outPath := filepath.Join(t.TempDir(), "out.whl")
	if err := Repack(tree, outPath); err != nil {
		t.Fatalf("Repack: %s", err)
	}

	zr, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("open repacked wheel: %s", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "pkg/.libs/libfoo.so.1" {
			continue
		}
		mode := f.Mode()
		if mode.Perm()&0o100 == 0 {
			t.Fatalf("expected executable bit preserved in repacked archive, got mode %s", mode)
		}
		if mode&os.ModeType != 0 {
			t.Fatalf("expected type bits stripped from repacked mode, got %s", mode)
		}
		return
	}
	t.Fatalf("expected bundled library entry in repacked archive")
}

func TestRepackIsAtomicOnFailure(t *testing.T) {
	wheelPath := buildTestWheel(t)
	tree, err := Unpack(wheelPath, t.TempDir())
	if err != nil {
		t.Fatalf("Unpack: %s", err)
	}
	defer tree.Close()

	// A non-existent output directory makes creating the temporary file
	// fail; no partial file should be left at outPath.
	outPath := filepath.Join(t.TempDir(), "missing-dir", "out.whl")
	if err := Repack(tree, outPath); err == nil {
		t.Fatalf("expected Repack to fail for a non-existent output directory")
	}
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Fatalf("expected no file at outPath after failed Repack, stat err = %v", err)
	}
}
