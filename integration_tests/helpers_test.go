package integration_tests

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	absPath := filepath.Join(getTestdataDir(t), filepath.Base(path))
	data, err := os.ReadFile(absPath)
	if err != nil {
		t.Fatalf("failed to read test file %s: %v", path, err)
	}
	return string(data)
}

func getTestdataDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "testdata")
}

func testdataPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(getTestdataDir(t), name)
}

// writeZip stores content as member inside a new archive at path.
func writeZip(t *testing.T, path, member, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create(member)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}
