package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	cases := []struct{ in, want string }{
		{"/tmp", "/tmp"},
		{"", ""},
		{"~", home},
		{"~/test-sub", filepath.Join(home, "test-sub")},
		{"~other/x", "~other/x"},
	}
	for _, c := range cases {
		got, err := ExpandHome(c.in)
		if err != nil || got != c.want {
			t.Fatalf("ExpandHome(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
	}
}

func TestPathExistsAndIsDir(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "f")
	if err := os.WriteFile(f, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !PathExists(dir) || !PathExists(f) || PathExists(filepath.Join(dir, "missing")) {
		t.Fatalf("PathExists mismatch")
	}
	if !IsDir(dir) || IsDir(f) || IsDir(filepath.Join(dir, "missing")) {
		t.Fatalf("IsDir mismatch")
	}
}
