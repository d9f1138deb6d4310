package upload

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{name: "plain", input: "photo.png", ok: true},
		{name: "spaces and percent", input: "1 - NLW %2525252305 - 1920x1080.png", ok: true},
		{name: "empty", input: "", ok: false},
		{name: "dot", input: ".", ok: false},
		{name: "dot dot", input: "..", ok: false},
		{name: "traversal", input: "../etc/passwd", ok: false},
		{name: "nested", input: "dir/file.txt", ok: false},
		{name: "windows separator", input: `dir\file.txt`, ok: false},
		{name: "nul byte", input: "a\x00b", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFilename(tt.input)
			if tt.ok && err != nil {
				t.Errorf("CheckFilename(%q) = %v; want nil", tt.input, err)
			}
			if !tt.ok && !errors.Is(err, ErrUnsafeFilename) {
				t.Errorf("CheckFilename(%q) = %v; want ErrUnsafeFilename", tt.input, err)
			}
		})
	}
}

func TestCreateDestinationPolicies(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(existing, []byte("old content"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	f, path, err := createDestination(dir, "a.txt", CollisionRename)
	if err != nil {
		t.Fatalf("rename policy: %v", err)
	}
	f.Close()
	if path != filepath.Join(dir, "a (1).txt") {
		t.Fatalf("unexpected renamed path %s", path)
	}

	f, path, err = createDestination(dir, "a.txt", CollisionOverwrite)
	if err != nil {
		t.Fatalf("overwrite policy: %v", err)
	}
	f.Close()
	if path != existing {
		t.Fatalf("unexpected overwrite path %s", path)
	}
	data, err := os.ReadFile(existing)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("overwrite did not truncate: %q", data)
	}
}
