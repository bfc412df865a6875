package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		expectErr bool
	}{
		{name: "empty", input: "", expectErr: true},
		{name: "blank", input: "   ", expectErr: true},
		{name: "relative", input: "config/watches"},
		{name: "absolute", input: "/tmp/watches"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.input)
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !filepath.IsAbs(got) {
				t.Fatalf("expected absolute path, got %q", got)
			}
		})
	}
}

func TestExistenceChecks(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "target.txt")
	if err := os.WriteFile(file, []byte("ok"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !Exists(root) || !Exists(file) {
		t.Fatalf("expected existing paths to be reported")
	}
	if Exists(filepath.Join(root, "missing")) {
		t.Fatalf("expected missing path to be reported absent")
	}
	if !IsDirectory(root) || IsDirectory(file) {
		t.Fatalf("directory check misclassified")
	}
	if !IsRegularFile(file) || IsRegularFile(root) {
		t.Fatalf("regular file check misclassified")
	}
}

func TestParent(t *testing.T) {
	if got := Parent("/var/log/app.log"); got != "/var/log" {
		t.Fatalf("expected /var/log, got %q", got)
	}
	if got := Parent("/var/log/"); got != "/var" {
		t.Fatalf("expected /var, got %q", got)
	}
}
