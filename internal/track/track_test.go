package track

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeAppName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Safari.app", want: "Safari"},
		{in: "/Applications/Notes.app", want: "Notes"},
		{in: "/usr/bin/vim", want: "vim"},
		{in: "  firefox  ", want: "firefox"},
		{in: "code", want: "code"},
		{in: "", want: ""},
	}
	for _, tc := range tests {
		if got := NormalizeAppName(tc.in); got != tc.want {
			t.Errorf("NormalizeAppName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDesktopEntryName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "editor.desktop")
	content := "[Desktop Entry]\nType=Application\nName=Text Editor\nExec=gedit %U\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	name, err := desktopEntryName(path)
	if err != nil {
		t.Fatalf("desktopEntryName: %v", err)
	}
	if name != "Text Editor" {
		t.Fatalf("name = %q, want %q", name, "Text Editor")
	}
}

func TestDesktopEntryNameMissingField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd.desktop")
	if err := os.WriteFile(path, []byte("[Desktop Entry]\nType=Application\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	name, err := desktopEntryName(path)
	if err != nil {
		t.Fatalf("desktopEntryName: %v", err)
	}
	if name != "" {
		t.Fatalf("name = %q, want empty", name)
	}
}
