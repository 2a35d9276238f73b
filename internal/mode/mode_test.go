package mode

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestCleanName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Deep Work", want: "deep_work"},
		{in: "productivity", want: "productivity"},
		{in: "Art & Music!", want: "art_music"},
		{in: "  spaced  out  ", want: "spaced_out"},
		{in: "multi-word-name", want: "multi_word_name"},
	}
	for _, tc := range tests {
		if got := CleanName(tc.in); got != tc.want {
			t.Errorf("CleanName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLibraryRoundTrip(t *testing.T) {
	lib := NewLibrary(t.TempDir(), nil)
	want := Mode{
		Name:         "Deep Work",
		Description:  "uninterrupted programming",
		AllowedApps:  []string{"Terminal", "VS Code"},
		BlockedSites: []string{"reddit.com", "youtube.com"},
	}
	if err := lib.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := lib.Load("Deep Work")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != want.Name || got.Description != want.Description {
		t.Fatalf("mode = %+v, want %+v", got, want)
	}
	if !slices.Equal(got.AllowedApps, want.AllowedApps) {
		t.Fatalf("AllowedApps = %v, want %v", got.AllowedApps, want.AllowedApps)
	}
	if !slices.Equal(got.BlockedSites, want.BlockedSites) {
		t.Fatalf("BlockedSites = %v, want %v", got.BlockedSites, want.BlockedSites)
	}

	names, err := lib.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(names, []string{"deep_work"}) {
		t.Fatalf("List = %v, want [deep_work]", names)
	}
}

func TestLoadMissingMode(t *testing.T) {
	lib := NewLibrary(t.TempDir(), nil)
	if _, err := lib.Load("ghost"); err == nil {
		t.Fatal("Load should fail for a missing mode")
	}
}

func TestEnsureDefaultsSeedsAndPreserves(t *testing.T) {
	lib := NewLibrary(t.TempDir(), nil)
	if err := lib.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}

	names, err := lib.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"creativity", "productivity", "social"}
	if !slices.Equal(names, want) {
		t.Fatalf("List = %v, want %v", names, want)
	}

	// Edit a seeded mode; a second EnsureDefaults must not clobber it.
	prod, err := lib.Load("productivity")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	prod.AllowedApps = []string{"Emacs"}
	if err := lib.Save(prod); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := lib.EnsureDefaults(); err != nil {
		t.Fatalf("second EnsureDefaults: %v", err)
	}
	again, err := lib.Load("productivity")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !slices.Equal(again.AllowedApps, []string{"Emacs"}) {
		t.Fatalf("user edit lost: %+v", again)
	}
}

type fakeCompleter struct {
	reply string
	err   error
	seen  string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.seen = prompt
	return f.reply, f.err
}

func TestGenerateCustom(t *testing.T) {
	c := &fakeCompleter{reply: "```json\n{\"apps\":[\"Terminal\",\"VS Code\"],\"blocked_sites\":[\"https://reddit.com/r/all\",\"youtube.com\"]}\n```"}
	got, err := GenerateCustom(context.Background(), c, "Deep Work", "focused coding", []string{"Terminal", "VS Code", "Slack"})
	if err != nil {
		t.Fatalf("GenerateCustom: %v", err)
	}
	if !slices.Equal(got.AllowedApps, []string{"Terminal", "VS Code"}) {
		t.Fatalf("AllowedApps = %v", got.AllowedApps)
	}
	// Protocol and path must be stripped from model-supplied domains.
	if !slices.Equal(got.BlockedSites, []string{"reddit.com", "youtube.com"}) {
		t.Fatalf("BlockedSites = %v", got.BlockedSites)
	}
}

func TestGenerateCustomNoJSON(t *testing.T) {
	c := &fakeCompleter{reply: "Sorry, I cannot help with that."}
	if _, err := GenerateCustom(context.Background(), c, "x", "y", nil); err == nil {
		t.Fatal("GenerateCustom should fail when the model returns no JSON")
	}
}

func TestGenerateCustomCompleterError(t *testing.T) {
	c := &fakeCompleter{err: errors.New("rate limited")}
	if _, err := GenerateCustom(context.Background(), c, "x", "y", nil); err == nil {
		t.Fatal("GenerateCustom should surface completer errors")
	}
}

func TestCategorizeApps(t *testing.T) {
	c := &fakeCompleter{reply: `{"productivity":["Terminal"],"creativity":["GIMP"],"social":["Terminal","GIMP"]}`}
	got, err := CategorizeApps(context.Background(), c, []string{"Terminal", "GIMP", "Discord"})
	if err != nil {
		t.Fatalf("CategorizeApps: %v", err)
	}
	if !slices.Equal(got["productivity"], []string{"Terminal"}) {
		t.Fatalf("productivity = %v", got["productivity"])
	}
	if !slices.Equal(got["social"], []string{"Terminal", "GIMP"}) {
		t.Fatalf("social = %v", got["social"])
	}
}
