package voice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeCatalog(t *testing.T, path string, profiles []Profile) {
	t.Helper()
	data, err := json.Marshal(profiles)
	if err != nil {
		t.Fatalf("marshal catalog: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
}

func newTestRegistry(t *testing.T, catalog, overrides []Profile) *Registry {
	t.Helper()
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "voices.json")
	overridesPath := filepath.Join(dir, "user_voices.json")
	if catalog != nil {
		writeCatalog(t, catalogPath, catalog)
	}
	if overrides != nil {
		writeCatalog(t, overridesPath, overrides)
	}
	reg, err := NewRegistry(catalogPath, overridesPath, filepath.Join(dir, "samples"), newLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestResolveOverridePrecedence(t *testing.T) {
	reg := newTestRegistry(t,
		[]Profile{{Name: "X", SampleFile: "a.wav", SampleText: "catalog"}},
		[]Profile{{Name: "X", SampleFile: "b.wav", SampleText: "override"}},
	)
	p, err := reg.Resolve("X")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.SampleText != "override" || p.SampleFile != "b.wav" {
		t.Fatalf("expected override layer to win, got %+v", p)
	}
}

func TestResolveNotFound(t *testing.T) {
	reg := newTestRegistry(t, []Profile{{Name: "A"}}, nil)
	if _, err := reg.Resolve("nonexistent"); !errors.Is(err, ErrVoiceNotFound) {
		t.Fatalf("expected ErrVoiceNotFound, got %v", err)
	}
}

func TestNamesPreserveOrder(t *testing.T) {
	catalog := []Profile{{Name: "丙"}, {Name: "甲"}, {Name: "乙"}}
	reg := newTestRegistry(t, catalog, nil)
	names := reg.Names()
	if len(names) != 3 || names[0] != "丙" || names[1] != "甲" || names[2] != "乙" {
		t.Fatalf("expected catalog order preserved, got %v", names)
	}
}

func TestMissingFilesLoadEmpty(t *testing.T) {
	reg := newTestRegistry(t, nil, nil)
	if names := reg.Names(); len(names) != 0 {
		t.Fatalf("expected empty registry, got %v", names)
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	reg := newTestRegistry(t, []Profile{{Name: "A"}}, nil)
	err := reg.Add(Profile{Name: "A", SampleFile: "x.wav"})
	if !errors.Is(err, ErrVoiceExists) {
		t.Fatalf("expected ErrVoiceExists, got %v", err)
	}
}

func TestAddPersistsAndResolves(t *testing.T) {
	reg := newTestRegistry(t, []Profile{}, nil)
	if err := reg.Add(Profile{Name: "B", SampleFile: "b.wav", SampleText: "你好"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := reg.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	p, err := reg.Resolve("B")
	if err != nil {
		t.Fatalf("resolve after reload: %v", err)
	}
	if p.SampleText != "你好" {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestRemoveMissing(t *testing.T) {
	reg := newTestRegistry(t, []Profile{}, nil)
	if err := reg.Remove("ghost"); !errors.Is(err, ErrVoiceNotFound) {
		t.Fatalf("expected ErrVoiceNotFound, got %v", err)
	}
}

func TestEditPartialUpdate(t *testing.T) {
	reg := newTestRegistry(t, []Profile{{Name: "C", SampleFile: "old.wav", SampleText: "舊文字"}}, nil)

	if err := reg.Edit("C", "new.wav", ""); err != nil {
		t.Fatalf("edit file: %v", err)
	}
	p, _ := reg.Resolve("C")
	if p.SampleFile != "new.wav" || p.SampleText != "舊文字" {
		t.Fatalf("expected only sample file updated, got %+v", p)
	}

	if err := reg.Edit("C", "", "新文字"); err != nil {
		t.Fatalf("edit text: %v", err)
	}
	p, _ = reg.Resolve("C")
	if p.SampleFile != "new.wav" || p.SampleText != "新文字" {
		t.Fatalf("expected only sample text updated, got %+v", p)
	}

	if err := reg.Edit("ghost", "x", "y"); !errors.Is(err, ErrVoiceNotFound) {
		t.Fatalf("expected ErrVoiceNotFound, got %v", err)
	}
}

func TestSetOverrideUpsert(t *testing.T) {
	reg := newTestRegistry(t, []Profile{{Name: "A", SampleText: "catalog"}}, nil)

	if err := reg.SetOverride(Profile{Name: "A", SampleFile: "me.wav", SampleText: "mine"}); err != nil {
		t.Fatalf("set override: %v", err)
	}
	p, err := reg.Resolve("A")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.SampleText != "mine" {
		t.Fatalf("expected override, got %+v", p)
	}

	if err := reg.SetOverride(Profile{Name: "A", SampleFile: "me2.wav", SampleText: "mine2"}); err != nil {
		t.Fatalf("second set override: %v", err)
	}
	p, _ = reg.Resolve("A")
	if p.SampleFile != "me2.wav" {
		t.Fatalf("expected upsert to replace, got %+v", p)
	}

	if err := reg.RemoveOverride("A"); err != nil {
		t.Fatalf("remove override: %v", err)
	}
	p, _ = reg.Resolve("A")
	if p.SampleText != "catalog" {
		t.Fatalf("expected catalog profile after override removal, got %+v", p)
	}
}

func TestSamplePath(t *testing.T) {
	reg := newTestRegistry(t, []Profile{{Name: "A", SampleFile: "a.wav"}}, nil)
	p, _ := reg.Resolve("A")
	path := reg.SamplePath(p)
	if filepath.Base(path) != "a.wav" {
		t.Fatalf("unexpected sample path %q", path)
	}
}
