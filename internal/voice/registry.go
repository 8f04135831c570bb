// Package voice maps character names to the reference sample and transcript
// used to condition synthesis.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Profile is a named reference-audio + reference-transcript pair.
type Profile struct {
	Name       string `json:"name"`
	SampleFile string `json:"file"`
	SampleText string `json:"text"`
}

var (
	ErrVoiceNotFound = errors.New("voice not found")
	ErrVoiceExists   = errors.New("voice already exists")
)

// Registry merges a global catalog with per-user overrides. Reads come from
// in-memory snapshots loaded at start; mutations rewrite the backing file and
// reload under a single writer lock.
type Registry struct {
	catalogPath   string
	overridesPath string
	sampleDir     string
	log           *slog.Logger

	mu        sync.RWMutex
	catalog   []Profile
	overrides []Profile
}

func NewRegistry(catalogPath, overridesPath, sampleDir string, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		catalogPath:   catalogPath,
		overridesPath: overridesPath,
		sampleDir:     sampleDir,
		log:           log.With(slog.String("component", "voice-registry")),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads both catalog files. A missing file loads as an empty layer.
func (r *Registry) Reload() error {
	catalog, err := loadProfiles(r.catalogPath)
	if err != nil {
		return fmt.Errorf("load voice catalog: %w", err)
	}
	overrides, err := loadProfiles(r.overridesPath)
	if err != nil {
		return fmt.Errorf("load voice overrides: %w", err)
	}

	r.mu.Lock()
	r.catalog = catalog
	r.overrides = overrides
	r.mu.Unlock()

	r.log.Info("voice catalog loaded",
		slog.Int("voices", len(catalog)),
		slog.Int("overrides", len(overrides)))
	return nil
}

// Resolve returns the profile for name. The user override layer wins when
// both layers define the same name.
func (r *Registry) Resolve(name string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.overrides) - 1; i >= 0; i-- {
		if r.overrides[i].Name == name {
			return r.overrides[i], nil
		}
	}
	for i := len(r.catalog) - 1; i >= 0; i-- {
		if r.catalog[i].Name == name {
			return r.catalog[i], nil
		}
	}
	return Profile{}, fmt.Errorf("resolve %q: %w", name, ErrVoiceNotFound)
}

// Names lists catalog voice names in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.catalog))
	for _, p := range r.catalog {
		names = append(names, p.Name)
	}
	return names
}

// SamplePath returns the on-disk path of a profile's reference audio.
func (r *Registry) SamplePath(p Profile) string {
	return filepath.ToSlash(filepath.Join(r.sampleDir, p.SampleFile))
}

// Add appends a new catalog voice. Fails if the name is already taken.
func (r *Registry) Add(p Profile) error {
	if p.Name == "" {
		return errors.New("voice name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if indexOf(r.catalog, p.Name) >= 0 {
		return fmt.Errorf("add %q: %w", p.Name, ErrVoiceExists)
	}
	next := append(append([]Profile(nil), r.catalog...), p)
	if err := saveProfiles(r.catalogPath, next); err != nil {
		return err
	}
	r.catalog = next
	r.log.Info("voice added", slog.String("name", p.Name))
	return nil
}

// Remove deletes a catalog voice by name.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := indexOf(r.catalog, name)
	if idx < 0 {
		return fmt.Errorf("remove %q: %w", name, ErrVoiceNotFound)
	}
	next := append([]Profile(nil), r.catalog...)
	next = append(next[:idx], next[idx+1:]...)
	if err := saveProfiles(r.catalogPath, next); err != nil {
		return err
	}
	r.catalog = next
	r.log.Info("voice removed", slog.String("name", name))
	return nil
}

// Edit updates a catalog voice. Empty sampleFile or sampleText leaves that
// field unchanged.
func (r *Registry) Edit(name, sampleFile, sampleText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := indexOf(r.catalog, name)
	if idx < 0 {
		return fmt.Errorf("edit %q: %w", name, ErrVoiceNotFound)
	}
	next := append([]Profile(nil), r.catalog...)
	if sampleFile != "" {
		next[idx].SampleFile = sampleFile
	}
	if sampleText != "" {
		next[idx].SampleText = sampleText
	}
	if err := saveProfiles(r.catalogPath, next); err != nil {
		return err
	}
	r.catalog = next
	r.log.Info("voice edited", slog.String("name", name))
	return nil
}

// SetOverride upserts a user-scoped voice into the override layer.
func (r *Registry) SetOverride(p Profile) error {
	if p.Name == "" {
		return errors.New("voice name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := append([]Profile(nil), r.overrides...)
	if idx := indexOf(next, p.Name); idx >= 0 {
		next[idx] = p
	} else {
		next = append(next, p)
	}
	if err := saveProfiles(r.overridesPath, next); err != nil {
		return err
	}
	r.overrides = next
	return nil
}

// RemoveOverride drops a user-scoped voice from the override layer.
func (r *Registry) RemoveOverride(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := indexOf(r.overrides, name)
	if idx < 0 {
		return fmt.Errorf("remove override %q: %w", name, ErrVoiceNotFound)
	}
	next := append([]Profile(nil), r.overrides...)
	next = append(next[:idx], next[idx+1:]...)
	if err := saveProfiles(r.overridesPath, next); err != nil {
		return err
	}
	r.overrides = next
	return nil
}

func indexOf(profiles []Profile, name string) int {
	for i, p := range profiles {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func loadProfiles(path string) ([]Profile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return profiles, nil
}

// saveProfiles writes atomically: temp file in the same directory, then rename.
func saveProfiles(path string, profiles []Profile) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create voice dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".voices-*.json")
	if err != nil {
		return fmt.Errorf("temp catalog file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}
