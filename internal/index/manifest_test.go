package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadManifest_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if m.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", m.Version, SchemaVersion)
	}
	if !m.NeedsReindex("site") {
		t.Error("A missing manifest should ask for a full index")
	}
}

func TestLoadManifest_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestManifest_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", ManifestFilename)

	m := NewManifest()
	m.MarkIndexed("site", 3, 5)
	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not remain after save")
	}

	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	status := loaded.Status()
	if status.Site != "site" || status.Resources != 3 || status.Versions != 5 {
		t.Errorf("Unexpected status: %+v", status)
	}
	if time.Since(status.LastIndexed) > time.Minute {
		t.Errorf("LastIndexed = %v", status.LastIndexed)
	}
	if loaded.NeedsReindex("site") {
		t.Error("Indexed manifest should not need a reindex")
	}
}

func TestManifest_NeedsReindex(t *testing.T) {
	indexed := func() *Manifest {
		m := NewManifest()
		m.MarkIndexed("site", 1, 1)
		return m
	}

	tests := []struct {
		name     string
		manifest func() *Manifest
		site     string
		want     bool
	}{
		{"fresh", NewManifest, "site", true},
		{"indexed", indexed, "site", false},
		{"other site", indexed, "other", true},
		{"old schema", func() *Manifest {
			m := indexed()
			m.Version = SchemaVersion + 1
			return m
		}, "site", true},
		{"failed", func() *Manifest {
			m := indexed()
			m.MarkFailed("site", errors.New("disk full"))
			return m
		}, "site", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.manifest().NeedsReindex(tt.site); got != tt.want {
				t.Errorf("NeedsReindex(%q) = %v, want %v", tt.site, got, tt.want)
			}
		})
	}
}
