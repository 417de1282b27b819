package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ManifestFilename is the name of the manifest stored next to an on-disk index.
const ManifestFilename = "manifest.json"

// Manifest records what an on-disk index was built from.
type Manifest struct {
	Version     int          `json:"version"`
	Site        string       `json:"site"`
	LastIndexed time.Time    `json:"last_indexed"`
	Resources   int          `json:"resources"`
	Versions    int          `json:"versions"`
	Error       string       `json:"error,omitempty"`
	mu          sync.RWMutex `json:"-"`
}

// NewManifest creates a manifest for the current schema that has never been indexed.
func NewManifest() *Manifest {
	return &Manifest{Version: SchemaVersion}
}

// LoadManifest reads a manifest from disk. A missing file yields a manifest with a
// zero LastIndexed, which asks for a full index.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

// Save writes the manifest to disk atomically.
func (m *Manifest) Save(path string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}
	return nil
}

// NeedsReindex reports whether the index must be rebuilt for site: the schema
// changed, the site differs, the last full pass failed, or none ever completed.
func (m *Manifest) NeedsReindex(site string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Version != SchemaVersion || m.Site != site || m.Error != "" || m.LastIndexed.IsZero()
}

// SchemaChanged reports whether the manifest was written by another schema.
func (m *Manifest) SchemaChanged() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Version != SchemaVersion
}

// MarkIndexed records a completed full index pass.
func (m *Manifest) MarkIndexed(site string, resources, versions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Version = SchemaVersion
	m.Site = site
	m.LastIndexed = time.Now()
	m.Resources = resources
	m.Versions = versions
	m.Error = ""
}

// MarkFailed records a failed full index pass.
func (m *Manifest) MarkFailed(site string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Version = SchemaVersion
	m.Site = site
	m.Error = err.Error()
}

// Status is a point-in-time view of a manifest.
type Status struct {
	Site        string
	LastIndexed time.Time
	Resources   int
	Versions    int
	Error       string
}

// Status returns the recorded state.
func (m *Manifest) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Site:        m.Site,
		LastIndexed: m.LastIndexed,
		Resources:   m.Resources,
		Versions:    m.Versions,
		Error:       m.Error,
	}
}
