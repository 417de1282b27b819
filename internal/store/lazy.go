package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sha1n/mcp-content-repository/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	headerFilename = "header.yaml"
	bodyFilename   = "body.yaml"
)

// loadState tracks which parts of a stored version are in memory.
type loadState int

const (
	unloaded loadState = iota
	headerLoaded
	bodyLoaded
	fullyLoaded
)

func (s loadState) String() string {
	switch s {
	case headerLoaded:
		return "header"
	case bodyLoaded:
		return "body"
	case fullyLoaded:
		return "full"
	default:
		return "unloaded"
	}
}

func (s loadState) hasHeader() bool { return s == headerLoaded || s == fullyLoaded }
func (s loadState) hasBody() bool   { return s == bodyLoaded || s == fullyLoaded }

// withHeader is the state reached after loading the header.
func (s loadState) withHeader() loadState {
	if s.hasBody() {
		return fullyLoaded
	}
	return headerLoaded
}

// withBody is the state reached after loading the body.
func (s loadState) withBody() loadState {
	if s.hasHeader() {
		return fullyLoaded
	}
	return bodyLoaded
}

// lazyResource is one stored version on disk, loaded part by part on demand.
// Callers serialize access.
type lazyResource struct {
	dir    string
	state  loadState
	header *headerDoc
	body   *bodyDoc
}

func newLazyResource(dir string) *lazyResource {
	return &lazyResource{dir: dir}
}

// loadedResource wraps an in-memory resource that has just been written.
func loadedResource(dir string, r *domain.Resource) *lazyResource {
	h, b := splitResource(r)
	return &lazyResource{dir: dir, state: fullyLoaded, header: h, body: b}
}

// Header loads the header if needed.
func (l *lazyResource) Header() (*headerDoc, error) {
	if l.state.hasHeader() {
		return l.header, nil
	}
	var h headerDoc
	if err := readYAML(filepath.Join(l.dir, headerFilename), &h); err != nil {
		return nil, err
	}
	l.header = &h
	l.state = l.state.withHeader()
	return l.header, nil
}

// Body loads the body if needed. A missing body file is an empty body.
func (l *lazyResource) Body() (*bodyDoc, error) {
	if l.state.hasBody() {
		return l.body, nil
	}
	var b bodyDoc
	err := readYAML(filepath.Join(l.dir, bodyFilename), &b)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	l.body = &b
	l.state = l.state.withBody()
	return l.body, nil
}

// Resource loads whatever is missing and returns a fresh copy.
func (l *lazyResource) Resource() (*domain.Resource, error) {
	h, err := l.Header()
	if err != nil {
		return nil, err
	}
	b, err := l.Body()
	if err != nil {
		return nil, err
	}
	return joinResource(h, b).Clone(), nil
}

// persist writes both documents atomically.
func (l *lazyResource) persist() error {
	if !l.state.hasHeader() || !l.state.hasBody() {
		return fmt.Errorf("cannot persist partially loaded resource (%s)", l.state)
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create resource directory: %w", err)
	}
	if err := writeYAML(filepath.Join(l.dir, bodyFilename), l.body); err != nil {
		return err
	}
	return writeYAML(filepath.Join(l.dir, headerFilename), l.header)
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeYAML writes to a temporary file and renames it into place.
func writeYAML(path string, in any) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
