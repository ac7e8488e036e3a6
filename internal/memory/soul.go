// Package memory holds long-term state: the soul identity document and the
// consolidation worker that maintains it.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultSoul is the document created on first access.
const DefaultSoul = `# Soul of the Traveler

## Identity
Not yet known.

## Values
Not yet known.

## Goals
Not yet known.
`

// SoulStore persists the identity document as sectioned markdown in one
// flat file. Sections are "## Name" headings; UpdateSection replaces a
// section's body or appends a new section.
type SoulStore struct {
	mu   sync.Mutex
	path string
}

// NewSoulStore creates a store for the given file path.
func NewSoulStore(path string) *SoulStore {
	return &SoulStore{path: path}
}

// Read returns the document, or the default document when the file does
// not exist yet.
func (s *SoulStore) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *SoulStore) readLocked() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DefaultSoul, nil
	}
	if err != nil {
		return "", fmt.Errorf("read soul file: %w", err)
	}
	return string(data), nil
}

// Write replaces the whole document.
func (s *SoulStore) Write(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(content)
}

func (s *SoulStore) writeLocked(content string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create soul directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write soul file: %w", err)
	}
	return nil
}

// EnsureExists writes the default document if the file is missing, leaving
// existing content untouched.
func (s *SoulStore) EnsureExists() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	return s.writeLocked(DefaultSoul)
}

// UpdateSection replaces the body of the named "## Name" section, or
// appends the section when it does not exist. Returns the updated
// document.
func (s *SoulStore) UpdateSection(name, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return "", err
	}

	heading := "## " + name
	lines := strings.Split(doc, "\n")

	var out []string
	replaced := false
	for i := 0; i < len(lines); i++ {
		out = append(out, lines[i])
		if strings.TrimSpace(lines[i]) != heading {
			continue
		}
		// Skip the old body up to the next heading.
		j := i + 1
		for j < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[j]), "## ") {
			j++
		}
		out = append(out, content)
		if j < len(lines) {
			out = append(out, "")
		}
		i = j - 1
		replaced = true
	}

	if !replaced {
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
			out = append(out, "")
		}
		out = append(out, heading, content)
	}

	updated := strings.Join(out, "\n")
	if err := s.writeLocked(updated); err != nil {
		return "", err
	}
	return updated, nil
}
