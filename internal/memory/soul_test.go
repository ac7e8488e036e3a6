package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestSoul(t *testing.T) *SoulStore {
	t.Helper()
	return NewSoulStore(filepath.Join(t.TempDir(), "soul.md"))
}

func TestReadReturnsDefaultWhenMissing(t *testing.T) {
	soul := newTestSoul(t)

	doc, err := soul.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc != DefaultSoul {
		t.Errorf("Expected default document, got %q", doc)
	}
}

func TestEnsureExistsKeepsContent(t *testing.T) {
	soul := newTestSoul(t)

	if err := soul.Write("# Custom\n\n## Identity\nA traveler.\n"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := soul.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}

	doc, err := soul.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !strings.Contains(doc, "A traveler.") {
		t.Errorf("EnsureExists overwrote existing content: %q", doc)
	}
}

func TestEnsureExistsCreatesDefault(t *testing.T) {
	soul := newTestSoul(t)

	if err := soul.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	data, err := os.ReadFile(soul.path)
	if err != nil {
		t.Fatalf("Soul file not created: %v", err)
	}
	if string(data) != DefaultSoul {
		t.Errorf("Expected default document on disk, got %q", string(data))
	}
}

func TestUpdateSectionReplacesBody(t *testing.T) {
	soul := newTestSoul(t)

	updated, err := soul.UpdateSection("Goals", "Ship the assistant.")
	if err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}
	if !strings.Contains(updated, "## Goals\nShip the assistant.") {
		t.Errorf("Goals section not replaced: %q", updated)
	}
	if !strings.Contains(updated, "## Identity\nNot yet known.") {
		t.Errorf("Other sections should be untouched: %q", updated)
	}
	if strings.Count(updated, "Not yet known.") != 2 {
		t.Errorf("Expected the other two sections intact: %q", updated)
	}

	// Persisted, not just returned.
	doc, err := soul.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc != updated {
		t.Error("UpdateSection result differs from stored document")
	}
}

func TestUpdateSectionAppendsNewSection(t *testing.T) {
	soul := newTestSoul(t)

	updated, err := soul.UpdateSection("Health", "Sleeps badly.")
	if err != nil {
		t.Fatalf("UpdateSection failed: %v", err)
	}
	if !strings.Contains(updated, "## Health\nSleeps badly.") {
		t.Errorf("New section not appended: %q", updated)
	}
	if !strings.HasPrefix(updated, "# Soul of the Traveler") {
		t.Errorf("Document title lost: %q", updated)
	}
}
