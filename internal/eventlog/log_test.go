package eventlog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogAppendAndEntries(t *testing.T) {
	log := NewLog(nil, nil)

	log.Append("session started for workflow %s", "wf-1")
	log.Append("stage %s active", "analysis")

	entries := log.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "session started for workflow wf-1" {
		t.Fatalf("unexpected first entry: %q", entries[0].Message)
	}
	if entries[0].At.IsZero() {
		t.Fatal("expected timestamp on entry")
	}

	// Entries returns a copy; mutating it must not touch the log.
	entries[0].Message = "mutated"
	if log.Entries()[0].Message == "mutated" {
		t.Fatal("Entries leaked internal state")
	}
}

func TestLogAppendCallback(t *testing.T) {
	var seen []Entry
	log := NewLog(nil, func(entry Entry) {
		seen = append(seen, entry)
	})

	log.Append("one")
	log.Append("two")

	if len(seen) != 2 || seen[1].Message != "two" {
		t.Fatalf("unexpected callback entries: %+v", seen)
	}
}

func TestFlattenRendersLines(t *testing.T) {
	log := NewLog(nil, nil)
	log.Append("alpha")
	log.Append("beta")

	flat := log.Flatten()
	lines := strings.Split(strings.TrimRight(flat, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), flat)
	}
	if !strings.HasSuffix(lines[0], "alpha") || !strings.HasSuffix(lines[1], "beta") {
		t.Fatalf("unexpected flatten output: %q", flat)
	}
}

func TestJournalPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	journal, err := OpenJournal(path, "wf-5")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	log := NewLog(journal, nil)
	log.Append("push channel connected")
	log.Append("stage analysis started")

	if err := journal.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	reopened, err := OpenJournal(path, "wf-5")
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer reopened.Close()

	entries, err := reopened.Entries(context.Background(), "wf-5")
	if err != nil {
		t.Fatalf("read entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 persisted entries, got %d", len(entries))
	}
	if entries[1].Message != "stage analysis started" {
		t.Fatalf("unexpected entry order: %+v", entries)
	}
}

func TestJournalScopesEntriesByWorkflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := OpenJournal(path, "wf-a")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	NewLog(first, nil).Append("entry for a")
	if err := first.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	second, err := OpenJournal(path, "wf-b")
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer second.Close()
	NewLog(second, nil).Append("entry for b")

	entries, err := second.Entries(context.Background(), "wf-a")
	if err != nil {
		t.Fatalf("read entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "entry for a" {
		t.Fatalf("unexpected entries for wf-a: %+v", entries)
	}
}

func TestJournalLockRejectsSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	journal, err := OpenJournal(path, "wf-1")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	if _, err := OpenJournal(path, "wf-1"); err == nil {
		t.Fatal("expected second open to fail while locked")
	}
}
