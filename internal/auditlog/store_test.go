package auditlog

import (
	"errors"
	"strings"
	"testing"
)

func TestRecordAndList(t *testing.T) {
	t.Parallel()

	s, err := New(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.RecordExecution("SELECT 1", "https://db.example.com/sql", nil)
	s.RecordExecution("DROP TABLE t", "https://db.example.com/sql", errors.New("connection refused"))

	entries, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries)=%d, want 2", len(entries))
	}

	// Newest first.
	if entries[0].Statement != "DROP TABLE t" {
		t.Fatalf("entries[0].Statement=%q", entries[0].Statement)
	}
	if entries[0].Status != "failure" || entries[0].Error != "connection refused" {
		t.Fatalf("failure entry: %+v", entries[0])
	}
	if entries[1].Status != "success" || entries[1].Error != "" {
		t.Fatalf("success entry: %+v", entries[1])
	}
	if entries[0].Endpoint != "db.example.com" {
		t.Fatalf("Endpoint=%q, want host only", entries[0].Endpoint)
	}
	if entries[0].CreatedAt == "" {
		t.Fatalf("missing CreatedAt")
	}
}

func TestStatementPreviewTruncatesAndFlattens(t *testing.T) {
	t.Parallel()

	s, err := New(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	long := "SELECT\n" + strings.Repeat("x", 500)
	s.RecordExecution(long, "https://db.example.com/sql", nil)

	entries, err := s.List(1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got := len([]rune(entries[0].Statement)); got > previewMaxRunes {
		t.Fatalf("preview rune len=%d, want <= %d", got, previewMaxRunes)
	}
	if strings.Contains(entries[0].Statement, "\n") {
		t.Fatalf("preview contains newline: %q", entries[0].Statement)
	}
}

func TestListLimit(t *testing.T) {
	t.Parallel()

	s, err := New(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		s.RecordExecution("SELECT 1", "", nil)
	}
	entries, err := s.List(3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries)=%d, want 3", len(entries))
	}
}
