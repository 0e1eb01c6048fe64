package history

import (
	"encoding/json"
	"os"
	"testing"
)

func TestAppendAndRecent(t *testing.T) {
	log, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open history log: %v", err)
	}
	defer log.Close()

	for _, payload := range []string{"first", "second", "third"} {
		e, err := NewEntry(KindCommand, map[string]string{"goal": payload})
		if err != nil {
			t.Fatalf("Failed to create entry: %v", err)
		}
		if err := log.Append(e); err != nil {
			t.Fatalf("Failed to append entry: %v", err)
		}
	}

	cursor, err := log.Recent(2)
	if err != nil {
		t.Fatalf("Failed to query recent entries: %v", err)
	}

	var goals []string
	for {
		e, ok := cursor.Next()
		if !ok {
			break
		}
		var payload map[string]string
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			t.Fatalf("Failed to unmarshal payload: %v", err)
		}
		goals = append(goals, payload["goal"])
	}

	if len(goals) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(goals))
	}
	// Most recent first.
	if goals[0] != "third" || goals[1] != "second" {
		t.Errorf("Wrong order: %v", goals)
	}
}

func TestRecentKindFilter(t *testing.T) {
	log, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open history log: %v", err)
	}
	defer log.Close()

	for _, kind := range []Kind{KindCommand, KindThought, KindResult, KindThought} {
		e, _ := NewEntry(kind, map[string]string{})
		if err := log.Append(e); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	cursor, err := log.Recent(10, KindThought)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	count := 0
	for {
		e, ok := cursor.Next()
		if !ok {
			break
		}
		if e.Kind != KindThought {
			t.Errorf("Expected thought entry, got %s", e.Kind)
		}
		count++
	}
	if count != 2 {
		t.Errorf("Expected 2 thought entries, got %d", count)
	}
}

func TestRecentIsRestartable(t *testing.T) {
	log, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open history log: %v", err)
	}
	defer log.Close()

	e, _ := NewEntry(KindResult, map[string]string{"outcome": "accepted"})
	if err := log.Append(e); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	// Two independent cursors both see the entry.
	for i := 0; i < 2; i++ {
		cursor, err := log.Recent(5)
		if err != nil {
			t.Fatalf("Failed to query: %v", err)
		}
		if _, ok := cursor.Next(); !ok {
			t.Errorf("Cursor %d saw no entries", i)
		}
	}
}

func TestRecentSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open history log: %v", err)
	}
	defer log.Close()

	e, _ := NewEntry(KindCommand, map[string]string{"goal": "valid"})
	if err := log.Append(e); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	// Inject a corrupt line directly.
	f, err := os.OpenFile(log.Path(), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	e2, _ := NewEntry(KindCommand, map[string]string{"goal": "after"})
	if err := log.Append(e2); err != nil {
		t.Fatalf("Failed to append after corruption: %v", err)
	}

	cursor, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}

	count := 0
	for {
		if _, ok := cursor.Next(); !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Errorf("Expected 2 valid entries, got %d", count)
	}
}

func TestRecentEmptyLog(t *testing.T) {
	log, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open history log: %v", err)
	}
	defer log.Close()

	cursor, err := log.Recent(5)
	if err != nil {
		t.Fatalf("Failed to query empty log: %v", err)
	}
	if _, ok := cursor.Next(); ok {
		t.Error("Empty log should yield no entries")
	}
}
