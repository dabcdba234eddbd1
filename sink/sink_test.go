package sink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestSinkSingleChunkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 10, nil)

	for i := 0; i < 10; i++ {
		s.Send(map[string]int{"i": i})
	}
	if err := s.EndFlush().Wait(); err != nil {
		t.Fatalf("EndFlush: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var records []map[string]int
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("got %d records, want 10", len(records))
	}
	for i, r := range records {
		if r["i"] != i {
			t.Fatalf("record %d = %v, want i=%d", i, r, i)
		}
	}
}

func TestSinkMultiChunkOrdering(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 10, nil)

	var handles []*Handle
	for i := 0; i < 125; i++ {
		handles = append(handles, s.Send(map[string]int{"i": i}))
	}
	for _, h := range handles {
		if err := h.Wait(); err != nil {
			t.Fatalf("Send handle: %v", err)
		}
	}
	if err := s.EndFlush().Wait(); err != nil {
		t.Fatalf("EndFlush: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	if len(names) != 13 {
		t.Fatalf("got %d files, want 13", len(names))
	}
	sort.Strings(names)

	var all []int
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("ReadFile %s: %v", name, err)
		}
		var records []map[string]int
		if err := json.Unmarshal(data, &records); err != nil {
			t.Fatalf("Unmarshal %s: %v", name, err)
		}
		wantLen := 10
		if i == len(names)-1 {
			wantLen = 5
		}
		if len(records) != wantLen {
			t.Fatalf("file %s has %d records, want %d", name, len(records), wantLen)
		}
		for _, r := range records {
			all = append(all, r["i"])
		}
	}

	if len(all) != 125 {
		t.Fatalf("total records = %d, want 125", len(all))
	}
	for i, v := range all {
		if v != i {
			t.Fatalf("record order broken at position %d: got %d", i, v)
		}
	}
}

func TestSinkEmptyFlushWritesNothing(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 10, nil)
	if err := s.EndFlush().Wait(); err != nil {
		t.Fatalf("EndFlush: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) != 0 {
		t.Fatalf("expected no files, got %d", len(entries))
	}
}
