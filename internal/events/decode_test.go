package events

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDecodeCollection_Shapes(t *testing.T) {
	wrapped := []byte(`{"events": [{"id": "a"}, {"id": "b"}], "total": 2}`)
	raws, err := DecodeCollection(wrapped)
	if err != nil {
		t.Fatalf("wrapped: %v", err)
	}
	if len(raws) != 2 || raws[0]["id"] != "a" || raws[1]["id"] != "b" {
		t.Errorf("wrapped records = %v", raws)
	}

	bare := []byte(` [{"id": "a"}, 5, null, "x"] `)
	raws, err = DecodeCollection(bare)
	if err != nil {
		t.Fatalf("bare: %v", err)
	}
	if len(raws) != 4 {
		t.Fatalf("bare: got %d records", len(raws))
	}
	for i := 1; i < 4; i++ {
		if len(raws[i]) != 0 {
			t.Errorf("non-object element %d should decode empty, got %v", i, raws[i])
		}
	}

	empty, err := DecodeCollection([]byte(`[]`))
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty array: raws=%v err=%v", empty, err)
	}
}

func TestDecodeCollection_BadShapes(t *testing.T) {
	bad := []string{
		``,
		`"events"`,
		`42`,
		`{}`,
		`{"events": null}`,
		`{"events": {"id": "a"}}`,
		`{"data": []}`,
		`[{"id": "a"}`,
		`not json`,
	}
	for _, body := range bad {
		if _, err := DecodeCollection([]byte(body)); !errors.Is(err, ErrBadShape) {
			t.Errorf("DecodeCollection(%q) err = %v, want ErrBadShape", body, err)
		}
	}
}

func TestDecodeRecord(t *testing.T) {
	raw, err := DecodeRecord([]byte(`{"id": "x", "lat": 1}`))
	if err != nil || raw["id"] != "x" {
		t.Errorf("raw=%v err=%v", raw, err)
	}
	for _, body := range []string{`[]`, `null`, ``, `{`} {
		if _, err := DecodeRecord([]byte(body)); !errors.Is(err, ErrBadShape) {
			t.Errorf("DecodeRecord(%q) err = %v, want ErrBadShape", body, err)
		}
	}
}

func TestLoadFallback_Bundled(t *testing.T) {
	raws, err := LoadFallback("")
	if err != nil {
		t.Fatalf("bundled dataset: %v", err)
	}
	if len(raws) != 10 {
		t.Fatalf("bundled dataset has %d records, want 10", len(raws))
	}
	evs := NormalizeAll(raws, fixedNow)
	seen := map[string]bool{}
	for _, ev := range evs {
		if seen[ev.ID] {
			t.Errorf("duplicate id %q in bundled dataset", ev.ID)
		}
		seen[ev.ID] = true
		if ev.Location == "" {
			t.Errorf("event %q has empty location", ev.ID)
		}
	}
	if !seen["denver-2023-01"] {
		t.Error("denver-2023-01 missing from bundled dataset")
	}
}

func TestLoadFallback_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")
	if err := os.WriteFile(path, []byte(`[{"id": "local", "location": "Austin, USA"}]`), 0o600); err != nil {
		t.Fatal(err)
	}

	raws, err := LoadFallback(path)
	if err != nil {
		t.Fatalf("LoadFallback: %v", err)
	}
	if len(raws) != 1 || raws[0]["id"] != "local" {
		t.Errorf("raws = %v", raws)
	}

	if _, err := LoadFallback(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	badPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badPath, []byte(`{"nope": 1}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFallback(badPath); !errors.Is(err, ErrBadShape) {
		t.Errorf("bad file err = %v, want ErrBadShape", err)
	}
}
