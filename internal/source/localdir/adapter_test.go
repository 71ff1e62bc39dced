package localdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchBatch(t *testing.T) {
	root := t.TempDir()
	files := []string{"b.png", "a.jpg", "sub/c.webp", "notes.txt", ".hidden.png", "d.GIF"}
	for _, f := range files {
		p := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	a := NewAdapter(root, "/static/images/")
	n, err := a.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("Count() = %d, want 4", n)
	}

	first, cursor, err := a.FetchBatch(context.Background(), "", 3)
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if cursor != "3" {
		t.Errorf("cursor = %q, want %q", cursor, "3")
	}
	wantIDs := []string{"a.jpg", "b.png", "d.GIF"}
	for i, item := range first {
		if item.SourceID != wantIDs[i] {
			t.Errorf("item %d SourceID = %q, want %q", i, item.SourceID, wantIDs[i])
		}
	}
	if first[0].URL != "/static/images/a.jpg" {
		t.Errorf("URL = %q", first[0].URL)
	}
	if first[2].Format != "gif" {
		t.Errorf("Format = %q, want gif", first[2].Format)
	}

	rest, cursor, err := a.FetchBatch(context.Background(), cursor, 3)
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if cursor != "" || len(rest) != 1 || rest[0].URL != "/static/images/sub/c.webp" {
		t.Errorf("second batch = %+v, cursor %q", rest, cursor)
	}
}

func TestMissingRoot(t *testing.T) {
	a := NewAdapter(filepath.Join(t.TempDir(), "nope"), "/static/images")
	if _, _, err := a.FetchBatch(context.Background(), "", 10); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestFormatFromExt(t *testing.T) {
	tests := map[string]string{
		".jpg": "jpeg", ".JPEG": "jpeg", ".png": "png", ".gif": "gif", ".webp": "webp", ".bmp": "", "": "",
	}
	for ext, want := range tests {
		if got := FormatFromExt(ext); got != want {
			t.Errorf("FormatFromExt(%q) = %q, want %q", ext, got, want)
		}
	}
}
