package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorePutIsContentAddressed(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	data := []byte("\x89PNG fake bytes")

	first, err := store.Put(context.Background(), data, "image/png")
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	second, err := store.Put(context.Background(), data, "image/png")
	if err != nil {
		t.Fatalf("second Put error: %v", err)
	}
	if first != second {
		t.Fatalf("refs differ: %q vs %q", first, second)
	}
	if !strings.HasPrefix(first, "http://localhost:8080/static/generated/images/") || !strings.HasSuffix(first, ".png") {
		t.Fatalf("ref = %q", first)
	}

	key := strings.TrimPrefix(first, "http://localhost:8080/static/")
	got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	if err != nil || string(got) != string(data) {
		t.Fatalf("stored bytes = %q, %v", got, err)
	}
}

func TestFileStoreCancelledContext(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, []byte("x"), "image/png"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestContentKey(t *testing.T) {
	if _, err := ContentKey(nil, "image/png"); err == nil {
		t.Fatal("expected error for empty artifact")
	}
	a, _ := ContentKey([]byte("a"), "image/jpeg; charset=binary")
	b, _ := ContentKey([]byte("b"), "image/jpeg")
	if a == b {
		t.Fatal("different content must not share a key")
	}
	if !strings.HasSuffix(a, ".jpg") {
		t.Fatalf("key = %q, want .jpg suffix", a)
	}
	if k, _ := ContentKey([]byte("a"), "text/plain"); !strings.HasSuffix(k, ".bin") {
		t.Fatalf("key = %q, want .bin suffix", k)
	}
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "generated/images/a.png", want: "generated/images/a.png"},
		{in: "/generated//images/a.png", want: "generated/images/a.png"},
		{in: `generated\images\a.png`, want: "generated/images/a.png"},
		{in: "../etc/passwd", wantErr: true},
		{in: "..", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := sanitizeKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("sanitizeKey(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
