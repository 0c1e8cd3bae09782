package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	key, err := store.Write(context.Background(), "/images/task/01.png", []byte("png"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if key != "images/task/01.png" {
		t.Fatalf("key = %q, want %q", key, "images/task/01.png")
	}
	data, err := os.ReadFile(filepath.Join(dir, "images", "task", "01.png"))
	if err != nil || string(data) != "png" {
		t.Fatalf("stored data = %q, err = %v", data, err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if _, err := store.Write(context.Background(), "../escape.png", []byte("x")); err == nil {
		t.Fatalf("expected traversal key to be rejected")
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct{ base, key, want string }{
		{"http://localhost:8080/static/", "/synthetic/a.png", "http://localhost:8080/static/synthetic/a.png"},
		{"https://cdn.example.com", "a.png", "https://cdn.example.com/a.png"},
		{"https://cdn.example.com", "", ""},
	}
	for _, tt := range tests {
		if got := PublicURL(tt.base, tt.key); got != tt.want {
			t.Fatalf("PublicURL(%q, %q) = %q, want %q", tt.base, tt.key, got, tt.want)
		}
	}
}
