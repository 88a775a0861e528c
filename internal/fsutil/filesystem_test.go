package fsutil

import (
	"errors"
	"io/fs"
	"testing"
)

func TestMemoryFileSystemRoundTrip(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.WriteFile("models/linear.json", []byte(`{"v":1}`), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := m.ReadFile("models/linear.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("ReadFile = %q, want %q", data, `{"v":1}`)
	}
	if !m.Exists("models/linear.json") {
		t.Error("Exists = false after write")
	}
}

func TestMemoryFileSystemMissing(t *testing.T) {
	m := NewMemoryFileSystem()
	_, err := m.ReadFile("absent.json")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile(absent) error = %v, want fs.ErrNotExist", err)
	}
	if m.Exists("absent.json") {
		t.Error("Exists(absent) = true")
	}
}

func TestMemoryFileSystemMkdirAll(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("out/reports/daily", 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, dir := range []string{"out", "out/reports", "out/reports/daily"} {
		if !m.Exists(dir) {
			t.Errorf("Exists(%q) = false after MkdirAll", dir)
		}
	}
}

func TestMemoryFileSystemIsolation(t *testing.T) {
	m := NewMemoryFileSystem()
	src := []byte("abc")
	m.WriteFile("f", src, 0644)
	src[0] = 'x'

	got, err := m.ReadFile("f")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("stored data mutated: %q", got)
	}
}
