package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := zerolog.Nop()
	return NewManager(t.TempDir(), &logger)
}

func TestCreateIsUnique(t *testing.T) {
	m := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		ws, err := m.Create()
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[ws.Path()] {
			t.Fatalf("duplicate workspace %s", ws.Path())
		}
		seen[ws.Path()] = true
		if !filepath.IsAbs(ws.Path()) {
			t.Fatalf("expected absolute path, got %s", ws.Path())
		}
	}
}

func TestWriteFileOverwrites(t *testing.T) {
	ws, err := newTestManager(t).Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer ws.Destroy()

	if err := ws.WriteFile("input.txt", "first"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ws.WriteFile("input.txt", "2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(ws.Path(), "input.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "2" {
		t.Fatalf("expected overwritten content, got %q", data)
	}
}

func TestWriteFileRejectsEscapes(t *testing.T) {
	ws, err := newTestManager(t).Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer ws.Destroy()

	for _, name := range []string{"", "../x", "/etc/passwd", "a/b.txt"} {
		if err := ws.WriteFile(name, "x"); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("expected ErrInvalidName for %q, got %v", name, err)
		}
	}
}

func TestDestroyRemovesContentsAndIsIdempotent(t *testing.T) {
	ws, err := newTestManager(t).Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ws.WriteFile("main.py", "print(1)"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(ws.Path(), "nested"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ws.Destroy()
	if _, err := os.Stat(ws.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected workspace to be gone, stat err=%v", err)
	}

	ws.Destroy()
}
