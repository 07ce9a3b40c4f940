package languages

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaults(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		id       string
		image    string
		file     string
		compiled bool
	}{
		{id: "JavaScript", image: "node:18-alpine", file: "main.js"},
		{id: "Python", image: "python:3.10-alpine", file: "main.py"},
		{id: "Java", image: "openjdk:17-jdk-alpine", file: "Main.java", compiled: true},
		{id: "C++", image: "gcc:latest", file: "main.cpp", compiled: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			lang, err := r.Get(tt.id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if lang.Image != tt.image || lang.SourceFile != tt.file {
				t.Fatalf("unexpected profile %+v", lang)
			}
			_, compiled := lang.Pipeline.(Compiled)
			if compiled != tt.compiled {
				t.Fatalf("compiled=%v, want %v", compiled, tt.compiled)
			}
			if (lang.CompileCommand() != nil) != tt.compiled {
				t.Fatalf("unexpected compile command %v", lang.CompileCommand())
			}
		})
	}
}

func TestGetCaseInsensitive(t *testing.T) {
	lang, err := NewRegistry().Get("python")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if lang.ID != "Python" {
		t.Fatalf("expected Python, got %s", lang.ID)
	}
}

func TestGetUnknown(t *testing.T) {
	if _, err := NewRegistry().Get("Rust"); !errors.Is(err, ErrLanguageNotFound) {
		t.Fatalf("expected ErrLanguageNotFound, got %v", err)
	}
}

func TestRegisterValidates(t *testing.T) {
	r := NewRegistry()
	bad := []Language{
		{Image: "x", SourceFile: "a", Pipeline: Interpreted{Run: []string{"a"}}},
		{ID: "x", SourceFile: "a", Pipeline: Interpreted{Run: []string{"a"}}},
		{ID: "x", Image: "x", Pipeline: Interpreted{Run: []string{"a"}}},
		{ID: "x", Image: "x", SourceFile: "a"},
		{ID: "x", Image: "x", SourceFile: "a", Pipeline: Compiled{Run: []string{"a"}}},
	}
	for _, lang := range bad {
		if err := r.Register(lang); !errors.Is(err, ErrInvalidLanguage) {
			t.Fatalf("expected ErrInvalidLanguage for %+v, got %v", lang, err)
		}
	}
}

func TestImagesAreDistinct(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Language{
		ID:         "TypeScript",
		Image:      "node:18-alpine",
		SourceFile: "main.ts",
		Pipeline:   Compiled{Compile: []string{"tsc", "/app/main.ts"}, Run: []string{"node", "/app/main.js"}},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	images := r.Images()
	if len(images) != 4 {
		t.Fatalf("expected 4 distinct images, got %v", images)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	content := []byte(`
languages:
  - id: Go
    image: golang:1.22-alpine
    source_file: main.go
    compile: go build -o /app/main "/app/main.go"
    run: /app/main
  - id: Ruby
    name: Ruby 3
    image: ruby:3.3-alpine
    source_file: main.rb
    run: ruby /app/main.rb
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewRegistry()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	golang, err := r.Get("Go")
	if err != nil {
		t.Fatalf("get Go: %v", err)
	}
	want := Compiled{
		Compile: []string{"go", "build", "-o", "/app/main", "/app/main.go"},
		Run:     []string{"/app/main"},
	}
	if !reflect.DeepEqual(golang.Pipeline, want) {
		t.Fatalf("unexpected Go pipeline %#v", golang.Pipeline)
	}
	if golang.Name != "Go" {
		t.Fatalf("expected name to default to id, got %q", golang.Name)
	}

	ruby, err := r.Get("Ruby")
	if err != nil {
		t.Fatalf("get Ruby: %v", err)
	}
	if _, ok := ruby.Pipeline.(Interpreted); !ok {
		t.Fatalf("expected Ruby to be interpreted, got %#v", ruby.Pipeline)
	}
	if ruby.Name != "Ruby 3" {
		t.Fatalf("unexpected name %q", ruby.Name)
	}

	if len(r.List()) != 6 {
		t.Fatalf("expected 6 languages, got %d", len(r.List()))
	}
}

func TestLoadRejectsInvalidEntries(t *testing.T) {
	r := NewRegistry()
	err := r.Load([]byte(`
languages:
  - id: Broken
    image: alpine
    source_file: x
    run: ruby "unterminated
`))
	if !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage, got %v", err)
	}
	if _, err := r.Get("Broken"); !errors.Is(err, ErrLanguageNotFound) {
		t.Fatalf("broken entry must not be registered")
	}
}
