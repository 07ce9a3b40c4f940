package languages

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrLanguageNotFound = errors.New("language not found")
	ErrInvalidLanguage  = errors.New("invalid language definition")
)

type Registry struct {
	mu        sync.RWMutex
	languages map[string]Language
}

func NewRegistry() *Registry {
	r := &Registry{
		languages: make(map[string]Language),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) Register(lang Language) error {
	if err := validate(lang); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.languages[lang.ID] = lang
	return nil
}

// Get looks a language up by exact id first, then case-insensitively.
func (r *Registry) Get(id string) (Language, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if lang, ok := r.languages[id]; ok {
		return lang, nil
	}
	for key, lang := range r.languages {
		if strings.EqualFold(key, id) {
			return lang, nil
		}
	}
	return Language{}, fmt.Errorf("%w: %s", ErrLanguageNotFound, id)
}

func (r *Registry) List() []Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]Language, 0, len(r.languages))
	for _, l := range r.languages {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i].ID < langs[j].ID })
	return langs
}

// Images returns every distinct image referenced by the registry.
func (r *Registry) Images() []string {
	seen := make(map[string]bool)
	var images []string
	for _, l := range r.List() {
		if !seen[l.Image] {
			seen[l.Image] = true
			images = append(images, l.Image)
		}
	}
	return images
}

func validate(lang Language) error {
	switch {
	case lang.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidLanguage)
	case lang.Image == "":
		return fmt.Errorf("%w: %s: image is required", ErrInvalidLanguage, lang.ID)
	case lang.SourceFile == "":
		return fmt.Errorf("%w: %s: source file is required", ErrInvalidLanguage, lang.ID)
	case lang.Pipeline == nil || len(lang.Pipeline.RunCommand()) == 0:
		return fmt.Errorf("%w: %s: run command is required", ErrInvalidLanguage, lang.ID)
	}
	if c, ok := lang.Pipeline.(Compiled); ok && len(c.Compile) == 0 {
		return fmt.Errorf("%w: %s: compile command is required", ErrInvalidLanguage, lang.ID)
	}
	return nil
}

func (r *Registry) registerDefaults() {
	defaults := []Language{
		{
			ID:         "JavaScript",
			Name:       "JavaScript",
			Image:      "node:18-alpine",
			SourceFile: "main.js",
			Pipeline:   Interpreted{Run: []string{"node", WorkDir + "/main.js"}},
		},
		{
			ID:         "Python",
			Name:       "Python",
			Image:      "python:3.10-alpine",
			SourceFile: "main.py",
			Pipeline:   Interpreted{Run: []string{"python", WorkDir + "/main.py"}},
		},
		{
			ID:         "Java",
			Name:       "Java",
			Image:      "openjdk:17-jdk-alpine",
			SourceFile: "Main.java",
			Pipeline: Compiled{
				Compile: []string{"javac", WorkDir + "/Main.java"},
				Run:     []string{"java", "-cp", WorkDir, "Main"},
			},
		},
		{
			ID:         "C++",
			Name:       "C++",
			Image:      "gcc:latest",
			SourceFile: "main.cpp",
			Pipeline: Compiled{
				Compile: []string{"g++", WorkDir + "/main.cpp", "-o", WorkDir + "/a.out"},
				Run:     []string{WorkDir + "/a.out"},
			},
		},
	}

	for _, lang := range defaults {
		if err := r.Register(lang); err != nil {
			panic(err)
		}
	}
}
