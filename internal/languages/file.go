package languages

import (
	"fmt"
	"os"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// fileEntry is one language in a profiles file. Commands are shell-style strings;
// an empty compile command makes the language interpreted.
type fileEntry struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Image      string `yaml:"image"`
	SourceFile string `yaml:"source_file"`
	Compile    string `yaml:"compile"`
	Run        string `yaml:"run"`
}

type profilesFile struct {
	Languages []fileEntry `yaml:"languages"`
}

// LoadFile registers every language in a YAML profiles file, replacing built-in entries
// with the same id.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read language profiles: %w", err)
	}
	return r.Load(data)
}

func (r *Registry) Load(data []byte) error {
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse language profiles: %w", err)
	}

	langs := make([]Language, 0, len(file.Languages))
	for _, entry := range file.Languages {
		lang, err := entry.toLanguage()
		if err != nil {
			return err
		}
		if err := validate(lang); err != nil {
			return err
		}
		langs = append(langs, lang)
	}

	for _, lang := range langs {
		if err := r.Register(lang); err != nil {
			return err
		}
	}
	return nil
}

func (e fileEntry) toLanguage() (Language, error) {
	run, err := shlex.Split(e.Run)
	if err != nil {
		return Language{}, fmt.Errorf("%w: %s: parse run command: %v", ErrInvalidLanguage, e.ID, err)
	}

	name := e.Name
	if name == "" {
		name = e.ID
	}
	lang := Language{
		ID:         e.ID,
		Name:       name,
		Image:      e.Image,
		SourceFile: e.SourceFile,
		Pipeline:   Interpreted{Run: run},
	}

	if e.Compile != "" {
		compile, err := shlex.Split(e.Compile)
		if err != nil {
			return Language{}, fmt.Errorf("%w: %s: parse compile command: %v", ErrInvalidLanguage, e.ID, err)
		}
		lang.Pipeline = Compiled{Compile: compile, Run: run}
	}
	return lang, nil
}
