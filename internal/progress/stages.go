package progress

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/language"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

//go:embed stages.yaml
var defaultStages []byte

// StageTemplate is a process stage as described in a stages file.
type StageTemplate struct {
	Stage       ProcessStage `yaml:"stage"`
	Steps       []Step       `yaml:"steps"`
	RunningText string       `yaml:"runningText"`
	SuccessText string       `yaml:"successText"`
	FailedText  string       `yaml:"failedText"`
}

// Stages is the content of a stages file: the stage templates and the
// translations of their texts, keyed by language and original text.
type Stages struct {
	Stages       []StageTemplate              `yaml:"stages"`
	Translations map[string]map[string]string `yaml:"translations"`
}

// LoadStages decodes a stages file.
func LoadStages(r io.Reader) (*Stages, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Stages
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("could not decode stages: %w", err)
	}

	return &s, nil
}

// LoadStagesFile decodes the stages file at path, the embedded default
// stages are used when path is empty.
func LoadStagesFile(path string) (*Stages, error) {
	if path == "" {
		return DefaultStages()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open stages file: %w", err)
	}
	defer f.Close()

	return LoadStages(f)
}

// DefaultStages returns the embedded stages.
func DefaultStages() (*Stages, error) {
	return LoadStages(bytes.NewReader(defaultStages))
}

// Catalog returns a message catalog with the translations of the stages.
func (s *Stages) Catalog() (catalog.Catalog, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for lang, msgs := range s.Translations {
		tag, err := language.Parse(lang)
		if err != nil {
			return nil, fmt.Errorf("invalid translation language %q: %w", lang, err)
		}

		for key, msg := range msgs {
			if err := b.SetString(tag, escapeFormat(key), escapeFormat(msg)); err != nil {
				return nil, fmt.Errorf("could not set %s translation: %w", lang, err)
			}
		}
	}

	return b, nil
}

// Register pushes all the stage templates into the manager.
func (s *Stages) Register(m *Manager) error {
	for _, st := range s.Stages {
		err := m.Push(st.Stage, st.Steps, st.RunningText, st.SuccessText, st.FailedText)
		if err != nil {
			return err
		}
	}

	return nil
}
