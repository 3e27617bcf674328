// Package welcome defines the welcome package: the ordered list of
// messages sent to a contact once friendship is confirmed.
package welcome

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/friendflow/internal/config"
)

// Kind is the type of a welcome step.
type Kind int

const (
	KindText Kind = iota
	KindImage
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindLink:
		return "link"
	default:
		return "text"
	}
}

// Step is one message of the welcome package. Only the fields for its Kind
// are set.
type Step struct {
	Kind    Kind
	Content string // text
	Path    string // image file
	URL     string // link
	Title   string // optional link title
}

// Text builds a text step.
func Text(content string) Step { return Step{Kind: KindText, Content: content} }

// Image builds an image step.
func Image(path string) Step { return Step{Kind: KindImage, Path: path} }

// Link builds a link step.
func Link(url, title string) Step { return Step{Kind: KindLink, URL: url, Title: title} }

// Message is the text to paste for text and link steps. A link with a
// title is sent as "title\nurl".
func (s Step) Message() string {
	if s.Kind == KindLink && s.Title != "" {
		return s.Title + "\n" + s.URL
	}
	if s.Kind == KindLink {
		return s.URL
	}
	return s.Content
}

func (s Step) String() string {
	switch s.Kind {
	case KindImage:
		return "image:" + filepath.Base(s.Path)
	case KindLink:
		return "link:" + s.URL
	default:
		preview := []rune(s.Content)
		if len(preview) > 20 {
			return "text:" + string(preview[:20]) + "…"
		}
		return "text:" + s.Content
	}
}

// Normalize converts raw steps, trimming values and dropping steps of
// unknown type or without their required value.
func Normalize(raw []config.StepConfig) []Step {
	steps := make([]Step, 0, len(raw))
	for _, r := range raw {
		switch strings.ToLower(strings.TrimSpace(r.Type)) {
		case "", "text":
			if c := strings.TrimSpace(r.Content); c != "" {
				steps = append(steps, Text(c))
			}
		case "image":
			if p := strings.TrimSpace(r.Path); p != "" {
				steps = append(steps, Image(p))
			}
		case "link":
			if u := strings.TrimSpace(r.URL); u != "" {
				steps = append(steps, Link(u, strings.TrimSpace(r.Title)))
			}
		}
	}
	return steps
}

// Legacy builds steps from the single text plus "|" separated image paths
// form. The text comes first.
func Legacy(text, imagePaths string) []Step {
	var steps []Step
	if t := strings.TrimSpace(text); t != "" {
		steps = append(steps, Text(t))
	}
	for _, p := range strings.Split(imagePaths, "|") {
		if p = strings.TrimSpace(p); p != "" {
			steps = append(steps, Image(p))
		}
	}
	return steps
}

// stepsFile accepts either a bare list or a {steps: [...]} document.
type stepsFile struct {
	Steps []config.StepConfig `yaml:"steps"`
}

// LoadFile reads a YAML (or JSON) step list.
func LoadFile(path string) ([]Step, error) {
	raw, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Normalize(raw), nil
}

// ReadFile parses a steps file without normalizing it.
func ReadFile(path string) ([]config.StepConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read steps file: %w", err)
	}

	var list []config.StepConfig
	if err := yaml.Unmarshal(data, &list); err != nil {
		var doc stepsFile
		if docErr := yaml.Unmarshal(data, &doc); docErr != nil {
			return nil, fmt.Errorf("parse steps file %s: %w", path, err)
		}
		list = doc.Steps
	}
	return list, nil
}

// Source names where a step list came from.
type Source string

const (
	SourceFile   Source = "file"
	SourceInline Source = "inline"
	SourceLegacy Source = "legacy"
	SourceNone   Source = "none"
)

// Resolve picks the step list: the steps file when set, then inline steps,
// then the legacy text/images fields.
func Resolve(cfg config.WelcomeConfig) ([]Step, Source, error) {
	if cfg.StepsFile != "" {
		steps, err := LoadFile(cfg.StepsFile)
		if err != nil {
			return nil, SourceFile, err
		}
		return steps, SourceFile, nil
	}
	if steps := Normalize(cfg.Steps); len(steps) > 0 {
		return steps, SourceInline, nil
	}
	if steps := Legacy(cfg.Text, cfg.ImagePaths); len(steps) > 0 {
		return steps, SourceLegacy, nil
	}
	return nil, SourceNone, nil
}
