package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hookbot/hookbot/internal/event"
	"github.com/hookbot/hookbot/internal/labeler"
	"github.com/hookbot/hookbot/internal/respond"
)

// Rules overrides the built-in keyword rules, topic table and comment
// templates. Omitted sections keep their defaults.
type Rules struct {
	Keywords  []labeler.Rule       `yaml:"keywords"`
	Topics    []respond.TopicEntry `yaml:"topics"`
	Templates map[string]string    `yaml:"templates"`
}

// DefaultRules returns the built-in tables.
func DefaultRules() *Rules {
	return &Rules{Keywords: labeler.DefaultRules, Topics: respond.DefaultTopics}
}

// LoadRules reads a YAML rules file. An empty path returns DefaultRules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes and validates a rules document. Unknown fields are
// rejected so typos do not silently fall back to defaults.
func ParseRules(raw []byte) (*Rules, error) {
	var r Rules
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if r.Keywords == nil {
		r.Keywords = labeler.DefaultRules
	}
	if r.Topics == nil {
		r.Topics = respond.DefaultTopics
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) Validate() error {
	var errs []error
	if _, err := labeler.New(r.Keywords); err != nil {
		errs = append(errs, err)
	}
	for i, topic := range r.Topics {
		if len(topic.Terms) == 0 {
			errs = append(errs, fmt.Errorf("topic %d: at least one term is required", i))
		}
		for _, k := range topic.Keys {
			if !k.Valid() {
				errs = append(errs, fmt.Errorf("topic %d: unknown action key %q", i, k))
			}
		}
	}
	for name := range r.Templates {
		switch name {
		case respond.TemplateWelcome, respond.TemplateSimilar, respond.TemplateBranchMissing:
			continue
		}
		if !event.ActionKey(name).Valid() {
			errs = append(errs, fmt.Errorf("template %q: not a template name or action key", name))
		}
	}
	return errors.Join(errs...)
}
