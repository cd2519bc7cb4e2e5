// Package data loads yaml world templates: the stacks, cards and parts a
// fresh world is built from when no snapshot has been saved yet.
package data

import (
	"fmt"
	"os"

	"github.com/simpletalk/kernel/internal/core/part"
	"gopkg.in/yaml.v3"
)

// PartTemplate describes one part and its subtree. Kind may be omitted for
// stacks (directly under the world) and cards (directly under a stack).
// Cards is read as a synonym for Parts and comes first.
type PartTemplate struct {
	Kind       part.Kind      `yaml:"kind"`
	Name       string         `yaml:"name"`
	Script     string         `yaml:"script"`
	Properties map[string]any `yaml:"properties"`
	Cards      []PartTemplate `yaml:"cards"`
	Parts      []PartTemplate `yaml:"parts"`
}

func (t *PartTemplate) children() []PartTemplate {
	if len(t.Cards) == 0 {
		return t.Parts
	}
	return append(append([]PartTemplate(nil), t.Cards...), t.Parts...)
}

// WorldTemplate is the root of a template file.
type WorldTemplate struct {
	Properties map[string]any `yaml:"properties"`
	Stacks     []PartTemplate `yaml:"stacks"`
}

// LoadWorldTemplate reads a template file.
func LoadWorldTemplate(path string) (*WorldTemplate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world template: %w", err)
	}
	return ParseWorldTemplate(raw)
}

func ParseWorldTemplate(raw []byte) (*WorldTemplate, error) {
	var wt WorldTemplate
	if err := yaml.Unmarshal(raw, &wt); err != nil {
		return nil, fmt.Errorf("parse world template: %w", err)
	}
	return &wt, nil
}

// DefaultWorld is one stack holding one empty card.
func DefaultWorld() *WorldTemplate {
	return &WorldTemplate{
		Stacks: []PartTemplate{{
			Name:  "Home",
			Parts: []PartTemplate{{Name: "Card 1"}},
		}},
	}
}

// Build creates the world and its subtree on f. On error nothing built is
// left registered.
func (wt *WorldTemplate) Build(f *part.Factory) (*part.Part, error) {
	world, err := f.New(part.KindWorld)
	if err != nil {
		return nil, err
	}
	if err := applyProps(world, wt.Properties); err != nil {
		f.Discard(world)
		return nil, err
	}
	for i := range wt.Stacks {
		if _, err := build(f, world, &wt.Stacks[i], part.KindStack); err != nil {
			f.Discard(world)
			return nil, fmt.Errorf("stack %d: %w", i, err)
		}
	}
	if err := defaultCurrent(world, "currentStack"); err != nil {
		f.Discard(world)
		return nil, err
	}
	return world, nil
}

func build(f *part.Factory, owner *part.Part, t *PartTemplate, implied part.Kind) (*part.Part, error) {
	kind := t.Kind
	if kind == "" {
		kind = implied
	}
	if kind == "" {
		return nil, fmt.Errorf("part %q under %s has no kind", t.Name, owner.Kind())
	}
	p, err := f.New(kind)
	if err != nil {
		return nil, err
	}
	if err := owner.AddChild(p); err != nil {
		f.Discard(p)
		return nil, err
	}
	if t.Name != "" {
		if err := p.Set("name", t.Name); err != nil {
			return nil, err
		}
	}
	if err := applyProps(p, t.Properties); err != nil {
		return nil, err
	}

	var childKind part.Kind
	if kind == part.KindStack {
		childKind = part.KindCard
	}
	children := t.children()
	for i := range children {
		if _, err := build(f, p, &children[i], childKind); err != nil {
			return nil, err
		}
	}
	if kind == part.KindStack {
		if err := defaultCurrent(p, "currentCard"); err != nil {
			return nil, err
		}
	}
	// Scripts last, so handlers compile against a complete subtree.
	if t.Script != "" {
		if err := p.Set("script", t.Script); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func applyProps(p *part.Part, props map[string]any) error {
	for name, v := range props {
		if err := p.Set(name, normalize(v)); err != nil {
			return fmt.Errorf("%s %s: %w", p.Kind(), p.ID(), err)
		}
	}
	return nil
}

// defaultCurrent points an empty current* property at the first child.
func defaultCurrent(p *part.Part, name string) error {
	cur, err := p.Get(name)
	if err != nil {
		return err
	}
	subs := p.Subparts()
	if s, _ := cur.(string); s != "" || len(subs) == 0 {
		return nil
	}
	return p.Set(name, subs[0].ID())
}

// normalize maps yaml scalars onto the shapes parts store: all numbers
// are float64 and lists of strings are []string.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []any:
		strs := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				out := make([]any, len(t))
				for i, e := range t {
					out[i] = normalize(e)
				}
				return out
			}
			strs = append(strs, s)
		}
		return strs
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	}
	return v
}
