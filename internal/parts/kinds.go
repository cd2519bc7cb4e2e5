package parts

import (
	"fmt"

	"github.com/simpletalk/kernel/internal/core/part"
)

// Stack holds cards.
type Stack struct{}

func (s *Stack) Kind() part.Kind                           { return part.KindStack }
func (s *Stack) AcceptedChildKinds() []part.Kind           { return []part.Kind{part.KindCard} }
func (s *Stack) OnPropertyChanged(*part.Part, string, any) {}

func (s *Stack) DeclareProperties(p *part.Part) error {
	return declare(p, prop{"currentCard", ""})
}

// Card holds the visible parts.
type Card struct{}

func (c *Card) Kind() part.Kind                           { return part.KindCard }
func (c *Card) DeclareProperties(*part.Part) error        { return nil }
func (c *Card) OnPropertyChanged(*part.Part, string, any) {}

func (c *Card) AcceptedChildKinds() []part.Kind {
	return []part.Kind{part.KindField, part.KindButton, part.KindSvg, part.KindVisionField}
}

// Field is an editable text container.
type Field struct{}

func (f *Field) Kind() part.Kind                           { return part.KindField }
func (f *Field) AcceptedChildKinds() []part.Kind           { return nil }
func (f *Field) OnPropertyChanged(*part.Part, string, any) {}

func (f *Field) DeclareProperties(p *part.Part) error {
	return declare(p,
		prop{"autoSelect", false},
		prop{"autoTab", false},
		prop{"lockText", false},
		prop{"showLines", false},
		prop{"dontWrap", false},
		prop{"multipleLines", false},
		prop{"scroll", 0.0},
		prop{"sharedText", false},
		prop{"wideMargins", false},
		prop{"textContent", ""},
	)
}

// Button responds to clicks.
type Button struct{}

func (b *Button) Kind() part.Kind                           { return part.KindButton }
func (b *Button) AcceptedChildKinds() []part.Kind           { return nil }
func (b *Button) OnPropertyChanged(*part.Part, string, any) {}

func (b *Button) DeclareProperties(p *part.Part) error {
	if err := p.Set("name", fmt.Sprintf("Button %s", p.ID())); err != nil {
		return err
	}
	return p.Set("events", []string{"click"})
}

// Svg shows a vector image.
type Svg struct{}

const svgPlaceholder = "/images/noun_svg_placeholder.svg"

func (s *Svg) Kind() part.Kind                           { return part.KindSvg }
func (s *Svg) AcceptedChildKinds() []part.Kind           { return nil }
func (s *Svg) OnPropertyChanged(*part.Part, string, any) {}

func (s *Svg) DeclareProperties(p *part.Part) error {
	if err := declare(p,
		prop{"src", svgPlaceholder},
		prop{"draggable", true},
	); err != nil {
		return err
	}
	if err := p.Set("name", fmt.Sprintf("Svg %s", p.ID())); err != nil {
		return err
	}
	return p.Set("events", []string{"click", "dragstart"})
}
