package diploma

import (
	"regexp"
	"unicode/utf16"

	"github.com/Lllllllleong/diplomaflow/internal/models"
)

// Field is the name of a text form field in the diploma template.
type Field string

const (
	FieldName   Field = "name"
	FieldMajor  Field = "major"
	FieldDegree Field = "degree"
)

// Script decides which embedded font renders a field.
type Script int

const (
	// ScriptLatin is plain ASCII letters, digits and whitespace.
	ScriptLatin Script = iota
	// ScriptOther is everything else, rendered with the CJK font.
	ScriptOther
)

func (s Script) String() string {
	if s == ScriptLatin {
		return "latin"
	}
	return "other"
}

var latinText = regexp.MustCompile(`^[0-9A-Za-z\s]+$`)

// ClassifyScript reports ScriptLatin only when every character of text is an
// ASCII letter, digit or whitespace. A single other character, or empty text,
// routes the whole field to ScriptOther.
func ClassifyScript(text string) Script {
	if latinText.MatchString(text) {
		return ScriptLatin
	}
	return ScriptOther
}

// Layout holds the width heuristic that shrinks long text. It assumes every
// glyph is GlyphWidth units wide; it does not measure the real font.
type Layout struct {
	GlyphWidth float64
	Budgets    map[Field]float64
}

// DefaultLayout returns the heuristic the diploma template was tuned for.
func DefaultLayout() Layout {
	return Layout{
		GlyphWidth: 40,
		Budgets: map[Field]float64{
			FieldName:   350,
			FieldMajor:  450,
			FieldDegree: 450,
		},
	}
}

// FontSize returns the shrunk font size for text in field, or ok=false when
// the estimated width fits the field's budget and the template's own size
// should be kept.
func (l Layout) FontSize(field Field, text string) (size float64, ok bool) {
	n := textLength(text)
	if n == 0 {
		return 0, false
	}
	budget := l.Budgets[field]
	if float64(n)*l.GlyphWidth <= budget {
		return 0, false
	}
	return budget / float64(n), true
}

// textLength counts UTF-16 code units, so characters outside the BMP count twice.
func textLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// FieldFill is everything the filler needs to render one field.
type FieldFill struct {
	Field  Field
	Text   string
	Script Script
	// FontSize is zero when the field keeps its template size.
	FontSize float64
}

// Plan computes the fill for every diploma field, in template order.
func (l Layout) Plan(f models.DiplomaFields) []FieldFill {
	texts := []struct {
		field Field
		text  string
	}{
		{FieldMajor, f.Major},
		{FieldName, f.Username},
		{FieldDegree, f.Degree},
	}

	fills := make([]FieldFill, 0, len(texts))
	for _, t := range texts {
		fill := FieldFill{Field: t.field, Text: t.text, Script: ClassifyScript(t.text)}
		if size, ok := l.FontSize(t.field, t.text); ok {
			fill.FontSize = size
		}
		fills = append(fills, fill)
	}
	return fills
}
