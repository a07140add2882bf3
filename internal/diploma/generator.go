// Package diploma fills the diploma PDF template.
package diploma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/diplomaflow/internal/assets"
	"github.com/Lllllllleong/diplomaflow/internal/models"
	"golang.org/x/sync/errgroup"
)

// Stages at which document generation can fail.
const (
	StageFetch   = "fetch"
	StageLoad    = "load"
	StageFont    = "font"
	StageField   = "field"
	StageFill    = "fill"
	StageFlatten = "flatten"
	StageSave    = "save"
)

// ErrFieldNotFound is returned when the template lacks one of the diploma fields.
var ErrFieldNotFound = errors.New("form field not found")

// GenerationError is returned for every failure to produce a document.
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("diploma %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func stageError(stage string, err error) error {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return err
	}
	return &GenerationError{Stage: stage, Err: err}
}

// Document is the input of a single fill: the raw template, both font
// programs and the planned field contents.
type Document struct {
	Template  []byte
	LatinFont []byte
	CJKFont   []byte
	Fields    []FieldFill
}

// Filler renders a planned Document into a flattened PDF.
type Filler interface {
	Fill(ctx context.Context, doc Document) ([]byte, error)
}

// Generator produces diploma PDFs from request fields.
type Generator struct {
	assets assets.Provider
	filler Filler
	layout Layout
}

func NewGenerator(provider assets.Provider, filler Filler, layout Layout) *Generator {
	return &Generator{
		assets: provider,
		filler: filler,
		layout: layout,
	}
}

// Generate fetches the template and fonts, fills the three diploma fields
// and returns the flattened PDF bytes.
func (g *Generator) Generate(ctx context.Context, fields models.DiplomaFields) ([]byte, error) {
	doc := Document{Fields: g.layout.Plan(fields)}

	eg, gctx := errgroup.WithContext(ctx)
	fetch := func(id assets.ID, dst *[]byte) {
		eg.Go(func() error {
			data, err := g.assets.Fetch(gctx, id)
			if err != nil {
				return err
			}
			*dst = data
			return nil
		})
	}
	fetch(assets.Template, &doc.Template)
	fetch(assets.LatinFont, &doc.LatinFont)
	fetch(assets.CJKFont, &doc.CJKFont)
	if err := eg.Wait(); err != nil {
		return nil, stageError(StageFetch, err)
	}

	for _, f := range doc.Fields {
		slog.Debug("Planned diploma field.", "field", f.Field, "script", f.Script.String(), "fontSize", f.FontSize)
	}

	pdf, err := g.filler.Fill(ctx, doc)
	if err != nil {
		return nil, stageError(StageFill, err)
	}
	if len(pdf) == 0 {
		return nil, stageError(StageSave, errors.New("filler returned an empty document"))
	}
	return pdf, nil
}
