package diploma

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Lllllllleong/diplomaflow/internal/assets"
	"github.com/Lllllllleong/diplomaflow/internal/models"
)

type stubAssets struct {
	failOn assets.ID
}

func (s stubAssets) Fetch(_ context.Context, id assets.ID) ([]byte, error) {
	if id == s.failOn {
		return nil, errors.New("connection reset")
	}
	return []byte("asset:" + string(id)), nil
}

// recordingFiller renders a deterministic stand-in document from its input.
type recordingFiller struct {
	mu   sync.Mutex
	docs []Document
	err  error
}

func (f *recordingFiller) Fill(_ context.Context, doc Document) ([]byte, error) {
	f.mu.Lock()
	f.docs = append(f.docs, doc)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	for _, fill := range doc.Fields {
		fmt.Fprintf(&buf, "%s=%s/%s/%.2f\n", fill.Field, fill.Text, fill.Script, fill.FontSize)
	}
	return buf.Bytes(), nil
}

var johnSmith = models.DiplomaFields{
	Username: "John Smith",
	Major:    "Computer Science",
	Degree:   "Bachelor of Science",
}

func TestGenerateHandsAssetsAndPlanToFiller(t *testing.T) {
	filler := &recordingFiller{}
	g := NewGenerator(stubAssets{}, filler, DefaultLayout())

	pdf, err := g.Generate(context.Background(), johnSmith)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(pdf) == 0 {
		t.Fatal("expected non-empty document")
	}

	doc := filler.docs[0]
	if string(doc.Template) != "asset:template" || string(doc.LatinFont) != "asset:font-latin" || string(doc.CJKFont) != "asset:font-cjk" {
		t.Fatalf("assets not routed correctly: %q %q %q", doc.Template, doc.LatinFont, doc.CJKFont)
	}
	if len(doc.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(doc.Fields))
	}
	for _, f := range doc.Fields {
		if f.Script != ScriptLatin {
			t.Fatalf("field %s should use the latin font", f.Field)
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	g := NewGenerator(stubAssets{}, &recordingFiller{}, DefaultLayout())

	first, err := g.Generate(context.Background(), johnSmith)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Generate(context.Background(), johnSmith)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("identical inputs produced different documents")
	}
}

func TestGenerateFetchFailure(t *testing.T) {
	filler := &recordingFiller{}
	g := NewGenerator(stubAssets{failOn: assets.CJKFont}, filler, DefaultLayout())

	_, err := g.Generate(context.Background(), johnSmith)

	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Stage != StageFetch {
		t.Fatalf("expected fetch GenerationError, got %v", err)
	}
	if len(filler.docs) != 0 {
		t.Fatal("filler must not run when an asset is missing")
	}
}

func TestGenerateKeepsFillerStage(t *testing.T) {
	missing := &GenerationError{Stage: StageField, Err: fmt.Errorf("%w: degree", ErrFieldNotFound)}
	g := NewGenerator(stubAssets{}, &recordingFiller{err: missing}, DefaultLayout())

	_, err := g.Generate(context.Background(), johnSmith)

	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Stage != StageField {
		t.Fatalf("expected field GenerationError, got %v", err)
	}
	if !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound in chain, got %v", err)
	}
}

func TestGenerateWrapsPlainFillerError(t *testing.T) {
	g := NewGenerator(stubAssets{}, &recordingFiller{err: errors.New("boom")}, DefaultLayout())

	_, err := g.Generate(context.Background(), johnSmith)

	var gerr *GenerationError
	if !errors.As(err, &gerr) || gerr.Stage != StageFill {
		t.Fatalf("expected fill GenerationError, got %v", err)
	}
}
