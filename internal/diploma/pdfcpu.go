package diploma

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

func init() {
	// Cloud Functions only allow writes under the temp dir, so pdfcpu must
	// not create its config dir in $HOME.
	api.DisableConfigDir()
}

// PDFCPUFiller fills and flattens the template with pdfcpu.
//
// pdfcpu has no flatten operation, so flattening is done by hand: every
// widget annotation and the AcroForm are dropped, then each field's text is
// stamped onto its page inside the field rectangle, with an embedded user
// font. Identical input yields byte-identical output.
type PDFCPUFiller struct {
	defaultFontSize float64
}

// NewPDFCPUFiller prepares the process-wide pdfcpu font directory under
// fontBaseDir (the system temp dir when empty). The directory is fixed by the
// first call; a later call naming a different base dir fails.
// defaultFontSize is used for fields whose appearance string has no usable
// size.
func NewPDFCPUFiller(fontBaseDir string, defaultFontSize float64) (*PDFCPUFiller, error) {
	if err := userFonts.init(fontBaseDir); err != nil {
		return nil, fmt.Errorf("failed to prepare pdfcpu font dir: %w", err)
	}
	return &PDFCPUFiller{defaultFontSize: defaultFontSize}, nil
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (f *PDFCPUFiller) Fill(ctx context.Context, doc Document) ([]byte, error) {
	// pdfcpu keeps user font metrics and subset glyph usage in package state.
	userFonts.mu.Lock()
	defer userFonts.mu.Unlock()

	pdfCtx, err := api.ReadContext(bytes.NewReader(doc.Template), newConfiguration())
	if err != nil {
		return nil, &GenerationError{Stage: StageLoad, Err: fmt.Errorf("read template: %w", err)}
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, &GenerationError{Stage: StageLoad, Err: fmt.Errorf("validate template: %w", err)}
	}
	form, err := readForm(pdfCtx)
	if err != nil {
		return nil, &GenerationError{Stage: StageLoad, Err: err}
	}
	placements, err := form.locate(doc.Fields)
	if err != nil {
		return nil, &GenerationError{Stage: StageField, Err: err}
	}

	latinName, err := userFonts.install(doc.LatinFont)
	if err != nil {
		return nil, &GenerationError{Stage: StageFont, Err: fmt.Errorf("latin font: %w", err)}
	}
	cjkName, err := userFonts.install(doc.CJKFont)
	if err != nil {
		return nil, &GenerationError{Stage: StageFont, Err: fmt.Errorf("cjk font: %w", err)}
	}
	if err := ctx.Err(); err != nil {
		return nil, &GenerationError{Stage: StageFill, Err: err}
	}

	stamps := make([]*model.Watermark, len(doc.Fields))
	for i, fill := range doc.Fields {
		p := placements[i]
		size := fill.FontSize
		if size == 0 {
			size = p.fontSize
		}
		if size == 0 {
			size = f.defaultFontSize
		}
		fontName := latinName
		if fill.Script == ScriptOther {
			fontName = cjkName
		}
		if stamps[i], err = textStamp(fill.Text, fontName, size, p); err != nil {
			return nil, &GenerationError{Stage: StageFill, Err: fmt.Errorf("field %s: %w", fill.Field, err)}
		}
	}

	if err := form.flatten(pdfCtx); err != nil {
		return nil, &GenerationError{Stage: StageFlatten, Err: err}
	}
	if err := api.OptimizeContext(pdfCtx); err != nil {
		return nil, &GenerationError{Stage: StageFlatten, Err: fmt.Errorf("optimize: %w", err)}
	}
	// One stamp per call: pdfcpu resolves the fonts of a call in map order,
	// which would shuffle object numbers between runs.
	for i, wm := range stamps {
		p := placements[i]
		if err := pdfcpu.AddWatermarksSliceMap(pdfCtx, map[int][]*model.Watermark{p.page: {wm}}); err != nil {
			return nil, &GenerationError{Stage: StageFlatten, Err: fmt.Errorf("stamp field %s: %w", doc.Fields[i].Field, err)}
		}
	}
	pinSubsetTags(pdfCtx, latinName, cjkName)

	// Plain objects and a classic xref table keep the info dict and trailer
	// uncompressed, so the write stamps can be pinned in place.
	pdfCtx.WriteObjectStream = false
	pdfCtx.WriteXRefStream = false
	var out bytes.Buffer
	if err := api.WriteContext(pdfCtx, &out); err != nil {
		return nil, &GenerationError{Stage: StageSave, Err: fmt.Errorf("write: %w", err)}
	}
	pdf, err := pinWriteStamps(pdfCtx, out.Bytes())
	if err != nil {
		return nil, &GenerationError{Stage: StageSave, Err: err}
	}
	return pdf, nil
}

// Variable text quadding (the Q entry of a field).
const (
	quadUnset  = -1
	quadLeft   = 0
	quadCenter = 1
	quadRight  = 2
)

// fieldPadding insets left and right aligned text from the field border.
const fieldPadding = 2.0

func textStamp(text, fontName string, size float64, p placement) (*model.Watermark, error) {
	points := max(1, int(math.Round(size)))
	cx, cy := p.rect.center()

	// Offsets are relative to the anchor on the page: the left edge, the
	// right edge or the centre.
	position, dx := "c", cx-p.pageWidth/2
	switch p.quadding {
	case quadLeft:
		position, dx = "l", p.rect.llx+fieldPadding
	case quadRight:
		position, dx = "r", p.rect.urx-fieldPadding-p.pageWidth
	}
	desc := fmt.Sprintf(
		"fontname:%s, points:%d, position:%s, offset:%.2f %.2f, scalefactor:1 abs, rotation:0, fillcolor:#000000, opacity:1",
		fontName, points, position, dx, cy-p.pageHeight/2,
	)
	wm, err := api.TextWatermark(stampText(text), desc, true, false, types.POINTS)
	if err != nil {
		return nil, err
	}
	// Split from raw UTF-16 bytes, so runes like U+4E0A break it apart.
	// Rendering reads TextString.
	wm.TextLines = nil
	return wm, nil
}

const zeroWidthSpace = '\u200b'

// stampText keeps pdfcpu from interpreting field text: %p %P %t %v are
// page, count, time and version placeholders, a literal backslash-n is a
// line break, and control characters would split or garble the line.
func stampText(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '%':
			// pdfcpu drops one percent sign from every run.
			j := i
			for j < len(runes) && runes[j] == '%' {
				j++
			}
			b.WriteString(strings.Repeat("%", j-i+1))
			if j < len(runes) && strings.ContainsRune("pPtv", runes[j]) {
				b.WriteRune(zeroWidthSpace)
			}
			i = j - 1
		case r == '\\' && i+1 < len(runes) && runes[i+1] == 'n':
			b.WriteRune(r)
			b.WriteRune(zeroWidthSpace)
		case unicode.IsControl(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// pinSubsetTags replaces the random six letter subset tags pdfcpu gives the
// embedded user fonts with tags numbered in object order.
func pinSubsetTags(ctx *model.Context, fontNames ...string) {
	tags := make(map[string]string)
	for objNr := 0; objNr < *ctx.XRefTable.Size; objNr++ {
		entry, ok := ctx.XRefTable.Table[objNr]
		if !ok || entry.Free {
			continue
		}
		d, ok := entry.Object.(types.Dict)
		if !ok {
			continue
		}
		for _, key := range []string{"BaseFont", "FontName"} {
			n, ok := d[key].(types.Name)
			if !ok {
				continue
			}
			tag, base, ok := strings.Cut(string(n), "+")
			if !ok || len(tag) != 6 || !slices.Contains(fontNames, base) {
				continue
			}
			pinned, ok := tags[tag]
			if !ok {
				pinned = subsetTag(len(tags))
				tags[tag] = pinned
			}
			d[key] = types.Name(pinned + "+" + base)
		}
	}
}

func subsetTag(i int) string {
	b := []byte("AAAAAA")
	for j := len(b) - 1; j >= 0 && i > 0; j-- {
		b[j] = byte('A' + i%26)
		i /= 26
	}
	return string(b)
}

var pinnedDate = types.DateString(time.Unix(0, 0).UTC())

// pinWriteStamps swaps the wall clock dates pdfcpu writes into the info dict
// for the epoch, and the time based file ID for a digest of the document.
// Replacements keep their length, so the xref offsets stay valid.
func pinWriteStamps(ctx *model.Context, pdf []byte) ([]byte, error) {
	if ctx.Encrypt != nil {
		return pdf, nil
	}
	if ctx.Info != nil {
		d, err := ctx.DereferenceDict(*ctx.Info)
		if err != nil {
			return nil, fmt.Errorf("info dict: %w", err)
		}
		for _, key := range []string{"CreationDate", "ModDate"} {
			if s := d.StringEntry(key); s != nil && len(*s) == len(pinnedDate) {
				pdf = bytes.ReplaceAll(pdf, []byte("("+*s+")"), []byte("("+pinnedDate+")"))
			}
		}
	}
	if len(ctx.ID) != 2 {
		return pdf, nil
	}
	fid, ok := ctx.ID[1].(types.HexLiteral)
	if !ok || len(fid) == 0 || len(fid) > 2*sha256.Size {
		return pdf, nil
	}
	written := []byte("<" + string(fid) + ">")
	zeroed := []byte("<" + strings.Repeat("0", len(fid)) + ">")
	pdf = bytes.ReplaceAll(pdf, written, zeroed)
	sum := sha256.Sum256(pdf)
	id := hex.EncodeToString(sum[:])[:len(fid)]
	return bytes.ReplaceAll(pdf, zeroed, []byte("<"+id+">")), nil
}

// ─── ACROFORM ─────────────────────────────────────────────────────────────────

type rect struct {
	llx, lly, urx, ury float64
}

func (r rect) center() (float64, float64) {
	return (r.llx + r.urx) / 2, (r.lly + r.ury) / 2
}

type widgetRef struct {
	objNr int // zero for a direct dictionary
	dict  types.Dict
}

type formField struct {
	name     string
	da       string
	quadding int
	widgets  []widgetRef
}

type placement struct {
	page                  int
	pageWidth, pageHeight float64
	rect                  rect
	fontSize              float64
	quadding              int
}

type acroForm struct {
	ctx      *model.Context
	fields   map[string]*formField
	widgets  map[int]bool
	annotPg  map[int]int // widget object number -> page number
	pageRefs map[int]int // page object number -> page number
	dims     []types.Dim
}

var daFontSize = regexp.MustCompile(`([0-9]*\.?[0-9]+)\s+Tf`)

func readForm(ctx *model.Context) (*acroForm, error) {
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	dims, err := ctx.PageDims()
	if err != nil {
		return nil, fmt.Errorf("page dimensions: %w", err)
	}

	form := &acroForm{
		ctx:      ctx,
		fields:   make(map[string]*formField),
		widgets:  make(map[int]bool),
		annotPg:  make(map[int]int),
		pageRefs: make(map[int]int),
		dims:     dims,
	}

	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageDict, pageRef, _, err := ctx.PageDict(pageNr, false)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageNr, err)
		}
		if pageRef != nil {
			form.pageRefs[int(pageRef.ObjectNumber)] = pageNr
		}
		annots, err := ctx.DereferenceArray(pageDict["Annots"])
		if err != nil {
			return nil, fmt.Errorf("page %d annotations: %w", pageNr, err)
		}
		for _, a := range annots {
			if ir, ok := a.(types.IndirectRef); ok {
				form.annotPg[int(ir.ObjectNumber)] = pageNr
			}
		}
	}

	root, err := ctx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	acro, err := ctx.DereferenceDict(root["AcroForm"])
	if err != nil {
		return nil, fmt.Errorf("acroform: %w", err)
	}
	if acro == nil {
		return form, nil
	}
	da, err := textOf(ctx, acro["DA"])
	if err != nil {
		return nil, fmt.Errorf("acroform DA: %w", err)
	}
	q, err := quaddingOf(ctx, acro, quadUnset)
	if err != nil {
		return nil, fmt.Errorf("acroform Q: %w", err)
	}
	fields, err := ctx.DereferenceArray(acro["Fields"])
	if err != nil {
		return nil, fmt.Errorf("acroform fields: %w", err)
	}
	for _, o := range fields {
		if err := form.visit(o, nil, "", da, q); err != nil {
			return nil, err
		}
	}
	return form, nil
}

// visit walks one node of the field tree. Nodes with a T entry are fields;
// widget nodes are attached to the nearest field above them. DA and Q are
// inherited.
func (f *acroForm) visit(o types.Object, parent *formField, prefix, da string, q int) error {
	d, err := f.ctx.DereferenceDict(o)
	if err != nil {
		return fmt.Errorf("field dict: %w", err)
	}
	if d == nil {
		return nil
	}
	if v, ok := d["DA"]; ok {
		if da, err = textOf(f.ctx, v); err != nil {
			return fmt.Errorf("field DA: %w", err)
		}
	}
	if q, err = quaddingOf(f.ctx, d, q); err != nil {
		return fmt.Errorf("field Q: %w", err)
	}

	field := parent
	t, err := textOf(f.ctx, d["T"])
	if err != nil {
		return fmt.Errorf("field name: %w", err)
	}
	if t != "" {
		name := t
		if prefix != "" {
			name = prefix + "." + t
		}
		field = &formField{name: name, da: da, quadding: q}
		f.fields[name] = field
		prefix = name
	}

	if isWidget(d) {
		w := widgetRef{dict: d}
		if ir, ok := o.(types.IndirectRef); ok {
			w.objNr = int(ir.ObjectNumber)
			f.widgets[w.objNr] = true
		}
		if field != nil {
			field.widgets = append(field.widgets, w)
		}
	}

	kids, err := f.ctx.DereferenceArray(d["Kids"])
	if err != nil {
		return fmt.Errorf("field kids: %w", err)
	}
	for _, k := range kids {
		if err := f.visit(k, field, prefix, da, q); err != nil {
			return err
		}
	}
	return nil
}

// locate resolves the page, rectangle and template font size of each fill,
// in order.
func (f *acroForm) locate(fills []FieldFill) ([]placement, error) {
	placements := make([]placement, 0, len(fills))
	for _, fill := range fills {
		field, ok := f.fields[string(fill.Field)]
		if !ok || len(field.widgets) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, fill.Field)
		}
		w := field.widgets[0]

		page := f.pageOf(w)
		if page == 0 || page > len(f.dims) {
			return nil, fmt.Errorf("field %s: widget is not placed on any page", fill.Field)
		}
		r, err := rectOf(f.ctx, w.dict)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fill.Field, err)
		}
		placements = append(placements, placement{
			page:       page,
			pageWidth:  f.dims[page-1].Width,
			pageHeight: f.dims[page-1].Height,
			rect:       r,
			fontSize:   fontSizeOf(field.da),
			quadding:   field.quadding,
		})
	}
	return placements, nil
}

func (f *acroForm) pageOf(w widgetRef) int {
	if pg, ok := f.annotPg[w.objNr]; ok && w.objNr != 0 {
		return pg
	}
	if ir, ok := w.dict["P"].(types.IndirectRef); ok {
		return f.pageRefs[int(ir.ObjectNumber)]
	}
	return 0
}

// flatten removes every widget annotation from the pages and drops the
// AcroForm, leaving no interactive fields behind.
func (f *acroForm) flatten(ctx *model.Context) error {
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageDict, _, _, err := ctx.PageDict(pageNr, false)
		if err != nil {
			return fmt.Errorf("page %d: %w", pageNr, err)
		}
		annots, err := ctx.DereferenceArray(pageDict["Annots"])
		if err != nil {
			return fmt.Errorf("page %d annotations: %w", pageNr, err)
		}
		if len(annots) == 0 {
			continue
		}
		kept := make(types.Array, 0, len(annots))
		for _, a := range annots {
			switch v := a.(type) {
			case types.IndirectRef:
				if f.widgets[int(v.ObjectNumber)] {
					continue
				}
			case types.Dict:
				if isWidget(v) {
					continue
				}
			}
			kept = append(kept, a)
		}
		if len(kept) == 0 {
			pageDict.Delete("Annots")
		} else {
			pageDict["Annots"] = kept
		}
	}

	root, err := ctx.Catalog()
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	root.Delete("AcroForm")
	return nil
}

func isWidget(d types.Dict) bool {
	st := d.NameEntry("Subtype")
	return st != nil && *st == "Widget"
}

func textOf(ctx *model.Context, o types.Object) (string, error) {
	if o == nil {
		return "", nil
	}
	o, err := ctx.Dereference(o)
	if err != nil {
		return "", err
	}
	switch v := o.(type) {
	case nil:
		return "", nil
	case types.StringLiteral:
		return types.StringLiteralToString(v)
	case types.HexLiteral:
		return types.HexLiteralToString(v)
	default:
		return "", fmt.Errorf("expected string, got %T", o)
	}
}

func rectOf(ctx *model.Context, d types.Dict) (rect, error) {
	arr, err := ctx.DereferenceArray(d["Rect"])
	if err != nil {
		return rect{}, fmt.Errorf("rect: %w", err)
	}
	if len(arr) != 4 {
		return rect{}, errors.New("rect: expected 4 numbers")
	}
	var v [4]float64
	for i, o := range arr {
		n, err := ctx.Dereference(o)
		if err != nil {
			return rect{}, fmt.Errorf("rect: %w", err)
		}
		switch x := n.(type) {
		case types.Integer:
			v[i] = float64(x)
		case types.Float:
			v[i] = float64(x)
		default:
			return rect{}, fmt.Errorf("rect: unexpected %T", n)
		}
	}
	return rect{
		llx: math.Min(v[0], v[2]),
		lly: math.Min(v[1], v[3]),
		urx: math.Max(v[0], v[2]),
		ury: math.Max(v[1], v[3]),
	}, nil
}

// quaddingOf reads the Q entry of d, falling back to inherited.
func quaddingOf(ctx *model.Context, d types.Dict, inherited int) (int, error) {
	o, ok := d["Q"]
	if !ok {
		return inherited, nil
	}
	o, err := ctx.Dereference(o)
	if err != nil {
		return 0, err
	}
	q, ok := o.(types.Integer)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %T", o)
	}
	switch n := int(q); n {
	case quadLeft, quadCenter, quadRight:
		return n, nil
	default:
		return inherited, nil
	}
}

// fontSizeOf extracts the size operand of the Tf operator in a default
// appearance string. Zero means auto size or unknown.
func fontSizeOf(da string) float64 {
	m := daFontSize.FindStringSubmatch(da)
	if m == nil {
		return 0
	}
	size, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return size
}

// ─── USER FONTS ───────────────────────────────────────────────────────────────

// fontRegistry installs font programs into pdfcpu's process-wide user font
// directory, once per distinct program.
type fontRegistry struct {
	once    sync.Once
	baseDir string
	err     error
	mu      sync.Mutex
	names   map[string]string // sha256 of font program -> pdfcpu font name
}

var userFonts = &fontRegistry{names: make(map[string]string)}

var errFontDirFixed = errors.New("pdfcpu font dir is already set")

// init creates the font directory once per process. pdfcpu reads it from a
// package variable, so a second base dir cannot take effect.
func (r *fontRegistry) init(baseDir string) error {
	r.once.Do(func() {
		r.baseDir = baseDir
		dir, err := os.MkdirTemp(baseDir, "pdfcpu-fonts-*")
		if err != nil {
			r.err = err
			return
		}
		font.UserFontDir = dir
	})
	if r.err != nil {
		return r.err
	}
	if baseDir != r.baseDir {
		return fmt.Errorf("%w under %q, cannot move it to %q", errFontDirFixed, r.baseDir, baseDir)
	}
	return nil
}

// install registers a TrueType program and returns the name pdfcpu knows it
// by. The caller must hold r.mu.
func (r *fontRegistry) install(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty font program")
	}
	key := fontHash(data)
	if name, ok := r.names[key]; ok {
		return name, nil
	}

	tmp, err := os.MkdirTemp("", "diploma-font-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)
	path := filepath.Join(tmp, key[:16]+".ttf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write font: %w", err)
	}

	before := make(map[string]bool)
	for _, n := range font.UserFontNames() {
		before[n] = true
	}
	if err := api.InstallFonts([]string{path}); err != nil {
		return "", fmt.Errorf("install font: %w", err)
	}
	if err := font.LoadUserFonts(); err != nil {
		return "", fmt.Errorf("load user fonts: %w", err)
	}
	for _, n := range font.UserFontNames() {
		if !before[n] {
			r.names[key] = n
			slog.Info("Installed user font.", "font", n, "sha256", key)
			return n, nil
		}
	}
	// The program shares its PostScript name with an already installed one.
	return "", errors.New("font installed but registered no new font name")
}

func fontHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
