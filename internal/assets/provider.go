// Package assets fetches the diploma template and font programs.
//
// Every asset is addressed by an ID and resolved through a location URI, so
// the generator never knows whether bytes came from GitHub, a GCS bucket, a
// local file, or a cache.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

// ID names one asset the generator needs.
type ID string

const (
	Template  ID = "template"
	LatinFont ID = "font-latin"
	CJKFont   ID = "font-cjk"
)

var (
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrUnsupportedScheme = errors.New("unsupported asset location scheme")
)

// Provider returns the bytes of an asset. Implementations must be safe for
// concurrent use and must not expect callers to modify the returned slice.
type Provider interface {
	Fetch(ctx context.Context, id ID) ([]byte, error)
}

// Fetcher reads the resource at a location URI of one scheme.
type Fetcher interface {
	Fetch(ctx context.Context, location *url.URL) ([]byte, error)
}

// LocationProvider resolves asset IDs to URIs and dispatches on the URI scheme.
type LocationProvider struct {
	locations map[ID]string
	fetchers  map[string]Fetcher
}

// NewLocationProvider returns a Provider over the given ID to URI table.
// Fetchers are registered per scheme with Register.
func NewLocationProvider(locations map[ID]string) *LocationProvider {
	return &LocationProvider{
		locations: locations,
		fetchers:  make(map[string]Fetcher),
	}
}

// Register makes f handle every location with the given scheme.
func (p *LocationProvider) Register(scheme string, f Fetcher) *LocationProvider {
	p.fetchers[scheme] = f
	return p
}

func (p *LocationProvider) Fetch(ctx context.Context, id ID) ([]byte, error) {
	raw, ok := p.locations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	location, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("asset %s: invalid location %q: %w", id, raw, err)
	}
	fetcher, ok := p.fetchers[location.Scheme]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w %q", id, ErrUnsupportedScheme, location.Scheme)
	}

	data, err := fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("asset %s (%s): %w", id, raw, err)
	}
	slog.Debug("Fetched asset.", "asset", id, "location", raw, "bytes", len(data))
	return data, nil
}
