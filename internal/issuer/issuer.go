// Package issuer defines bank adapters: each adapter knows how to discover
// card detail page URLs for one issuer and how to reduce a card page to the
// text that matters for extraction.
package issuer

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
)

// PageFetcher fetches one page and returns its HTML. Implemented by the
// fetcher package; declared here so adapters stay transport-agnostic.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}

// Adapter is a bank-specific scraping strategy.
type Adapter interface {
	// Name is the short registry key, e.g. "hdfc".
	Name() string
	// DisplayName is the issuer name as published, e.g. "HDFC Bank".
	DisplayName() string
	// CardURLs discovers card detail page URLs, fetching listing pages
	// through fetch as needed. Adapters fall back to a known URL list when
	// discovery yields nothing.
	CardURLs(ctx context.Context, fetch PageFetcher) ([]string, error)
	// ExtractText reduces a card page to its title and readable text.
	ExtractText(htmlSrc string) (title, text string, err error)
}

// Registry holds the configured adapters keyed by name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry with the built-in adapters plus any
// config-defined ones. Config entries override built-ins of the same name.
func NewRegistry(configured ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	r.Register(NewHDFC())
	for _, a := range configured {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter for name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, eris.Errorf("issuer: unknown adapter %q", name)
	}
	return a, nil
}

// All returns every registered adapter sorted by name.
func (r *Registry) All() []Adapter {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		out = append(out, r.adapters[name])
	}
	return out
}

// Names returns the registered adapter names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
