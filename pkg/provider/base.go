package provider

import (
	"context"
	"errors"
	"fmt"

	"stream-resolver-go/pkg/endpoint"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"

	"github.com/PuerkitoBio/goquery"
)

// Extractor turns a server reference into a descriptor.
// *services.ExtractionService implements it.
type Extractor interface {
	Extract(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error)
}

// Base holds what every provider shares: its endpoint resolver and the
// extraction chain. Embed it and implement Home, Search, Movie and Servers.
type Base struct {
	resolver  *endpoint.Resolver
	extractor Extractor
	log       *logging.Logger
}

// NewBase creates the shared part of a provider.
func NewBase(resolver *endpoint.Resolver, extractor Extractor, log *logging.Logger) *Base {
	return &Base{
		resolver:  resolver,
		extractor: extractor,
		log:       log.WithProvider(resolver.ID()),
	}
}

// ID returns the provider ID.
func (b *Base) ID() string {
	return b.resolver.ID()
}

// BaseURL returns the current base address, resolving it on first use.
func (b *Base) BaseURL(ctx context.Context) string {
	return b.resolver.EnsureInitialized(ctx)
}

// Document fetches path relative to the current base address.
func (b *Base) Document(ctx context.Context, path string) (*goquery.Document, error) {
	return b.resolver.Client(ctx).GetDocument(ctx, path, nil)
}

// Video extracts the first playable stream from ref.
func (b *Base) Video(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error) {
	return b.extractor.Extract(ctx, ref)
}

// FirstPlayable tries refs in order and returns the first descriptor that
// extracts. Only extraction misses move on to the next reference.
func (b *Base) FirstPlayable(ctx context.Context, refs []*types.ServerReference) (*types.StreamDescriptor, error) {
	var errs []error
	for _, ref := range refs {
		desc, err := b.extractor.Extract(ctx, ref)
		if err == nil {
			return desc, nil
		}
		if !errors.Is(err, types.ErrNoStreamFound) {
			return nil, err
		}
		b.log.Debug("server reference not playable", "name", ref.Name, "url", ref.URL)
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no server references", types.ErrNoStreamFound)
	}
	return nil, errors.Join(errs...)
}
