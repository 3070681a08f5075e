// Package provider defines the uniform operation set every content source
// implements. Concrete providers only supply markup rules; addressing,
// extraction and challenge handling come from Base.
package provider

import (
	"context"

	"stream-resolver-go/pkg/types"
)

// Kind classifies a catalog entry.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
	KindLive   Kind = "live"
)

// Item is a catalog entry as listed on a home feed or search page.
type Item struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Poster string `json:"poster,omitempty"`
	Kind   Kind   `json:"kind,omitempty"`
}

// Category is one row of a home feed.
type Category struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Episode is a playable unit of a series.
type Episode struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Season int    `json:"season"`
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// Movie is the detail view of an item.
type Movie struct {
	Item
	Overview string    `json:"overview,omitempty"`
	Year     int       `json:"year,omitempty"`
	Episodes []Episode `json:"episodes,omitempty"`
}

// Provider is a uniform adapter to one external content source.
type Provider interface {
	ID() string
	Home(ctx context.Context) ([]Category, error)
	Search(ctx context.Context, query string) ([]Item, error)
	Movie(ctx context.Context, id string) (*Movie, error)
	Servers(ctx context.Context, id string) ([]*types.ServerReference, error)
	Video(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error)
}
