// Package types defines core domain types used throughout the engine.
package types

import (
	"net/http"
	"time"
)

// DefaultUserAgent is sent on every engine request and carried into descriptors.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ServerReference is an opaque pointer to a candidate video source.
// It is immutable once a provider has produced it.
type ServerReference struct {
	URL     string            `json:"url"`
	Name    string            `json:"name"`
	Stream  *StreamDescriptor `json:"stream,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies []*http.Cookie    `json:"-"`
}

// Subtitle is a subtitle track attached to a stream.
type Subtitle struct {
	URL      string `json:"url"`
	Label    string `json:"label,omitempty"`
	Language string `json:"language,omitempty"`
}

// StreamDescriptor is the playable result of extraction.
// An empty Source means extraction failed.
type StreamDescriptor struct {
	Source    string            `json:"source"`
	Headers   map[string]string `json:"headers"`
	Subtitles []Subtitle        `json:"subtitles,omitempty"`
	Extractor string            `json:"extractor,omitempty"`
}

// Playable reports whether the descriptor points at a stream.
func (d *StreamDescriptor) Playable() bool {
	return d != nil && d.Source != ""
}

// RenderedDocument is the DOM produced by the challenge engine.
type RenderedDocument struct {
	URL       string         `json:"url"`
	HTML      string         `json:"html"`
	Cookies   []*http.Cookie `json:"-"`
	UserAgent string         `json:"user_agent,omitempty"`
	Polls     int            `json:"polls"`
}

// EndpointState is a point-in-time view of one provider's address state.
type EndpointState struct {
	ProviderID        string    `json:"provider"`
	DefaultBaseURL    string    `json:"default_base_url"`
	DefaultPortalURL  string    `json:"default_portal_url,omitempty"`
	CachedBaseURL     string    `json:"cached_base_url,omitempty"`
	CachedLogoURL     string    `json:"cached_logo_url,omitempty"`
	AutoUpdateEnabled bool      `json:"auto_update_enabled"`
	LastResolvedAt    time.Time `json:"last_resolved_at,omitempty"`
	Phase             string    `json:"phase"`
	Insecure          bool      `json:"insecure,omitempty"`
}

// EffectiveBaseURL returns the cached override, or the default when unset.
func (s EndpointState) EffectiveBaseURL() string {
	if s.CachedBaseURL != "" {
		return s.CachedBaseURL
	}
	return s.DefaultBaseURL
}

// InputKey is a directional-pad or remote-control input.
type InputKey string

const (
	KeyUp      InputKey = "up"
	KeyDown    InputKey = "down"
	KeyLeft    InputKey = "left"
	KeyRight   InputKey = "right"
	KeyConfirm InputKey = "confirm"
	KeyBack    InputKey = "back"
)

// Valid reports whether k is a known input key.
func (k InputKey) Valid() bool {
	switch k {
	case KeyUp, KeyDown, KeyLeft, KeyRight, KeyConfirm, KeyBack:
		return true
	}
	return false
}

// Point is a 2-D position in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SessionInfo describes a live challenge session.
type SessionInfo struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Polls       int       `json:"polls"`
	Deadline    time.Time `json:"deadline"`
	Escalated   bool      `json:"escalated"`
	Interactive bool      `json:"interactive"`
	Cursor      *Point    `json:"cursor,omitempty"`
}
