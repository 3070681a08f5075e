package services

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

type stubExtractor struct {
	name  string
	calls atomic.Int32
	desc  *types.StreamDescriptor
	err   error
	seen  string
}

func (s *stubExtractor) Name() string    { return s.name }
func (s *stubExtractor) Hosts() []string { return nil }
func (s *stubExtractor) Close() error    { return nil }

func (s *stubExtractor) Extract(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error) {
	s.calls.Add(1)
	s.seen = ref.URL
	return s.desc, s.err
}

type stubSelector struct {
	extractor interfaces.Extractor
}

func (s stubSelector) Get(string) interfaces.Extractor { return s.extractor }

func newService(e interfaces.Extractor) *ExtractionService {
	return NewExtractionService(logging.Discard(), stubSelector{extractor: e}, 0)
}

func TestExtract_PreKnownDescriptor(t *testing.T) {
	stub := &stubExtractor{name: "stub"}
	pre := &types.StreamDescriptor{Source: "https://cdn.example/a.m3u8", Headers: map[string]string{"Referer": "https://p.example/"}}

	got, err := newService(stub).Extract(context.Background(), &types.ServerReference{URL: "https://host.example/embed/1", Stream: pre})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != pre {
		t.Errorf("descriptor = %+v, want the pre-known one", got)
	}
	if stub.calls.Load() != 0 {
		t.Errorf("extractor called %d times, want 0", stub.calls.Load())
	}
}

func TestExtract_EmptyPreKnownDescriptorIsIgnored(t *testing.T) {
	stub := &stubExtractor{name: "stub", desc: &types.StreamDescriptor{Source: "https://cdn.example/b.mp4"}}

	got, err := newService(stub).Extract(context.Background(), &types.ServerReference{URL: "https://host.example/embed/2", Stream: &types.StreamDescriptor{}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Source != "https://cdn.example/b.mp4" || got.Extractor != "stub" {
		t.Errorf("descriptor = %+v", got)
	}
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name string
		ext  interfaces.Extractor
	}{
		{"no extractor", nil},
		{"plain error", &stubExtractor{name: "stub", err: errors.New("boom")}},
		{"typed error", &stubExtractor{name: "stub", err: types.NewNoStreamError("u", "nothing")}},
		{"empty source", &stubExtractor{name: "stub", desc: &types.StreamDescriptor{}}},
		{"nil descriptor", &stubExtractor{name: "stub"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newService(tt.ext).Extract(context.Background(), &types.ServerReference{URL: "https://host.example/embed/3"})
			if !errors.Is(err, types.ErrNoStreamFound) {
				t.Errorf("err = %v, want ErrNoStreamFound", err)
			}
		})
	}
}

func TestExtract_DecodesReferenceURL(t *testing.T) {
	stub := &stubExtractor{name: "stub", desc: &types.StreamDescriptor{Source: "https://cdn.example/c.m3u8"}}
	encoded := base64.StdEncoding.EncodeToString([]byte("https://host.example/embed/4"))

	if _, err := newService(stub).Extract(context.Background(), &types.ServerReference{URL: encoded}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if stub.seen != "https://host.example/embed/4" {
		t.Errorf("extractor saw %q", stub.seen)
	}
}

func TestDecodeURL(t *testing.T) {
	plain := "https://host.example/e/abc?x=1"
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", plain, plain},
		{"plain with escaped query", "https://host.example/embed/xyz?next=a%26b%3Dc&t=1", "https://host.example/embed/xyz?next=a%26b%3Dc&t=1"},
		{"plain with escaped path", "http://host.example/e/a%2Fb", "http://host.example/e/a%2Fb"},
		{"padded", "  " + plain + "\n", plain},
		{"query escaped", "https%3A%2F%2Fhost.example%2Fe%2Fabc%3Fx%3D1", plain},
		{"base64", base64.StdEncoding.EncodeToString([]byte(plain)), plain},
		{"base64 url unpadded", base64.RawURLEncoding.EncodeToString([]byte(plain)), plain},
		{"garbage", "not a url", "not a url"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeURL(tt.in); got != tt.want {
				t.Errorf("DecodeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
