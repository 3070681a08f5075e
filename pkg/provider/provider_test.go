package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/endpoint"
	"stream-resolver-go/pkg/extractors"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/services"
	"stream-resolver-go/pkg/store"
	"stream-resolver-go/pkg/types"

	"github.com/PuerkitoBio/goquery"
)

// demoProvider is a minimal markup-rule provider over a test site.
type demoProvider struct {
	*Base
}

func (p *demoProvider) Home(ctx context.Context) ([]Category, error) {
	doc, err := p.Document(ctx, "/")
	if err != nil {
		return nil, err
	}
	var cats []Category
	doc.Find("section").Each(func(_ int, s *goquery.Selection) {
		cats = append(cats, Category{Name: s.AttrOr("data-name", ""), Items: items(s)})
	})
	return cats, nil
}

func (p *demoProvider) Search(ctx context.Context, query string) ([]Item, error) {
	doc, err := p.Document(ctx, "/search?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	return items(doc.Selection), nil
}

func (p *demoProvider) Movie(ctx context.Context, id string) (*Movie, error) {
	doc, err := p.Document(ctx, "/title/"+id)
	if err != nil {
		return nil, err
	}
	return &Movie{
		Item:     Item{ID: id, Title: doc.Find("h1").Text(), Kind: KindMovie},
		Overview: doc.Find("p.plot").Text(),
	}, nil
}

func (p *demoProvider) Servers(ctx context.Context, id string) ([]*types.ServerReference, error) {
	doc, err := p.Document(ctx, "/title/"+id)
	if err != nil {
		return nil, err
	}
	base := p.BaseURL(ctx)
	var refs []*types.ServerReference
	doc.Find("li.server").Each(func(_ int, s *goquery.Selection) {
		refs = append(refs, &types.ServerReference{
			URL:     base + s.AttrOr("data-link", ""),
			Name:    s.Text(),
			Headers: map[string]string{"Referer": base + "/"},
		})
	})
	return refs, nil
}

func items(s *goquery.Selection) []Item {
	var out []Item
	s.Find("a.item").Each(func(_ int, a *goquery.Selection) {
		out = append(out, Item{ID: a.AttrOr("data-id", ""), Title: a.Text(), URL: a.AttrOr("href", "")})
	})
	return out
}

var _ Provider = (*demoProvider)(nil)

func demoSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/":
			fmt.Fprint(w, `<section data-name="Trending"><a class="item" data-id="1" href="/title/1">First</a></section>`)
		case r.URL.Path == "/search":
			fmt.Fprintf(w, `<a class="item" data-id="1" href="/title/1">%s result</a>`, r.URL.Query().Get("q"))
		case r.URL.Path == "/title/1":
			fmt.Fprint(w, `<h1>First</h1><p class="plot">A plot.</p><ul>
<li class="server" data-link="/embed/dead">Dead</li>
<li class="server" data-link="/embed/live">Live</li></ul>`)
		case r.URL.Path == "/embed/live":
			fmt.Fprint(w, `<iframe src="/player/live"></iframe>`)
		case r.URL.Path == "/player/live":
			fmt.Fprint(w, `<script>var src = "https://cdn.example/first.m3u8";</script>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newDemoProvider(t *testing.T, base string) *demoProvider {
	t.Helper()
	log := logging.Discard()
	transport := httpclient.New(&config.Config{RequestTimeout: 5 * time.Second}, log)

	resolver := endpoint.NewResolver(endpoint.Definition{ID: "demo", DefaultBaseURL: base}, store.NewMemory(), transport, 5*time.Second, log)

	reg := registry.NewExtractorRegistry()
	reg.Register(extractors.NewDirectExtractor())
	reg.SetFallback(extractors.NewDrilldownExtractor(transport, nil, extractors.DefaultMaxDepth, log))

	svc := services.NewExtractionService(log, reg, 10*time.Second)
	return &demoProvider{Base: NewBase(resolver, svc, log)}
}

func TestProvider_Operations(t *testing.T) {
	site := demoSite(t)
	p := newDemoProvider(t, site.URL)
	ctx := context.Background()

	if p.ID() != "demo" {
		t.Errorf("ID = %q", p.ID())
	}

	home, err := p.Home(ctx)
	if err != nil || len(home) != 1 || home[0].Name != "Trending" || len(home[0].Items) != 1 {
		t.Fatalf("Home = %+v, %v", home, err)
	}

	found, err := p.Search(ctx, "first")
	if err != nil || len(found) != 1 || !strings.HasPrefix(found[0].Title, "first") {
		t.Fatalf("Search = %+v, %v", found, err)
	}

	movie, err := p.Movie(ctx, "1")
	if err != nil || movie.Title != "First" || movie.Overview != "A plot." {
		t.Fatalf("Movie = %+v, %v", movie, err)
	}

	refs, err := p.Servers(ctx, "1")
	if err != nil || len(refs) != 2 {
		t.Fatalf("Servers = %+v, %v", refs, err)
	}

	if _, err := p.Video(ctx, refs[0]); !errors.Is(err, types.ErrNoStreamFound) {
		t.Errorf("Video(dead) err = %v, want ErrNoStreamFound", err)
	}

	desc, err := p.FirstPlayable(ctx, refs)
	if err != nil {
		t.Fatalf("FirstPlayable: %v", err)
	}
	if desc.Source != "https://cdn.example/first.m3u8" {
		t.Errorf("Source = %q", desc.Source)
	}
	if desc.Headers["Referer"] != site.URL+"/player/live" {
		t.Errorf("Referer = %q", desc.Headers["Referer"])
	}
}

func TestFirstPlayable_NoReferences(t *testing.T) {
	p := newDemoProvider(t, "http://127.0.0.1:1")
	if _, err := p.FirstPlayable(context.Background(), nil); !errors.Is(err, types.ErrNoStreamFound) {
		t.Errorf("err = %v, want ErrNoStreamFound", err)
	}
}

func TestGather_PartialFailure(t *testing.T) {
	var finished atomic.Int32
	results := Gather(context.Background(),
		func(ctx context.Context) (string, error) {
			time.Sleep(30 * time.Millisecond)
			finished.Add(1)
			return "slow", nil
		},
		func(ctx context.Context) (string, error) {
			finished.Add(1)
			return "", errors.New("subtitle source down")
		},
		func(ctx context.Context) (string, error) {
			finished.Add(1)
			return "fast", nil
		},
	)

	if finished.Load() != 3 {
		t.Fatalf("%d branches finished, want 3", finished.Load())
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Value != "slow" || results[0].Err != nil {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Err == nil {
		t.Errorf("results[1] has no error")
	}
	if got := Values(results); len(got) != 2 || got[0] != "slow" || got[1] != "fast" {
		t.Errorf("Values = %v", got)
	}
}

func TestGather_Empty(t *testing.T) {
	if got := Gather[int](context.Background()); len(got) != 0 {
		t.Errorf("Gather() = %v", got)
	}
}
