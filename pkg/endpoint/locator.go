package endpoint

import (
	"fmt"
	"net/url"
	"strings"

	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/urlutil"

	"github.com/PuerkitoBio/goquery"
)

// Locator finds the current base address (and logo) on a provider's portal page.
type Locator interface {
	Locate(doc *goquery.Document, portalURL string) (base, logo string, err error)
}

// TableLocator reads the base address from the first element matching
// BaseSelector. The logo comes from LogoSelector when set, otherwise it is
// derived as <base>/favicon.ico.
type TableLocator struct {
	BaseSelector string
	BaseAttr     string
	LogoSelector string
	LogoAttr     string
}

func (l TableLocator) Locate(doc *goquery.Document, portalURL string) (string, string, error) {
	if l.BaseSelector == "" {
		return "", "", fmt.Errorf("no base selector configured")
	}

	attr := l.BaseAttr
	if attr == "" {
		attr = "href"
	}

	raw, ok := doc.Find(l.BaseSelector).First().Attr(attr)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return "", "", fmt.Errorf("selector %q matched no %s", l.BaseSelector, attr)
	}

	base, err := normalizeBase(urlutil.ResolveURL(raw, portalURL))
	if err != nil {
		return "", "", err
	}

	logo := base + "/favicon.ico"
	if l.LogoSelector != "" {
		logoAttr := l.LogoAttr
		if logoAttr == "" {
			logoAttr = "src"
		}
		if src, ok := doc.Find(l.LogoSelector).First().Attr(logoAttr); ok && strings.TrimSpace(src) != "" {
			logo = urlutil.ResolveURL(strings.TrimSpace(src), base+"/")
		}
	}

	return base, logo, nil
}

// normalizeBase reduces an address to scheme://host[/path] without a trailing slash.
func normalizeBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("located address %q is not absolute", raw)
	}
	return strings.TrimSuffix(u.Scheme+"://"+u.Host+u.Path, "/"), nil
}

// DefinitionFromTable builds a provider definition from its TOML table.
func DefinitionFromTable(t config.ProviderTable) Definition {
	return Definition{
		ID:               t.ID,
		DefaultBaseURL:   strings.TrimSuffix(t.BaseURL, "/"),
		DefaultPortalURL: t.PortalURL,
		Locator: TableLocator{
			BaseSelector: t.BaseSelector,
			BaseAttr:     t.BaseAttr,
			LogoSelector: t.LogoSelector,
			LogoAttr:     t.LogoAttr,
		},
	}
}
