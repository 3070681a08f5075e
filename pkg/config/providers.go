package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// ProviderTable is the pattern table one provider supplies to the engine.
type ProviderTable struct {
	ID           string         `toml:"id"`
	BaseURL      string         `toml:"base_url"`
	PortalURL    string         `toml:"portal_url"`
	BaseSelector string         `toml:"base_selector"`
	BaseAttr     string         `toml:"base_attr"`
	LogoSelector string         `toml:"logo_selector"`
	LogoAttr     string         `toml:"logo_attr"`
	Challenge    ChallengeTable `toml:"challenge"`
}

// ChallengeTable overrides the default challenge classification policy.
// Zero values keep the defaults.
type ChallengeTable struct {
	ChallengeMarkers []string `toml:"challenge_markers"`
	ContentMarkers   []string `toml:"content_markers"`
	MinContentSize   int      `toml:"min_content_size"`
	ClearanceCookies []string `toml:"clearance_cookies"`
}

type providersFile struct {
	Providers []ProviderTable `toml:"provider"`
}

// LoadProviders reads the provider tables from a TOML file.
// An empty path yields no tables.
func LoadProviders(path string) ([]ProviderTable, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading providers file: %w", err)
	}

	return ParseProviders(string(data))
}

// ParseProviders decodes and validates provider tables from TOML text.
func ParseProviders(data string) ([]ProviderTable, error) {
	var f providersFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("parsing providers: %w", err)
	}

	seen := make(map[string]bool, len(f.Providers))
	for i := range f.Providers {
		p := &f.Providers[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("provider #%d: %w", i+1, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate provider %q", p.ID)
		}
		seen[p.ID] = true
		if p.BaseAttr == "" {
			p.BaseAttr = "href"
		}
		if p.LogoAttr == "" {
			p.LogoAttr = "src"
		}
	}

	return f.Providers, nil
}

// Validate checks a provider table is usable.
func (p *ProviderTable) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !isAbsoluteURL(p.BaseURL) {
		return fmt.Errorf("%s: base_url %q is not an absolute URL", p.ID, p.BaseURL)
	}
	if p.PortalURL != "" && !isAbsoluteURL(p.PortalURL) {
		return fmt.Errorf("%s: portal_url %q is not an absolute URL", p.ID, p.PortalURL)
	}
	if p.Challenge.MinContentSize < 0 {
		return fmt.Errorf("%s: min_content_size cannot be negative", p.ID)
	}
	return nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
