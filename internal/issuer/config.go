package issuer

import (
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AdapterConfig declares an issuer adapter in issuers.yaml. Banks whose
// pages follow the common listing/detail shape need no Go code, just an
// entry here.
type AdapterConfig struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	BaseURL     string `yaml:"base_url"`
	ListingURL  string `yaml:"listing_url"`

	// LinkContains / LinkSkip filter hrefs found on the listing page. A
	// link qualifies when it contains every LinkContains substring and
	// none of the LinkSkip ones.
	LinkContains []string `yaml:"link_contains"`
	LinkSkip     []string `yaml:"link_skip"`

	// CardURLs is the fallback list, absolute or relative to BaseURL.
	CardURLs []string `yaml:"card_urls"`

	// ContentSelectors locate the card detail container, tried in order.
	ContentSelectors []string `yaml:"content_selectors"`
}

type fileConfig struct {
	Issuers []AdapterConfig `yaml:"issuers"`
}

// LoadConfig reads issuer adapters from a YAML file. A missing file is not
// an error; the built-in adapters still apply.
func LoadConfig(path string) ([]Adapter, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "issuer: read config %s", path)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrapf(err, "issuer: parse config %s", path)
	}

	adapters := make([]Adapter, 0, len(cfg.Issuers))
	for _, ic := range cfg.Issuers {
		a, err := NewConfigured(ic)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// Configured is an Adapter driven entirely by an AdapterConfig entry.
type Configured struct {
	cfg AdapterConfig
}

// NewConfigured validates an AdapterConfig and wraps it as an Adapter.
func NewConfigured(cfg AdapterConfig) (*Configured, error) {
	if cfg.Name == "" {
		return nil, eris.New("issuer: configured adapter needs a name")
	}
	if cfg.DisplayName == "" {
		return nil, eris.Errorf("issuer: adapter %s needs a display_name", cfg.Name)
	}
	if cfg.ListingURL == "" && len(cfg.CardURLs) == 0 {
		return nil, eris.Errorf("issuer: adapter %s needs a listing_url or card_urls", cfg.Name)
	}
	if len(cfg.ContentSelectors) == 0 {
		cfg.ContentSelectors = []string{"main", "article"}
	}
	return &Configured{cfg: cfg}, nil
}

func (c *Configured) Name() string        { return c.cfg.Name }
func (c *Configured) DisplayName() string { return c.cfg.DisplayName }

func (c *Configured) CardURLs(ctx context.Context, fetch PageFetcher) ([]string, error) {
	var urls []string

	if c.cfg.ListingURL != "" {
		htmlSrc, err := fetch.FetchPage(ctx, c.cfg.ListingURL)
		if err != nil {
			zap.L().Warn("listing fetch failed, using configured card urls",
				zap.String("issuer", c.cfg.Name),
				zap.String("url", c.cfg.ListingURL),
				zap.Error(err))
		} else if doc, perr := parseHTML(htmlSrc); perr == nil {
			urls = c.filterLinks(collectLinks(doc))
		}
	}

	if len(urls) == 0 {
		for _, u := range c.cfg.CardURLs {
			urls = append(urls, c.resolve(u))
		}
	}
	return urls, nil
}

func (c *Configured) filterLinks(hrefs []string) []string {
	seen := map[string]bool{}
	var urls []string

link:
	for _, href := range hrefs {
		lower := strings.ToLower(href)
		for _, want := range c.cfg.LinkContains {
			if !strings.Contains(lower, strings.ToLower(want)) {
				continue link
			}
		}
		for _, skip := range c.cfg.LinkSkip {
			if strings.Contains(lower, strings.ToLower(skip)) {
				continue link
			}
		}
		full := c.resolve(href)
		if !seen[full] {
			seen[full] = true
			urls = append(urls, full)
		}
	}
	return urls
}

func (c *Configured) resolve(ref string) string {
	if c.cfg.BaseURL == "" {
		return ref
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

func (c *Configured) ExtractText(htmlSrc string) (string, string, error) {
	doc, err := parseHTML(htmlSrc)
	if err != nil {
		return "", "", err
	}
	title := pageTitle(doc)
	if title == "" {
		title = "Unknown Card"
	}
	text := extractText(contentRoot(doc, c.cfg.ContentSelectors))
	return title, text, nil
}
