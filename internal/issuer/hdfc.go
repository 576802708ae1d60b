package issuer

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	hdfcBaseURL    = "https://www.hdfcbank.com"
	hdfcListingURL = "https://www.hdfcbank.com/personal/pay/cards/credit-cards"
)

// hdfcKnownCardPaths is the fallback when listing-page discovery fails or
// finds nothing. The listing page is rendered client-side often enough that
// this list does real work.
var hdfcKnownCardPaths = []string{
	"/personal/pay/cards/credit-cards/regalia-gold-credit-card",
	"/personal/pay/cards/credit-cards/regalia-credit-card",
	"/personal/pay/cards/credit-cards/infinia-credit-card",
	"/personal/pay/cards/credit-cards/diners-club-black",
	"/personal/pay/cards/credit-cards/hdfc-bank-millennia-credit-card",
	"/personal/pay/cards/credit-cards/moneyback-credit-card",
	"/personal/pay/cards/credit-cards/moneyback-plus-credit-card",
	"/personal/pay/cards/credit-cards/freedom-credit-card",
	"/personal/pay/cards/credit-cards/bharat-credit-card",
	"/personal/pay/cards/credit-cards/swiggy-hdfc-bank-credit-card",
	"/personal/pay/cards/credit-cards/tata-neu-hdfc-bank-credit-card",
	"/personal/pay/cards/credit-cards/marriott-bonvoy-hdfc-bank-credit-card",
}

// hdfcContentSelectors are tried in order to locate the card detail content.
var hdfcContentSelectors = []string{
	"main",
	".main-content",
	"#main-content",
	".card-details",
	".product-details",
	"article",
}

// HDFC scrapes HDFC Bank credit card pages.
type HDFC struct{}

func NewHDFC() *HDFC { return &HDFC{} }

func (h *HDFC) Name() string        { return "hdfc" }
func (h *HDFC) DisplayName() string { return "HDFC Bank" }

// CardURLs scrapes the credit card listing page for detail links and falls
// back to the known URL list when discovery yields nothing.
func (h *HDFC) CardURLs(ctx context.Context, fetch PageFetcher) ([]string, error) {
	var urls []string

	htmlSrc, err := fetch.FetchPage(ctx, hdfcListingURL)
	if err != nil {
		zap.L().Warn("hdfc listing fetch failed, using known card urls",
			zap.String("url", hdfcListingURL),
			zap.Error(err))
	} else if doc, perr := parseHTML(htmlSrc); perr == nil {
		urls = hdfcCardLinks(collectLinks(doc))
	}

	if len(urls) == 0 {
		zap.L().Info("using fallback known card urls", zap.String("issuer", h.Name()))
		for _, path := range hdfcKnownCardPaths {
			urls = append(urls, hdfcBaseURL+path)
		}
	}
	return urls, nil
}

// hdfcCardLinks filters listing-page hrefs down to card detail pages,
// resolving relative paths and de-duplicating.
func hdfcCardLinks(hrefs []string) []string {
	base, _ := url.Parse(hdfcBaseURL)
	seen := map[string]bool{}
	var urls []string

	for _, href := range hrefs {
		lower := strings.ToLower(href)
		if !strings.Contains(href, "/credit-cards/") || !strings.Contains(lower, "credit-card") {
			continue
		}
		// Skip listing pages and apply pages.
		if strings.HasSuffix(href, "credit-cards") || strings.Contains(lower, "apply") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		full := base.ResolveReference(ref).String()
		if !seen[full] {
			seen[full] = true
			urls = append(urls, full)
		}
	}
	return urls
}

func (h *HDFC) ExtractText(htmlSrc string) (string, string, error) {
	doc, err := parseHTML(htmlSrc)
	if err != nil {
		return "", "", err
	}
	title := pageTitle(doc)
	if title == "" {
		title = "Unknown Card"
	}
	text := extractText(contentRoot(doc, hdfcContentSelectors))
	return title, text, nil
}
