package issuer

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher serves canned HTML keyed by URL.
type stubFetcher struct {
	pages map[string]string
	err   error
}

func (s *stubFetcher) FetchPage(_ context.Context, url string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	page, ok := s.pages[url]
	if !ok {
		return "", eris.Errorf("no page for %s", url)
	}
	return page, nil
}

const hdfcListingHTML = `<html><body>
<a href="/personal/pay/cards/credit-cards/regalia-gold-credit-card">Regalia Gold</a>
<a href="/personal/pay/cards/credit-cards/millennia-credit-card">Millennia</a>
<a href="/personal/pay/cards/credit-cards/regalia-gold-credit-card">Regalia Gold again</a>
<a href="/personal/pay/cards/credit-cards">All cards</a>
<a href="/personal/pay/cards/credit-cards/regalia-gold-credit-card/apply">Apply now</a>
<a href="/personal/save/accounts">Savings</a>
</body></html>`

func TestHDFC_CardURLs_Discovery(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]string{hdfcListingURL: hdfcListingHTML}}

	urls, err := NewHDFC().CardURLs(context.Background(), fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.hdfcbank.com/personal/pay/cards/credit-cards/regalia-gold-credit-card",
		"https://www.hdfcbank.com/personal/pay/cards/credit-cards/millennia-credit-card",
	}, urls)
}

func TestHDFC_CardURLs_FallbackOnFetchFailure(t *testing.T) {
	fetch := &stubFetcher{err: eris.New("connection refused")}

	urls, err := NewHDFC().CardURLs(context.Background(), fetch)
	require.NoError(t, err)
	require.Len(t, urls, len(hdfcKnownCardPaths))
	assert.Equal(t, "https://www.hdfcbank.com/personal/pay/cards/credit-cards/regalia-gold-credit-card", urls[0])
}

func TestHDFC_CardURLs_FallbackOnEmptyListing(t *testing.T) {
	fetch := &stubFetcher{pages: map[string]string{hdfcListingURL: `<html><body><p>loading...</p></body></html>`}}

	urls, err := NewHDFC().CardURLs(context.Background(), fetch)
	require.NoError(t, err)
	assert.Len(t, urls, len(hdfcKnownCardPaths))
}

func TestHDFC_ExtractText(t *testing.T) {
	page := `<html><head><title>Regalia Gold Credit Card - HDFC Bank</title>
<script>var x = 1;</script></head><body>
<nav>Home | Cards</nav>
<main>
  <h1>Regalia Gold</h1>
  <p>Annual fee: Rs. 2,500</p>
  <style>.x{}</style>
</main>
<footer>Copyright</footer>
</body></html>`

	title, text, err := NewHDFC().ExtractText(page)
	require.NoError(t, err)
	assert.Equal(t, "Regalia Gold Credit Card", title)
	assert.Equal(t, "Regalia Gold\nAnnual fee: Rs. 2,500", text)
}

func TestHDFC_ExtractText_NoTitleNoMain(t *testing.T) {
	title, text, err := NewHDFC().ExtractText(`<html><body><p>bare page</p></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "Unknown Card", title)
	assert.Equal(t, "bare page", text)
}

func TestConfigured_Validation(t *testing.T) {
	_, err := NewConfigured(AdapterConfig{})
	assert.Error(t, err)

	_, err = NewConfigured(AdapterConfig{Name: "sbi"})
	assert.Error(t, err)

	_, err = NewConfigured(AdapterConfig{Name: "sbi", DisplayName: "SBI Card"})
	assert.Error(t, err)

	a, err := NewConfigured(AdapterConfig{
		Name:        "sbi",
		DisplayName: "SBI Card",
		CardURLs:    []string{"https://www.sbicard.com/elite"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sbi", a.Name())
	assert.Equal(t, "SBI Card", a.DisplayName())
}

func TestConfigured_CardURLs_ListingFilter(t *testing.T) {
	a, err := NewConfigured(AdapterConfig{
		Name:         "sbi",
		DisplayName:  "SBI Card",
		BaseURL:      "https://www.sbicard.com",
		ListingURL:   "https://www.sbicard.com/credit-cards",
		LinkContains: []string{"/credit-cards/"},
		LinkSkip:     []string{"apply"},
	})
	require.NoError(t, err)

	fetch := &stubFetcher{pages: map[string]string{
		"https://www.sbicard.com/credit-cards": `<html><body>
<a href="/credit-cards/elite">Elite</a>
<a href="/credit-cards/elite/apply">Apply</a>
<a href="/about">About</a>
</body></html>`,
	}}

	urls, err := a.CardURLs(context.Background(), fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.sbicard.com/credit-cards/elite"}, urls)
}

func TestConfigured_CardURLs_FallbackResolvesRelative(t *testing.T) {
	a, err := NewConfigured(AdapterConfig{
		Name:        "sbi",
		DisplayName: "SBI Card",
		BaseURL:     "https://www.sbicard.com",
		CardURLs:    []string{"/credit-cards/elite", "https://partner.example/card"},
	})
	require.NoError(t, err)

	urls, err := a.CardURLs(context.Background(), &stubFetcher{})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.sbicard.com/credit-cards/elite",
		"https://partner.example/card",
	}, urls)
}

func TestRegistry(t *testing.T) {
	custom, err := NewConfigured(AdapterConfig{
		Name:        "sbi",
		DisplayName: "SBI Card",
		CardURLs:    []string{"https://www.sbicard.com/elite"},
	})
	require.NoError(t, err)

	r := NewRegistry(custom)

	hdfc, err := r.Get("hdfc")
	require.NoError(t, err)
	assert.Equal(t, "HDFC Bank", hdfc.DisplayName())

	_, err = r.Get("axis")
	assert.Error(t, err)

	assert.Equal(t, []string{"hdfc", "sbi"}, r.Names())
	assert.Len(t, r.All(), 2)
}

func TestRegistry_ConfigOverridesBuiltin(t *testing.T) {
	override, err := NewConfigured(AdapterConfig{
		Name:        "hdfc",
		DisplayName: "HDFC Bank (custom)",
		CardURLs:    []string{"https://www.hdfcbank.com/x"},
	})
	require.NoError(t, err)

	r := NewRegistry(override)
	got, err := r.Get("hdfc")
	require.NoError(t, err)
	assert.Equal(t, "HDFC Bank (custom)", got.DisplayName())
}
