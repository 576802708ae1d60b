package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardscope/card-pipeline/internal/issuer"
	"github.com/cardscope/card-pipeline/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func cardPage(name string) string {
	return fmt.Sprintf(`<html><head><title>%s - Test Bank</title></head>
<body><main><h1>%s</h1><p>Annual fee: Rs. 500</p></main></body></html>`, name, name)
}

func testAdapter(t *testing.T, urls []string) issuer.Adapter {
	t.Helper()
	a, err := issuer.NewConfigured(issuer.AdapterConfig{
		Name:        "testbank",
		DisplayName: "Test Bank",
		CardURLs:    urls,
	})
	require.NoError(t, err)
	return a
}

func TestBatch_FetchIssuer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(cardPage("Gold Card"))) //nolint:errcheck
	}))
	defer srv.Close()

	st := newTestStore(t)
	b := NewBatch(testFetcher(), st)

	outcomes, err := b.FetchIssuer(context.Background(), testAdapter(t, []string{srv.URL + "/gold"}), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Failed())
	assert.Equal(t, "Gold Card", outcomes[0].Document.PageTitle)
	assert.Equal(t, "Gold Card\nAnnual fee: Rs. 500", outcomes[0].Document.RawText)

	docs, err := st.LatestRawDocuments(context.Background(), "testbank")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestBatch_FetchIssuer_PartialFailure(t *testing.T) {
	// One URL of five 404s; the other four must still land in the corpus.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/card-2" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(cardPage("Card " + r.URL.Path[len("/card-"):]))) //nolint:errcheck
	}))
	defer srv.Close()

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/card-%d", srv.URL, i)
	}

	st := newTestStore(t)
	b := NewBatch(testFetcher(), st)

	outcomes, err := b.FetchIssuer(context.Background(), testAdapter(t, urls), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 5)

	var ok, failed int
	for _, o := range outcomes {
		if o.Failed() {
			failed++
			assert.True(t, o.Permanent)
		} else {
			ok++
		}
	}
	assert.Equal(t, 4, ok)
	assert.Equal(t, 1, failed)

	docs, err := st.LatestRawDocuments(context.Background(), "testbank")
	require.NoError(t, err)
	assert.Len(t, docs, 4)
}

func TestBatch_FetchIssuer_SeedURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(cardPage("Seeded"))) //nolint:errcheck
	}))
	defer srv.Close()

	st := newTestStore(t)
	b := NewBatch(testFetcher(), st)

	adapter := testAdapter(t, []string{srv.URL + "/known"})
	outcomes, err := b.FetchIssuer(context.Background(), adapter, []string{srv.URL + "/seeded", srv.URL + "/known"})
	require.NoError(t, err)
	// The duplicate seed collapses into the adapter's own URL.
	assert.Len(t, outcomes, 2)
}

func TestBatch_FetchIssuer_Cancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(cardPage("Slow"))) //nolint:errcheck
	}))
	defer srv.Close()
	defer close(release)

	urls := []string{srv.URL + "/a", srv.URL + "/b"}

	st := newTestStore(t)
	b := NewBatch(testFetcher(), st)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := b.FetchIssuer(ctx, testAdapter(t, urls), nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestBatch_FetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(cardPage("Card"))) //nolint:errcheck
	}))
	defer srv.Close()

	a1, err := issuer.NewConfigured(issuer.AdapterConfig{
		Name: "bank1", DisplayName: "Bank One", CardURLs: []string{srv.URL + "/one"},
	})
	require.NoError(t, err)
	a2, err := issuer.NewConfigured(issuer.AdapterConfig{
		Name: "bank2", DisplayName: "Bank Two", CardURLs: []string{srv.URL + "/two"},
	})
	require.NoError(t, err)

	st := newTestStore(t)
	b := NewBatch(testFetcher(), st)

	results, err := b.FetchAll(context.Background(), []issuer.Adapter{a1, a2}, nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results["bank1"], 1)
	assert.Len(t, results["bank2"], 1)
}
