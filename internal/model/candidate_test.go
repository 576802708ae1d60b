package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunSummaryDegraded(t *testing.T) {
	clean := RunSummary{URLs: 5, Fetched: 5, Extracted: 5, Merged: 5}
	assert.False(t, clean.Degraded())

	fetchFail := RunSummary{URLs: 5, Fetched: 4, FetchFailed: 1}
	assert.True(t, fetchFail.Degraded())

	review := RunSummary{URLs: 1, Fetched: 1, Extracted: 1, ManualReview: 1}
	assert.True(t, review.Degraded())

	parseFail := RunSummary{URLs: 1, Fetched: 1, ParseFailed: 1}
	assert.True(t, parseFail.Degraded())
}

func TestRunSummaryAdd(t *testing.T) {
	var total RunSummary
	total.Add(RunSummary{URLs: 3, Fetched: 2, FetchFailed: 1, InputTokens: 100, CostUSD: 0.5})
	total.Add(RunSummary{URLs: 2, Fetched: 2, Merged: 2, InputTokens: 50, CostUSD: 0.25})

	assert.Equal(t, 5, total.URLs)
	assert.Equal(t, 4, total.Fetched)
	assert.Equal(t, 1, total.FetchFailed)
	assert.Equal(t, 2, total.Merged)
	assert.Equal(t, 150, total.InputTokens)
	assert.InDelta(t, 0.75, total.CostUSD, 1e-9)
}

func TestRawDocumentContentHash(t *testing.T) {
	a := RawDocument{Issuer: "HDFC Bank", SourceURL: "https://x", RawText: "same text"}
	b := RawDocument{Issuer: "ICICI Bank", SourceURL: "https://y", RawText: "same text"}
	c := RawDocument{RawText: "different"}

	// Hash depends on content only, not identity.
	assert.Equal(t, a.ContentHash(), b.ContentHash())
	assert.NotEqual(t, a.ContentHash(), c.ContentHash())
	assert.Len(t, a.ContentHash(), 64)
}

func TestFetchOutcomeFailed(t *testing.T) {
	ok := FetchOutcome{URL: "https://x", Document: &RawDocument{}}
	assert.False(t, ok.Failed())

	bad := FetchOutcome{URL: "https://y", Err: errors.New("http 404"), Permanent: true}
	assert.True(t, bad.Failed())
}
