package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardscope/card-pipeline/internal/model"
)

func testCard(id string, confidence float64, review bool) model.Card {
	fee := 2500
	return model.Card{
		ID: id,
		BasicInfo: model.BasicInfo{
			Name:     "Test Card " + id,
			Issuer:   "HDFC Bank",
			Network:  []model.CardNetwork{model.NetworkVisa},
			CardType: model.TypePremium,
		},
		Fees: model.Fees{JoiningFee: &fee, AnnualFee: &fee},
		Metadata: model.Metadata{
			SourceURL:    "https://www.hdfcbank.com/credit-cards/" + id,
			ScrapedAt:    "2026-08-01",
			Confidence:   confidence,
			ManualReview: review,
		},
	}
}

func mergeTime() time.Time {
	return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
}

func TestLoad_MissingFileIsEmptyDataset(t *testing.T) {
	ds, err := Load(filepath.Join(t.TempDir(), "cards.json"))
	require.NoError(t, err)
	assert.Equal(t, "1.0", ds.Version)
	assert.Empty(t, ds.Cards)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "cards.json")
	ds := model.Dataset{
		Version:     "2.3",
		LastUpdated: "2026-08-15",
		Cards:       []model.Card{testCard("hdfc-regalia-gold", 0.9, false)},
	}

	require.NoError(t, Write(path, ds))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ds, got)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWrite_ReplacesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.json")
	require.NoError(t, Write(path, model.Dataset{Version: "1.0"}))
	require.NoError(t, Write(path, model.Dataset{Version: "1.1"}))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1.1", got.Version)
}

func TestMerge_AddsNewCards(t *testing.T) {
	existing := model.Dataset{Version: "1.0", Cards: []model.Card{testCard("hdfc-a", 0.8, false)}}
	incoming := []model.Card{testCard("hdfc-b", 0.9, false)}

	res := Merge(existing, incoming, mergeTime())

	assert.Equal(t, 1, res.Added)
	assert.Len(t, res.Dataset.Cards, 2)
	assert.Equal(t, "1.1", res.Dataset.Version)
	assert.Equal(t, "2026-08-15", res.Dataset.LastUpdated)
	assert.Empty(t, res.Conflicts)
}

func TestMerge_RetainsAbsentCards(t *testing.T) {
	existing := model.Dataset{Version: "1.0", Cards: []model.Card{
		testCard("hdfc-a", 0.8, false),
		testCard("hdfc-b", 0.7, false),
	}}

	res := Merge(existing, []model.Card{testCard("hdfc-c", 0.9, false)}, mergeTime())

	require.Len(t, res.Dataset.Cards, 3)
	_, ok := res.Dataset.FindCard("hdfc-a")
	assert.True(t, ok)
	_, ok = res.Dataset.FindCard("hdfc-b")
	assert.True(t, ok)
}

func TestMerge_IsIdempotent(t *testing.T) {
	existing := model.Dataset{Version: "1.0", Cards: []model.Card{testCard("hdfc-a", 0.8, false)}}
	batch := []model.Card{testCard("hdfc-b", 0.9, false), testCard("hdfc-a", 0.8, false)}

	first := Merge(existing, batch, mergeTime())
	second := Merge(first.Dataset, batch, mergeTime())

	assert.Equal(t, first.Dataset, second.Dataset)
	assert.Zero(t, second.Added)
	assert.Zero(t, second.Updated)
	assert.Empty(t, second.Conflicts)
	assert.Equal(t, first.Dataset.Version, second.Dataset.Version)
}

func TestMerge_UnflaggedBeatsFlagged(t *testing.T) {
	// An unreviewed record with lower confidence still wins over a flagged
	// one.
	flagged := testCard("hdfc-a", 0.95, true)
	clean := testCard("hdfc-a", 0.65, false)
	clean.BasicInfo.Name = "Updated Name"

	res := Merge(model.Dataset{Version: "1.0", Cards: []model.Card{flagged}}, []model.Card{clean}, mergeTime())

	got, _ := res.Dataset.FindCard("hdfc-a")
	assert.Equal(t, "Updated Name", got.BasicInfo.Name)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "hdfc-a", res.Conflicts[0].CardID)
}

func TestMerge_HigherConfidenceWins(t *testing.T) {
	low := testCard("hdfc-a", 0.9, false)
	low.BasicInfo.Name = "Incoming Low"
	low.Metadata.Confidence = 0.5

	res := Merge(model.Dataset{Version: "1.0", Cards: []model.Card{testCard("hdfc-a", 0.9, false)}},
		[]model.Card{low}, mergeTime())

	got, _ := res.Dataset.FindCard("hdfc-a")
	assert.NotEqual(t, "Incoming Low", got.BasicInfo.Name)
	assert.Zero(t, res.Updated)

	// The loser is never dropped silently.
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, 0.9, res.Conflicts[0].ExistingConfidence)
	assert.Equal(t, 0.5, res.Conflicts[0].IncomingConfidence)
	assert.Equal(t, mergeTime(), res.Conflicts[0].RecordedAt)

	// A losing batch is not a content change.
	assert.Equal(t, "1.0", res.Dataset.Version)
}

func TestMerge_ConfidenceTieFavorsIncoming(t *testing.T) {
	in := testCard("hdfc-a", 0.8, false)
	in.BasicInfo.Name = "Fresher Data"

	res := Merge(model.Dataset{Version: "1.0", Cards: []model.Card{testCard("hdfc-a", 0.8, false)}},
		[]model.Card{in}, mergeTime())

	got, _ := res.Dataset.FindCard("hdfc-a")
	assert.Equal(t, "Fresher Data", got.BasicInfo.Name)
}

func TestMerge_ProvenanceOnlyChangeDoesNotBumpVersion(t *testing.T) {
	in := testCard("hdfc-a", 0.8, false)
	in.Metadata.ScrapedAt = "2026-08-15"

	existing := model.Dataset{Version: "1.4", LastUpdated: "2026-07-01",
		Cards: []model.Card{testCard("hdfc-a", 0.8, false)}}
	res := Merge(existing, []model.Card{in}, mergeTime())

	assert.Equal(t, "1.4", res.Dataset.Version)
	assert.Equal(t, "2026-07-01", res.Dataset.LastUpdated)
	assert.Empty(t, res.Conflicts)

	// The fresher provenance is kept even though nothing else changed.
	got, _ := res.Dataset.FindCard("hdfc-a")
	assert.Equal(t, "2026-08-15", got.Metadata.ScrapedAt)
}

func TestMerge_SameContentNeverWeakensRecord(t *testing.T) {
	// A re-scrape of the same facts by a weaker extraction must not drag
	// down the stored confidence or flip the review state.
	weak := testCard("hdfc-a", 0.2, true)
	weak.Metadata.ScrapedAt = "2026-08-15"

	existing := model.Dataset{Version: "1.4",
		Cards: []model.Card{testCard("hdfc-a", 0.9, false)}}
	res := Merge(existing, []model.Card{weak}, mergeTime())

	got, _ := res.Dataset.FindCard("hdfc-a")
	assert.Equal(t, 0.9, got.Metadata.Confidence)
	assert.False(t, got.Metadata.ManualReview)
	assert.Equal(t, "2026-08-01", got.Metadata.ScrapedAt)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, 0.9, res.Conflicts[0].ExistingConfidence)
	assert.Equal(t, 0.2, res.Conflicts[0].IncomingConfidence)
	assert.Equal(t, "1.4", res.Dataset.Version)
	assert.Equal(t, 1, res.Unchanged)
}

func TestMerge_CardsSortedByID(t *testing.T) {
	res := Merge(model.Dataset{Version: "1.0"}, []model.Card{
		testCard("hdfc-z", 0.8, false),
		testCard("hdfc-a", 0.8, false),
		testCard("hdfc-m", 0.8, false),
	}, mergeTime())

	ids := make([]string, 0, len(res.Dataset.Cards))
	for _, c := range res.Dataset.Cards {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"hdfc-a", "hdfc-m", "hdfc-z"}, ids)
}

func TestBumpVersion(t *testing.T) {
	assert.Equal(t, "1.1", bumpVersion("1.0"))
	assert.Equal(t, "2.10", bumpVersion("2.9"))
	assert.Equal(t, "1.0", bumpVersion("garbage"))
	assert.Equal(t, "1.0", bumpVersion(""))
}
