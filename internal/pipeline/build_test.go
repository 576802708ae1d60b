package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardscope/card-pipeline/internal/model"
)

func candidateFrom(t *testing.T, raw string) model.ExtractionCandidate {
	t.Helper()
	fields := parseExtraction(raw)
	require.NotNil(t, fields)
	return model.ExtractionCandidate{
		Issuer:       "hdfc",
		SourceURL:    "https://www.hdfcbank.com/credit-cards/regalia-gold",
		PageTitle:    "Regalia Gold Credit Card",
		ExtractedAt:  time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		ParsedFields: fields,
		Confidence:   extractionConfidence(fields),
	}
}

func TestBuildCard_FullExtraction(t *testing.T) {
	cand := candidateFrom(t, regaliaJSON)

	card, err := BuildCard(cand, "HDFC Bank")
	require.NoError(t, err)

	assert.Equal(t, "hdfc-regalia-gold-credit-card", card.ID)
	assert.Equal(t, "Regalia Gold Credit Card", card.BasicInfo.Name)
	assert.Equal(t, "HDFC Bank", card.BasicInfo.Issuer)
	assert.Equal(t, model.TypePremium, card.BasicInfo.CardType)
	assert.Equal(t, []model.CardNetwork{model.NetworkVisa, model.NetworkMastercard}, card.BasicInfo.Network)

	require.NotNil(t, card.Fees.AnnualFee)
	assert.Equal(t, 2500, *card.Fees.AnnualFee)
	require.NotNil(t, card.Fees.AnnualFeeWaiver)
	assert.True(t, card.Fees.FuelSurchargeWaiver.Enabled)

	require.NotNil(t, card.Eligibility.MinSalary)
	assert.Equal(t, 100000, *card.Eligibility.MinSalary)
	assert.Equal(t, 21, card.Eligibility.MinAge)
	assert.Equal(t, 60, card.Eligibility.MaxAge)

	assert.InDelta(t, 1.33, card.Rewards.RewardRate, 0.001)
	assert.Equal(t, model.RewardPoints, card.Rewards.RewardUnit)
	require.Len(t, card.Rewards.AcceleratedCategories, 1)
	assert.Equal(t, "dining", card.Rewards.AcceleratedCategories[0].Category)
	require.NotNil(t, card.Rewards.WelcomeBonus)

	require.NotNil(t, card.LoungeAccess.Domestic)
	assert.Equal(t, 12, card.LoungeAccess.Domestic.FreeVisits)
	require.NotNil(t, card.LoungeAccess.International)

	assert.InDelta(t, 43.2, card.Charges.InterestRate.Annual, 0.001)
	assert.InDelta(t, 3.6, card.Charges.InterestRate.Monthly, 0.001)
	require.NotNil(t, card.Charges.LateFee)
	assert.Equal(t, 1300, *card.Charges.LateFee)

	assert.True(t, card.Features.Contactless)
	assert.True(t, card.Features.Concierge)

	assert.Equal(t, "https://www.hdfcbank.com/credit-cards/regalia-gold", card.Metadata.SourceURL)
	assert.Equal(t, "2026-08-01", card.Metadata.ScrapedAt)
}

func TestBuildCard_NoParsedFields(t *testing.T) {
	cand := model.ExtractionCandidate{SourceURL: "https://example.com/card"}
	_, err := BuildCard(cand, "HDFC Bank")
	require.Error(t, err)
}

func TestBuildCard_NullFeesStayNull(t *testing.T) {
	// Null means unknown; the builder must not turn it into zero.
	cand := candidateFrom(t, `{
		"name": "Mystery Card",
		"fees": {"joiningFee": null, "annualFee": null}
	}`)

	card, err := BuildCard(cand, "HDFC Bank")
	require.NoError(t, err)
	assert.Nil(t, card.Fees.JoiningFee)
	assert.Nil(t, card.Fees.AnnualFee)
}

func TestBuildCard_ZeroFeeIsConfirmedFree(t *testing.T) {
	cand := candidateFrom(t, `{
		"name": "Freedom Card",
		"fees": {"joiningFee": 0, "annualFee": 0}
	}`)

	card, err := BuildCard(cand, "HDFC Bank")
	require.NoError(t, err)
	require.NotNil(t, card.Fees.JoiningFee)
	assert.Equal(t, 0, *card.Fees.JoiningFee)
	require.NotNil(t, card.Fees.AnnualFee)
	assert.Equal(t, 0, *card.Fees.AnnualFee)
}

func TestBuildCard_DefaultsForMissingFields(t *testing.T) {
	cand := candidateFrom(t, `{"name": "Sparse Card"}`)

	card, err := BuildCard(cand, "HDFC Bank")
	require.NoError(t, err)

	assert.Equal(t, model.TypeEntryLevel, card.BasicInfo.CardType)
	assert.Equal(t, []model.CardNetwork{model.NetworkVisa}, card.BasicInfo.Network)
	assert.Equal(t, []model.EmploymentType{model.EmploymentSalaried, model.EmploymentSelfEmployed}, card.Eligibility.EmploymentType)
	assert.Equal(t, 21, card.Eligibility.MinAge)
	assert.Equal(t, 60, card.Eligibility.MaxAge)
	assert.InDelta(t, 1.0, card.Rewards.RewardRate, 0.001)
	assert.InDelta(t, 42.0, card.Charges.InterestRate.Annual, 0.001)
	assert.InDelta(t, 3.5, card.Charges.InterestRate.Monthly, 0.001)
	assert.InDelta(t, 2.5, card.Charges.CashAdvanceFee.Percent, 0.001)
	assert.Equal(t, 500, card.Charges.CashAdvanceFee.Min)
	require.NotNil(t, card.Charges.LateFee)
	assert.Equal(t, 750, *card.Charges.LateFee)
	assert.Equal(t, 2, card.Features.AddOnCards)
	assert.True(t, card.Features.Contactless)
	assert.True(t, card.Features.ZeroLiability)

	assert.Nil(t, card.LoungeAccess.Domestic)
	assert.Nil(t, card.LoungeAccess.International)
}

func TestBuildCard_LoungeTierAllOrNothing(t *testing.T) {
	// A tier without a visit count stays absent rather than half-built.
	cand := candidateFrom(t, `{
		"name": "Partial Lounge Card",
		"loungeAccess": {"domestic": {"program": "Visa Lounge Program"}}
	}`)

	card, err := BuildCard(cand, "HDFC Bank")
	require.NoError(t, err)
	assert.Nil(t, card.LoungeAccess.Domestic)
}

func TestBuildCard_CoercesStringAmounts(t *testing.T) {
	cand := candidateFrom(t, `{
		"name": "Messy Card",
		"fees": {"annualFee": "Rs. 2,500", "joiningFee": "₹1,000"},
		"charges": {"foreignTxnFee": "3.5%"}
	}`)

	card, err := BuildCard(cand, "HDFC Bank")
	require.NoError(t, err)
	require.NotNil(t, card.Fees.AnnualFee)
	assert.Equal(t, 2500, *card.Fees.AnnualFee)
	require.NotNil(t, card.Fees.JoiningFee)
	assert.Equal(t, 1000, *card.Fees.JoiningFee)
	assert.InDelta(t, 3.5, card.Charges.ForeignTxnFee, 0.001)
}

func TestBuildCard_NameFallsBackToPageTitle(t *testing.T) {
	cand := candidateFrom(t, `{"cardType": "Premium"}`)
	cand.PageTitle = "Diners Club Black"

	card, err := BuildCard(cand, "HDFC Bank")
	require.NoError(t, err)
	assert.Equal(t, "Diners Club Black", card.BasicInfo.Name)
	assert.Equal(t, "hdfc-diners-club-black", card.ID)
}

func TestCardIDStability(t *testing.T) {
	a := model.CardID("HDFC Bank", "Regalia Gold Credit Card")
	b := model.CardID("HDFC Bank", "Regalia Gold Credit Card")
	assert.Equal(t, a, b)
	assert.Equal(t, "hdfc-regalia-gold-credit-card", a)
}
