package pipeline

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/cardscope/card-pipeline/internal/model"
)

// Documented issuer-standard values used when a page omits a field that the
// canonical schema requires. Fee fields stay nil instead; for those, missing
// and free mean different things.
const (
	defaultMinAge             = 21
	defaultMaxAge             = 60
	defaultRewardRate         = 1.0
	defaultPointValue         = 0.25
	defaultAnnualInterest     = 42.0
	defaultCashAdvancePercent = 2.5
	defaultCashAdvanceMin     = 500
	defaultForeignTxnFee      = 3.5
	defaultLateFee            = 750
	defaultOverLimitFee       = 500
	defaultEMIPercent         = 1.0
	defaultEMIMin             = 199
	defaultCardReplacement    = 200
	defaultStatementFee       = 50
	defaultAddOnCards         = 2
)

// BuildCard converts a candidate's parsed fields into a canonical card.
// Fails only when the candidate has nothing to build from; weak or
// out-of-range values are the validator's concern, not the builder's.
func BuildCard(cand model.ExtractionCandidate, displayIssuer string) (model.Card, error) {
	fields := cand.ParsedFields
	if fields == nil {
		return model.Card{}, eris.Errorf("pipeline: candidate for %s has no parsed fields", cand.SourceURL)
	}

	name := stringAt(fields, "name")
	if name == "" {
		name = cand.PageTitle
	}

	card := model.Card{
		ID: model.CardID(displayIssuer, name),
		BasicInfo: model.BasicInfo{
			Name:        name,
			Issuer:      displayIssuer,
			Network:     parseNetworks(valueAt(fields, "network")),
			CardType:    parseCardType(stringAt(fields, "cardType")),
			ApplyURL:    cand.SourceURL,
			Description: stringPtrAt(fields, "description"),
		},
		Fees:         buildFees(mapAt(fields, "fees")),
		Eligibility:  buildEligibility(mapAt(fields, "eligibility")),
		Rewards:      buildRewards(mapAt(fields, "rewards")),
		LoungeAccess: buildLounge(mapAt(fields, "loungeAccess")),
		Charges:      buildCharges(mapAt(fields, "charges")),
		Features:     buildFeatures(mapAt(fields, "features")),
		Metadata: model.Metadata{
			SourceURL:  cand.SourceURL,
			ScrapedAt:  cand.ExtractedAt.Format("2006-01-02"),
			Confidence: cand.Confidence,
		},
	}
	return card, nil
}

func buildFees(m map[string]any) model.Fees {
	fees := model.Fees{
		JoiningFee:       intPtrAt(m, "joiningFee"),
		JoiningFeeWaiver: stringPtrAt(m, "joiningFeeWaiver"),
		AnnualFee:        intPtrAt(m, "annualFee"),
		AnnualFeeWaiver:  stringPtrAt(m, "annualFeeWaiver"),
		RenewalFee:       intPtrAt(m, "renewalFee"),
		AddOnCardFee:     intPtrAt(m, "addOnCardFee"),
	}
	if fsw := mapAt(m, "fuelSurchargeWaiver"); fsw != nil {
		fees.FuelSurchargeWaiver = model.FuelSurchargeWaiver{
			Enabled:     boolAt(fsw, "enabled", false),
			MaxPerMonth: intPtrAt(fsw, "maxPerMonth"),
		}
	}
	return fees
}

func buildEligibility(m map[string]any) model.Eligibility {
	return model.Eligibility{
		MinSalary:      intPtrAt(m, "minSalary"),
		MinITR:         intPtrAt(m, "minITR"),
		MinCibilScore:  intPtrAt(m, "minCibilScore"),
		EmploymentType: parseEmployment(valueAt(m, "employmentType")),
		MinAge:         intAt(m, "minAge", defaultMinAge),
		MaxAge:         intAt(m, "maxAge", defaultMaxAge),
	}
}

func buildRewards(m map[string]any) model.Rewards {
	r := model.Rewards{
		RewardRate: floatAt(m, "rewardRate", defaultRewardRate),
		RewardUnit: parseRewardUnit(stringAt(m, "rewardUnit")),
		PointValue: floatAt(m, "pointValue", defaultPointValue),
	}

	for _, v := range sliceAt(m, "acceleratedCategories") {
		cm, ok := v.(map[string]any)
		if !ok {
			continue
		}
		cat := stringAt(cm, "category")
		if cat == "" {
			continue
		}
		r.AcceleratedCategories = append(r.AcceleratedCategories, model.AcceleratedCategory{
			Category: cat,
			Rate:     floatAt(cm, "rate", r.RewardRate),
			Cap:      intPtrAt(cm, "cap"),
		})
	}

	if wb := mapAt(m, "welcomeBonus"); wb != nil {
		points := intPtrAt(wb, "points")
		value := intPtrAt(wb, "value")
		if points != nil || value != nil {
			r.WelcomeBonus = &model.WelcomeBonus{
				Points:    points,
				Value:     value,
				Condition: stringAt(wb, "condition"),
			}
		}
	}

	for _, v := range sliceAt(m, "milestoneRewards") {
		mm, ok := v.(map[string]any)
		if !ok {
			continue
		}
		spend := intAt(mm, "spend", 0)
		reward := stringAt(mm, "reward")
		if spend == 0 || reward == "" {
			continue
		}
		r.MilestoneRewards = append(r.MilestoneRewards, model.MilestoneReward{
			Spend:  spend,
			Reward: reward,
			Period: stringPtrAt(mm, "period"),
		})
	}

	return r
}

func buildLounge(m map[string]any) model.LoungeAccess {
	return model.LoungeAccess{
		Domestic:      buildLoungeTier(mapAt(m, "domestic")),
		International: buildLoungeTier(mapAt(m, "international")),
	}
}

// buildLoungeTier enforces the all-or-null rule: without a visit count the
// whole tier stays absent rather than half-filled.
func buildLoungeTier(m map[string]any) *model.LoungeTier {
	if m == nil {
		return nil
	}
	visits := intPtrAt(m, "freeVisits")
	if visits == nil {
		return nil
	}
	return &model.LoungeTier{
		FreeVisits: *visits,
		Program:    stringAt(m, "program"),
	}
}

func buildCharges(m map[string]any) model.Charges {
	annual := floatAt(m, "interestRateAnnual", defaultAnnualInterest)
	lateFee := intPtrAt(m, "lateFee")
	if lateFee == nil {
		v := defaultLateFee
		lateFee = &v
	}
	overLimit := intPtrAt(m, "overLimitFee")
	if overLimit == nil {
		v := defaultOverLimitFee
		overLimit = &v
	}
	replacement := intPtrAt(m, "cardReplacementFee")
	if replacement == nil {
		v := defaultCardReplacement
		replacement = &v
	}
	statement := defaultStatementFee

	return model.Charges{
		InterestRate: model.InterestRate{
			Monthly: annual / 12,
			Annual:  annual,
		},
		CashAdvanceFee: model.FeeWithMin{
			Percent: floatAt(m, "cashAdvanceFeePercent", defaultCashAdvancePercent),
			Min:     intAt(m, "cashAdvanceFeeMin", defaultCashAdvanceMin),
		},
		ForeignTxnFee:      floatAt(m, "foreignTxnFee", defaultForeignTxnFee),
		LateFee:            lateFee,
		OverLimitFee:       overLimit,
		EMIFee:             model.EMIFee{ProcessingPercent: defaultEMIPercent, MinAmount: defaultEMIMin},
		CardReplacementFee: replacement,
		StatementFee:       &statement,
	}
}

func buildFeatures(m map[string]any) model.Features {
	return model.Features{
		Contactless: boolAt(m, "contactless", true),
		VirtualCard: boolAt(m, "virtualCard", false),
		AddOnCards:  intAt(m, "addOnCards", defaultAddOnCards),
		InsuranceCover: model.InsuranceCover{
			AirAccident:        intPtrAt(m, "airAccidentCover"),
			LostCard:           intPtrAt(m, "lostCardCover"),
			PurchaseProtection: intPtrAt(m, "purchaseProtection"),
		},
		Concierge:       boolAt(m, "concierge", false),
		ZeroLiability:   boolAt(m, "zeroLiability", true),
		InstantIssuance: boolAt(m, "instantIssuance", false),
		EMIConversion:   boolAt(m, "emiConversion", true),
	}
}

func parseNetworks(v any) []model.CardNetwork {
	var out []model.CardNetwork
	for _, item := range toSlice(v) {
		s, ok := item.(string)
		if !ok {
			continue
		}
		for _, n := range model.AllNetworks {
			if strings.EqualFold(s, string(n)) {
				out = append(out, n)
				break
			}
		}
	}
	if len(out) == 0 {
		out = []model.CardNetwork{model.NetworkVisa}
	}
	return out
}

func parseCardType(s string) model.CardType {
	for _, t := range model.AllCardTypes {
		if strings.EqualFold(s, string(t)) {
			return t
		}
	}
	return model.TypeEntryLevel
}

func parseEmployment(v any) []model.EmploymentType {
	known := []model.EmploymentType{
		model.EmploymentSalaried,
		model.EmploymentSelfEmployed,
		model.EmploymentBusinessOwner,
	}
	var out []model.EmploymentType
	for _, item := range toSlice(v) {
		s, ok := item.(string)
		if !ok {
			continue
		}
		for _, e := range known {
			if strings.EqualFold(s, string(e)) {
				out = append(out, e)
				break
			}
		}
	}
	if len(out) == 0 {
		out = []model.EmploymentType{model.EmploymentSalaried, model.EmploymentSelfEmployed}
	}
	return out
}

func parseRewardUnit(s string) model.RewardUnit {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cashback":
		return model.RewardCashback
	case "miles":
		return model.RewardMiles
	default:
		return model.RewardPoints
	}
}

// Accessors below tolerate the shapes JSON decoding can hand back: float64
// for every number, strings carrying currency noise, missing keys, nulls.

func valueAt(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func mapAt(m map[string]any, key string) map[string]any {
	sub, _ := valueAt(m, key).(map[string]any)
	return sub
}

func sliceAt(m map[string]any, key string) []any {
	return toSlice(valueAt(m, key))
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case string:
		if s == "" {
			return nil
		}
		return []any{s}
	default:
		return nil
	}
}

func stringAt(m map[string]any, key string) string {
	s, _ := valueAt(m, key).(string)
	return strings.TrimSpace(s)
}

func stringPtrAt(m map[string]any, key string) *string {
	s := stringAt(m, key)
	if s == "" {
		return nil
	}
	return &s
}

func boolAt(m map[string]any, key string, def bool) bool {
	if b, ok := valueAt(m, key).(bool); ok {
		return b
	}
	return def
}

func floatAt(m map[string]any, key string, def float64) float64 {
	if f, ok := coerceFloat(valueAt(m, key)); ok {
		return f
	}
	return def
}

func intAt(m map[string]any, key string, def int) int {
	if f, ok := coerceFloat(valueAt(m, key)); ok {
		return int(f)
	}
	return def
}

func intPtrAt(m map[string]any, key string) *int {
	if f, ok := coerceFloat(valueAt(m, key)); ok {
		v := int(f)
		return &v
	}
	return nil
}

// coerceFloat handles numbers the model returned as strings with currency
// symbols, commas or a trailing percent sign.
func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		s := strings.TrimSpace(n)
		for _, junk := range []string{"₹", "Rs.", "Rs", "INR", ",", "%"} {
			s = strings.ReplaceAll(s, junk, "")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
