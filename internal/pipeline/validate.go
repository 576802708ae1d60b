package pipeline

import (
	"fmt"
	"math"

	"github.com/cardscope/card-pipeline/internal/model"
)

const (
	errorPenalty   = 0.25
	warningPenalty = 0.05

	maxReasonableFee    = 100000
	minReasonableSalary = 10000
	maxReasonableSalary = 10000000
)

// Validator checks a built card against schema invariants and plausibility
// ranges. It is pure and deterministic: the same card yields the same report
// every time, with findings in a fixed order.
type Validator struct {
	// ReviewThreshold is the adjusted confidence below which a card is
	// flagged for manual review even without hard errors.
	ReviewThreshold float64

	// RateDivergence is the tolerated relative gap between the annual
	// interest rate and twelve times the monthly rate.
	RateDivergence float64
}

func NewValidator() *Validator {
	return &Validator{ReviewThreshold: 0.6, RateDivergence: 0.05}
}

// Validate produces the report for one card. Confidence is only ever
// lowered: each error costs 25% of the remaining score and each warning 5%.
func (v *Validator) Validate(card model.Card, confidence float64) model.ValidationReport {
	report := model.ValidationReport{SourceURL: card.Metadata.SourceURL}

	v.checkIdentity(card, &report)
	v.checkFees(card, &report)
	v.checkEligibility(card, &report)
	v.checkRewards(card, &report)
	v.checkCharges(card, &report)

	penalty := float64(len(report.Errors))*errorPenalty + float64(len(report.Warnings))*warningPenalty
	if penalty > 1 {
		penalty = 1
	}
	adjusted := confidence * (1 - penalty)
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > confidence {
		adjusted = confidence
	}
	report.AdjustedConfidence = adjusted
	report.ManualReview = len(report.Errors) > 0 || adjusted < v.ReviewThreshold

	return report
}

func (v *Validator) checkIdentity(card model.Card, r *model.ValidationReport) {
	if len(card.BasicInfo.Name) < 3 {
		r.Errors = append(r.Errors, model.FieldIssue{
			Field:  "basicInfo.name",
			Reason: "card name missing or too short",
		})
	}
	if card.BasicInfo.Issuer == "" {
		r.Errors = append(r.Errors, model.FieldIssue{
			Field:  "basicInfo.issuer",
			Reason: "issuer is required",
		})
	}
	if len(card.BasicInfo.Network) == 0 {
		r.Errors = append(r.Errors, model.FieldIssue{
			Field:  "basicInfo.network",
			Reason: "at least one network is required",
		})
	}
}

func (v *Validator) checkFees(card model.Card, r *model.ValidationReport) {
	// Null and zero mean different things here: null is unknown, zero is
	// confirmed free. A card with unknown core fees cannot ship unreviewed.
	checkFee := func(field string, fee *int) {
		if fee == nil {
			r.Errors = append(r.Errors, model.FieldIssue{
				Field:  field,
				Reason: "fee unknown; null is not confirmed-free",
			})
			return
		}
		if *fee < 0 {
			r.Errors = append(r.Errors, model.FieldIssue{
				Field:  field,
				Reason: "monetary amount cannot be negative",
			})
			return
		}
		if *fee > maxReasonableFee {
			r.Warnings = append(r.Warnings, model.FieldIssue{
				Field:  field,
				Reason: fmt.Sprintf("amount %d outside expected range 0-%d", *fee, maxReasonableFee),
			})
		}
	}
	checkFee("fees.joiningFee", card.Fees.JoiningFee)
	checkFee("fees.annualFee", card.Fees.AnnualFee)

	if card.Fees.RenewalFee != nil && *card.Fees.RenewalFee < 0 {
		r.Errors = append(r.Errors, model.FieldIssue{
			Field:  "fees.renewalFee",
			Reason: "monetary amount cannot be negative",
		})
	}

	if w := card.Fees.AnnualFeeWaiver; w != nil && len(*w) < 5 {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "fees.annualFeeWaiver",
			Reason: "waiver condition too short to be meaningful",
		})
	}
	if w := card.Fees.JoiningFeeWaiver; w != nil && len(*w) < 5 {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "fees.joiningFeeWaiver",
			Reason: "waiver condition too short to be meaningful",
		})
	}
}

func (v *Validator) checkEligibility(card model.Card, r *model.ValidationReport) {
	e := card.Eligibility

	if e.MinCibilScore != nil && (*e.MinCibilScore < 300 || *e.MinCibilScore > 900) {
		r.Errors = append(r.Errors, model.FieldIssue{
			Field:  "eligibility.minCibilScore",
			Reason: fmt.Sprintf("CIBIL score %d outside valid range 300-900", *e.MinCibilScore),
		})
	}
	if e.MinAge < 18 {
		r.Errors = append(r.Errors, model.FieldIssue{
			Field:  "eligibility.minAge",
			Reason: fmt.Sprintf("minimum age %d below 18", e.MinAge),
		})
	}
	if e.MinAge >= e.MaxAge {
		r.Errors = append(r.Errors, model.FieldIssue{
			Field:  "eligibility.minAge",
			Reason: fmt.Sprintf("minimum age %d not below maximum age %d", e.MinAge, e.MaxAge),
		})
	}

	if e.MinSalary != nil && (*e.MinSalary < minReasonableSalary || *e.MinSalary > maxReasonableSalary) {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "eligibility.minSalary",
			Reason: fmt.Sprintf("salary %d outside expected range %d-%d", *e.MinSalary, minReasonableSalary, maxReasonableSalary),
		})
	}
	if e.MinSalary == nil && e.MinITR == nil {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "eligibility",
			Reason: "no income requirement found",
		})
	}
}

func (v *Validator) checkRewards(card model.Card, r *model.ValidationReport) {
	rw := card.Rewards

	if rw.RewardRate < 0 || rw.RewardRate > 50 {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "rewards.rewardRate",
			Reason: fmt.Sprintf("reward rate %.2f outside expected range 0-50", rw.RewardRate),
		})
	}
	if rw.PointValue < 0 || rw.PointValue > 10 {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "rewards.pointValue",
			Reason: fmt.Sprintf("point value %.2f outside expected range 0-10", rw.PointValue),
		})
	}
	if len(rw.AcceleratedCategories) == 0 {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "rewards.acceleratedCategories",
			Reason: "no accelerated categories found",
		})
	}
	for _, cat := range rw.AcceleratedCategories {
		if cat.Rate < rw.RewardRate {
			r.Warnings = append(r.Warnings, model.FieldIssue{
				Field:  "rewards.acceleratedCategories." + cat.Category,
				Reason: fmt.Sprintf("accelerated rate %.2f below base rate %.2f", cat.Rate, rw.RewardRate),
			})
		}
	}
}

func (v *Validator) checkCharges(card model.Card, r *model.ValidationReport) {
	c := card.Charges

	if c.InterestRate.Annual < 0 || c.InterestRate.Annual > 100 {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "charges.interestRate.annual",
			Reason: fmt.Sprintf("annual interest %.2f outside expected range 0-100", c.InterestRate.Annual),
		})
	}
	if c.InterestRate.Annual > 0 {
		diff := math.Abs(c.InterestRate.Monthly*12-c.InterestRate.Annual) / c.InterestRate.Annual
		if diff > v.RateDivergence {
			r.Warnings = append(r.Warnings, model.FieldIssue{
				Field:  "charges.interestRate",
				Reason: fmt.Sprintf("monthly rate %.2f does not reconcile with annual %.2f", c.InterestRate.Monthly, c.InterestRate.Annual),
			})
		}
	}
	if c.ForeignTxnFee < 0 || c.ForeignTxnFee > 10 {
		r.Warnings = append(r.Warnings, model.FieldIssue{
			Field:  "charges.foreignTxnFee",
			Reason: fmt.Sprintf("foreign transaction fee %.2f outside expected range 0-10", c.ForeignTxnFee),
		})
	}
	if c.LateFee != nil && *c.LateFee < 0 {
		r.Errors = append(r.Errors, model.FieldIssue{
			Field:  "charges.lateFee",
			Reason: "monetary amount cannot be negative",
		})
	}
}
