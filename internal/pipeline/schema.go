// Package pipeline turns raw card pages into validated canonical records:
// prompt the model, parse its JSON, score confidence, validate ranges.
package pipeline

import "strings"

// extractionSchema describes the target JSON shape embedded in the prompt.
// Field names here must line up with what buildCard reads back out.
const extractionSchema = `{
  "name": "string - Full card name",
  "description": "string - One sentence positioning of the card or null",
  "cardType": "Entry Level | Premium | Super Premium | Ultra Premium | Business",
  "network": ["Visa", "Mastercard", "RuPay", "Amex", "Diners"],
  "fees": {
    "joiningFee": "number in INR, 0 if explicitly free, null if not stated",
    "joiningFeeWaiver": "string condition or null",
    "annualFee": "number in INR, 0 if explicitly free, null if not stated",
    "annualFeeWaiver": "string condition or null",
    "renewalFee": "number in INR or null",
    "addOnCardFee": "number in INR or null",
    "fuelSurchargeWaiver": {"enabled": "boolean", "maxPerMonth": "number INR or null"}
  },
  "eligibility": {
    "minSalary": "number monthly salary in INR or null",
    "minITR": "number annual income in INR or null",
    "minCibilScore": "number or null",
    "employmentType": ["Salaried", "Self-Employed", "Business Owner"],
    "minAge": "number or null",
    "maxAge": "number or null"
  },
  "rewards": {
    "rewardRate": "number - base reward percentage",
    "rewardUnit": "points | cashback | miles",
    "pointValue": "number - INR value per point",
    "acceleratedCategories": [
      {"category": "string", "rate": "number", "cap": "number or null"}
    ],
    "welcomeBonus": {"points": "number", "value": "number INR", "condition": "string"},
    "milestoneRewards": [
      {"spend": "number INR", "reward": "string", "period": "string or null"}
    ]
  },
  "loungeAccess": {
    "domestic": {"freeVisits": "number per year", "program": "string"},
    "international": {"freeVisits": "number per year", "program": "string"}
  },
  "charges": {
    "interestRateAnnual": "number percentage",
    "foreignTxnFee": "number percentage",
    "lateFee": "number INR",
    "overLimitFee": "number INR or null",
    "cashAdvanceFeePercent": "number",
    "cashAdvanceFeeMin": "number INR",
    "cardReplacementFee": "number INR or null"
  },
  "features": {
    "contactless": "boolean",
    "virtualCard": "boolean",
    "addOnCards": "number or null",
    "concierge": "boolean",
    "airAccidentCover": "number INR or null",
    "lostCardCover": "number INR or null",
    "purchaseProtection": "number INR or null",
    "zeroLiability": "boolean",
    "instantIssuance": "boolean",
    "emiConversion": "boolean"
  }
}`

// extractionInstructions is the cached system prompt. The schema rides along
// in the same block so one cache entry covers both.
const extractionInstructions = `You are a data extraction expert. Extract credit card details from the provided text into a structured JSON format.

IMPORTANT RULES:
1. Extract ONLY information explicitly mentioned in the text
2. Use null for any field not found in the text
3. Convert all fees/amounts to numbers (remove currency symbols like ` + "₹" + `, Rs., and commas)
4. For percentages, use the number only (e.g., 3.5 not "3.5%")
5. Be precise with numbers - don't guess or estimate
6. For eligibility, extract minimum salary/income requirements
7. For rewards, identify the base reward rate and any accelerated categories
8. Respond with ONLY valid JSON, no explanations or markdown. Start with { and end with }

OUTPUT JSON SCHEMA:
` + extractionSchema

// requiredFieldPaths drive the extraction-confidence heuristic: confidence
// is the fraction of these that came back populated. Dotted paths index into
// the parsed JSON object.
var requiredFieldPaths = []string{
	"name",
	"cardType",
	"network",
	"fees.joiningFee",
	"fees.annualFee",
	"eligibility.employmentType",
	"rewards.rewardRate",
	"rewards.rewardUnit",
	"charges.interestRateAnnual",
	"charges.foreignTxnFee",
	"charges.lateFee",
	"features.contactless",
}

// lookupPath resolves a dotted path in a parsed JSON object. The second
// return is false when any segment is absent or null.
func lookupPath(fields map[string]any, path string) (any, bool) {
	cur := any(fields)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Confidence scores a parsed extraction by the fraction of required fields
// that came back populated.
func Confidence(fields map[string]any) float64 {
	return extractionConfidence(fields)
}

// extractionConfidence is the populated-required-fields heuristic. It is a
// coarse proxy for extraction quality, kept as-is for dataset compatibility.
func extractionConfidence(fields map[string]any) float64 {
	if fields == nil {
		return 0
	}
	populated := 0
	for _, path := range requiredFieldPaths {
		if _, ok := lookupPath(fields, path); ok {
			populated++
		}
	}
	return float64(populated) / float64(len(requiredFieldPaths))
}
