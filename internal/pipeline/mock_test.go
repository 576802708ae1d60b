package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/cardscope/card-pipeline/pkg/anthropic"
)

// fakeClient returns canned responses in order, then repeats the last one.
// Thread safe; calls counts every CreateMessage invocation.
type fakeClient struct {
	responses []string
	errs      []error
	calls     atomic.Int64
}

func (f *fakeClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(f.calls.Add(1)) - 1

	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}

	idx := n
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return &anthropic.MessageResponse{
		ID:      "msg_test",
		Model:   req.Model,
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.responses[idx]}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}, nil
}

// regaliaJSON is a realistic full extraction used across tests.
const regaliaJSON = `{
  "name": "Regalia Gold Credit Card",
  "description": "Premium lifestyle card with lounge access",
  "cardType": "Premium",
  "network": ["Visa", "Mastercard"],
  "fees": {
    "joiningFee": 2500,
    "annualFee": 2500,
    "annualFeeWaiver": "Spend 4L in a year",
    "fuelSurchargeWaiver": {"enabled": true, "maxPerMonth": 250}
  },
  "eligibility": {
    "minSalary": 100000,
    "minCibilScore": 750,
    "employmentType": ["Salaried"],
    "minAge": 21,
    "maxAge": 60
  },
  "rewards": {
    "rewardRate": 1.33,
    "rewardUnit": "points",
    "pointValue": 0.5,
    "acceleratedCategories": [
      {"category": "dining", "rate": 6.65, "cap": 2000}
    ],
    "welcomeBonus": {"points": 2500, "value": 1250, "condition": "On fee payment"}
  },
  "loungeAccess": {
    "domestic": {"freeVisits": 12, "program": "Visa Lounge Program"},
    "international": {"freeVisits": 6, "program": "Priority Pass"}
  },
  "charges": {
    "interestRateAnnual": 43.2,
    "foreignTxnFee": 2.0,
    "lateFee": 1300,
    "cashAdvanceFeePercent": 2.5,
    "cashAdvanceFeeMin": 500
  },
  "features": {
    "contactless": true,
    "concierge": true,
    "zeroLiability": true,
    "emiConversion": true
  }
}`

func extractorWith(client anthropic.Client) *Extractor {
	return NewExtractor(client, ExtractorOptions{
		Model:      "claude-haiku-4-5-20251001",
		MaxRetries: 2,
	})
}
