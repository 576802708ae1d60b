package model

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CardNetwork is the payment network a card runs on.
type CardNetwork string

const (
	NetworkVisa       CardNetwork = "Visa"
	NetworkMastercard CardNetwork = "Mastercard"
	NetworkRuPay      CardNetwork = "RuPay"
	NetworkAmex       CardNetwork = "Amex"
	NetworkDiners     CardNetwork = "Diners"
)

// AllNetworks lists the accepted card networks.
var AllNetworks = []CardNetwork{NetworkVisa, NetworkMastercard, NetworkRuPay, NetworkAmex, NetworkDiners}

// CardType is the market tier of a card.
type CardType string

const (
	TypeEntryLevel   CardType = "Entry Level"
	TypePremium      CardType = "Premium"
	TypeSuperPremium CardType = "Super Premium"
	TypeUltraPremium CardType = "Ultra Premium"
	TypeBusiness     CardType = "Business"
)

// AllCardTypes lists the accepted card tiers.
var AllCardTypes = []CardType{TypeEntryLevel, TypePremium, TypeSuperPremium, TypeUltraPremium, TypeBusiness}

// EmploymentType describes who is eligible to apply.
type EmploymentType string

const (
	EmploymentSalaried      EmploymentType = "Salaried"
	EmploymentSelfEmployed  EmploymentType = "Self-Employed"
	EmploymentBusinessOwner EmploymentType = "Business Owner"
)

// RewardUnit is the currency rewards accrue in.
type RewardUnit string

const (
	RewardPoints   RewardUnit = "points"
	RewardCashback RewardUnit = "cashback"
	RewardMiles    RewardUnit = "miles"
)

// BasicInfo identifies a card.
type BasicInfo struct {
	Name        string        `json:"name"`
	Issuer      string        `json:"issuer"`
	Network     []CardNetwork `json:"network"`
	CardType    CardType      `json:"cardType"`
	ImageURL    string        `json:"imageUrl"`
	ApplyURL    string        `json:"applyUrl"`
	Description *string       `json:"description"`
}

// FuelSurchargeWaiver describes the fuel surcharge waiver terms.
type FuelSurchargeWaiver struct {
	Enabled        bool `json:"enabled"`
	MaxPerMonth    *int `json:"maxPerMonth"`
	MinTransaction *int `json:"minTransaction"`
	MaxTransaction *int `json:"maxTransaction"`
}

// Fees holds one-time and recurring card fees. Monetary amounts are rupees;
// nil means unknown, 0 means confirmed free. The two are never conflated.
type Fees struct {
	JoiningFee          *int                `json:"joiningFee"`
	JoiningFeeWaiver    *string             `json:"joiningFeeWaiver"`
	AnnualFee           *int                `json:"annualFee"`
	AnnualFeeWaiver     *string             `json:"annualFeeWaiver"`
	RenewalFee          *int                `json:"renewalFee"`
	AddOnCardFee        *int                `json:"addOnCardFee"`
	FuelSurchargeWaiver FuelSurchargeWaiver `json:"fuelSurchargeWaiver"`
}

// Eligibility holds applicant requirements.
type Eligibility struct {
	MinSalary            *int             `json:"minSalary"`
	MinITR               *int             `json:"minITR"`
	MinCibilScore        *int             `json:"minCibilScore"`
	EmploymentType       []EmploymentType `json:"employmentType"`
	MinAge               int              `json:"minAge"`
	MaxAge               int              `json:"maxAge"`
	ExistingRelationship bool             `json:"existingRelationship"`
	OtherRequirements    []string         `json:"otherRequirements"`
}

// AcceleratedCategory is a spend category earning above the base rate.
type AcceleratedCategory struct {
	Category string  `json:"category"`
	Rate     float64 `json:"rate"`
	Cap      *int    `json:"cap"`
	Unit     *string `json:"unit"`
}

// WelcomeBonus is the joining benefit.
type WelcomeBonus struct {
	Points    *int   `json:"points"`
	Value     *int   `json:"value"`
	Condition string `json:"condition"`
}

// MilestoneReward is a spend-threshold benefit.
type MilestoneReward struct {
	Spend  int     `json:"spend"`
	Reward string  `json:"reward"`
	Period *string `json:"period"`
}

// Rewards holds the earn structure.
type Rewards struct {
	RewardRate            float64               `json:"rewardRate"`
	RewardUnit            RewardUnit            `json:"rewardUnit"`
	PointValue            float64               `json:"pointValue"`
	AcceleratedCategories []AcceleratedCategory `json:"acceleratedCategories"`
	WelcomeBonus          *WelcomeBonus         `json:"welcomeBonus"`
	MilestoneRewards      []MilestoneReward     `json:"milestoneRewards"`
	RedemptionOptions     []string              `json:"redemptionOptions"`
}

// LoungeTier describes airport lounge access for one region.
// Either fully populated or absent; never partial.
type LoungeTier struct {
	FreeVisits  int     `json:"freeVisits"`
	PerQuarter  *bool   `json:"perQuarter"`
	PerYear     *bool   `json:"perYear"`
	Program     string  `json:"program"`
	GuestAccess *bool   `json:"guestAccess"`
	GuestFee    *int    `json:"guestFee"`
}

// RailwayLounge describes railway lounge access.
type RailwayLounge struct {
	Enabled bool `json:"enabled"`
	Visits  int  `json:"visits"`
}

// LoungeAccess groups lounge benefits.
type LoungeAccess struct {
	Domestic      *LoungeTier    `json:"domestic"`
	International *LoungeTier    `json:"international"`
	RailwayLounge *RailwayLounge `json:"railwayLounge"`
}

// PlatformDiscount is a partner platform offer.
type PlatformDiscount struct {
	Name      string  `json:"name"`
	Discount  string  `json:"discount"`
	Cap       *int    `json:"cap"`
	MinSpend  *int    `json:"minSpend"`
	Frequency *string `json:"frequency"`
}

// CategoryOffer is a category-level partner offer.
type CategoryOffer struct {
	Category  string  `json:"category"`
	Partner   string  `json:"partner"`
	Offer     string  `json:"offer"`
	ValidTill *string `json:"validTill"`
}

// DiscountsAndOffers groups partner offers.
type DiscountsAndOffers struct {
	Platforms  []PlatformDiscount `json:"platforms"`
	Categories []CategoryOffer    `json:"categories"`
}

// InterestRate holds revolving credit rates in percent.
type InterestRate struct {
	Monthly float64 `json:"monthly"`
	Annual  float64 `json:"annual"`
}

// FeeWithMin is a percentage fee with a rupee floor.
type FeeWithMin struct {
	Percent float64 `json:"percent"`
	Min     int     `json:"min"`
}

// EMIFee holds EMI conversion charges.
type EMIFee struct {
	ProcessingPercent float64 `json:"processingPercent"`
	MinAmount         int     `json:"minAmount"`
}

// Charges holds the cost-of-credit schedule.
type Charges struct {
	InterestRate          InterestRate `json:"interestRate"`
	CashAdvanceFee        FeeWithMin   `json:"cashAdvanceFee"`
	ForeignTxnFee         float64      `json:"foreignTxnFee"`
	LateFee               *int         `json:"lateFee"`
	OverLimitFee          *int         `json:"overLimitFee"`
	EMIFee                EMIFee       `json:"emiFee"`
	CardReplacementFee    *int         `json:"cardReplacementFee"`
	StatementFee          *int         `json:"statementFee"`
	ChequeReturnFee       *int         `json:"chequeReturnFee"`
	OutstandingBalanceFee *int         `json:"outstandingBalanceFee"`
}

// InsuranceCover holds bundled insurance amounts in rupees.
type InsuranceCover struct {
	AirAccident        *int `json:"airAccident"`
	LostCard           *int `json:"lostCard"`
	PurchaseProtection *int `json:"purchaseProtection"`
	TravelInsurance    *int `json:"travelInsurance"`
	MedicalEmergency   *int `json:"medicalEmergency"`
}

// GolfAccess describes complimentary golf benefits.
type GolfAccess struct {
	Enabled   bool     `json:"enabled"`
	FreeGames int      `json:"freeGames"`
	Courses   []string `json:"courses"`
}

// Features holds card capabilities.
type Features struct {
	Contactless     bool           `json:"contactless"`
	VirtualCard     bool           `json:"virtualCard"`
	AddOnCards      int            `json:"addOnCards"`
	InsuranceCover  InsuranceCover `json:"insuranceCover"`
	Concierge       bool           `json:"concierge"`
	GolfAccess      *GolfAccess    `json:"golfAccess"`
	ZeroLiability   bool           `json:"zeroLiability"`
	InstantIssuance bool           `json:"instantIssuance"`
	EMIConversion   bool           `json:"emiConversion"`
	RewardTransfer  *bool          `json:"rewardTransfer"`
	SpendAnalytics  *bool          `json:"spendAnalytics"`
}

// Metadata records extraction provenance and quality.
type Metadata struct {
	SourceURL    string  `json:"sourceUrl"`
	ScrapedAt    string  `json:"scrapedAt"`
	Confidence   float64 `json:"confidence"`
	ManualReview bool    `json:"manualReview"`
	LastVerified *string `json:"lastVerified"`
}

// Card is the canonical card record the front-end consumes. The field names,
// nesting and nullability are a contract; changing them breaks the UI.
type Card struct {
	ID                 string             `json:"id"`
	BasicInfo          BasicInfo          `json:"basicInfo"`
	Fees               Fees               `json:"fees"`
	Eligibility        Eligibility        `json:"eligibility"`
	Rewards            Rewards            `json:"rewards"`
	LoungeAccess       LoungeAccess       `json:"loungeAccess"`
	DiscountsAndOffers DiscountsAndOffers `json:"discountsAndOffers"`
	Charges            Charges            `json:"charges"`
	Features           Features           `json:"features"`
	Metadata           Metadata           `json:"metadata"`
}

// Dataset is the versioned cards.json document.
type Dataset struct {
	Version     string `json:"version"`
	LastUpdated string `json:"lastUpdated"`
	Cards       []Card `json:"cards"`
}

// FindCard returns the card with the given id and whether it exists.
func (d *Dataset) FindCard(id string) (Card, bool) {
	for _, c := range d.Cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// asciiFold strips diacritics so slugs stay stable across source encodings.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// CardID derives the stable dataset id for a card: the first word of the
// issuer plus a hyphenated slug of the card name, all lowercase. The same
// issuer and name always produce the same id.
func CardID(issuer, name string) string {
	issuerShort := strings.ToLower(issuer)
	if fields := strings.Fields(issuerShort); len(fields) > 0 {
		issuerShort = fields[0]
	}
	issuerShort = slugify(issuerShort)

	nameSlug := slugify(name)
	if issuerShort == "" {
		return nameSlug
	}
	if nameSlug == "" {
		return issuerShort
	}
	return issuerShort + "-" + nameSlug
}

func slugify(s string) string {
	if folded, _, err := transform.String(asciiFold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	s = slugPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
