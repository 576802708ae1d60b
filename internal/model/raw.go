package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawDocument is one captured card-detail page prior to extraction.
// Identity is (issuer, source_url); a re-fetch writes a new row with a newer
// FetchedAt instead of mutating the old one.
type RawDocument struct {
	Issuer     string    `json:"issuer"`
	SourceURL  string    `json:"sourceUrl"`
	PageTitle  string    `json:"pageTitle"`
	FetchedAt  time.Time `json:"fetchedAt"`
	RawText    string    `json:"rawText"`
	HTTPStatus int       `json:"httpStatus"`
}

// ContentHash returns the hex SHA-256 of the raw text. The raw store uses it
// to skip writes when a re-fetch returned byte-identical content.
func (d *RawDocument) ContentHash() string {
	sum := sha256.Sum256([]byte(d.RawText))
	return hex.EncodeToString(sum[:])
}

// FetchOutcome is the per-URL result of a fetch batch. Exactly one of
// Document and Err is set. Permanent marks failures that retrying cannot fix
// (4xx other than 429, malformed responses).
type FetchOutcome struct {
	URL       string
	Document  *RawDocument
	Err       error
	Permanent bool
}

// Failed reports whether the URL ended without a document.
func (o FetchOutcome) Failed() bool {
	return o.Document == nil
}
