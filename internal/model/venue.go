// Package model defines the records shared by the ingestion pipeline and the store.
package model

import "time"

// PrevetStatus is the outcome of the homepage pre-vetting stage.
type PrevetStatus string

// Pre-vetting buckets. A venue starts at Pending and transitions exactly once;
// later stages never reset the status.
const (
	PrevetPending           PrevetStatus = "pending"
	PrevetYes               PrevetStatus = "yes"
	PrevetNo                PrevetStatus = "no"
	PrevetNeedsConfirmation PrevetStatus = "needs_confirmation"
)

// PricingTier is the five-way pricing classification produced by enrichment.
type PricingTier string

// Pricing tiers.
const (
	TierLow     PricingTier = "low"
	TierMedium  PricingTier = "medium"
	TierHigh    PricingTier = "high"
	TierLuxury  PricingTier = "luxury"
	TierUnknown PricingTier = "unknown"
)

// ValidPricingTier reports whether s is one of the five allowed tiers.
func ValidPricingTier(s string) bool {
	switch PricingTier(s) {
	case TierLow, TierMedium, TierHigh, TierLuxury, TierUnknown:
		return true
	}
	return false
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Zero reports whether the point carries no coordinates.
func (p Point) Zero() bool {
	return p.Lat == 0 && p.Lon == 0
}

// Enrichment holds the fixed five-field extraction schema. Every field
// defaults to its unknown/false/zero value and is only overwritten by a
// validated extraction.
type Enrichment struct {
	IsWeddingVenue  bool        `json:"is_wedding_venue"`
	IsEstate        bool        `json:"is_estate"`
	IsHistoric      bool        `json:"is_historic"`
	HasLodging      bool        `json:"has_lodging"`
	LodgingCapacity int         `json:"lodging_capacity"`
	PricingTier     PricingTier `json:"pricing_tier"`
	ExtractedAt     *time.Time  `json:"extracted_at,omitempty"`
}

// DefaultEnrichment returns the pre-extraction state.
func DefaultEnrichment() Enrichment {
	return Enrichment{PricingTier: TierUnknown}
}

// IsDefault reports whether no validated extraction has been persisted yet.
func (e Enrichment) IsDefault() bool {
	return e.ExtractedAt == nil
}

// ImageManifest lists the local gallery files for a venue plus the
// logo-verification state.
type ImageManifest struct {
	Paths        []string   `json:"paths"`
	LogoVerified bool       `json:"logo_verified"`
	VerifiedAt   *time.Time `json:"verified_at,omitempty"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// Empty reports whether the manifest has never been populated.
func (m ImageManifest) Empty() bool {
	return m.ProcessedAt == nil
}

// Venue is one candidate physical venue. ExternalID is the stable upsert key;
// name, homepage, tags and point may be re-scraped and overwritten.
type Venue struct {
	ID              string       `json:"id"`
	ExternalID      string       `json:"external_id"`
	Name            string       `json:"name"`
	Homepage        string       `json:"homepage,omitempty"`
	Point           Point        `json:"point"`
	Tags            Tags         `json:"tags,omitempty"`
	PrevetStatus    PrevetStatus `json:"prevet_status"`
	MatchedKeywords []string     `json:"matched_keywords,omitempty"`
	PrevettedAt     *time.Time   `json:"prevetted_at,omitempty"`
	Document        string       `json:"document,omitempty"`
	Enrichment      Enrichment   `json:"enrichment"`
	Images          ImageManifest `json:"images"`
	Active          bool         `json:"active"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
