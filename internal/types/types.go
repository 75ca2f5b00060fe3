// Package types contains shared type definitions used across multiple packages
package types

// ConsumerClass represents an ANEEL consumer class determining tariff structure
type ConsumerClass string

// ANEEL consumer classes
const (
	ClassResidential ConsumerClass = "residencial"
	ClassRural       ConsumerClass = "rural"
	ClassCommercial  ConsumerClass = "comercial"
	ClassIndustrial  ConsumerClass = "industrial"
	ClassPublicPower ConsumerClass = "poder_publico"
)

// GDRegime represents the distributed-generation regulatory regime governing
// how self-generated energy is compensated
type GDRegime string

// Distributed-generation regimes
const (
	RegimeGD1 GDRegime = "gd1" // full compensation, grandfathered systems
	RegimeGD2 GDRegime = "gd2" // TUSD Fio B phase-in under Lei 14.300
	RegimeGD3 GDRegime = "gd3" // regime for systems beyond the transition window
)

// Segment identifies the borrower segment of a consumer lending rate
type Segment string

// Borrower segments as published by the rate authority
const (
	SegmentPF Segment = "PF" // pessoa física (individuals)
	SegmentPJ Segment = "PJ" // pessoa jurídica (companies)
)

// Provenance describes where a served value came from
type Provenance string

const (
	ProvenanceLive            Provenance = "live"
	ProvenanceStale           Provenance = "stale"
	ProvenanceNationalAverage Provenance = "national_average"
)

// TariffGroup is the regulatory tariff group (e.g. B1 low-voltage residential)
type TariffGroup string

const (
	GroupB1 TariffGroup = "B1"
	GroupB2 TariffGroup = "B2"
	GroupB3 TariffGroup = "B3"
	GroupA4 TariffGroup = "A4"
)

// Valid reports whether the segment is one of the published segments.
func (s Segment) Valid() bool {
	return s == SegmentPF || s == SegmentPJ
}
