// Package model defines the core data structures for the solar-finance-core.
package model

import (
	"math"
	"time"

	"github.com/yourorg/solar-finance-core/internal/types"
)

// RateSeriesPoint is one observation of a named economic series, e.g. the
// base interest rate or a price index. Value is a decimal percentage.
type RateSeriesPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// RealtimeRate is one consumer lending rate resolved from the current
// market snapshot.
type RealtimeRate struct {
	// Modality is the rate authority's name for the credit line,
	// e.g. "credito_pessoal_nao_consignado"
	Modality string `json:"modality"`

	// Segment is PF (individuals) or PJ (companies)
	Segment types.Segment `json:"segment"`

	// MonthlyRate is the published monthly rate as a percentage, e.g. 1.0 for 1% a.m.
	MonthlyRate float64 `json:"monthly_rate"`

	// AnnualRate is the compounded annual rate as a decimal, e.g. 0.126825
	AnnualRate float64 `json:"annual_rate"`

	// AnnualRatePct is AnnualRate expressed as a percentage for display
	AnnualRatePct float64 `json:"annual_rate_pct"`

	// SpreadVsBaseRate is the spread over the base rate in percentage points
	SpreadVsBaseRate float64 `json:"spread_vs_base_rate"`

	Timestamp time.Time        `json:"timestamp"`
	Source    types.Provenance `json:"source"`
}

// NewRealtimeRate builds a rate from its published monthly value,
// deriving the compounded annual rate: (1+monthly/100)^12 - 1.
func NewRealtimeRate(modality string, segment types.Segment, monthlyPct, baseRatePct float64, ts time.Time) RealtimeRate {
	annual := AnnualizeMonthlyPct(monthlyPct)
	return RealtimeRate{
		Modality:         modality,
		Segment:          segment,
		MonthlyRate:      monthlyPct,
		AnnualRate:       annual,
		AnnualRatePct:    annual * 100,
		SpreadVsBaseRate: monthlyPct*12 - baseRatePct,
		Timestamp:        ts,
		Source:           types.ProvenanceLive,
	}
}

// AnnualizeMonthlyPct compounds a monthly percentage rate into an annual
// decimal rate.
func AnnualizeMonthlyPct(monthlyPct float64) float64 {
	return math.Pow(1+monthlyPct/100, 12) - 1
}

// AccumulateSeries compounds the last n observations of a percentage
// series: product(1+r_i/100) - 1, returned as a decimal.
func AccumulateSeries(points []RateSeriesPoint, n int) float64 {
	if n > len(points) {
		n = len(points)
	}
	acc := 1.0
	for _, p := range points[len(points)-n:] {
		acc *= 1 + p.Value/100
	}
	return acc - 1
}

// RateRequest names one modality/segment pair for a bulk lookup.
type RateRequest struct {
	Modality string        `json:"modality"`
	Segment  types.Segment `json:"segment"`
}

// MarketSnapshot is an immutable view of the macro-economic rates the
// analyzer needs. A new snapshot is only built after ValidUntil passes.
type MarketSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// BaseRate is the latest base interest rate (% p.a.), e.g. SELIC
	BaseRate float64 `json:"base_rate"`

	// PriceIndexMonthly is the 12-month compounded consumer price index, as a decimal
	PriceIndexMonthly float64 `json:"price_index_monthly"`

	// PriceIndexAlt is the 12-month compounded alternative index (e.g. IGP-M), as a decimal
	PriceIndexAlt float64 `json:"price_index_alt"`

	// ConsumerRates holds one entry per configured lending modality
	ConsumerRates []RealtimeRate `json:"consumer_rates"`

	ValidUntil time.Time        `json:"valid_until"`
	Provenance types.Provenance `json:"provenance"`
}

// Fresh reports whether the snapshot is still within its validity window.
func (s *MarketSnapshot) Fresh(now time.Time) bool {
	return s != nil && !now.After(s.ValidUntil)
}

// OversizingScenario is a named capacity multiplier applied to system
// capacity and annual generation. CapexFactor overrides linear capex
// scaling when non-zero.
type OversizingScenario struct {
	Name        string  `json:"name" yaml:"name"`
	Multiplier  float64 `json:"multiplier" yaml:"multiplier"`
	CapexFactor float64 `json:"capex_factor,omitempty" yaml:"capexFactor,omitempty"`
}

// TariffEscalationSchedule maps project-year to the effective compensation
// factor for self-generated energy. It encodes both inflation-style tariff
// growth and the statutory TUSD Fio B phase-in for a regime/class pair.
// Injected configuration, never hardcoded.
type TariffEscalationSchedule struct {
	Regime  types.GDRegime      `json:"regime" yaml:"regime"`
	Class   types.ConsumerClass `json:"class" yaml:"class"`
	Factors []float64           `json:"factors" yaml:"factors"` // index 0 = project year 1
}

// FactorFor returns the factor for project year n (1-based). Years beyond
// the table hold the last entry flat.
func (s TariffEscalationSchedule) FactorFor(year int) float64 {
	if len(s.Factors) == 0 || year < 1 {
		return 0
	}
	if year > len(s.Factors) {
		return s.Factors[len(s.Factors)-1]
	}
	return s.Factors[year-1]
}

// Empty reports whether the schedule carries no factors.
func (s TariffEscalationSchedule) Empty() bool { return len(s.Factors) == 0 }

// PersonaFinancialKPIs holds the decision-grade metrics for one
// persona/class/regime/scenario combination.
type PersonaFinancialKPIs struct {
	PersonaID string              `json:"persona_id"`
	Class     types.ConsumerClass `json:"classe_aneel"`
	Regime    types.GDRegime      `json:"regime_gd"`
	Scenario  string              `json:"scenario"`

	// Paybacks are nil when the investment is never recovered
	SimplePaybackYears     *float64 `json:"simple_payback_years"`
	DiscountedPaybackYears *float64 `json:"discounted_payback_years"`

	NPV float64 `json:"npv"`

	// IRR is nil when the cash-flow series has no sign change or the
	// root-finder did not converge
	IRR *float64 `json:"irr"`

	LCOE                 float64 `json:"lcoe"`
	AnnualSavingsYear1   float64 `json:"annual_savings_year1"`
	TotalSavingsOverLife float64 `json:"total_savings_over_life"`

	// Viable iff IRR is defined and exceeds the discount rate
	Viable bool `json:"viable"`

	// Recommended marks the scenario chosen across all evaluated scenarios
	Recommended bool `json:"recommended,omitempty"`
}

// EquipmentBundle is one candidate equipment combination to be scored.
type EquipmentBundle struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name,omitempty"`
	SystemCapacityKwp   float64 `json:"system_capacity_kwp"`
	AnnualGenerationKwh float64 `json:"annual_generation_kwh"`
	Capex               float64 `json:"capex"`
}

// EquipmentFinancialScore is one ranked leaderboard entry.
type EquipmentFinancialScore struct {
	EquipmentBundleID string               `json:"equipment_bundle_id"`
	KPIs              PersonaFinancialKPIs `json:"kpis"`
	Rank              int                  `json:"rank"`
}

// ExcludedBundle records a bundle dropped from a ranking with its reason.
type ExcludedBundle struct {
	EquipmentBundleID string `json:"equipment_bundle_id"`
	Reason            string `json:"reason"`
}

// LeaderboardByPersona is the finite, restartable ranked sequence of
// equipment scores for one persona. Never mutated after construction.
type LeaderboardByPersona struct {
	ID          string                    `json:"id"`
	PersonaID   string                    `json:"persona_id"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Scores      []EquipmentFinancialScore `json:"scores"`
	Excluded    []ExcludedBundle          `json:"excluded,omitempty"`

	// Degraded is set when any contributing rate read had stale provenance,
	// so the UI can render a degraded-data banner
	Degraded bool `json:"degraded"`
}

// Location identifies a region for analysis.
type Location struct {
	UF   string  `json:"uf"`
	City string  `json:"city,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// TariffData is a concessionaire tariff quote, or the national-average
// fallback flagged through Source.
type TariffData struct {
	UF             string            `json:"uf"`
	Concessionaire string            `json:"concessionaire,omitempty"`
	Group          types.TariffGroup `json:"group"`
	TariffKwh      float64           `json:"tariff_kwh"`
	Source         types.Provenance  `json:"source"`
}

// IrradiationProfile is the solar potential of a location.
type IrradiationProfile struct {
	AnnualKwhPerKwp  float64     `json:"annual_kwh_per_kwp"`
	MonthlyKwhPerKwp [12]float64 `json:"monthly_kwh_per_kwp"`
}

// OmittedPersona records a persona dropped from a regional report.
type OmittedPersona struct {
	PersonaID string `json:"persona_id"`
	Reason    string `json:"reason"`
}

// RegionalSummary aggregates the per-persona KPIs of one region.
type RegionalSummary struct {
	PersonaCount  int     `json:"persona_count"`
	ViableCount   int     `json:"viable_count"`
	MedianNPV     float64 `json:"median_npv"`
	BestNPV       float64 `json:"best_npv"`
	BestPersonaID string  `json:"best_persona_id,omitempty"`
}

// RegionalFinancialAnalysis is the comparative per-persona report for one
// location. Value object, returned to callers and never mutated.
type RegionalFinancialAnalysis struct {
	ID             string                 `json:"id"`
	Location       Location               `json:"location"`
	Tariff         TariffData             `json:"tariff"`
	Irradiation    IrradiationProfile     `json:"irradiation"`
	PerPersonaKPIs []PersonaFinancialKPIs `json:"per_persona_kpis"`
	Omitted        []OmittedPersona       `json:"omitted,omitempty"`
	Summary        RegionalSummary        `json:"summary"`
	GeneratedAt    time.Time              `json:"generated_at"`
	Degraded       bool                   `json:"degraded"`
}
