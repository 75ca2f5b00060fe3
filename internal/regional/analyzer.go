package regional

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/solar-finance-core/internal/config"
	"github.com/yourorg/solar-finance-core/internal/finance"
	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/types"
)

// Analyzer assembles the per-persona comparative report for a location.
type Analyzer struct {
	rates       SnapshotSource
	tariffs     TariffProvider
	irradiation IrradiationProvider
	tables      *config.Tables
}

// New creates an Analyzer over its collaborators.
func New(rates SnapshotSource, tariffs TariffProvider, irradiation IrradiationProvider, tables *config.Tables) *Analyzer {
	return &Analyzer{rates: rates, tariffs: tariffs, irradiation: irradiation, tables: tables}
}

// AnalyzeRegion runs one persona analysis per requested persona and
// assembles the comparative report. A failing persona is omitted with a
// reason, matching the leaderboard's partial-failure policy; only missing
// foundations (snapshot, irradiation) fail the whole report.
func (a *Analyzer) AnalyzeRegion(ctx context.Context, loc model.Location, personaIDs []string) (*model.RegionalFinancialAnalysis, error) {
	snap, err := a.rates.GetMarketSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("regional analysis for %s: %w", loc.UF, err)
	}

	profile, err := a.irradiation.GetIrradiationProfile(ctx, loc.Lat, loc.Lon)
	if err != nil {
		return nil, fmt.Errorf("regional analysis for %s: irradiation: %w", loc.UF, err)
	}

	report := &model.RegionalFinancialAnalysis{
		ID:          uuid.NewString(),
		Location:    loc,
		Irradiation: *profile,
		GeneratedAt: time.Now().UTC(),
		Degraded:    snap.Provenance == types.ProvenanceStale,
	}

	var recommended []model.PersonaFinancialKPIs
	for _, id := range personaIDs {
		persona, ok := a.personaByID(id)
		if !ok {
			report.Omitted = append(report.Omitted, model.OmittedPersona{PersonaID: id, Reason: "unknown persona"})
			continue
		}

		kpis, tariff, err := a.analyzePersona(ctx, loc, persona, snap, profile)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"persona": id,
				"uf":      loc.UF,
				"reason":  err.Error(),
			}).Warn("Omitted persona from regional report")
			report.Omitted = append(report.Omitted, model.OmittedPersona{PersonaID: id, Reason: err.Error()})
			continue
		}

		// First resolved tariff represents the region in the report header.
		if report.Tariff.TariffKwh == 0 {
			report.Tariff = tariff
		}
		report.PerPersonaKPIs = append(report.PerPersonaKPIs, kpis...)
		recommended = append(recommended, finance.Recommended(kpis))
	}

	report.Summary = summarize(recommended)

	logrus.WithFields(logrus.Fields{
		"uf":       loc.UF,
		"personas": len(recommended),
		"omitted":  len(report.Omitted),
		"degraded": report.Degraded,
	}).Info("Regional analysis computed")
	return report, nil
}

// analyzePersona resolves the persona's tariff and schedule and runs the
// analyzer across all configured oversizing scenarios.
func (a *Analyzer) analyzePersona(ctx context.Context, loc model.Location, p config.Persona, snap *model.MarketSnapshot, profile *model.IrradiationProfile) ([]model.PersonaFinancialKPIs, model.TariffData, error) {
	grupo := groupForClass(p.Class)
	tariff, err := a.tariffs.GetTariffByUF(ctx, loc.UF, grupo)
	if err != nil {
		return nil, model.TariffData{}, fmt.Errorf("tariff lookup: %w", err)
	}
	if tariff == nil {
		return nil, model.TariffData{}, fmt.Errorf("no tariff for %s/%s", loc.UF, grupo)
	}

	schedule, ok := a.tables.ScheduleFor(p.Regime, p.Class)
	if !ok {
		return nil, model.TariffData{}, fmt.Errorf("no escalation schedule for %s/%s", p.Regime, p.Class)
	}

	discount := p.DiscountRate
	if discount == 0 {
		// Opportunity cost defaults to the base rate.
		discount = snap.BaseRate / 100
	}

	in := finance.Input{
		PersonaID:              p.ID,
		Class:                  p.Class,
		Regime:                 p.Regime,
		SystemCapacityKwp:      p.SystemCapacityKwp,
		AnnualGenerationKwh:    p.SystemCapacityKwp * profile.AnnualKwhPerKwp,
		Capex:                  p.SystemCapacityKwp * p.CapexPerKwp,
		TariffKwh:              tariff.TariffKwh,
		DiscountRate:           discount,
		Schedule:               schedule,
		DegradationRatePerYear: p.DegradationRatePerYear,
		ProjectLifeYears:       p.ProjectLifeYears,
		OMCostPerYear:          p.OMCostPerYear,
		Scenarios:              a.tables.Scenarios,
	}

	kpis, err := finance.ComputeKPIs(in)
	if err != nil {
		return nil, model.TariffData{}, err
	}
	return kpis, *tariff, nil
}

func (a *Analyzer) personaByID(id string) (config.Persona, bool) {
	for _, p := range a.tables.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return config.Persona{}, false
}

// groupForClass maps an ANEEL consumer class to its usual tariff group.
func groupForClass(class types.ConsumerClass) types.TariffGroup {
	switch class {
	case types.ClassResidential:
		return types.GroupB1
	case types.ClassRural:
		return types.GroupB2
	case types.ClassCommercial:
		return types.GroupB3
	case types.ClassIndustrial:
		return types.GroupA4
	default:
		return types.GroupB1
	}
}

// summarize condenses the recommended per-persona KPIs.
func summarize(kpis []model.PersonaFinancialKPIs) model.RegionalSummary {
	s := model.RegionalSummary{PersonaCount: len(kpis)}
	if len(kpis) == 0 {
		return s
	}

	npvs := make([]float64, 0, len(kpis))
	best := kpis[0]
	for _, k := range kpis {
		npvs = append(npvs, k.NPV)
		if k.Viable {
			s.ViableCount++
		}
		if k.NPV > best.NPV {
			best = k
		}
	}

	s.MedianNPV = medianOf(npvs)
	s.BestNPV = best.NPV
	s.BestPersonaID = best.PersonaID
	return s
}

// medianOf returns the median of a value slice, robust against outlier
// personas skewing the regional picture.
func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
