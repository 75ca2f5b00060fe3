// Package finance builds discounted cash-flow series per persona and
// oversizing scenario and derives the decision-grade KPIs: payback, NPV,
// IRR and LCOE. Everything here is a pure function of its inputs, so the
// results are deterministic and directly testable.
package finance

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/types"
	"github.com/yourorg/solar-finance-core/internal/validation"
)

// Input carries everything one persona analysis needs. The escalation
// schedule and the oversizing scenarios are injected configuration.
type Input struct {
	PersonaID string
	Class     types.ConsumerClass
	Regime    types.GDRegime

	SystemCapacityKwp   float64
	AnnualGenerationKwh float64
	Capex               float64
	TariffKwh           float64

	// DiscountRate is a decimal, e.g. 0.1075 for 10.75% p.a.
	DiscountRate float64

	Schedule               model.TariffEscalationSchedule
	DegradationRatePerYear float64
	ProjectLifeYears       int

	// OMCostPerYear is an optional operations/maintenance outflow
	OMCostPerYear float64

	// AnnualDebtService models an optional flat financing outflow over
	// DebtServiceYears
	AnnualDebtService float64
	DebtServiceYears  int

	Scenarios []model.OversizingScenario
}

// validate fails fast on inputs that would produce nonsense KPIs.
func (in Input) validate() error {
	switch {
	case in.Capex <= 0:
		return fmt.Errorf("%w: capex must be positive, got %.2f", validation.ErrInvalidInput, in.Capex)
	case in.AnnualGenerationKwh <= 0:
		return fmt.Errorf("%w: annual generation must be positive, got %.2f", validation.ErrInvalidInput, in.AnnualGenerationKwh)
	case in.TariffKwh <= 0:
		return fmt.Errorf("%w: tariff must be positive, got %.4f", validation.ErrInvalidInput, in.TariffKwh)
	case in.Schedule.Empty():
		return fmt.Errorf("%w: escalation schedule is empty", validation.ErrInvalidInput)
	case in.ProjectLifeYears <= 0:
		return fmt.Errorf("%w: project life must be positive, got %d", validation.ErrInvalidInput, in.ProjectLifeYears)
	case in.DegradationRatePerYear < 0 || in.DegradationRatePerYear >= 1:
		return fmt.Errorf("%w: degradation rate must be in [0,1), got %.4f", validation.ErrInvalidInput, in.DegradationRatePerYear)
	case len(in.Scenarios) == 0:
		return fmt.Errorf("%w: at least one oversizing scenario is required", validation.ErrInvalidInput)
	}
	return nil
}

// ComputeKPIs evaluates every oversizing scenario for one persona and
// marks the recommended one: highest NPV among viable scenarios, or the
// least-negative NPV when none are viable.
func ComputeKPIs(in Input) ([]model.PersonaFinancialKPIs, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	out := make([]model.PersonaFinancialKPIs, 0, len(in.Scenarios))
	for _, sc := range in.Scenarios {
		if sc.Multiplier <= 0 {
			return nil, fmt.Errorf("%w: scenario %q has non-positive multiplier", validation.ErrInvalidInput, sc.Name)
		}
		out = append(out, computeScenario(in, sc))
	}

	markRecommended(out)
	return out, nil
}

// computeScenario runs the cash-flow model for one capacity multiplier.
func computeScenario(in Input, sc model.OversizingScenario) model.PersonaFinancialKPIs {
	generation := in.AnnualGenerationKwh * sc.Multiplier
	capexFactor := sc.Multiplier
	if sc.CapexFactor > 0 {
		capexFactor = sc.CapexFactor
	}
	capex := in.Capex * capexFactor

	life := in.ProjectLifeYears
	flows := make([]float64, life+1)
	genSeries := make([]float64, life+1)
	savings := make([]float64, life+1)
	flows[0] = -capex

	for n := 1; n <= life; n++ {
		genN := generation * math.Pow(1-in.DegradationRatePerYear, float64(n-1))
		tariffN := in.TariffKwh * in.Schedule.FactorFor(n)
		save := genN * tariffN

		cf := save - in.OMCostPerYear
		if in.AnnualDebtService > 0 && n <= in.DebtServiceYears {
			cf -= in.AnnualDebtService
		}

		genSeries[n] = genN
		savings[n] = save
		flows[n] = cf
	}

	npv := NPV(flows, in.DiscountRate)
	irr := IRR(flows)

	discounted := make([]float64, len(flows))
	for n, cf := range flows {
		discounted[n] = cf / math.Pow(1+in.DiscountRate, float64(n))
	}

	totalSavings := 0.0
	for _, s := range savings {
		totalSavings += s
	}

	kpi := model.PersonaFinancialKPIs{
		PersonaID:              in.PersonaID,
		Class:                  in.Class,
		Regime:                 in.Regime,
		Scenario:               sc.Name,
		SimplePaybackYears:     payback(flows),
		DiscountedPaybackYears: payback(discounted),
		NPV:                    npv,
		IRR:                    irr,
		LCOE:                   lcoe(capex, in.OMCostPerYear, genSeries, in.DiscountRate),
		AnnualSavingsYear1:     savings[1],
		TotalSavingsOverLife:   totalSavings,
		Viable:                 irr != nil && *irr > in.DiscountRate,
	}

	if irr == nil {
		logrus.WithFields(logrus.Fields{
			"persona":  in.PersonaID,
			"scenario": sc.Name,
		}).Debug("IRR undefined for scenario, marked not viable")
	}
	return kpi
}

// markRecommended flags the best scenario in place.
func markRecommended(kpis []model.PersonaFinancialKPIs) {
	if len(kpis) == 0 {
		return
	}

	best := -1
	for i, k := range kpis {
		if !k.Viable {
			continue
		}
		if best < 0 || k.NPV > kpis[best].NPV {
			best = i
		}
	}
	if best < 0 {
		// Nothing viable: surface the least-bad option, still flagged
		// Viable=false.
		best = 0
		for i, k := range kpis {
			if k.NPV > kpis[best].NPV {
				best = i
			}
		}
	}
	kpis[best].Recommended = true
}

// Recommended returns the scenario flagged by ComputeKPIs.
func Recommended(kpis []model.PersonaFinancialKPIs) model.PersonaFinancialKPIs {
	for _, k := range kpis {
		if k.Recommended {
			return k
		}
	}
	if len(kpis) > 0 {
		return kpis[0]
	}
	return model.PersonaFinancialKPIs{}
}

// payback returns the first (interpolated) year where the cumulative flow
// reaches zero, or nil when the investment is never recovered.
func payback(flows []float64) *float64 {
	cum := 0.0
	for n, cf := range flows {
		prev := cum
		cum += cf
		if n == 0 || cum < 0 {
			continue
		}
		years := float64(n)
		if cf > 0 {
			years = float64(n-1) + (-prev)/cf
		}
		return &years
	}
	return nil
}

// lcoe is total discounted cost divided by total discounted generation,
// using the same discount rate as NPV for consistency.
func lcoe(capex, omPerYear float64, genSeries []float64, rate float64) float64 {
	costs := capex
	energy := 0.0
	for n := 1; n < len(genSeries); n++ {
		disc := math.Pow(1+rate, float64(n))
		costs += omPerYear / disc
		energy += genSeries[n] / disc
	}
	if energy == 0 {
		return 0
	}
	return costs / energy
}
