package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/types"
)

// Tables holds every externally injected configuration table: the named
// economic series to track, the tariff-escalation schedules per
// regime/class, the oversizing scenarios and the persona definitions.
// Statutory percentages live here, never in code.
type Tables struct {
	Series    SeriesTable                      `yaml:"series"`
	Scenarios []model.OversizingScenario       `yaml:"scenarios"`
	Schedules []model.TariffEscalationSchedule `yaml:"escalation"`
	Personas  []Persona                        `yaml:"personas"`
}

// SeriesTable names the series codes the snapshot is composed from.
type SeriesTable struct {
	BaseRate      SeriesSpec     `yaml:"baseRate"`
	PriceIndex    SeriesSpec     `yaml:"priceIndex"`
	PriceIndexAlt SeriesSpec     `yaml:"priceIndexAlt"`
	Modalities    []ModalitySpec `yaml:"modalities"`
}

// SeriesSpec identifies one time series at the rate authority.
type SeriesSpec struct {
	Code string `yaml:"code"`

	// LastDays is the lookback window requested from the authority
	LastDays int `yaml:"lastDays"`

	// Accumulate, when > 0, compounds the last N observations instead of
	// taking the latest value
	Accumulate int `yaml:"accumulate"`
}

// ModalitySpec is a consumer lending modality tracked in the snapshot.
type ModalitySpec struct {
	Modality string        `yaml:"modality"`
	Segment  types.Segment `yaml:"segment"`
	Code     string        `yaml:"code"`
	LastDays int           `yaml:"lastDays"`
}

// Persona is a customer-segment profile driving a regional analysis.
type Persona struct {
	ID                     string              `yaml:"id"`
	Class                  types.ConsumerClass `yaml:"class"`
	Regime                 types.GDRegime      `yaml:"regime"`
	SystemCapacityKwp      float64             `yaml:"systemCapacityKwp"`
	CapexPerKwp            float64             `yaml:"capexPerKwp"`
	DegradationRatePerYear float64             `yaml:"degradationRatePerYear"`
	ProjectLifeYears       int                 `yaml:"projectLifeYears"`
	OMCostPerYear          float64             `yaml:"omCostPerYear"`

	// DiscountRate overrides the snapshot-derived rate when non-zero
	DiscountRate float64 `yaml:"discountRate"`
}

// LoadTables reads the YAML tables file from the given path.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read tables file: %w", err)
	}

	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("cannot parse tables YAML: %w", err)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the tables for the mistakes that would otherwise only
// surface deep inside an analysis.
func (t *Tables) Validate() error {
	if t.Series.BaseRate.Code == "" {
		return fmt.Errorf("tables: baseRate series code is required")
	}
	if len(t.Scenarios) == 0 {
		return fmt.Errorf("tables: at least one oversizing scenario is required")
	}
	for _, sc := range t.Scenarios {
		if sc.Multiplier <= 0 {
			return fmt.Errorf("tables: scenario %q has non-positive multiplier", sc.Name)
		}
	}
	for _, sch := range t.Schedules {
		if len(sch.Factors) == 0 {
			return fmt.Errorf("tables: escalation schedule for %s/%s is empty", sch.Regime, sch.Class)
		}
	}
	return nil
}

// ScheduleFor returns the escalation schedule for a regime/class pair.
func (t *Tables) ScheduleFor(regime types.GDRegime, class types.ConsumerClass) (model.TariffEscalationSchedule, bool) {
	for _, s := range t.Schedules {
		if s.Regime == regime && s.Class == class {
			return s, true
		}
	}
	return model.TariffEscalationSchedule{}, false
}
