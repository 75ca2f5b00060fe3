// Package validation provides the input rules guarding the financial
// analyzer and the pre-filtering applied to equipment bundles before
// ranking.
package validation

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/solar-finance-core/internal/model"
)

// ErrInvalidInput marks inputs the analyzer must reject fast and
// synchronously: non-positive capex, zero generation, empty schedules.
var ErrInvalidInput = errors.New("invalid input")

// ValidationOptions holds configuration for bundle validation
type ValidationOptions struct {
	// MinCapacityKwp rejects bundles too small to be a real system
	MinCapacityKwp float64

	// MaxCapexPerKwp rejects implausibly expensive bundles, protecting
	// the leaderboard from data-entry mistakes in the catalog
	MaxCapexPerKwp float64

	// MinSpecificYield is the minimum kWh generated per kWp per year
	MinSpecificYield float64
}

// DefaultValidationOptions returns sensible defaults for bundle validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MinCapacityKwp:   0.5,
		MaxCapexPerKwp:   20000,
		MinSpecificYield: 500,
	}
}

// ValidateBundle checks a single equipment bundle against the options.
func ValidateBundle(b model.EquipmentBundle, opts ValidationOptions) error {
	if b.ID == "" {
		return fmt.Errorf("%w: bundle has no id", ErrInvalidInput)
	}
	if b.Capex <= 0 {
		return fmt.Errorf("%w: bundle %s has non-positive capex %.2f", ErrInvalidInput, b.ID, b.Capex)
	}
	if b.AnnualGenerationKwh <= 0 {
		return fmt.Errorf("%w: bundle %s has non-positive generation %.2f", ErrInvalidInput, b.ID, b.AnnualGenerationKwh)
	}
	if b.SystemCapacityKwp < opts.MinCapacityKwp {
		return fmt.Errorf("%w: bundle %s capacity %.2f kWp below minimum %.2f", ErrInvalidInput, b.ID, b.SystemCapacityKwp, opts.MinCapacityKwp)
	}
	if opts.MaxCapexPerKwp > 0 && b.SystemCapacityKwp > 0 {
		if perKwp := b.Capex / b.SystemCapacityKwp; perKwp > opts.MaxCapexPerKwp {
			return fmt.Errorf("%w: bundle %s capex %.0f/kWp exceeds maximum %.0f", ErrInvalidInput, b.ID, perKwp, opts.MaxCapexPerKwp)
		}
	}
	if opts.MinSpecificYield > 0 && b.SystemCapacityKwp > 0 {
		if yield := b.AnnualGenerationKwh / b.SystemCapacityKwp; yield < opts.MinSpecificYield {
			return fmt.Errorf("%w: bundle %s specific yield %.0f kWh/kWp below minimum %.0f", ErrInvalidInput, b.ID, yield, opts.MinSpecificYield)
		}
	}
	return nil
}

// FilterBundles splits bundles into valid candidates and logged
// exclusions. A bad bundle never aborts a ranking; it is excluded with a
// reason instead.
func FilterBundles(bundles []model.EquipmentBundle, opts ValidationOptions) ([]model.EquipmentBundle, []model.ExcludedBundle) {
	valid := make([]model.EquipmentBundle, 0, len(bundles))
	var excluded []model.ExcludedBundle

	for _, b := range bundles {
		if err := ValidateBundle(b, opts); err != nil {
			logrus.WithFields(logrus.Fields{
				"bundle": b.ID,
				"reason": err.Error(),
			}).Info("Excluded invalid equipment bundle")
			excluded = append(excluded, model.ExcludedBundle{EquipmentBundleID: b.ID, Reason: err.Error()})
			continue
		}
		valid = append(valid, b)
	}
	return valid, excluded
}
