package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/solar-finance-core/internal/model"
)

func validBundle() model.EquipmentBundle {
	return model.EquipmentBundle{
		ID:                  "kit-5kwp",
		Name:                "5 kWp kit",
		SystemCapacityKwp:   5.0,
		AnnualGenerationKwh: 7000,
		Capex:               22000,
	}
}

func TestValidateBundle(t *testing.T) {
	opts := DefaultValidationOptions()

	tests := []struct {
		name    string
		mutate  func(*model.EquipmentBundle)
		wantErr bool
	}{
		{"valid bundle", nil, false},
		{"missing id", func(b *model.EquipmentBundle) { b.ID = "" }, true},
		{"zero capex", func(b *model.EquipmentBundle) { b.Capex = 0 }, true},
		{"negative capex", func(b *model.EquipmentBundle) { b.Capex = -1 }, true},
		{"zero generation", func(b *model.EquipmentBundle) { b.AnnualGenerationKwh = 0 }, true},
		{"capacity below minimum", func(b *model.EquipmentBundle) { b.SystemCapacityKwp = 0.2 }, true},
		{"implausible capex per kwp", func(b *model.EquipmentBundle) { b.Capex = 150000 }, true},
		{"specific yield too low", func(b *model.EquipmentBundle) { b.AnnualGenerationKwh = 2000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBundle()
			if tt.mutate != nil {
				tt.mutate(&b)
			}

			err := ValidateBundle(b, opts)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput), "want ErrInvalidInput, got %v", err)
		})
	}
}

func TestValidateBundleDisabledLimits(t *testing.T) {
	// Zero-valued options disable the plausibility checks but never the
	// structural ones.
	b := validBundle()
	b.SystemCapacityKwp = 0.1
	b.AnnualGenerationKwh = 10
	assert.NoError(t, ValidateBundle(b, ValidationOptions{}))

	b.Capex = 0
	assert.Error(t, ValidateBundle(b, ValidationOptions{}))
}

func TestFilterBundles(t *testing.T) {
	opts := DefaultValidationOptions()

	good := validBundle()
	bad := validBundle()
	bad.ID = "kit-bad"
	bad.Capex = -10

	valid, excluded := FilterBundles([]model.EquipmentBundle{good, bad}, opts)
	require.Len(t, valid, 1)
	assert.Equal(t, "kit-5kwp", valid[0].ID)

	require.Len(t, excluded, 1)
	assert.Equal(t, "kit-bad", excluded[0].EquipmentBundleID)
	assert.NotEmpty(t, excluded[0].Reason)
}

func TestFilterBundlesEmpty(t *testing.T) {
	valid, excluded := FilterBundles(nil, DefaultValidationOptions())
	assert.Empty(t, valid)
	assert.Empty(t, excluded)
}
