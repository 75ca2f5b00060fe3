// Package regional fans the persona analyzer out across personas for one
// location, combining tariff, irradiation and market-rate data into a
// single comparative report.
package regional

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/types"
)

// TariffProvider resolves the regulated energy tariff for a state and
// tariff group. A nil TariffData with a nil error means no tariff is
// known for that group.
type TariffProvider interface {
	GetTariffByUF(ctx context.Context, uf string, grupo types.TariffGroup) (*model.TariffData, error)
}

// IrradiationProvider estimates the solar generation potential of a
// coordinate (PVGIS/NREL-style service).
type IrradiationProvider interface {
	GetIrradiationProfile(ctx context.Context, lat, lon float64) (*model.IrradiationProfile, error)
}

// SnapshotSource is the slice of the rate cache the regional analyzer
// needs.
type SnapshotSource interface {
	GetMarketSnapshot(ctx context.Context) (*model.MarketSnapshot, error)
}

// StaticTariffProvider serves tariffs from a keyed in-memory dataset.
// For group B1 with no direct match it returns a fixed national-average
// fallback instead of nil; the fallback carries an explicit provenance so
// downstream code never mistakes it for a real quote.
type StaticTariffProvider struct {
	// byKey maps "UF:group" to a tariff quote
	byKey map[string]model.TariffData

	// nationalAverageB1 is the fallback tariff for group B1, in R$/kWh
	nationalAverageB1 float64
}

// NewStaticTariffProvider builds a provider over the given quotes.
func NewStaticTariffProvider(quotes []model.TariffData, nationalAverageB1 float64) *StaticTariffProvider {
	byKey := make(map[string]model.TariffData, len(quotes))
	for _, q := range quotes {
		byKey[tariffKey(q.UF, q.Group)] = q
	}
	return &StaticTariffProvider{byKey: byKey, nationalAverageB1: nationalAverageB1}
}

// GetTariffByUF implements TariffProvider.
func (p *StaticTariffProvider) GetTariffByUF(_ context.Context, uf string, grupo types.TariffGroup) (*model.TariffData, error) {
	if q, ok := p.byKey[tariffKey(uf, grupo)]; ok {
		return &q, nil
	}
	if grupo == types.GroupB1 {
		return &model.TariffData{
			UF:        strings.ToUpper(uf),
			Group:     types.GroupB1,
			TariffKwh: p.nationalAverageB1,
			Source:    types.ProvenanceNationalAverage,
		}, nil
	}
	return nil, nil
}

func tariffKey(uf string, grupo types.TariffGroup) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(uf), grupo)
}

// StaticIrradiationProvider returns one fixed profile regardless of
// coordinates; useful for tests and local runs without the external
// estimation service.
type StaticIrradiationProvider struct {
	Profile model.IrradiationProfile
}

// GetIrradiationProfile implements IrradiationProvider.
func (p *StaticIrradiationProvider) GetIrradiationProfile(context.Context, float64, float64) (*model.IrradiationProfile, error) {
	profile := p.Profile
	return &profile, nil
}
