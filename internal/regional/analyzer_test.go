package regional

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/solar-finance-core/internal/config"
	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/types"
)

type fakeSnapshotSource struct {
	snap *model.MarketSnapshot
	err  error
}

func (f *fakeSnapshotSource) GetMarketSnapshot(context.Context) (*model.MarketSnapshot, error) {
	return f.snap, f.err
}

func liveSnapshot() *model.MarketSnapshot {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.MarketSnapshot{
		Timestamp:  now,
		BaseRate:   10.5,
		ValidUntil: now.Add(30 * time.Minute),
		Provenance: types.ProvenanceLive,
	}
}

func flatFactors(years int) []float64 {
	factors := make([]float64, years)
	for i := range factors {
		factors[i] = 1.0
	}
	return factors
}

func testTables() *config.Tables {
	return &config.Tables{
		Scenarios: []model.OversizingScenario{{Name: "100%", Multiplier: 1.0}},
		Schedules: []model.TariffEscalationSchedule{
			{Regime: types.RegimeGD2, Class: types.ClassResidential, Factors: flatFactors(25)},
			{Regime: types.RegimeGD2, Class: types.ClassCommercial, Factors: flatFactors(25)},
		},
		Personas: []config.Persona{
			{
				ID: "casa_popular", Class: types.ClassResidential, Regime: types.RegimeGD2,
				SystemCapacityKwp: 3.0, CapexPerKwp: 4200, ProjectLifeYears: 25,
			},
			{
				ID: "casa_padrao", Class: types.ClassResidential, Regime: types.RegimeGD2,
				SystemCapacityKwp: 6.0, CapexPerKwp: 3900, ProjectLifeYears: 25,
			},
			{
				ID: "comercio_pequeno", Class: types.ClassCommercial, Regime: types.RegimeGD2,
				SystemCapacityKwp: 15.0, CapexPerKwp: 3600, ProjectLifeYears: 25,
			},
			{
				ID: "sem_tabela", Class: types.ClassResidential, Regime: types.RegimeGD3,
				SystemCapacityKwp: 6.0, CapexPerKwp: 3900, ProjectLifeYears: 25,
			},
		},
	}
}

func newTestAnalyzer(rates SnapshotSource, tariffs TariffProvider) *Analyzer {
	irradiation := &StaticIrradiationProvider{
		Profile: model.IrradiationProfile{AnnualKwhPerKwp: 1400},
	}
	return New(rates, tariffs, irradiation, testTables())
}

func TestAnalyzeRegion(t *testing.T) {
	tariffs := NewStaticTariffProvider([]model.TariffData{
		{UF: "SP", Concessionaire: "Enel SP", Group: types.GroupB1, TariffKwh: 0.92, Source: types.ProvenanceLive},
		{UF: "SP", Concessionaire: "Enel SP", Group: types.GroupB3, TariffKwh: 0.88, Source: types.ProvenanceLive},
	}, 0.84)
	a := newTestAnalyzer(&fakeSnapshotSource{snap: liveSnapshot()}, tariffs)

	report, err := a.AnalyzeRegion(context.Background(), model.Location{UF: "SP", Lat: -23.5, Lon: -46.6},
		[]string{"casa_popular", "casa_padrao", "comercio_pequeno"})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "SP", report.Location.UF)
	assert.False(t, report.Degraded)
	assert.Empty(t, report.Omitted)

	// One scenario per persona with the single-scenario table.
	assert.Len(t, report.PerPersonaKPIs, 3)
	assert.Equal(t, 3, report.Summary.PersonaCount)
	assert.NotEmpty(t, report.Summary.BestPersonaID)

	// The header tariff is the first resolved quote, a real one here.
	assert.Equal(t, 0.92, report.Tariff.TariffKwh)
	assert.Equal(t, types.ProvenanceLive, report.Tariff.Source)
	assert.Equal(t, 1400.0, report.Irradiation.AnnualKwhPerKwp)
}

func TestAnalyzeRegionNationalAverageFallback(t *testing.T) {
	// No quotes at all: residential personas get the B1 national average.
	a := newTestAnalyzer(&fakeSnapshotSource{snap: liveSnapshot()}, NewStaticTariffProvider(nil, 0.84))

	report, err := a.AnalyzeRegion(context.Background(), model.Location{UF: "AC"}, []string{"casa_popular"})
	require.NoError(t, err)

	require.Len(t, report.PerPersonaKPIs, 1)
	assert.Equal(t, 0.84, report.Tariff.TariffKwh)
	assert.Equal(t, types.ProvenanceNationalAverage, report.Tariff.Source)
}

func TestAnalyzeRegionOmitsFailingPersonas(t *testing.T) {
	// No B3 quote and no B1 fallback applies to commercial personas, and
	// one persona has no escalation schedule: both are omitted, the report
	// still succeeds for the rest.
	a := newTestAnalyzer(&fakeSnapshotSource{snap: liveSnapshot()}, NewStaticTariffProvider(nil, 0.84))

	report, err := a.AnalyzeRegion(context.Background(), model.Location{UF: "SP"},
		[]string{"casa_padrao", "comercio_pequeno", "sem_tabela", "fantasma"})
	require.NoError(t, err)

	assert.Len(t, report.PerPersonaKPIs, 1)
	require.Len(t, report.Omitted, 3)

	omitted := map[string]string{}
	for _, o := range report.Omitted {
		omitted[o.PersonaID] = o.Reason
	}
	assert.Contains(t, omitted, "comercio_pequeno")
	assert.Contains(t, omitted, "sem_tabela")
	assert.Equal(t, "unknown persona", omitted["fantasma"])
}

func TestAnalyzeRegionDegradedOnStaleSnapshot(t *testing.T) {
	snap := liveSnapshot()
	snap.Provenance = types.ProvenanceStale
	a := newTestAnalyzer(&fakeSnapshotSource{snap: snap}, NewStaticTariffProvider(nil, 0.84))

	report, err := a.AnalyzeRegion(context.Background(), model.Location{UF: "SP"}, []string{"casa_popular"})
	require.NoError(t, err)
	assert.True(t, report.Degraded)
}

func TestAnalyzeRegionFailsWithoutSnapshot(t *testing.T) {
	wantErr := errors.New("rate authority unavailable")
	a := newTestAnalyzer(&fakeSnapshotSource{err: wantErr}, NewStaticTariffProvider(nil, 0.84))

	_, err := a.AnalyzeRegion(context.Background(), model.Location{UF: "SP"}, []string{"casa_popular"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, wantErr))
}

func TestGroupForClass(t *testing.T) {
	tests := []struct {
		class types.ConsumerClass
		want  types.TariffGroup
	}{
		{types.ClassResidential, types.GroupB1},
		{types.ClassRural, types.GroupB2},
		{types.ClassCommercial, types.GroupB3},
		{types.ClassIndustrial, types.GroupA4},
		{types.ClassPublicPower, types.GroupB1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, groupForClass(tt.class))
	}
}

func TestMedianOf(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{5}, 5},
		{"odd count", []float64{3, 1, 2}, 2},
		{"even count", []float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, medianOf(tt.values))
		})
	}
}

func TestSummarize(t *testing.T) {
	kpis := []model.PersonaFinancialKPIs{
		{PersonaID: "a", NPV: 100, Viable: true},
		{PersonaID: "b", NPV: 300, Viable: true},
		{PersonaID: "c", NPV: -50},
	}

	s := summarize(kpis)
	assert.Equal(t, 3, s.PersonaCount)
	assert.Equal(t, 2, s.ViableCount)
	assert.Equal(t, 100.0, s.MedianNPV)
	assert.Equal(t, 300.0, s.BestNPV)
	assert.Equal(t, "b", s.BestPersonaID)
}

func TestStaticTariffProviderMiss(t *testing.T) {
	p := NewStaticTariffProvider(nil, 0.84)

	quote, err := p.GetTariffByUF(context.Background(), "SP", types.GroupA4)
	require.NoError(t, err)
	assert.Nil(t, quote)
}
