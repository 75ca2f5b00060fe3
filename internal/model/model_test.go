package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/solar-finance-core/internal/types"
)

func TestAnnualizeMonthlyPct(t *testing.T) {
	tests := []struct {
		name       string
		monthlyPct float64
		want       float64
	}{
		{"one percent monthly", 1.0, 0.126825},
		{"zero", 0.0, 0.0},
		{"half percent", 0.5, 0.061678},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AnnualizeMonthlyPct(tt.monthlyPct), 1e-6)
		})
	}
}

func TestAccumulateSeries(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		points []RateSeriesPoint
		n      int
		want   float64
	}{
		{
			name:   "two one-percent months compound",
			points: []RateSeriesPoint{{day(1), 1.0}, {day(2), 1.0}},
			n:      2,
			want:   0.0201,
		},
		{
			name:   "only last n observations count",
			points: []RateSeriesPoint{{day(1), 5.0}, {day(2), 1.0}, {day(3), 1.0}},
			n:      2,
			want:   0.0201,
		},
		{
			name:   "n larger than series uses everything",
			points: []RateSeriesPoint{{day(1), 1.0}},
			n:      12,
			want:   0.01,
		},
		{
			name:   "empty series",
			points: nil,
			n:      12,
			want:   0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AccumulateSeries(tt.points, tt.n), 1e-6)
		})
	}
}

func TestNewRealtimeRate(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRealtimeRate("capital_de_giro", types.SegmentPJ, 1.0, 10.5, ts)

	assert.Equal(t, "capital_de_giro", r.Modality)
	assert.Equal(t, types.SegmentPJ, r.Segment)
	assert.Equal(t, 1.0, r.MonthlyRate)
	assert.InDelta(t, 0.126825, r.AnnualRate, 1e-6)
	assert.InDelta(t, 12.6825, r.AnnualRatePct, 1e-4)
	assert.InDelta(t, 1.5, r.SpreadVsBaseRate, 1e-9)
	assert.Equal(t, types.ProvenanceLive, r.Source)
	assert.Equal(t, ts, r.Timestamp)
}

func TestFactorFor(t *testing.T) {
	schedule := TariffEscalationSchedule{
		Regime:  types.RegimeGD2,
		Class:   types.ClassResidential,
		Factors: []float64{0.85, 0.90, 1.00},
	}

	tests := []struct {
		name string
		year int
		want float64
	}{
		{"year before project start", 0, 0},
		{"negative year", -3, 0},
		{"first year", 1, 0.85},
		{"last tabulated year", 3, 1.00},
		{"beyond the table holds the last factor flat", 30, 1.00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, schedule.FactorFor(tt.year))
		})
	}

	empty := TariffEscalationSchedule{}
	assert.True(t, empty.Empty())
	assert.Equal(t, 0.0, empty.FactorFor(1))
}

func TestSnapshotFresh(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	var nilSnap *MarketSnapshot
	assert.False(t, nilSnap.Fresh(now))

	fresh := &MarketSnapshot{ValidUntil: now.Add(time.Minute)}
	assert.True(t, fresh.Fresh(now))

	expired := &MarketSnapshot{ValidUntil: now.Add(-time.Minute)}
	assert.False(t, expired.Fresh(now))

	boundary := &MarketSnapshot{ValidUntil: now}
	assert.True(t, boundary.Fresh(now))
}
