// Package leaderboard scores and ranks equipment bundles per persona.
// The ranking feeds a user-facing UI, so one bad bundle must never abort
// the whole thing: failures become logged exclusions.
package leaderboard

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/solar-finance-core/internal/finance"
	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/validation"
)

// parallelThreshold is the candidate count above which bundles are scored
// concurrently. Scoring is pure CPU work with no shared mutable state.
const parallelThreshold = 16

// Request is one ranking invocation.
type Request struct {
	// Persona carries the analysis inputs; capex, generation and capacity
	// are overridden per bundle
	Persona finance.Input

	Bundles []model.EquipmentBundle

	// Degraded propagates stale rate provenance into the result so the
	// UI can show its banner
	Degraded bool
}

// Service ranks equipment bundles.
type Service struct {
	opts validation.ValidationOptions
}

// New creates a Service with the given bundle validation options.
func New(opts validation.ValidationOptions) *Service {
	return &Service{opts: opts}
}

// Rank scores every bundle with the persona analyzer and returns the
// ranked leaderboard. Re-ranking the same inputs is idempotent. Order:
// NPV descending, ties broken by LCOE ascending, then by simple payback
// ascending.
func (s *Service) Rank(ctx context.Context, req Request) (*model.LeaderboardByPersona, error) {
	valid, excluded := validation.FilterBundles(req.Bundles, s.opts)

	type outcome struct {
		score *model.EquipmentFinancialScore
		skip  *model.ExcludedBundle
	}

	outcomes := make([]outcome, len(valid))
	score := func(i int, b model.EquipmentBundle) {
		if err := ctx.Err(); err != nil {
			outcomes[i] = outcome{skip: &model.ExcludedBundle{EquipmentBundleID: b.ID, Reason: err.Error()}}
			return
		}
		kpi, err := s.scoreBundle(req.Persona, b)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"bundle": b.ID,
				"reason": err.Error(),
			}).Warn("Excluded bundle after scoring failure")
			outcomes[i] = outcome{skip: &model.ExcludedBundle{EquipmentBundleID: b.ID, Reason: err.Error()}}
			return
		}
		outcomes[i] = outcome{score: &model.EquipmentFinancialScore{EquipmentBundleID: b.ID, KPIs: kpi}}
	}

	if len(valid) >= parallelThreshold {
		var wg sync.WaitGroup
		for i, b := range valid {
			wg.Add(1)
			go func(i int, b model.EquipmentBundle) {
				defer wg.Done()
				score(i, b)
			}(i, b)
		}
		wg.Wait()
	} else {
		for i, b := range valid {
			score(i, b)
		}
	}

	scores := make([]model.EquipmentFinancialScore, 0, len(valid))
	for _, o := range outcomes {
		if o.skip != nil {
			excluded = append(excluded, *o.skip)
			continue
		}
		scores = append(scores, *o.score)
	}

	sortScores(scores)
	for i := range scores {
		scores[i].Rank = i + 1
	}

	board := &model.LeaderboardByPersona{
		ID:          uuid.NewString(),
		PersonaID:   req.Persona.PersonaID,
		GeneratedAt: time.Now().UTC(),
		Scores:      scores,
		Excluded:    excluded,
		Degraded:    req.Degraded,
	}

	logrus.WithFields(logrus.Fields{
		"persona":  req.Persona.PersonaID,
		"ranked":   len(scores),
		"excluded": len(excluded),
	}).Info("Leaderboard computed")
	return board, nil
}

// scoreBundle runs the analyzer with the bundle's sizing and returns the
// recommended scenario's KPIs.
func (s *Service) scoreBundle(persona finance.Input, b model.EquipmentBundle) (model.PersonaFinancialKPIs, error) {
	in := persona
	in.SystemCapacityKwp = b.SystemCapacityKwp
	in.AnnualGenerationKwh = b.AnnualGenerationKwh
	in.Capex = b.Capex

	kpis, err := finance.ComputeKPIs(in)
	if err != nil {
		return model.PersonaFinancialKPIs{}, err
	}
	return finance.Recommended(kpis), nil
}

// sortScores orders by NPV desc, LCOE asc, simple payback asc. A nil
// payback sorts last among otherwise equal entries.
func sortScores(scores []model.EquipmentFinancialScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i].KPIs, scores[j].KPIs
		if a.NPV != b.NPV {
			return a.NPV > b.NPV
		}
		if a.LCOE != b.LCOE {
			return a.LCOE < b.LCOE
		}
		return paybackOrInf(a.SimplePaybackYears) < paybackOrInf(b.SimplePaybackYears)
	})
}

func paybackOrInf(p *float64) float64 {
	if p == nil {
		return math.Inf(1)
	}
	return *p
}
