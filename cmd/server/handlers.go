package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/solar-finance-core/internal/fetch"
	"github.com/yourorg/solar-finance-core/internal/finance"
	"github.com/yourorg/solar-finance-core/internal/leaderboard"
	"github.com/yourorg/solar-finance-core/internal/model"
	"github.com/yourorg/solar-finance-core/internal/ratecache"
	"github.com/yourorg/solar-finance-core/internal/types"
	"github.com/yourorg/solar-finance-core/internal/validation"
)

// leaderboardRequest ranks equipment bundles for one persona.
type leaderboardRequest struct {
	PersonaID    string                  `json:"persona_id"`
	TariffKwh    float64                 `json:"tariff_kwh"`
	DiscountRate float64                 `json:"discount_rate,omitempty"`
	Bundles      []model.EquipmentBundle `json:"bundles"`
}

// regionalRequest runs the comparative per-persona analysis for a location.
type regionalRequest struct {
	UF       string   `json:"uf"`
	City     string   `json:"city,omitempty"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Personas []string `json:"personas,omitempty"`
}

// bulkRatesRequest resolves many modality lookups against one snapshot.
type bulkRatesRequest struct {
	Requests []model.RateRequest `json:"requests"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req leaderboardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	persona, ok := s.personaByID(req.PersonaID)
	if !ok {
		s.errorResponse(w, http.StatusNotFound, "Unknown persona: "+req.PersonaID)
		return
	}
	if req.TariffKwh <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "tariff_kwh must be positive")
		return
	}

	schedule, ok := s.tables.ScheduleFor(persona.Regime, persona.Class)
	if !ok {
		s.errorResponse(w, http.StatusUnprocessableEntity, "No escalation schedule for persona "+req.PersonaID)
		return
	}

	snap, err := s.cache.GetMarketSnapshot(r.Context())
	if err != nil {
		s.upstreamError(w, err)
		return
	}

	discount := req.DiscountRate
	if discount == 0 {
		discount = persona.DiscountRate
	}
	if discount == 0 {
		discount = snap.BaseRate / 100
	}

	board, err := s.boards.Rank(r.Context(), leaderboard.Request{
		Persona: finance.Input{
			PersonaID:              persona.ID,
			Class:                  persona.Class,
			Regime:                 persona.Regime,
			TariffKwh:              req.TariffKwh,
			DiscountRate:           discount,
			Schedule:               schedule,
			DegradationRatePerYear: persona.DegradationRatePerYear,
			ProjectLifeYears:       persona.ProjectLifeYears,
			OMCostPerYear:          persona.OMCostPerYear,
			Scenarios:              s.tables.Scenarios,
		},
		Bundles:  req.Bundles,
		Degraded: snap.Provenance == types.ProvenanceStale,
	})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.exporter.Add(board)
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleRegional(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req regionalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UF == "" {
		s.errorResponse(w, http.StatusBadRequest, "uf is required")
		return
	}

	personas := req.Personas
	if len(personas) == 0 {
		for _, p := range s.tables.Personas {
			personas = append(personas, p.ID)
		}
	}

	report, err := s.regions.AnalyzeRegion(r.Context(), model.Location{
		UF:   req.UF,
		City: req.City,
		Lat:  req.Lat,
		Lon:  req.Lon,
	}, personas)
	if err != nil {
		s.upstreamError(w, err)
		return
	}

	s.exporter.Add(report)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	modality := r.URL.Query().Get("modality")
	segment := types.Segment(r.URL.Query().Get("segment"))
	if modality == "" || !segment.Valid() {
		s.errorResponse(w, http.StatusBadRequest, "modality and segment (PF|PJ) are required")
		return
	}

	rate, err := s.cache.GetRateByModality(r.Context(), modality, segment)
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (s *Server) handleBulkRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bulkRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Requests) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "requests must not be empty")
		return
	}

	rates, err := s.cache.GetBulkRates(r.Context(), req.Requests)
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rates":    rates,
		"degraded": anyStale(rates),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cache.GetMarketSnapshot(r.Context())
	if err != nil {
		s.upstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "operational",
		"uptime":        time.Since(startTime).String(),
		"version":       "1.0.0",
		"personas":      len(s.tables.Personas),
		"scenarios":     len(s.tables.Scenarios),
		"circuit_state": s.breaker.GetState(),
		"configuration": map[string]interface{}{
			"cache_ttl":          s.cfg.CacheTTL.String(),
			"max_stale_time":     s.cfg.MaxStaleTime.String(),
			"use_stale_on_error": s.cfg.UseStaleOnError,
		},
	})
}

// handleCircuitStatus allows viewing and resetting the circuit breaker
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"state": s.breaker.GetState(),
	}

	if r.Method == http.MethodPost && r.URL.Query().Get("action") == "reset" {
		s.breaker.Reset()
		response["message"] = "Circuit breaker reset"
		response["state"] = s.breaker.GetState()
	}

	writeJSON(w, http.StatusOK, response)
}

// upstreamError maps the typed sentinels onto HTTP statuses.
func (s *Server) upstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ratecache.ErrModalityNotFound):
		s.errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fetch.ErrDataSourceUnavailable):
		s.errorResponse(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, validation.ErrInvalidInput):
		s.errorResponse(w, http.StatusBadRequest, err.Error())
	default:
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}

// errorResponse returns a formatted error body
func (s *Server) errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)
	writeJSON(w, statusCode, map[string]interface{}{
		"status": "error",
		"error":  errorMsg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func anyStale(rates []model.RealtimeRate) bool {
	for _, r := range rates {
		if r.Source == types.ProvenanceStale {
			return true
		}
	}
	return false
}
