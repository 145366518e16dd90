package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/jonathan/bookmark-agent/internal/types"
)

// handleSync triggers one incremental sync. `?force=true` bypasses the
// interval gate.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	result, err := s.jobs.RunSync(r.Context(), force)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// handleResummarize re-runs summarization over a filtered selection.
func (s *Server) handleResummarize(w http.ResponseWriter, r *http.Request) {
	var filter types.ResummarizeFilter
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
			s.errorResponse(w, &types.ErrValidation{Field: "body", Message: "request body is not valid JSON"})
			return
		}
	}
	result, err := s.jobs.RunResummarize(r.Context(), filter)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleDigest(period types.DigestPeriod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.jobs.RunDigest(r.Context(), period)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		s.jsonResponse(w, http.StatusOK, result)
	}
}

// handleGetDigest returns a stored digest report by period and key.
func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	period := types.DigestPeriod(r.PathValue("period"))
	if period != types.PeriodDaily && period != types.PeriodWeekly {
		s.errorResponse(w, &types.ErrValidation{Field: "period", Message: "period must be daily or weekly"})
		return
	}
	report, err := s.digests.GetDigest(r.Context(), period, r.PathValue("key"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if report == nil {
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "digest not found"})
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.errorResponse(w, &types.ErrValidation{Field: "limit", Message: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := s.jobs.ListRuns(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleVocab(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("term"))
	if term == "" {
		s.errorResponse(w, &types.ErrValidation{Field: "term", Message: "term is required"})
		return
	}
	entry, err := s.vocab.Vocabulary(r.Context(), term)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, entry)
}

// providerRequest is the admin payload for provider upsert. The credential
// arrives in plaintext and is stored encrypted.
type providerRequest struct {
	BaseURL       string  `json:"base_url"`
	Credential    string  `json:"credential"`
	MiniModel     string  `json:"mini_model"`
	DigestModel   string  `json:"digest_model"`
	Enabled       bool    `json:"enabled"`
	Priority      int     `json:"priority"`
	MonthlyBudget float64 `json:"monthly_budget"`
}

func (s *Server) handleUpsertProvider(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		s.errorResponse(w, &types.ErrValidation{Field: "name", Message: "provider name is required"})
		return
	}

	var req providerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, &types.ErrValidation{Field: "body", Message: "request body is not valid JSON"})
		return
	}
	if req.BaseURL == "" || req.MiniModel == "" {
		s.errorResponse(w, &types.ErrValidation{Field: "body", Message: "base_url and mini_model are required"})
		return
	}

	cfg := types.ProviderConfig{
		Name:          name,
		BaseURL:       req.BaseURL,
		MiniModel:     req.MiniModel,
		DigestModel:   req.DigestModel,
		Enabled:       req.Enabled,
		Priority:      req.Priority,
		MonthlyBudget: req.MonthlyBudget,
	}
	if cfg.DigestModel == "" {
		cfg.DigestModel = cfg.MiniModel
	}

	if req.Credential != "" {
		sealed, err := s.box.Seal(req.Credential)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		cfg.EncryptedCredential = sealed
	} else {
		// Keep the previously stored credential on a credential-less update.
		existing, err := s.providers.GetProvider(r.Context(), name)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		if existing != nil {
			cfg.EncryptedCredential = existing.EncryptedCredential
		}
	}

	if err := s.providers.UpsertProvider(r.Context(), &cfg); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, cfg)
}

// handleGetProvider returns a provider config; the credential never leaves
// the store.
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := s.providers.GetProvider(r.Context(), r.PathValue("name"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if provider == nil {
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": "provider not found"})
		return
	}
	s.jsonResponse(w, http.StatusOK, provider)
}
