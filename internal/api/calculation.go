package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

// runCalculationRequest is the JSON body for POST /v1/calculations/run.
// Shakemap is the path of the ground-motion archive to submit; LossConfigID
// is optional and defaults to the oldest stored config.
type runCalculationRequest struct {
	Shakemap     string `json:"shakemap"`
	LossConfigID string `json:"loss_config_id"`
}

func (s *Server) handleListCalculations(w http.ResponseWriter, r *http.Request) {
	calculations, err := s.store.ListCalculations(r.Context())
	if err != nil {
		s.logger.Error("list calculations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list calculations")
		return
	}
	if calculations == nil {
		calculations = []*model.LossCalculation{}
	}

	s.writeJSON(w, http.StatusOK, calculations)
}

func (s *Server) handleGetCalculation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.store.GetCalculation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "calculation not found")
		return
	}
	if err != nil {
		s.logger.Error("get calculation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get calculation")
		return
	}

	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleGetCalculationLosses(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetCalculation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "calculation not found")
			return
		}
		s.logger.Error("get calculation for losses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get calculation")
		return
	}

	losses, err := s.store.ListMeanAssetLosses(r.Context(), id)
	if err != nil {
		s.logger.Error("list mean asset losses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list losses")
		return
	}
	if losses == nil {
		losses = []*model.MeanAssetLoss{}
	}

	s.writeJSON(w, http.StatusOK, losses)
}

func (s *Server) handleRunCalculation(w http.ResponseWriter, r *http.Request) {
	var req runCalculationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Shakemap == "" {
		s.writeError(w, http.StatusBadRequest, "shakemap is required")
		return
	}

	var cfg *model.LossConfig
	var err error
	if req.LossConfigID != "" {
		cfg, err = s.store.GetLossConfig(r.Context(), req.LossConfigID)
	} else {
		cfg, err = s.store.DefaultLossConfig(r.Context())
	}
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusBadRequest, "no matching loss config")
		return
	}
	if err != nil {
		s.logger.Error("resolve loss config", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve loss config")
		return
	}

	shakemap, err := os.ReadFile(req.Shakemap)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "shakemap not readable: "+req.Shakemap)
		return
	}

	c, err := s.engine.Submit(r.Context(), cfg, req.Shakemap, shakemap)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit calculation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit calculation")
		return
	}

	s.logger.Info("calculation submitted", "calculation_id", c.ID, "loss_config_id", cfg.ID)
	s.writeJSON(w, http.StatusAccepted, c)
}
