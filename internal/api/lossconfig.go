package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

// createLossConfigRequest is the JSON body for POST /v1/lossconfigs.
type createLossConfigRequest struct {
	LossModelID  string `json:"loss_model_id"`
	LossCategory string `json:"loss_category"`
	AggregateBy  string `json:"aggregate_by"`
}

func (s *Server) handleListLossConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListLossConfigs(r.Context())
	if err != nil {
		s.logger.Error("list loss configs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list loss configs")
		return
	}
	if configs == nil {
		configs = []*model.LossConfig{}
	}

	s.writeJSON(w, http.StatusOK, configs)
}

func (s *Server) handleCreateLossConfig(w http.ResponseWriter, r *http.Request) {
	var req createLossConfigRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.LossModelID == "" {
		s.writeError(w, http.StatusBadRequest, "loss_model_id is required")
		return
	}
	if req.LossCategory == "" {
		s.writeError(w, http.StatusBadRequest, "loss_category is required")
		return
	}

	lm, err := s.store.GetLossModel(r.Context(), req.LossModelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusBadRequest, "loss model not found")
			return
		}
		s.logger.Error("get loss model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve loss model")
		return
	}

	// Reject configs no run could ever satisfy.
	if _, err := s.store.MatchVulnerabilityModel(r.Context(), lm.ID, req.LossCategory); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusBadRequest,
				"no vulnerability model on the loss model covers loss category "+req.LossCategory)
			return
		}
		s.logger.Error("match vulnerability model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve vulnerability model")
		return
	}

	cfg := &model.LossConfig{
		ID:           model.NewID(),
		LossModelID:  lm.ID,
		LossCategory: req.LossCategory,
		AggregateBy:  req.AggregateBy,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateLossConfig(r.Context(), cfg); err != nil {
		s.logger.Error("create loss config", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store loss config")
		return
	}

	s.writeJSON(w, http.StatusCreated, cfg)
}
