package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/tremor/internal/format"
	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

func (s *Server) handleListLossModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListLossModels(r.Context())
	if err != nil {
		s.logger.Error("list loss models", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list loss models")
		return
	}
	if models == nil {
		models = []*store.LossModelSummary{}
	}

	s.writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleCreateLossModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	iniFile, _, err := r.FormFile("riskIni")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "riskIni file is required")
		return
	}
	defer iniFile.Close()

	lm, err := format.ParseRiskINI(iniFile)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	collectionID := r.FormValue("asset_collection_id")
	if collectionID == "" {
		s.writeError(w, http.StatusBadRequest, "asset_collection_id is required")
		return
	}
	if _, err := s.store.GetAssetCollection(r.Context(), collectionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusBadRequest, "asset collection not found")
			return
		}
		s.logger.Error("get asset collection", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve asset collection")
		return
	}

	var vmIDs []string
	for _, id := range strings.Split(r.FormValue("vulnerability_model_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			vmIDs = append(vmIDs, id)
		}
	}
	if len(vmIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "vulnerability_model_ids is required")
		return
	}
	for _, id := range vmIDs {
		if _, err := s.store.GetVulnerabilityModel(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.writeError(w, http.StatusBadRequest, "vulnerability model not found: "+id)
				return
			}
			s.logger.Error("get vulnerability model", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to resolve vulnerability model")
			return
		}
	}

	lm.ID = model.NewID()
	lm.Name = r.FormValue("name")
	if lm.Name == "" {
		lm.Name = lm.Description
	}
	lm.AssetCollectionID = collectionID
	lm.VulnerabilityModelIDs = vmIDs
	lm.CreatedAt = time.Now().UTC()

	if err := s.store.CreateLossModel(r.Context(), lm); err != nil {
		s.logger.Error("create loss model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store loss model")
		return
	}

	s.logger.Info("loss model created", "loss_model_id", lm.ID, "asset_collection_id", collectionID)
	s.writeJSON(w, http.StatusCreated, lm)
}
