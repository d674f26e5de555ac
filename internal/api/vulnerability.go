package api

import (
	"net/http"
	"time"

	"github.com/seantiz/tremor/internal/format"
	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

func (s *Server) handleListVulnerability(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListVulnerabilityModels(r.Context())
	if err != nil {
		s.logger.Error("list vulnerability models", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list vulnerability models")
		return
	}
	if models == nil {
		models = []*store.VulnerabilityModelSummary{}
	}

	s.writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleCreateVulnerability(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	xmlFile, _, err := r.FormFile("vulnerabilityModel")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "vulnerabilityModel file is required")
		return
	}
	defer xmlFile.Close()

	vm, fns, err := format.ParseVulnerabilityXML(xmlFile)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vm.ID = model.NewID()
	vm.CreatedAt = time.Now().UTC()
	for _, fn := range fns {
		fn.ID = model.NewID()
		fn.ModelID = vm.ID
	}

	if err := s.store.CreateVulnerabilityModel(r.Context(), vm, fns); err != nil {
		s.logger.Error("create vulnerability model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store vulnerability model")
		return
	}

	s.logger.Info("vulnerability model created",
		"model_id", vm.ID,
		"loss_category", vm.LossCategory,
		"functions", len(fns),
	)
	s.writeJSON(w, http.StatusCreated, &store.VulnerabilityModelSummary{
		VulnerabilityModel: *vm,
		FunctionsCount:     len(fns),
	})
}
