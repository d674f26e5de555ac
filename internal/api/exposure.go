package api

import (
	"net/http"
	"time"

	"github.com/seantiz/tremor/internal/format"
	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

func (s *Server) handleListExposure(w http.ResponseWriter, r *http.Request) {
	collections, err := s.store.ListAssetCollections(r.Context())
	if err != nil {
		s.logger.Error("list asset collections", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list exposure models")
		return
	}
	if collections == nil {
		collections = []*store.AssetCollectionSummary{}
	}

	s.writeJSON(w, http.StatusOK, collections)
}

func (s *Server) handleCreateExposure(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	xmlFile, _, err := r.FormFile("exposureXML")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "exposureXML file is required")
		return
	}
	defer xmlFile.Close()

	csvFile, _, err := r.FormFile("exposureCSV")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "exposureCSV file is required")
		return
	}
	defer csvFile.Close()

	collection, err := format.ParseExposureXML(xmlFile)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := format.ParseAssetCSV(csvFile)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	collection.ID = model.NewID()
	collection.CreatedAt = time.Now().UTC()
	sites, assets := format.BuildSitesAndAssets(collection.ID, rows)

	if err := s.store.CreateAssetCollection(r.Context(), collection, sites, assets); err != nil {
		s.logger.Error("create asset collection", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store exposure model")
		return
	}

	s.logger.Info("exposure model created",
		"collection_id", collection.ID,
		"sites", len(sites),
		"assets", len(assets),
	)
	s.writeJSON(w, http.StatusCreated, &store.AssetCollectionSummary{
		AssetCollection: *collection,
		AssetsCount:     len(assets),
		SitesCount:      len(sites),
	})
}
