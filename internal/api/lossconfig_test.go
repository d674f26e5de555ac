package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/tremor/internal/model"
)

func TestCreateLossConfig(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	collection := uploadExposure(t, ts.URL)
	vm := uploadVulnerability(t, ts.URL)
	lm := createLossModel(t, ts.URL, collection.ID, vm.ID)

	cfg := createLossConfig(t, ts.URL, lm.ID)
	if cfg.LossModelID != lm.ID {
		t.Errorf("LossModelID = %q, want %q", cfg.LossModelID, lm.ID)
	}
	if cfg.LossCategory != "structural" {
		t.Errorf("LossCategory = %q, want structural", cfg.LossCategory)
	}

	resp, err := http.Get(ts.URL + "/v1/lossconfigs")
	if err != nil {
		t.Fatalf("GET /v1/lossconfigs: %v", err)
	}
	defer resp.Body.Close()

	list := decodeBody[[]*model.LossConfig](t, resp.Body)
	if len(list) != 1 {
		t.Fatalf("got %d configs, want 1", len(list))
	}
	if list[0].ID != cfg.ID {
		t.Errorf("listed id = %q, want %q", list[0].ID, cfg.ID)
	}
}

func TestCreateLossConfigUnknownModel(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/lossconfigs", "application/json",
		jsonBody(t, map[string]string{
			"loss_model_id": "nonexistent",
			"loss_category": "structural",
		}))
	if err != nil {
		t.Fatalf("POST /v1/lossconfigs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateLossConfigUncoveredCategory(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	collection := uploadExposure(t, ts.URL)
	vm := uploadVulnerability(t, ts.URL)
	lm := createLossModel(t, ts.URL, collection.ID, vm.ID)

	// The fixture vulnerability model only covers structural losses.
	resp, err := http.Post(ts.URL+"/v1/lossconfigs", "application/json",
		jsonBody(t, map[string]string{
			"loss_model_id": lm.ID,
			"loss_category": "contents",
		}))
	if err != nil {
		t.Fatalf("POST /v1/lossconfigs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateLossConfigMissingFields(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/lossconfigs", "application/json",
		jsonBody(t, map[string]string{"loss_category": "structural"}))
	if err != nil {
		t.Fatalf("POST /v1/lossconfigs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
