package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/tremor/internal/store"
)

func TestCreateVulnerability(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	created := uploadVulnerability(t, ts.URL)
	if created.ID == "" {
		t.Error("created model has no id")
	}
	if created.Name != "structural_vulnerability" {
		t.Errorf("Name = %q, want structural_vulnerability", created.Name)
	}
	if created.LossCategory != "structural" {
		t.Errorf("LossCategory = %q, want structural", created.LossCategory)
	}
	if created.FunctionsCount != 2 {
		t.Errorf("FunctionsCount = %d, want 2", created.FunctionsCount)
	}

	resp, err := http.Get(ts.URL + "/v1/vulnerability")
	if err != nil {
		t.Fatalf("GET /v1/vulnerability: %v", err)
	}
	defer resp.Body.Close()

	list := decodeBody[[]*store.VulnerabilityModelSummary](t, resp.Body)
	if len(list) != 1 {
		t.Fatalf("got %d models, want 1", len(list))
	}
	if list[0].FunctionsCount != 2 {
		t.Errorf("listed FunctionsCount = %d, want 2", list[0].FunctionsCount)
	}
}

func TestCreateVulnerabilityMissingFile(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, contentType := multipartBody(t, nil, map[string]string{"unrelated": "field"})
	resp, err := http.Post(ts.URL+"/v1/vulnerability", contentType, body)
	if err != nil {
		t.Fatalf("POST /v1/vulnerability: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateVulnerabilityBadXML(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Loss category attribute missing.
	body, contentType := multipartBody(t, map[string]string{
		"vulnerabilityModel": `<nrml xmlns="http://openquake.org/xmlns/nrml/0.5"><vulnerabilityModel id="x"/></nrml>`,
	}, nil)
	resp, err := http.Post(ts.URL+"/v1/vulnerability", contentType, body)
	if err != nil {
		t.Fatalf("POST /v1/vulnerability: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
