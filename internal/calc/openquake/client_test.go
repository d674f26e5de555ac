package openquake

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/seantiz/tremor/internal/calc"
)

func TestRunSubmitsMultipart(t *testing.T) {
	var gotHazardJobID string
	var gotFields []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/calc/run" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		gotHazardJobID = r.FormValue("hazard_job_id")
		for field := range r.MultipartForm.File {
			gotFields = append(gotFields, field)
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "42"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	jobID, err := client.Run(context.Background(), calc.RunSpec{
		Files: []calc.InputFile{
			{Field: "job_config", Name: "risk.ini", Content: []byte("ini")},
			{Field: "input_model_1", Name: "shakemap.zip", Content: []byte{0x50, 0x4b}},
		},
		HazardJobID: "7",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if jobID != "42" {
		t.Errorf("jobID = %q, want %q", jobID, "42")
	}
	if gotHazardJobID != "7" {
		t.Errorf("hazard_job_id = %q, want %q", gotHazardJobID, "7")
	}
	if len(gotFields) != 2 {
		t.Errorf("file fields = %v, want 2 entries", gotFields)
	}
}

func TestRunOmitsEmptyHazardJobID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if _, ok := r.MultipartForm.Value["hazard_job_id"]; ok {
			t.Error("hazard_job_id field should be absent for phase 1 submissions")
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "1"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	if _, err := client.Run(context.Background(), calc.RunSpec{
		Files: []calc.InputFile{{Field: "job_config", Name: "a.ini", Content: []byte("x")}},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunEngineError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "input rejected", http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	_, err := client.Run(context.Background(), calc.RunSpec{})
	if err == nil {
		t.Fatal("expected error for engine 400 response")
	}
}

func TestRunMissingJobID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	if _, err := client.Run(context.Background(), calc.RunSpec{}); err == nil {
		t.Fatal("expected error for response without job_id")
	}
}

func TestStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calc/42/status" {
			t.Errorf("path = %s, want /v1/calc/42/status", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "executing"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	status, err := client.Status(context.Background(), "42")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != calc.JobExecuting {
		t.Errorf("status = %q, want %q", status, calc.JobExecuting)
	}
}

func TestStatusEngineError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	if _, err := client.Status(context.Background(), "42"); err == nil {
		t.Fatal("expected error for engine 404 response")
	}
}

func TestExtract(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calc/42/extract/avg_losses-rlzs" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"asset_id": "a1", "loss_value": 120.5},
			{"asset_id": "a2", "loss_value": 30.0},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	rows, err := client.Extract(context.Background(), "42", calc.ExtractMeanLosses)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].AssetID != "a1" || rows[0].LossValue != 120.5 {
		t.Errorf("rows[0] = %+v", rows[0])
	}
}

func TestTerminalJobStatus(t *testing.T) {
	if !calc.TerminalJobStatus(calc.JobComplete) || !calc.TerminalJobStatus(calc.JobFailed) {
		t.Error("complete and failed should be terminal")
	}
	if calc.TerminalJobStatus(calc.JobCreated) || calc.TerminalJobStatus(calc.JobExecuting) {
		t.Error("created and executing should not be terminal")
	}
}
