// Package openquake implements the calc.Engine interface against the HTTP API
// of an OpenQuake-style calculation engine.
package openquake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/seantiz/tremor/internal/calc"
)

// DefaultTimeout bounds a single request to the engine. Long-running jobs are
// handled by polling, never by holding a request open.
const DefaultTimeout = 30 * time.Second

// Compile-time interface satisfaction check.
var _ calc.Engine = (*Client)(nil)

// Client talks to the remote engine's HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

type runResponse struct {
	JobID string `json:"job_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Run submits a job as a multipart upload and returns the remote job id.
func (c *Client) Run(ctx context.Context, spec calc.RunSpec) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	for _, file := range spec.Files {
		part, err := writer.CreateFormFile(file.Field, file.Name)
		if err != nil {
			return "", fmt.Errorf("create form file %s: %w", file.Field, err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return "", fmt.Errorf("write form file %s: %w", file.Field, err)
		}
	}
	if spec.HazardJobID != "" {
		if err := writer.WriteField("hazard_job_id", spec.HazardJobID); err != nil {
			return "", fmt.Errorf("write hazard_job_id field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/calc/run", &body)
	if err != nil {
		return "", fmt.Errorf("create run request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("submit job: engine returned %d: %s", resp.StatusCode, readBodyPrefix(resp.Body))
	}

	var run runResponse
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return "", fmt.Errorf("decode run response: %w", err)
	}
	if run.JobID == "" {
		return "", fmt.Errorf("engine returned no job id")
	}
	return run.JobID, nil
}

// Status returns the current status of a remote job.
func (c *Client) Status(ctx context.Context, jobID string) (string, error) {
	url := fmt.Sprintf("%s/v1/calc/%s/status", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("poll status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("poll status: engine returned %d: %s", resp.StatusCode, readBodyPrefix(resp.Body))
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	if status.Status == "" {
		return "", fmt.Errorf("engine returned no status")
	}
	return status.Status, nil
}

// Extract fetches result rows for a completed job.
func (c *Client) Extract(ctx context.Context, jobID, what string) ([]calc.AssetLoss, error) {
	url := fmt.Sprintf("%s/v1/calc/%s/extract/%s", c.baseURL, jobID, what)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create extract request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extract results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extract results: engine returned %d: %s", resp.StatusCode, readBodyPrefix(resp.Body))
	}

	var rows []calc.AssetLoss
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode extract response: %w", err)
	}
	return rows, nil
}

// readBodyPrefix reads up to 512 bytes of an error body for diagnostics.
func readBodyPrefix(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
