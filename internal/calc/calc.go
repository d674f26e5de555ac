// Package calc defines the interface to the remote risk-calculation engine.
// The concrete HTTP client lives in the openquake subpackage; tests substitute
// stub implementations.
package calc

import "context"

// Job statuses reported by the remote engine. A job is terminal once it
// reports complete or failed.
const (
	JobCreated   = "created"
	JobExecuting = "executing"
	JobComplete  = "complete"
	JobFailed    = "failed"
)

// ExtractMeanLosses is the extraction key for per-asset mean loss rows.
const ExtractMeanLosses = "avg_losses-rlzs"

// TerminalJobStatus reports whether a remote job status is terminal.
func TerminalJobStatus(status string) bool {
	return status == JobComplete || status == JobFailed
}

// InputFile is one named file in a job submission.
type InputFile struct {
	Field   string // multipart field name, e.g. "job_config"
	Name    string // file name, e.g. "exposure.xml"
	Content []byte
}

// RunSpec describes one job submission to the remote engine.
type RunSpec struct {
	Files []InputFile

	// HazardJobID links a risk calculation to its completed hazard
	// pre-calculation. Empty for phase 1 submissions.
	HazardJobID string
}

// AssetLoss is one extracted result row.
type AssetLoss struct {
	AssetID   string  `json:"asset_id"`
	LossValue float64 `json:"loss_value"`
}

// Engine is the remote calculation service.
type Engine interface {
	// Run submits a job and returns the remote job id.
	Run(ctx context.Context, spec RunSpec) (string, error)

	// Status returns the current status of a remote job.
	Status(ctx context.Context, jobID string) (string, error)

	// Extract fetches result rows for a completed job. what selects the
	// output, e.g. ExtractMeanLosses.
	Extract(ctx context.Context, jobID, what string) ([]AssetLoss, error)
}
