package model

import "time"

// Calculation status constants.
const (
	StatusPending       = "pending"
	StatusHazardRunning = "hazard_running"
	StatusRiskRunning   = "risk_running"
	StatusImporting     = "importing"
	StatusComplete      = "complete"
	StatusFailed        = "failed"
)

// validTransitions maps each calculation status to the set of statuses it may
// transition to. Every non-terminal status may fail; nothing leaves a
// terminal status.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusHazardRunning: true,
		StatusFailed:        true,
	},
	StatusHazardRunning: {
		StatusRiskRunning: true,
		StatusFailed:      true,
	},
	StatusRiskRunning: {
		StatusImporting: true,
		StatusFailed:    true,
	},
	StatusImporting: {
		StatusComplete: true,
		StatusFailed:   true,
	},
}

// ValidTransition reports whether transitioning from one calculation status
// to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a calculation status is terminal.
func TerminalStatus(status string) bool {
	return status == StatusComplete || status == StatusFailed
}

// LossModel pairs an exposure model with one or more vulnerability models and
// carries the calculation parameters parsed from an uploaded job file.
type LossModel struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description,omitempty"`
	AssetCollectionID     string    `json:"asset_collection_id"`
	VulnerabilityModelIDs []string  `json:"vulnerability_model_ids"`
	PreparationMode       string    `json:"preparation_calculation_mode"`
	CalculationMode       string    `json:"main_calculation_mode"`
	GroundMotionFields    int       `json:"number_of_ground_motion_fields"`
	MaximumDistance       float64   `json:"maximum_distance,omitempty"`
	TruncationLevel       float64   `json:"truncation_level,omitempty"`
	RandomSeed            int       `json:"random_seed,omitempty"`
	MasterSeed            int       `json:"master_seed,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// LossConfig selects the loss category and aggregation key a run uses.
type LossConfig struct {
	ID           string    `json:"id"`
	LossModelID  string    `json:"loss_model_id"`
	LossCategory string    `json:"loss_category"`
	AggregateBy  string    `json:"aggregate_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LossCalculation is one orchestrated run. It is the only entity mutated
// after creation: the orchestrator advances its status and records the remote
// job ids, and the importer attaches result rows once the risk job completes.
type LossCalculation struct {
	ID           string     `json:"id"`
	LossModelID  string     `json:"loss_model_id"`
	LossCategory string     `json:"loss_category"`
	AggregateBy  string     `json:"aggregate_by,omitempty"`
	ShakemapRef  string     `json:"shakemap_ref"`
	Status       string     `json:"status"`
	HazardJobID  string     `json:"hazard_job_id,omitempty"`
	RiskJobID    string     `json:"risk_job_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// MeanAssetLoss is one imported result row: the mean loss for a single asset
// in a single calculation.
type MeanAssetLoss struct {
	ID            int64   `json:"id"`
	CalculationID string  `json:"calculation_id"`
	AssetID       string  `json:"asset_id"`
	LossValue     float64 `json:"loss_value"`
}
