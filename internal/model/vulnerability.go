package model

import "time"

// VulnerabilityModel groups the loss-ratio curves for one asset/loss category
// pair. A loss model may reference several of them; the orchestrator picks
// the one whose loss category matches the run configuration.
type VulnerabilityModel struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	AssetCategory string    `json:"asset_category"`
	LossCategory  string    `json:"loss_category"`
	CreatedAt     time.Time `json:"created_at"`
}

// VulnerabilityFunction is one damage/loss-ratio curve: mean loss ratios and
// their coefficients of variation over a set of intensity levels, keyed by
// asset taxonomy.
type VulnerabilityFunction struct {
	ID                   string    `json:"id"`
	ModelID              string    `json:"model_id"`
	Taxonomy             string    `json:"taxonomy"`
	IntensityMeasureType string    `json:"intensity_measure_type"`
	Distribution         string    `json:"distribution"`
	IntensityLevels      []float64 `json:"intensity_levels"`
	MeanLossRatios       []float64 `json:"mean_loss_ratios"`
	CoefficientsVar      []float64 `json:"coefficients_of_variation,omitempty"`
}
