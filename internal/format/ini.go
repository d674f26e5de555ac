package format

import (
	"fmt"
	"io"

	"gopkg.in/ini.v1"

	"github.com/seantiz/tremor/internal/model"
)

// Calculation modes for the two phases of a run.
const (
	PreparationMode = "scenario"
	RiskMode        = "scenario_risk"
)

// File names used in the multipart payloads sent to the remote engine.
const (
	ExposureXMLName      = "exposure.xml"
	ExposureCSVName      = "exposure_assets.csv"
	VulnerabilityXMLName = "vulnerability.xml"
	HazardININame        = "pre-calculation.ini"
	RiskININame          = "risk.ini"
	ShakemapName         = "shakemap.zip"
)

// ParseRiskINI reads an uploaded job configuration file and returns an
// unsaved LossModel carrying its calculation parameters. Keys are looked up
// across all sections, so the section layout of the upload does not matter.
func ParseRiskINI(r io.Reader) (*model.LossModel, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ini: %w", err)
	}
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parse ini: %w", err)
	}

	lookup := func(name string) *ini.Key {
		for _, section := range f.Sections() {
			if section.HasKey(name) {
				return section.Key(name)
			}
		}
		return nil
	}
	str := func(name string) string {
		if k := lookup(name); k != nil {
			return k.String()
		}
		return ""
	}
	integer := func(name string) int {
		if k := lookup(name); k != nil {
			if v, err := k.Int(); err == nil {
				return v
			}
		}
		return 0
	}
	float := func(name string) float64 {
		if k := lookup(name); k != nil {
			if v, err := k.Float64(); err == nil {
				return v
			}
		}
		return 0
	}

	m := &model.LossModel{
		Description:        str("description"),
		PreparationMode:    PreparationMode,
		CalculationMode:    str("calculation_mode"),
		GroundMotionFields: integer("number_of_ground_motion_fields"),
		MaximumDistance:    float("maximum_distance"),
		TruncationLevel:    float("truncation_level"),
		RandomSeed:         integer("random_seed"),
		MasterSeed:         integer("master_seed"),
	}
	if m.CalculationMode == "" {
		m.CalculationMode = RiskMode
	}
	if m.GroundMotionFields <= 0 {
		return nil, fmt.Errorf("job config is missing number_of_ground_motion_fields")
	}
	return m, nil
}

// WriteHazardINI writes the job configuration for the hazard pre-calculation
// (phase 1) of a run.
func WriteHazardINI(w io.Writer, lm *model.LossModel, cfg *model.LossConfig) error {
	f := ini.Empty()

	general, err := f.NewSection("general")
	if err != nil {
		return fmt.Errorf("ini section: %w", err)
	}
	general.NewKey("description", lm.Description+" (hazard pre-calculation)")
	general.NewKey("calculation_mode", lm.PreparationMode)
	if lm.RandomSeed != 0 {
		general.NewKey("random_seed", fmt.Sprintf("%d", lm.RandomSeed))
	}

	exposure, err := f.NewSection("exposure")
	if err != nil {
		return fmt.Errorf("ini section: %w", err)
	}
	exposure.NewKey("exposure_file", ExposureXMLName)

	hazard, err := f.NewSection("hazard")
	if err != nil {
		return fmt.Errorf("ini section: %w", err)
	}
	hazard.NewKey("intensity_measure_types", intensityMeasureTypes(cfg.LossCategory))
	hazard.NewKey("number_of_ground_motion_fields", fmt.Sprintf("%d", lm.GroundMotionFields))
	if lm.TruncationLevel != 0 {
		hazard.NewKey("truncation_level", fmt.Sprintf("%g", lm.TruncationLevel))
	}
	if lm.MaximumDistance != 0 {
		hazard.NewKey("maximum_distance", fmt.Sprintf("%g", lm.MaximumDistance))
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write hazard ini: %w", err)
	}
	return nil
}

// WriteRiskINI writes the job configuration for the risk calculation
// (phase 2) of a run.
func WriteRiskINI(w io.Writer, lm *model.LossModel, cfg *model.LossConfig) error {
	f := ini.Empty()

	general, err := f.NewSection("general")
	if err != nil {
		return fmt.Errorf("ini section: %w", err)
	}
	general.NewKey("description", lm.Description)
	general.NewKey("calculation_mode", lm.CalculationMode)
	if lm.MasterSeed != 0 {
		general.NewKey("master_seed", fmt.Sprintf("%d", lm.MasterSeed))
	}

	vulnerability, err := f.NewSection("vulnerability")
	if err != nil {
		return fmt.Errorf("ini section: %w", err)
	}
	vulnerability.NewKey(cfg.LossCategory+"_vulnerability_file", VulnerabilityXMLName)

	risk, err := f.NewSection("risk_calculation")
	if err != nil {
		return fmt.Errorf("ini section: %w", err)
	}
	risk.NewKey("loss_category", cfg.LossCategory)
	if cfg.AggregateBy != "" {
		risk.NewKey("aggregate_by", cfg.AggregateBy)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write risk ini: %w", err)
	}
	return nil
}

// intensityMeasureTypes maps a loss category to the ground-motion intensity
// measures its vulnerability curves are defined over.
func intensityMeasureTypes(lossCategory string) string {
	switch lossCategory {
	case "occupants":
		return "PGA"
	default:
		return "PGA, SA(0.3), SA(0.6)"
	}
}
