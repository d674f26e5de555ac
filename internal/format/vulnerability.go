package format

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/seantiz/tremor/internal/model"
)

type vulnerabilityDoc struct {
	XMLName xml.Name              `xml:"nrml"`
	Xmlns   string                `xml:"xmlns,attr"`
	Model   vulnerabilityModelXML `xml:"vulnerabilityModel"`
}

type vulnerabilityModelXML struct {
	ID            string                     `xml:"id,attr"`
	AssetCategory string                     `xml:"assetCategory,attr"`
	LossCategory  string                     `xml:"lossCategory,attr"`
	Description   string                     `xml:"description,omitempty"`
	Functions     []vulnerabilityFunctionXML `xml:"vulnerabilityFunction"`
}

type vulnerabilityFunctionXML struct {
	ID           string  `xml:"id,attr"`
	Distribution string  `xml:"dist,attr"`
	IMLs         imlsXML `xml:"imls"`
	MeanLRs      string  `xml:"meanLRs"`
	CovLRs       string  `xml:"covLRs,omitempty"`
}

type imlsXML struct {
	IMT    string `xml:"imt,attr"`
	Values string `xml:",chardata"`
}

// ParseVulnerabilityXML reads a vulnerability model file and returns the
// unsaved model with its functions. Ids are assigned by the caller.
func ParseVulnerabilityXML(r io.Reader) (*model.VulnerabilityModel, []*model.VulnerabilityFunction, error) {
	var doc vulnerabilityDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode vulnerability xml: %w", err)
	}
	if doc.Model.ID == "" {
		return nil, nil, fmt.Errorf("vulnerability model is missing the id attribute")
	}
	if doc.Model.LossCategory == "" {
		return nil, nil, fmt.Errorf("vulnerability model is missing the lossCategory attribute")
	}

	m := &model.VulnerabilityModel{
		Name:          doc.Model.ID,
		Description:   strings.TrimSpace(doc.Model.Description),
		AssetCategory: doc.Model.AssetCategory,
		LossCategory:  doc.Model.LossCategory,
	}

	fns := make([]*model.VulnerabilityFunction, 0, len(doc.Model.Functions))
	for _, fx := range doc.Model.Functions {
		levels, err := parseFloats(fx.IMLs.Values)
		if err != nil {
			return nil, nil, fmt.Errorf("function %s: invalid intensity levels: %w", fx.ID, err)
		}
		ratios, err := parseFloats(fx.MeanLRs)
		if err != nil {
			return nil, nil, fmt.Errorf("function %s: invalid mean loss ratios: %w", fx.ID, err)
		}
		covs, err := parseFloats(fx.CovLRs)
		if err != nil {
			return nil, nil, fmt.Errorf("function %s: invalid coefficients of variation: %w", fx.ID, err)
		}
		if len(ratios) != len(levels) {
			return nil, nil, fmt.Errorf("function %s: %d loss ratios for %d intensity levels", fx.ID, len(ratios), len(levels))
		}
		if len(covs) > 0 && len(covs) != len(levels) {
			return nil, nil, fmt.Errorf("function %s: %d coefficients for %d intensity levels", fx.ID, len(covs), len(levels))
		}

		fns = append(fns, &model.VulnerabilityFunction{
			Taxonomy:             fx.ID,
			IntensityMeasureType: fx.IMLs.IMT,
			Distribution:         fx.Distribution,
			IntensityLevels:      levels,
			MeanLossRatios:       ratios,
			CoefficientsVar:      covs,
		})
	}

	return m, fns, nil
}

// WriteVulnerabilityXML writes a vulnerability model and its functions in the
// engine's file format.
func WriteVulnerabilityXML(w io.Writer, m *model.VulnerabilityModel, fns []*model.VulnerabilityFunction) error {
	doc := vulnerabilityDoc{
		Xmlns: nrmlNamespace,
		Model: vulnerabilityModelXML{
			ID:            m.Name,
			AssetCategory: m.AssetCategory,
			LossCategory:  m.LossCategory,
			Description:   m.Description,
		},
	}

	for _, fn := range fns {
		doc.Model.Functions = append(doc.Model.Functions, vulnerabilityFunctionXML{
			ID:           fn.Taxonomy,
			Distribution: fn.Distribution,
			IMLs: imlsXML{
				IMT:    fn.IntensityMeasureType,
				Values: formatFloats(fn.IntensityLevels),
			},
			MeanLRs: formatFloats(fn.MeanLossRatios),
			CovLRs:  formatFloats(fn.CoefficientsVar),
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode vulnerability xml: %w", err)
	}
	return enc.Close()
}

// parseFloats parses a whitespace-separated float list. Empty input yields nil.
func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, nil
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

// formatFloats renders a float list as a whitespace-separated string.
func formatFloats(v []float64) string {
	if len(v) == 0 {
		return ""
	}
	fields := make([]string, len(v))
	for i, f := range v {
		fields[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(fields, " ")
}
