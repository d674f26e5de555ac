package format

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/seantiz/tremor/internal/model"
)

// nrmlNamespace is the XML namespace of the engine's model files.
const nrmlNamespace = "http://openquake.org/xmlns/nrml/0.5"

// assetCSVHeader is the fixed column order of the asset CSV. The municipality
// and postalcode columns are optional on input and always written on output.
var assetCSVHeader = []string{
	"id", "lon", "lat", "taxonomy", "number",
	"structural", "contents", "day_occupants", "night_occupants",
	"municipality", "postalcode",
}

type exposureDoc struct {
	XMLName xml.Name         `xml:"nrml"`
	Xmlns   string           `xml:"xmlns,attr"`
	Model   exposureModelXML `xml:"exposureModel"`
}

type exposureModelXML struct {
	ID               string `xml:"id,attr"`
	Category         string `xml:"category,attr"`
	TaxonomySource   string `xml:"taxonomySource,attr,omitempty"`
	Description      string `xml:"description,omitempty"`
	OccupancyPeriods string `xml:"occupancyPeriods,omitempty"`
	TagNames         string `xml:"tagNames,omitempty"`
	Assets           string `xml:"assets,omitempty"`
}

// ParseExposureXML reads an exposure model file and returns an unsaved
// AssetCollection. The caller assigns the id and attaches assets separately.
func ParseExposureXML(r io.Reader) (*model.AssetCollection, error) {
	var doc exposureDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode exposure xml: %w", err)
	}
	if doc.Model.ID == "" {
		return nil, fmt.Errorf("exposure model is missing the id attribute")
	}
	if doc.Model.Category == "" {
		return nil, fmt.Errorf("exposure model is missing the category attribute")
	}

	return &model.AssetCollection{
		Name:             doc.Model.ID,
		Category:         doc.Model.Category,
		Description:      strings.TrimSpace(doc.Model.Description),
		TaxonomySource:   doc.Model.TaxonomySource,
		OccupancyPeriods: strings.Fields(doc.Model.OccupancyPeriods),
		TagNames:         strings.Fields(doc.Model.TagNames),
	}, nil
}

// WriteExposureXML writes an asset collection as an exposure model file.
// assetsCSVName is the file name recorded in the <assets> element.
func WriteExposureXML(w io.Writer, c *model.AssetCollection, assetsCSVName string) error {
	doc := exposureDoc{
		Xmlns: nrmlNamespace,
		Model: exposureModelXML{
			ID:               c.Name,
			Category:         c.Category,
			TaxonomySource:   c.TaxonomySource,
			Description:      c.Description,
			OccupancyPeriods: strings.Join(c.OccupancyPeriods, " "),
			TagNames:         strings.Join(c.TagNames, " "),
			Assets:           assetsCSVName,
		},
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode exposure xml: %w", err)
	}
	return enc.Close()
}

// AssetRow is one parsed line of the asset CSV before sites are deduplicated.
type AssetRow struct {
	Longitude       float64
	Latitude        float64
	Taxonomy        string
	BuildingCount   float64
	StructuralValue float64
	ContentsValue   float64
	OccupantsDay    float64
	OccupantsNight  float64
	Municipality    string
	PostalCode      string
}

// ParseAssetCSV reads the asset rows of an exposure upload. Column order is
// free; columns are matched by header name. The municipality and postalcode
// columns are optional.
func ParseAssetCSV(r io.Reader) ([]AssetRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"lon", "lat", "taxonomy"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("asset csv is missing the %q column", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	floatField := func(record []string, name string) (float64, error) {
		s := field(record, name)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}

	var rows []AssetRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		line++

		row := AssetRow{
			Taxonomy:     field(record, "taxonomy"),
			Municipality: field(record, "municipality"),
			PostalCode:   field(record, "postalcode"),
		}
		floats := []struct {
			name string
			dest *float64
		}{
			{"lon", &row.Longitude},
			{"lat", &row.Latitude},
			{"number", &row.BuildingCount},
			{"structural", &row.StructuralValue},
			{"contents", &row.ContentsValue},
			{"day_occupants", &row.OccupantsDay},
			{"night_occupants", &row.OccupantsNight},
		}
		for _, f := range floats {
			v, err := floatField(record, f.name)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid %s value: %w", line, f.name, err)
			}
			*f.dest = v
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("asset csv contains no rows")
	}
	return rows, nil
}

// BuildSitesAndAssets deduplicates the coordinates of the parsed rows into
// sites and returns the site and asset records for one collection. Sites keep
// first-seen order; every asset references the site at its coordinates.
func BuildSitesAndAssets(collectionID string, rows []AssetRow) ([]*model.Site, []*model.Asset) {
	type coord struct{ lon, lat float64 }
	siteIndex := make(map[coord]*model.Site)

	var sites []*model.Site
	assets := make([]*model.Asset, 0, len(rows))
	for _, row := range rows {
		key := coord{row.Longitude, row.Latitude}
		site, ok := siteIndex[key]
		if !ok {
			site = &model.Site{
				ID:           model.NewID(),
				CollectionID: collectionID,
				Longitude:    row.Longitude,
				Latitude:     row.Latitude,
			}
			siteIndex[key] = site
			sites = append(sites, site)
		}

		assets = append(assets, &model.Asset{
			ID:              model.NewID(),
			CollectionID:    collectionID,
			SiteID:          site.ID,
			Taxonomy:        row.Taxonomy,
			BuildingCount:   row.BuildingCount,
			StructuralValue: row.StructuralValue,
			ContentsValue:   row.ContentsValue,
			OccupantsDay:    row.OccupantsDay,
			OccupantsNight:  row.OccupantsNight,
			Municipality:    row.Municipality,
			PostalCode:      row.PostalCode,
		})
	}
	return sites, assets
}

// WriteAssetCSV writes assets with their resolved site coordinates in the
// engine's CSV layout.
func WriteAssetCSV(w io.Writer, sites []*model.Site, assets []*model.Asset) error {
	siteByID := make(map[string]*model.Site, len(sites))
	for _, site := range sites {
		siteByID[site.ID] = site
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(assetCSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, a := range assets {
		site, ok := siteByID[a.SiteID]
		if !ok {
			return fmt.Errorf("asset %s references unknown site %s", a.ID, a.SiteID)
		}
		record := []string{
			a.ID, f(site.Longitude), f(site.Latitude), a.Taxonomy, f(a.BuildingCount),
			f(a.StructuralValue), f(a.ContentsValue), f(a.OccupantsDay), f(a.OccupantsNight),
			a.Municipality, a.PostalCode,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
