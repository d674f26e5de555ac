package model

import "time"

// Tag dimension names an asset collection may carry.
const (
	TagMunicipality = "municipality"
	TagPostalCode   = "postalcode"
)

// AssetCollection is an exposure model: the set of assets at risk, grouped
// with the metadata of the source exposure file. It owns its Sites and Assets.
type AssetCollection struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	Description      string    `json:"description,omitempty"`
	TaxonomySource   string    `json:"taxonomy_source,omitempty"`
	OccupancyPeriods []string  `json:"occupancy_periods,omitempty"`
	TagNames         []string  `json:"tag_names,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Site is a geographic point within one collection. Multiple assets at the
// same coordinates share a single site.
type Site struct {
	ID           string  `json:"id"`
	CollectionID string  `json:"collection_id"`
	Longitude    float64 `json:"longitude"`
	Latitude     float64 `json:"latitude"`
}

// Asset is a single exposed item at a site.
type Asset struct {
	ID              string  `json:"id"`
	CollectionID    string  `json:"collection_id"`
	SiteID          string  `json:"site_id"`
	Taxonomy        string  `json:"taxonomy"`
	BuildingCount   float64 `json:"building_count"`
	StructuralValue float64 `json:"structural_value"`
	ContentsValue   float64 `json:"contents_value"`
	OccupantsDay    float64 `json:"occupants_day"`
	OccupantsNight  float64 `json:"occupants_night"`
	Municipality    string  `json:"municipality,omitempty"`
	PostalCode      string  `json:"postal_code,omitempty"`
}
