package store

import (
	"context"
	"errors"

	"github.com/seantiz/tremor/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition is returned when a calculation status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// AssetCollectionSummary is an asset collection with its derived counts, as
// returned by the list endpoint.
type AssetCollectionSummary struct {
	model.AssetCollection
	AssetsCount int `json:"assets_count"`
	SitesCount  int `json:"sites_count"`
}

// VulnerabilityModelSummary is a vulnerability model with its function count.
type VulnerabilityModelSummary struct {
	model.VulnerabilityModel
	FunctionsCount int `json:"functions_count"`
}

// LossModelSummary is a loss model with its calculation count.
type LossModelSummary struct {
	model.LossModel
	CalculationsCount int `json:"calculations_count"`
}

// Stats holds aggregate counts for the stats endpoint.
type Stats struct {
	AssetCollections    int            `json:"asset_collections"`
	VulnerabilityModels int            `json:"vulnerability_models"`
	LossModels          int            `json:"loss_models"`
	Calculations        int            `json:"calculations"`
	CalcByStatus        map[string]int `json:"calculations_by_status"`
	AvgCalcDurationMS   float64        `json:"avg_calculation_duration_ms"`
}

// Store defines the persistence operations for all seismic-risk entities.
type Store interface {
	// Exposure. CreateAssetCollection persists the collection together with
	// its sites and assets in a single transaction.
	CreateAssetCollection(ctx context.Context, c *model.AssetCollection, sites []*model.Site, assets []*model.Asset) error
	ListAssetCollections(ctx context.Context) ([]*AssetCollectionSummary, error)
	GetAssetCollection(ctx context.Context, id string) (*model.AssetCollection, error)
	ListSites(ctx context.Context, collectionID string) ([]*model.Site, error)
	ListAssets(ctx context.Context, collectionID string) ([]*model.Asset, error)
	DeleteAssetCollection(ctx context.Context, id string) error

	// Vulnerability.
	CreateVulnerabilityModel(ctx context.Context, m *model.VulnerabilityModel, fns []*model.VulnerabilityFunction) error
	ListVulnerabilityModels(ctx context.Context) ([]*VulnerabilityModelSummary, error)
	GetVulnerabilityModel(ctx context.Context, id string) (*model.VulnerabilityModel, error)
	ListVulnerabilityFunctions(ctx context.Context, modelID string) ([]*model.VulnerabilityFunction, error)
	// MatchVulnerabilityModel returns the first vulnerability model referenced
	// by the loss model whose loss category matches, or ErrNotFound.
	MatchVulnerabilityModel(ctx context.Context, lossModelID, lossCategory string) (*model.VulnerabilityModel, error)
	DeleteVulnerabilityModel(ctx context.Context, id string) error

	// Loss models and configs.
	CreateLossModel(ctx context.Context, m *model.LossModel) error
	ListLossModels(ctx context.Context) ([]*LossModelSummary, error)
	GetLossModel(ctx context.Context, id string) (*model.LossModel, error)
	CreateLossConfig(ctx context.Context, c *model.LossConfig) error
	ListLossConfigs(ctx context.Context) ([]*model.LossConfig, error)
	GetLossConfig(ctx context.Context, id string) (*model.LossConfig, error)
	// DefaultLossConfig returns the oldest config, or ErrNotFound if none exist.
	DefaultLossConfig(ctx context.Context) (*model.LossConfig, error)

	// Calculations.
	CreateCalculation(ctx context.Context, c *model.LossCalculation) error
	ListCalculations(ctx context.Context) ([]*model.LossCalculation, error)
	GetCalculation(ctx context.Context, id string) (*model.LossCalculation, error)
	// UpdateCalculationStatus validates the transition against the status
	// machine and stamps started_at/finished_at as appropriate.
	UpdateCalculationStatus(ctx context.Context, id, status string) error
	SetCalculationJobs(ctx context.Context, id, hazardJobID, riskJobID string) error
	FailCalculation(ctx context.Context, id, errMsg string) error
	InsertMeanAssetLosses(ctx context.Context, calculationID string, rows []*model.MeanAssetLoss) error
	ListMeanAssetLosses(ctx context.Context, calculationID string) ([]*model.MeanAssetLoss, error)

	GetStats(ctx context.Context) (*Stats, error)
	// Ping reports whether the underlying database is reachable.
	Ping(ctx context.Context) error
	Close() error
}
