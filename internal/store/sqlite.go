package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/tremor/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS asset_collections (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    category          TEXT NOT NULL,
    description       TEXT,
    taxonomy_source   TEXT,
    occupancy_periods TEXT,
    tag_names         TEXT,
    created_at        DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS sites (
    id            TEXT PRIMARY KEY,
    collection_id TEXT NOT NULL REFERENCES asset_collections(id),
    longitude     REAL NOT NULL,
    latitude      REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS assets (
    id               TEXT PRIMARY KEY,
    collection_id    TEXT NOT NULL REFERENCES asset_collections(id),
    site_id          TEXT NOT NULL REFERENCES sites(id),
    taxonomy         TEXT NOT NULL,
    building_count   REAL NOT NULL,
    structural_value REAL NOT NULL,
    contents_value   REAL NOT NULL,
    occupants_day    REAL NOT NULL,
    occupants_night  REAL NOT NULL,
    municipality     TEXT,
    postal_code      TEXT
);
CREATE TABLE IF NOT EXISTS vulnerability_models (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    description    TEXT,
    asset_category TEXT NOT NULL,
    loss_category  TEXT NOT NULL,
    created_at     DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS vulnerability_functions (
    id                        TEXT PRIMARY KEY,
    model_id                  TEXT NOT NULL REFERENCES vulnerability_models(id),
    taxonomy                  TEXT NOT NULL,
    intensity_measure_type    TEXT NOT NULL,
    distribution              TEXT NOT NULL,
    intensity_levels          TEXT NOT NULL,
    mean_loss_ratios          TEXT NOT NULL,
    coefficients_of_variation TEXT
);
CREATE TABLE IF NOT EXISTS loss_models (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL,
    description          TEXT,
    asset_collection_id  TEXT NOT NULL REFERENCES asset_collections(id),
    preparation_mode     TEXT NOT NULL,
    calculation_mode     TEXT NOT NULL,
    ground_motion_fields INTEGER NOT NULL,
    maximum_distance     REAL,
    truncation_level     REAL,
    random_seed          INTEGER,
    master_seed          INTEGER,
    created_at           DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS loss_model_vulnerability (
    loss_model_id          TEXT NOT NULL REFERENCES loss_models(id),
    vulnerability_model_id TEXT NOT NULL REFERENCES vulnerability_models(id),
    PRIMARY KEY (loss_model_id, vulnerability_model_id)
);
CREATE TABLE IF NOT EXISTS loss_configs (
    id            TEXT PRIMARY KEY,
    loss_model_id TEXT NOT NULL REFERENCES loss_models(id),
    loss_category TEXT NOT NULL,
    aggregate_by  TEXT,
    created_at    DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS loss_calculations (
    id            TEXT PRIMARY KEY,
    loss_model_id TEXT NOT NULL REFERENCES loss_models(id),
    loss_category TEXT NOT NULL,
    aggregate_by  TEXT,
    shakemap_ref  TEXT NOT NULL,
    status        TEXT NOT NULL,
    hazard_job_id TEXT,
    risk_job_id   TEXT,
    error         TEXT,
    created_at    DATETIME NOT NULL,
    started_at    DATETIME,
    finished_at   DATETIME
);
CREATE TABLE IF NOT EXISTS mean_asset_losses (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    calculation_id TEXT NOT NULL REFERENCES loss_calculations(id),
    asset_id       TEXT NOT NULL REFERENCES assets(id),
    loss_value     REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_collection ON assets(collection_id);
CREATE INDEX IF NOT EXISTS idx_sites_collection ON sites(collection_id);
CREATE INDEX IF NOT EXISTS idx_functions_model ON vulnerability_functions(model_id);
CREATE INDEX IF NOT EXISTS idx_losses_calculation ON mean_asset_losses(calculation_id);
`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and creates the schema.
// The pragmas ride on the DSN so every connection the pool opens gets them,
// not just the one that happened to run an Exec.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database is private to the connection that opened it, so
	// the pool must never grow past one connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping reports whether the underlying database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DropAll removes every table. Used by the operator CLI only.
func (s *SQLiteStore) DropAll(ctx context.Context) error {
	tables := []string{
		"mean_asset_losses", "loss_calculations", "loss_configs",
		"loss_model_vulnerability", "loss_models", "vulnerability_functions",
		"vulnerability_models", "assets", "sites", "asset_collections",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}

// encodeJSON marshals a slice column value; empty slices are stored as NULL.
func encodeJSON[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// decodeJSON unmarshals a nullable slice column value.
func decodeJSON[T any](v sql.NullString) ([]T, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) CreateAssetCollection(ctx context.Context, c *model.AssetCollection, sites []*model.Site, assets []*model.Asset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	occupancy, err := encodeJSON(c.OccupancyPeriods)
	if err != nil {
		return fmt.Errorf("encode occupancy periods: %w", err)
	}
	tags, err := encodeJSON(c.TagNames)
	if err != nil {
		return fmt.Errorf("encode tag names: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO asset_collections (
			id, name, category, description, taxonomy_source,
			occupancy_periods, tag_names, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Category, c.Description, c.TaxonomySource,
		occupancy, tags, c.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert asset collection: %w", err)
	}

	siteStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO sites (id, collection_id, longitude, latitude) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare site insert: %w", err)
	}
	defer siteStmt.Close()
	for _, site := range sites {
		if _, err := siteStmt.ExecContext(ctx, site.ID, site.CollectionID, site.Longitude, site.Latitude); err != nil {
			return fmt.Errorf("insert site: %w", err)
		}
	}

	assetStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assets (
			id, collection_id, site_id, taxonomy, building_count,
			structural_value, contents_value, occupants_day, occupants_night,
			municipality, postal_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare asset insert: %w", err)
	}
	defer assetStmt.Close()
	for _, a := range assets {
		if _, err := assetStmt.ExecContext(ctx,
			a.ID, a.CollectionID, a.SiteID, a.Taxonomy, a.BuildingCount,
			a.StructuralValue, a.ContentsValue, a.OccupantsDay, a.OccupantsNight,
			a.Municipality, a.PostalCode,
		); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit asset collection: %w", err)
	}
	return nil
}

func scanAssetCollection(scan func(...any) error) (*model.AssetCollection, error) {
	c := &model.AssetCollection{}
	var description, taxonomySource sql.NullString
	var occupancy, tags sql.NullString
	if err := scan(&c.ID, &c.Name, &c.Category, &description, &taxonomySource, &occupancy, &tags, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Description = description.String
	c.TaxonomySource = taxonomySource.String
	var err error
	if c.OccupancyPeriods, err = decodeJSON[string](occupancy); err != nil {
		return nil, fmt.Errorf("decode occupancy periods: %w", err)
	}
	if c.TagNames, err = decodeJSON[string](tags); err != nil {
		return nil, fmt.Errorf("decode tag names: %w", err)
	}
	return c, nil
}

const assetCollectionCols = "id, name, category, description, taxonomy_source, occupancy_periods, tag_names, created_at"

func (s *SQLiteStore) ListAssetCollections(ctx context.Context) ([]*AssetCollectionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.category, c.description, c.taxonomy_source,
			c.occupancy_periods, c.tag_names, c.created_at,
			COUNT(DISTINCT a.id), COUNT(DISTINCT st.id)
		FROM asset_collections c
		LEFT JOIN assets a ON a.collection_id = c.id
		LEFT JOIN sites st ON st.collection_id = c.id
		GROUP BY c.id ORDER BY c.id`)
	if err != nil {
		return nil, fmt.Errorf("list asset collections: %w", err)
	}
	defer rows.Close()

	var out []*AssetCollectionSummary
	for rows.Next() {
		sum := &AssetCollectionSummary{}
		var description, taxonomySource, occupancy, tags sql.NullString
		if err := rows.Scan(
			&sum.ID, &sum.Name, &sum.Category, &description, &taxonomySource,
			&occupancy, &tags, &sum.CreatedAt,
			&sum.AssetsCount, &sum.SitesCount,
		); err != nil {
			return nil, fmt.Errorf("scan asset collection: %w", err)
		}
		sum.Description = description.String
		sum.TaxonomySource = taxonomySource.String
		if sum.OccupancyPeriods, err = decodeJSON[string](occupancy); err != nil {
			return nil, fmt.Errorf("decode occupancy periods: %w", err)
		}
		if sum.TagNames, err = decodeJSON[string](tags); err != nil {
			return nil, fmt.Errorf("decode tag names: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset collections: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetAssetCollection(ctx context.Context, id string) (*model.AssetCollection, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+assetCollectionCols+" FROM asset_collections WHERE id = ?", id)
	c, err := scanAssetCollection(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset collection: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListSites(ctx context.Context, collectionID string) ([]*model.Site, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, collection_id, longitude, latitude FROM sites WHERE collection_id = ? ORDER BY id",
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []*model.Site
	for rows.Next() {
		site := &model.Site{}
		if err := rows.Scan(&site.ID, &site.CollectionID, &site.Longitude, &site.Latitude); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListAssets(ctx context.Context, collectionID string) ([]*model.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection_id, site_id, taxonomy, building_count,
			structural_value, contents_value, occupants_day, occupants_night,
			municipality, postal_code
		FROM assets WHERE collection_id = ? ORDER BY id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []*model.Asset
	for rows.Next() {
		a := &model.Asset{}
		var municipality, postalCode sql.NullString
		if err := rows.Scan(
			&a.ID, &a.CollectionID, &a.SiteID, &a.Taxonomy, &a.BuildingCount,
			&a.StructuralValue, &a.ContentsValue, &a.OccupantsDay, &a.OccupantsNight,
			&municipality, &postalCode,
		); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		a.Municipality = municipality.String
		a.PostalCode = postalCode.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteAssetCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE collection_id = ?", id); err != nil {
		return fmt.Errorf("delete assets: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sites WHERE collection_id = ?", id); err != nil {
		return fmt.Errorf("delete sites: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM asset_collections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete asset collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateVulnerabilityModel(ctx context.Context, m *model.VulnerabilityModel, fns []*model.VulnerabilityFunction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vulnerability_models (id, name, description, asset_category, loss_category, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Description, m.AssetCategory, m.LossCategory, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert vulnerability model: %w", err)
	}

	for _, fn := range fns {
		levels, err := encodeJSON(fn.IntensityLevels)
		if err != nil {
			return fmt.Errorf("encode intensity levels: %w", err)
		}
		ratios, err := encodeJSON(fn.MeanLossRatios)
		if err != nil {
			return fmt.Errorf("encode loss ratios: %w", err)
		}
		covs, err := encodeJSON(fn.CoefficientsVar)
		if err != nil {
			return fmt.Errorf("encode coefficients: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vulnerability_functions (
				id, model_id, taxonomy, intensity_measure_type, distribution,
				intensity_levels, mean_loss_ratios, coefficients_of_variation
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fn.ID, fn.ModelID, fn.Taxonomy, fn.IntensityMeasureType, fn.Distribution,
			levels, ratios, covs,
		); err != nil {
			return fmt.Errorf("insert vulnerability function: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vulnerability model: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListVulnerabilityModels(ctx context.Context) ([]*VulnerabilityModelSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.name, m.description, m.asset_category, m.loss_category,
			m.created_at, COUNT(f.id)
		FROM vulnerability_models m
		LEFT JOIN vulnerability_functions f ON f.model_id = m.id
		GROUP BY m.id ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("list vulnerability models: %w", err)
	}
	defer rows.Close()

	var out []*VulnerabilityModelSummary
	for rows.Next() {
		sum := &VulnerabilityModelSummary{}
		var description sql.NullString
		if err := rows.Scan(
			&sum.ID, &sum.Name, &description, &sum.AssetCategory,
			&sum.LossCategory, &sum.CreatedAt, &sum.FunctionsCount,
		); err != nil {
			return nil, fmt.Errorf("scan vulnerability model: %w", err)
		}
		sum.Description = description.String
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vulnerability models: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetVulnerabilityModel(ctx context.Context, id string) (*model.VulnerabilityModel, error) {
	m := &model.VulnerabilityModel{}
	var description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, asset_category, loss_category, created_at
		FROM vulnerability_models WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &description, &m.AssetCategory, &m.LossCategory, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vulnerability model: %w", err)
	}
	m.Description = description.String
	return m, nil
}

func (s *SQLiteStore) ListVulnerabilityFunctions(ctx context.Context, modelID string) ([]*model.VulnerabilityFunction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model_id, taxonomy, intensity_measure_type, distribution,
			intensity_levels, mean_loss_ratios, coefficients_of_variation
		FROM vulnerability_functions WHERE model_id = ? ORDER BY id`, modelID)
	if err != nil {
		return nil, fmt.Errorf("list vulnerability functions: %w", err)
	}
	defer rows.Close()

	var out []*model.VulnerabilityFunction
	for rows.Next() {
		fn := &model.VulnerabilityFunction{}
		var levels, ratios, covs sql.NullString
		if err := rows.Scan(
			&fn.ID, &fn.ModelID, &fn.Taxonomy, &fn.IntensityMeasureType,
			&fn.Distribution, &levels, &ratios, &covs,
		); err != nil {
			return nil, fmt.Errorf("scan vulnerability function: %w", err)
		}
		if fn.IntensityLevels, err = decodeJSON[float64](levels); err != nil {
			return nil, fmt.Errorf("decode intensity levels: %w", err)
		}
		if fn.MeanLossRatios, err = decodeJSON[float64](ratios); err != nil {
			return nil, fmt.Errorf("decode loss ratios: %w", err)
		}
		if fn.CoefficientsVar, err = decodeJSON[float64](covs); err != nil {
			return nil, fmt.Errorf("decode coefficients: %w", err)
		}
		out = append(out, fn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vulnerability functions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MatchVulnerabilityModel(ctx context.Context, lossModelID, lossCategory string) (*model.VulnerabilityModel, error) {
	m := &model.VulnerabilityModel{}
	var description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT m.id, m.name, m.description, m.asset_category, m.loss_category, m.created_at
		FROM vulnerability_models m
		JOIN loss_model_vulnerability lv ON lv.vulnerability_model_id = m.id
		WHERE lv.loss_model_id = ? AND m.loss_category = ?
		ORDER BY m.id LIMIT 1`, lossModelID, lossCategory,
	).Scan(&m.ID, &m.Name, &description, &m.AssetCategory, &m.LossCategory, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("match vulnerability model: %w", err)
	}
	m.Description = description.String
	return m, nil
}

func (s *SQLiteStore) DeleteVulnerabilityModel(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vulnerability_functions WHERE model_id = ?", id); err != nil {
		return fmt.Errorf("delete vulnerability functions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM loss_model_vulnerability WHERE vulnerability_model_id = ?", id); err != nil {
		return fmt.Errorf("delete loss model links: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM vulnerability_models WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete vulnerability model: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) CreateLossModel(ctx context.Context, m *model.LossModel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO loss_models (
			id, name, description, asset_collection_id, preparation_mode,
			calculation_mode, ground_motion_fields, maximum_distance,
			truncation_level, random_seed, master_seed, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Description, m.AssetCollectionID, m.PreparationMode,
		m.CalculationMode, m.GroundMotionFields, m.MaximumDistance,
		m.TruncationLevel, m.RandomSeed, m.MasterSeed, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert loss model: %w", err)
	}

	for _, vmID := range m.VulnerabilityModelIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO loss_model_vulnerability (loss_model_id, vulnerability_model_id) VALUES (?, ?)",
			m.ID, vmID,
		); err != nil {
			return fmt.Errorf("link vulnerability model: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit loss model: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListLossModels(ctx context.Context) ([]*LossModelSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.name, m.description, m.asset_collection_id,
			m.preparation_mode, m.calculation_mode, m.ground_motion_fields,
			m.maximum_distance, m.truncation_level, m.random_seed, m.master_seed,
			m.created_at, COUNT(c.id)
		FROM loss_models m
		LEFT JOIN loss_calculations c ON c.loss_model_id = m.id
		GROUP BY m.id ORDER BY m.id`)
	if err != nil {
		return nil, fmt.Errorf("list loss models: %w", err)
	}
	defer rows.Close()

	var out []*LossModelSummary
	for rows.Next() {
		sum := &LossModelSummary{}
		var description sql.NullString
		if err := rows.Scan(
			&sum.ID, &sum.Name, &description, &sum.AssetCollectionID,
			&sum.PreparationMode, &sum.CalculationMode, &sum.GroundMotionFields,
			&sum.MaximumDistance, &sum.TruncationLevel, &sum.RandomSeed,
			&sum.MasterSeed, &sum.CreatedAt, &sum.CalculationsCount,
		); err != nil {
			return nil, fmt.Errorf("scan loss model: %w", err)
		}
		sum.Description = description.String
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loss models: %w", err)
	}

	for _, sum := range out {
		ids, err := s.vulnerabilityModelIDs(ctx, sum.ID)
		if err != nil {
			return nil, err
		}
		sum.VulnerabilityModelIDs = ids
	}
	return out, nil
}

// vulnerabilityModelIDs returns the sorted vulnerability model ids linked to a
// loss model.
func (s *SQLiteStore) vulnerabilityModelIDs(ctx context.Context, lossModelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vulnerability_model_id FROM loss_model_vulnerability
		WHERE loss_model_id = ? ORDER BY vulnerability_model_id`, lossModelID)
	if err != nil {
		return nil, fmt.Errorf("list vulnerability links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan vulnerability link: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vulnerability links: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) GetLossModel(ctx context.Context, id string) (*model.LossModel, error) {
	m := &model.LossModel{}
	var description sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, asset_collection_id, preparation_mode,
			calculation_mode, ground_motion_fields, maximum_distance,
			truncation_level, random_seed, master_seed, created_at
		FROM loss_models WHERE id = ?`, id,
	).Scan(
		&m.ID, &m.Name, &description, &m.AssetCollectionID, &m.PreparationMode,
		&m.CalculationMode, &m.GroundMotionFields, &m.MaximumDistance,
		&m.TruncationLevel, &m.RandomSeed, &m.MasterSeed, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loss model: %w", err)
	}
	m.Description = description.String
	if m.VulnerabilityModelIDs, err = s.vulnerabilityModelIDs(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) CreateLossConfig(ctx context.Context, c *model.LossConfig) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loss_configs (id, loss_model_id, loss_category, aggregate_by, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.LossModelID, c.LossCategory, c.AggregateBy, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert loss config: %w", err)
	}
	return nil
}

func scanLossConfig(scan func(...any) error) (*model.LossConfig, error) {
	c := &model.LossConfig{}
	var aggregateBy sql.NullString
	if err := scan(&c.ID, &c.LossModelID, &c.LossCategory, &aggregateBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.AggregateBy = aggregateBy.String
	return c, nil
}

func (s *SQLiteStore) ListLossConfigs(ctx context.Context) ([]*model.LossConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, loss_model_id, loss_category, aggregate_by, created_at FROM loss_configs ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list loss configs: %w", err)
	}
	defer rows.Close()

	var out []*model.LossConfig
	for rows.Next() {
		c, err := scanLossConfig(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan loss config: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loss configs: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetLossConfig(ctx context.Context, id string) (*model.LossConfig, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, loss_model_id, loss_category, aggregate_by, created_at FROM loss_configs WHERE id = ?", id)
	c, err := scanLossConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loss config: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) DefaultLossConfig(ctx context.Context) (*model.LossConfig, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, loss_model_id, loss_category, aggregate_by, created_at FROM loss_configs ORDER BY id LIMIT 1")
	c, err := scanLossConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default loss config: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) CreateCalculation(ctx context.Context, c *model.LossCalculation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loss_calculations (
			id, loss_model_id, loss_category, aggregate_by, shakemap_ref,
			status, hazard_job_id, risk_job_id, error, created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.LossModelID, c.LossCategory, c.AggregateBy, c.ShakemapRef,
		c.Status, c.HazardJobID, c.RiskJobID, c.Error, c.CreatedAt, c.StartedAt, c.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert calculation: %w", err)
	}
	return nil
}

func scanCalculation(scan func(...any) error) (*model.LossCalculation, error) {
	c := &model.LossCalculation{}
	var aggregateBy, hazardJob, riskJob, errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime
	if err := scan(
		&c.ID, &c.LossModelID, &c.LossCategory, &aggregateBy, &c.ShakemapRef,
		&c.Status, &hazardJob, &riskJob, &errMsg, &c.CreatedAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	c.AggregateBy = aggregateBy.String
	c.HazardJobID = hazardJob.String
	c.RiskJobID = riskJob.String
	c.Error = errMsg.String
	if startedAt.Valid {
		t := startedAt.Time
		c.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		c.FinishedAt = &t
	}
	return c, nil
}

const calculationCols = `id, loss_model_id, loss_category, aggregate_by, shakemap_ref,
	status, hazard_job_id, risk_job_id, error, created_at, started_at, finished_at`

func (s *SQLiteStore) ListCalculations(ctx context.Context) ([]*model.LossCalculation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+calculationCols+" FROM loss_calculations ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list calculations: %w", err)
	}
	defer rows.Close()

	var out []*model.LossCalculation
	for rows.Next() {
		c, err := scanCalculation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan calculation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calculations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetCalculation(ctx context.Context, id string) (*model.LossCalculation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+calculationCols+" FROM loss_calculations WHERE id = ?", id)
	c, err := scanCalculation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get calculation: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateCalculationStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM loss_calculations WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read calculation status: %w", err)
	}

	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	now := time.Now().UTC()
	switch {
	case current == model.StatusPending:
		// Leaving pending marks the actual start of the run.
		_, err = tx.ExecContext(ctx,
			"UPDATE loss_calculations SET status = ?, started_at = ? WHERE id = ?",
			status, now, id)
	case model.TerminalStatus(status):
		_, err = tx.ExecContext(ctx,
			"UPDATE loss_calculations SET status = ?, finished_at = ? WHERE id = ?",
			status, now, id)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE loss_calculations SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update calculation status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetCalculationJobs(ctx context.Context, id, hazardJobID, riskJobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE loss_calculations SET
			hazard_job_id = COALESCE(NULLIF(?, ''), hazard_job_id),
			risk_job_id = COALESCE(NULLIF(?, ''), risk_job_id)
		WHERE id = ?`,
		hazardJobID, riskJobID, id)
	if err != nil {
		return fmt.Errorf("set calculation jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FailCalculation(ctx context.Context, id, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM loss_calculations WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read calculation status: %w", err)
	}

	if !model.ValidTransition(current, model.StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, model.StatusFailed)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE loss_calculations SET status = ?, error = ?, finished_at = ? WHERE id = ?",
		model.StatusFailed, errMsg, time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("fail calculation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failure: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertMeanAssetLosses(ctx context.Context, calculationID string, rows []*model.MeanAssetLoss) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO mean_asset_losses (calculation_id, asset_id, loss_value) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare loss insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, calculationID, row.AssetID, row.LossValue); err != nil {
			return fmt.Errorf("insert mean asset loss: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mean asset losses: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMeanAssetLosses(ctx context.Context, calculationID string) ([]*model.MeanAssetLoss, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, calculation_id, asset_id, loss_value
		FROM mean_asset_losses WHERE calculation_id = ? ORDER BY id`, calculationID)
	if err != nil {
		return nil, fmt.Errorf("list mean asset losses: %w", err)
	}
	defer rows.Close()

	var out []*model.MeanAssetLoss
	for rows.Next() {
		row := &model.MeanAssetLoss{}
		if err := rows.Scan(&row.ID, &row.CalculationID, &row.AssetID, &row.LossValue); err != nil {
			return nil, fmt.Errorf("scan mean asset loss: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mean asset losses: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &Stats{CalcByStatus: make(map[string]int)}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM asset_collections", &stats.AssetCollections},
		{"SELECT COUNT(*) FROM vulnerability_models", &stats.VulnerabilityModels},
		{"SELECT COUNT(*) FROM loss_models", &stats.LossModels},
		{"SELECT COUNT(*) FROM loss_calculations", &stats.Calculations},
	}
	for _, c := range counts {
		if err := tx.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count entities: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM loss_calculations GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count calculations by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CalcByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	var avg sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT AVG((julianday(finished_at) - julianday(started_at)) * 86400000.0)
		FROM loss_calculations
		WHERE started_at IS NOT NULL AND finished_at IS NOT NULL`,
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("average calculation duration: %w", err)
	}
	if avg.Valid {
		stats.AvgCalcDurationMS = avg.Float64
	}

	return stats, nil
}
