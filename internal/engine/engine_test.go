package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/tremor/internal/calc"
	"github.com/seantiz/tremor/internal/engine"
	"github.com/seantiz/tremor/internal/format"
	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

// stubRemote is a configurable mock of the remote calculation engine. Job ids
// are assigned in submission order: the hazard job is "job-1", the risk job
// "job-2".
type stubRemote struct {
	mu          sync.Mutex
	runs        []calc.RunSpec
	failRunN    int    // fail the Nth Run call (1-based), 0 = never
	hazardFinal string // status job-1 settles on, default complete
	riskFinal   string // status job-2 settles on, default complete
	neverDone   bool   // Status always reports executing
	losses      []calc.AssetLoss
	extractErr  error
}

func (s *stubRemote) Run(_ context.Context, spec calc.RunSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, spec)
	if s.failRunN != 0 && len(s.runs) == s.failRunN {
		return "", errors.New("engine rejected job")
	}
	return fmt.Sprintf("job-%d", len(s.runs)), nil
}

func (s *stubRemote) Status(_ context.Context, jobID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.neverDone {
		return calc.JobExecuting, nil
	}
	final := s.hazardFinal
	if jobID == "job-2" {
		final = s.riskFinal
	}
	if final == "" {
		final = calc.JobComplete
	}
	return final, nil
}

func (s *stubRemote) Extract(_ context.Context, _, _ string) ([]calc.AssetLoss, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.extractErr != nil {
		return nil, s.extractErr
	}
	return s.losses, nil
}

func (s *stubRemote) runSpecs() []calc.RunSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]calc.RunSpec(nil), s.runs...)
}

func newTestEngine(t *testing.T, remote calc.Engine) (*engine.Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(s, remote, logger, 5*time.Millisecond, 5*time.Second)
	t.Cleanup(eng.Wait)
	return eng, s
}

// seedRun populates the store with a complete run configuration: an asset
// collection with two assets at one site, a structural vulnerability model
// with one curve, a loss model linking the two, and a loss config.
func seedRun(t *testing.T, s store.Store) *model.LossConfig {
	t.Helper()
	ctx := context.Background()

	collection := &model.AssetCollection{
		ID:        model.NewID(),
		Name:      "groningen exposure",
		Category:  "buildings",
		CreatedAt: time.Now().UTC(),
	}
	site := &model.Site{
		ID:           model.NewID(),
		CollectionID: collection.ID,
		Longitude:    6.57,
		Latitude:     53.22,
	}
	assets := []*model.Asset{
		{ID: model.NewID(), CollectionID: collection.ID, SiteID: site.ID, Taxonomy: "CR_LFM", BuildingCount: 1, StructuralValue: 250000},
		{ID: model.NewID(), CollectionID: collection.ID, SiteID: site.ID, Taxonomy: "MUR_LWAL", BuildingCount: 2, StructuralValue: 180000},
	}
	if err := s.CreateAssetCollection(ctx, collection, []*model.Site{site}, assets); err != nil {
		t.Fatalf("CreateAssetCollection: %v", err)
	}

	vm := &model.VulnerabilityModel{
		ID:            model.NewID(),
		Name:          "structural curves",
		AssetCategory: "buildings",
		LossCategory:  "structural",
		CreatedAt:     time.Now().UTC(),
	}
	fns := []*model.VulnerabilityFunction{{
		ID:                   model.NewID(),
		ModelID:              vm.ID,
		Taxonomy:             "CR_LFM",
		IntensityMeasureType: "PGA",
		Distribution:         "LN",
		IntensityLevels:      []float64{0.05, 0.1, 0.2},
		MeanLossRatios:       []float64{0.01, 0.1, 0.4},
	}}
	if err := s.CreateVulnerabilityModel(ctx, vm, fns); err != nil {
		t.Fatalf("CreateVulnerabilityModel: %v", err)
	}

	lm := &model.LossModel{
		ID:                    model.NewID(),
		Name:                  "groningen scenario",
		AssetCollectionID:     collection.ID,
		VulnerabilityModelIDs: []string{vm.ID},
		PreparationMode:       format.PreparationMode,
		CalculationMode:       format.RiskMode,
		GroundMotionFields:    100,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.CreateLossModel(ctx, lm); err != nil {
		t.Fatalf("CreateLossModel: %v", err)
	}

	cfg := &model.LossConfig{
		ID:           model.NewID(),
		LossModelID:  lm.ID,
		LossCategory: "structural",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateLossConfig(ctx, cfg); err != nil {
		t.Fatalf("CreateLossConfig: %v", err)
	}
	return cfg
}

// waitForStatus polls the store until the calculation reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.LossCalculation {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := s.GetCalculation(context.Background(), id)
		if err != nil {
			t.Fatalf("GetCalculation: %v", err)
		}
		if c.Status == expected {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("calculation %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestSubmitHappyPath(t *testing.T) {
	remote := &stubRemote{losses: []calc.AssetLoss{
		{AssetID: "a1", LossValue: 1200.5},
		{AssetID: "a2", LossValue: 340.25},
	}}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", []byte("zip-bytes"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c.Status != model.StatusPending {
		t.Errorf("initial status = %q, want pending", c.Status)
	}

	done := waitForStatus(t, s, c.ID, model.StatusComplete, 5*time.Second)
	if done.HazardJobID != "job-1" {
		t.Errorf("hazard job id = %q, want job-1", done.HazardJobID)
	}
	if done.RiskJobID != "job-2" {
		t.Errorf("risk job id = %q, want job-2", done.RiskJobID)
	}
	if done.StartedAt == nil {
		t.Error("started_at is nil")
	}
	if done.FinishedAt == nil {
		t.Error("finished_at is nil")
	}

	rows, err := s.ListMeanAssetLosses(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("ListMeanAssetLosses: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d loss rows, want 2", len(rows))
	}
	if rows[0].AssetID != "a1" || rows[0].LossValue != 1200.5 {
		t.Errorf("row[0] = %+v, want a1/1200.5", rows[0])
	}
}

func TestSubmitSendsExpectedFiles(t *testing.T) {
	remote := &stubRemote{}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", []byte("zip-bytes"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, s, c.ID, model.StatusComplete, 5*time.Second)

	runs := remote.runSpecs()
	if len(runs) != 2 {
		t.Fatalf("got %d run submissions, want 2", len(runs))
	}

	hazard := runs[0]
	if hazard.HazardJobID != "" {
		t.Errorf("hazard submission has HazardJobID %q, want empty", hazard.HazardJobID)
	}
	wantNames := []string{format.HazardININame, format.ExposureXMLName, format.ExposureCSVName, format.VulnerabilityXMLName}
	if len(hazard.Files) != len(wantNames) {
		t.Fatalf("hazard submission has %d files, want %d", len(hazard.Files), len(wantNames))
	}
	for i, name := range wantNames {
		if hazard.Files[i].Name != name {
			t.Errorf("hazard file[%d] = %q, want %q", i, hazard.Files[i].Name, name)
		}
		if len(hazard.Files[i].Content) == 0 {
			t.Errorf("hazard file %q is empty", name)
		}
	}

	risk := runs[1]
	if risk.HazardJobID != "job-1" {
		t.Errorf("risk submission HazardJobID = %q, want job-1", risk.HazardJobID)
	}
	if len(risk.Files) != 2 {
		t.Fatalf("risk submission has %d files, want 2", len(risk.Files))
	}
	if risk.Files[0].Name != format.RiskININame {
		t.Errorf("risk file[0] = %q, want %q", risk.Files[0].Name, format.RiskININame)
	}
	if risk.Files[1].Name != format.ShakemapName || string(risk.Files[1].Content) != "zip-bytes" {
		t.Errorf("risk file[1] = %q/%q, want shakemap payload", risk.Files[1].Name, risk.Files[1].Content)
	}
}

func TestSubmitHazardSubmissionError(t *testing.T) {
	remote := &stubRemote{failRunN: 1}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, c.ID, model.StatusFailed, 5*time.Second)
	if !strings.Contains(failed.Error, "hazard") {
		t.Errorf("error = %q, want mention of hazard submission", failed.Error)
	}
	if failed.FinishedAt == nil {
		t.Error("finished_at should be set on failure")
	}
}

func TestSubmitHazardJobFails(t *testing.T) {
	remote := &stubRemote{hazardFinal: calc.JobFailed}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, c.ID, model.StatusFailed, 5*time.Second)
	if !strings.Contains(failed.Error, "job-1") {
		t.Errorf("error = %q, want mention of hazard job id", failed.Error)
	}

	// The risk phase must never start after a failed hazard job.
	if runs := remote.runSpecs(); len(runs) != 1 {
		t.Errorf("got %d run submissions, want 1", len(runs))
	}
}

func TestSubmitRiskJobFails(t *testing.T) {
	remote := &stubRemote{riskFinal: calc.JobFailed, losses: []calc.AssetLoss{{AssetID: "a1", LossValue: 1}}}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, c.ID, model.StatusFailed, 5*time.Second)
	if !strings.Contains(failed.Error, "job-2") {
		t.Errorf("error = %q, want mention of risk job id", failed.Error)
	}

	// Nothing gets imported after a failed risk job.
	rows, err := s.ListMeanAssetLosses(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("ListMeanAssetLosses: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d imported rows after failure, want 0", len(rows))
	}
}

func TestSubmitExtractError(t *testing.T) {
	remote := &stubRemote{extractErr: errors.New("extract exploded")}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, c.ID, model.StatusFailed, 5*time.Second)
	if !strings.Contains(failed.Error, "extract") {
		t.Errorf("error = %q, want extract failure", failed.Error)
	}
}

func TestSubmitPollTimeout(t *testing.T) {
	remote := &stubRemote{neverDone: true}
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(s, remote, logger, 5*time.Millisecond, 50*time.Millisecond)
	t.Cleanup(eng.Wait)
	cfg := seedRun(t, s)

	c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, c.ID, model.StatusFailed, 5*time.Second)
	if !strings.Contains(failed.Error, "timed out") {
		t.Errorf("error = %q, want polling timeout", failed.Error)
	}
}

func TestSubmitMissingVulnerabilityMatch(t *testing.T) {
	remote := &stubRemote{}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	// No vulnerability model covers the contents category, so submission
	// fails synchronously and no calculation record is created.
	bad := &model.LossConfig{
		ID:           model.NewID(),
		LossModelID:  cfg.LossModelID,
		LossCategory: "contents",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateLossConfig(context.Background(), bad); err != nil {
		t.Fatalf("CreateLossConfig: %v", err)
	}

	if _, err := eng.Submit(context.Background(), bad, "shakemap.zip", nil); err == nil {
		t.Fatal("expected error for unmatched loss category")
	}

	calcs, err := s.ListCalculations(context.Background())
	if err != nil {
		t.Fatalf("ListCalculations: %v", err)
	}
	if len(calcs) != 0 {
		t.Errorf("got %d calculations, want 0", len(calcs))
	}
}

func TestSubmitUnknownLossModel(t *testing.T) {
	remote := &stubRemote{}
	eng, _ := newTestEngine(t, remote)

	cfg := &model.LossConfig{
		ID:           model.NewID(),
		LossModelID:  "nonexistent",
		LossCategory: "structural",
	}
	if _, err := eng.Submit(context.Background(), cfg, "shakemap.zip", nil); err == nil {
		t.Fatal("expected error for unknown loss model")
	}
}

// gatedRemote holds the first Run call until the gate opens, so a test can
// attach a progress subscriber before any phase starts.
type gatedRemote struct {
	stubRemote
	gate chan struct{}
}

func (g *gatedRemote) Run(ctx context.Context, spec calc.RunSpec) (string, error) {
	<-g.gate
	return g.stubRemote.Run(ctx, spec)
}

func TestSubmitPublishesProgress(t *testing.T) {
	remote := &gatedRemote{
		stubRemote: stubRemote{losses: []calc.AssetLoss{{AssetID: "a1", LossValue: 1}}},
		gate:       make(chan struct{}),
	}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch, unsub := eng.Broker().Subscribe(c.ID)
	defer unsub()
	close(remote.gate)

	var events []engine.Event
	for ev := range ch {
		events = append(events, ev)
	}
	waitForStatus(t, s, c.ID, model.StatusComplete, 5*time.Second)

	if len(events) == 0 {
		t.Fatal("expected at least one progress event")
	}
	var sawHazard bool
	for _, ev := range events {
		if ev.Phase == engine.PhaseHazard {
			sawHazard = true
		}
	}
	if !sawHazard {
		t.Error("expected a hazard phase event")
	}
	last := events[len(events)-1]
	if last.Phase != engine.PhaseComplete {
		t.Errorf("last event = %+v, want completion event", last)
	}
}

func TestSubmitConcurrent(t *testing.T) {
	remote := &stubRemote{losses: []calc.AssetLoss{{AssetID: "a1", LossValue: 1}}}
	eng, s := newTestEngine(t, remote)
	cfg := seedRun(t, s)

	ids := make([]string, 5)
	for i := range ids {
		c, err := eng.Submit(context.Background(), cfg, "shakemap.zip", nil)
		if err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
		ids[i] = c.ID
	}

	for _, id := range ids {
		waitForStatus(t, s, id, model.StatusComplete, 5*time.Second)
	}
}
