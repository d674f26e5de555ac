package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/tremor/internal/calc"
	"github.com/seantiz/tremor/internal/format"
	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

// Engine orchestrates the two-phase loss calculation: a hazard
// pre-calculation followed by a risk calculation on the remote engine, with
// result import once the risk job completes. Each run is driven by one
// detached goroutine; the submitting request only transcodes inputs and
// persists the pending record.
type Engine struct {
	store        store.Store
	remote       calc.Engine
	logger       *slog.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
	wg           sync.WaitGroup
	broker       *ProgressBroker
}

// NewEngine creates a new calculation engine. pollInterval is the delay
// between remote status polls; pollTimeout bounds one whole run.
func NewEngine(s store.Store, remote calc.Engine, logger *slog.Logger, pollInterval, pollTimeout time.Duration) *Engine {
	return &Engine{
		store:        s,
		remote:       remote,
		logger:       logger,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		broker:       NewProgressBroker(),
	}
}

// Broker returns the engine's progress broker for SSE subscription.
func (e *Engine) Broker() *ProgressBroker {
	return e.broker
}

// Wait blocks until all in-flight calculation goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// runInputs holds the transcoded files for one run.
type runInputs struct {
	exposureXML []byte
	assetsCSV   []byte
	vulnXML     []byte
	hazardINI   []byte
	riskINI     []byte
}

// Submit assembles the run inputs for the given config, persists a pending
// LossCalculation, and launches the orchestration goroutine. Input assembly
// runs synchronously so that a broken configuration fails the request instead
// of a detached goroutine.
func (e *Engine) Submit(ctx context.Context, cfg *model.LossConfig, shakemapRef string, shakemap []byte) (*model.LossCalculation, error) {
	lm, err := e.store.GetLossModel(ctx, cfg.LossModelID)
	if err != nil {
		return nil, fmt.Errorf("load loss model: %w", err)
	}

	inputs, err := e.buildInputs(ctx, lm, cfg)
	if err != nil {
		return nil, err
	}

	calculation := &model.LossCalculation{
		ID:           model.NewID(),
		LossModelID:  lm.ID,
		LossCategory: cfg.LossCategory,
		AggregateBy:  cfg.AggregateBy,
		ShakemapRef:  shakemapRef,
		Status:       model.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.store.CreateCalculation(ctx, calculation); err != nil {
		return nil, fmt.Errorf("create calculation: %w", err)
	}

	e.wg.Go(func() {
		e.execute(calculation.ID, inputs, shakemap)
	})

	return calculation, nil
}

// buildInputs transcodes the stored entities referenced by the config into
// the files the remote engine expects.
func (e *Engine) buildInputs(ctx context.Context, lm *model.LossModel, cfg *model.LossConfig) (*runInputs, error) {
	vm, err := e.store.MatchVulnerabilityModel(ctx, lm.ID, cfg.LossCategory)
	if err != nil {
		return nil, fmt.Errorf("no vulnerability model matches loss category %q: %w", cfg.LossCategory, err)
	}
	fns, err := e.store.ListVulnerabilityFunctions(ctx, vm.ID)
	if err != nil {
		return nil, fmt.Errorf("load vulnerability functions: %w", err)
	}

	collection, err := e.store.GetAssetCollection(ctx, lm.AssetCollectionID)
	if err != nil {
		return nil, fmt.Errorf("load asset collection: %w", err)
	}
	sites, err := e.store.ListSites(ctx, collection.ID)
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	assets, err := e.store.ListAssets(ctx, collection.ID)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	in := &runInputs{}
	var buf bytes.Buffer

	if err := format.WriteExposureXML(&buf, collection, format.ExposureCSVName); err != nil {
		return nil, err
	}
	in.exposureXML = append([]byte(nil), buf.Bytes()...)
	buf.Reset()

	if err := format.WriteAssetCSV(&buf, sites, assets); err != nil {
		return nil, err
	}
	in.assetsCSV = append([]byte(nil), buf.Bytes()...)
	buf.Reset()

	if err := format.WriteVulnerabilityXML(&buf, vm, fns); err != nil {
		return nil, err
	}
	in.vulnXML = append([]byte(nil), buf.Bytes()...)
	buf.Reset()

	if err := format.WriteHazardINI(&buf, lm, cfg); err != nil {
		return nil, err
	}
	in.hazardINI = append([]byte(nil), buf.Bytes()...)
	buf.Reset()

	if err := format.WriteRiskINI(&buf, lm, cfg); err != nil {
		return nil, err
	}
	in.riskINI = append([]byte(nil), buf.Bytes()...)

	return in, nil
}

// execute drives one run to a terminal status:
// pending→hazard_running→risk_running→importing→complete, or failed.
func (e *Engine) execute(id string, in *runInputs, shakemap []byte) {
	// Close the progress stream when the run finishes, regardless of outcome.
	defer e.broker.Close(id)

	ctx, cancel := context.WithTimeout(context.Background(), e.pollTimeout)
	defer cancel()

	start := time.Now()

	// Phase 1: hazard pre-calculation.
	if err := e.transition(id, model.StatusHazardRunning); err != nil {
		e.finishFailed(id, fmt.Sprintf("failed to start: %v", err))
		return
	}
	e.broker.Publish(id, Event{Phase: PhaseHazard, Message: "submitting pre-calculation"})

	hazardJob, err := e.remote.Run(ctx, calc.RunSpec{
		Files: []calc.InputFile{
			{Field: "job_config", Name: format.HazardININame, Content: in.hazardINI},
			{Field: "input_model_1", Name: format.ExposureXMLName, Content: in.exposureXML},
			{Field: "input_model_2", Name: format.ExposureCSVName, Content: in.assetsCSV},
			{Field: "input_model_3", Name: format.VulnerabilityXMLName, Content: in.vulnXML},
		},
	})
	if err != nil {
		e.finishFailed(id, fmt.Sprintf("submit hazard job: %v", err))
		return
	}
	if err := e.store.SetCalculationJobs(ctx, id, hazardJob, ""); err != nil {
		e.logger.Error("record hazard job id", "calculation_id", id, "error", err)
	}

	status, err := e.pollJob(ctx, id, PhaseHazard, hazardJob)
	if err != nil {
		e.finishFailed(id, err.Error())
		return
	}
	if status != calc.JobComplete {
		e.finishFailed(id, fmt.Sprintf("hazard job %s finished with status %q", hazardJob, status))
		return
	}

	// Phase 2: risk calculation, chained to the completed hazard job.
	if err := e.transition(id, model.StatusRiskRunning); err != nil {
		e.finishFailed(id, fmt.Sprintf("failed to start risk phase: %v", err))
		return
	}
	e.broker.Publish(id, Event{Phase: PhaseRisk, Message: "submitting calculation"})

	riskJob, err := e.remote.Run(ctx, calc.RunSpec{
		Files: []calc.InputFile{
			{Field: "job_config", Name: format.RiskININame, Content: in.riskINI},
			{Field: "input_model_1", Name: format.ShakemapName, Content: shakemap},
		},
		HazardJobID: hazardJob,
	})
	if err != nil {
		e.finishFailed(id, fmt.Sprintf("submit risk job: %v", err))
		return
	}
	if err := e.store.SetCalculationJobs(ctx, id, "", riskJob); err != nil {
		e.logger.Error("record risk job id", "calculation_id", id, "error", err)
	}

	status, err = e.pollJob(ctx, id, PhaseRisk, riskJob)
	if err != nil {
		e.finishFailed(id, err.Error())
		return
	}
	if status != calc.JobComplete {
		e.finishFailed(id, fmt.Sprintf("risk job %s finished with status %q", riskJob, status))
		return
	}

	// Import result rows. Import runs only after the risk job reports
	// completion, never after failure.
	if err := e.transition(id, model.StatusImporting); err != nil {
		e.finishFailed(id, fmt.Sprintf("failed to start import: %v", err))
		return
	}
	e.broker.Publish(id, Event{Phase: PhaseImport, Message: "fetching result rows"})

	rows, err := e.remote.Extract(ctx, riskJob, calc.ExtractMeanLosses)
	if err != nil {
		e.finishFailed(id, fmt.Sprintf("extract results: %v", err))
		return
	}

	losses := make([]*model.MeanAssetLoss, len(rows))
	for i, row := range rows {
		losses[i] = &model.MeanAssetLoss{
			CalculationID: id,
			AssetID:       row.AssetID,
			LossValue:     row.LossValue,
		}
	}
	if err := e.store.InsertMeanAssetLosses(ctx, id, losses); err != nil {
		e.finishFailed(id, fmt.Sprintf("import results: %v", err))
		return
	}

	if err := e.transition(id, model.StatusComplete); err != nil {
		e.logger.Error("failed to complete calculation", "calculation_id", id, "error", err)
		return
	}

	calculationsTotal.WithLabelValues(model.StatusComplete).Inc()
	calculationDuration.Observe(time.Since(start).Seconds())
	e.broker.Publish(id, Event{Phase: PhaseComplete, Message: fmt.Sprintf("imported %d result rows", len(losses))})
	e.logger.Info("calculation complete",
		"calculation_id", id,
		"hazard_job", hazardJob,
		"risk_job", riskJob,
		"rows", len(losses),
	)
}

// pollJob polls the remote job at the configured interval until it reports a
// terminal status or the run context expires.
func (e *Engine) pollJob(ctx context.Context, calcID, phase, jobID string) (string, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%s job %s: polling timed out: %v", phase, jobID, ctx.Err())
		case <-ticker.C:
			pollCyclesTotal.WithLabelValues(phase).Inc()
			status, err := e.remote.Status(ctx, jobID)
			if err != nil {
				return "", fmt.Errorf("%s job %s: %v", phase, jobID, err)
			}
			e.broker.Publish(calcID, Event{Phase: phase, Message: fmt.Sprintf("job %s: %s", jobID, status)})
			if calc.TerminalJobStatus(status) {
				return status, nil
			}
		}
	}
}

// transition advances the calculation status through the store's validated
// status machine.
func (e *Engine) transition(id, status string) error {
	return e.store.UpdateCalculationStatus(context.Background(), id, status)
}

// finishFailed marks a calculation as failed with the given error message.
func (e *Engine) finishFailed(id, errMsg string) {
	if err := e.store.FailCalculation(context.Background(), id, errMsg); err != nil {
		e.logger.Error("failed to mark calculation failed", "calculation_id", id, "error", err)
	}
	calculationsTotal.WithLabelValues(model.StatusFailed).Inc()
	e.broker.Publish(id, Event{Phase: PhaseFailed, Message: errMsg})
	e.logger.Error("calculation failed", "calculation_id", id, "error", errMsg)
}
