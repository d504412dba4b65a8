package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"inverter-report/config"
	"inverter-report/metrics"
	"inverter-report/models"
	"inverter-report/storage"
	"inverter-report/utils"
)

// FileReadError means a report file could not be read or parsed at all. Like a schema
// mismatch, it abandons only that file.
type FileReadError struct {
	ReportDate string
	Filename   string
	Err        error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("could not read report for %s (%s): %v", e.ReportDate, e.Filename, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// Pipeline runs one ingestion batch: decode, locate header, extract, merge, pivot.
type Pipeline struct {
	cfg    *config.Config
	logger *utils.Logger

	decoder   *Decoder
	locator   *HeaderLocator
	extractor *Extractor
	merger    *Merger
	pivot     *PivotBuilder

	master    storage.MasterStore
	view      storage.ViewWriter
	mirrors   []storage.RecordMirror
	publisher storage.ViewPublisher
	metrics   *metrics.RunMetrics
	now       func() time.Time
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMirror adds a sink that receives every appended batch.
func WithMirror(m storage.RecordMirror) Option {
	return func(p *Pipeline) { p.mirrors = append(p.mirrors, m) }
}

// WithPublisher uploads the view file after each regeneration.
func WithPublisher(pub storage.ViewPublisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.RunMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires the pipeline stages around the given stores.
func NewPipeline(cfg *config.Config, logger *utils.Logger, master storage.MasterStore, view storage.ViewWriter, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		logger:    logger,
		decoder:   NewDecoder(logger),
		locator:   NewHeaderLocator(cfg.PlantMarker, cfg.YieldMarker, cfg.HeaderScanRows),
		extractor: NewExtractor(logger),
		merger:    NewMerger(master, cfg.DedupOnWrite, logger),
		pivot:     NewPivotBuilder(logger),
		master:    master,
		view:      view,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LastUpdated returns the latest Date in the master dataset. With no dataset, or no
// dated rows, it returns the start of the lookback window.
func (p *Pipeline) LastUpdated() (time.Time, error) {
	records, err := p.master.ReadAll()
	if err != nil {
		return time.Time{}, fmt.Errorf("pipeline: read dataset: %w", err)
	}

	var latest string
	for _, r := range records {
		if r.Date > latest {
			latest = r.Date
		}
	}

	now := p.now()
	fallback := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -p.cfg.LookbackDays)
	if latest == "" {
		return fallback, nil
	}

	t, err := time.ParseInLocation(models.DateLayout, latest, now.Location())
	if err != nil {
		p.logger.Warn("[pipeline] Unparseable last date %q in dataset, using %d-day lookback",
			latest, p.cfg.LookbackDays)
		return fallback, nil
	}
	return t, nil
}

// Run processes attachments in order. Per-file failures are recorded in the summary and
// never stop the batch; only failures writing the dataset or the view fail the run.
// Every attachment's temp file is removed whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, attachments []models.Attachment) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.NewString(),
		FilesSeen: len(attachments),
		StartedAt: p.now(),
	}
	log := p.logger.With("run_id", summary.RunID)

	if len(attachments) == 0 {
		log.Info("[pipeline] No new reports found to process")
		summary.NoNewData = true
		p.finish(summary, "no_new_data")
		return summary, nil
	}

	var batches [][]models.CanonicalRecord
	for _, att := range attachments {
		records, err := p.processFile(att)
		if err != nil {
			summary.Failures = append(summary.Failures, p.failure(att, err))
			log.Error("[pipeline] %v", err)
			continue
		}
		summary.FilesProcessed++
		batches = append(batches, records)
	}

	result, err := p.merger.Merge(batches)
	summary.Skipped = result.Skipped
	if p.metrics != nil {
		p.metrics.RecordsSkipped.Add(float64(result.Skipped))
	}
	if errors.Is(err, ErrNoRecords) {
		log.Warn("[pipeline] No usable data was extracted from %d downloaded files", len(attachments))
		summary.NoNewData = true
		p.finish(summary, "no_new_data")
		return summary, nil
	}
	if err != nil {
		p.finish(summary, "failed")
		return summary, err
	}
	summary.Appended = len(result.Appended)
	if p.metrics != nil {
		p.metrics.RecordsAppended.Add(float64(summary.Appended))
	}

	for _, m := range p.mirrors {
		if err := m.Write(ctx, result.Appended); err != nil {
			log.Warn("[pipeline] Mirror write failed: %v", err)
		}
	}

	view, err := p.RebuildView(ctx)
	if err != nil {
		p.finish(summary, "failed")
		return summary, err
	}
	summary.View = view

	p.finish(summary, "appended")
	return summary, nil
}

// RebuildView regenerates the pivot view from the whole dataset and publishes it.
func (p *Pipeline) RebuildView(ctx context.Context) (*models.PivotView, error) {
	records, err := p.master.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("pipeline: read dataset: %w", err)
	}

	p.logger.Info("[pipeline] Generating updated report view...")
	view := p.pivot.Build(records)
	if err := p.view.WriteView(view); err != nil {
		return nil, fmt.Errorf("pipeline: write view: %w", err)
	}
	if p.metrics != nil {
		p.metrics.ViewRows.Set(float64(len(view.Rows)))
	}
	p.logger.Info("[pipeline] Report view saved to %s (%d devices, %d dates)",
		p.view.Path(), len(view.Rows), len(view.Dates))

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, p.view.Path()); err != nil {
			p.logger.Warn("[pipeline] Publishing report view failed: %v", err)
		}
	}
	return view, nil
}

// processFile turns one attachment into records. The temp file is always removed.
func (p *Pipeline) processFile(att models.Attachment) ([]models.CanonicalRecord, error) {
	defer p.removeTemp(att.Path)

	raw, err := os.ReadFile(att.Path)
	if err != nil {
		p.countFile(metrics.StatusReadError)
		return nil, &FileReadError{ReportDate: att.DateString(), Filename: att.Filename, Err: err}
	}

	src, err := p.decoder.Read(att.Filename, raw)
	if err != nil {
		p.countFile(metrics.StatusReadError)
		return nil, &FileReadError{ReportDate: att.DateString(), Filename: att.Filename, Err: err}
	}
	if src.Lossy && p.metrics != nil {
		p.metrics.LossyDecodes.Inc()
	}

	headerIdx, found := p.locator.Locate(src.Rows)
	if !found {
		p.logger.Warn("[pipeline] No header row found in %s, trying row 0", att.Filename)
	}

	frame := p.extractor.BuildFrame(src.Rows, headerIdx, src.Format)
	records, err := p.extractor.Extract(frame, att)
	if err != nil {
		p.countFile(metrics.StatusSchemaMismatch)
		return nil, err
	}

	p.countFile(metrics.StatusProcessed)
	if p.metrics != nil {
		p.metrics.RecordsExtracted.Add(float64(len(records)))
	}
	p.logger.Info("[pipeline] %s (%s, header row %d): %d records for %s",
		att.Filename, src.Format, headerIdx, len(records), att.DateString())
	return records, nil
}

func (p *Pipeline) failure(att models.Attachment, err error) models.FileFailure {
	f := models.FileFailure{ReportDate: att.DateString(), Filename: att.Filename, Reason: err.Error()}
	var mismatch *SchemaMismatchError
	if errors.As(err, &mismatch) {
		f.Reason = "missing required columns"
		f.Found = mismatch.Found
	}
	return f
}

func (p *Pipeline) removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("[pipeline] Could not remove temp file %s: %v", path, err)
	}
}

func (p *Pipeline) countFile(status string) {
	if p.metrics != nil {
		p.metrics.FilesTotal.WithLabelValues(status).Inc()
	}
}

func (p *Pipeline) finish(summary *models.RunSummary, result string) {
	summary.FinishedAt = p.now()
	if p.metrics != nil {
		p.metrics.ObserveRun(result, summary.StartedAt, summary.FinishedAt)
	}
}
