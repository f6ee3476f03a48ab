// Package journal persists run outcomes and session metrics to a Lode dataset.
//
// Records are Hive-partitioned by workflow/day/session_id/record_kind and
// encoded as JSONL. The journal is a side channel: write failures are logged
// and counted but never change scheduling.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/wvrunner/log"
	"github.com/justapithecus/wvrunner/loop"
	"github.com/justapithecus/wvrunner/metrics"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "wvrunner"

// PartitionKeys is the Hive layout shared by the write and read paths.
var PartitionKeys = []string{"workflow", "day", "session_id", "record_kind"}

// Config identifies the session whose records the journal writes.
type Config struct {
	Dataset   string
	Workflow  string
	Mode      string
	SessionID string
}

// Validate checks that the identity fields are present.
func (c Config) Validate() error {
	if c.Workflow == "" {
		return errors.New("journal: workflow is required")
	}
	if c.SessionID == "" {
		return errors.New("journal: session_id is required")
	}
	return nil
}

// Journal writes outcome and metrics records. It implements loop.Observer.
type Journal struct {
	dataset   lode.Dataset
	config    Config
	logger    *log.Logger
	collector *metrics.Collector
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger for write failures.
func WithLogger(l *log.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// WithCollector sets the collector that counts writes.
func WithCollector(c *metrics.Collector) Option {
	return func(j *Journal) { j.collector = c }
}

// New creates a journal over the given store factory.
// Use lode.NewMemoryFactory() for testing.
func New(cfg Config, factory lode.StoreFactory, opts ...Option) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	j := &Journal{dataset: ds, config: cfg, logger: log.NewNop()}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// NewFS creates a journal with filesystem storage rooted at root.
func NewFS(cfg Config, root string, opts ...Option) (*Journal, error) {
	return New(cfg, lode.NewFSFactory(root), opts...)
}

func newDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(PartitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewReadDataset opens a dataset for queries.
// Uses the same codec and layout as the write path.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := newDataset(dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// WriteOutcome persists one finished run.
func (j *Journal) WriteOutcome(ctx context.Context, c loop.Completed) error {
	record, err := toOutcomeMap(c, j.config.Workflow, j.config.SessionID, j.config.Mode)
	if err != nil {
		return err
	}
	return j.write(ctx, record, c.Day)
}

// WriteMetrics persists a metrics snapshot taken at the given time.
func (j *Journal) WriteMetrics(ctx context.Context, snap metrics.Snapshot, at time.Time) error {
	if snap.Workflow == "" {
		snap.Workflow = j.config.Workflow
	}
	if snap.SessionID == "" {
		snap.SessionID = j.config.SessionID
	}
	return j.write(ctx, toMetricsMap(snap, at.Format(loop.DayLayout), at), at.Format(loop.DayLayout))
}

func (j *Journal) write(ctx context.Context, record map[string]any, day string) error {
	_, err := j.dataset.Write(ctx, []any{record}, lode.Metadata{})
	if err != nil {
		j.collector.IncJournalWriteFailure()
		path := fmt.Sprintf("%s/%s/%s", j.config.Dataset, day, record["record_kind"])
		return WrapWriteError(err, path)
	}
	j.collector.IncJournalWriteSuccess()
	return nil
}

// RunCompleted records the run, logging any failure.
func (j *Journal) RunCompleted(ctx context.Context, c loop.Completed) {
	if err := j.WriteOutcome(ctx, c); err != nil {
		j.logger.Warn("failed to journal run outcome", map[string]any{
			"run":   c.Index,
			"error": err.Error(),
		})
	}
}

// Dataset returns the underlying dataset.
func (j *Journal) Dataset() lode.Dataset {
	return j.dataset
}

// Close releases journal resources.
func (j *Journal) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

var _ loop.Observer = (*Journal)(nil)
