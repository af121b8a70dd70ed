// Package datamodule ties per-stage datasets, a preprocess and batching
// settings together, and hands out loaders for each stage.
package datamodule

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/internal/ctxlog"
	"github.com/Noofbiz/stagedata/stage"
	"github.com/Noofbiz/stagedata/transforms"
)

// Default batching settings.
const (
	DefaultBatchSize  = 4
	DefaultNumWorkers = 1
)

// Config holds the batching settings of a DataModule. Zero values select the
// defaults.
type Config struct {
	BatchSize  int
	NumWorkers int
	// Seed drives shuffling and the validation split.
	Seed uint64
	// DisableShuffle keeps the training data in order.
	DisableShuffle bool
	// DropLast drops the last incomplete training batch.
	DropLast bool
	// ValSplit moves this fraction of the training data into a validation
	// dataset when no validation input is given.
	ValSplit float64
	// Transform names a preset applied to the preprocess, with its options.
	Transform        string
	TransformOptions map[string]any
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = DefaultNumWorkers
	}
	return c
}

// DataModule owns one optional dataset per stage and the preprocess used to
// turn their samples into batches.
type DataModule struct {
	cfg        Config
	ds         datasets.Datasets
	preprocess *transforms.Preprocess
	presets    map[string]PresetFunc
}

// New creates a DataModule. The training data is split when cfg.ValSplit is
// set and there is no validation dataset. The named transform preset, if any,
// replaces the preprocess transforms.
func New(ctx context.Context, ds datasets.Datasets, pre *transforms.Preprocess, cfg Config) (*DataModule, error) {
	cfg = cfg.withDefaults()
	if pre == nil {
		var err error
		if pre, err = transforms.New(transforms.Config{}); err != nil {
			return nil, err
		}
	}
	dm := &DataModule{cfg: cfg, ds: ds, preprocess: pre, presets: DefaultPresets()}

	if cfg.ValSplit > 0 && ds.Val == nil && ds.Train != nil {
		if err := dm.splitValidation(); err != nil {
			return nil, err
		}
	}
	if cfg.Transform != "" {
		if err := dm.UseTransform(cfg.Transform, cfg.TransformOptions); err != nil {
			return nil, err
		}
	}

	logger := ctxlog.FromContext(ctx)
	for _, st := range stage.All() {
		if d := dm.ds.ForStage(st); d != nil {
			logger.Info("Dataset ready.", "stage", st.String(), "name", d.Name(), "samples", datasetLen(d))
		}
	}
	return dm, nil
}

func datasetLen(d datasets.Dataset) int {
	if sized, ok := d.(datasets.SizedDataset); ok {
		return sized.Len()
	}
	return -1
}

func (dm *DataModule) splitValidation() error {
	train, ok := dm.ds.Train.(datasets.SizedDataset)
	if !ok {
		return fmt.Errorf("%w: a validation split needs a sized training dataset", datasets.ErrConfiguration)
	}
	val, rest, err := datasets.Split(train, dm.cfg.ValSplit, dm.cfg.Seed)
	if err != nil {
		return err
	}
	dm.ds.Train = rest
	dm.ds.Val = val.WithStage(stage.Validating)
	return nil
}

// Config returns the effective settings.
func (dm *DataModule) Config() Config { return dm.cfg }

// Preprocess returns the preprocess of the module.
func (dm *DataModule) Preprocess() *transforms.Preprocess { return dm.preprocess }

// Datasets returns the per-stage datasets.
func (dm *DataModule) Datasets() datasets.Datasets { return dm.ds }

// TrainDataset returns the training dataset, or nil.
func (dm *DataModule) TrainDataset() datasets.Dataset { return dm.ds.Train }

// ValDataset returns the validation dataset, or nil.
func (dm *DataModule) ValDataset() datasets.Dataset { return dm.ds.Val }

// TestDataset returns the test dataset, or nil.
func (dm *DataModule) TestDataset() datasets.Dataset { return dm.ds.Test }

// PredictDataset returns the predict dataset, or nil.
func (dm *DataModule) PredictDataset() datasets.Dataset { return dm.ds.Predict }

// NumClasses returns the number of classes recorded by the first dataset, in
// stage order, that has one.
func (dm *DataModule) NumClasses() (int, bool) {
	for _, st := range stage.All() {
		if d := dm.ds.ForStage(st); d != nil {
			if n, ok := d.Metadata().Classes(); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// Labels returns the class labels recorded by the first dataset, in stage
// order, that has them.
func (dm *DataModule) Labels() []string {
	for _, st := range stage.All() {
		if d := dm.ds.ForStage(st); d != nil {
			if labels := d.Metadata().Labels; labels != nil {
				return labels
			}
		}
	}
	return nil
}

// RegisterTransform adds or replaces a transform preset of this module.
func (dm *DataModule) RegisterTransform(name string, fn PresetFunc) {
	dm.presets[name] = fn
}

// Presets lists the registered preset names.
func (dm *DataModule) Presets() []string {
	return slices.Sorted(maps.Keys(dm.presets))
}

// UseTransform builds the named preset with opts and installs it on the
// preprocess.
func (dm *DataModule) UseTransform(name string, opts map[string]any) error {
	fn, ok := dm.presets[name]
	if !ok {
		return fmt.Errorf("%w: unknown transform %q (have %v)", datasets.ErrConfiguration, name, dm.Presets())
	}
	set, err := fn(opts)
	if err != nil {
		return fmt.Errorf("transform %q: %w", name, err)
	}
	dm.preprocess.SetTransforms(set)
	return nil
}

// Loader returns the loader of stage st. Only the training loader shuffles
// and drops the last batch.
func (dm *DataModule) Loader(st stage.Stage) (*Loader, error) {
	d := dm.ds.ForStage(st)
	if d == nil {
		return nil, fmt.Errorf("%w: no %s dataset", datasets.ErrConfiguration, st)
	}
	train := st == stage.Training
	return newLoader(d, dm.preprocess, dm.cfg, train && !dm.cfg.DisableShuffle, train && dm.cfg.DropLast)
}

// TrainLoader returns the training loader.
func (dm *DataModule) TrainLoader() (*Loader, error) { return dm.Loader(stage.Training) }

// ValLoader returns the validation loader.
func (dm *DataModule) ValLoader() (*Loader, error) { return dm.Loader(stage.Validating) }

// TestLoader returns the test loader.
func (dm *DataModule) TestLoader() (*Loader, error) { return dm.Loader(stage.Testing) }

// PredictLoader returns the predict loader.
func (dm *DataModule) PredictLoader() (*Loader, error) { return dm.Loader(stage.Predicting) }
