package config

import (
	"context"
	"fmt"

	"github.com/Noofbiz/stagedata/collection"
	"github.com/Noofbiz/stagedata/datamodule"
	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/detection"
	"github.com/Noofbiz/stagedata/styletransfer"
	"github.com/Noofbiz/stagedata/transforms"
)

// ModuleConfig returns the datamodule settings of the data_module block.
func (c *Config) ModuleConfig() (datamodule.Config, error) {
	d := c.DataModule
	if d == nil {
		return datamodule.Config{}, nil
	}
	opts, err := d.Options()
	if err != nil {
		return datamodule.Config{}, err
	}
	if d.Seed < 0 {
		return datamodule.Config{}, fmt.Errorf("%w: seed must not be negative", datasets.ErrConfiguration)
	}
	return datamodule.Config{
		BatchSize:        d.BatchSize,
		NumWorkers:       d.NumWorkers,
		Seed:             uint64(d.Seed),
		DisableShuffle:   d.Shuffle != nil && !*d.Shuffle,
		DropLast:         d.DropLast,
		ValSplit:         d.ValSplit,
		Transform:        d.Transform,
		TransformOptions: opts,
	}, nil
}

// Build creates the data module described by the configuration.
func (c *Config) Build(ctx context.Context) (*datamodule.DataModule, error) {
	cfg, err := c.ModuleConfig()
	if err != nil {
		return nil, err
	}
	s := c.Source
	switch s.Kind {
	case KindFolders:
		return datamodule.FromFolders(ctx, datamodule.Folders{Train: s.Train, Val: s.Val, Test: s.Test, Predict: s.Predict}, nil, cfg)
	case KindCSV:
		return datamodule.FromCSV(ctx, datamodule.CSVPatterns{Train: s.Train, Val: s.Val, Test: s.Test, Predict: s.Predict},
			datasets.CSVOptions{Features: s.Features, Targets: s.Targets, Stats: s.Stats}, transforms.Set{}, cfg)
	case KindSequenceCSV:
		return c.buildSequenceCSV(ctx, cfg)
	case KindCOCO:
		return c.buildCOCO(ctx, cfg)
	case KindCollection:
		return c.buildCollection(ctx, cfg)
	case KindStyleTransfer:
		var st styletransfer.Config
		if s.ImageSize > 0 {
			st.ImageSize = styletransfer.Square(s.ImageSize)
		}
		return styletransfer.FromFolders(ctx, s.Train, s.Predict, st, cfg)
	}
	return nil, fmt.Errorf("%w: unknown source kind %q", datasets.ErrConfiguration, s.Kind)
}

func stageInputs(s *Source, conv func(string) any) datamodule.Inputs {
	in := func(v string) any {
		if v == "" {
			return nil
		}
		return conv(v)
	}
	return datamodule.Inputs{Train: in(s.Train), Val: in(s.Val), Test: in(s.Test), Predict: in(s.Predict)}
}

func (c *Config) buildSequenceCSV(ctx context.Context, cfg datamodule.Config) (*datamodule.DataModule, error) {
	pre, err := transforms.New(transforms.Config{
		Sources: map[string]datasets.Generator{
			KindSequenceCSV: datasets.NewSequenceCSVSource(datasets.SequenceCSVOptions{
				GroupColumn: c.Source.GroupBy,
				Columns:     c.Source.Features,
			}),
		},
		DefaultSource: KindSequenceCSV,
	})
	if err != nil {
		return nil, err
	}
	return datamodule.FromSource(ctx, pre, KindSequenceCSV, stageInputs(c.Source, func(v string) any { return v }), cfg)
}

func (c *Config) buildCOCO(ctx context.Context, cfg datamodule.Config) (*datamodule.DataModule, error) {
	s := c.Source
	input := func(root, annotations string) *detection.COCOInput {
		if root == "" {
			return nil
		}
		return &detection.COCOInput{Root: root, AnnotationFile: annotations}
	}
	in := datamodule.COCOInputs{
		Train: input(s.Train, s.TrainAnnotations),
		Val:   input(s.Val, s.ValAnnotations),
		Test:  input(s.Test, s.TestAnnotations),
	}
	if s.Predict != "" {
		in.Predict = &datasets.Paths{Dir: s.Predict}
	}
	return datamodule.FromCOCO(ctx, in, transforms.Set{}, cfg)
}

// buildCollection reads every stage's samples while the store is open; the
// samples themselves are decoded from their files later.
func (c *Config) buildCollection(ctx context.Context, cfg datamodule.Config) (_ *datamodule.DataModule, err error) {
	s := c.Source
	store, err := collection.Open(ctx, s.Store)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	load := func(name string) (**collection.Collection, error) {
		if name == "" {
			return nil, nil
		}
		coll, err := store.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		return &coll, nil
	}
	var in datasets.Inputs[*collection.Collection]
	if in.Train, err = load(s.Train); err != nil {
		return nil, err
	}
	if in.Val, err = load(s.Val); err != nil {
		return nil, err
	}
	if in.Test, err = load(s.Test); err != nil {
		return nil, err
	}
	if in.Predict, err = load(s.Predict); err != nil {
		return nil, err
	}
	return datamodule.FromCollection(ctx, in, s.LabelField, transforms.Set{}, cfg)
}
