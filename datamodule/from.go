package datamodule

import (
	"context"
	"fmt"

	"github.com/Noofbiz/stagedata/collection"
	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/detection"
	"github.com/Noofbiz/stagedata/images"
	"github.com/Noofbiz/stagedata/stage"
	"github.com/Noofbiz/stagedata/transforms"
)

// Names of the image sources registered by ImagePreprocess.
const (
	SourceFiles   = "files"
	SourceFolders = "folders"
)

// Inputs holds the raw input of each stage for FromSource. A nil field
// produces no dataset for that stage.
type Inputs struct {
	Train, Val, Test, Predict any
}

func (in Inputs) forStage(st stage.Stage) any {
	switch st {
	case stage.Training:
		return in.Train
	case stage.Validating:
		return in.Val
	case stage.Testing:
		return in.Test
	}
	return in.Predict
}

// FromSource generates the dataset of every stage with input using the
// named source of pre (its default source when name is empty).
func FromSource(ctx context.Context, pre *transforms.Preprocess, name string, in Inputs, cfg Config) (*DataModule, error) {
	src, err := pre.Source(name)
	if err != nil {
		return nil, err
	}
	var ds datasets.Datasets
	for _, st := range stage.All() {
		raw := in.forStage(st)
		if raw == nil {
			continue
		}
		d, err := src.GenerateAny(ctx, raw, st)
		if err != nil {
			return nil, err
		}
		switch st {
		case stage.Training:
			ds.Train = d
		case stage.Validating:
			ds.Val = d
		case stage.Testing:
			ds.Test = d
		case stage.Predicting:
			ds.Predict = d
		}
	}
	return New(ctx, ds, pre, cfg)
}

// ImagePreprocess returns a preprocess reading image files and class
// folders. By default images are converted to tensors in every stage.
func ImagePreprocess(set transforms.Set) (*transforms.Preprocess, error) {
	return transforms.New(transforms.Config{
		Transforms: set,
		Defaults: func(stage.Stage) (*transforms.Transform, error) {
			return transforms.InputOnly(transforms.Table{transforms.ToTensorHook: transforms.ToTensor}), nil
		},
		Sources: map[string]datasets.Generator{
			SourceFiles:   images.NewPathsSource(datasets.PathsOptions{Name: SourceFiles}),
			SourceFolders: images.NewPathsSource(datasets.PathsOptions{Name: SourceFolders}),
		},
		DefaultSource: SourceFiles,
	})
}

// Folders names one folder per stage. Empty entries are skipped.
type Folders struct {
	Train, Val, Test, Predict string
}

func folderInput(dir string) any {
	if dir == "" {
		return nil
	}
	return datasets.Paths{Dir: dir}
}

// FromFolders reads class folders (or flat folders of images). A nil pre
// selects ImagePreprocess.
func FromFolders(ctx context.Context, f Folders, pre *transforms.Preprocess, cfg Config) (*DataModule, error) {
	if pre == nil {
		var err error
		if pre, err = ImagePreprocess(transforms.Set{}); err != nil {
			return nil, err
		}
	}
	in := Inputs{
		Train:   folderInput(f.Train),
		Val:     folderInput(f.Val),
		Test:    folderInput(f.Test),
		Predict: folderInput(f.Predict),
	}
	return FromSource(ctx, pre, SourceFolders, in, cfg)
}

// FromFiles reads lists of image files with aligned targets. A nil pre
// selects ImagePreprocess.
func FromFiles(ctx context.Context, in datasets.Inputs[datasets.Paths], pre *transforms.Preprocess, cfg Config) (*DataModule, error) {
	if pre == nil {
		var err error
		if pre, err = ImagePreprocess(transforms.Set{}); err != nil {
			return nil, err
		}
	}
	return FromSource(ctx, pre, SourceFiles, Inputs{
		Train:   deref(in.Train),
		Val:     deref(in.Val),
		Test:    deref(in.Test),
		Predict: deref(in.Predict),
	}, cfg)
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// COCOInputs holds the COCO input of each stage. Predict data is a folder
// or list of images.
type COCOInputs struct {
	Train, Val, Test *detection.COCOInput
	Predict          *datasets.Paths
}

// FromCOCO reads COCO annotated images with the detection preprocess.
func FromCOCO(ctx context.Context, in COCOInputs, set transforms.Set, cfg Config) (*DataModule, error) {
	pre, err := detection.NewPreprocess(detection.Config{Transforms: set})
	if err != nil {
		return nil, err
	}
	dm, err := FromSource(ctx, pre, detection.SourceCOCO, Inputs{
		Train: deref(in.Train),
		Val:   deref(in.Val),
		Test:  deref(in.Test),
	}, cfg)
	if err != nil {
		return nil, err
	}
	if in.Predict != nil {
		if err := dm.addPredict(ctx, detection.SourceFiles, *in.Predict); err != nil {
			return nil, err
		}
	}
	return dm, nil
}

// FromCollection reads labeled collections with the detection preprocess.
func FromCollection(ctx context.Context, in datasets.Inputs[*collection.Collection], labelField string, set transforms.Set, cfg Config) (*DataModule, error) {
	pre, err := detection.NewPreprocess(detection.Config{Transforms: set, LabelField: labelField})
	if err != nil {
		return nil, err
	}
	return FromSource(ctx, pre, detection.SourceCollection, Inputs{
		Train:   deref(in.Train),
		Val:     deref(in.Val),
		Test:    deref(in.Test),
		Predict: deref(in.Predict),
	}, cfg)
}

// CSVPatterns holds one glob pattern per stage. Empty entries are skipped.
type CSVPatterns struct {
	Train, Val, Test, Predict string
}

// FromCSV reads tabular rows from CSV files. Rows collate into
// [batch, features] input and [batch, targets] target tensors.
func FromCSV(ctx context.Context, p CSVPatterns, opts datasets.CSVOptions, set transforms.Set, cfg Config) (*DataModule, error) {
	pre, err := transforms.New(transforms.Config{
		Transforms:    set,
		Sources:       map[string]datasets.Generator{"csv": datasets.NewCSVSource(opts)},
		DefaultSource: "csv",
	})
	if err != nil {
		return nil, err
	}
	pattern := func(s string) any {
		if s == "" {
			return nil
		}
		return s
	}
	return FromSource(ctx, pre, "csv", Inputs{
		Train:   pattern(p.Train),
		Val:     pattern(p.Val),
		Test:    pattern(p.Test),
		Predict: pattern(p.Predict),
	}, cfg)
}

// addPredict generates the predict dataset from another source of the same
// preprocess.
func (dm *DataModule) addPredict(ctx context.Context, source string, raw any) error {
	src, err := dm.preprocess.Source(source)
	if err != nil {
		return err
	}
	d, err := src.GenerateAny(ctx, raw, stage.Predicting)
	if err != nil {
		return fmt.Errorf("predict data: %w", err)
	}
	dm.ds.Predict = d
	return nil
}
