package detection

import (
	"fmt"

	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/images"
	"github.com/Noofbiz/stagedata/stage"
	"github.com/Noofbiz/stagedata/transforms"
)

// Names of the data sources registered by NewPreprocess.
const (
	SourceCollection = "fiftyone"
	SourceFiles      = "files"
	SourceFolders    = "folders"
	SourceCOCO       = "coco"
)

// Config configures NewPreprocess.
type Config struct {
	Transforms transforms.Set
	// LabelField is the detections field of collection inputs.
	LabelField string
}

// NewPreprocess returns the detection preprocess: collection, files, folders
// and COCO sources, with files as the default.
func NewPreprocess(cfg Config) (*transforms.Preprocess, error) {
	return transforms.New(transforms.Config{
		Transforms: cfg.Transforms,
		Defaults:   DefaultTransforms,
		Sources: map[string]datasets.Generator{
			SourceCollection: NewCollectionSource(cfg.LabelField),
			SourceFiles:      images.NewPathsSource(datasets.PathsOptions{Name: SourceFiles}),
			SourceFolders:    images.NewPathsSource(datasets.PathsOptions{Name: SourceFolders}),
			SourceCOCO:       NewCOCOSource(),
		},
		DefaultSource: SourceFiles,
	})
}

// DefaultTransforms converts images to tensors and collates with Collate in
// every stage.
func DefaultTransforms(stage.Stage) (*transforms.Transform, error) {
	return &transforms.Transform{
		Hooks: transforms.Table{transforms.CollateHook: Collate},
		Keys:  map[string]transforms.Table{datasets.KeyInput: {transforms.ToTensorHook: transforms.ToTensor}},
	}, nil
}

// Collate groups detection samples without stacking: images differ in size
// and targets in object count. Every key holds a []any with one entry per
// sample.
func Collate(v any) (any, error) {
	samples, ok := v.([]datasets.Sample)
	if !ok {
		return nil, fmt.Errorf("collate expects []datasets.Sample, got %T", v)
	}
	out := transforms.Batch{transforms.KeyBatchSize: len(samples)}
	for i, s := range samples {
		for k, val := range s {
			list, _ := out[k].([]any)
			if list == nil {
				list = make([]any, len(samples))
			}
			list[i] = val
			out[k] = list
		}
	}
	return out, nil
}
