package datasets

import (
	"context"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Pair is the raw input of a SequenceSource: aligned inputs and targets.
// Targets may be nil, in which case descriptors carry inputs only. Targets
// are never emitted while predicting.
type Pair[T any] struct {
	Inputs  []T
	Targets []any
}

// SequenceSource turns a Pair into one descriptor per element.
type SequenceSource[T any] struct {
	*Source[Pair[T]]
}

// NewSequenceSource creates a sequence source. When labels is non-empty it
// seeds the source labels and the number of classes of every dataset.
func NewSequenceSource[T any](name string, labels []string) *SequenceSource[T] {
	loadData := func(_ context.Context, raw Pair[T], md *Metadata) (Records, error) {
		if raw.Targets != nil && len(raw.Targets) != len(raw.Inputs) {
			return Records{}, fmt.Errorf("%w: %d inputs but %d targets", ErrConfiguration, len(raw.Inputs), len(raw.Targets))
		}
		if len(labels) > 0 {
			md.SetNumClasses(len(labels))
		}
		out := make([]Sample, len(raw.Inputs))
		for i, x := range raw.Inputs {
			s := Sample{KeyInput: x}
			if raw.Targets != nil {
				s[KeyTarget] = raw.Targets[i]
			}
			out[i] = s
		}
		return List(out), nil
	}
	predictLoadData := func(_ context.Context, raw Pair[T], md *Metadata) (Records, error) {
		if len(labels) > 0 {
			md.SetNumClasses(len(labels))
		}
		out := make([]Sample, len(raw.Inputs))
		for i, x := range raw.Inputs {
			out[i] = Sample{KeyInput: x}
		}
		return List(out), nil
	}
	src := NewSource(name, Hooks[Pair[T]]{
		Default: StageHooks[Pair[T]]{LoadData: loadData},
		Predict: StageHooks[Pair[T]]{LoadData: predictLoadData},
	})
	if len(labels) > 0 {
		src.SetLabels(labels)
	}
	return &SequenceSource[T]{Source: src}
}

// TensorSource is a SequenceSource over gomlx tensors, one tensor per sample.
type TensorSource = SequenceSource[*tensors.Tensor]

// NewTensorSource creates a TensorSource.
func NewTensorSource(labels []string) *TensorSource {
	return NewSequenceSource[*tensors.Tensor]("tensors", labels)
}

// DatasetSource wraps an existing sized dataset. Each element is exposed under
// KeyInput. In training the first loaded sample is kept in the metadata for
// shape inference.
type DatasetSource struct {
	*Source[SizedDataset]
}

// NewDatasetSource creates a DatasetSource.
func NewDatasetSource() *DatasetSource {
	loadSample := func(s Sample) (Sample, error) {
		return Sample{KeyInput: s[KeyInput]}, nil
	}
	hooks := Hooks[SizedDataset]{
		Default: StageHooks[SizedDataset]{
			LoadData:   datasetDescriptors(false, loadSample),
			LoadSample: loadSample,
		},
		Train: StageHooks[SizedDataset]{
			LoadData: datasetDescriptors(true, loadSample),
		},
	}
	return &DatasetSource{Source: NewSource("dataset", hooks)}
}

func datasetDescriptors(keepShape bool, loadSample LoadSampleFunc) LoadDataFunc[SizedDataset] {
	return func(_ context.Context, raw SizedDataset, md *Metadata) (Records, error) {
		out := make([]Sample, raw.Len())
		for i := range out {
			elem, err := raw.Get(i)
			if err != nil {
				return Records{}, fmt.Errorf("failed to read element %d: %w", i, err)
			}
			out[i] = Sample{KeyInput: elem}
		}
		if keepShape && len(out) > 0 {
			first, err := loadSample(out[0].Clone())
			if err != nil {
				return Records{}, err
			}
			md.Sample = first
		}
		return List(out), nil
	}
}
