package datasets

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/Noofbiz/stagedata/internal/ctxlog"
	"github.com/Noofbiz/stagedata/stage"
)

// LoadDataFunc enumerates raw input into descriptors. Hooks that discover
// dataset-level state record it in md; md is never nil.
type LoadDataFunc[R any] func(ctx context.Context, raw R, md *Metadata) (Records, error)

// LoadSampleFunc materializes a single descriptor. It receives its own copy
// of the descriptor and must not depend on any other sample, so datasets may
// call it from several goroutines at once.
type LoadSampleFunc func(s Sample) (Sample, error)

// NoMetadata adapts a load-data hook that has no use for the metadata
// side-channel.
func NoMetadata[R any](fn func(ctx context.Context, raw R) (Records, error)) LoadDataFunc[R] {
	return func(ctx context.Context, raw R, _ *Metadata) (Records, error) {
		return fn(ctx, raw)
	}
}

// StageHooks is one slot of a hook table. Nil fields fall back.
type StageHooks[R any] struct {
	LoadData   LoadDataFunc[R]
	LoadSample LoadSampleFunc
}

// Hooks declares the loading behaviour of a Source. A stage slot overrides the
// Default slot field by field; anything still unset uses the identity hooks.
type Hooks[R any] struct {
	Default StageHooks[R]
	Train   StageHooks[R]
	Val     StageHooks[R]
	Test    StageHooks[R]
	Predict StageHooks[R]
}

func (h Hooks[R]) slot(s stage.Stage) StageHooks[R] {
	switch s {
	case stage.Training:
		return h.Train
	case stage.Validating:
		return h.Val
	case stage.Testing:
		return h.Test
	default:
		return h.Predict
	}
}

func (h Hooks[R]) resolve() [stage.Count]StageHooks[R] {
	var table [stage.Count]StageHooks[R]
	for _, s := range stage.All() {
		resolved := h.slot(s)
		if resolved.LoadData == nil {
			resolved.LoadData = h.Default.LoadData
		}
		if resolved.LoadData == nil {
			resolved.LoadData = identityLoadData[R]
		}
		if resolved.LoadSample == nil {
			resolved.LoadSample = h.Default.LoadSample
		}
		if resolved.LoadSample == nil {
			resolved.LoadSample = identityLoadSample
		}
		table[s] = resolved
	}
	return table
}

// identityLoadData passes already-loaded collections through unchanged.
func identityLoadData[R any](_ context.Context, raw R, _ *Metadata) (Records, error) {
	switch v := any(raw).(type) {
	case Records:
		return v, nil
	case []Sample:
		return List(v), nil
	case []map[string]any:
		out := make([]Sample, len(v))
		for i, m := range v {
			out[i] = Sample(m)
		}
		return List(out), nil
	case iter.Seq2[Sample, error]:
		return Stream(v), nil
	}
	return Records{}, fmt.Errorf("%w: no load-data hook for raw input of type %T", ErrConfiguration, raw)
}

func identityLoadSample(s Sample) (Sample, error) { return s, nil }

// Generator is the type-erased view of a Source, used by registries that hold
// sources with different raw input types.
type Generator interface {
	Name() string
	GenerateAny(ctx context.Context, raw any, s stage.Stage) (Dataset, error)
}

// Source converts raw input of type R into datasets using its hook table. It
// composes a stage holder, the resolved hooks and the discovered labels.
type Source[R any] struct {
	stage.Holder

	name   string
	table  [stage.Count]StageHooks[R]
	labels *LabelsState
}

// NewSource resolves hooks into a per-stage table.
func NewSource[R any](name string, hooks Hooks[R]) *Source[R] {
	return &Source[R]{name: name, table: hooks.resolve()}
}

// Name returns the source name used for datasets and logs.
func (s *Source[R]) Name() string { return s.name }

// Resolve returns the hooks that are active for the given stage.
func (s *Source[R]) Resolve(st stage.Stage) StageHooks[R] {
	return s.table[st]
}

// Labels returns the class labels recorded on this source, if any.
func (s *Source[R]) Labels() (LabelsState, bool) {
	if s.labels == nil {
		return LabelsState{}, false
	}
	return LabelsState{Labels: slices.Clone(s.labels.Labels)}, true
}

// SetLabels records the class labels on this source.
func (s *Source[R]) SetLabels(labels []string) {
	s.labels = &LabelsState{Labels: slices.Clone(labels)}
}

// GenerateDataset runs the load-data hook of stage st on raw and wraps the
// result into a sized or streaming dataset.
func (s *Source[R]) GenerateDataset(ctx context.Context, raw R, st stage.Stage) (Dataset, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("%w: invalid stage %v", ErrConfiguration, st)
	}
	hooks := s.table[st]

	var (
		md   Metadata
		recs Records
	)
	err := s.With(st, func() error {
		var err error
		recs, err = hooks.LoadData(ctx, raw, &md)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %s load data: %w", s.name, st, err)
	}
	if md.Labels == nil && s.labels != nil {
		md.Labels = slices.Clone(s.labels.Labels)
	}

	base := baseDataset{
		name:       fmt.Sprintf("%s[%s]", s.name, st),
		stage:      st,
		md:         md,
		loadSample: hooks.LoadSample,
	}
	logger := ctxlog.FromContext(ctx)
	if recs.Sized() {
		logger.Debug("Generated sized dataset.", "source", s.name, "stage", st.String(), "samples", recs.Len())
		return &AutoDataset{baseDataset: base, descriptors: recs.Samples()}, nil
	}
	logger.Debug("Generated streaming dataset.", "source", s.name, "stage", st.String())
	return &IterableDataset{baseDataset: base, stream: recs.All()}, nil
}

// GenerateAny is GenerateDataset for callers that only hold an any. A raw
// value of the wrong type is a configuration error.
func (s *Source[R]) GenerateAny(ctx context.Context, raw any, st stage.Stage) (Dataset, error) {
	typed, ok := raw.(R)
	if !ok {
		var zero R
		return nil, fmt.Errorf("%w: source %q expects %T, got %T", ErrConfiguration, s.name, zero, raw)
	}
	return s.GenerateDataset(ctx, typed, st)
}

// Inputs holds the optional raw input of each stage. A nil field produces no
// dataset for that stage.
type Inputs[R any] struct {
	Train, Val, Test, Predict *R
}

// Datasets holds one optional dataset per stage.
type Datasets struct {
	Train, Val, Test, Predict Dataset
}

// ForStage returns the dataset of the given stage, or nil.
func (d Datasets) ForStage(st stage.Stage) Dataset {
	switch st {
	case stage.Training:
		return d.Train
	case stage.Validating:
		return d.Val
	case stage.Testing:
		return d.Test
	case stage.Predicting:
		return d.Predict
	}
	return nil
}

// ToDatasets generates one dataset per stage that has input.
func (s *Source[R]) ToDatasets(ctx context.Context, in Inputs[R]) (Datasets, error) {
	var out Datasets
	targets := []struct {
		raw *R
		st  stage.Stage
		dst *Dataset
	}{
		{in.Train, stage.Training, &out.Train},
		{in.Val, stage.Validating, &out.Val},
		{in.Test, stage.Testing, &out.Test},
		{in.Predict, stage.Predicting, &out.Predict},
	}
	for _, t := range targets {
		if t.raw == nil {
			continue
		}
		ds, err := s.GenerateDataset(ctx, *t.raw, t.st)
		if err != nil {
			return Datasets{}, err
		}
		*t.dst = ds
	}
	return out, nil
}
