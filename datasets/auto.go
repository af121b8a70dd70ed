package datasets

import (
	"fmt"
	"iter"

	"github.com/Noofbiz/stagedata/stage"
)

type baseDataset struct {
	name       string
	stage      stage.Stage
	md         Metadata
	loadSample LoadSampleFunc
}

// Name implements Dataset.
func (b *baseDataset) Name() string { return b.name }

// Stage implements Dataset.
func (b *baseDataset) Stage() stage.Stage { return b.stage }

// Metadata implements Dataset. It returns a copy.
func (b *baseDataset) Metadata() Metadata { return b.md.clone() }

func (b *baseDataset) materialize(desc Sample) (Sample, error) {
	s, err := b.loadSample(desc.Clone())
	if err != nil {
		return nil, fmt.Errorf("%s: load sample: %w", b.name, err)
	}
	return s, nil
}

// AutoDataset is a sized dataset over a list of descriptors. Samples are
// materialized on each access.
type AutoDataset struct {
	baseDataset
	descriptors []Sample
}

var _ SizedDataset = &AutoDataset{}

// Len returns the number of descriptors.
func (d *AutoDataset) Len() int { return len(d.descriptors) }

// Get materializes descriptor i.
func (d *AutoDataset) Get(i int) (Sample, error) {
	if i < 0 || i >= len(d.descriptors) {
		return nil, fmt.Errorf("%s: index %d out of range [0, %d)", d.name, i, len(d.descriptors))
	}
	return d.materialize(d.descriptors[i])
}

// All yields every sample in order, stopping at the first error.
func (d *AutoDataset) All() iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		for i := range d.descriptors {
			s, err := d.Get(i)
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}

// Descriptors returns a copy of the raw descriptors.
func (d *AutoDataset) Descriptors() []Sample {
	out := make([]Sample, len(d.descriptors))
	for i, s := range d.descriptors {
		out[i] = s.Clone()
	}
	return out
}

// IterableDataset is a streaming dataset. Its length is unknown and it only
// supports in-order iteration.
type IterableDataset struct {
	baseDataset
	stream iter.Seq2[Sample, error]
}

var _ Dataset = &IterableDataset{}

// All yields samples as the underlying stream produces them, stopping at the
// first error.
func (d *IterableDataset) All() iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		for desc, err := range d.stream {
			if err != nil {
				yield(nil, fmt.Errorf("%s: %w", d.name, err))
				return
			}
			s, err := d.materialize(desc)
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}
