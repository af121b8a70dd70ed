package datasets

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/Noofbiz/stagedata/stage"
)

// SubsetDataset exposes a selection of the samples of another sized dataset.
type SubsetDataset struct {
	original SizedDataset
	indices  []int
	name     string
}

var _ SizedDataset = &SubsetDataset{}

// NewSubset creates a SubsetDataset over the given indices of original.
func NewSubset(original SizedDataset, indices []int) (*SubsetDataset, error) {
	n := original.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("subset index %d out of range [0, %d)", idx, n)
		}
	}
	return &SubsetDataset{
		original: original,
		indices:  slices.Clone(indices),
		name:     original.Name(),
	}, nil
}

// Limit returns a subset holding at most the first limit samples of original.
func Limit(original SizedDataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	limit = min(limit, original.Len())
	indices := make([]int, limit)
	for i := range indices {
		indices[i] = i
	}
	return NewSubset(original, indices)
}

// Split shuffles the indices of ds with the given seed and cuts them into a
// first part holding fraction of the samples and a second part with the rest.
func Split(ds SizedDataset, fraction float64, seed uint64) (*SubsetDataset, *SubsetDataset, error) {
	if fraction < 0 || fraction > 1 {
		return nil, nil, fmt.Errorf("%w: split fraction %g not in [0, 1]", ErrConfiguration, fraction)
	}
	n := ds.Len()
	perm := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)).Perm(n)
	cut := int(float64(n) * fraction)
	first, err := NewSubset(ds, perm[:cut])
	if err != nil {
		return nil, nil, err
	}
	second, err := NewSubset(ds, perm[cut:])
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

// WithStage returns a view of the subset reporting stage s, used when a split
// of the training data serves as validation data. The view is named after the
// source with the new stage, "folders[val]" for a split of "folders[train]".
func (sd *SubsetDataset) WithStage(s stage.Stage) SizedDataset {
	base := sd.name
	if i := strings.LastIndex(base, "["); i > 0 && strings.HasSuffix(base, "]") {
		base = base[:i]
	}
	return &stagedSubset{SubsetDataset: sd, stage: s, name: fmt.Sprintf("%s[%s]", base, s)}
}

// Descriptors returns the raw descriptors selected by the subset, when the
// original dataset exposes its descriptors.
func (sd *SubsetDataset) Descriptors() ([]Sample, bool) {
	var all []Sample
	switch o := sd.original.(type) {
	case *AutoDataset:
		all = o.Descriptors()
	case interface{ Descriptors() ([]Sample, bool) }:
		var ok bool
		if all, ok = o.Descriptors(); !ok {
			return nil, false
		}
	default:
		return nil, false
	}
	out := make([]Sample, len(sd.indices))
	for i, idx := range sd.indices {
		out[i] = all[idx]
	}
	return out, true
}

func (sd *SubsetDataset) Name() string       { return sd.name }
func (sd *SubsetDataset) Stage() stage.Stage { return sd.original.Stage() }
func (sd *SubsetDataset) Metadata() Metadata { return sd.original.Metadata() }
func (sd *SubsetDataset) Len() int           { return len(sd.indices) }

// Get returns sample idx of the subset.
func (sd *SubsetDataset) Get(idx int) (Sample, error) {
	if idx < 0 || idx >= len(sd.indices) {
		return nil, fmt.Errorf("index out of bounds for subset: %d (len: %d)", idx, len(sd.indices))
	}
	return sd.original.Get(sd.indices[idx])
}

// All yields the subset in order.
func (sd *SubsetDataset) All() iter.Seq2[Sample, error] {
	return func(yield func(Sample, error) bool) {
		for i := range sd.indices {
			s, err := sd.Get(i)
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}

type stagedSubset struct {
	*SubsetDataset
	stage stage.Stage
	name  string
}

func (s *stagedSubset) Name() string       { return s.name }
func (s *stagedSubset) Stage() stage.Stage { return s.stage }
