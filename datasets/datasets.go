package datasets

import (
	"errors"
	"iter"
	"maps"

	"github.com/Noofbiz/stagedata/stage"
)

// This package turns raw user data into per-stage datasets in two phases.
//
// A Source first runs its load-data hook once per stage. The hook does the
// cheap enumeration work (list a folder, parse an annotation file, index a
// CSV) and returns lightweight descriptors. The dataset then runs the
// load-sample hook lazily, once per access, to materialize a descriptor into a
// full Sample (decode an image, read a CSV row).
//
// Layout and intended usage:
//
// Source[R]
//   - Holds a per-stage table of hooks, resolved once at construction.
//     A stage slot that is left empty falls back to the default slot, and an
//     empty default falls back to the identity hooks.
//   - GenerateDataset switches the source to the requested stage while the
//     load-data hook runs, so hooks can branch on Training()/Predicting().
//   - Anything the hook records in the *Metadata side-channel (class count,
//     labels, column statistics) ends up on the produced Dataset.
//
// AutoDataset / IterableDataset
//   - Sized and streaming datasets respectively. Both apply load-sample on
//     a copy of the descriptor so that repeated or concurrent access never
//     mutates the stored descriptors.

// ErrConfiguration is returned when a source is misconfigured: mutually
// exclusive options are both set or both missing, or the raw input is not a
// type the source understands.
var ErrConfiguration = errors.New("configuration error")

// Well-known sample keys.
const (
	KeyInput    = "input"
	KeyTarget   = "target"
	KeyPreds    = "preds"
	KeyMetadata = "metadata"
)

// Sample is a mapping from string keys to data or metadata. The keys listed
// above have a fixed meaning; any other key is free for sources to use.
type Sample map[string]any

// Clone returns a shallow copy of the sample.
func (s Sample) Clone() Sample {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Input returns the value stored under KeyInput.
func (s Sample) Input() any { return s[KeyInput] }

// Target returns the value stored under KeyTarget and whether it is present.
func (s Sample) Target() (any, bool) {
	v, ok := s[KeyTarget]
	return v, ok
}

// Dataset is the common contract of sized and streaming datasets.
type Dataset interface {
	Name() string
	Stage() stage.Stage
	// Metadata returns the dataset-level state captured while loading.
	Metadata() Metadata
	// All yields every materialized sample in order.
	All() iter.Seq2[Sample, error]
}

// SizedDataset is a Dataset with a known length and random access.
type SizedDataset interface {
	Dataset
	Len() int
	Get(i int) (Sample, error)
}
