// Package visualize shows predicted labels next to the images they belong
// to. Predictions are stored in a labeled collection and served as a small
// web page with a label histogram and the list of samples.
package visualize

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Noofbiz/stagedata/collection"
	"github.com/Noofbiz/stagedata/datamodule"
	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/images"
	"github.com/Noofbiz/stagedata/internal/ctxlog"
)

// ErrToolUnavailable is returned when an external program needed to show the
// results is not installed.
var ErrToolUnavailable = errors.New("visualization tool unavailable")

// DefaultLabelField is the collection field the predictions are stored in.
const DefaultLabelField = "predictions"

// Prediction pairs a label with the file it was predicted for.
type Prediction struct {
	Filepath string
	Label    any
}

// Input holds what to visualize.
//
// Labels may hold strings, collection labels or Predictions, or slices of
// them (one slice per batch), which are flattened. When the labels are
// Predictions they carry their own file paths. Otherwise the file paths come
// from Filepaths, or from the predict dataset of DataModule.
type Input struct {
	Labels     []any
	Filepaths  []string
	DataModule *datamodule.DataModule
}

// Options configures a visualization session.
type Options struct {
	// Store keeps the collection. Nil opens a private in-memory store that is
	// closed with the session.
	Store *collection.Store
	// Collection names the created collection. Empty picks a unique name.
	Collection string
	// LabelField defaults to DefaultLabelField.
	LabelField string
	// Addr is the listen address of the web page, 127.0.0.1:0 by default.
	Addr string
	// Launch opens the page, for example in a browser. Nil leaves it to the
	// caller.
	Launch Launcher
	// Wait blocks Visualize until the session is closed.
	Wait bool
}

// Visualize stores labels with their file paths in a collection and serves
// it. With opts.Wait it returns only after the session was closed from the
// page or ctx was cancelled.
func Visualize(ctx context.Context, in Input, opts Options) (*Session, error) {
	labels, filepaths, err := unpack(in)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(filepaths) {
		return nil, fmt.Errorf("%w: %d labels but %d file paths", datasets.ErrConfiguration, len(labels), len(filepaths))
	}
	if opts.LabelField == "" {
		opts.LabelField = DefaultLabelField
	}
	if opts.Collection == "" {
		opts.Collection = "predictions-" + uuid.NewString()
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}

	store, owned := opts.Store, false
	if store == nil {
		if store, err = collection.Open(ctx, ":memory:"); err != nil {
			return nil, err
		}
		owned = true
	}
	coll, err := fill(ctx, store, opts.Collection, opts.LabelField, filepaths, labels)
	if err != nil {
		if owned {
			store.Close()
		}
		return nil, err
	}

	s, err := serve(ctx, coll, opts)
	if err != nil {
		if owned {
			store.Close()
		}
		return nil, err
	}
	if owned {
		s.store = store
	}
	ctxlog.FromContext(ctx).Info("Visualization ready.", "url", s.URL(), "samples", len(filepaths), "collection", coll.Name())

	if opts.Launch != nil {
		if err := opts.Launch(s.URL()); err != nil {
			s.Close()
			return nil, err
		}
	}
	if opts.Wait {
		err := s.Wait(ctx)
		s.Close()
		if err != nil && !errors.Is(err, context.Canceled) {
			return s, err
		}
	}
	return s, nil
}

func fill(ctx context.Context, store *collection.Store, name, field string, filepaths []string, labels []collection.Label) (*collection.Collection, error) {
	coll, err := store.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	samples := make([]collection.Sample, len(filepaths))
	for i, path := range filepaths {
		samples[i] = collection.Sample{
			Filepath: path,
			Fields:   map[string]collection.Label{field: labels[i]},
		}
	}
	if _, err := coll.AddSamples(ctx, samples); err != nil {
		return nil, err
	}
	return coll, nil
}

// unpack flattens batched labels, splits Predictions and resolves the file
// paths.
func unpack(in Input) ([]collection.Label, []string, error) {
	raw := flatten(in.Labels)

	filepaths := in.Filepaths
	if len(raw) > 0 && allPredictions(raw) {
		filepaths = make([]string, len(raw))
		for i, v := range raw {
			p := v.(Prediction)
			filepaths[i], raw[i] = p.Filepath, p.Label
		}
	}

	labels := make([]collection.Label, len(raw))
	for i, v := range raw {
		l, err := toLabel(v)
		if err != nil {
			return nil, nil, fmt.Errorf("label %d: %w", i, err)
		}
		labels[i] = l
	}

	if filepaths == nil {
		if in.DataModule == nil {
			return nil, nil, fmt.Errorf("%w: file paths or a data module are required when the labels carry no file paths", datasets.ErrConfiguration)
		}
		var err error
		if filepaths, err = predictFilepaths(in.DataModule); err != nil {
			return nil, nil, err
		}
	}
	return labels, filepaths, nil
}

// flatten concatenates the labels when every element is a batch.
func flatten(labels []any) []any {
	if len(labels) == 0 {
		return labels
	}
	var out []any
	for _, v := range labels {
		switch batch := v.(type) {
		case []any:
			out = append(out, batch...)
		case []string:
			for _, l := range batch {
				out = append(out, l)
			}
		case []Prediction:
			for _, p := range batch {
				out = append(out, p)
			}
		case []collection.Label:
			for _, l := range batch {
				out = append(out, l)
			}
		default:
			return labels
		}
	}
	return out
}

func allPredictions(labels []any) bool {
	for _, v := range labels {
		if _, ok := v.(Prediction); !ok {
			return false
		}
	}
	return true
}

func toLabel(v any) (collection.Label, error) {
	switch l := v.(type) {
	case string:
		return collection.Classification{Label: l}, nil
	case collection.Label:
		return l, nil
	}
	return nil, fmt.Errorf("%w: unsupported label type %T", datasets.ErrConfiguration, v)
}

// predictFilepaths reads the file path of every predict descriptor.
func predictFilepaths(dm *datamodule.DataModule) ([]string, error) {
	ds, ok := dm.PredictDataset().(*datasets.AutoDataset)
	if !ok {
		return nil, fmt.Errorf("%w: the data module has no sized predict dataset", datasets.ErrConfiguration)
	}
	descriptors := ds.Descriptors()
	out := make([]string, len(descriptors))
	for i, d := range descriptors {
		path, ok := descriptorPath(d)
		if !ok {
			return nil, fmt.Errorf("%w: predict sample %d has no file path", datasets.ErrConfiguration, i)
		}
		out[i] = path
	}
	return out, nil
}

func descriptorPath(d datasets.Sample) (string, bool) {
	if md, ok := d[datasets.KeyMetadata].(map[string]any); ok {
		if path, ok := md[images.MetaFilepath].(string); ok {
			return path, true
		}
	}
	path, ok := d[datasets.KeyInput].(string)
	return path, ok
}
