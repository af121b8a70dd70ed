package datamodule

import (
	"context"
	"fmt"
	"io"
	"iter"
	"math/rand/v2"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"golang.org/x/sync/errgroup"

	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/stage"
	"github.com/Noofbiz/stagedata/transforms"
)

// Loader assembles batches of one dataset. Samples of a batch are loaded and
// transformed by up to NumWorkers goroutines; batches always come out in
// sample order.
type Loader struct {
	name      string
	ds        datasets.Dataset
	stage     stage.Stage
	batchSize int
	workers   int
	shuffle   bool
	dropLast  bool
	rng       *rand.Rand

	sampleFn transforms.Func
	deviceFn transforms.Func
	collate  transforms.Func
	batchFn  transforms.Func

	next func() (transforms.Batch, error, bool)
	stop func()
}

var _ train.Dataset = &Loader{}

func newLoader(ds datasets.Dataset, pre *transforms.Preprocess, cfg Config, shuffle, dropLast bool) (*Loader, error) {
	st := ds.Stage()
	l := &Loader{
		name:      ds.Name(),
		ds:        ds,
		stage:     st,
		batchSize: cfg.BatchSize,
		workers:   cfg.NumWorkers,
		shuffle:   shuffle,
		dropLast:  dropLast,
		rng:       rand.New(rand.NewPCG(cfg.Seed, uint64(st))),
	}
	var err error
	if l.sampleFn, err = pre.SampleTransform(st); err != nil {
		return nil, err
	}
	if l.deviceFn, err = pre.DeviceSampleTransform(st); err != nil {
		return nil, err
	}
	if l.collate, err = pre.Collate(st); err != nil {
		return nil, err
	}
	if l.batchFn, err = pre.BatchTransform(st); err != nil {
		return nil, err
	}
	return l, nil
}

// Name implements train.Dataset.
func (l *Loader) Name() string { return l.name }

// Stage returns the stage of the underlying dataset.
func (l *Loader) Stage() stage.Stage { return l.stage }

// Len returns the number of batches per epoch, or -1 for streaming datasets.
func (l *Loader) Len() int {
	sized, ok := l.ds.(datasets.SizedDataset)
	if !ok {
		return -1
	}
	n := sized.Len()
	if l.dropLast {
		return n / l.batchSize
	}
	return (n + l.batchSize - 1) / l.batchSize
}

// Batches yields one epoch of batches. Sized datasets are reshuffled on every
// call when shuffling is on. Iteration stops at the first error.
func (l *Loader) Batches(ctx context.Context) iter.Seq2[transforms.Batch, error] {
	return func(yield func(transforms.Batch, error) bool) {
		for g, err := range l.groups() {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(nil, err)
				return
			}
			b, err := l.assemble(ctx, g)
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// group is the raw material of one batch: indices into a sized dataset, or
// samples already pulled from a stream.
type group struct {
	indices []int
	samples []datasets.Sample
}

func (g group) len() int { return max(len(g.indices), len(g.samples)) }

func (l *Loader) groups() iter.Seq2[group, error] {
	if sized, ok := l.ds.(datasets.SizedDataset); ok {
		return l.sizedGroups(sized)
	}
	return l.streamGroups()
}

func (l *Loader) sizedGroups(ds datasets.SizedDataset) iter.Seq2[group, error] {
	return func(yield func(group, error) bool) {
		n := ds.Len()
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		if l.shuffle {
			l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		for start := 0; start < n; start += l.batchSize {
			end := min(start+l.batchSize, n)
			if l.dropLast && end-start < l.batchSize {
				return
			}
			if !yield(group{indices: order[start:end]}, nil) {
				return
			}
		}
	}
}

// streamGroups reads raw samples in order. load-sample has already run on
// them; only the transforms are left for the workers.
func (l *Loader) streamGroups() iter.Seq2[group, error] {
	return func(yield func(group, error) bool) {
		var pending []datasets.Sample
		for s, err := range l.ds.All() {
			if err != nil {
				yield(group{}, err)
				return
			}
			pending = append(pending, s)
			if len(pending) == l.batchSize {
				if !yield(group{samples: pending}, nil) {
					return
				}
				pending = nil
			}
		}
		if len(pending) > 0 && !l.dropLast {
			yield(group{samples: pending}, nil)
		}
	}
}

func (l *Loader) assemble(ctx context.Context, g group) (transforms.Batch, error) {
	out := make([]datasets.Sample, g.len())
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(l.workers, 1))
	for i := range out {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var (
				s   datasets.Sample
				err error
			)
			if g.indices != nil {
				s, err = l.ds.(datasets.SizedDataset).Get(g.indices[i])
			} else {
				s = g.samples[i]
			}
			if err != nil {
				return err
			}
			v, err := transforms.Compose(l.sampleFn, l.deviceFn)(s)
			if err != nil {
				return fmt.Errorf("%s: sample transform: %w", l.name, err)
			}
			sample, ok := asSample(v)
			if !ok {
				return fmt.Errorf("%s: sample transform returned %T, expected a sample", l.name, v)
			}
			out[i] = sample
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	collated, err := l.collate(out)
	if err != nil {
		return nil, fmt.Errorf("%s: collate: %w", l.name, err)
	}
	v, err := l.batchFn(collated)
	if err != nil {
		return nil, fmt.Errorf("%s: batch transform: %w", l.name, err)
	}
	b, ok := asBatch(v)
	if !ok {
		return nil, fmt.Errorf("%s: batch transform returned %T, expected a batch", l.name, v)
	}
	return b, nil
}

func asSample(v any) (datasets.Sample, bool) {
	switch s := v.(type) {
	case datasets.Sample:
		return s, true
	case map[string]any:
		return datasets.Sample(s), true
	}
	return nil, false
}

func asBatch(v any) (transforms.Batch, bool) {
	switch b := v.(type) {
	case transforms.Batch:
		return b, true
	case map[string]any:
		return transforms.Batch(b), true
	}
	return nil, false
}

// Yield implements train.Dataset: inputs holds the collated input tensor and
// labels the collated target tensor, when there is one. It returns io.EOF at
// the end of the epoch; call Reset to start another one.
func (l *Loader) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if l.next == nil {
		l.next, l.stop = iter.Pull2(l.Batches(context.Background()))
	}
	b, err, ok := l.next()
	if !ok {
		return nil, nil, nil, io.EOF
	}
	if err != nil {
		return nil, nil, nil, err
	}

	in, ok := b[datasets.KeyInput].(*tensors.Tensor)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%s: batch input is %T, expected a tensor", l.name, b[datasets.KeyInput])
	}
	inputs = []*tensors.Tensor{in}
	if target, ok := b[datasets.KeyTarget]; ok {
		t, ok := target.(*tensors.Tensor)
		if !ok {
			return nil, nil, nil, fmt.Errorf("%s: batch target is %T, expected a tensor", l.name, target)
		}
		labels = []*tensors.Tensor{t}
	}
	return l, inputs, labels, nil
}

// Reset implements train.Dataset.
func (l *Loader) Reset() {
	if l.stop != nil {
		l.stop()
	}
	l.next, l.stop = nil, nil
}
