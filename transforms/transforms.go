// Package transforms composes the per-stage functions applied to samples and
// batches on their way from a dataset to the training loop.
//
// A sample flows through the hook points in this order:
//
//	pre_tensor_transform -> to_tensor_transform -> post_tensor_transform
//	  -> per_sample_transform_on_device -> collate
//	  -> per_batch_transform -> per_batch_transform_on_device
//
// The on-device hooks run after the off-device ones. Without an accelerator
// both run on the host.
package transforms

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/stage"
)

// Hook names a point of the pipeline.
type Hook string

const (
	PreTensor         Hook = "pre_tensor_transform"
	ToTensorHook      Hook = "to_tensor_transform"
	PostTensor        Hook = "post_tensor_transform"
	PerSampleOnDevice Hook = "per_sample_transform_on_device"
	PerBatch          Hook = "per_batch_transform"
	PerBatchOnDevice  Hook = "per_batch_transform_on_device"
	CollateHook       Hook = "collate"
)

// Hooks lists every hook point in pipeline order.
func Hooks() []Hook {
	return []Hook{PreTensor, ToTensorHook, PostTensor, PerSampleOnDevice, CollateHook, PerBatch, PerBatchOnDevice}
}

// ErrNotSupported marks a stage a task cannot run.
var ErrNotSupported = errors.New("stage not supported")

// NotSupported returns an ErrNotSupported error for stage name.
func NotSupported(name string) error {
	return fmt.Errorf("%w: the %s stage is not supported for this task", ErrNotSupported, name)
}

// Func transforms a value: a sample, one field of a sample, or a batch. The
// collate hook receives a []datasets.Sample.
type Func func(any) (any, error)

// Table maps hook points to functions.
type Table map[Hook]Func

// Compose chains fns left to right. Nil entries are skipped.
func Compose(fns ...Func) Func {
	fns = slices.DeleteFunc(slices.Clone(fns), func(f Func) bool { return f == nil })
	return func(v any) (any, error) {
		var err error
		for _, f := range fns {
			if v, err = f(v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

// Identity returns its input.
func Identity(v any) (any, error) { return v, nil }

// ApplyToKeys applies fn to the value of each key of a sample or batch,
// leaving the other keys untouched. Missing keys are skipped. The input
// mapping is not modified.
func ApplyToKeys(fn Func, keys ...string) Func {
	return func(v any) (any, error) {
		src, ok := asMap(v)
		if !ok {
			return nil, fmt.Errorf("apply to keys %v: expected a sample, got %T", keys, v)
		}
		out := maps.Clone(src)
		for _, k := range keys {
			val, ok := out[k]
			if !ok {
				continue
			}
			res, err := fn(val)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = res
		}
		return rewrap(v, out), nil
	}
}

// ApplyToInput applies fn to the input key only.
func ApplyToInput(fn Func) Func {
	return ApplyToKeys(fn, datasets.KeyInput)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case datasets.Sample:
		return m, true
	case Batch:
		return m, true
	case map[string]any:
		return m, true
	}
	return nil, false
}

func rewrap(orig any, m map[string]any) any {
	switch orig.(type) {
	case datasets.Sample:
		return datasets.Sample(m)
	case Batch:
		return Batch(m)
	}
	return m
}

// Transform is the set of functions of one stage. Hooks apply to the whole
// sample or batch; Keys holds tables that apply to a single key. For each
// hook the whole-sample function runs first, then the key functions in key
// order.
type Transform struct {
	Hooks Table
	Keys  map[string]Table
}

// InputOnly scopes every function of t to the input key.
func InputOnly(t Table) *Transform {
	return &Transform{Keys: map[string]Table{datasets.KeyInput: t}}
}

// Resolve flattens t into one function per hook.
func (t *Transform) Resolve() Table {
	out := make(Table)
	if t == nil {
		return out
	}
	keys := slices.Sorted(maps.Keys(t.Keys))
	for _, h := range Hooks() {
		var chain []Func
		if f := t.Hooks[h]; f != nil {
			chain = append(chain, f)
		}
		if h != CollateHook {
			for _, k := range keys {
				if f := t.Keys[k][h]; f != nil {
					chain = append(chain, ApplyToKeys(f, k))
				}
			}
		}
		switch len(chain) {
		case 0:
		case 1:
			out[h] = chain[0]
		default:
			out[h] = Compose(chain...)
		}
	}
	return out
}

// Set holds the user transforms of every stage. A nil stage entry falls back
// to Default; a nil Default falls back to the task defaults.
type Set struct {
	Default *Transform
	Train   *Transform
	Val     *Transform
	Test    *Transform
	Predict *Transform
}

// ForStage returns the user transform of stage s, or nil.
func (s Set) ForStage(st stage.Stage) *Transform {
	var t *Transform
	switch st {
	case stage.Training:
		t = s.Train
	case stage.Validating:
		t = s.Val
	case stage.Testing:
		t = s.Test
	case stage.Predicting:
		t = s.Predict
	}
	if t == nil {
		t = s.Default
	}
	return t
}
