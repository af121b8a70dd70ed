package transforms

import (
	"fmt"
	"image"
	"reflect"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/Noofbiz/stagedata/datasets"
)

// Batch is a collated group of samples: each key holds the stacked values of
// that key.
type Batch map[string]any

// Size returns the number of samples in the batch, or -1 if unknown.
func (b Batch) Size() int {
	n, ok := b[KeyBatchSize].(int)
	if !ok {
		return -1
	}
	return n
}

// KeyBatchSize holds the number of samples of a collated batch.
const KeyBatchSize = "batch_size"

// Collate stacks samples key by key. Tensors, images, numbers and numeric
// slices of equal shape become one tensor with a leading batch axis. Other
// values, and everything under the metadata key, are kept as a []any.
func Collate(v any) (any, error) {
	samples, ok := v.([]datasets.Sample)
	if !ok {
		return nil, fmt.Errorf("collate expects []datasets.Sample, got %T", v)
	}
	out := Batch{KeyBatchSize: len(samples)}
	if len(samples) == 0 {
		return out, nil
	}
	for key := range samples[0] {
		values := make([]any, len(samples))
		for i, s := range samples {
			val, ok := s[key]
			if !ok {
				return nil, fmt.Errorf("collate: sample %d has no key %q", i, key)
			}
			values[i] = val
		}
		if key == datasets.KeyMetadata {
			out[key] = values
			continue
		}
		stacked, err := stack(values)
		if err != nil {
			return nil, fmt.Errorf("collate key %q: %w", key, err)
		}
		out[key] = stacked
	}
	return out, nil
}

func stack(values []any) (any, error) {
	switch values[0].(type) {
	case *tensors.Tensor:
		goValues := make([]any, len(values))
		for i, v := range values {
			t, ok := v.(*tensors.Tensor)
			if !ok {
				return nil, fmt.Errorf("mixed value types %T and %T", values[0], v)
			}
			goValues[i] = t.Value()
		}
		return fromSlice(goValues)
	case image.Image:
		imgs := make([]image.Image, len(values))
		for i, v := range values {
			img, ok := v.(image.Image)
			if !ok {
				return nil, fmt.Errorf("mixed value types %T and %T", values[0], v)
			}
			imgs[i] = img
		}
		if err := sameImageSize(imgs); err != nil {
			return nil, err
		}
		return timage.ToTensor(dtypes.Float32).Batch(imgs), nil
	}
	if numeric(reflect.TypeOf(values[0])) {
		return fromSlice(values)
	}
	return values, nil
}

func sameImageSize(imgs []image.Image) error {
	size := imgs[0].Bounds().Size()
	for i, img := range imgs[1:] {
		if got := img.Bounds().Size(); got != size {
			return fmt.Errorf("image %d has size %v, expected %v", i+1, got, size)
		}
	}
	return nil
}

// numeric reports whether t is a number or a (nested) slice of numbers.
func numeric(t reflect.Type) bool {
	for t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
		t = t.Elem()
	}
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// fromSlice builds a typed slice out of values and converts it to a tensor.
// Ragged shapes are reported as errors.
func fromSlice(values []any) (t *tensors.Tensor, err error) {
	elemType := reflect.TypeOf(values[0])
	slice := reflect.MakeSlice(reflect.SliceOf(elemType), len(values), len(values))
	for i, v := range values {
		rv := reflect.ValueOf(v)
		if rv.Type() != elemType {
			return nil, fmt.Errorf("mixed value types %s and %s", elemType, rv.Type())
		}
		if i > 0 && !sameShape(values[0], v) {
			return nil, fmt.Errorf("value %d has a different shape than value 0", i)
		}
		slice.Index(i).Set(rv)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to stack values: %v", r)
		}
	}()
	return tensors.FromAnyValue(slice.Interface()), nil
}

// sameShape compares the lengths of nested slices.
func sameShape(a, b any) bool {
	var walk func(x, y reflect.Value) bool
	walk = func(x, y reflect.Value) bool {
		if x.Kind() != reflect.Slice && x.Kind() != reflect.Array {
			return true
		}
		if x.Len() != y.Len() {
			return false
		}
		for i := range x.Len() {
			if !walk(x.Index(i), y.Index(i)) {
				return false
			}
		}
		return true
	}
	return walk(reflect.ValueOf(a), reflect.ValueOf(b))
}
