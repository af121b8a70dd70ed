package transforms

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/stage"
)

func addInt(n int) Func {
	return func(v any) (any, error) { return v.(int) + n, nil }
}

func appendTag(tag string) Func {
	return func(v any) (any, error) {
		s := v.(datasets.Sample).Clone()
		s["trace"] = append(append([]string{}, traceOf(s)...), tag)
		return s, nil
	}
}

func traceOf(s datasets.Sample) []string {
	t, _ := s["trace"].([]string)
	return t
}

func TestCompose(t *testing.T) {
	double := func(v any) (any, error) { return v.(int) * 2, nil }
	got, err := Compose(addInt(1), nil, double)(3)
	require.NoError(t, err)
	assert.Equal(t, 8, got)

	boom := errors.New("boom")
	_, err = Compose(func(any) (any, error) { return nil, boom }, addInt(1))(1)
	require.ErrorIs(t, err, boom)
}

func TestApplyToKeys(t *testing.T) {
	in := datasets.Sample{datasets.KeyInput: 1, datasets.KeyTarget: 10}
	got, err := ApplyToKeys(addInt(5), datasets.KeyInput, "missing")(in)
	require.NoError(t, err)

	assert.Equal(t, datasets.Sample{datasets.KeyInput: 6, datasets.KeyTarget: 10}, got)
	assert.Equal(t, 1, in[datasets.KeyInput], "input sample untouched")

	_, err = ApplyToInput(addInt(1))(42)
	require.Error(t, err)
}

func TestTransform_ResolveOrder(t *testing.T) {
	tr := &Transform{
		Hooks: Table{PostTensor: appendTag("sample")},
		Keys: map[string]Table{
			datasets.KeyTarget: {PostTensor: addInt(100)},
			datasets.KeyInput:  {PostTensor: addInt(1), PreTensor: addInt(10)},
		},
	}
	table := tr.Resolve()
	require.Contains(t, table, PreTensor)
	require.Contains(t, table, PostTensor)
	assert.NotContains(t, table, PerBatch)

	got, err := Compose(table[PreTensor], table[PostTensor])(datasets.Sample{datasets.KeyInput: 0, datasets.KeyTarget: 0})
	require.NoError(t, err)
	s := got.(datasets.Sample)
	assert.Equal(t, 11, s[datasets.KeyInput])
	assert.Equal(t, 100, s[datasets.KeyTarget])
	assert.Equal(t, []string{"sample"}, traceOf(s))
}

func TestPreprocess_UserTransformWins(t *testing.T) {
	var defaultStages []stage.Stage
	var p *Preprocess
	p, err := New(Config{
		Transforms: Set{Train: InputOnly(Table{ToTensorHook: addInt(1)})},
		Defaults: func(st stage.Stage) (*Transform, error) {
			defaultStages = append(defaultStages, p.Stage())
			if st == stage.Testing {
				return nil, NotSupported("test")
			}
			return InputOnly(Table{ToTensorHook: addInt(1000)}), nil
		},
	})
	require.NoError(t, err)

	train, err := p.SampleTransform(stage.Training)
	require.NoError(t, err)
	got, err := train(datasets.Sample{datasets.KeyInput: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, got.(datasets.Sample).Input())

	predict, err := p.SampleTransform(stage.Predicting)
	require.NoError(t, err)
	got, err = predict(datasets.Sample{datasets.KeyInput: 0})
	require.NoError(t, err)
	assert.Equal(t, 1000, got.(datasets.Sample).Input())
	assert.Equal(t, []stage.Stage{stage.Predicting}, defaultStages)

	_, err = p.SampleTransform(stage.Testing)
	require.ErrorIs(t, err, ErrNotSupported)
	assert.Equal(t, stage.Training, p.Stage())

	collate, err := p.Collate(stage.Training)
	require.NoError(t, err)
	batch, err := collate([]datasets.Sample{{"x": 1}, {"x": 2}})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.(Batch).Size())
}

func TestPreprocess_DefaultSetFallback(t *testing.T) {
	p, err := New(Config{Transforms: Set{Default: &Transform{Hooks: Table{PerBatch: Identity}}}})
	require.NoError(t, err)
	table, err := p.Transform(stage.Validating)
	require.NoError(t, err)
	assert.Contains(t, table, PerBatch)
}

type namedGen struct{ datasets.Generator }

func TestPreprocess_Sources(t *testing.T) {
	src := datasets.NewSource("files", datasets.Hooks[[]datasets.Sample]{})
	_, err := New(Config{DefaultSource: "files"})
	require.ErrorIs(t, err, datasets.ErrConfiguration)

	p, err := New(Config{Sources: map[string]datasets.Generator{"files": src}, DefaultSource: "files"})
	require.NoError(t, err)
	p.Register("folders", namedGen{src})

	got, err := p.Source("")
	require.NoError(t, err)
	assert.Equal(t, "files", got.Name())
	assert.Equal(t, []string{"files", "folders"}, p.SourceNames())
	_, err = p.Source("coco")
	require.ErrorIs(t, err, datasets.ErrConfiguration)
}

func TestCollate_Numeric(t *testing.T) {
	got, err := Collate([]datasets.Sample{
		{datasets.KeyInput: []float32{1, 2}, datasets.KeyTarget: 0, datasets.KeyMetadata: "a", "name": "x"},
		{datasets.KeyInput: []float32{3, 4}, datasets.KeyTarget: 1, datasets.KeyMetadata: "b", "name": "y"},
	})
	require.NoError(t, err)
	b := got.(Batch)

	in := b[datasets.KeyInput].(*tensors.Tensor)
	assert.Equal(t, []int{2, 2}, in.Shape().Dimensions)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, in.Value())
	target := b[datasets.KeyTarget].(*tensors.Tensor)
	assert.Equal(t, []int{2}, target.Shape().Dimensions)
	assert.Equal(t, []any{"a", "b"}, b[datasets.KeyMetadata])
	assert.Equal(t, []any{"x", "y"}, b["name"])
}

func TestCollate_Errors(t *testing.T) {
	_, err := Collate([]datasets.Sample{
		{datasets.KeyInput: []float32{1, 2}},
		{datasets.KeyInput: []float32{3}},
	})
	require.Error(t, err)

	_, err = Collate([]datasets.Sample{{datasets.KeyInput: 1}, {"other": 1}})
	require.Error(t, err)

	_, err = Collate("nope")
	require.Error(t, err)
}

func TestCollate_ImagesAndTensors(t *testing.T) {
	img := func() image.Image { return imaging.New(4, 3, color.NRGBA{G: 255, A: 255}) }
	got, err := Collate([]datasets.Sample{{datasets.KeyInput: img()}, {datasets.KeyInput: img()}})
	require.NoError(t, err)
	dims := got.(Batch)[datasets.KeyInput].(*tensors.Tensor).Shape().Dimensions
	assert.Equal(t, []int{2, 3, 4}, dims[:3])

	single, err := ToTensor(img())
	require.NoError(t, err)
	got, err = Collate([]datasets.Sample{{datasets.KeyInput: single}, {datasets.KeyInput: single}})
	require.NoError(t, err)
	assert.Equal(t, dims, got.(Batch)[datasets.KeyInput].(*tensors.Tensor).Shape().Dimensions)

	_, err = Collate([]datasets.Sample{
		{datasets.KeyInput: imaging.New(4, 3, color.NRGBA{})},
		{datasets.KeyInput: imaging.New(5, 3, color.NRGBA{})},
	})
	require.Error(t, err)
}

func TestImageTransforms(t *testing.T) {
	img := imaging.New(40, 20, color.NRGBA{A: 255})
	out, err := Compose(Resize(10), CenterCrop(10, 10))(img)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), out.(image.Image).Bounds())

	_, err = Resize(10)(3)
	require.Error(t, err)

	passthrough, err := ToTensor("already")
	require.NoError(t, err)
	assert.Equal(t, "already", passthrough)
}
