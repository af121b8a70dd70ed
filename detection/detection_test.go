package detection

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/Noofbiz/stagedata/collection"
	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/stage"
	"github.com/Noofbiz/stagedata/transforms"
)

func float(f float64) *float64 { return &f }

// sampleCOCO has image 1 with only a one-pixel-wide box, image 2 with a
// regular box plus a zero-height box, and image 3 without annotations.
func sampleCOCO() COCO {
	return COCO{
		Images: []COCOImage{
			{ID: 2, FileName: "b.png"},
			{ID: 1, FileName: "a.png"},
			{ID: 3, FileName: "c.png"},
		},
		Annotations: []COCOAnnotation{
			{ID: 1, ImageID: 1, CategoryID: 1, BBox: [4]float64{5, 5, 1, 10}, Area: float(10)},
			{ID: 2, ImageID: 2, CategoryID: 3, BBox: [4]float64{10, 20, 30, 15}, Area: float(450)},
			{ID: 3, ImageID: 2, CategoryID: 1, BBox: [4]float64{0, 0, 5, 0}, IsCrowd: 1},
		},
		Categories: []COCOCategory{{ID: 1, Name: "cat"}, {ID: 3, Name: "dog"}},
	}
}

func writeCOCO(t *testing.T, path string, c COCO) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var enc *json.Encoder
	switch filepath.Ext(path) {
	case ".gz":
		gz := gzip.NewWriter(f)
		defer gz.Close()
		enc = json.NewEncoder(gz)
	case ".xz":
		xw, err := xz.NewWriter(f)
		require.NoError(t, err)
		defer xw.Close()
		enc = json.NewEncoder(xw)
	default:
		enc = json.NewEncoder(f)
	}
	require.NoError(t, enc.Encode(c))
}

func TestConvertBox(t *testing.T) {
	assert.Equal(t, [4]float64{10, 20, 40, 35}, ConvertBox([4]float64{10, 20, 30, 15}))
	assert.True(t, Degenerate(ConvertBox([4]float64{0, 0, 5, 0})))
	assert.False(t, Degenerate(ConvertBox([4]float64{0, 0, 1, 1})))
}

func TestReadCOCO_Compressed(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ann.json", "ann.json.gz", "ann.json.xz"} {
		path := filepath.Join(dir, name)
		writeCOCO(t, path, sampleCOCO())
		c, err := ReadCOCO(path)
		require.NoError(t, err, name)
		assert.Len(t, c.Images, 3, name)
		n, ok := c.NumClasses()
		require.True(t, ok)
		assert.Equal(t, 4, n)
	}

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err := ReadCOCO(bad)
	require.Error(t, err)
}

func TestCOCOSource_Stages(t *testing.T) {
	dir := t.TempDir()
	ann := filepath.Join(dir, "ann.json")
	writeCOCO(t, ann, sampleCOCO())
	raw := COCOInput{Root: dir, AnnotationFile: ann}
	src := NewCOCOSource()

	ds, err := src.GenerateDataset(context.Background(), raw, stage.Training)
	require.NoError(t, err)
	descs := ds.(*datasets.AutoDataset).Descriptors()
	require.Len(t, descs, 1, "tiny-only and unannotated images are skipped while training")

	want := Target{
		Boxes:   [][4]float64{{10, 20, 40, 35}},
		Labels:  []int{3},
		ImageID: 2,
		Areas:   []float64{450},
		IsCrowd: []int{0},
	}
	assert.Equal(t, filepath.Join(dir, "b.png"), descs[0].Input())
	if diff := cmp.Diff(want, descs[0][datasets.KeyTarget]); diff != "" {
		t.Errorf("target mismatch (-want +got):\n%s", diff)
	}
	n, ok := ds.Metadata().Classes()
	require.True(t, ok)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"", "cat", "", "dog"}, ds.Metadata().Labels)

	ds, err = src.GenerateDataset(context.Background(), raw, stage.Predicting)
	require.NoError(t, err)
	descs = ds.(*datasets.AutoDataset).Descriptors()
	require.Len(t, descs, 3)
	var ids []int64
	for _, d := range descs {
		ids = append(ids, d[datasets.KeyTarget].(Target).ImageID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.Equal(t, 1, descs[0][datasets.KeyTarget].(Target).Len(), "one-pixel box is still kept per box")
	assert.Equal(t, 0, descs[2][datasets.KeyTarget].(Target).Len())
}

func TestCOCOSource_LoadSample(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, imaging.Save(imaging.New(8, 6, color.NRGBA{A: 255}), filepath.Join(dir, "b.png")))
	ann := filepath.Join(dir, "ann.json")
	writeCOCO(t, ann, sampleCOCO())

	ds, err := NewCOCOSource().GenerateDataset(context.Background(), COCOInput{Root: dir, AnnotationFile: ann}, stage.Training)
	require.NoError(t, err)
	s, err := ds.(datasets.SizedDataset).Get(0)
	require.NoError(t, err)
	md := s[datasets.KeyMetadata].(map[string]any)
	assert.Equal(t, [2]int{6, 8}, md["size"])
	assert.Equal(t, filepath.Join(dir, "b.png"), md["filepath"])
}

func TestCOCOSource_MissingAreaUsesBoxSize(t *testing.T) {
	dir := t.TempDir()
	c := sampleCOCO()
	c.Annotations[1].Area = nil
	ann := filepath.Join(dir, "ann.json")
	writeCOCO(t, ann, c)

	ds, err := NewCOCOSource().GenerateDataset(context.Background(), COCOInput{Root: dir, AnnotationFile: ann}, stage.Training)
	require.NoError(t, err)
	target := ds.(*datasets.AutoDataset).Descriptors()[0][datasets.KeyTarget].(Target)
	assert.Equal(t, []float64{450}, target.Areas)
}

func newCollection(t *testing.T) (*collection.Collection, string) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	store, err := collection.Open(ctx, filepath.Join(dir, "c.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	c, err := store.Create(ctx, "dets")
	require.NoError(t, err)

	img := filepath.Join(dir, "img.png")
	require.NoError(t, imaging.Save(imaging.New(200, 100, color.NRGBA{A: 255}), img))
	crowd := 1
	_, err = c.AddSample(ctx, collection.Sample{Filepath: img, Fields: map[string]collection.Label{
		DefaultLabelField: collection.Detections{Detections: []collection.Detection{
			{Label: "zebra", BoundingBox: [4]float64{0.1, 0.2, 0.5, 0.5}},
			{Label: "ant", BoundingBox: [4]float64{0, 0, 0.1, 0.1}, IsCrowd: &crowd},
		}},
	}})
	require.NoError(t, err)
	_, err = c.AddSample(ctx, collection.Sample{Filepath: img})
	require.NoError(t, err)
	return c, img
}

func TestCollectionSource(t *testing.T) {
	c, img := newCollection(t)
	src := NewCollectionSource("")

	ds, err := src.GenerateDataset(context.Background(), c, stage.Training)
	require.NoError(t, err)
	descs := ds.(*datasets.AutoDataset).Descriptors()
	require.Len(t, descs, 2)

	want := Target{
		Boxes:   [][4]float64{{20, 20, 120, 70}, {0, 0, 20, 10}},
		Labels:  []int{1, 0},
		ImageID: 1,
		Areas:   []float64{5000, 200},
		IsCrowd: []int{0, 1},
	}
	if diff := cmp.Diff(want, descs[0][datasets.KeyTarget]); diff != "" {
		t.Errorf("target mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, img, descs[0].Input())
	assert.Equal(t, int64(2), descs[1][datasets.KeyTarget].(Target).ImageID)
	n, _ := ds.Metadata().Classes()
	assert.Equal(t, 2, n)

	labels, ok := src.Labels()
	require.True(t, ok)
	assert.Equal(t, []string{"ant", "zebra"}, labels.Labels)

	ds, err = src.GenerateDataset(context.Background(), c, stage.Predicting)
	require.NoError(t, err)
	assert.Equal(t, datasets.Sample{datasets.KeyInput: img}, ds.(*datasets.AutoDataset).Descriptors()[1])
}

func TestCollectionSource_DeclaredClasses(t *testing.T) {
	ctx := context.Background()
	c, _ := newCollection(t)
	require.NoError(t, c.SetDefaultClasses(ctx, []string{"bg", "zebra", "ant"}))

	src := NewCollectionSource(DefaultLabelField)
	classes, err := src.Classes(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"bg", "zebra", "ant"}, classes)

	require.NoError(t, c.SetClasses(ctx, DefaultLabelField, []string{"zebra"}))
	_, err = src.GenerateDataset(ctx, c, stage.Training)
	require.Error(t, err, "ant is not a declared class")
}

func TestCollectionSource_EmptyDeclaredClasses(t *testing.T) {
	ctx := context.Background()
	c, _ := newCollection(t)
	require.NoError(t, c.SetClasses(ctx, DefaultLabelField, []string{}))
	require.NoError(t, c.SetDefaultClasses(ctx, []string{}))

	src := NewCollectionSource(DefaultLabelField)
	classes, err := src.Classes(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"ant", "zebra"}, classes)

	ds, err := src.GenerateDataset(ctx, c, stage.Training)
	require.NoError(t, err)
	n, _ := ds.Metadata().Classes()
	assert.Equal(t, 2, n)

	require.NoError(t, c.SetDefaultClasses(ctx, []string{"zebra", "ant"}))
	classes, err = src.Classes(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "ant"}, classes)
}

func TestCOCO_NegativeCategoryIDs(t *testing.T) {
	c := COCO{Categories: []COCOCategory{{ID: -3, Name: "x"}, {ID: -1, Name: "y"}}}
	if n, ok := c.NumClasses(); ok {
		t.Fatalf("expected no class count for negative ids, got %d", n)
	}

	c.Categories = append(c.Categories, COCOCategory{ID: 2, Name: "z"})
	n, ok := c.NumClasses()
	require.True(t, ok)
	assert.Equal(t, 3, n)

	dir := t.TempDir()
	ann := filepath.Join(dir, "ann.json")
	writeCOCO(t, ann, COCO{
		Images:     []COCOImage{{ID: 1, FileName: "a.png"}},
		Categories: []COCOCategory{{ID: -1, Name: "bad"}},
	})
	ds, err := NewCOCOSource().GenerateDataset(context.Background(), COCOInput{Root: dir, AnnotationFile: ann}, stage.Predicting)
	require.NoError(t, err)
	_, ok = ds.Metadata().Classes()
	assert.False(t, ok)
}

func TestNewPreprocess(t *testing.T) {
	p, err := NewPreprocess(Config{})
	require.NoError(t, err)
	assert.Equal(t, SourceFiles, p.DefaultSource())
	assert.Equal(t, []string{SourceCOCO, SourceCollection, SourceFiles, SourceFolders}, p.SourceNames())

	collate, err := p.Collate(stage.Training)
	require.NoError(t, err)
	got, err := collate([]datasets.Sample{
		{datasets.KeyInput: 1, datasets.KeyTarget: Target{ImageID: 1}},
		{datasets.KeyInput: 2, datasets.KeyTarget: Target{ImageID: 2}},
	})
	require.NoError(t, err)
	b := got.(transforms.Batch)
	assert.Equal(t, []any{1, 2}, b[datasets.KeyInput])
	assert.Equal(t, 2, b.Size())
}
