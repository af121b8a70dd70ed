package collection

import (
	"context"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "collections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func intPtr(i int) *int { return &i }

func TestStore_CreateLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Create(ctx, "birds")
	require.NoError(t, err)
	_, err = s.Create(ctx, "birds")
	require.ErrorIs(t, err, ErrExists)

	c, err := s.Load(ctx, "birds")
	require.NoError(t, err)
	assert.Equal(t, "birds", c.Name())

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"birds"}, names)

	require.NoError(t, s.Delete(ctx, "birds"))
	_, err = s.Load(ctx, "birds")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "c.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	c, err := s.Create(ctx, "x")
	require.NoError(t, err)
	_, err = c.AddSample(ctx, Sample{Filepath: "a.jpg"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	c, err = s.Load(ctx, "x")
	require.NoError(t, err)
	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollection_SamplesRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := openTestStore(t).Create(ctx, "dets")
	require.NoError(t, err)

	want := []Sample{
		{
			Filepath: "b.jpg",
			Metadata: &ImageMetadata{Width: 100, Height: 50},
			Fields: map[string]Label{
				"ground_truth": Detections{Detections: []Detection{
					{Label: "cat", BoundingBox: [4]float64{0.1, 0.2, 0.3, 0.4}, IsCrowd: intPtr(1)},
					{Label: "dog", BoundingBox: [4]float64{0.5, 0.5, 0.1, 0.1}},
				}},
			},
		},
		{
			Filepath: "a.jpg",
			Fields:   map[string]Label{"label": Classification{Label: "dog"}},
		},
	}
	for i := range want {
		id, err := c.AddSample(ctx, want[i])
		require.NoError(t, err)
		want[i].ID = id
	}

	got, err := c.Samples(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestCollection_Classes(t *testing.T) {
	ctx := context.Background()
	c, err := openTestStore(t).Create(ctx, "cls")
	require.NoError(t, err)

	_, ok, err := c.Classes(ctx, "ground_truth")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetClasses(ctx, "ground_truth", []string{"a", "b"}))
	require.NoError(t, c.SetClasses(ctx, "ground_truth", []string{"b", "c"}))
	classes, ok, err := c.Classes(ctx, "ground_truth")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "c"}, classes)

	_, ok, err = c.DefaultClasses(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, c.SetDefaultClasses(ctx, []string{"z"}))
	classes, ok, err = c.DefaultClasses(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"z"}, classes)
}

func TestCollection_Distinct(t *testing.T) {
	ctx := context.Background()
	c, err := openTestStore(t).Create(ctx, "distinct")
	require.NoError(t, err)

	require.NoError(t, c.AddLabeledImages(ctx, []string{"1.jpg", "2.jpg", "3.jpg"}, []string{"zebra", "ant", "zebra"}, "label"))
	_, err = c.AddSample(ctx, Sample{Filepath: "4.jpg", Fields: map[string]Label{
		"label": Detections{Detections: []Detection{{Label: "moth"}}},
	}})
	require.NoError(t, err)

	got, err := c.Distinct(ctx, "label")
	require.NoError(t, err)
	assert.Equal(t, []string{"ant", "moth", "zebra"}, got)

	err = c.AddLabeledImages(ctx, []string{"x.jpg"}, []string{}, "label")
	require.Error(t, err)
}

func TestCollection_ComputeMetadata(t *testing.T) {
	ctx := context.Background()
	c, err := openTestStore(t).Create(ctx, "meta")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, imaging.Save(imaging.New(12, 7, color.NRGBA{A: 255}), path))
	_, err = c.AddSample(ctx, Sample{Filepath: path})
	require.NoError(t, err)
	_, err = c.AddSample(ctx, Sample{Filepath: "unreadable-but-known.jpg", Metadata: &ImageMetadata{Width: 1, Height: 2}})
	require.NoError(t, err)

	require.NoError(t, c.ComputeMetadata(ctx))
	samples, err := c.Samples(ctx)
	require.NoError(t, err)
	assert.Equal(t, &ImageMetadata{Width: 12, Height: 7}, samples[0].Metadata)
	assert.Equal(t, &ImageMetadata{Width: 1, Height: 2}, samples[1].Metadata)
}
