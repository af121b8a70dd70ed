package visualize

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/stagedata/collection"
	"github.com/Noofbiz/stagedata/datamodule"
	"github.com/Noofbiz/stagedata/datasets"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestUnpack(t *testing.T) {
	t.Run("batched predictions", func(t *testing.T) {
		labels, paths, err := unpack(Input{Labels: []any{
			[]Prediction{{Filepath: "a.jpg", Label: "cat"}, {Filepath: "b.jpg", Label: "dog"}},
			[]Prediction{{Filepath: "c.jpg", Label: "cat"}},
		}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, paths)
		assert.Equal(t, []collection.Label{
			collection.Classification{Label: "cat"},
			collection.Classification{Label: "dog"},
			collection.Classification{Label: "cat"},
		}, labels)
	})

	t.Run("labels with file paths", func(t *testing.T) {
		det := collection.Detections{Detections: []collection.Detection{{Label: "car"}}}
		labels, paths, err := unpack(Input{Labels: []any{[]string{"x"}, []collection.Label{det}}, Filepaths: []string{"1.png", "2.png"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"1.png", "2.png"}, paths)
		assert.Equal(t, det, labels[1])
	})

	t.Run("no file paths", func(t *testing.T) {
		_, _, err := unpack(Input{Labels: []any{"a"}})
		require.ErrorIs(t, err, datasets.ErrConfiguration)
	})

	t.Run("unsupported label", func(t *testing.T) {
		_, _, err := unpack(Input{Labels: []any{3}, Filepaths: []string{"a"}})
		require.ErrorIs(t, err, datasets.ErrConfiguration)
	})
}

func TestUnpack_PredictDataset(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png"} {
		require.NoError(t, imaging.Save(imaging.New(4, 4, color.White), filepath.Join(dir, name)))
	}
	dm, err := datamodule.FromFolders(context.Background(), datamodule.Folders{Predict: dir}, nil, datamodule.Config{})
	require.NoError(t, err)

	_, paths, err := unpack(Input{Labels: []any{"x", "y"}, DataModule: dm})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.png")}, paths)
}

func TestVisualize(t *testing.T) {
	ctx := context.Background()
	store, err := collection.Open(ctx, filepath.Join(t.TempDir(), "viz.db"))
	require.NoError(t, err)
	defer store.Close()

	var launched string
	s, err := Visualize(ctx, Input{
		Labels:    []any{"cat", "dog", "cat"},
		Filepaths: []string{"1.jpg", "2.jpg", "3.jpg"},
	}, Options{
		Store:      store,
		Collection: "run",
		Launch:     func(url string) error { launched = url; return nil },
	})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, s.URL(), launched)

	n, err := s.Collection().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	code, body := get(t, s.URL())
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "2.jpg")

	code, body = get(t, s.URL()+"samples")
	require.Equal(t, http.StatusOK, code)
	var views []sampleView
	require.NoError(t, json.Unmarshal([]byte(body), &views))
	require.Len(t, views, 3)
	assert.Equal(t, "dog", views[1].Label)

	code, body = get(t, s.URL()+"plot.png")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasPrefix(body, "\x89PNG"))

	code, _ = get(t, s.URL()+"close")
	assert.Equal(t, http.StatusOK, code)
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Wait(waitCtx))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	// The collection outlives the session in a caller-owned store.
	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "run")
}

func TestVisualize_WaitUntilClosed(t *testing.T) {
	closeFromPage := func(url string) error {
		go func() {
			resp, err := http.Post(url+"close", "text/plain", nil)
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
	s, err := Visualize(context.Background(), Input{Labels: []any{"a"}, Filepaths: []string{"a.jpg"}},
		Options{Wait: true, Launch: closeFromPage})
	require.NoError(t, err)
	select {
	case <-s.Done():
	default:
		t.Fatal("session still open after Visualize returned")
	}
}

func TestVisualize_LaunchFailure(t *testing.T) {
	_, err := Visualize(context.Background(), Input{Labels: []any{"a"}, Filepaths: []string{"a.jpg"}}, Options{
		Launch: func(string) error { return ErrToolUnavailable },
	})
	require.True(t, errors.Is(err, ErrToolUnavailable))
}

func TestVisualize_LengthMismatch(t *testing.T) {
	_, err := Visualize(context.Background(), Input{Labels: []any{"a"}, Filepaths: []string{"a.jpg", "b.jpg"}}, Options{})
	require.ErrorIs(t, err, datasets.ErrConfiguration)
}

func TestSavePlot(t *testing.T) {
	names, counts := CountLabels([]string{"b", "a", "b"})
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, []int{1, 2}, counts)

	path := filepath.Join(t.TempDir(), "labels.png")
	require.NoError(t, SavePlot(path, "labels", []string{"b", "a", "b"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
