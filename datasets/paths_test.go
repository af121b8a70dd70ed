package datasets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/stagedata/stage"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func inputs(t *testing.T, ds Dataset) []string {
	t.Helper()
	var out []string
	for s, err := range ds.All() {
		require.NoError(t, err)
		out = append(out, s.Input().(string))
	}
	return out
}

func TestFindClasses(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "dog", "1.jpg"))
	touch(t, filepath.Join(root, "cat", "1.jpg"))
	touch(t, filepath.Join(root, "readme.txt"))

	classes, idx, err := FindClasses(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog"}, classes)
	assert.Equal(t, map[string]int{"cat": 0, "dog": 1}, idx)
}

func TestMakeDataset_SortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "dog", "b.JPG"))
	touch(t, filepath.Join(root, "dog", "a.jpg"))
	touch(t, filepath.Join(root, "dog", "notes.txt"))
	touch(t, filepath.Join(root, "dog", "sub", "c.jpg"))
	touch(t, filepath.Join(root, "cat", "z.png"))

	_, idx, err := FindClasses(root)
	require.NoError(t, err)
	got, err := MakeDataset(root, idx, []string{".jpg", ".png"}, nil)
	require.NoError(t, err)

	want := []PathClass{
		{filepath.Join(root, "cat", "z.png"), 0},
		{filepath.Join(root, "dog", "a.jpg"), 1},
		{filepath.Join(root, "dog", "b.JPG"), 1},
		{filepath.Join(root, "dog", "sub", "c.jpg"), 1},
	}
	assert.Equal(t, want, got)
}

func TestMakeDataset_FollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	touch(t, filepath.Join(outside, "linked.jpg"))
	touch(t, filepath.Join(root, "cat", "own.jpg"))
	if err := os.Symlink(outside, filepath.Join(root, "cat", "more")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	// A loop back to the class folder must not recurse forever.
	if err := os.Symlink(filepath.Join(root, "cat"), filepath.Join(outside, "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := MakeDataset(root, map[string]int{"cat": 0}, []string{".jpg"}, nil)
	require.NoError(t, err)
	var paths []string
	for _, p := range got {
		paths = append(paths, p.Path)
	}
	assert.Equal(t, []string{
		filepath.Join(root, "cat", "own.jpg"),
		filepath.Join(root, "cat", "more", "linked.jpg"),
	}, paths)
}

func TestMakeDataset_ExtensionsXorPredicate(t *testing.T) {
	root := t.TempDir()
	_, err := MakeDataset(root, nil, nil, nil)
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = MakeDataset(root, nil, []string{".jpg"}, func(string) bool { return true })
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestPathsSource_ClassFolders(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b", "1.jpg"))
	touch(t, filepath.Join(root, "a", "2.jpg"))
	touch(t, filepath.Join(root, "a", "1.jpg"))

	src := NewPathsSource(PathsOptions{Extensions: []string{".jpg"}})
	ds, err := src.GenerateDataset(context.Background(), Paths{Dir: root}, stage.Training)
	require.NoError(t, err)

	var targets []any
	for s, err := range ds.All() {
		require.NoError(t, err)
		targets = append(targets, s[KeyTarget])
	}
	assert.Equal(t, []any{0, 0, 1}, targets)
	n, ok := ds.Metadata().Classes()
	require.True(t, ok)
	assert.Equal(t, 2, n)

	labels, ok := src.Labels()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, labels.Labels)
}

func TestPathsSource_FlatFolderIsPredict(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "2.jpg"))
	touch(t, filepath.Join(root, "1.jpg"))
	touch(t, filepath.Join(root, "skip.txt"))

	src := NewPathsSource(PathsOptions{Extensions: []string{".jpg"}})
	for _, st := range []stage.Stage{stage.Training, stage.Predicting} {
		ds, err := src.GenerateDataset(context.Background(), Paths{Dir: root}, st)
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(root, "1.jpg"), filepath.Join(root, "2.jpg")}, inputs(t, ds))
		for s := range ds.All() {
			_, hasTarget := s.Target()
			assert.False(t, hasTarget)
		}
		_, ok := ds.Metadata().Classes()
		assert.False(t, ok)
	}
}

func TestPathsSource_FilesAndTargets(t *testing.T) {
	src := NewPathsSource(PathsOptions{IsValidFile: func(p string) bool { return !strings.HasSuffix(p, ".txt") }})
	raw := Paths{Files: []string{"a.jpg", "b.txt", "c.png"}, Targets: []any{1, 2, 3}}

	ds, err := src.GenerateDataset(context.Background(), raw, stage.Training)
	require.NoError(t, err)
	var got []Sample
	for s, err := range ds.All() {
		require.NoError(t, err)
		got = append(got, s)
	}
	assert.Equal(t, []Sample{
		{KeyInput: "a.jpg", KeyTarget: 1},
		{KeyInput: "c.png", KeyTarget: 3},
	}, got)

	ds, err = src.GenerateDataset(context.Background(), Paths{Files: raw.Files}, stage.Predicting)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "c.png"}, inputs(t, ds))
}

func TestPathsSource_SinglePath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "one.jpg")
	touch(t, file)

	src := NewPathsSource(PathsOptions{Extensions: []string{".jpg"}})
	ds, err := src.GenerateDataset(context.Background(), Paths{Dir: file}, stage.Testing)
	require.NoError(t, err)
	assert.Equal(t, []string{file}, inputs(t, ds))
}

func TestPathsSource_Misconfigured(t *testing.T) {
	src := NewPathsSource(PathsOptions{})
	_, err := src.GenerateDataset(context.Background(), Paths{Dir: t.TempDir()}, stage.Training)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestHasAllowedExtension(t *testing.T) {
	assert.True(t, HasAllowedExtension("IMG.JPEG", []string{".jpeg"}))
	assert.False(t, HasAllowedExtension("img.jpeg.txt", []string{".jpeg"}))
	assert.False(t, HasAllowedExtension("img.png", nil))
}
