package datasets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Noofbiz/stagedata/internal/ctxlog"
)

// Paths is the raw input of a PathsSource: either a directory, with one
// subdirectory per class, or a list of files with optional aligned targets.
type Paths struct {
	Dir     string
	Files   []string
	Targets []any
}

// PathsOptions configures a PathsSource. Exactly one of Extensions and
// IsValidFile must be set.
type PathsOptions struct {
	Name string
	// Extensions are lowercase suffixes, e.g. ".jpg".
	Extensions []string
	// IsValidFile decides whether a path is kept.
	IsValidFile func(path string) bool
	// Labels seed the source labels before any directory is scanned.
	Labels []string
	// LoadSample materializes a path descriptor. Defaults to the identity.
	LoadSample LoadSampleFunc
}

// PathsSource turns folders or file lists into path descriptors.
type PathsSource struct {
	*Source[Paths]
	opts PathsOptions
}

// NewPathsSource creates a PathsSource.
func NewPathsSource(opts PathsOptions) *PathsSource {
	if opts.Name == "" {
		opts.Name = "paths"
	}
	ps := &PathsSource{opts: opts}
	ps.Source = NewSource(opts.Name, Hooks[Paths]{
		Default: StageHooks[Paths]{LoadData: ps.loadData, LoadSample: opts.LoadSample},
		Predict: StageHooks[Paths]{LoadData: ps.predictLoadData},
	})
	if len(opts.Labels) > 0 {
		ps.SetLabels(opts.Labels)
	}
	return ps
}

func (ps *PathsSource) matcher() (func(string) bool, error) {
	hasExt, hasPred := ps.opts.Extensions != nil, ps.opts.IsValidFile != nil
	if hasExt == hasPred {
		return nil, fmt.Errorf("%w: exactly one of extensions and is-valid-file must be set", ErrConfiguration)
	}
	if hasPred {
		return ps.opts.IsValidFile, nil
	}
	return func(path string) bool { return HasAllowedExtension(path, ps.opts.Extensions) }, nil
}

func (ps *PathsSource) loadData(ctx context.Context, raw Paths, md *Metadata) (Records, error) {
	match, err := ps.matcher()
	if err != nil {
		return Records{}, err
	}
	if raw.Dir == "" {
		return filesRecords(raw.Files, raw.Targets, match)
	}
	if !isDir(raw.Dir) {
		return filesRecords([]string{raw.Dir}, nil, match)
	}

	classes, classToIdx, err := FindClasses(raw.Dir)
	if err != nil {
		return Records{}, err
	}
	if len(classes) == 0 {
		return ps.predictLoadData(ctx, raw, md)
	}
	ps.SetLabels(classes)
	md.SetNumClasses(len(classes))
	md.Labels = slices.Clone(classes)

	pairs, err := MakeDataset(raw.Dir, classToIdx, ps.opts.Extensions, ps.opts.IsValidFile)
	if err != nil {
		return Records{}, err
	}
	ctxlog.FromContext(ctx).Debug("Scanned class folders.", "dir", raw.Dir, "classes", len(classes), "files", len(pairs))
	out := make([]Sample, len(pairs))
	for i, p := range pairs {
		out[i] = Sample{KeyInput: p.Path, KeyTarget: p.Class}
	}
	return List(out), nil
}

func (ps *PathsSource) predictLoadData(_ context.Context, raw Paths, _ *Metadata) (Records, error) {
	match, err := ps.matcher()
	if err != nil {
		return Records{}, err
	}
	files := raw.Files
	if raw.Dir != "" {
		files = []string{raw.Dir}
		if isDir(raw.Dir) {
			entries, err := os.ReadDir(raw.Dir)
			if err != nil {
				return Records{}, fmt.Errorf("failed to list %s: %w", raw.Dir, err)
			}
			files = files[:0]
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				files = append(files, filepath.Join(raw.Dir, e.Name()))
			}
		}
	}
	return filesRecords(files, nil, match)
}

func filesRecords(files []string, targets []any, match func(string) bool) (Records, error) {
	if targets != nil && len(targets) != len(files) {
		return Records{}, fmt.Errorf("%w: %d files but %d targets", ErrConfiguration, len(files), len(targets))
	}
	out := make([]Sample, 0, len(files))
	for i, f := range files {
		if !match(f) {
			continue
		}
		s := Sample{KeyInput: f}
		if targets != nil {
			s[KeyTarget] = targets[i]
		}
		out = append(out, s)
	}
	return List(out), nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// HasAllowedExtension reports whether the lowercased path ends with one of
// the given suffixes.
func HasAllowedExtension(path string, extensions []string) bool {
	lower := strings.ToLower(path)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// FindClasses returns the sorted names of the immediate subdirectories of dir
// and their indices.
func FindClasses(dir string) ([]string, map[string]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var classes []string
	for _, e := range entries {
		if isDir(filepath.Join(dir, e.Name())) {
			classes = append(classes, e.Name())
		}
	}
	slices.Sort(classes)
	classToIdx := make(map[string]int, len(classes))
	for i, c := range classes {
		classToIdx[c] = i
	}
	return classes, classToIdx, nil
}

// PathClass is one entry produced by MakeDataset.
type PathClass struct {
	Path  string
	Class int
}

// MakeDataset lists every accepted file under dir/<class> for each class in
// classToIdx. Classes are visited in name order; inside a class, directories
// are visited in path order and files in name order. Symbolic links to
// directories are followed, each real directory at most once. Exactly one of
// extensions and isValidFile must be set.
func MakeDataset(dir string, classToIdx map[string]int, extensions []string, isValidFile func(string) bool) ([]PathClass, error) {
	if (extensions == nil) == (isValidFile == nil) {
		return nil, fmt.Errorf("%w: exactly one of extensions and is-valid-file must be set", ErrConfiguration)
	}
	if isValidFile == nil {
		isValidFile = func(path string) bool { return HasAllowedExtension(path, extensions) }
	}

	classes := make([]string, 0, len(classToIdx))
	for c := range classToIdx {
		classes = append(classes, c)
	}
	slices.Sort(classes)

	var out []PathClass
	for _, class := range classes {
		target := filepath.Join(dir, class)
		if !isDir(target) {
			continue
		}
		dirs, err := walkDirs(target)
		if err != nil {
			return nil, err
		}
		for _, d := range dirs {
			for _, name := range d.files {
				path := filepath.Join(d.path, name)
				if isValidFile(path) {
					out = append(out, PathClass{Path: path, Class: classToIdx[class]})
				}
			}
		}
	}
	return out, nil
}

type walkedDir struct {
	path  string
	files []string
}

// walkDirs collects root and every directory below it, following symlinks,
// sorted by path. File names inside each directory are sorted.
func walkDirs(root string) ([]walkedDir, error) {
	seen := make(map[string]bool)
	var out []walkedDir
	var visit func(path string) error
	visit = func(path string) error {
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		if seen[real] {
			return nil
		}
		seen[real] = true

		entries, err := os.ReadDir(path)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", path, err)
		}
		d := walkedDir{path: path}
		var subdirs []string
		for _, e := range entries {
			child := filepath.Join(path, e.Name())
			if isDir(child) {
				subdirs = append(subdirs, child)
				continue
			}
			d.files = append(d.files, e.Name())
		}
		slices.Sort(d.files)
		out = append(out, d)
		for _, sub := range subdirs {
			if err := visit(sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b walkedDir) int { return strings.Compare(a.path, b.path) })
	return out, nil
}
