package detection

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/Noofbiz/stagedata/collection"
	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/images"
	"github.com/Noofbiz/stagedata/internal/ctxlog"
)

// COCOInput is the raw input of a COCOSource.
type COCOInput struct {
	// Root is the folder image file names are relative to.
	Root string
	// AnnotationFile is the COCO JSON file, optionally .gz or .xz.
	AnnotationFile string
}

// COCOSource reads images listed in a COCO annotation file. Images come out
// in ascending id order. While training, images all of whose boxes are at
// most one pixel wide or tall are skipped; this includes images without any
// annotation. Boxes without extent are always dropped.
type COCOSource struct {
	*datasets.Source[COCOInput]
}

// NewCOCOSource creates a COCOSource.
func NewCOCOSource() *COCOSource {
	cs := &COCOSource{}
	cs.Source = datasets.NewSource("coco", datasets.Hooks[COCOInput]{
		Default: datasets.StageHooks[COCOInput]{LoadData: cs.loadData, LoadSample: images.LoadSample},
	})
	return cs
}

func (cs *COCOSource) loadData(ctx context.Context, raw COCOInput, md *datasets.Metadata) (datasets.Records, error) {
	coco, err := ReadCOCO(raw.AnnotationFile)
	if err != nil {
		return datasets.Records{}, err
	}
	if n, ok := coco.NumClasses(); ok && n > 0 {
		md.SetNumClasses(n)
		md.Labels = make([]string, n)
		for _, cat := range coco.Categories {
			if cat.ID >= 0 {
				md.Labels[cat.ID] = cat.Name
			}
		}
	}

	imgs := slices.Clone(coco.Images)
	slices.SortFunc(imgs, func(a, b COCOImage) int { return cmp.Compare(a.ID, b.ID) })
	byImage := coco.AnnotationsByImage()

	logger := ctxlog.FromContext(ctx)
	out := make([]datasets.Sample, 0, len(imgs))
	for _, img := range imgs {
		anns := byImage[img.ID]
		if cs.Training() && allTiny(anns) {
			logger.Debug("Skipping image without usable boxes.", "image_id", img.ID, "file", img.FileName)
			continue
		}
		target := Target{ImageID: img.ID, Boxes: [][4]float64{}, Labels: []int{}, Areas: []float64{}, IsCrowd: []int{}}
		for _, a := range anns {
			box := ConvertBox(a.BBox)
			if Degenerate(box) {
				continue
			}
			area := a.BBox[2] * a.BBox[3]
			if a.Area != nil {
				area = *a.Area
			}
			target.add(box, a.CategoryID, area, a.IsCrowd)
		}
		out = append(out, datasets.Sample{
			datasets.KeyInput:  filepath.Join(raw.Root, img.FileName),
			datasets.KeyTarget: target,
		})
	}
	logger.Debug("Loaded COCO annotations.", "file", raw.AnnotationFile, "images", len(out), "of", len(imgs))
	return datasets.List(out), nil
}

func allTiny(anns []COCOAnnotation) bool {
	for _, a := range anns {
		if !tiny(a.BBox) {
			return false
		}
	}
	return true
}

// DefaultLabelField is the detections field read by CollectionSource.
const DefaultLabelField = "ground_truth"

// CollectionSource reads a labeled collection whose label field holds
// detections with relative [x, y, width, height] boxes.
type CollectionSource struct {
	*datasets.Source[*collection.Collection]
	labelField string
}

// NewCollectionSource creates a CollectionSource reading labelField, or
// DefaultLabelField when empty.
func NewCollectionSource(labelField string) *CollectionSource {
	if labelField == "" {
		labelField = DefaultLabelField
	}
	cs := &CollectionSource{labelField: labelField}
	cs.Source = datasets.NewSource("fiftyone", datasets.Hooks[*collection.Collection]{
		Default: datasets.StageHooks[*collection.Collection]{LoadData: cs.loadData, LoadSample: images.LoadSample},
		Predict: datasets.StageHooks[*collection.Collection]{LoadData: datasets.NoMetadata(cs.predictLoadData)},
	})
	return cs
}

// Classes returns the class list of c: the classes declared for the label
// field, else the collection default classes, else the sorted distinct
// labels found in the field. An empty declared list counts as undeclared.
func (cs *CollectionSource) Classes(ctx context.Context, c *collection.Collection) ([]string, error) {
	classes, ok, err := c.Classes(ctx, cs.labelField)
	if err != nil || (ok && len(classes) > 0) {
		return classes, err
	}
	classes, ok, err = c.DefaultClasses(ctx)
	if err != nil || (ok && len(classes) > 0) {
		return classes, err
	}
	return c.Distinct(ctx, cs.labelField)
}

func (cs *CollectionSource) loadData(ctx context.Context, c *collection.Collection, md *datasets.Metadata) (datasets.Records, error) {
	if err := c.ComputeMetadata(ctx); err != nil {
		return datasets.Records{}, err
	}
	samples, err := c.Samples(ctx)
	if err != nil {
		return datasets.Records{}, err
	}
	classes, err := cs.Classes(ctx, c)
	if err != nil {
		return datasets.Records{}, err
	}
	classToIdx := make(map[string]int, len(classes))
	for i, name := range classes {
		classToIdx[name] = i
	}
	md.SetNumClasses(len(classes))
	md.Labels = slices.Clone(classes)
	cs.SetLabels(classes)

	out := make([]datasets.Sample, len(samples))
	for i, s := range samples {
		var dets []collection.Detection
		switch l := s.Fields[cs.labelField].(type) {
		case nil:
		case collection.Detections:
			dets = l.Detections
		default:
			return datasets.Records{}, fmt.Errorf("%w: field %q of %s holds %T, expected detections",
				datasets.ErrConfiguration, cs.labelField, s.Filepath, l)
		}

		target := Target{ImageID: int64(i + 1), Boxes: [][4]float64{}, Labels: []int{}, Areas: []float64{}, IsCrowd: []int{}}
		w, h := float64(s.Metadata.Width), float64(s.Metadata.Height)
		for _, d := range dets {
			idx, ok := classToIdx[d.Label]
			if !ok {
				return datasets.Records{}, fmt.Errorf("label %q of %s is not a known class", d.Label, s.Filepath)
			}
			box, area := Denormalize(d.BoundingBox, w, h)
			crowd := 0
			if d.IsCrowd != nil {
				crowd = *d.IsCrowd
			}
			target.add(box, idx, area, crowd)
		}
		out[i] = datasets.Sample{datasets.KeyInput: s.Filepath, datasets.KeyTarget: target}
	}
	return datasets.List(out), nil
}

func (cs *CollectionSource) predictLoadData(ctx context.Context, c *collection.Collection) (datasets.Records, error) {
	samples, err := c.Samples(ctx)
	if err != nil {
		return datasets.Records{}, err
	}
	out := make([]datasets.Sample, len(samples))
	for i, s := range samples {
		out[i] = datasets.Sample{datasets.KeyInput: s.Filepath}
	}
	return datasets.List(out), nil
}

// Denormalize scales a relative [x, y, width, height] box to an image of
// w x h pixels and returns it as [xmin, ymin, xmax, ymax] with its area.
func Denormalize(b [4]float64, w, h float64) ([4]float64, float64) {
	xmin, ymin := b[0]*w, b[1]*h
	bw, bh := b[2]*w, b[3]*h
	return [4]float64{xmin, ymin, xmin + bw, ymin + bh}, bw * bh
}
