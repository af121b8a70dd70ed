// Package images loads image files into samples and provides the resize and
// crop helpers used by image transforms.
package images

import (
	"fmt"
	"image"
	"slices"

	"github.com/disintegration/imaging"

	"github.com/Noofbiz/stagedata/datasets"
)

// Metadata keys set by LoadSample.
const (
	MetaFilepath = "filepath"
	MetaSize     = "size"
)

// Extensions are the file suffixes treated as images.
var Extensions = []string{".jpg", ".jpeg", ".png", ".ppm", ".bmp", ".pgm", ".tif", ".tiff", ".webp"}

// Open decodes the image at path, applying EXIF orientation.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	return img, nil
}

// Size returns the [height, width] of img.
func Size(img image.Image) [2]int {
	b := img.Bounds().Size()
	return [2]int{b.Y, b.X}
}

// LoadSample replaces the path under the input key by the decoded image and
// records the path and [height, width] under the metadata key. Other keys,
// such as the target, are kept.
func LoadSample(s datasets.Sample) (datasets.Sample, error) {
	path, ok := s[datasets.KeyInput].(string)
	if !ok {
		return nil, fmt.Errorf("image sample input must be a path, got %T", s[datasets.KeyInput])
	}
	img, err := Open(path)
	if err != nil {
		return nil, err
	}
	s[datasets.KeyInput] = img
	md, _ := s[datasets.KeyMetadata].(map[string]any)
	if md == nil {
		md = make(map[string]any, 2)
	}
	md[MetaFilepath] = path
	md[MetaSize] = Size(img)
	s[datasets.KeyMetadata] = md
	return s, nil
}

// NewPathsSource returns a paths source over image files that decodes each
// image on access. Unless IsValidFile is set, Extensions default to the image
// suffixes above.
func NewPathsSource(opts datasets.PathsOptions) *datasets.PathsSource {
	if opts.Name == "" {
		opts.Name = "images"
	}
	if opts.Extensions == nil && opts.IsValidFile == nil {
		opts.Extensions = slices.Clone(Extensions)
	}
	if opts.LoadSample == nil {
		opts.LoadSample = LoadSample
	}
	return datasets.NewPathsSource(opts)
}

// ResizeShorter scales img so that its shorter side equals size, keeping the
// aspect ratio.
func ResizeShorter(img image.Image, size int) image.Image {
	b := img.Bounds().Size()
	if b.X <= b.Y {
		return imaging.Resize(img, size, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, size, imaging.Lanczos)
}

// CenterCrop cuts a width x height rectangle out of the center of img.
func CenterCrop(img image.Image, width, height int) image.Image {
	return imaging.CropCenter(img, width, height)
}

// ResizeWithPadding fits img into width x height keeping its aspect ratio,
// padding the rest with black.
func ResizeWithPadding(img image.Image, width, height int) image.Image {
	imgSize := img.Bounds().Size()
	wRatio := float64(width) / float64(imgSize.X)
	hRatio := float64(height) / float64(imgSize.Y)

	adjustedWidth, adjustedHeight := width, height
	if wRatio < hRatio {
		adjustedHeight = int(wRatio * float64(imgSize.Y))
	} else if hRatio < wRatio {
		adjustedWidth = int(hRatio * float64(imgSize.X))
	}
	img = imaging.Resize(img, adjustedWidth, adjustedHeight, imaging.Lanczos)
	if adjustedWidth != width || adjustedHeight != height {
		bgImg := image.NewRGBA(image.Rect(0, 0, width, height))
		img = imaging.PasteCenter(bgImg, img)
	}
	return img
}
