package transforms

import (
	"fmt"
	"image"

	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/Noofbiz/stagedata/images"
)

// ToTensor converts an image into a float32 [height, width, channels] tensor.
// Values that are not images pass through, so tensors already converted
// upstream are accepted.
func ToTensor(v any) (any, error) {
	img, ok := v.(image.Image)
	if !ok {
		return v, nil
	}
	return timage.ToTensor(dtypes.Float32).Single(img), nil
}

// Resize returns a transform scaling an image so its shorter side is size.
func Resize(size int) Func {
	return func(v any) (any, error) {
		img, ok := v.(image.Image)
		if !ok {
			return nil, fmt.Errorf("resize expects an image, got %T", v)
		}
		return images.ResizeShorter(img, size), nil
	}
}

// CenterCrop returns a transform cutting a width x height center region.
func CenterCrop(width, height int) Func {
	return func(v any) (any, error) {
		img, ok := v.(image.Image)
		if !ok {
			return nil, fmt.Errorf("center crop expects an image, got %T", v)
		}
		return images.CenterCrop(img, width, height), nil
	}
}
