package datamodule

import (
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"

	"github.com/disintegration/imaging"

	"github.com/Noofbiz/stagedata/transforms"
)

// PresetFunc builds the transforms of a named preset from its options.
type PresetFunc func(opts map[string]any) (transforms.Set, error)

// DefaultPresets returns the built-in presets:
//
//   - "base": resize to image_size (default 224) with a center crop, then
//     convert to a tensor.
//   - "random_rotation": like "base", plus a random rotation of up to
//     rotation degrees (default 0) while training.
func DefaultPresets() map[string]PresetFunc {
	return map[string]PresetFunc{
		"base":            basePreset,
		"random_rotation": randomRotationPreset,
	}
}

func intOption(opts map[string]any, key string, def int) (int, error) {
	v, ok := opts[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("option %q must be a number, got %T", key, v)
}

func floatOption(opts map[string]any, key string, def float64) (float64, error) {
	v, ok := opts[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("option %q must be a number, got %T", key, v)
}

func resizeTable(size int) transforms.Table {
	return transforms.Table{
		transforms.PreTensor:    transforms.Compose(transforms.Resize(size), transforms.CenterCrop(size, size)),
		transforms.ToTensorHook: transforms.ToTensor,
	}
}

func basePreset(opts map[string]any) (transforms.Set, error) {
	size, err := intOption(opts, "image_size", 224)
	if err != nil {
		return transforms.Set{}, err
	}
	return transforms.Set{Default: transforms.InputOnly(resizeTable(size))}, nil
}

func randomRotationPreset(opts map[string]any) (transforms.Set, error) {
	size, err := intOption(opts, "image_size", 224)
	if err != nil {
		return transforms.Set{}, err
	}
	degrees, err := floatOption(opts, "rotation", 0)
	if err != nil {
		return transforms.Set{}, err
	}
	train := resizeTable(size)
	train[transforms.PreTensor] = transforms.Compose(train[transforms.PreTensor], RandomRotation(degrees))
	return transforms.Set{
		Default: transforms.InputOnly(resizeTable(size)),
		Train:   transforms.InputOnly(train),
	}, nil
}

// RandomRotation rotates an image by a uniform random angle in
// [-degrees, degrees], filling uncovered corners with black.
func RandomRotation(degrees float64) transforms.Func {
	return func(v any) (any, error) {
		img, ok := v.(image.Image)
		if !ok {
			return nil, fmt.Errorf("random rotation expects an image, got %T", v)
		}
		if degrees == 0 {
			return img, nil
		}
		angle := (rand.Float64()*2 - 1) * degrees
		size := img.Bounds().Size()
		rotated := imaging.Rotate(img, angle, color.Black)
		return imaging.CropCenter(rotated, size.X, size.Y), nil
	}
}
