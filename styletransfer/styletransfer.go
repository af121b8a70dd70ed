// Package styletransfer prepares image folders for style transfer training:
// content images are resized and cropped to a fixed size, and there are no
// targets. Only the training and predicting stages are supported.
package styletransfer

import (
	"context"
	"fmt"

	"github.com/Noofbiz/stagedata/datamodule"
	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/images"
	"github.com/Noofbiz/stagedata/stage"
	"github.com/Noofbiz/stagedata/transforms"
)

// DefaultImageSize is the side of the square training crop.
const DefaultImageSize = 256

// Square returns the [height, width] of a square image.
func Square(side int) [2]int { return [2]int{side, side} }

// Config configures a style transfer preprocess.
type Config struct {
	// Transforms overrides the defaults per stage. Val and Test must be nil.
	Transforms transforms.Set
	// ImageSize is the [height, width] of training images. Zero selects
	// Square(DefaultImageSize).
	ImageSize [2]int
}

// NewPreprocess returns the style transfer preprocess with the folders and
// files sources, folders being the default.
func NewPreprocess(cfg Config) (*transforms.Preprocess, error) {
	if cfg.Transforms.Val != nil {
		return nil, transforms.NotSupported(stage.Validating.String())
	}
	if cfg.Transforms.Test != nil {
		return nil, transforms.NotSupported(stage.Testing.String())
	}
	size := cfg.ImageSize
	if size == [2]int{} {
		size = Square(DefaultImageSize)
	}
	if size[0] <= 0 || size[1] <= 0 {
		return nil, fmt.Errorf("%w: invalid image size %v", datasets.ErrConfiguration, size)
	}
	return transforms.New(transforms.Config{
		Transforms: cfg.Transforms,
		Defaults:   Defaults(size),
		Sources: map[string]datasets.Generator{
			datamodule.SourceFolders: images.NewPathsSource(datasets.PathsOptions{Name: datamodule.SourceFolders}),
			datamodule.SourceFiles:   images.NewPathsSource(datasets.PathsOptions{Name: datamodule.SourceFiles}),
		},
		DefaultSource: datamodule.SourceFolders,
	})
}

// Defaults returns the default transforms for images of the given
// [height, width]. Training images are resized on their shorter side and
// center cropped; predict images are only resized. Other stages get none.
func Defaults(size [2]int) transforms.DefaultsFunc {
	shorter := min(size[0], size[1])
	return func(st stage.Stage) (*transforms.Transform, error) {
		switch st {
		case stage.Training:
			return transforms.InputOnly(transforms.Table{
				transforms.PreTensor:    transforms.Compose(transforms.Resize(shorter), transforms.CenterCrop(size[1], size[0])),
				transforms.ToTensorHook: transforms.ToTensor,
			}), nil
		case stage.Predicting:
			return transforms.InputOnly(transforms.Table{
				transforms.PreTensor:    transforms.Resize(shorter),
				transforms.ToTensorHook: transforms.ToTensor,
			}), nil
		}
		return nil, nil
	}
}

// FromFolders reads a folder of training content images and a folder of
// images to stylize. Either may be empty.
func FromFolders(ctx context.Context, trainFolder, predictFolder string, cfg Config, dmCfg datamodule.Config) (*datamodule.DataModule, error) {
	var in datamodule.Inputs
	if trainFolder != "" {
		in.Train = datasets.Paths{Dir: trainFolder}
	}
	if predictFolder != "" {
		in.Predict = datasets.Paths{Dir: predictFolder}
	}
	return FromSource(ctx, datamodule.SourceFolders, in, cfg, dmCfg)
}

// FromSource generates the training and predict datasets with the named
// source of the style transfer preprocess. Validation or test input, and a
// validation split, are rejected.
func FromSource(ctx context.Context, source string, in datamodule.Inputs, cfg Config, dmCfg datamodule.Config) (*datamodule.DataModule, error) {
	if in.Val != nil {
		return nil, transforms.NotSupported(stage.Validating.String())
	}
	if in.Test != nil {
		return nil, transforms.NotSupported(stage.Testing.String())
	}
	if dmCfg.ValSplit > 0 {
		return nil, transforms.NotSupported(stage.Validating.String())
	}
	pre, err := NewPreprocess(cfg)
	if err != nil {
		return nil, err
	}
	return datamodule.FromSource(ctx, pre, source, in, dmCfg)
}
