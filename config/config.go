// Package config reads a data module description from an HCL file:
//
//	data_module {
//	  batch_size = 8
//	  transform  = "base"
//	  transform_options = { image_size = 64 }
//	}
//
//	source "folders" {
//	  train   = "${env.DATA_DIR}/train"
//	  predict = "${env.DATA_DIR}/predict"
//	}
//
// Environment variables are available as env.<NAME>.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/Noofbiz/stagedata/datasets"
)

// Source kinds.
const (
	KindFolders       = "folders"
	KindCSV           = "csv"
	KindSequenceCSV   = "sequence_csv"
	KindCOCO          = "coco"
	KindCollection    = "fiftyone"
	KindStyleTransfer = "style_transfer"
)

// Config is the decoded configuration file.
type Config struct {
	DataModule *DataModule `hcl:"data_module,block"`
	Source     *Source     `hcl:"source,block"`
}

// DataModule holds the batching settings.
type DataModule struct {
	BatchSize        int       `hcl:"batch_size,optional"`
	NumWorkers       int       `hcl:"num_workers,optional"`
	Seed             int       `hcl:"seed,optional"`
	Shuffle          *bool     `hcl:"shuffle,optional"`
	DropLast         bool      `hcl:"drop_last,optional"`
	ValSplit         float64   `hcl:"val_split,optional"`
	Transform        string    `hcl:"transform,optional"`
	TransformOptions cty.Value `hcl:"transform_options,optional"`
}

// Source describes where the data of each stage comes from. Which
// attributes apply depends on Kind.
type Source struct {
	Kind string `hcl:"kind,label"`

	Train   string `hcl:"train,optional"`
	Val     string `hcl:"val,optional"`
	Test    string `hcl:"test,optional"`
	Predict string `hcl:"predict,optional"`

	// csv and sequence_csv
	Features []string `hcl:"features,optional"`
	Targets  []string `hcl:"targets,optional"`
	Stats    bool     `hcl:"stats,optional"`
	GroupBy  string   `hcl:"group_by,optional"`

	// coco: one annotation file per stage, image paths relative to the
	// stage's folder.
	TrainAnnotations string `hcl:"train_annotations,optional"`
	ValAnnotations   string `hcl:"val_annotations,optional"`
	TestAnnotations  string `hcl:"test_annotations,optional"`

	// fiftyone: the stage attributes name collections in Store.
	Store      string `hcl:"store,optional"`
	LabelField string `hcl:"label_field,optional"`

	// style_transfer
	ImageSize int `hcl:"image_size,optional"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(src, path, os.Environ())
}

// Parse decodes an HCL configuration. environ lists KEY=value pairs exposed
// as env.KEY.
func Parse(src []byte, filename string, environ []string) (*Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, diags)
	}
	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, evalContext(environ), &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, diags)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &cfg, nil
}

func evalContext(environ []string) *hcl.EvalContext {
	env := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntax.ValidIdentifier(k) {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(env)},
	}
}

func (c *Config) validate() error {
	if c.Source == nil {
		return fmt.Errorf("%w: a source block is required", datasets.ErrConfiguration)
	}
	s := c.Source
	if s.Train == "" && s.Val == "" && s.Test == "" && s.Predict == "" {
		return fmt.Errorf("%w: source %q has no stage input", datasets.ErrConfiguration, s.Kind)
	}
	switch s.Kind {
	case KindFolders, KindStyleTransfer:
	case KindCSV, KindSequenceCSV:
		if s.Kind == KindCSV && len(s.Features) == 0 {
			return fmt.Errorf("%w: csv source needs features", datasets.ErrConfiguration)
		}
	case KindCOCO:
		for _, pair := range [][2]string{{s.Train, s.TrainAnnotations}, {s.Val, s.ValAnnotations}, {s.Test, s.TestAnnotations}} {
			if (pair[0] == "") != (pair[1] == "") {
				return fmt.Errorf("%w: coco source needs a folder and an annotation file per stage", datasets.ErrConfiguration)
			}
		}
	case KindCollection:
		if s.Store == "" {
			return fmt.Errorf("%w: fiftyone source needs a store", datasets.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %q", datasets.ErrConfiguration, s.Kind)
	}
	return nil
}

// Options converts transform_options into plain Go values.
func (d *DataModule) Options() (map[string]any, error) {
	v := d.TransformOptions
	if v.IsNull() {
		return nil, nil
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, fmt.Errorf("%w: transform_options must be an object", datasets.ErrConfiguration)
	}
	out := make(map[string]any)
	for it := v.ElementIterator(); it.Next(); {
		k, elem := it.Element()
		goVal, err := goValue(elem)
		if err != nil {
			return nil, fmt.Errorf("transform_options.%s: %w", k.AsString(), err)
		}
		out[k.AsString()] = goVal
	}
	return out, nil
}

func goValue(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Bool:
		return v.True(), nil
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	}
	return nil, fmt.Errorf("%w: unsupported value of type %s", datasets.ErrConfiguration, v.Type().FriendlyName())
}
