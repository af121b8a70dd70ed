package transforms

import (
	"fmt"
	"maps"
	"slices"

	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/stage"
)

// DefaultsFunc returns the task default transform of a stage. It may return
// nil for no transforms, or an ErrNotSupported error.
type DefaultsFunc func(st stage.Stage) (*Transform, error)

// Config configures a Preprocess.
type Config struct {
	// Transforms are the user transforms; they win over Defaults.
	Transforms Set
	// Defaults supplies per-stage transforms when the user gave none.
	Defaults DefaultsFunc
	// Sources are the data sources the task can read, by name.
	Sources map[string]datasets.Generator
	// DefaultSource names the entry of Sources used when none is asked for.
	DefaultSource string
}

// Preprocess owns the transforms of every stage and the data sources of a
// task. It embeds a stage holder so defaults may depend on the current stage.
type Preprocess struct {
	stage.Holder

	transforms    Set
	defaults      DefaultsFunc
	sources       map[string]datasets.Generator
	defaultSource string
}

// New creates a Preprocess.
func New(cfg Config) (*Preprocess, error) {
	if cfg.DefaultSource != "" {
		if _, ok := cfg.Sources[cfg.DefaultSource]; !ok {
			return nil, fmt.Errorf("%w: default source %q is not registered", datasets.ErrConfiguration, cfg.DefaultSource)
		}
	}
	p := &Preprocess{
		transforms:    cfg.Transforms,
		defaults:      cfg.Defaults,
		sources:       maps.Clone(cfg.Sources),
		defaultSource: cfg.DefaultSource,
	}
	if p.sources == nil {
		p.sources = make(map[string]datasets.Generator)
	}
	return p, nil
}

// Transforms returns the user transforms.
func (p *Preprocess) Transforms() Set { return p.transforms }

// SetTransforms replaces the user transforms.
func (p *Preprocess) SetTransforms(set Set) { p.transforms = set }

// Register adds or replaces a named data source.
func (p *Preprocess) Register(name string, src datasets.Generator) {
	p.sources[name] = src
}

// Source returns the named data source; an empty name selects the default.
func (p *Preprocess) Source(name string) (datasets.Generator, error) {
	if name == "" {
		name = p.defaultSource
	}
	src, ok := p.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: no data source named %q (have %v)", datasets.ErrConfiguration, name, p.SourceNames())
	}
	return src, nil
}

// DefaultSource returns the name of the default data source.
func (p *Preprocess) DefaultSource() string { return p.defaultSource }

// SourceNames lists the registered source names in order.
func (p *Preprocess) SourceNames() []string {
	return slices.Sorted(maps.Keys(p.sources))
}

// Transform returns the resolved hook table of stage st. The Preprocess is
// switched to st while the defaults are computed.
func (p *Preprocess) Transform(st stage.Stage) (Table, error) {
	if t := p.transforms.ForStage(st); t != nil {
		return t.Resolve(), nil
	}
	if p.defaults == nil {
		return Table{}, nil
	}
	var t *Transform
	err := p.With(st, func() error {
		var err error
		t, err = p.defaults(st)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t.Resolve(), nil
}

// SampleTransform returns the off-device per-sample chain of stage st:
// pre-tensor, to-tensor and post-tensor.
func (p *Preprocess) SampleTransform(st stage.Stage) (Func, error) {
	table, err := p.Transform(st)
	if err != nil {
		return nil, err
	}
	return Compose(table[PreTensor], table[ToTensorHook], table[PostTensor]), nil
}

// DeviceSampleTransform returns the on-device per-sample function of st.
func (p *Preprocess) DeviceSampleTransform(st stage.Stage) (Func, error) {
	table, err := p.Transform(st)
	if err != nil {
		return nil, err
	}
	return orIdentity(table[PerSampleOnDevice]), nil
}

// BatchTransform returns the per-batch chain of stage st, off-device first.
func (p *Preprocess) BatchTransform(st stage.Stage) (Func, error) {
	table, err := p.Transform(st)
	if err != nil {
		return nil, err
	}
	return Compose(table[PerBatch], table[PerBatchOnDevice]), nil
}

// Collate returns the collate function of stage st, Collate by default.
func (p *Preprocess) Collate(st stage.Stage) (Func, error) {
	table, err := p.Transform(st)
	if err != nil {
		return nil, err
	}
	if f := table[CollateHook]; f != nil {
		return f, nil
	}
	return Collate, nil
}

func orIdentity(f Func) Func {
	if f == nil {
		return Identity
	}
	return f
}
