// Package stage defines the four pipeline phases that gate which loading hooks
// and transforms are active, plus a small embeddable holder for the current
// phase.
package stage

import (
	"fmt"
	"strings"
)

// Stage is one of the mutually exclusive pipeline phases.
type Stage int

const (
	Training Stage = iota
	Validating
	Testing
	Predicting
)

// Count is the number of stages. Useful for sizing per-stage tables.
const Count = 4

var names = [Count]string{"train", "val", "test", "predict"}

// All returns every stage in pipeline order.
func All() []Stage {
	return []Stage{Training, Validating, Testing, Predicting}
}

// String returns the short prefix used for stage-specific hooks
// ("train", "val", "test" or "predict").
func (s Stage) String() string {
	if s.Valid() {
		return names[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Valid reports whether s is one of the four known stages.
func (s Stage) Valid() bool {
	return s >= Training && s <= Predicting
}

// Parse converts a stage name into a Stage. Both the short prefixes and the
// long forms ("training", "validating", ...) are accepted.
func Parse(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "train", "training":
		return Training, nil
	case "val", "validation", "validating":
		return Validating, nil
	case "test", "testing":
		return Testing, nil
	case "predict", "predicting":
		return Predicting, nil
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// Holder keeps the current stage of a component. The zero value is in the
// Training stage.
//
// A Holder is not safe for concurrent stage switches: callers must serialize
// calls to SetStage and With relative to any access that reads the stage.
type Holder struct {
	current Stage
}

// Stage returns the current stage.
func (h *Holder) Stage() Stage { return h.current }

// SetStage replaces the current stage.
func (h *Holder) SetStage(s Stage) { h.current = s }

func (h *Holder) Training() bool   { return h.current == Training }
func (h *Holder) Validating() bool { return h.current == Validating }
func (h *Holder) Testing() bool    { return h.current == Testing }
func (h *Holder) Predicting() bool { return h.current == Predicting }

// With runs fn with the stage switched to s and restores the previous stage
// afterwards, whether fn returns normally, returns an error or panics.
func (h *Holder) With(s Stage, fn func() error) error {
	prev := h.current
	h.current = s
	defer func() { h.current = prev }()
	return fn()
}
