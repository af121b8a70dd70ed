package datasets

import (
	"maps"
	"slices"
)

// Metadata is the side-channel through which a load-data hook reports
// dataset-level state. The hook receives a pointer and sets whichever fields
// apply; the produced dataset keeps a copy.
type Metadata struct {
	// NumClasses is the number of target classes, when known.
	NumClasses *int
	// Labels maps class index to label name, when known.
	Labels []string
	// Sample is a loaded example kept for shape inference.
	Sample Sample
	// Stats holds per-column statistics computed while enumerating.
	Stats map[string]ColumnStats
}

// ColumnStats summarizes one numeric column.
type ColumnStats struct {
	Count  int
	Mean   float64
	StdDev float64
}

// SetNumClasses records the number of classes.
func (m *Metadata) SetNumClasses(n int) {
	m.NumClasses = &n
}

// Classes returns the recorded number of classes.
func (m Metadata) Classes() (int, bool) {
	if m.NumClasses == nil {
		return 0, false
	}
	return *m.NumClasses, true
}

func (m Metadata) clone() Metadata {
	out := Metadata{
		Labels: slices.Clone(m.Labels),
		Sample: m.Sample.Clone(),
	}
	if m.NumClasses != nil {
		out.SetNumClasses(*m.NumClasses)
	}
	out.Stats = maps.Clone(m.Stats)
	return out
}

// LabelsState is the class index to label name mapping discovered by, or
// seeded into, a Source.
type LabelsState struct {
	Labels []string
}
