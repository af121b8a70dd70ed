package datasets

import "iter"

// Records is what a load-data hook produces: either a list of descriptors,
// which yields a sized dataset, or a stream, which yields a streaming
// dataset. The zero value is an empty list.
type Records struct {
	list   []Sample
	stream iter.Seq2[Sample, error]
}

// List wraps a slice of descriptors.
func List(samples []Sample) Records {
	if samples == nil {
		samples = []Sample{}
	}
	return Records{list: samples}
}

// Stream wraps a lazy sequence of descriptors. The sequence may be unbounded.
func Stream(seq iter.Seq2[Sample, error]) Records {
	return Records{stream: seq}
}

// Sized reports whether the records have a well-defined length.
func (r Records) Sized() bool { return r.stream == nil }

// Len returns the number of descriptors of sized records, or -1.
func (r Records) Len() int {
	if !r.Sized() {
		return -1
	}
	return len(r.list)
}

// Samples returns the descriptors of sized records, nil for streams.
func (r Records) Samples() []Sample { return r.list }

// All iterates the descriptors regardless of the variant.
func (r Records) All() iter.Seq2[Sample, error] {
	if r.stream != nil {
		return r.stream
	}
	return func(yield func(Sample, error) bool) {
		for _, s := range r.list {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Filter returns records holding only the descriptors accepted by keep. The
// variant is preserved.
func (r Records) Filter(keep func(Sample) bool) Records {
	if r.Sized() {
		out := make([]Sample, 0, len(r.list))
		for _, s := range r.list {
			if keep(s) {
				out = append(out, s)
			}
		}
		return List(out)
	}
	src := r.stream
	return Stream(func(yield func(Sample, error) bool) {
		for s, err := range src {
			if err == nil && !keep(s) {
				continue
			}
			if !yield(s, err) {
				return
			}
		}
	})
}
