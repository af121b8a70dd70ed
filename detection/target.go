package detection

// Target is the detection target of one image. Boxes, Labels, Areas and
// IsCrowd are aligned by position.
type Target struct {
	// Boxes are [xmin, ymin, xmax, ymax] in pixels.
	Boxes   [][4]float64
	Labels  []int
	ImageID int64
	Areas   []float64
	IsCrowd []int
}

// Len returns the number of objects.
func (t Target) Len() int { return len(t.Boxes) }

func (t *Target) add(box [4]float64, label int, area float64, crowd int) {
	t.Boxes = append(t.Boxes, box)
	t.Labels = append(t.Labels, label)
	t.Areas = append(t.Areas, area)
	t.IsCrowd = append(t.IsCrowd, crowd)
}

// ConvertBox turns [x, y, width, height] into [xmin, ymin, xmax, ymax].
func ConvertBox(b [4]float64) [4]float64 {
	return [4]float64{b[0], b[1], b[0] + b[2], b[1] + b[3]}
}

// Degenerate reports whether a converted box has no extent.
func Degenerate(b [4]float64) bool {
	return !(b[3] > b[1] && b[2] > b[0])
}

// tiny reports whether a raw [x, y, width, height] box is at most one pixel
// wide or tall.
func tiny(b [4]float64) bool {
	return b[2] <= 1 || b[3] <= 1
}
