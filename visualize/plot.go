package visualize

import (
	"fmt"
	"slices"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// CountLabels returns the distinct labels in sorted order and how often each
// occurs.
func CountLabels(labels []string) ([]string, []int) {
	counts := make(map[string]int)
	for _, l := range labels {
		counts[l]++
	}
	names := make([]string, 0, len(counts))
	for l := range counts {
		names = append(names, l)
	}
	slices.Sort(names)
	out := make([]int, len(names))
	for i, l := range names {
		out[i] = counts[l]
	}
	return names, out
}

func histogram(title string, names []string, counts []int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "samples"

	values := make(plotter.Values, len(counts))
	for i, c := range counts {
		values[i] = float64(c)
	}
	if len(values) > 0 {
		bars, err := plotter.NewBarChart(values, vg.Points(20))
		if err != nil {
			return nil, fmt.Errorf("failed to build bar chart: %w", err)
		}
		bars.LineStyle.Width = vg.Length(0)
		p.Add(bars)
		p.NominalX(names...)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// SavePlot writes a histogram of labels to path. The image format follows
// the file extension (png, svg, pdf...).
func SavePlot(path, title string, labels []string) error {
	names, counts := CountLabels(labels)
	p, err := histogram(title, names, counts)
	if err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
