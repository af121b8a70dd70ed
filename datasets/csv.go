package datasets

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/stagedata/internal/ctxlog"
)

// KeyRow holds the row index of a CSV descriptor within its file.
const KeyRow = "row"

// CSVOptions configures a CSVSource.
type CSVOptions struct {
	// Features are the input column names, read in this order.
	Features []string
	// Targets are the target column names. They are required outside the
	// predict stage and read when present in it.
	Targets []string
	// Stats computes mean and standard deviation of every feature column
	// into the dataset metadata.
	Stats bool
}

// CSVSource lazily reads rows of the CSV files matching a glob pattern. Each
// row is one sample: the input is a []float32 of the feature columns and the
// target a []float32 of the target columns.
type CSVSource struct {
	*Source[string]
	opts CSVOptions
}

// NewCSVSource creates a CSVSource. Column names are matched
// case-insensitively.
func NewCSVSource(opts CSVOptions) *CSVSource {
	cs := &CSVSource{opts: opts}
	cs.Source = NewSource("csv", Hooks[string]{
		Default: StageHooks[string]{LoadData: cs.loadData, LoadSample: cs.loadSample},
	})
	return cs
}

func (cs *CSVSource) loadData(ctx context.Context, pattern string, md *Metadata) (Records, error) {
	csvPaths, err := globCSV(pattern)
	if err != nil {
		return Records{}, err
	}

	required := slices.Clone(cs.opts.Features)
	if !cs.Predicting() {
		required = append(required, cs.opts.Targets...)
	}
	var out []Sample
	for _, path := range csvPaths {
		colIndex, count, err := indexCSV(path)
		if err != nil {
			return Records{}, err
		}
		for _, col := range required {
			if _, ok := colIndex[normalizeColumn(col)]; !ok {
				return Records{}, fmt.Errorf("required column %q not found in %s", col, path)
			}
		}
		for row := range count {
			out = append(out, Sample{KeyInput: path, KeyRow: row})
		}
	}

	if cs.opts.Stats {
		stats, err := columnStats(csvPaths, cs.opts.Features)
		if err != nil {
			return Records{}, err
		}
		md.Stats = stats
	}
	ctxlog.FromContext(ctx).Debug("Indexed CSV files.", "pattern", pattern, "files", len(csvPaths), "rows", len(out))
	return List(out), nil
}

func (cs *CSVSource) loadSample(s Sample) (Sample, error) {
	path, _ := s[KeyInput].(string)
	row, _ := s[KeyRow].(int)

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := headerIndex(header)

	// Skip to the desired row
	for range row {
		if _, err := reader.Read(); err != nil {
			return nil, fmt.Errorf("failed to skip to row %d: %w", row, err)
		}
	}
	record, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read row %d: %w", row, err)
	}

	inputs, err := readColumns(record, colIndex, cs.opts.Features)
	if err != nil {
		return nil, err
	}
	out := Sample{KeyInput: inputs, KeyMetadata: map[string]any{"filepath": path, KeyRow: row}}
	if len(cs.opts.Targets) > 0 && hasColumns(colIndex, cs.opts.Targets) {
		targets, err := readColumns(record, colIndex, cs.opts.Targets)
		if err != nil {
			return nil, err
		}
		out[KeyTarget] = targets
	}
	return out, nil
}

func globCSV(pattern string) ([]string, error) {
	csvPaths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	if len(csvPaths) == 0 {
		return nil, fmt.Errorf("no CSV files found matching pattern: %s", pattern)
	}
	slices.Sort(csvPaths)
	return csvPaths, nil
}

func normalizeColumn(col string) string {
	return strings.TrimSpace(strings.ToLower(col))
}

func headerIndex(header []string) map[string]int {
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[normalizeColumn(col)] = i
	}
	return colIndex
}

// indexCSV reads the header of path and counts its data rows.
func indexCSV(path string) (map[string]int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open CSV %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	colIndex := headerIndex(header)

	rows := 0
	for {
		_, err := reader.Read()
		if err == io.EOF {
			return colIndex, rows, nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count rows in %s: %w", path, err)
		}
		rows++
	}
}

func hasColumns(colIndex map[string]int, cols []string) bool {
	for _, col := range cols {
		if _, ok := colIndex[normalizeColumn(col)]; !ok {
			return false
		}
	}
	return true
}

func readColumns(record []string, colIndex map[string]int, cols []string) ([]float32, error) {
	out := make([]float32, len(cols))
	for i, col := range cols {
		idx, ok := colIndex[normalizeColumn(col)]
		if !ok || idx >= len(record) {
			return nil, fmt.Errorf("column %q missing from row", col)
		}
		field := strings.TrimSpace(record[idx])
		if field == "" {
			return nil, fmt.Errorf("column %q is empty", col)
		}
		val, err := strconv.ParseFloat(field, 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", col, err)
		}
		out[i] = float32(val)
	}
	return out, nil
}

// columnStats reads every row of every file once and summarizes cols.
func columnStats(csvPaths []string, cols []string) (map[string]ColumnStats, error) {
	values := make([][]float64, len(cols))
	for _, path := range csvPaths {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open CSV: %w", err)
		}
		reader := csv.NewReader(file)
		header, err := reader.Read()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
		colIndex := headerIndex(header)
		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				file.Close()
				return nil, fmt.Errorf("failed to read row: %w", err)
			}
			row, err := readColumns(record, colIndex, cols)
			if err != nil {
				file.Close()
				return nil, err
			}
			for i, v := range row {
				values[i] = append(values[i], float64(v))
			}
		}
		file.Close()
	}

	stats := make(map[string]ColumnStats, len(cols))
	for i, col := range cols {
		s := ColumnStats{Count: len(values[i])}
		if s.Count > 0 {
			s.Mean, s.StdDev = stat.MeanStdDev(values[i], nil)
		}
		stats[normalizeColumn(col)] = s
	}
	return stats, nil
}
