package datasets

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Descriptor keys of a SequenceCSVSource.
const (
	KeyGroup = "group"
	KeyRows  = "rows"
)

// SequenceCSVOptions configures a SequenceCSVSource.
type SequenceCSVOptions struct {
	// GroupColumn identifies the rows of one sequence. When empty, an
	// "id" column is used.
	GroupColumn string
	// Columns are the channels read from each row.
	Columns []string
}

// SequenceCSVSource groups the rows of CSV files by an id column. Each group
// is one sample whose input is a [time][channels] float32 sequence in row
// order. Groups are ordered by file, then by id.
type SequenceCSVSource struct {
	*Source[string]
	opts SequenceCSVOptions
}

// NewSequenceCSVSource creates a SequenceCSVSource.
func NewSequenceCSVSource(opts SequenceCSVOptions) *SequenceCSVSource {
	ss := &SequenceCSVSource{opts: opts}
	ss.Source = NewSource("sequence-csv", Hooks[string]{
		Default: StageHooks[string]{LoadData: NoMetadata(ss.loadData), LoadSample: ss.loadSample},
	})
	return ss
}

func (ss *SequenceCSVSource) groupColumn(colIndex map[string]int) (int, error) {
	if ss.opts.GroupColumn != "" {
		if idx, ok := colIndex[normalizeColumn(ss.opts.GroupColumn)]; ok {
			return idx, nil
		}
		return -1, fmt.Errorf("group column %q not found", ss.opts.GroupColumn)
	}
	if idx, ok := colIndex["id"]; ok {
		return idx, nil
	}
	return -1, fmt.Errorf("no group column set and no id column found")
}

func (ss *SequenceCSVSource) loadData(_ context.Context, pattern string) (Records, error) {
	csvPaths, err := globCSV(pattern)
	if err != nil {
		return Records{}, err
	}
	var out []Sample
	for _, path := range csvPaths {
		groups, err := ss.scanFileForGroups(path)
		if err != nil {
			return Records{}, fmt.Errorf("failed to scan %s: %w", path, err)
		}
		ids := make([]string, 0, len(groups))
		for id := range groups {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			out = append(out, Sample{KeyInput: path, KeyGroup: id, KeyRows: groups[id]})
		}
	}
	return List(out), nil
}

// scanFileForGroups returns the row indices of every group id in a file.
func (ss *SequenceCSVSource) scanFileForGroups(path string) (map[string][]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	colIndex := headerIndex(header)
	groupIdx, err := ss.groupColumn(colIndex)
	if err != nil {
		return nil, err
	}
	if !hasColumns(colIndex, ss.opts.Columns) {
		return nil, fmt.Errorf("sequence columns %v not all found", ss.opts.Columns)
	}

	groupRows := make(map[string][]int)
	rowIdx := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		id := strings.TrimSpace(record[groupIdx])
		groupRows[id] = append(groupRows[id], rowIdx)
		rowIdx++
	}
	return groupRows, nil
}

func (ss *SequenceCSVSource) loadSample(s Sample) (Sample, error) {
	path, _ := s[KeyInput].(string)
	rows, _ := s[KeyRows].([]int)

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	colIndex := headerIndex(header)

	sequence := make([][]float32, 0, len(rows))
	next := 0
	for currentRow := 0; next < len(rows); currentRow++ {
		record, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", currentRow, err)
		}
		if currentRow != rows[next] {
			continue
		}
		step, err := readColumns(record, colIndex, ss.opts.Columns)
		if err != nil {
			return nil, fmt.Errorf("failed to parse value: %w", err)
		}
		sequence = append(sequence, step)
		next++
	}
	return Sample{
		KeyInput:    sequence,
		KeyMetadata: map[string]any{"filepath": path, KeyGroup: s[KeyGroup]},
	}, nil
}
