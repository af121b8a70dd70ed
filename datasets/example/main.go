package main

// Example command that reads tabular rows and grouped sequences from CSV
// files with the lazy CSV sources, and turns a few of them into gomlx
// tensors.
//
// Only file names and row indices are kept in memory; rows are read from
// disk when a sample is accessed.
//
// Usage:
//   go run ./datasets/example -rows 'data/train/*.csv' -features x,y -targets label
//   go run ./datasets/example -sequences 'data/tracking/*.csv' -columns x,y,s

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/Noofbiz/stagedata/datamodule"
	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/stage"
	"github.com/Noofbiz/stagedata/transforms"
)

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func main() {
	rows := flag.String("rows", "", "Glob pattern of CSV files with one sample per row.")
	features := flag.String("features", "x,y", "Comma separated feature columns.")
	targets := flag.String("targets", "", "Comma separated target columns.")
	sequences := flag.String("sequences", "", "Glob pattern of CSV files with one sequence per group id.")
	columns := flag.String("columns", "x,y", "Comma separated sequence channels.")
	group := flag.String("group", "", "Group id column of the sequence files.")
	flag.Parse()
	ctx := context.Background()

	if *rows != "" {
		dm, err := datamodule.FromCSV(ctx, datamodule.CSVPatterns{Train: *rows},
			datasets.CSVOptions{Features: splitList(*features), Targets: splitList(*targets), Stats: true},
			transforms.Set{}, datamodule.Config{BatchSize: 8, DisableShuffle: true})
		if err != nil {
			log.Fatalf("failed to load rows: %v", err)
		}
		ds := dm.TrainDataset().(datasets.SizedDataset)
		fmt.Printf("Using row pattern: %s\n", *rows)
		fmt.Printf("Total rows available: %d\n", ds.Len())
		for col, st := range ds.Metadata().Stats {
			fmt.Printf("  %s: mean=%.3f std=%.3f\n", col, st.Mean, st.StdDev)
		}

		loader, err := dm.TrainLoader()
		if err != nil {
			log.Fatalf("failed to create loader: %v", err)
		}
		_, inputs, labels, err := loader.Yield()
		if err != nil {
			log.Fatalf("failed to build first batch: %v", err)
		}
		fmt.Printf("Created input tensor with shape %s\n", inputs[0].Shape())
		if len(labels) > 0 {
			fmt.Printf("Created label tensor with shape %s\n", labels[0].Shape())
		}
		loader.Reset()
	}

	if *sequences != "" {
		src := datasets.NewSequenceCSVSource(datasets.SequenceCSVOptions{GroupColumn: *group, Columns: splitList(*columns)})
		ds, err := src.GenerateDataset(ctx, *sequences, stage.Predicting)
		if err != nil {
			log.Fatalf("failed to load sequences: %v", err)
		}
		fmt.Printf("Using sequence pattern: %s\n", *sequences)
		fmt.Printf("Total sequences available: %d\n", ds.(datasets.SizedDataset).Len())

		n := 0
		for s, err := range ds.All() {
			if err != nil {
				log.Fatalf("failed to read sequence: %v", err)
			}
			seq := s.Input().([][]float32)
			channels := 0
			if len(seq) > 0 {
				channels = len(seq[0])
			}
			fmt.Printf("  Sequence %d: [%d timesteps, %d channels]\n", n, len(seq), channels)
			if n++; n == 4 {
				break
			}
		}
		fmt.Println("Sequences differ in length; pad or truncate them before collating.")
	}
}
