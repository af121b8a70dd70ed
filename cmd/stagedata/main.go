package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/schollz/progressbar/v3"

	"github.com/Noofbiz/stagedata/config"
	"github.com/Noofbiz/stagedata/datamodule"
	"github.com/Noofbiz/stagedata/datasets"
	"github.com/Noofbiz/stagedata/internal/ctxlog"
	"github.com/Noofbiz/stagedata/stage"
	"github.com/Noofbiz/stagedata/visualize"
)

// exitError carries a process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Stdout, os.Args[1:])
	stop()
	if err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.msg)
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	config    string
	logLevel  string
	logFormat string
	batches   int
	plot      string
	visualize bool
	wait      bool
	progress  bool
}

func parseFlags(args []string, outW io.Writer) (*options, bool, error) {
	fs := flag.NewFlagSet("stagedata", flag.ContinueOnError)
	fs.SetOutput(outW)
	fs.Usage = func() {
		fmt.Fprint(outW, `
stagedata - builds a data module from an HCL description and walks its loaders.

Usage:
  stagedata [options] -config FILE

Options:
`)
		fs.PrintDefaults()
	}

	var o options
	fs.StringVar(&o.config, "config", "", "Path to the HCL data module description.")
	fs.StringVar(&o.logLevel, "log-level", "info", "Logging level: 'debug', 'info', 'warn' or 'error'.")
	fs.StringVar(&o.logFormat, "log-format", "text", "Log output format: 'text' or 'json'.")
	fs.IntVar(&o.batches, "batches", 1, "Batches to assemble per stage. 0 walks whole epochs, -1 skips loading.")
	fs.StringVar(&o.plot, "plot", "", "Write a histogram of the training labels to this image file.")
	fs.BoolVar(&o.visualize, "visualize", false, "Serve the training samples and their labels as a web page.")
	fs.BoolVar(&o.wait, "wait", false, "With -visualize, keep serving until the page is closed or the process is interrupted.")
	fs.BoolVar(&o.progress, "progress", true, "Show a progress bar while walking loaders.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &exitError{code: 2, msg: err.Error()}
	}
	if o.config == "" && fs.NArg() > 0 {
		o.config = fs.Arg(0)
	}
	if o.config == "" {
		fs.Usage()
		return nil, false, &exitError{code: 2, msg: "a -config file is required"}
	}
	o.logLevel = strings.ToLower(o.logLevel)
	o.logFormat = strings.ToLower(o.logFormat)
	return &o, false, nil
}

func run(ctx context.Context, outW io.Writer, args []string) error {
	o, shouldExit, err := parseFlags(args, outW)
	if err != nil || shouldExit {
		return err
	}
	logger := ctxlog.New(o.logLevel, o.logFormat, os.Stderr)
	slog.SetDefault(logger)
	ctx = ctxlog.WithLogger(ctx, logger)

	cfg, err := config.Load(o.config)
	if err != nil {
		return err
	}
	dm, err := cfg.Build(ctx)
	if err != nil {
		return err
	}
	if n, ok := dm.NumClasses(); ok {
		logger.Info("Classes discovered.", "num_classes", n, "labels", dm.Labels())
	}

	if o.batches >= 0 {
		for _, st := range stage.All() {
			if dm.Datasets().ForStage(st) == nil {
				continue
			}
			if err := walk(ctx, outW, dm, st, o); err != nil {
				return err
			}
		}
	}

	if o.plot != "" || o.visualize {
		paths, labels, err := trainingLabels(dm)
		if err != nil {
			return err
		}
		if o.plot != "" {
			if err := visualize.SavePlot(o.plot, "training labels", labels); err != nil {
				return err
			}
			logger.Info("Label histogram written.", "path", o.plot)
		}
		if o.visualize {
			preds := make([]any, len(paths))
			for i := range paths {
				preds[i] = visualize.Prediction{Filepath: paths[i], Label: labels[i]}
			}
			s, err := visualize.Visualize(ctx, visualize.Input{Labels: preds}, visualize.Options{
				LabelField: "ground_truth",
				Launch:     browserOrLog(logger),
				Wait:       o.wait,
			})
			if err != nil {
				return err
			}
			if !o.wait {
				fmt.Fprintf(outW, "visualization at %s closed on exit, pass -wait to keep serving\n", s.URL())
				return s.Close()
			}
		}
	}
	return nil
}

// walk assembles batches of one stage and reports their shapes.
func walk(ctx context.Context, outW io.Writer, dm *datamodule.DataModule, st stage.Stage, o *options) error {
	logger := ctxlog.FromContext(ctx)
	l, err := dm.Loader(st)
	if err != nil {
		return err
	}
	total := l.Len()
	if o.batches > 0 && (total < 0 || o.batches < total) {
		total = o.batches
	}

	var bar *progressbar.ProgressBar
	if o.progress {
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(outW),
			progressbar.OptionSetDescription(st.String()),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}

	n := 0
	for b, err := range l.Batches(ctx) {
		if err != nil {
			return fmt.Errorf("%s loader: %w", st, err)
		}
		n++
		logger.Debug("Batch assembled.", "stage", st.String(), "batch", n, "size", b.Size(), "shapes", shapes(b))
		if bar != nil {
			_ = bar.Add(1)
		}
		if o.batches > 0 && n >= o.batches {
			break
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(outW)
	}
	logger.Info("Loader walked.", "stage", st.String(), "batches", n)
	return nil
}

func shapes(b map[string]any) map[string]string {
	out := make(map[string]string, len(b))
	for k, v := range b {
		if t, ok := v.(*tensors.Tensor); ok {
			out[k] = t.Shape().String()
			continue
		}
		out[k] = fmt.Sprintf("%T", v)
	}
	return out
}

// trainingLabels reads the file path and label name of every training
// descriptor.
func trainingLabels(dm *datamodule.DataModule) ([]string, []string, error) {
	var descs []datasets.Sample
	switch ds := dm.TrainDataset().(type) {
	case *datasets.AutoDataset:
		descs = ds.Descriptors()
	case *datasets.SubsetDataset:
		var ok bool
		if descs, ok = ds.Descriptors(); !ok {
			return nil, nil, fmt.Errorf("%w: training split does not expose descriptors", datasets.ErrConfiguration)
		}
	default:
		return nil, nil, fmt.Errorf("%w: labels need a sized training dataset", datasets.ErrConfiguration)
	}
	names := dm.Labels()
	var paths, labels []string
	for _, d := range descs {
		target, ok := d.Target()
		if !ok {
			continue
		}
		label := fmt.Sprint(target)
		if idx, ok := target.(int); ok && idx >= 0 && idx < len(names) {
			label = names[idx]
		}
		path, _ := d.Input().(string)
		paths = append(paths, path)
		labels = append(labels, label)
	}
	return paths, labels, nil
}

var openURL = visualize.Browser

func browserOrLog(logger *slog.Logger) visualize.Launcher {
	open := openURL()
	return func(url string) error {
		err := open(url)
		if errors.Is(err, visualize.ErrToolUnavailable) {
			logger.Warn("Cannot open a browser.", "err", err, "url", url)
			return nil
		}
		return err
	}
}
