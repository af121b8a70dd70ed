package visualize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Noofbiz/stagedata/collection"
	"github.com/Noofbiz/stagedata/internal/ctxlog"
)

// Launcher opens the page at url.
type Launcher func(url string) error

// Browser returns a Launcher using the platform's URL opener. The opener is
// looked up when the Launcher runs; a missing one yields ErrToolUnavailable.
func Browser() Launcher {
	return func(url string) error {
		var (
			cmd     string
			args    []string
			install string
		)
		switch runtime.GOOS {
		case "darwin":
			cmd, args = "open", []string{url}
		case "windows":
			cmd, args = "rundll32", []string{"url.dll,FileProtocolHandler", url}
		default:
			cmd, args, install = "xdg-open", []string{url}, "xdg-utils"
		}
		if _, err := exec.LookPath(cmd); err != nil {
			if install == "" {
				install = cmd
			}
			return fmt.Errorf("%w: %s not found, please install %s or open %s yourself", ErrToolUnavailable, cmd, install, url)
		}
		if err := exec.Command(cmd, args...).Start(); err != nil {
			return fmt.Errorf("failed to open %s: %w", url, err)
		}
		return nil
	}
}

// Session is a running visualization page.
type Session struct {
	coll   *collection.Collection
	field  string
	url    string
	srv    *http.Server
	store  *collection.Store
	done   chan struct{}
	once   sync.Once
	closed sync.Once
	err    error
}

func serve(ctx context.Context, coll *collection.Collection, o Options) (*Session, error) {
	ln, err := net.Listen("tcp", o.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", o.Addr, err)
	}
	s := &Session{
		coll:  coll,
		field: o.LabelField,
		url:   "http://" + ln.Addr().String() + "/",
		done:  make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /samples", s.handleSamples)
	mux.HandleFunc("GET /plot.png", s.handlePlot)
	mux.HandleFunc("POST /close", s.handleClose)
	mux.HandleFunc("GET /close", s.handleClose)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	logger := ctxlog.FromContext(ctx)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Visualization server failed.", "err", err)
		}
	}()
	return s, nil
}

// URL returns the address of the page.
func (s *Session) URL() string { return s.url }

// Collection returns the collection holding the visualized samples.
func (s *Session) Collection() *collection.Collection { return s.coll }

// Done is closed once the page asked for the session to end.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session is closed from the page, Close is called or
// ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the page and releases a store opened by Visualize. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.closed.Do(func() {
		s.finish()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.err = s.srv.Shutdown(ctx)
		if s.store != nil {
			s.err = errors.Join(s.err, s.store.Close())
		}
	})
	return s.err
}

func (s *Session) finish() {
	s.once.Do(func() { close(s.done) })
}

type sampleView struct {
	ID       string `json:"id"`
	Filepath string `json:"filepath"`
	Label    string `json:"label"`
}

func (s *Session) views(ctx context.Context) ([]sampleView, error) {
	samples, err := s.coll.Samples(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]sampleView, len(samples))
	for i, smp := range samples {
		out[i] = sampleView{ID: smp.ID, Filepath: smp.Filepath, Label: labelText(smp.Fields[s.field])}
	}
	return out, nil
}

func labelText(l collection.Label) string {
	switch l := l.(type) {
	case collection.Classification:
		return l.Label
	case collection.Detections:
		return fmt.Sprintf("%d detections", len(l.Detections))
	}
	return ""
}

func (s *Session) handleIndex(w http.ResponseWriter, r *http.Request) {
	views, err := s.views(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	names, counts := countViews(views)

	data := make([]opts.BarData, len(counts))
	for i, c := range counts {
		data[i] = opts.BarData{Value: c}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: s.coll.Name(), Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: s.coll.Name(), Subtitle: fmt.Sprintf("%d samples, field %s", len(views), s.field)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).AddSeries(s.field, data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}
	buf.WriteString("<table><tr><th>file</th><th>label</th></tr>\n")
	for _, v := range views {
		fmt.Fprintf(&buf, "<tr><td>%s</td><td>%s</td></tr>\n", html.EscapeString(v.Filepath), html.EscapeString(v.Label))
	}
	buf.WriteString("</table>\n<form method=\"post\" action=\"/close\"><button>Close session</button></form>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Session) handleSamples(w http.ResponseWriter, r *http.Request) {
	views, err := s.views(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (s *Session) handlePlot(w http.ResponseWriter, r *http.Request) {
	views, err := s.views(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	names, counts := countViews(views)
	p, err := histogram(s.coll.Name(), names, counts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}

func (s *Session) handleClose(w http.ResponseWriter, _ *http.Request) {
	s.finish()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("session closed\n"))
}

func countViews(views []sampleView) ([]string, []int) {
	labels := make([]string, len(views))
	for i, v := range views {
		labels[i] = v.Label
	}
	return CountLabels(labels)
}
