package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"splatgate/internal/analysis"
	"splatgate/internal/charts"
	"splatgate/internal/config"
	"splatgate/internal/grpcserver"
	"splatgate/internal/pipeline"
	"splatgate/internal/server"
	"splatgate/internal/storage"
	"splatgate/internal/watch"
)

// ErrRejected is returned by analyze when the gate rejects the footage.
var ErrRejected = errors.New("footage rejected by quality gate")

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
	Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error)
}

type serveOptions struct {
	httpAddr string
	grpcAddr string
	inbox    string
	backfill bool
}

type serverFunc func(ctx context.Context, r *Root, opts serveOptions) error

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
}

// NewRoot constructs the CLI root.
func NewRoot(pl pipelineClient, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
	}
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// defaultServe runs the HTTP API, the gRPC service and, when an inbox is
// set, the inbox watcher until ctx is cancelled or one of them fails.
func defaultServe(ctx context.Context, r *Root, opts serveOptions) error {
	g, ctx := errgroup.WithContext(ctx)

	httpSrv := server.NewServer(opts.httpAddr, r.store, r.pipeline, r.log)
	g.Go(func() error { return httpSrv.Start(ctx) })

	if opts.grpcAddr != "" {
		var reports grpcserver.ReportStore
		if r.store != nil {
			reports = r.store
		}
		grpcSrv := grpcserver.New(r.pipeline, reports, r.log)
		g.Go(func() error { return grpcSrv.Serve(ctx, opts.grpcAddr) })
	}

	if opts.inbox != "" {
		w := watch.NewInboxWatcher(opts.inbox, r.pipeline, r.log)
		w.Backfill = opts.backfill
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}

func printReport(w io.Writer, r *analysis.QualityReport, d *analysis.Decision) {
	fmt.Fprintf(w, "Overall:      %d (%s)\n", r.OverallScore, r.OverallLevel)
	fmt.Fprintf(w, "Basic:        %d  %s\n", r.BasicQuality.Score, r.BasicQuality.Message)
	fmt.Fprintf(w, "Suitability:  %d (%s, expected quality %s)\n",
		r.SplattingSuitability.Score, r.SplattingSuitability.Level, r.SplattingSuitability.EstimatedQuality)
	fmt.Fprintf(w, "Confidence:   %s\n", r.Confidence)
	for _, reason := range r.Degraded {
		fmt.Fprintf(w, "  degraded: %s\n", reason)
	}
	fmt.Fprintf(w, "Keyframes:    %d over %.1fs at %s\n", r.KeyframeCount, r.Duration, r.Resolution)
	if d != nil {
		verdict := "REJECTED"
		if d.Proceed {
			verdict = "PASSED"
		}
		fmt.Fprintf(w, "Decision:     %s (%s)\n", verdict, d.Reason)
	}
	if r.FeedbackMessage != "" {
		fmt.Fprintf(w, "\n%s\n", r.FeedbackMessage)
	}
	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w, "\nSuggestions:")
		for i, s := range r.Suggestions {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s)
		}
	}
}

func printMetrics(w io.Writer, metrics []analysis.FrameMetrics) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTIME\tBRIGHTNESS\tSHARPNESS\tCONTRAST\tEDGES\t")
	for _, m := range metrics {
		note := ""
		if m.Fallback {
			note = "fallback"
		}
		fmt.Fprintf(tw, "%d\t%.2f\t%.1f\t%.1f\t%.1f\t%.1f\t%s\n",
			m.Index, m.Timestamp, m.Brightness, m.Sharpness, m.Contrast, m.EdgeDensity, note)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeCharts renders r to the given paths; empty paths are skipped.
func writeCharts(r *analysis.QualityReport, title, htmlPath, pngPath string) error {
	if htmlPath != "" {
		if err := writeFile(htmlPath, func(w io.Writer) error { return charts.RenderHTML(w, r, title) }); err != nil {
			return fmt.Errorf("write html chart: %w", err)
		}
	}
	if pngPath != "" {
		if err := writeFile(pngPath, func(w io.Writer) error { return charts.RenderPNG(w, r.FrameMetrics, title) }); err != nil {
			return fmt.Errorf("write png chart: %w", err)
		}
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(f)
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
