package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"splatgate/internal/config"
	"splatgate/internal/extract"
	"splatgate/internal/frames"
	"splatgate/internal/logging"
	"splatgate/internal/pipeline"
	"splatgate/internal/storage"
	"splatgate/internal/watch"
)

// Version is set at build time.
var Version = "0.3.0-dev"

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe pipelineClient) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "splatgate",
		Short: "Quality gate for Gaussian Splatting reconstruction footage",
		Long: `splatgate scores videos for basic visual quality and for suitability to
Gaussian Splatting reconstruction, and only forwards footage that clears the
configured threshold.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newAnalyzeCmd(root))
	rootCmd.AddCommand(newFramesCmd(root))
	rootCmd.AddCommand(newReportCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newHandoffsCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))
	return rootCmd
}

func newAnalyzeCmd(root *Root) *cobra.Command {
	var (
		threshold int
		asJSON    bool
		htmlOut   string
		pngOut    string
	)

	cmd := &cobra.Command{
		Use:   "analyze <video|frames_dir>",
		Short: "Score footage and decide whether it may proceed to reconstruction",
		Long: `Extract keyframes from a video (or read a directory of pre-extracted frames),
score them and apply the quality gate. Exits with an error when the footage is
rejected so the command can guard scripted reconstruction runs.

Examples:
  splatgate analyze walkthrough.mp4
  splatgate analyze ./frames --threshold 60 --json
  splatgate analyze room.mov --html room.html --png room.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:      newID("analyze"),
				Type:    pipeline.JobAnalyze,
				Source:  args[0],
				Options: map[string]any{"origin": "cli"},
			}
			if cmd.Flags().Changed("threshold") {
				if threshold < 0 || threshold > 100 {
					return fmt.Errorf("threshold must be within 0..100")
				}
				job.Options["threshold"] = threshold
			}

			res, err := root.pipeline.Run(cmd.Context(), job)
			if err != nil {
				return err
			}
			if res.Error != nil {
				return res.Error
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, res.Report); err != nil {
					return err
				}
			} else {
				printReport(out, res.Report, res.Decision)
			}
			if err := writeCharts(res.Report, filepath.Base(args[0]), htmlOut, pngOut); err != nil {
				return err
			}
			if res.Decision != nil && !res.Decision.Proceed {
				return fmt.Errorf("%w: %s", ErrRejected, res.Decision.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&threshold, "threshold", "t", 0, "override the configured pass threshold (0-100)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	cmd.Flags().StringVar(&htmlOut, "html", "", "write an interactive HTML chart to this path")
	cmd.Flags().StringVar(&pngOut, "png", "", "write a PNG metrics plot to this path")
	return cmd
}

func newFramesCmd(root *Root) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "frames <video|frames_dir>",
		Short: "Print per-frame metrics without applying the gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job := pipeline.Job{
				ID:     newID("metrics"),
				Type:   pipeline.JobMetrics,
				Source: args[0],
			}
			res, err := root.pipeline.Run(cmd.Context(), job)
			if err != nil {
				return err
			}
			if res.Error != nil {
				return res.Error
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res.Metrics)
			}
			return printMetrics(cmd.OutOrStdout(), res.Metrics)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print metrics as JSON")
	return cmd
}

func newReportCmd(root *Root) *cobra.Command {
	var (
		asJSON  bool
		htmlOut string
		pngOut  string
	)

	cmd := &cobra.Command{
		Use:   "report <job_id>",
		Short: "Show a stored quality report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return errors.New("no database configured")
			}
			r, err := root.store.Report(args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no report for job %s", args[0])
			}
			if err != nil {
				return err
			}
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), r); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), r, nil)
			}
			return writeCharts(r, args[0], htmlOut, pngOut)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	cmd.Flags().StringVar(&htmlOut, "html", "", "write an interactive HTML chart to this path")
	cmd.Flags().StringVar(&pngOut, "png", "", "write a PNG metrics plot to this path")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return errors.New("no database configured")
			}
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCREATED\tSOURCE\tERROR")
			for _, j := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.JobType, j.Status, j.CreatedAt.Format("2006-01-02 15:04:05"), j.Source, oneLine(j.Error))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	return cmd
}

func newHandoffsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "handoffs",
		Short: "List videos forwarded to reconstruction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return errors.New("no database configured")
			}
			recs, err := root.store.Handoffs(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tSCORE\tCREATED\tSOURCE")
			for _, h := range recs {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", h.JobID, h.OverallScore, h.CreatedAt.Format("2006-01-02 15:04:05"), h.Source)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of handoffs to show")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC service and the inbox watcher",
		Long: `Start the HTTP API (job submission, reports, charts, /stream and /ws events)
and the splatgate.v1.QualityGate gRPC service. When an inbox directory is
configured, videos dropped into it are analysed automatically.

Examples:
  splatgate serve --addr :8080 --grpc-addr :9090
  splatgate serve --inbox /srv/uploads --backfill`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting services",
				"addr", opts.httpAddr,
				"grpc_addr", opts.grpcAddr,
				"inbox", opts.inbox,
			)
			return root.serveFn(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "addr", root.cfg.Server.Addr, "HTTP listen address")
	cmd.Flags().StringVar(&opts.grpcAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC listen address (empty disables gRPC)")
	cmd.Flags().StringVar(&opts.inbox, "inbox", root.cfg.Paths.Inbox, "directory to watch for new videos")
	cmd.Flags().BoolVar(&opts.backfill, "backfill", false, "also analyse videos already in the inbox")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		backfill  bool
		threshold int
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Analyse every video dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := watch.NewInboxWatcher(args[0], root.pipeline, root.log)
			w.Backfill = backfill
			if cmd.Flags().Changed("threshold") {
				w.Options = map[string]any{"threshold": threshold}
			}
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&backfill, "backfill", false, "also analyse videos already present")
	cmd.Flags().IntVarP(&threshold, "threshold", "t", 0, "override the configured pass threshold (0-100)")
	return cmd
}

func newToolsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Show external tool availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ff := extract.NewFFmpegExtractor(root.log)
			ff.FFmpegPath = root.cfg.Extraction.FFmpegPath
			ff.FFprobePath = root.cfg.Extraction.FFprobePath

			available := ff.Available()
			logging.LogToolStatus(root.log, "ffmpeg", available, ff.FFmpegPath, nil)
			status := "missing (only frame directories can be analysed)"
			if available {
				status = "available"
			}
			fmt.Fprintf(out, "ffmpeg/ffprobe: %s\n", status)
			fmt.Fprintf(out, "frame decoder:  %s\n", frames.Decoder())
			return nil
		},
	}
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("splatgate %s (%s, %s decoder)\n", Version, runtime.Version(), frames.Decoder())
		},
	}
}
