package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"splatgate/internal/analysis"
	"splatgate/internal/config"
	"splatgate/internal/extract"
	"splatgate/internal/frames"
	"splatgate/internal/logging"
	"splatgate/internal/storage"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log           *slog.Logger
	store         *storage.Store
	extractor     extract.Extractor
	assessor      assessor
	downstream    Downstream
	workers       int
	tempDir       string
	keepWorkspace bool
	threshold     int
}

type assessor interface {
	Assess(ctx context.Context, b frames.Batch) (*analysis.QualityReport, error)
}

// NewRouter wires the gate from cfg. downstream may be nil, in which case
// passing videos are only recorded as handoffs in store.
func NewRouter(cfg *config.Config, logger *slog.Logger, store *storage.Store, downstream Downstream) Processor {
	if logger == nil {
		logger = slog.Default()
	}
	ff := extract.NewFFmpegExtractor(logger)
	ff.FFmpegPath = cfg.Extraction.FFmpegPath
	ff.FFprobePath = cfg.Extraction.FFprobePath
	ff.TargetSamples = cfg.Extraction.TargetSamples
	ff.FrameWidth = cfg.Extraction.FrameWidth

	if downstream == nil {
		downstream = RecordingDownstream{Store: store, Log: logger}
	}
	return &router{
		log:   logger,
		store: store,
		extractor: extract.Auto{
			Video:  ff,
			Frames: extract.DirectoryExtractor{Log: logger},
		},
		assessor:      analysis.NewAssessor(cfg.Thresholds(), cfg.Processing.MetricWorkers),
		downstream:    downstream,
		workers:       cfg.Processing.MetricWorkers,
		tempDir:       cfg.Processing.TempDir,
		keepWorkspace: cfg.Processing.KeepWorkspace,
		threshold:     cfg.Quality.Threshold,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobAnalyze:
		return r.handleAnalyze(ctx, job)
	case JobMetrics:
		return r.handleMetrics(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleAnalyze(ctx context.Context, job Job) Result {
	res := Result{Job: job}
	threshold, err := thresholdOption(job.Options, r.threshold)
	if err != nil {
		res.Error = err
		return res
	}
	res.Error = extract.WithWorkspace(ctx, r.tempDir, r.log, func(ctx context.Context, ws *extract.Workspace) error {
		if r.keepWorkspace {
			ws.Keep()
		}
		batch, err := r.extract(ctx, job, ws)
		if err != nil {
			return err
		}

		logging.LogProcessingStep(r.log, job.ID, "assess", "started", map[string]any{"frames": len(batch.Frames)})
		report, err := r.assessor.Assess(ctx, batch)
		if err != nil {
			return err
		}

		decision := analysis.Gate(report, threshold)
		report.Threshold = threshold
		report.Passed = decision.Proceed
		res.Report = report
		res.Decision = &decision

		if r.store != nil {
			if err := r.store.SaveReport(job.ID, report); err != nil {
				r.log.Warn("failed to persist report", "id", job.ID, "error", err)
			}
		}
		logging.LogGateDecision(r.log, job.ID, report.OverallScore, threshold, string(report.Confidence), decision.Proceed, decision.Reason)

		handedOff := false
		if decision.Proceed && r.downstream != nil {
			err := r.downstream.Enqueue(ctx, Handoff{
				JobID:    job.ID,
				Source:   job.Source,
				Metadata: batch.Metadata,
				Report:   report,
			})
			if err != nil {
				return fmt.Errorf("hand off to reconstruction: %w", err)
			}
			handedOff = true
		}

		res.Meta = map[string]any{
			"score":      report.OverallScore,
			"passed":     decision.Proceed,
			"confidence": string(report.Confidence),
			"level":      report.OverallLevel,
			"keyframes":  report.KeyframeCount,
			"handed_off": handedOff,
			"reason":     decision.Reason,
		}
		return nil
	})
	return res
}

func (r *router) handleMetrics(ctx context.Context, job Job) Result {
	res := Result{Job: job}
	res.Error = extract.WithWorkspace(ctx, r.tempDir, r.log, func(ctx context.Context, ws *extract.Workspace) error {
		batch, err := r.extract(ctx, job, ws)
		if err != nil {
			return err
		}
		metrics, err := analysis.ComputeAll(ctx, batch.Frames, r.workers)
		if err != nil {
			return err
		}
		res.Metrics = metrics
		if r.store != nil {
			if err := r.store.SaveFrameMetrics(job.ID, metrics); err != nil {
				r.log.Warn("failed to persist frame metrics", "id", job.ID, "error", err)
			}
		}
		res.Meta = map[string]any{
			"frames":     len(batch.Frames),
			"valid":      batch.ValidCount(),
			"resolution": batch.Metadata.Resolution(),
		}
		return nil
	})
	return res
}

// extract returns the keyframes of job.Source. Only cancellation is fatal:
// otherwise the batch carries what was recovered and unreadable metadata is
// replaced with defaults. An empty batch with default metadata is rejected
// later by the assessor with analysis.ErrCannotAssess.
func (r *router) extract(ctx context.Context, job Job, ws *extract.Workspace) (frames.Batch, error) {
	logging.LogProcessingStep(r.log, job.ID, "extract", "started", map[string]any{"source": job.Source})
	batch, err := r.extractor.Extract(ctx, job.Source, ws)
	if err == nil {
		return batch, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return batch, ctxErr
	}
	r.log.Warn("extraction incomplete", "id", job.ID, "source", job.Source, "frames", len(batch.Frames), "error", err)
	if !batch.Metadata.Usable() {
		batch.Metadata = frames.DefaultMetadata()
	}
	return batch, nil
}

// ErrInvalidThreshold is returned for a threshold option that is not a whole
// number within 0..100.
var ErrInvalidThreshold = errors.New("threshold must be a whole number within 0..100")

// thresholdOption reads the per-job threshold override. Numbers decoded
// from JSON arrive as float64 and must not carry a fraction.
func thresholdOption(opts map[string]any, fallback int) (int, error) {
	var th float64
	switch v := opts["threshold"].(type) {
	case nil:
		return fallback, nil
	case int:
		th = float64(v)
	case int64:
		th = float64(v)
	case float64:
		th = v
	default:
		return 0, fmt.Errorf("%w: got %T", ErrInvalidThreshold, v)
	}
	if th != math.Trunc(th) || th < 0 || th > 100 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidThreshold, th)
	}
	return int(th), nil
}
