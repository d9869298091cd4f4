package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"splatgate/internal/analysis"
	"splatgate/internal/frames"
	"splatgate/internal/storage"
)

// Handoff is the input record given to reconstruction for a video that
// passed the gate.
type Handoff struct {
	JobID    string                  `json:"jobId"`
	Source   string                  `json:"source"`
	Metadata frames.VideoMetadata    `json:"metadata"`
	Report   *analysis.QualityReport `json:"report"`
}

// Downstream receives videos that passed the gate. It is never called for a
// rejected video.
type Downstream interface {
	Enqueue(ctx context.Context, h Handoff) error
}

// RecordingDownstream persists handoffs so an external reconstruction worker
// can pick them up from the database.
type RecordingDownstream struct {
	Store *storage.Store
	Log   *slog.Logger
}

func (d RecordingDownstream) Enqueue(ctx context.Context, h Handoff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	meta, err := json.Marshal(h.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	score := 0
	if h.Report != nil {
		score = h.Report.OverallScore
	}
	if d.Log != nil {
		d.Log.Info("handing off to reconstruction", "id", h.JobID, "source", h.Source, "score", score)
	}
	return d.Store.RecordHandoff(storage.HandoffRecord{
		JobID:        h.JobID,
		Source:       h.Source,
		OverallScore: score,
		MetadataJSON: string(meta),
	})
}
