package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"splatgate/internal/analysis"
)

// ErrNotFound is returned when a job has no stored report.
var ErrNotFound = errors.New("not found")

// Store wraps SQLite-backed persistence for jobs, reports and hand-offs.
type Store struct {
	DB  *sql.DB // Export for direct database access
	log *slog.Logger
}

// New opens (or creates) the database at path and migrates the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db, log: slog.Default()}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string     `json:"id"`
	JobType     string     `json:"type"`
	Status      string     `json:"status"`
	Source      string     `json:"source"`
	OptionsJSON string     `json:"options,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HandoffRecord is one video forwarded to reconstruction.
type HandoffRecord struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	Source       string    `json:"source"`
	OverallScore int       `json:"overall_score"`
	MetadataJSON string    `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO analysis_jobs (id, job_type, status, source, options_json) VALUES (?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.Source, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE analysis_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if _, err := s.DB.Exec(`UPDATE analysis_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id); err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, source, options_json, created_at, started_at, completed_at, error_message
        FROM analysis_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var source, options, errorMsg sql.NullString
		var started, completed sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &source, &options, &rec.CreatedAt, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.Source = source.String
		rec.OptionsJSON = options.String
		rec.Error = errorMsg.String
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1;`, id).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// SaveReport stores a report and its per-frame metrics, replacing any earlier
// report for the same job.
func (s *Store) SaveReport(jobID string, r *analysis.QualityReport) error {
	if s == nil {
		return nil
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO quality_reports (job_id, overall_score, overall_level, passed, confidence, threshold, report_json) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		jobID, r.OverallScore, r.OverallLevel, r.Passed, string(r.Confidence), r.Threshold, string(body)); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if err := saveFrameMetrics(tx, jobID, r.FrameMetrics); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveFrameMetrics stores per-frame metrics for a job that has no report,
// replacing any earlier metrics for it.
func (s *Store) SaveFrameMetrics(jobID string, metrics []analysis.FrameMetrics) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveFrameMetrics(tx, jobID, metrics); err != nil {
		return err
	}
	return tx.Commit()
}

func saveFrameMetrics(tx *sql.Tx, jobID string, metrics []analysis.FrameMetrics) error {
	if _, err := tx.Exec(`DELETE FROM frame_metrics WHERE job_id=?;`, jobID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO frame_metrics (job_id, frame_index, timestamp, brightness, contrast, sharpness, edge_density, fallback) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range metrics {
		if _, err := stmt.Exec(jobID, m.Index, m.Timestamp, m.Brightness, m.Contrast, m.Sharpness, m.EdgeDensity, m.Fallback); err != nil {
			return fmt.Errorf("insert frame %d: %w", m.Index, err)
		}
	}
	return nil
}

// Report loads the stored report for a job.
func (s *Store) Report(jobID string) (*analysis.QualityReport, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var body string
	err := s.DB.QueryRow(`SELECT report_json FROM quality_reports WHERE job_id=?;`, jobID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r analysis.QualityReport
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, nil
}

// FrameMetrics returns a job's per-frame metrics in extraction order.
func (s *Store) FrameMetrics(jobID string) ([]analysis.FrameMetrics, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT frame_index, timestamp, brightness, contrast, sharpness, edge_density, fallback
        FROM frame_metrics WHERE job_id=? ORDER BY frame_index;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []analysis.FrameMetrics
	for rows.Next() {
		var m analysis.FrameMetrics
		if err := rows.Scan(&m.Index, &m.Timestamp, &m.Brightness, &m.Contrast, &m.Sharpness, &m.EdgeDensity, &m.Fallback); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordHandoff persists a video forwarded to reconstruction.
func (s *Store) RecordHandoff(rec HandoffRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO handoffs (job_id, source, overall_score, metadata_json) VALUES (?, ?, ?, ?);`,
		rec.JobID, rec.Source, rec.OverallScore, rec.MetadataJSON)
	return err
}

// Handoffs lists the most recent hand-offs.
func (s *Store) Handoffs(limit int) ([]HandoffRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_id, source, overall_score, metadata_json, created_at FROM handoffs ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HandoffRecord
	for rows.Next() {
		var rec HandoffRecord
		var meta sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Source, &rec.OverallScore, &meta, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.MetadataJSON = meta.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
