package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/facesentry/facesentry/internal/storage"
)

// RecordRepository writes recognition log and alert records to PostgreSQL.
type RecordRepository struct {
	pool *Pool
}

// NewRecordRepository creates a PostgreSQL-backed record sink.
func NewRecordRepository(pool *Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// WriteRecognition inserts one recognition log record.
func (r *RecordRepository) WriteRecognition(ctx context.Context, rec *storage.RecognitionLogRecord) error {
	query := `
		INSERT INTO recognition_logs (id, investigator_id, identity_id, face_label, confidence, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ID, nullString(rec.InvestigatorID), nullInt64(rec.IdentityID),
		rec.FaceLabel, rec.Confidence, rec.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert recognition log: %w", err)
	}
	return nil
}

// WriteAlert inserts one alert record.
func (r *RecordRepository) WriteAlert(ctx context.Context, alert *storage.AlertRecord) error {
	query := `
		INSERT INTO alert_logs (id, investigator_id, identity_id, face_label, crime_type,
			risk_level, confidence, message, snapshot, snapshot_format, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	var snapshot any
	if len(alert.Snapshot) > 0 {
		snapshot = alert.Snapshot
	}
	_, err := r.pool.Exec(ctx, query,
		alert.ID, nullString(alert.InvestigatorID), nullInt64(alert.IdentityID),
		alert.FaceLabel, alert.CrimeType, alert.RiskLevel, alert.Confidence,
		alert.Message, snapshot, nullString(alert.SnapshotFormat), alert.TriggeredAt)
	if err != nil {
		return fmt.Errorf("insert alert log: %w", err)
	}
	return nil
}

// Stats returns the dashboard counters derived from the record tables.
func (r *RecordRepository) Stats(ctx context.Context) (storage.DashboardStats, error) {
	var stats storage.DashboardStats

	row := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM recognition_logs),
			(SELECT COUNT(DISTINCT face_label) FROM recognition_logs),
			(SELECT COUNT(*) FROM alert_logs)
	`)
	if err := row.Scan(&stats.TotalDetections, &stats.DistinctLabels, &stats.TotalAlerts); err != nil {
		return storage.DashboardStats{}, fmt.Errorf("query record stats: %w", err)
	}
	return stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
