// Package storage defines the persistence interfaces consumed by the
// recognition pipeline: the read-only identity directory backed by the case
// management database, and the sinks that receive recognition log and alert
// records.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrIdentityNotFound is returned when no enrolled identity exists for a
// face label. The live scan engine skips such labels silently (stale
// template).
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is one enrolled person from the case management database.
type Identity struct {
	ID        int64
	Name      string
	Age       int
	Gender    string
	Address   string
	CrimeType string
	FaceLabel string
	PhotoURL  string
}

// RecognitionLogRecord is written once per confirmed, non-cooldown-suppressed
// match.
type RecognitionLogRecord struct {
	ID             string
	InvestigatorID string
	IdentityID     int64
	FaceLabel      string
	Confidence     float64
	DetectedAt     time.Time
}

// AlertRecord is written alongside a recognition log unless the caller
// suppressed alerting. Snapshot is optional; a nil snapshot is a valid alert.
type AlertRecord struct {
	ID             string
	InvestigatorID string
	IdentityID     int64
	FaceLabel      string
	CrimeType      string
	RiskLevel      string
	Confidence     float64
	Message        string
	Snapshot       []byte
	SnapshotFormat string // "jpg" or "png", empty when no snapshot
	TriggeredAt    time.Time
}

// DashboardStats summarizes the record store for status endpoints.
type DashboardStats struct {
	TotalDetections int
	DistinctLabels  int
	TotalAlerts     int
}

// IdentityDirectory resolves face labels to enrolled identities.
type IdentityDirectory interface {
	// FindByLabel returns the identity enrolled under the label, or
	// ErrIdentityNotFound.
	FindByLabel(ctx context.Context, label string) (*Identity, error)
	// Count returns the number of enrolled identities.
	Count(ctx context.Context) (int, error)
}

// RecordSink receives recognition log and alert records. Writes happen
// inside the serialized recognition cycle, so implementations need no
// multi-writer coordination.
type RecordSink interface {
	WriteRecognition(ctx context.Context, rec *RecognitionLogRecord) error
	WriteAlert(ctx context.Context, alert *AlertRecord) error
	Stats(ctx context.Context) (DashboardStats, error)
}

// TemplateRepository persists curated identity templates so a fresh process
// can rebuild its store from the database instead of the store file.
type TemplateRepository interface {
	// ReplaceTemplates replaces all templates for a label.
	ReplaceTemplates(ctx context.Context, label string, vectors [][]float32) error
	// LoadAll returns the full label → templates mapping.
	LoadAll(ctx context.Context) (map[string][][]float32, error)
}
