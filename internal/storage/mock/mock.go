// Package mock provides in-memory implementations of the storage interfaces
// for testing.
package mock

import (
	"context"
	"sync"

	"github.com/facesentry/facesentry/internal/storage"
)

// Directory is an in-memory storage.IdentityDirectory.
type Directory struct {
	mu         sync.RWMutex
	identities map[string]*storage.Identity

	// Error injection
	FindError  error
	CountError error
}

// NewDirectory creates an empty in-memory identity directory.
func NewDirectory() *Directory {
	return &Directory{identities: make(map[string]*storage.Identity)}
}

// Add enrolls an identity under its face label.
func (d *Directory) Add(identity storage.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities[identity.FaceLabel] = &identity
}

// FindByLabel returns the identity for the label, or ErrIdentityNotFound.
func (d *Directory) FindByLabel(ctx context.Context, label string) (*storage.Identity, error) {
	if d.FindError != nil {
		return nil, d.FindError
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.identities[label]
	if !ok {
		return nil, storage.ErrIdentityNotFound
	}
	cp := *identity
	return &cp, nil
}

// Count returns the number of enrolled identities.
func (d *Directory) Count(ctx context.Context) (int, error) {
	if d.CountError != nil {
		return 0, d.CountError
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.identities), nil
}

// Sink is an in-memory storage.RecordSink that captures written records.
type Sink struct {
	mu           sync.Mutex
	Recognitions []storage.RecognitionLogRecord
	Alerts       []storage.AlertRecord

	// Error injection
	RecognitionError error
	AlertError       error
	StatsError       error
}

// NewSink creates an empty in-memory record sink.
func NewSink() *Sink {
	return &Sink{}
}

// WriteRecognition captures a recognition log record.
func (s *Sink) WriteRecognition(ctx context.Context, rec *storage.RecognitionLogRecord) error {
	if s.RecognitionError != nil {
		return s.RecognitionError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Recognitions = append(s.Recognitions, *rec)
	return nil
}

// WriteAlert captures an alert record.
func (s *Sink) WriteAlert(ctx context.Context, alert *storage.AlertRecord) error {
	if s.AlertError != nil {
		return s.AlertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Alerts = append(s.Alerts, *alert)
	return nil
}

// Stats summarizes the captured records.
func (s *Sink) Stats(ctx context.Context) (storage.DashboardStats, error) {
	if s.StatsError != nil {
		return storage.DashboardStats{}, s.StatsError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make(map[string]bool)
	for _, rec := range s.Recognitions {
		labels[rec.FaceLabel] = true
	}
	return storage.DashboardStats{
		TotalDetections: len(s.Recognitions),
		DistinctLabels:  len(labels),
		TotalAlerts:     len(s.Alerts),
	}, nil
}

// RecognitionCount returns the number of captured recognition records.
func (s *Sink) RecognitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Recognitions)
}

// AlertCount returns the number of captured alert records.
func (s *Sink) AlertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Alerts)
}
