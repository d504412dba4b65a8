package storage

import (
	"context"

	"inverter-report/models"
)

// MasterStore is the append-only master dataset.
type MasterStore interface {
	Exists() bool
	ReadAll() ([]models.CanonicalRecord, error)
	Append(records []models.CanonicalRecord) error
}

// RecordMirror receives a copy of every batch appended to the master dataset.
type RecordMirror interface {
	Write(ctx context.Context, records []models.CanonicalRecord) error
	Close() error
}

// ViewWriter persists the regenerated pivot view.
type ViewWriter interface {
	WriteView(view *models.PivotView) error
	Path() string
}

// ViewPublisher ships a written view file somewhere else.
type ViewPublisher interface {
	Publish(ctx context.Context, path string) error
}
