package services

import (
	"errors"
	"fmt"

	"inverter-report/models"
	"inverter-report/storage"
	"inverter-report/utils"
)

// ErrNoRecords means a merge had nothing to append. The dataset is left untouched.
var ErrNoRecords = errors.New("no new records to merge")

// MergeResult reports what a merge did to the master dataset.
type MergeResult struct {
	Appended []models.CanonicalRecord
	// Skipped counts records dropped because their key was already present; only
	// non-zero when dedup-on-write is enabled.
	Skipped int
	Created bool
}

// Merger appends extracted records to the master dataset.
type Merger struct {
	store        storage.MasterStore
	dedupOnWrite bool
	logger       *utils.Logger
}

// NewMerger creates a Merger. With dedupOnWrite false the dataset is a pure ingestion
// log and duplicates are left for the pivot view to resolve.
func NewMerger(store storage.MasterStore, dedupOnWrite bool, logger *utils.Logger) *Merger {
	return &Merger{store: store, dedupOnWrite: dedupOnWrite, logger: logger}
}

// Merge concatenates batches in processing order and appends them. It returns
// ErrNoRecords, without touching the dataset, when there is nothing to append.
func (m *Merger) Merge(batches [][]models.CanonicalRecord) (MergeResult, error) {
	var all []models.CanonicalRecord
	for _, b := range batches {
		all = append(all, b...)
	}
	if len(all) == 0 {
		return MergeResult{}, ErrNoRecords
	}

	result := MergeResult{Created: !m.store.Exists()}

	if m.dedupOnWrite {
		fresh, err := m.dropKnown(all)
		if err != nil {
			return MergeResult{}, err
		}
		result.Skipped = len(all) - len(fresh)
		if result.Skipped > 0 {
			m.logger.Info("[merger] Skipping %d records already present in the dataset", result.Skipped)
		}
		all = fresh
		if len(all) == 0 {
			return result, ErrNoRecords
		}
	}

	if err := m.store.Append(all); err != nil {
		return MergeResult{}, fmt.Errorf("merger: append: %w", err)
	}
	result.Appended = all

	if result.Created {
		m.logger.Info("[merger] Created master dataset with %d records", len(all))
	} else {
		m.logger.Info("[merger] Appended %d records to the master dataset", len(all))
	}
	return result, nil
}

// dropKnown removes records whose key is already in the dataset or earlier in the batch.
func (m *Merger) dropKnown(records []models.CanonicalRecord) ([]models.CanonicalRecord, error) {
	existing, err := m.store.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("merger: read dataset: %w", err)
	}

	seen := utils.NewKeySet[models.Key]()
	for _, r := range existing {
		seen.Add(r.Key())
	}
	m.logger.Debug("[merger] %d rows in dataset, %d distinct keys", len(existing), seen.Size())

	fresh := make([]models.CanonicalRecord, 0, len(records))
	for _, r := range records {
		if seen.Add(r.Key()) {
			fresh = append(fresh, r)
		}
	}
	return fresh, nil
}
