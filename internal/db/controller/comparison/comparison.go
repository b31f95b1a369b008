// Package comparison persists reconciliation results.
package comparison

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/db/models"
)

var (
	// ErrComparisonNotFound is returned when an id matches no result.
	ErrComparisonNotFound = errors.New("comparison result not found")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Save writes a new immutable comparison result.
func Save(db *gorm.DB, runID, dirRunID, appRunID uint64, sets models.Discrepancies) (*models.ComparisonResult, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	encoded, err := json.Marshal(sets)
	if err != nil {
		return nil, err
	}

	result := &models.ComparisonResult{
		RunID:          runID,
		ProducedAt:     time.Now().UTC(),
		DirectoryRunID: dirRunID,
		AppDBRunID:     appRunID,
		Sets:           string(encoded),
	}

	if err := db.Create(result).Error; err != nil {
		return nil, err
	}

	return result, nil
}

// Get retrieves a comparison result by id.
func Get(db *gorm.DB, id uint64) (*models.ComparisonResult, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var result models.ComparisonResult
	if err := db.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrComparisonNotFound
		}

		return nil, err
	}

	return &result, nil
}

// Latest retrieves the most recent comparison result.
func Latest(db *gorm.DB) (*models.ComparisonResult, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var result models.ComparisonResult
	if err := db.Order("produced_at DESC").First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrComparisonNotFound
		}

		return nil, err
	}

	return &result, nil
}
