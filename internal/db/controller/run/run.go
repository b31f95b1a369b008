// Package run provides the run ledger: the authoritative log of sync executions.
package run

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/db/models"
)

var (
	// ErrRunNotFound is returned when a run id matches no ledger row.
	ErrRunNotFound = errors.New("sync run not found")
	// ErrNoSuccessfulRun is returned when no succeeded run of a kind exists.
	ErrNoSuccessfulRun = errors.New("no successful sync run of this kind")
	// ErrRunAlreadyTerminal is returned when finishing a run twice.
	ErrRunAlreadyTerminal = errors.New("sync run already reached a terminal status")
	// ErrDBNil is returned when the database connection is nil.
	ErrDBNil = errors.New("database connection is nil")
)

// Open writes a started ledger row and returns it. Atomic: the row is
// committed before any connector work begins.
func Open(db *gorm.DB, kind models.SyncKind, env string) (*models.SyncRun, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	r := &models.SyncRun{
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		Status:    models.RunStatusStarted,
	}

	if env != "" {
		r.Environment = &env
	}

	if err := db.Create(r).Error; err != nil {
		return nil, err
	}

	return r, nil
}

// Finish stamps the terminal status, stats and error context on a started
// run. A run already terminal is left untouched.
func Finish(db *gorm.DB, r *models.SyncRun, status models.RunStatus, stats models.SyncStats, errMsg string) error {
	if db == nil {
		return ErrDBNil
	}

	if r.Status.Terminal() {
		return ErrRunAlreadyTerminal
	}

	now := time.Now().UTC()
	r.FinishedAt = &now
	r.Status = status

	encoded, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	s := string(encoded)
	r.Stats = &s

	if errMsg != "" {
		r.Error = &errMsg
	}

	return db.Save(r).Error
}

// Get retrieves a run by id.
func Get(db *gorm.DB, id uint64) (*models.SyncRun, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var r models.SyncRun

	result := db.First(&r, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}

		return nil, result.Error
	}

	return &r, nil
}

// LatestSuccessful returns the succeeded run of the given kind with the
// greatest finished instant. Started and failed rows are ignored, so a
// crashed pipeline never becomes a comparison snapshot. An empty env matches
// any environment.
func LatestSuccessful(db *gorm.DB, kind models.SyncKind, env string) (*models.SyncRun, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var r models.SyncRun

	query := db.Where("kind = ? AND status = ?", kind, models.RunStatusSucceeded)
	if env != "" {
		query = query.Where("environment = ?", env)
	}

	result := query.Order("finished_at DESC").First(&r)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNoSuccessfulRun
		}

		return nil, result.Error
	}

	return &r, nil
}

// Latest returns the most recently started run of a kind regardless of
// status, or ErrRunNotFound when the ledger has none.
func Latest(db *gorm.DB, kind models.SyncKind, env string) (*models.SyncRun, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	var r models.SyncRun

	query := db.Where("kind = ?", kind)
	if env != "" {
		query = query.Where("environment = ?", env)
	}

	result := query.Order("started_at DESC").First(&r)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}

		return nil, result.Error
	}

	return &r, nil
}

// ListRecent returns up to limit runs ordered by start time, newest first.
// An empty kind matches all kinds.
func ListRecent(db *gorm.DB, kind models.SyncKind, limit int) ([]models.SyncRun, error) {
	if db == nil {
		return nil, ErrDBNil
	}

	query := db.Order("started_at DESC").Limit(limit)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var runs []models.SyncRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}

	return runs, nil
}
