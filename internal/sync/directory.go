// Package sync runs the mirror pipelines: it pulls records from the
// directory service and the application database and merges them into the
// local database, recording every run in the ledger.
package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/db/models"
	"github.com/AccessMirror/AccessMirror/internal/directory"
)

// runDirectoryPipeline streams directory users and merges them in batched
// transactions. Records without email and login cannot be matched to
// anything and are dropped as skipped. Exceeding the failure rate cap aborts
// the run between batches.
func runDirectoryPipeline(ctx context.Context, db *gorm.DB, src directory.Source, batchSize int, failureCap float64) (models.SyncStats, error) {
	stats := models.SyncStats{}
	now := time.Now().UTC()

	batch := make([]directory.User, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			for _, u := range batch {
				stats.Processed++

				if u.Email == "" && u.Login == "" {
					stats.Skipped++
					stats.Warnings++

					log.Warn().Str("stable_id", u.StableID).Msg("directory user has no email or login")

					continue
				}

				result, err := upsertDirectoryUser(tx, u, now)
				if err != nil {
					stats.Failed++

					log.Warn().Err(err).Str("stable_id", u.StableID).Msg("directory user upsert failed")

					continue
				}

				countOutcome(&stats, result)
			}

			return nil
		})
		if err != nil {
			return err
		}

		batch = batch[:0]

		if stats.FailureRate() > failureCap {
			return ErrFailureCapExceeded
		}

		return ctx.Err()
	}

	err := src.EachUser(ctx, func(u directory.User) error {
		batch = append(batch, u)
		if len(batch) < batchSize {
			return nil
		}

		return flush()
	})
	if err != nil {
		return stats, err
	}

	return stats, flush()
}

func countOutcome(stats *models.SyncStats, result outcome) {
	switch result {
	case outcomeCreated:
		stats.Created++
	case outcomeUpdated:
		stats.Updated++
	case outcomeSkipped:
		stats.Skipped++
	}
}
