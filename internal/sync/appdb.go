package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/appdb"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
)

// pairKey identifies one join record by its two source ids.
type pairKey struct {
	a int64
	b int64
}

// runAppDBPipeline merges one application-database snapshot into the mirror
// in five phases: groups, users, memberships, inheritance, access rules.
// Join phases replace the mirrored sets authoritatively for every group the
// snapshot contains; groups and users themselves are never deleted.
func runAppDBPipeline(ctx context.Context, db *gorm.DB, src appdb.Source, sourceTag string, batchSize int, failureCap float64) (models.SyncStats, error) {
	stats := models.SyncStats{}
	now := time.Now().UTC()

	groupIDs, err := syncGroups(ctx, db, src, sourceTag, batchSize, failureCap, &stats, now)
	if err != nil {
		return finishStats(stats, src), err
	}

	userIDs, err := syncUsers(ctx, db, src, batchSize, failureCap, &stats, now)
	if err != nil {
		return finishStats(stats, src), err
	}

	if err := syncMemberships(ctx, db, src, groupIDs, userIDs, batchSize, &stats); err != nil {
		return finishStats(stats, src), err
	}

	if err := syncInheritance(ctx, db, src, groupIDs, batchSize, &stats); err != nil {
		return finishStats(stats, src), err
	}

	if err := syncAccessRules(ctx, db, src, groupIDs, batchSize, failureCap, &stats, now); err != nil {
		return finishStats(stats, src), err
	}

	return finishStats(stats, src), nil
}

// finishStats folds the source's own warning counter into the run stats.
func finishStats(stats models.SyncStats, src appdb.Source) models.SyncStats {
	stats.Warnings += src.Warnings()

	return stats
}

// syncGroups merges the group stream and returns the source-to-local id map
// the join phases need.
func syncGroups(ctx context.Context, db *gorm.DB, src appdb.Source, sourceTag string, batchSize int, failureCap float64, stats *models.SyncStats, now time.Time) (map[int64]uint64, error) {
	var records []appdb.Group

	err := src.EachGroup(ctx, func(g appdb.Group) error {
		records = append(records, g)

		return nil
	})
	if err != nil {
		return nil, err
	}

	groupIDs := make(map[int64]uint64, len(records))

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		err := db.Transaction(func(tx *gorm.DB) error {
			for _, g := range records[start:end] {
				stats.Processed++

				if g.Name == "" {
					stats.Skipped++
					stats.Warnings++

					log.Warn().Int64("source_id", g.ID).Msg("group has no name")

					continue
				}

				result, row, err := upsertGroup(tx, g, sourceTag, now)
				if err != nil {
					stats.Failed++

					log.Warn().Err(err).Str("name", g.Name).Msg("group upsert failed")

					continue
				}

				countOutcome(stats, result)
				groupIDs[g.ID] = row.ID
			}

			return nil
		})
		if err != nil {
			return nil, err
		}

		if stats.FailureRate() > failureCap {
			return nil, ErrFailureCapExceeded
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return groupIDs, nil
}

// syncUsers merges the user stream and returns the source-to-local id map.
func syncUsers(ctx context.Context, db *gorm.DB, src appdb.Source, batchSize int, failureCap float64, stats *models.SyncStats, now time.Time) (map[int64]uint64, error) {
	var records []appdb.User

	err := src.EachUser(ctx, func(u appdb.User) error {
		records = append(records, u)

		return nil
	})
	if err != nil {
		return nil, err
	}

	userIDs := make(map[int64]uint64, len(records))

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		err := db.Transaction(func(tx *gorm.DB) error {
			for _, u := range records[start:end] {
				stats.Processed++

				result, row, err := upsertAppUser(tx, u, now)
				if err != nil {
					stats.Failed++

					log.Warn().Err(err).Str("login", u.Login).Msg("application user upsert failed")

					continue
				}

				countOutcome(stats, result)
				userIDs[u.ID] = row.ID
			}

			return nil
		})
		if err != nil {
			return nil, err
		}

		if stats.FailureRate() > failureCap {
			return nil, ErrFailureCapExceeded
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return userIDs, nil
}

// syncMemberships reconciles the member sets of every synced group. Pairs
// naming unknown users or groups are dropped as skipped; the reconciling
// insert counts as created, an already mirrored pair as skipped.
func syncMemberships(ctx context.Context, db *gorm.DB, src appdb.Source, groupIDs, userIDs map[int64]uint64, batchSize int, stats *models.SyncStats) error {
	// every synced group gets a desired set, so vanished pairs are pruned
	desired := make(map[uint64]map[uint64]struct{}, len(groupIDs))
	for _, localID := range groupIDs {
		desired[localID] = map[uint64]struct{}{}
	}

	seen := map[pairKey]struct{}{}

	err := src.EachMembership(ctx, func(pair appdb.Membership) error {
		stats.Processed++

		groupID, groupOK := groupIDs[pair.GroupID]
		userID, userOK := userIDs[pair.UserID]

		if !groupOK || !userOK {
			stats.Skipped++
			stats.Warnings++

			log.Warn().
				Int64("user_id", pair.UserID).
				Int64("group_id", pair.GroupID).
				Msg("membership references unknown user or group")

			return nil
		}

		key := pairKey{a: pair.UserID, b: pair.GroupID}
		if _, dup := seen[key]; dup {
			stats.Skipped++

			return nil
		}

		seen[key] = struct{}{}
		desired[groupID][userID] = struct{}{}

		return nil
	})
	if err != nil {
		return err
	}

	return reconcileSets(ctx, db, desired, batchSize, stats, replaceGroupMemberships)
}

// syncInheritance reconciles the parent sets of every synced group. Edges
// that would close a cycle are dropped as skipped with a warning, so the
// mirrored graph stays acyclic.
func syncInheritance(ctx context.Context, db *gorm.DB, src appdb.Source, groupIDs map[int64]uint64, batchSize int, stats *models.SyncStats) error {
	desired := make(map[uint64]map[uint64]struct{}, len(groupIDs))
	for _, localID := range groupIDs {
		desired[localID] = map[uint64]struct{}{}
	}

	// cycle checks run against the edges kept this run plus the edges of
	// groups this snapshot does not touch
	parents, err := untouchedParentSets(db, desired)
	if err != nil {
		return err
	}

	seen := map[pairKey]struct{}{}

	err = src.EachInheritance(ctx, func(edge appdb.Inheritance) error {
		stats.Processed++

		parentID, parentOK := groupIDs[edge.ParentID]
		childID, childOK := groupIDs[edge.ChildID]

		if !parentOK || !childOK {
			stats.Skipped++
			stats.Warnings++

			log.Warn().
				Int64("parent_id", edge.ParentID).
				Int64("child_id", edge.ChildID).
				Msg("inheritance edge references unknown group")

			return nil
		}

		key := pairKey{a: edge.ParentID, b: edge.ChildID}
		if _, dup := seen[key]; dup {
			stats.Skipped++

			return nil
		}

		seen[key] = struct{}{}

		if parentID == childID || reachable(parents, parentID, childID) {
			stats.Skipped++
			stats.Warnings++

			log.Warn().
				Uint64("parent", parentID).
				Uint64("child", childID).
				Msg("inheritance edge would close a cycle")

			return nil
		}

		if parents[childID] == nil {
			parents[childID] = map[uint64]struct{}{}
		}

		parents[childID][parentID] = struct{}{}
		desired[childID][parentID] = struct{}{}

		return nil
	})
	if err != nil {
		return err
	}

	return reconcileSets(ctx, db, desired, batchSize, stats, replaceGroupParents)
}

// untouchedParentSets loads the parent sets of groups outside the snapshot,
// the part of the inheritance graph this run will not rewrite.
func untouchedParentSets(db *gorm.DB, touched map[uint64]map[uint64]struct{}) (map[uint64]map[uint64]struct{}, error) {
	var edges []models.Inheritance
	if err := db.Find(&edges).Error; err != nil {
		return nil, err
	}

	parents := map[uint64]map[uint64]struct{}{}

	for _, e := range edges {
		if _, ok := touched[e.ChildID]; ok {
			continue
		}

		if parents[e.ChildID] == nil {
			parents[e.ChildID] = map[uint64]struct{}{}
		}

		parents[e.ChildID][e.ParentID] = struct{}{}
	}

	return parents, nil
}

// reachable reports whether target can be reached from start by walking
// parent edges.
func reachable(parents map[uint64]map[uint64]struct{}, start, target uint64) bool {
	stack := []uint64{start}
	visited := map[uint64]struct{}{}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if node == target {
			return true
		}

		if _, ok := visited[node]; ok {
			continue
		}

		visited[node] = struct{}{}

		for parent := range parents[node] {
			stack = append(stack, parent)
		}
	}

	return false
}

// reconcileSets applies one replace function per group in batched
// transactions. Inserted records count as created, kept ones as skipped.
func reconcileSets(ctx context.Context, db *gorm.DB, desired map[uint64]map[uint64]struct{}, batchSize int, stats *models.SyncStats, replace func(tx *gorm.DB, groupID uint64, desired map[uint64]struct{}) (int, int, error)) error {
	groups := make([]uint64, 0, len(desired))
	for groupID := range desired {
		groups = append(groups, groupID)
	}

	for start := 0; start < len(groups); start += batchSize {
		end := min(start+batchSize, len(groups))

		err := db.Transaction(func(tx *gorm.DB) error {
			for _, groupID := range groups[start:end] {
				inserted, kept, err := replace(tx, groupID, desired[groupID])
				if err != nil {
					return err
				}

				stats.Created += inserted
				stats.Skipped += kept
			}

			return nil
		})
		if err != nil {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

// syncAccessRules merges the CRUD rule stream. Rules naming unknown groups
// are dropped as skipped.
func syncAccessRules(ctx context.Context, db *gorm.DB, src appdb.Source, groupIDs map[int64]uint64, batchSize int, failureCap float64, stats *models.SyncStats, now time.Time) error {
	var records []appdb.AccessRule

	err := src.EachAccessRule(ctx, func(r appdb.AccessRule) error {
		records = append(records, r)

		return nil
	})
	if err != nil {
		return err
	}

	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		err := db.Transaction(func(tx *gorm.DB) error {
			for _, r := range records[start:end] {
				stats.Processed++

				groupID, ok := groupIDs[r.GroupID]
				if !ok {
					stats.Skipped++
					stats.Warnings++

					log.Warn().Int64("group_id", r.GroupID).Str("model", r.Model).
						Msg("access rule references unknown group")

					continue
				}

				result, err := upsertAccessRule(tx, r, groupID, now)
				if err != nil {
					stats.Failed++

					log.Warn().Err(err).Str("model", r.Model).Msg("access rule upsert failed")

					continue
				}

				countOutcome(stats, result)
			}

			return nil
		})
		if err != nil {
			return err
		}

		if stats.FailureRate() > failureCap {
			return ErrFailureCapExceeded
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
