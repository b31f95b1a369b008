package sync

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/appdb"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	"github.com/AccessMirror/AccessMirror/internal/directory"
)

// outcome classifies what one upserted record did to the mirror.
type outcome int

const (
	outcomeCreated outcome = iota
	outcomeUpdated
	outcomeSkipped
)

const savepointName = "record_upsert"

// createWithRecovery inserts a row, rolling back to a savepoint and handing
// control back on a duplicate key so the caller can re-select and merge.
// Needed because two syncs finishing close together may race on unique keys.
func createWithRecovery(tx *gorm.DB, row any) (duplicate bool, err error) {
	if err := tx.SavePoint(savepointName).Error; err != nil {
		return false, err
	}

	if err := tx.Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if rErr := tx.RollbackTo(savepointName).Error; rErr != nil {
				return false, rErr
			}

			return true, nil
		}

		return false, err
	}

	return false, nil
}

// findUserByDirectoryIdentity resolves the mirror row a directory record
// belongs to: stable id first, then case-insensitive email, then login.
// Returns nil without error when no row matches.
func findUserByDirectoryIdentity(tx *gorm.DB, u directory.User) (*models.User, error) {
	var row models.User

	if u.StableID != "" {
		err := tx.Where("directory_id = ?", u.StableID).First(&row).Error
		if err == nil {
			return &row, nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if u.Email != "" {
		err := tx.Where("LOWER(email) = LOWER(?)", u.Email).First(&row).Error
		if err == nil {
			return &row, nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if u.Login != "" {
		err := tx.Where("LOWER(login) = LOWER(?)", u.Login).First(&row).Error
		if err == nil {
			return &row, nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, nil
}

// upsertDirectoryUser merges one directory record into the mirror. A matched
// row is rewritten from the stream and counts as updated even when nothing
// material changed, so the last-seen stamp always moves.
func upsertDirectoryUser(tx *gorm.DB, u directory.User, now time.Time) (outcome, error) {
	existing, err := findUserByDirectoryIdentity(tx, u)
	if err != nil {
		return outcomeSkipped, err
	}

	if existing == nil {
		row := &models.User{
			DisplayName:           u.DisplayName,
			Enabled:               u.Enabled,
			SourceSystem:          models.UserSourceDirectory,
			LastSeenInDirectoryAt: &now,
		}
		applyDirectoryFields(row, u)

		duplicate, err := createWithRecovery(tx, row)
		if err != nil {
			return outcomeSkipped, err
		}

		if !duplicate {
			return outcomeCreated, nil
		}

		existing, err = findUserByDirectoryIdentity(tx, u)
		if err != nil || existing == nil {
			return outcomeSkipped, err
		}
	}

	applyDirectoryFields(existing, u)
	existing.LastSeenInDirectoryAt = &now

	return outcomeUpdated, tx.Save(existing).Error
}

// applyDirectoryFields copies the directory-owned attributes onto a mirror
// row and reports whether anything material changed. Last-seen stamps are
// not material.
func applyDirectoryFields(row *models.User, u directory.User) bool {
	changed := false

	if u.StableID != "" && (row.DirectoryID == nil || *row.DirectoryID != u.StableID) {
		id := u.StableID
		row.DirectoryID = &id
		changed = true
	}

	if u.DisplayName != "" && row.DisplayName != u.DisplayName {
		row.DisplayName = u.DisplayName
		changed = true
	}

	changed = assignOptional(&row.Login, u.Login) || changed
	changed = assignOptional(&row.Email, u.Email) || changed
	changed = assignOptional(&row.Department, u.Department) || changed
	changed = assignOptional(&row.JobTitle, u.JobTitle) || changed

	if row.Enabled != u.Enabled {
		row.Enabled = u.Enabled
		changed = true
	}

	source := models.UserSourceDirectory
	if row.AppDBID != nil {
		source = models.UserSourceMerged
	}

	if row.SourceSystem != source {
		row.SourceSystem = source
		changed = true
	}

	return changed
}

// findUserByAppIdentity resolves the mirror row an application-database
// record belongs to: application id first, then the login matched against
// email and login case-insensitively. The login doubles as the email in most
// source installations, which is what merges the two sources.
func findUserByAppIdentity(tx *gorm.DB, u appdb.User) (*models.User, error) {
	var row models.User

	err := tx.Where("app_db_id = ?", u.ID).First(&row).Error
	if err == nil {
		return &row, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if u.Login != "" {
		err := tx.Where("LOWER(email) = LOWER(?)", u.Login).First(&row).Error
		if err == nil {
			return &row, nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		err = tx.Where("LOWER(login) = LOWER(?)", u.Login).First(&row).Error
		if err == nil {
			return &row, nil
		}

		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	return nil, nil
}

// upsertAppUser merges one application-database user into the mirror and
// returns the local row for membership wiring.
func upsertAppUser(tx *gorm.DB, u appdb.User, now time.Time) (outcome, *models.User, error) {
	existing, err := findUserByAppIdentity(tx, u)
	if err != nil {
		return outcomeSkipped, nil, err
	}

	if existing == nil {
		row := &models.User{
			DisplayName:       u.Name,
			Enabled:           true,
			SourceSystem:      models.UserSourceAppDB,
			LastSeenInAppDBAt: &now,
		}
		applyAppFields(row, u)

		duplicate, err := createWithRecovery(tx, row)
		if err != nil {
			return outcomeSkipped, nil, err
		}

		if !duplicate {
			return outcomeCreated, row, nil
		}

		existing, err = findUserByAppIdentity(tx, u)
		if err != nil || existing == nil {
			return outcomeSkipped, nil, err
		}
	}

	applyAppFields(existing, u)
	existing.LastSeenInAppDBAt = &now

	return outcomeUpdated, existing, tx.Save(existing).Error
}

// applyAppFields copies the application-owned attributes onto a mirror row.
// Directory attributes win on a merged row: the display name is only filled
// when the directory never supplied one.
func applyAppFields(row *models.User, u appdb.User) bool {
	changed := false

	if row.AppDBID == nil || *row.AppDBID != u.ID {
		id := u.ID
		row.AppDBID = &id
		changed = true
	}

	if row.DisplayName == "" && u.Name != "" {
		row.DisplayName = u.Name
		changed = true
	}

	if row.Login == nil && u.Login != "" {
		login := u.Login
		row.Login = &login
		changed = true
	}

	if row.Email == nil && u.Login != "" && strings.Contains(u.Login, "@") {
		email := u.Login
		row.Email = &email
		changed = true
	}

	source := models.UserSourceAppDB
	if row.DirectoryID != nil {
		source = models.UserSourceMerged
	}

	if row.SourceSystem != source {
		row.SourceSystem = source
		changed = true
	}

	return changed
}

// upsertGroup merges one security group into the mirror and returns the
// local row for membership and inheritance wiring. Reviewer-maintained
// columns (purpose, status, audit notes) are never touched by sync.
func upsertGroup(tx *gorm.DB, g appdb.Group, sourceTag string, now time.Time) (outcome, *models.SecurityGroup, error) {
	module, level := ParseGroupName(g.Name)
	if g.Module != "" {
		module = g.Module
	}

	existing, err := findGroup(tx, g)
	if err != nil {
		return outcomeSkipped, nil, err
	}

	if existing == nil {
		row := &models.SecurityGroup{
			Name:         g.Name,
			AccessLevel:  level,
			Status:       models.GroupStatusUnderReview,
			SourceSystem: sourceTag,
			LastSyncAt:   &now,
		}
		applyGroupFields(row, g, module, level, sourceTag)

		duplicate, err := createWithRecovery(tx, row)
		if err != nil {
			return outcomeSkipped, nil, err
		}

		if !duplicate {
			return outcomeCreated, row, nil
		}

		existing, err = findGroup(tx, g)
		if err != nil || existing == nil {
			return outcomeSkipped, nil, err
		}
	}

	applyGroupFields(existing, g, module, level, sourceTag)
	existing.LastSyncAt = &now

	return outcomeUpdated, existing, tx.Save(existing).Error
}

func findGroup(tx *gorm.DB, g appdb.Group) (*models.SecurityGroup, error) {
	var row models.SecurityGroup

	err := tx.Where("source_id = ?", g.ID).First(&row).Error
	if err == nil {
		return &row, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = tx.Where("name = ?", g.Name).First(&row).Error
	if err == nil {
		return &row, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return nil, nil
}

func applyGroupFields(row *models.SecurityGroup, g appdb.Group, module string, level models.AccessLevel, sourceTag string) bool {
	changed := false

	if row.SourceID == nil || *row.SourceID != g.ID {
		id := g.ID
		row.SourceID = &id
		changed = true
	}

	if g.Name != "" && row.Name != g.Name {
		row.Name = g.Name
		changed = true
	}

	changed = assignOptional(&row.Module, module) || changed

	if row.AccessLevel != level {
		row.AccessLevel = level
		changed = true
	}

	if row.SourceSystem != sourceTag {
		row.SourceSystem = sourceTag
		changed = true
	}

	return changed
}

// upsertAccessRule merges one CRUD rule into the mirror, keyed by the
// source's rule id.
func upsertAccessRule(tx *gorm.DB, r appdb.AccessRule, groupID uint64, now time.Time) (outcome, error) {
	var existing models.AccessRule

	err := tx.Where("source_id = ?", r.ID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := &models.AccessRule{
			GroupID:   groupID,
			SourceID:  r.ID,
			ModelName: r.Model,
			CanRead:   r.CanRead,
			CanWrite:  r.CanWrite,
			CanCreate: r.CanCreate,
			CanDelete: r.CanDelete,
			SyncedAt:  now,
		}

		if r.ModelDescription != "" {
			desc := r.ModelDescription
			row.ModelDescription = &desc
		}

		duplicate, err := createWithRecovery(tx, row)
		if err != nil {
			return outcomeSkipped, err
		}

		if !duplicate {
			return outcomeCreated, nil
		}

		if err := tx.Where("source_id = ?", r.ID).First(&existing).Error; err != nil {
			return outcomeSkipped, err
		}
	} else if err != nil {
		return outcomeSkipped, err
	}

	existing.GroupID = groupID
	existing.ModelName = r.Model
	assignOptional(&existing.ModelDescription, r.ModelDescription)
	existing.CanRead = r.CanRead
	existing.CanWrite = r.CanWrite
	existing.CanCreate = r.CanCreate
	existing.CanDelete = r.CanDelete
	existing.SyncedAt = now

	return outcomeUpdated, tx.Save(&existing).Error
}

// replaceGroupMemberships reconciles one group's member set against the
// desired set: missing pairs are inserted, vanished pairs deleted, the rest
// left untouched. Returns how many of the desired pairs were inserted.
func replaceGroupMemberships(tx *gorm.DB, groupID uint64, desired map[uint64]struct{}) (inserted, kept int, err error) {
	var current []models.Membership
	if err := tx.Where("group_id = ?", groupID).Find(&current).Error; err != nil {
		return 0, 0, err
	}

	have := make(map[uint64]struct{}, len(current))
	for _, m := range current {
		have[m.UserID] = struct{}{}
	}

	var stale []uint64

	for userID := range have {
		if _, ok := desired[userID]; !ok {
			stale = append(stale, userID)
		}
	}

	if len(stale) > 0 {
		err := tx.Where("group_id = ? AND user_id IN ?", groupID, stale).
			Delete(&models.Membership{}).Error
		if err != nil {
			return 0, 0, err
		}
	}

	for userID := range desired {
		if _, ok := have[userID]; ok {
			kept++

			continue
		}

		pair := &models.Membership{UserID: userID, GroupID: groupID}
		if err := tx.Create(pair).Error; err != nil {
			return inserted, kept, err
		}

		inserted++
	}

	return inserted, kept, nil
}

// replaceGroupParents reconciles the inheritance edges of one child group
// against the desired parent set, same insert-and-prune semantics as
// memberships.
func replaceGroupParents(tx *gorm.DB, childID uint64, desired map[uint64]struct{}) (inserted, kept int, err error) {
	var current []models.Inheritance
	if err := tx.Where("child_id = ?", childID).Find(&current).Error; err != nil {
		return 0, 0, err
	}

	have := make(map[uint64]struct{}, len(current))
	for _, e := range current {
		have[e.ParentID] = struct{}{}
	}

	var stale []uint64

	for parentID := range have {
		if _, ok := desired[parentID]; !ok {
			stale = append(stale, parentID)
		}
	}

	if len(stale) > 0 {
		err := tx.Where("child_id = ? AND parent_id IN ?", childID, stale).
			Delete(&models.Inheritance{}).Error
		if err != nil {
			return 0, 0, err
		}
	}

	for parentID := range desired {
		if _, ok := have[parentID]; ok {
			kept++

			continue
		}

		edge := &models.Inheritance{ParentID: parentID, ChildID: childID}
		if err := tx.Create(edge).Error; err != nil {
			return inserted, kept, err
		}

		inserted++
	}

	return inserted, kept, nil
}

// assignOptional writes a source string into an optional column, clearing it
// when the source value is empty. Reports whether the column changed.
func assignOptional(dst **string, v string) bool {
	if v == "" {
		if *dst == nil {
			return false
		}

		*dst = nil

		return true
	}

	if *dst != nil && **dst == v {
		return false
	}

	value := v
	*dst = &value

	return true
}
