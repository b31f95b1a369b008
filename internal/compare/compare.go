// Package compare reconciles the latest mirrored snapshots of the directory
// service and the application database into discrepancy sets.
package compare

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/db/controller/comparison"
	"github.com/AccessMirror/AccessMirror/internal/db/controller/run"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
)

// ErrComparisonUnavailable is returned when either source has no successful
// sync run yet, so there is nothing trustworthy to compare.
var ErrComparisonUnavailable = errors.New("comparison requires a successful sync of both sources")

// Run executes one reconciliation pass over the mirror: it requires a
// succeeded run of each source, builds the five discrepancy sets from the
// mirrored user rows, and persists the result under a compare run. Users in
// the hidden registry are left out of every set.
func Run(ctx context.Context, db *gorm.DB, reg *hidden.Registry) (*models.SyncRun, *models.ComparisonResult, error) {
	dirRun, err := run.LatestSuccessful(db, models.SyncKindDirectory, "")
	if err != nil {
		if errors.Is(err, run.ErrNoSuccessfulRun) {
			return nil, nil, ErrComparisonUnavailable
		}

		return nil, nil, err
	}

	appRun, err := run.LatestSuccessful(db, models.SyncKindAppDB, "")
	if err != nil {
		if errors.Is(err, run.ErrNoSuccessfulRun) {
			return nil, nil, ErrComparisonUnavailable
		}

		return nil, nil, err
	}

	r, err := run.Open(db, models.SyncKindCompare, "")
	if err != nil {
		return nil, nil, err
	}

	sets, examined, err := buildSets(ctx, db, reg)
	if err != nil {
		stats := models.SyncStats{Processed: examined, Failed: examined}
		_ = run.Finish(db, r, models.RunStatusFailed, stats, err.Error())

		return r, nil, err
	}

	result, err := comparison.Save(db, r.ID, dirRun.ID, appRun.ID, sets)
	if err != nil {
		stats := models.SyncStats{Processed: examined, Failed: examined}
		_ = run.Finish(db, r, models.RunStatusFailed, stats, err.Error())

		return r, nil, err
	}

	stats := models.SyncStats{Processed: examined, Skipped: examined}
	if err := run.Finish(db, r, models.RunStatusSucceeded, stats, ""); err != nil {
		return r, result, err
	}

	log.Info().
		Uint64("run", r.ID).
		Int("directory_only", len(sets.DirectoryOnly)).
		Int("appdb_only", len(sets.AppDBOnly)).
		Int("email_mismatch", len(sets.EmailMismatch)).
		Int("department_mismatch", len(sets.DepartmentMismatch)).
		Int("disabled_in_directory", len(sets.DisabledInDirectory)).
		Msg("comparison finished")

	return r, result, nil
}

// buildSets derives the discrepancy sets from the mirrored user rows. Rows
// the upsert engine already merged carry both source ids; the remaining
// single-source rows are paired here by email, then login, both
// case-insensitive.
func buildSets(ctx context.Context, db *gorm.DB, reg *hidden.Registry) (models.Discrepancies, int, error) {
	var users []models.User
	if err := db.Find(&users).Error; err != nil {
		return models.Discrepancies{}, 0, err
	}

	if err := ctx.Err(); err != nil {
		return models.Discrepancies{}, 0, err
	}

	sets := models.Discrepancies{
		DirectoryOnly:       []models.UserRef{},
		AppDBOnly:           []models.UserRef{},
		EmailMismatch:       []models.UserRef{},
		DepartmentMismatch:  []models.UserRef{},
		DisabledInDirectory: []models.UserRef{},
	}

	type pairing struct {
		dir     *models.User
		app     *models.User
		byLogin bool
	}

	var (
		dirOnly []*models.User
		appOnly []*models.User
		matched []pairing
	)

	examined := 0

	for i := range users {
		u := &users[i]
		if reg != nil && reg.IsHidden(stableID(u)) {
			continue
		}

		examined++

		switch {
		case u.DirectoryID != nil && u.AppDBID != nil:
			matched = append(matched, pairing{dir: u, app: u})
		case u.DirectoryID != nil:
			dirOnly = append(dirOnly, u)
		case u.AppDBID != nil:
			appOnly = append(appOnly, u)
		}
	}

	// pair the single-source leftovers across rows
	byEmail := map[string]*models.User{}
	byLogin := map[string]*models.User{}

	for _, u := range appOnly {
		if key := normEmail(u.Email); key != "" {
			byEmail[key] = u
		}

		if u.Login != nil && *u.Login != "" {
			byLogin[strings.ToLower(*u.Login)] = u
		}
	}

	consumed := map[uint64]struct{}{}

	for _, d := range dirOnly {
		var (
			app      *models.User
			viaLogin bool
		)

		if key := normEmail(d.Email); key != "" {
			app = byEmail[key]
		}

		if app == nil && d.Login != nil && *d.Login != "" {
			app = byLogin[strings.ToLower(*d.Login)]
			viaLogin = app != nil
		}

		if app == nil {
			sets.DirectoryOnly = append(sets.DirectoryOnly, ref(d))
		} else {
			consumed[app.ID] = struct{}{}
			matched = append(matched, pairing{dir: d, app: app, byLogin: viaLogin})
		}

		if !d.Enabled {
			sets.DisabledInDirectory = append(sets.DisabledInDirectory, ref(d))
		}
	}

	for _, a := range appOnly {
		if _, ok := consumed[a.ID]; !ok {
			sets.AppDBOnly = append(sets.AppDBOnly, ref(a))
		}
	}

	for _, p := range matched {
		if p.byLogin && emailsDiffer(p.dir.Email, p.app.Email) {
			entry := ref(p.dir)
			entry.Directory = deref(p.dir.Email)
			entry.AppDB = deref(p.app.Email)
			sets.EmailMismatch = append(sets.EmailMismatch, entry)
		}

		if differs(p.dir.Department, p.app.AppDBDepartment) {
			entry := ref(p.dir)
			entry.Directory = deref(p.dir.Department)
			entry.AppDB = deref(p.app.AppDBDepartment)
			sets.DepartmentMismatch = append(sets.DepartmentMismatch, entry)
		}

		// cross-paired rows were already inspected in the loop above
		if p.dir == p.app && p.dir.DirectoryID != nil && !p.dir.Enabled {
			sets.DisabledInDirectory = append(sets.DisabledInDirectory, ref(p.dir))
		}
	}

	sortRefs(sets.DirectoryOnly)
	sortRefs(sets.AppDBOnly)
	sortRefs(sets.EmailMismatch)
	sortRefs(sets.DepartmentMismatch)
	sortRefs(sets.DisabledInDirectory)

	return sets, examined, nil
}

// differs reports whether two optional values are both set and unequal.
func differs(a, b *string) bool {
	return a != nil && b != nil && *a != "" && *b != "" && *a != *b
}

// normEmail folds an optional email for matching: case and surrounding
// whitespace are not meaningful in mail addresses here.
func normEmail(s *string) string {
	if s == nil {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(*s))
}

// emailsDiffer reports whether two emails are both set and unequal after
// folding.
func emailsDiffer(a, b *string) bool {
	na, nb := normEmail(a), normEmail(b)

	return na != "" && nb != "" && na != nb
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

// stableID picks the identifier used for ordering and for the hidden
// registry: the directory id when present, otherwise the application id.
func stableID(u *models.User) string {
	if u.DirectoryID != nil {
		return *u.DirectoryID
	}

	if u.AppDBID != nil {
		return strconv.FormatInt(*u.AppDBID, 10)
	}

	return strconv.FormatUint(u.ID, 10)
}

func ref(u *models.User) models.UserRef {
	return models.UserRef{
		UserID:      u.ID,
		StableID:    stableID(u),
		DisplayName: u.DisplayName,
		Email:       deref(u.Email),
		Login:       deref(u.Login),
	}
}

// sortRefs orders a set by display name, then stable id, so repeated
// comparisons render identically.
func sortRefs(refs []models.UserRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].DisplayName != refs[j].DisplayName {
			return refs[i].DisplayName < refs[j].DisplayName
		}

		return refs[i].StableID < refs[j].StableID
	})
}
