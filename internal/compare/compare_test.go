package compare

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/db"
	"github.com/AccessMirror/AccessMirror/internal/db/controller/run"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mirror.db")

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	return gdb
}

func testRegistry(t *testing.T) *hidden.Registry {
	t.Helper()

	reg, err := hidden.Open(filepath.Join(t.TempDir(), "hidden.json"))
	require.NoError(t, err)

	return reg
}

// finishRun records a succeeded ledger row so Run sees a usable snapshot.
func finishRun(t *testing.T, gdb *gorm.DB, kind models.SyncKind, env string) {
	t.Helper()

	r, err := run.Open(gdb, kind, env)
	require.NoError(t, err)
	require.NoError(t, run.Finish(gdb, r, models.RunStatusSucceeded, models.SyncStats{}, ""))
}

func strptr(s string) *string { return &s }

func intptr(i int64) *int64 { return &i }

func seedUser(t *testing.T, gdb *gorm.DB, u models.User) {
	t.Helper()
	require.NoError(t, gdb.Create(&u).Error)
}

// seedMirror writes the rows two back-to-back syncs of the sample sources
// leave behind: Ann and Cy merged, Bo known only to the directory and
// disabled there.
func seedMirror(t *testing.T, gdb *gorm.DB) {
	t.Helper()

	seedUser(t, gdb, models.User{
		DirectoryID:  strptr("A"),
		AppDBID:      intptr(100),
		DisplayName:  "Ann",
		Email:        strptr("ann@x"),
		Login:        strptr("ann@x"),
		Enabled:      true,
		SourceSystem: models.UserSourceMerged,
	})
	seedUser(t, gdb, models.User{
		DirectoryID:  strptr("B"),
		DisplayName:  "Bo",
		Email:        strptr("bo@x"),
		Login:        strptr("bo@x"),
		Enabled:      false,
		SourceSystem: models.UserSourceDirectory,
	})
	seedUser(t, gdb, models.User{
		DirectoryID:  strptr("C"),
		AppDBID:      intptr(101),
		DisplayName:  "Cy",
		Login:        strptr("cy"),
		Enabled:      true,
		SourceSystem: models.UserSourceMerged,
	})

	finishRun(t, gdb, models.SyncKindDirectory, "")
	finishRun(t, gdb, models.SyncKindAppDB, "test")
}

func stableIDs(refs []models.UserRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.StableID)
	}

	return ids
}

func TestRunBuildsDiscrepancySets(t *testing.T) {
	gdb := testDB(t)
	seedMirror(t, gdb)

	r, result, err := Run(context.Background(), gdb, testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, r.Status)

	stats, err := r.DecodeStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, stats.Processed, stats.Skipped)

	sets, err := result.DecodeSets()
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, stableIDs(sets.DirectoryOnly))
	assert.Empty(t, sets.AppDBOnly)
	assert.Empty(t, sets.EmailMismatch)
	assert.Empty(t, sets.DepartmentMismatch)
	assert.Equal(t, []string{"B"}, stableIDs(sets.DisabledInDirectory))
}

func TestRunIsRepeatable(t *testing.T) {
	gdb := testDB(t)
	seedMirror(t, gdb)

	reg := testRegistry(t)

	_, first, err := Run(context.Background(), gdb, reg)
	require.NoError(t, err)

	_, second, err := Run(context.Background(), gdb, reg)
	require.NoError(t, err)

	firstSets, err := first.DecodeSets()
	require.NoError(t, err)
	secondSets, err := second.DecodeSets()
	require.NoError(t, err)

	assert.Equal(t, firstSets, secondSets)
}

func TestRunExcludesHiddenUsers(t *testing.T) {
	gdb := testDB(t)
	seedMirror(t, gdb)

	reg := testRegistry(t)
	require.NoError(t, reg.Hide("B"))

	r, result, err := Run(context.Background(), gdb, reg)
	require.NoError(t, err)

	stats, err := r.DecodeStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)

	sets, err := result.DecodeSets()
	require.NoError(t, err)
	assert.Empty(t, sets.DirectoryOnly)
	assert.Empty(t, sets.DisabledInDirectory)
}

func TestRunDetectsFieldMismatches(t *testing.T) {
	gdb := testDB(t)

	// merged row whose two sides disagree on the department
	seedUser(t, gdb, models.User{
		DirectoryID:     strptr("A"),
		AppDBID:         intptr(100),
		DisplayName:     "Ann",
		Email:           strptr("ann@x"),
		Login:           strptr("ann@x"),
		Department:      strptr("Sales"),
		AppDBDepartment: strptr("Ops"),
		Enabled:         true,
		SourceSystem:    models.UserSourceMerged,
	})

	// single-source rows that only pair up by login, with differing emails
	seedUser(t, gdb, models.User{
		DirectoryID:  strptr("C"),
		DisplayName:  "Cy",
		Email:        strptr("cy@corp"),
		Login:        strptr("cy"),
		Enabled:      true,
		SourceSystem: models.UserSourceDirectory,
	})
	seedUser(t, gdb, models.User{
		AppDBID:      intptr(101),
		DisplayName:  "cy",
		Email:        strptr("cy@old"),
		Login:        strptr("cy"),
		Enabled:      true,
		SourceSystem: models.UserSourceAppDB,
	})

	finishRun(t, gdb, models.SyncKindDirectory, "")
	finishRun(t, gdb, models.SyncKindAppDB, "test")

	_, result, err := Run(context.Background(), gdb, testRegistry(t))
	require.NoError(t, err)

	sets, err := result.DecodeSets()
	require.NoError(t, err)

	require.Len(t, sets.EmailMismatch, 1)
	assert.Equal(t, "C", sets.EmailMismatch[0].StableID)
	assert.Equal(t, "cy@corp", sets.EmailMismatch[0].Directory)
	assert.Equal(t, "cy@old", sets.EmailMismatch[0].AppDB)

	require.Len(t, sets.DepartmentMismatch, 1)
	assert.Equal(t, "A", sets.DepartmentMismatch[0].StableID)
	assert.Equal(t, "Sales", sets.DepartmentMismatch[0].Directory)
	assert.Equal(t, "Ops", sets.DepartmentMismatch[0].AppDB)

	// the paired rows never land in the one-sided sets
	assert.Empty(t, sets.DirectoryOnly)
	assert.Empty(t, sets.AppDBOnly)
}

func TestRunFoldsEmailsBeforeComparing(t *testing.T) {
	gdb := testDB(t)

	// login-paired rows whose emails differ only in case and padding
	seedUser(t, gdb, models.User{
		DirectoryID:  strptr("C"),
		DisplayName:  "Cy",
		Email:        strptr("Cy@X "),
		Login:        strptr("cy"),
		Enabled:      true,
		SourceSystem: models.UserSourceDirectory,
	})
	seedUser(t, gdb, models.User{
		AppDBID:      intptr(101),
		DisplayName:  "cy",
		Email:        strptr("cy@x"),
		Login:        strptr("cy"),
		Enabled:      true,
		SourceSystem: models.UserSourceAppDB,
	})

	finishRun(t, gdb, models.SyncKindDirectory, "")
	finishRun(t, gdb, models.SyncKindAppDB, "test")

	_, result, err := Run(context.Background(), gdb, testRegistry(t))
	require.NoError(t, err)

	sets, err := result.DecodeSets()
	require.NoError(t, err)

	assert.Empty(t, sets.EmailMismatch)
	assert.Empty(t, sets.DirectoryOnly)
	assert.Empty(t, sets.AppDBOnly)
}

func TestRunRequiresBothSnapshots(t *testing.T) {
	gdb := testDB(t)

	_, _, err := Run(context.Background(), gdb, testRegistry(t))
	assert.ErrorIs(t, err, ErrComparisonUnavailable)

	finishRun(t, gdb, models.SyncKindDirectory, "")

	_, _, err = Run(context.Background(), gdb, testRegistry(t))
	assert.ErrorIs(t, err, ErrComparisonUnavailable)

	finishRun(t, gdb, models.SyncKindAppDB, "test")

	r, _, err := Run(context.Background(), gdb, testRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, r.Status)
}
