package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/db"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
	"github.com/AccessMirror/AccessMirror/internal/hidden"
)

const directoryPayload = `[
  {"id": "A", "displayName": "Ann", "mail": "ann@x", "userPrincipalName": "ann@x", "accountEnabled": true},
  {"id": "B", "displayName": "Bo", "mail": "bo@x", "userPrincipalName": "bo@x", "accountEnabled": false},
  {"id": "C", "displayName": "Cy", "userPrincipalName": "cy", "accountEnabled": true}
]`

const appdbPayload = `{
  "groups": [
    {"id": 10, "name": "G1"},
    {"id": 11, "name": {"en_US": "G2"}}
  ],
  "users": [
    {"id": 100, "login": "ann@x"},
    {"id": 101, "login": "cy"}
  ],
  "memberships": [
    {"user_id": 100, "group_id": 10},
    {"user_id": 100, "group_id": 11},
    {"user_id": 101, "group_id": 11}
  ]
}`

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mirror.db")

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	return gdb
}

func writePayload(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func testService(t *testing.T, gdb *gorm.DB, directoryPath, appdbPath string) *Service {
	t.Helper()

	registry, err := hidden.Open(filepath.Join(t.TempDir(), "hidden.json"))
	require.NoError(t, err)

	cfg := &config.Config{
		AppDB: config.AppDB{
			ActiveEnv: "test",
			Environments: map[string]config.AppDBEnv{
				"test": {Display: "Test"},
			},
		},
		Mocks: config.Mocks{
			Allow:         true,
			DirectoryPath: directoryPath,
			AppDBPath:     appdbPath,
		},
		Sync: config.Sync{
			PageSize:        999,
			BatchSize:       500,
			MaxRetries:      2,
			RequestTimeoutS: 5,
			RunTimeoutS:     60,
			FailureRateCap:  0.1,
		},
	}

	return New(gdb, cfg, registry)
}

func requireStats(t *testing.T, r *models.SyncRun) models.SyncStats {
	t.Helper()

	stats, err := r.DecodeStats()
	require.NoError(t, err)
	assert.Equal(t, stats.Processed, stats.Created+stats.Updated+stats.Skipped+stats.Failed)

	return stats
}

func TestDirectorySyncFreshPayload(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, writePayload(t, "dir.json", directoryPayload), "")

	r, err := svc.SyncDirectory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, r.Status)

	stats := requireStats(t, r)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 3, stats.Created)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 0, stats.Failed)

	var users []models.User
	require.NoError(t, gdb.Order("display_name").Find(&users).Error)
	require.Len(t, users, 3)

	var cy models.User
	require.NoError(t, gdb.Where("directory_id = ?", "C").First(&cy).Error)
	assert.Nil(t, cy.Email)
	require.NotNil(t, cy.Login)
	assert.Equal(t, "cy", *cy.Login)
	assert.NotNil(t, cy.LastSeenInDirectoryAt)

	var bo models.User
	require.NoError(t, gdb.Where("directory_id = ?", "B").First(&bo).Error)
	assert.False(t, bo.Enabled)
}

func TestDirectorySyncIdempotent(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, writePayload(t, "dir.json", directoryPayload), "")

	_, err := svc.SyncDirectory(context.Background())
	require.NoError(t, err)

	r, err := svc.SyncDirectory(context.Background())
	require.NoError(t, err)

	stats := requireStats(t, r)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 3, stats.Updated)

	var count int64
	require.NoError(t, gdb.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestDirectorySyncRetainsVanishedUsers(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, writePayload(t, "dir.json", directoryPayload), "")

	_, err := svc.SyncDirectory(context.Background())
	require.NoError(t, err)

	var before models.User
	require.NoError(t, gdb.Where("directory_id = ?", "B").First(&before).Error)

	shrunk := `[{"id": "A", "displayName": "Ann", "mail": "ann@x", "accountEnabled": true}]`
	svc2 := testService(t, gdb, writePayload(t, "dir2.json", shrunk), "")

	_, err = svc2.SyncDirectory(context.Background())
	require.NoError(t, err)

	var after models.User
	require.NoError(t, gdb.Where("directory_id = ?", "B").First(&after).Error)
	require.NotNil(t, after.LastSeenInDirectoryAt)
	assert.Equal(t, before.LastSeenInDirectoryAt.Unix(), after.LastSeenInDirectoryAt.Unix())
}

func TestAppDBSyncFreshPayload(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, "", writePayload(t, "app.json", appdbPayload))

	r, err := svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, r.Status)
	require.NotNil(t, r.Environment)
	assert.Equal(t, "test", *r.Environment)

	stats := requireStats(t, r)
	assert.Equal(t, 7, stats.Processed)
	assert.Equal(t, 7, stats.Created)
	assert.Equal(t, 0, stats.Failed)

	var groups []models.SecurityGroup
	require.NoError(t, gdb.Order("name").Find(&groups).Error)
	require.Len(t, groups, 2)
	assert.Equal(t, "G1", groups[0].Name)
	assert.Equal(t, "G2", groups[1].Name)
	assert.Equal(t, models.GroupStatusUnderReview, groups[0].Status)
	assert.Equal(t, "AppDB(Test)", groups[0].SourceSystem)

	var userCount, pairCount int64
	require.NoError(t, gdb.Model(&models.User{}).Count(&userCount).Error)
	require.NoError(t, gdb.Model(&models.Membership{}).Count(&pairCount).Error)
	assert.Equal(t, int64(2), userCount)
	assert.Equal(t, int64(3), pairCount)

	// application users carry no enabled flag and default to enabled
	var ann models.User
	require.NoError(t, gdb.Where("app_db_id = ?", 100).First(&ann).Error)
	assert.True(t, ann.Enabled)
}

func TestDirectorySyncStoresDisabledAccounts(t *testing.T) {
	gdb := testDB(t)

	payload := `[{"id": "D", "displayName": "Di", "mail": "di@x", "accountEnabled": false}]`
	svc := testService(t, gdb, writePayload(t, "dir.json", payload), "")

	_, err := svc.SyncDirectory(context.Background())
	require.NoError(t, err)

	// the flag must survive the insert itself, not only later updates
	var di models.User
	require.NoError(t, gdb.Where("directory_id = ?", "D").First(&di).Error)
	assert.False(t, di.Enabled)
}

func TestAppDBSyncSecondRunCounts(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, "", writePayload(t, "app.json", appdbPayload))

	_, err := svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	r, err := svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	stats := requireStats(t, r)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 4, stats.Updated) // 2 groups + 2 users
	assert.Equal(t, 3, stats.Skipped) // unchanged membership pairs

	var pairCount int64
	require.NoError(t, gdb.Model(&models.Membership{}).Count(&pairCount).Error)
	assert.Equal(t, int64(3), pairCount)
}

func TestAppDBSyncPrunesDroppedMembership(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, "", writePayload(t, "app.json", appdbPayload))

	_, err := svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	shrunk := `{
	  "groups": [{"id": 10, "name": "G1"}, {"id": 11, "name": {"en_US": "G2"}}],
	  "users": [{"id": 100, "login": "ann@x"}, {"id": 101, "login": "cy"}],
	  "memberships": [
	    {"user_id": 100, "group_id": 10},
	    {"user_id": 100, "group_id": 11}
	  ]
	}`
	svc2 := testService(t, gdb, "", writePayload(t, "app2.json", shrunk))

	_, err = svc2.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	var pairCount int64
	require.NoError(t, gdb.Model(&models.Membership{}).Count(&pairCount).Error)
	assert.Equal(t, int64(2), pairCount)

	// user 101 and group 11 survive the pruned pair
	var user models.User
	require.NoError(t, gdb.Where("app_db_id = ?", 101).First(&user).Error)

	var group models.SecurityGroup
	require.NoError(t, gdb.Where("source_id = ?", 11).First(&group).Error)
}

func TestSyncMergesUsersAcrossSources(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb,
		writePayload(t, "dir.json", directoryPayload),
		writePayload(t, "app.json", appdbPayload))

	_, err := svc.SyncDirectory(context.Background())
	require.NoError(t, err)

	_, err = svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	var count int64
	require.NoError(t, gdb.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(3), count) // Ann and Cy merged, Bo directory-only

	var ann models.User
	require.NoError(t, gdb.Where("directory_id = ?", "A").First(&ann).Error)
	require.NotNil(t, ann.AppDBID)
	assert.Equal(t, int64(100), *ann.AppDBID)
	assert.Equal(t, models.UserSourceMerged, ann.SourceSystem)
	assert.Equal(t, "Ann", ann.DisplayName) // directory name wins

	var cy models.User
	require.NoError(t, gdb.Where("directory_id = ?", "C").First(&cy).Error)
	require.NotNil(t, cy.AppDBID)
	assert.Equal(t, int64(101), *cy.AppDBID) // matched by login
}

func TestAppDBSyncSkipsCycleEdges(t *testing.T) {
	gdb := testDB(t)

	payload := `{
	  "groups": [{"id": 10, "name": "G1"}, {"id": 11, "name": "G2"}],
	  "users": [],
	  "memberships": [],
	  "inheritance": [
	    {"parent_id": 10, "child_id": 11},
	    {"parent_id": 11, "child_id": 10}
	  ]
	}`
	svc := testService(t, gdb, "", writePayload(t, "app.json", payload))

	r, err := svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	stats := requireStats(t, r)
	assert.GreaterOrEqual(t, stats.Warnings, 1)

	var edges []models.Inheritance
	require.NoError(t, gdb.Find(&edges).Error)
	require.Len(t, edges, 1) // second edge would close a cycle
}

func TestAppDBSyncSkipsUnknownReferences(t *testing.T) {
	gdb := testDB(t)

	payload := `{
	  "groups": [{"id": 10, "name": "G1"}],
	  "users": [{"id": 100, "login": "ann@x"}],
	  "memberships": [
	    {"user_id": 100, "group_id": 10},
	    {"user_id": 999, "group_id": 10}
	  ]
	}`
	svc := testService(t, gdb, "", writePayload(t, "app.json", payload))

	r, err := svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	stats := requireStats(t, r)
	assert.Equal(t, 1, stats.Skipped)
	assert.GreaterOrEqual(t, stats.Warnings, 1)

	var pairCount int64
	require.NoError(t, gdb.Model(&models.Membership{}).Count(&pairCount).Error)
	assert.Equal(t, int64(1), pairCount)
}

func TestSyncAlreadyRunning(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, writePayload(t, "dir.json", directoryPayload), "")

	require.NoError(t, svc.acquire(models.SyncKindDirectory, ""))
	defer svc.release(models.SyncKindDirectory, "")

	_, err := svc.SyncDirectory(context.Background())
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)

	// a different kind is not blocked
	appSvc := testService(t, gdb, "", writePayload(t, "app.json", appdbPayload))
	_, err = appSvc.SyncAppDB(context.Background(), "")
	assert.NoError(t, err)
}

func TestCancel(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, "", "")

	assert.ErrorIs(t, svc.Cancel(models.SyncKindDirectory, ""), ErrNoActiveRun)

	require.NoError(t, svc.acquire(models.SyncKindDirectory, ""))

	// acquired but not yet cancellable
	assert.ErrorIs(t, svc.Cancel(models.SyncKindDirectory, ""), ErrNoActiveRun)

	canceled := false
	svc.setCancel(models.SyncKindDirectory, "", func() { canceled = true })

	require.NoError(t, svc.Cancel(models.SyncKindDirectory, ""))
	assert.True(t, canceled)

	svc.release(models.SyncKindDirectory, "")
	assert.ErrorIs(t, svc.Cancel(models.SyncKindDirectory, ""), ErrNoActiveRun)

	// an unknown environment never maps to an active slot
	assert.ErrorIs(t, svc.Cancel(models.SyncKindAppDB, "nope"), ErrNoActiveRun)
}

func TestSyncCancelledRunFails(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, writePayload(t, "dir.json", directoryPayload), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := svc.SyncDirectory(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, r)
	assert.Equal(t, models.RunStatusFailed, r.Status)
	require.NotNil(t, r.Error)
	assert.Equal(t, "cancelled", *r.Error)
}

func TestAppDBSyncAccessRules(t *testing.T) {
	gdb := testDB(t)

	payload := `{
	  "groups": [{"id": 10, "name": "G1"}],
	  "users": [],
	  "memberships": [],
	  "access_rights": [
	    {"id": 500, "group_id": 10, "model": "res.partner", "model_description": "Contact",
	     "perm_read": true, "perm_write": true, "perm_create": false, "perm_unlink": false},
	    {"id": 501, "group_id": 10, "model": "sale.order", "model_description": {"en_US": "Sales Order"},
	     "perm_read": true, "perm_write": false, "perm_create": false, "perm_unlink": false},
	    {"id": 502, "group_id": 99, "model": "account.move", "perm_read": true}
	  ]
	}`
	svc := testService(t, gdb, "", writePayload(t, "app.json", payload))

	r, err := svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	stats := requireStats(t, r)
	assert.Equal(t, 1, stats.Skipped) // rule naming an unknown group
	assert.GreaterOrEqual(t, stats.Warnings, 1)

	var rules []models.AccessRule
	require.NoError(t, gdb.Order("source_id").Find(&rules).Error)
	require.Len(t, rules, 2)

	assert.Equal(t, int64(500), rules[0].SourceID)
	assert.Equal(t, "res.partner", rules[0].ModelName)
	require.NotNil(t, rules[0].ModelDescription)
	assert.Equal(t, "Contact", *rules[0].ModelDescription)
	assert.True(t, rules[0].CanRead)
	assert.True(t, rules[0].CanWrite)
	assert.False(t, rules[0].CanCreate)
	assert.False(t, rules[0].CanDelete)

	require.NotNil(t, rules[1].ModelDescription)
	assert.Equal(t, "Sales Order", *rules[1].ModelDescription)

	var group models.SecurityGroup
	require.NoError(t, gdb.Where("source_id = ?", 10).First(&group).Error)
	assert.Equal(t, group.ID, rules[0].GroupID)

	// a second pass updates the mirrored rules in place
	r2, err := svc.SyncAppDB(context.Background(), "")
	require.NoError(t, err)

	stats2 := requireStats(t, r2)
	assert.Equal(t, 0, stats2.Created)
	assert.Equal(t, 3, stats2.Updated) // 1 group + 2 rules

	var after []models.AccessRule
	require.NoError(t, gdb.Order("source_id").Find(&after).Error)
	require.Len(t, after, 2)
	assert.Equal(t, rules[0].ID, after[0].ID)
	assert.True(t, after[0].SyncedAt.After(rules[0].SyncedAt))
}

func TestSyncUnknownEnvironment(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, "", writePayload(t, "app.json", appdbPayload))

	_, err := svc.SyncAppDB(context.Background(), "nope")
	require.Error(t, err)
}

func TestSyncWithoutSourceFailsRun(t *testing.T) {
	gdb := testDB(t)
	svc := testService(t, gdb, "", "")
	svc.cfg.Mocks.Allow = false

	r, err := svc.SyncDirectory(context.Background())
	assert.ErrorIs(t, err, ErrNoSourceAvailable)
	require.NotNil(t, r)
	assert.Equal(t, models.RunStatusFailed, r.Status)
	require.NotNil(t, r.Error)
}
