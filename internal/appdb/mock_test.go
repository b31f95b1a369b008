package appdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mockSnapshot = `{
  "groups": [
    {"id": 1, "name": "Accounting / Manager", "module": "Accounting"},
    {"id": 2, "name": {"en_US": "Sales / User", "fr_FR": "Ventes / Utilisateur"}, "module": "Sales"}
  ],
  "users": [
    {"id": 100, "name": "Ann", "login": "ann@x"},
    {"id": 101, "login": "cy"}
  ],
  "memberships": [
    {"user_id": 100, "group_id": 1},
    {"user_id": 101, "group_id": 2}
  ],
  "inheritance": [
    {"parent_id": 2, "child_id": 1}
  ],
  "access_rights": [
    {"id": 500, "group_id": 1, "model": "account.move", "model_description": "Journal Entry",
     "perm_read": true, "perm_write": true, "perm_create": true, "perm_unlink": false}
  ]
}`

func writeSnapshot(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestMockSourceStreams(t *testing.T) {
	src := &MockSource{Path: writeSnapshot(t, mockSnapshot)}
	ctx := context.Background()

	var groups []Group
	require.NoError(t, src.EachGroup(ctx, func(g Group) error {
		groups = append(groups, g)
		return nil
	}))
	require.Len(t, groups, 2)
	assert.Equal(t, "Accounting / Manager", groups[0].Name)
	assert.Equal(t, "Sales / User", groups[1].Name) // translation mapping flattened
	assert.Equal(t, 1, src.Warnings())

	var users []User
	require.NoError(t, src.EachUser(ctx, func(u User) error {
		users = append(users, u)
		return nil
	}))
	require.Len(t, users, 2)
	assert.Equal(t, "Ann", users[0].Name)
	assert.Equal(t, "cy", users[1].Name) // login doubles as the name

	var pairs []Membership
	require.NoError(t, src.EachMembership(ctx, func(m Membership) error {
		pairs = append(pairs, m)
		return nil
	}))
	assert.Len(t, pairs, 2)

	var edges []Inheritance
	require.NoError(t, src.EachInheritance(ctx, func(e Inheritance) error {
		edges = append(edges, e)
		return nil
	}))
	require.Len(t, edges, 1)
	assert.Equal(t, int64(2), edges[0].ParentID)
	assert.Equal(t, int64(1), edges[0].ChildID)

	var rules []AccessRule
	require.NoError(t, src.EachAccessRule(ctx, func(r AccessRule) error {
		rules = append(rules, r)
		return nil
	}))
	require.Len(t, rules, 1)
	assert.Equal(t, "account.move", rules[0].Model)
	assert.Equal(t, "Journal Entry", rules[0].ModelDescription)
	assert.True(t, rules[0].CanRead)
	assert.False(t, rules[0].CanDelete)
}

func TestMockSourceMissingFile(t *testing.T) {
	src := &MockSource{Path: filepath.Join(t.TempDir(), "nope.json")}

	err := src.EachGroup(context.Background(), func(Group) error { return nil })
	require.Error(t, err)
}

func TestMockSourceHonorsContext(t *testing.T) {
	src := &MockSource{Path: writeSnapshot(t, mockSnapshot)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := src.EachGroup(ctx, func(Group) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
