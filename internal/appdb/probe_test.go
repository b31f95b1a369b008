package appdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMembership(t *testing.T) {
	tests := []struct {
		name     string
		cols     []string
		user     string
		group    string
		warnings int
	}{
		{name: "classic gid uid", cols: []string{"gid", "uid"}, user: "uid", group: "gid"},
		{name: "uid first", cols: []string{"uid", "gid"}, user: "uid", group: "gid"},
		{name: "long names group first", cols: []string{"group_id", "user_id"}, user: "user_id", group: "group_id"},
		{name: "long names user first", cols: []string{"user_id", "group_id"}, user: "user_id", group: "group_id"},
		{name: "unknown layout defaults group first", cols: []string{"a", "b"}, user: "b", group: "a", warnings: 1},
		{name: "extra columns use first two", cols: []string{"gid", "uid", "create_date"}, user: "uid", group: "gid", warnings: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := 0

			got, err := resolveMembership(tt.cols, &warnings)
			require.NoError(t, err)
			assert.Equal(t, tt.user, got.User)
			assert.Equal(t, tt.group, got.Group)
			assert.Equal(t, tt.warnings, warnings)
		})
	}
}

func TestResolveMembershipTooFewColumns(t *testing.T) {
	warnings := 0

	_, err := resolveMembership([]string{"gid"}, &warnings)
	require.Error(t, err)

	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, tableMembership, mismatch.Table)
}

func TestResolveMembershipRejectsUnsafeIdentifier(t *testing.T) {
	warnings := 0

	_, err := resolveMembership([]string{`gid"; DROP TABLE x; --`, "uid"}, &warnings)
	require.Error(t, err)
}

func TestResolveInheritance(t *testing.T) {
	tests := []struct {
		name   string
		cols   []string
		parent string
		child  string
	}{
		{name: "gid hid", cols: []string{"gid", "hid"}, parent: "gid", child: "hid"},
		{name: "parent child", cols: []string{"parent_id", "child_id"}, parent: "parent_id", child: "child_id"},
		{name: "group implied", cols: []string{"group_id", "implied_id"}, parent: "group_id", child: "implied_id"},
		{name: "unknown defaults first as parent", cols: []string{"gid1", "gid2"}, parent: "gid1", child: "gid2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := 0

			got, err := resolveInheritance(tt.cols, &warnings)
			require.NoError(t, err)
			assert.Equal(t, tt.parent, got.Parent)
			assert.Equal(t, tt.child, got.Child)
		})
	}
}

func TestSafeIdentifier(t *testing.T) {
	assert.True(t, safeIdentifier("group_id"))
	assert.True(t, safeIdentifier("Gid2"))
	assert.False(t, safeIdentifier(""))
	assert.False(t, safeIdentifier("group-id"))
	assert.False(t, safeIdentifier(`a"b`))
}

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "postgresql+psycopg://u:p@h/db", want: "postgresql://u:p@h/db"},
		{in: "postgresql://u:p@h/db", want: "postgresql://u:p@h/db"},
		{in: "postgres+asyncpg://u@h/db", want: "postgres://u@h/db"},
		{in: "host=localhost dbname=prod", want: "host=localhost dbname=prod"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDSN(tt.in))
	}
}
