package hidden

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hidden.json")

	r, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, r.List())

	require.NoError(t, r.Hide("B"))
	require.NoError(t, r.Hide("A"))
	require.NoError(t, r.Hide("A")) // idempotent

	assert.True(t, r.IsHidden("A"))
	assert.False(t, r.IsHidden("C"))
	assert.Equal(t, []string{"A", "B"}, r.List())

	// a fresh open sees the persisted set
	r2, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, r2.List())

	require.NoError(t, r2.Unhide("A"))
	require.NoError(t, r2.Unhide("A")) // idempotent
	assert.False(t, r2.IsHidden("A"))
	assert.Equal(t, []string{"B"}, r2.List())
}

func TestRegistryRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hidden.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path)
	require.Error(t, err)
}
