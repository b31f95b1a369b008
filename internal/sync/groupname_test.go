package sync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AccessMirror/AccessMirror/internal/db/models"
)

func TestParseGroupName(t *testing.T) {
	tests := []struct {
		name   string
		module string
		level  models.AccessLevel
	}{
		{name: "Accounting / Manager", module: "Accounting", level: models.AccessLevelManager},
		{name: "Sales / User", module: "Sales", level: models.AccessLevelUser},
		{name: "Inventory / Administrator", module: "Inventory", level: models.AccessLevelAdministrator},
		{name: "Inventory / Admin", module: "Inventory", level: models.AccessLevelAdministrator},
		{name: "Sales/user", module: "Sales", level: models.AccessLevelUser},
		{name: "Technical / Portal", module: "Technical", level: models.AccessLevelOther},
		{name: "G1", module: "", level: models.AccessLevelOther},
		{name: "", module: "", level: models.AccessLevelOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			module, level := ParseGroupName(tt.name)
			assert.Equal(t, tt.module, module)
			assert.Equal(t, tt.level, level)
		})
	}
}

func TestTerminalStatus(t *testing.T) {
	status, msg := terminalStatus(models.SyncStats{Processed: 3, Created: 3}, nil)
	assert.Equal(t, models.RunStatusSucceeded, status)
	assert.Empty(t, msg)

	status, msg = terminalStatus(models.SyncStats{Processed: 3, Created: 2, Failed: 1}, nil)
	assert.Equal(t, models.RunStatusPartiallySucceeded, status)
	assert.NotEmpty(t, msg)

	status, _ = terminalStatus(models.SyncStats{Processed: 4, Created: 2, Failed: 2}, ErrFailureCapExceeded)
	assert.Equal(t, models.RunStatusPartiallySucceeded, status)

	status, msg = terminalStatus(models.SyncStats{Processed: 2, Failed: 2}, ErrFailureCapExceeded)
	assert.Equal(t, models.RunStatusFailed, status)
	assert.NotEmpty(t, msg)
}

func TestTerminalStatusAbortedRuns(t *testing.T) {
	// a cancelled run fails even when earlier batches already committed
	status, msg := terminalStatus(models.SyncStats{Processed: 5, Created: 3}, context.Canceled)
	assert.Equal(t, models.RunStatusFailed, status)
	assert.Equal(t, "cancelled", msg)

	status, msg = terminalStatus(models.SyncStats{Processed: 5, Updated: 5}, context.DeadlineExceeded)
	assert.Equal(t, models.RunStatusFailed, status)
	assert.Equal(t, "timed out", msg)

	// wrapped context errors take the same branch
	status, msg = terminalStatus(models.SyncStats{Created: 1},
		fmt.Errorf("streaming groups: %w", context.Canceled))
	assert.Equal(t, models.RunStatusFailed, status)
	assert.Equal(t, "cancelled", msg)
}
