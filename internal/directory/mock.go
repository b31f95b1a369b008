package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// MockSource yields users from a JSON payload file instead of the live
// provider. The payload is either a bare array of user records or an object
// with a "value" array, matching what the live listing returns.
type MockSource struct {
	// Path is the payload file location.
	Path string
}

// EachUser yields every user of the payload verbatim through normalization.
func (m *MockSource) EachUser(ctx context.Context, fn func(User) error) error {
	raw, err := os.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("directory mock payload: %w", err)
	}

	var records []graphUser

	var wrapped usersPage
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Value != nil {
		records = wrapped.Value
	} else if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("unsupported directory mock payload format: %w", err)
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(normalize(record)); err != nil {
			return err
		}
	}

	return nil
}
