package appdb

import (
	"context"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// mockPayload is the on-disk shape of a recorded application database
// snapshot, used for demos and offline development.
type mockPayload struct {
	Groups []struct {
		ID     int64           `json:"id"`
		Name   json.RawMessage `json:"name"`
		Module string          `json:"module"`
	} `json:"groups"`
	Users []struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Login string `json:"login"`
	} `json:"users"`
	Memberships []struct {
		UserID  int64 `json:"user_id"`
		GroupID int64 `json:"group_id"`
	} `json:"memberships"`
	Inheritance []struct {
		ParentID int64 `json:"parent_id"`
		ChildID  int64 `json:"child_id"`
	} `json:"inheritance"`
	AccessRights []struct {
		ID               int64           `json:"id"`
		GroupID          int64           `json:"group_id"`
		Model            string          `json:"model"`
		ModelDescription json.RawMessage `json:"model_description"`
		CanRead          bool            `json:"perm_read"`
		CanWrite         bool            `json:"perm_write"`
		CanCreate        bool            `json:"perm_create"`
		CanDelete        bool            `json:"perm_unlink"`
	} `json:"access_rights"`
}

// MockSource replays a recorded snapshot file through the Source interface.
// Group names may be translation mappings, exactly as the live source
// delivers them.
type MockSource struct {
	// Path is the snapshot file location.
	Path string

	payload  *mockPayload
	warnings int
}

// load parses the snapshot on first use.
func (m *MockSource) load() error {
	if m.payload != nil {
		return nil
	}

	raw, err := os.ReadFile(m.Path)
	if err != nil {
		return errors.Wrap(err, "read application database snapshot")
	}

	var payload mockPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errors.Wrap(err, "decode application database snapshot")
	}

	m.payload = &payload

	return nil
}

// flattenRaw decodes a JSON value that is either a plain string or a
// translation mapping and resolves it through Flatten.
func (m *MockSource) flattenRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}

	text, warned := Flatten(value)
	if warned {
		m.warnings++
	}

	return text
}

func (m *MockSource) EachGroup(ctx context.Context, fn func(Group) error) error {
	if err := m.load(); err != nil {
		return err
	}

	for _, g := range m.payload.Groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(Group{ID: g.ID, Name: m.flattenRaw(g.Name), Module: g.Module})
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *MockSource) EachUser(ctx context.Context, fn func(User) error) error {
	if err := m.load(); err != nil {
		return err
	}

	for _, u := range m.payload.Users {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := u.Name
		if name == "" {
			name = u.Login
		}

		if err := fn(User{ID: u.ID, Name: name, Login: u.Login}); err != nil {
			return err
		}
	}

	return nil
}

func (m *MockSource) EachMembership(ctx context.Context, fn func(Membership) error) error {
	if err := m.load(); err != nil {
		return err
	}

	for _, pair := range m.payload.Memberships {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(Membership{UserID: pair.UserID, GroupID: pair.GroupID}); err != nil {
			return err
		}
	}

	return nil
}

func (m *MockSource) EachInheritance(ctx context.Context, fn func(Inheritance) error) error {
	if err := m.load(); err != nil {
		return err
	}

	for _, edge := range m.payload.Inheritance {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(Inheritance{ParentID: edge.ParentID, ChildID: edge.ChildID}); err != nil {
			return err
		}
	}

	return nil
}

func (m *MockSource) EachAccessRule(ctx context.Context, fn func(AccessRule) error) error {
	if err := m.load(); err != nil {
		return err
	}

	for _, r := range m.payload.AccessRights {
		if err := ctx.Err(); err != nil {
			return err
		}

		rule := AccessRule{
			ID:               r.ID,
			GroupID:          r.GroupID,
			Model:            r.Model,
			ModelDescription: m.flattenRaw(r.ModelDescription),
			CanRead:          r.CanRead,
			CanWrite:         r.CanWrite,
			CanCreate:        r.CanCreate,
			CanDelete:        r.CanDelete,
		}

		if err := fn(rule); err != nil {
			return err
		}
	}

	return nil
}

func (m *MockSource) Warnings() int {
	return m.warnings
}
