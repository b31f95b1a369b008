package directory

import (
	"context"
	"time"
)

// User is the normalized shape a directory source yields. Login defaults to
// the user principal name when the vendor record carries no explicit login.
type User struct {
	// StableID is the provider's own identifier, opaque to the mirror.
	StableID string
	// DisplayName is the human readable name.
	DisplayName string
	// Login is the sign-in name (user principal name).
	Login string
	// Email is the primary mail address, empty when the account has none.
	Email string
	// Department is the organizational unit, empty when unset.
	Department string
	// JobTitle is the job title, empty when unset.
	JobTitle string
	// Enabled is the account-enabled flag.
	Enabled bool
	// LastCredentialChange is the last password change instant, zero when unknown.
	LastCredentialChange time.Time
}

// Source yields a finite, restartable stream of normalized directory users.
// Implemented by the live Graph client and the mock payload reader.
type Source interface {
	EachUser(ctx context.Context, fn func(User) error) error
}
