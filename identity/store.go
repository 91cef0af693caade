package identity

import (
	"context"
	"errors"
)

var (
	ErrLoginMethodExists   = errors.New("identity: login method already exists")
	ErrLoginMethodNotFound = errors.New("identity: login method not found")
	// ErrNotPrimary is returned when a link target is not a primary user.
	ErrNotPrimary = errors.New("identity: target user is not primary")
	// ErrRecipeUserIDAlreadyLinked is returned when the account is already part
	// of a different primary. Reported, not retried.
	ErrRecipeUserIDAlreadyLinked = errors.New("identity: recipe user id already linked to another primary")
	// ErrEmailChangeNotAllowed is returned when an email change would collide
	// with a different primary user's identity outside the linking path.
	ErrEmailChangeNotAllowed = errors.New("identity: email change not allowed")
	// ErrStoreUnavailable wraps driver-level transport failures.
	ErrStoreUnavailable = errors.New("identity: store unavailable")
)

// Store is the arena over login-method records. Implementations must make
// LinkAccounts atomic: either every record of the absorbed user points at
// the new primary afterwards, or none does.
type Store interface {
	// CreateLoginMethod inserts a new record. The record starts unlinked.
	CreateLoginMethod(ctx context.Context, lm LoginMethod) error

	// GetLoginMethod reads one record by recipe user id.
	GetLoginMethod(ctx context.Context, recipeUserID string) (LoginMethod, error)

	// GetUser assembles the user owning recipeUserID, resolving the primary
	// graph when the record is linked.
	GetUser(ctx context.Context, recipeUserID string) (User, error)

	// ListByAccountInfo returns every user owning a login method matching any
	// present attribute of info (email, phone, third-party id). Results are
	// de-duplicated by user id and ordered by earliest join time.
	ListByAccountInfo(ctx context.Context, info AccountInfo) ([]User, error)

	// MakePrimary promotes the record's user to primary. Idempotent when the
	// record already roots its own primary; fails with
	// ErrRecipeUserIDAlreadyLinked when it belongs to a different primary.
	MakePrimary(ctx context.Context, recipeUserID string) (User, error)

	// LinkAccounts attaches recipeUserID (and, if it was itself primary, all
	// of its members) under primaryUserID. Idempotent for repeated calls with
	// the same primary. Irreversible.
	LinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) (User, error)

	// SetVerified flips one login method's verification flag.
	SetVerified(ctx context.Context, recipeUserID string, verified bool) error

	// UpdateEmail changes one login method's email, failing with
	// ErrEmailChangeNotAllowed when the new email already identifies a
	// different primary user. A successful change resets Verified.
	UpdateEmail(ctx context.Context, recipeUserID, newEmail string) error
}
