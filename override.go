package sessionkit

import (
	"context"

	"github.com/sessionkit/sessionkit/identity"
)

// SessionImplementation is the overridable session API surface. Every
// public Engine session method delegates through the composed
// implementation, so an override observes and can alter any call.
//
// Overrides wrap by embedding: a struct embedding the base implementation
// only needs to declare the methods it changes, and may call the embedded
// base to reach the original behavior.
type SessionImplementation interface {
	CreateNewSession(ctx context.Context, req CreateSessionRequest) (*SessionContainer, error)
	GetSession(ctx context.Context, accessToken string, opts *VerifySessionOptions) (*SessionContainer, error)
	RefreshSession(ctx context.Context, refreshToken, antiCSRFToken string) (*SessionContainer, error)
	GetSessionInformation(ctx context.Context, sessionHandle string) (*SessionInformation, error)
	RevokeSession(ctx context.Context, sessionHandle string) (bool, error)
	RevokeAllSessionsForUser(ctx context.Context, userID string) ([]string, error)
	GetAllSessionHandlesForUser(ctx context.Context, userID string) ([]string, error)
	UpdateSessionDataInDatabase(ctx context.Context, sessionHandle string, data map[string]any) error
	MergeIntoAccessTokenPayload(ctx context.Context, sessionHandle string, fragments map[string]any) error
}

// SessionOverride wraps a session implementation. Overrides registered
// earlier sit closer to the base; the last registered override is the
// outermost layer and sees calls first.
type SessionOverride func(base SessionImplementation) SessionImplementation

// LinkingImplementation is the overridable account-linking API surface.
type LinkingImplementation interface {
	CreatePrimaryUser(ctx context.Context, recipeUserID string) (identity.User, error)
	LinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) (identity.User, error)
	CanLinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) error
	GetUser(ctx context.Context, recipeUserID string) (identity.User, error)
}

// LinkingOverride wraps a linking implementation, layered the same way as
// [SessionOverride].
type LinkingOverride func(base LinkingImplementation) LinkingImplementation

func composeSessionOverrides(base SessionImplementation, overrides []SessionOverride) SessionImplementation {
	impl := base
	for _, override := range overrides {
		if override == nil {
			continue
		}
		if next := override(impl); next != nil {
			impl = next
		}
	}
	return impl
}

func composeLinkingOverrides(base LinkingImplementation, overrides []LinkingOverride) LinkingImplementation {
	impl := base
	for _, override := range overrides {
		if override == nil {
			continue
		}
		if next := override(impl); next != nil {
			impl = next
		}
	}
	return impl
}
