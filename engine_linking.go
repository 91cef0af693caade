package sessionkit

import (
	"context"
	"errors"

	"github.com/sessionkit/sessionkit/identity"
	"github.com/sessionkit/sessionkit/internal/flows"
)

// ErrLinkingDisabled is returned by linking operations when no identity
// store is configured or Linking.Enabled is false.
var ErrLinkingDisabled = errors.New("account linking is not enabled")

// LinkOutcome is what happened to a login method after the automatic
// linking decision ran.
type LinkOutcome string

const (
	LinkOutcomeUnlinked            LinkOutcome = "UNLINKED"
	LinkOutcomeBecamePrimary       LinkOutcome = "BECAME_PRIMARY"
	LinkOutcomeLinked              LinkOutcome = "LINKED"
	LinkOutcomeVerificationPending LinkOutcome = "VERIFICATION_PENDING"
)

// AutoLinkResult is the terminal decision for one sign-up or sign-in.
type AutoLinkResult struct {
	Outcome LinkOutcome
	User    identity.User
}

func (e *Engine) linkingDeps() flows.LinkingDeps {
	return flows.LinkingDeps{
		Store:  e.identityStore,
		Policy: e.linkingPolicy,
		Warn:   e.warnf,
	}
}

func (e *Engine) runAutoLink(ctx context.Context, recipeUserID string) (AutoLinkResult, error) {
	result := flows.RunAutoLink(ctx, recipeUserID, userContextFromContext(ctx), e.linkingDeps())
	if result.Err != nil {
		e.metricInc(MetricAccountLinkRejected)
		e.emitAudit(ctx, auditEventAccountLinkRejected, false, recipeUserID, "", result.Err, nil)
		return AutoLinkResult{}, result.Err
	}

	out := AutoLinkResult{User: result.User}
	switch result.Outcome {
	case flows.LinkOutcomeLinked:
		out.Outcome = LinkOutcomeLinked
		e.metricInc(MetricAccountLinked)
		e.emitAudit(ctx, auditEventAccountLinked, true, result.User.ID, "", nil, func() map[string]string {
			return map[string]string{"recipe_user_id": recipeUserID}
		})
	case flows.LinkOutcomeBecamePrimary:
		out.Outcome = LinkOutcomeBecamePrimary
		e.metricInc(MetricAccountLinked)
		e.emitAudit(ctx, auditEventPrimaryUserCreated, true, result.User.ID, "", nil, nil)
	case flows.LinkOutcomeVerificationPending:
		out.Outcome = LinkOutcomeVerificationPending
		e.metricInc(MetricAccountLinkDeferred)
		e.emitAudit(ctx, auditEventAccountLinkDeferred, true, result.User.ID, "", nil, func() map[string]string {
			return map[string]string{"recipe_user_id": recipeUserID}
		})
	default:
		out.Outcome = LinkOutcomeUnlinked
	}
	return out, nil
}

// SignUpCompleted runs the linking decision for a freshly registered login
// method. The record must already exist in the identity store.
func (e *Engine) SignUpCompleted(ctx context.Context, recipeUserID string) (AutoLinkResult, error) {
	if e == nil {
		return AutoLinkResult{}, ErrEngineNotReady
	}
	if !e.config.Linking.Enabled || e.identityStore == nil {
		return AutoLinkResult{}, ErrLinkingDisabled
	}
	return e.runAutoLink(ctx, recipeUserID)
}

// SignInCompleted re-runs the linking decision on sign-in; it converges to
// the same link as sign-up and picks up state changes such as a
// verification completed elsewhere.
func (e *Engine) SignInCompleted(ctx context.Context, recipeUserID string) (AutoLinkResult, error) {
	return e.SignUpCompleted(ctx, recipeUserID)
}

// NotifyEmailVerified flips the login method's verification flag and
// re-runs the linking decision, resolving a previously deferred link.
func (e *Engine) NotifyEmailVerified(ctx context.Context, recipeUserID string) (AutoLinkResult, error) {
	if e == nil {
		return AutoLinkResult{}, ErrEngineNotReady
	}
	if !e.config.Linking.Enabled || e.identityStore == nil {
		return AutoLinkResult{}, ErrLinkingDisabled
	}
	if err := e.identityStore.SetVerified(ctx, recipeUserID, true); err != nil {
		return AutoLinkResult{}, err
	}
	return e.runAutoLink(ctx, recipeUserID)
}

// RegisterLoginMethod inserts a new login-method record into the identity
// store. It does not run the linking decision; call [Engine.SignUpCompleted]
// afterwards.
func (e *Engine) RegisterLoginMethod(ctx context.Context, lm identity.LoginMethod) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.identityStore == nil {
		return ErrLinkingDisabled
	}
	return e.identityStore.CreateLoginMethod(ctx, lm)
}

// CreatePrimaryUser promotes a login method's user to primary.
func (e *Engine) CreatePrimaryUser(ctx context.Context, recipeUserID string) (identity.User, error) {
	if e == nil || e.linking == nil {
		return identity.User{}, ErrEngineNotReady
	}
	return e.linking.CreatePrimaryUser(ctx, recipeUserID)
}

// LinkAccounts attaches a login method under an existing primary user.
func (e *Engine) LinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) (identity.User, error) {
	if e == nil || e.linking == nil {
		return identity.User{}, ErrEngineNotReady
	}
	return e.linking.LinkAccounts(ctx, recipeUserID, primaryUserID)
}

// CanLinkAccounts reports, without writing, whether LinkAccounts with the
// same arguments would succeed.
func (e *Engine) CanLinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) error {
	if e == nil || e.linking == nil {
		return ErrEngineNotReady
	}
	return e.linking.CanLinkAccounts(ctx, recipeUserID, primaryUserID)
}

// GetUser assembles the user owning a recipe user id, resolving links.
func (e *Engine) GetUser(ctx context.Context, recipeUserID string) (identity.User, error) {
	if e == nil || e.linking == nil {
		return identity.User{}, ErrEngineNotReady
	}
	return e.linking.GetUser(ctx, recipeUserID)
}

// UpdateEmail changes a login method's email address. The change is
// rejected when the new email already identifies a different primary user;
// a successful change resets the method's verification flag.
func (e *Engine) UpdateEmail(ctx context.Context, recipeUserID, newEmail string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.identityStore == nil {
		return ErrLinkingDisabled
	}
	err := e.identityStore.UpdateEmail(ctx, recipeUserID, newEmail)
	e.emitAudit(ctx, auditEventEmailUpdated, err == nil, recipeUserID, "", err, nil)
	return err
}

/*
====================================
BASE LINKING IMPLEMENTATION
====================================
*/

type baseLinkingImpl struct {
	e *Engine
}

func (l baseLinkingImpl) store() (identity.Store, error) {
	if l.e.identityStore == nil {
		return nil, ErrLinkingDisabled
	}
	return l.e.identityStore, nil
}

func (l baseLinkingImpl) CreatePrimaryUser(ctx context.Context, recipeUserID string) (identity.User, error) {
	store, err := l.store()
	if err != nil {
		return identity.User{}, err
	}
	return store.MakePrimary(ctx, recipeUserID)
}

func (l baseLinkingImpl) LinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) (identity.User, error) {
	store, err := l.store()
	if err != nil {
		return identity.User{}, err
	}
	user, err := store.LinkAccounts(ctx, recipeUserID, primaryUserID)
	if err != nil {
		l.e.metricInc(MetricAccountLinkRejected)
		return identity.User{}, err
	}
	l.e.metricInc(MetricAccountLinked)
	l.e.emitAudit(ctx, auditEventAccountLinked, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"recipe_user_id": recipeUserID}
	})
	return user, nil
}

func (l baseLinkingImpl) CanLinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) error {
	store, err := l.store()
	if err != nil {
		return err
	}
	if _, err := store.GetLoginMethod(ctx, recipeUserID); err != nil {
		return err
	}
	target, err := store.GetUser(ctx, primaryUserID)
	if err != nil {
		return err
	}
	if !target.IsPrimary || target.ID != primaryUserID {
		return identity.ErrNotPrimary
	}

	self, err := store.GetUser(ctx, recipeUserID)
	if err != nil {
		return err
	}
	if self.ID == target.ID {
		// already linked; LinkAccounts would be a no-op
		return nil
	}
	if self.ID != recipeUserID {
		return identity.ErrRecipeUserIDAlreadyLinked
	}
	return nil
}

func (l baseLinkingImpl) GetUser(ctx context.Context, recipeUserID string) (identity.User, error) {
	store, err := l.store()
	if err != nil {
		return identity.User{}, err
	}
	return store.GetUser(ctx, recipeUserID)
}
