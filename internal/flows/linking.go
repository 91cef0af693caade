package flows

import (
	"context"

	"github.com/sessionkit/sessionkit/identity"
)

// LinkOutcome is the terminal state of one linking decision.
type LinkOutcome int

const (
	LinkOutcomeNone LinkOutcome = iota
	// LinkOutcomeUnlinked: no candidates or the policy declined; the account
	// stays standalone.
	LinkOutcomeUnlinked
	// LinkOutcomeBecamePrimary: no existing primary shared the attribute and
	// the policy approved, so the account now roots its own primary user.
	LinkOutcomeBecamePrimary
	// LinkOutcomeLinked: the account was attached under an existing primary.
	LinkOutcomeLinked
	// LinkOutcomeVerificationPending: the policy requires verification the
	// account does not have yet. Re-running after verification links.
	LinkOutcomeVerificationPending
)

// LinkingDeps captures linking flow dependencies.
type LinkingDeps struct {
	Store  identity.Store
	Policy identity.LinkingPolicy
	Warn   func(string, ...any)
}

// LinkResult carries the decision outcome and the user as it stands after
// the decision ran.
type LinkResult struct {
	Outcome LinkOutcome
	Err     error
	User    identity.User
}

// RunAutoLink executes the account-linking decision for a freshly
// authenticated account. It is idempotent: re-running after a state change
// (e.g. email verification) converges on the same link. Policy errors
// propagate unchanged; the policy affects the decision and is never
// swallowed.
func RunAutoLink(ctx context.Context, recipeUserID string, userContext map[string]any, deps LinkingDeps) LinkResult {
	lm, err := deps.Store.GetLoginMethod(ctx, recipeUserID)
	if err != nil {
		return LinkResult{Err: err}
	}
	self, err := deps.Store.GetUser(ctx, recipeUserID)
	if err != nil {
		return LinkResult{Err: err}
	}

	// already decided on a previous run; converge without re-consulting the
	// policy, linking is irreversible
	if self.IsPrimary {
		if self.ID == recipeUserID {
			return LinkResult{Outcome: LinkOutcomeBecamePrimary, User: self}
		}
		return LinkResult{Outcome: LinkOutcomeLinked, User: self}
	}

	info := identity.AccountInfo{
		RecipeID:         lm.RecipeID,
		Email:            lm.Email,
		PhoneNumber:      lm.PhoneNumber,
		ThirdPartyID:     lm.ThirdPartyID,
		ThirdPartyUserID: lm.ThirdPartyUserID,
	}

	candidates, err := deps.Store.ListByAccountInfo(ctx, info)
	if err != nil {
		return LinkResult{Err: err}
	}

	// earliest-joined primary among users sharing the attribute, excluding
	// the account being decided on
	var existingPrimary *identity.User
	for i := range candidates {
		if candidates[i].ID == self.ID || candidates[i].HasRecipeUserID(recipeUserID) {
			continue
		}
		if candidates[i].IsPrimary {
			existingPrimary = &candidates[i]
			break
		}
	}

	if deps.Policy == nil {
		return LinkResult{Outcome: LinkOutcomeUnlinked, User: self}
	}
	decision, err := deps.Policy(ctx, info, existingPrimary, userContext)
	if err != nil {
		return LinkResult{Err: err}
	}
	if !decision.ShouldAutomaticallyLink {
		return LinkResult{Outcome: LinkOutcomeUnlinked, User: self}
	}

	if decision.ShouldRequireVerification && !lm.Verified {
		return LinkResult{Outcome: LinkOutcomeVerificationPending, User: self}
	}

	if existingPrimary == nil {
		user, err := deps.Store.MakePrimary(ctx, recipeUserID)
		if err != nil {
			return LinkResult{Err: err}
		}
		return LinkResult{Outcome: LinkOutcomeBecamePrimary, User: user}
	}

	user, err := deps.Store.LinkAccounts(ctx, recipeUserID, existingPrimary.ID)
	if err != nil {
		return LinkResult{Err: err}
	}
	return LinkResult{Outcome: LinkOutcomeLinked, User: user}
}
