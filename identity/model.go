package identity

import "context"

// RecipeID names the authentication method a login method came from.
type RecipeID string

const (
	RecipeEmailPassword RecipeID = "emailpassword"
	RecipeThirdParty    RecipeID = "thirdparty"
	RecipePasswordless  RecipeID = "passwordless"
	RecipeWebAuthn      RecipeID = "webauthn"
)

// LoginMethod is one authentication method instance. Verified tracks
// verification per login method; merging users never copies it across
// methods.
type LoginMethod struct {
	RecipeID         RecipeID
	RecipeUserID     string
	Email            string
	PhoneNumber      string
	ThirdPartyID     string
	ThirdPartyUserID string
	Verified         bool
	TimeJoined       int64 // whole seconds since epoch
}

// User is the assembled view over one primary-linked identity graph.
// A non-primary user has exactly one login method. IsPrimary is monotonic:
// once a user becomes primary it never reverts.
type User struct {
	ID           string
	IsPrimary    bool
	LoginMethods []LoginMethod
}

// HasRecipeUserID reports whether ruid is one of the user's login methods.
func (u User) HasRecipeUserID(ruid string) bool {
	for _, lm := range u.LoginMethods {
		if lm.RecipeUserID == ruid {
			return true
		}
	}
	return false
}

// IsEmailVerified reports the merged-user convention: an email counts as
// verified for the user when any login method matching it is verified.
func (u User) IsEmailVerified(email string) bool {
	for _, lm := range u.LoginMethods {
		if lm.Email == email && lm.Verified {
			return true
		}
	}
	return false
}

// AccountInfo is the identifying-attribute set a linking decision runs on.
// Email and PhoneNumber are independent: both are matched when both are
// present, with no mutual-exclusivity assumption.
type AccountInfo struct {
	RecipeID         RecipeID
	Email            string
	PhoneNumber      string
	ThirdPartyID     string
	ThirdPartyUserID string
}

// PolicyDecision is what a linking policy callback returns.
type PolicyDecision struct {
	ShouldAutomaticallyLink   bool
	ShouldRequireVerification bool
}

// LinkingPolicy decides whether a freshly authenticated account should be
// automatically linked. existingPrimary is nil when no primary user shares
// the identifying attribute. Errors propagate: the policy affects the
// decision and is never swallowed.
type LinkingPolicy func(ctx context.Context, info AccountInfo, existingPrimary *User, userContext map[string]any) (PolicyDecision, error)
