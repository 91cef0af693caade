package flows

import (
	"context"
	"errors"
	"testing"

	"github.com/sessionkit/sessionkit/identity"
)

func linkingPolicy(link, requireVerification bool) identity.LinkingPolicy {
	return func(context.Context, identity.AccountInfo, *identity.User, map[string]any) (identity.PolicyDecision, error) {
		return identity.PolicyDecision{
			ShouldAutomaticallyLink:   link,
			ShouldRequireVerification: requireVerification,
		}, nil
	}
}

func seedStore(t *testing.T, methods ...identity.LoginMethod) identity.Store {
	t.Helper()
	store := identity.NewMemoryStore()
	for _, lm := range methods {
		if err := store.CreateLoginMethod(context.Background(), lm); err != nil {
			t.Fatalf("CreateLoginMethod(%s): %v", lm.RecipeUserID, err)
		}
	}
	return store
}

func TestAutoLinkBecamePrimary(t *testing.T) {
	store := seedStore(t, identity.LoginMethod{
		RecipeID:     identity.RecipeEmailPassword,
		RecipeUserID: "ep-1",
		Email:        "a@example.com",
		TimeJoined:   100,
	})

	result := RunAutoLink(context.Background(), "ep-1", nil, LinkingDeps{
		Store:  store,
		Policy: linkingPolicy(true, false),
	})
	if result.Err != nil {
		t.Fatalf("RunAutoLink: %v", result.Err)
	}
	if result.Outcome != LinkOutcomeBecamePrimary {
		t.Fatalf("Outcome = %v", result.Outcome)
	}
	if !result.User.IsPrimary || result.User.ID != "ep-1" {
		t.Fatalf("User = %+v", result.User)
	}
}

func TestAutoLinkAttachesUnderExistingPrimary(t *testing.T) {
	store := seedStore(t,
		identity.LoginMethod{
			RecipeID:     identity.RecipeEmailPassword,
			RecipeUserID: "ep-1",
			Email:        "a@example.com",
			TimeJoined:   100,
		},
		identity.LoginMethod{
			RecipeID:         identity.RecipeThirdParty,
			RecipeUserID:     "tp-1",
			Email:            "a@example.com",
			ThirdPartyID:     "google",
			ThirdPartyUserID: "g-1",
			TimeJoined:       200,
		},
	)
	if _, err := store.MakePrimary(context.Background(), "ep-1"); err != nil {
		t.Fatalf("MakePrimary: %v", err)
	}

	result := RunAutoLink(context.Background(), "tp-1", nil, LinkingDeps{
		Store:  store,
		Policy: linkingPolicy(true, false),
	})
	if result.Err != nil {
		t.Fatalf("RunAutoLink: %v", result.Err)
	}
	if result.Outcome != LinkOutcomeLinked {
		t.Fatalf("Outcome = %v", result.Outcome)
	}
	if result.User.ID != "ep-1" || len(result.User.LoginMethods) != 2 {
		t.Fatalf("User = %+v", result.User)
	}
}

func TestAutoLinkPolicyDeclines(t *testing.T) {
	store := seedStore(t, identity.LoginMethod{
		RecipeID:     identity.RecipeEmailPassword,
		RecipeUserID: "ep-1",
		Email:        "a@example.com",
	})

	result := RunAutoLink(context.Background(), "ep-1", nil, LinkingDeps{
		Store:  store,
		Policy: linkingPolicy(false, false),
	})
	if result.Outcome != LinkOutcomeUnlinked {
		t.Fatalf("Outcome = %v", result.Outcome)
	}

	// no policy behaves like a declining policy
	result = RunAutoLink(context.Background(), "ep-1", nil, LinkingDeps{Store: store})
	if result.Outcome != LinkOutcomeUnlinked {
		t.Fatalf("Outcome without policy = %v", result.Outcome)
	}
}

func TestAutoLinkVerificationGate(t *testing.T) {
	store := seedStore(t,
		identity.LoginMethod{
			RecipeID:     identity.RecipeEmailPassword,
			RecipeUserID: "ep-1",
			Email:        "a@example.com",
			TimeJoined:   100,
		},
		identity.LoginMethod{
			RecipeID:     identity.RecipePasswordless,
			RecipeUserID: "pl-1",
			Email:        "a@example.com",
			TimeJoined:   200,
		},
	)
	if _, err := store.MakePrimary(context.Background(), "ep-1"); err != nil {
		t.Fatalf("MakePrimary: %v", err)
	}

	deps := LinkingDeps{Store: store, Policy: linkingPolicy(true, true)}

	// unverified account: decision defers rather than linking
	result := RunAutoLink(context.Background(), "pl-1", nil, deps)
	if result.Outcome != LinkOutcomeVerificationPending {
		t.Fatalf("Outcome = %v", result.Outcome)
	}
	user, err := store.GetUser(context.Background(), "pl-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.ID != "pl-1" {
		t.Fatalf("account linked while verification was pending: %+v", user)
	}

	// re-running after verification converges on the link
	if err := store.SetVerified(context.Background(), "pl-1", true); err != nil {
		t.Fatalf("SetVerified: %v", err)
	}
	result = RunAutoLink(context.Background(), "pl-1", nil, deps)
	if result.Outcome != LinkOutcomeLinked {
		t.Fatalf("Outcome after verification = %v", result.Outcome)
	}
	if result.User.ID != "ep-1" {
		t.Fatalf("User = %+v", result.User)
	}

	// and the decision is idempotent
	result = RunAutoLink(context.Background(), "pl-1", nil, deps)
	if result.Err != nil {
		t.Fatalf("re-run: %v", result.Err)
	}
	if result.User.ID != "ep-1" {
		t.Fatalf("re-run User = %+v", result.User)
	}
}

func TestAutoLinkPolicyErrorPropagates(t *testing.T) {
	store := seedStore(t, identity.LoginMethod{
		RecipeID:     identity.RecipeEmailPassword,
		RecipeUserID: "ep-1",
		Email:        "a@example.com",
	})

	wantErr := errors.New("policy backend down")
	result := RunAutoLink(context.Background(), "ep-1", nil, LinkingDeps{
		Store: store,
		Policy: func(context.Context, identity.AccountInfo, *identity.User, map[string]any) (identity.PolicyDecision, error) {
			return identity.PolicyDecision{}, wantErr
		},
	})
	if !errors.Is(result.Err, wantErr) {
		t.Fatalf("Err = %v, want %v", result.Err, wantErr)
	}
	if result.Outcome != LinkOutcomeNone {
		t.Fatalf("Outcome = %v on error", result.Outcome)
	}
}

func TestAutoLinkUnknownAccount(t *testing.T) {
	store := identity.NewMemoryStore()

	result := RunAutoLink(context.Background(), "missing", nil, LinkingDeps{
		Store:  store,
		Policy: linkingPolicy(true, false),
	})
	if !errors.Is(result.Err, identity.ErrLoginMethodNotFound) {
		t.Fatalf("Err = %v, want ErrLoginMethodNotFound", result.Err)
	}
}
