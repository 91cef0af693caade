package identity

import (
	"context"
	"errors"
	"testing"
)

// storeConformance exercises the Store contract. Both drivers must pass it.
func storeConformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	emailMethod := LoginMethod{
		RecipeID:     RecipeEmailPassword,
		RecipeUserID: "ep-1",
		Email:        "a@example.com",
		TimeJoined:   100,
	}
	tpMethod := LoginMethod{
		RecipeID:         RecipeThirdParty,
		RecipeUserID:     "tp-1",
		Email:            "a@example.com",
		ThirdPartyID:     "google",
		ThirdPartyUserID: "g-1",
		TimeJoined:       200,
	}
	plessMethod := LoginMethod{
		RecipeID:     RecipePasswordless,
		RecipeUserID: "pl-1",
		PhoneNumber:  "+15551234567",
		TimeJoined:   300,
	}

	for _, lm := range []LoginMethod{emailMethod, tpMethod, plessMethod} {
		if err := store.CreateLoginMethod(ctx, lm); err != nil {
			t.Fatalf("CreateLoginMethod(%s): %v", lm.RecipeUserID, err)
		}
	}
	if err := store.CreateLoginMethod(ctx, emailMethod); !errors.Is(err, ErrLoginMethodExists) {
		t.Fatalf("duplicate CreateLoginMethod err = %v, want ErrLoginMethodExists", err)
	}
	if err := store.CreateLoginMethod(ctx, LoginMethod{}); err == nil {
		t.Fatal("CreateLoginMethod accepted an empty recipe user id")
	}

	got, err := store.GetLoginMethod(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetLoginMethod: %v", err)
	}
	if got.Email != "a@example.com" || got.RecipeID != RecipeEmailPassword {
		t.Fatalf("GetLoginMethod = %+v", got)
	}
	if _, err := store.GetLoginMethod(ctx, "missing"); !errors.Is(err, ErrLoginMethodNotFound) {
		t.Fatalf("GetLoginMethod(missing) err = %v, want ErrLoginMethodNotFound", err)
	}

	// standalone account: user id equals the recipe user id, not primary
	user, err := store.GetUser(ctx, "ep-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.ID != "ep-1" || user.IsPrimary || len(user.LoginMethods) != 1 {
		t.Fatalf("standalone GetUser = %+v", user)
	}

	// promotion is idempotent
	for i := 0; i < 2; i++ {
		user, err = store.MakePrimary(ctx, "ep-1")
		if err != nil {
			t.Fatalf("MakePrimary #%d: %v", i, err)
		}
		if !user.IsPrimary || user.ID != "ep-1" {
			t.Fatalf("MakePrimary #%d = %+v", i, user)
		}
	}

	// linking is idempotent and assembles the merged user sorted by join time
	for i := 0; i < 2; i++ {
		user, err = store.LinkAccounts(ctx, "tp-1", "ep-1")
		if err != nil {
			t.Fatalf("LinkAccounts #%d: %v", i, err)
		}
	}
	if user.ID != "ep-1" || len(user.LoginMethods) != 2 {
		t.Fatalf("linked GetUser = %+v", user)
	}
	if user.LoginMethods[0].RecipeUserID != "ep-1" || user.LoginMethods[1].RecipeUserID != "tp-1" {
		t.Fatalf("login methods not ordered by join time: %+v", user.LoginMethods)
	}

	// the absorbed account resolves to the same merged user
	user, err = store.GetUser(ctx, "tp-1")
	if err != nil {
		t.Fatalf("GetUser(tp-1): %v", err)
	}
	if user.ID != "ep-1" {
		t.Fatalf("GetUser(tp-1).ID = %q, want ep-1", user.ID)
	}

	// a member of one primary cannot be promoted or linked elsewhere
	if _, err := store.MakePrimary(ctx, "tp-1"); !errors.Is(err, ErrRecipeUserIDAlreadyLinked) {
		t.Fatalf("MakePrimary(linked) err = %v, want ErrRecipeUserIDAlreadyLinked", err)
	}
	if _, err := store.MakePrimary(ctx, "pl-1"); err != nil {
		t.Fatalf("MakePrimary(pl-1): %v", err)
	}
	if _, err := store.LinkAccounts(ctx, "tp-1", "pl-1"); !errors.Is(err, ErrRecipeUserIDAlreadyLinked) {
		t.Fatalf("LinkAccounts(cross-primary) err = %v, want ErrRecipeUserIDAlreadyLinked", err)
	}

	// linking under a non-primary target fails
	if err := store.CreateLoginMethod(ctx, LoginMethod{
		RecipeID: RecipeEmailPassword, RecipeUserID: "ep-2", Email: "b@example.com", TimeJoined: 400,
	}); err != nil {
		t.Fatalf("CreateLoginMethod(ep-2): %v", err)
	}
	if _, err := store.LinkAccounts(ctx, "ep-2", "missing"); !errors.Is(err, ErrLoginMethodNotFound) {
		t.Fatalf("LinkAccounts(missing target) err = %v, want ErrLoginMethodNotFound", err)
	}

	// absorbing a primary re-parents all of its members atomically
	user, err = store.LinkAccounts(ctx, "pl-1", "ep-1")
	if err != nil {
		t.Fatalf("LinkAccounts(absorb primary): %v", err)
	}
	if user.ID != "ep-1" || len(user.LoginMethods) != 3 {
		t.Fatalf("absorbed user = %+v", user)
	}
	user, err = store.GetUser(ctx, "pl-1")
	if err != nil {
		t.Fatalf("GetUser(pl-1): %v", err)
	}
	if user.ID != "ep-1" {
		t.Fatalf("GetUser(pl-1).ID = %q after absorb, want ep-1", user.ID)
	}

	// lookup by identifying attributes de-duplicates by user id
	users, err := store.ListByAccountInfo(ctx, AccountInfo{Email: "a@example.com"})
	if err != nil {
		t.Fatalf("ListByAccountInfo(email): %v", err)
	}
	if len(users) != 1 || users[0].ID != "ep-1" {
		t.Fatalf("ListByAccountInfo(email) = %+v", users)
	}
	users, err = store.ListByAccountInfo(ctx, AccountInfo{PhoneNumber: "+15551234567"})
	if err != nil {
		t.Fatalf("ListByAccountInfo(phone): %v", err)
	}
	if len(users) != 1 || users[0].ID != "ep-1" {
		t.Fatalf("ListByAccountInfo(phone) = %+v", users)
	}
	users, err = store.ListByAccountInfo(ctx, AccountInfo{ThirdPartyID: "google", ThirdPartyUserID: "g-1"})
	if err != nil {
		t.Fatalf("ListByAccountInfo(third party): %v", err)
	}
	if len(users) != 1 || users[0].ID != "ep-1" {
		t.Fatalf("ListByAccountInfo(third party) = %+v", users)
	}
	users, err = store.ListByAccountInfo(ctx, AccountInfo{Email: "nobody@example.com"})
	if err != nil {
		t.Fatalf("ListByAccountInfo(no match): %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("ListByAccountInfo(no match) = %+v", users)
	}

	// verification is per login method
	if err := store.SetVerified(ctx, "ep-1", true); err != nil {
		t.Fatalf("SetVerified: %v", err)
	}
	user, _ = store.GetUser(ctx, "ep-1")
	if !user.IsEmailVerified("a@example.com") {
		t.Fatal("IsEmailVerified = false after SetVerified")
	}
	if err := store.SetVerified(ctx, "missing", true); !errors.Is(err, ErrLoginMethodNotFound) {
		t.Fatalf("SetVerified(missing) err = %v, want ErrLoginMethodNotFound", err)
	}

	// email change colliding with a different primary's identity is refused
	if err := store.UpdateEmail(ctx, "ep-2", "a@example.com"); !errors.Is(err, ErrEmailChangeNotAllowed) {
		t.Fatalf("UpdateEmail(conflict) err = %v, want ErrEmailChangeNotAllowed", err)
	}

	// a clean change succeeds and resets verification
	if err := store.SetVerified(ctx, "ep-2", true); err != nil {
		t.Fatalf("SetVerified(ep-2): %v", err)
	}
	if err := store.UpdateEmail(ctx, "ep-2", "c@example.com"); err != nil {
		t.Fatalf("UpdateEmail: %v", err)
	}
	lm, err := store.GetLoginMethod(ctx, "ep-2")
	if err != nil {
		t.Fatalf("GetLoginMethod(ep-2): %v", err)
	}
	if lm.Email != "c@example.com" || lm.Verified {
		t.Fatalf("after UpdateEmail: %+v", lm)
	}
	users, err = store.ListByAccountInfo(ctx, AccountInfo{Email: "c@example.com"})
	if err != nil {
		t.Fatalf("ListByAccountInfo(new email): %v", err)
	}
	if len(users) != 1 || users[0].ID != "ep-2" {
		t.Fatalf("ListByAccountInfo(new email) = %+v", users)
	}
}
