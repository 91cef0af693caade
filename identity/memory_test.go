package identity

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryStoreConformance(t *testing.T) {
	storeConformance(t, NewMemoryStore())
}

func TestMemoryStoreConcurrentCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	errs := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.CreateLoginMethod(ctx, LoginMethod{
				RecipeID:     RecipeEmailPassword,
				RecipeUserID: "ep-1",
				Email:        "a@example.com",
			})
		}()
	}
	wg.Wait()
	close(errs)

	var created int
	for err := range errs {
		if err == nil {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("concurrent CreateLoginMethod succeeded %d times, want 1", created)
	}
}

func TestMemoryStoreUsersOrderedByJoinTime(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, lm := range []LoginMethod{
		{RecipeID: RecipePasswordless, RecipeUserID: "late", PhoneNumber: "+15550000000", TimeJoined: 300},
		{RecipeID: RecipePasswordless, RecipeUserID: "early", PhoneNumber: "+15550000000", TimeJoined: 100},
	} {
		if err := store.CreateLoginMethod(ctx, lm); err != nil {
			t.Fatalf("CreateLoginMethod: %v", err)
		}
	}

	users, err := store.ListByAccountInfo(ctx, AccountInfo{PhoneNumber: "+15550000000"})
	if err != nil {
		t.Fatalf("ListByAccountInfo: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("ListByAccountInfo = %d users, want 2", len(users))
	}
	if users[0].ID != "early" || users[1].ID != "late" {
		t.Fatalf("users not ordered by earliest join: %q, %q", users[0].ID, users[1].ID)
	}
}
