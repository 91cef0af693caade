package identity

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the in-process Store driver. Safe for concurrent use;
// suited to tests and single-process deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*record)}
}

// CreateLoginMethod implements Store.
func (s *MemoryStore) CreateLoginMethod(_ context.Context, lm LoginMethod) error {
	if lm.RecipeUserID == "" {
		return ErrLoginMethodNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[lm.RecipeUserID]; ok {
		return ErrLoginMethodExists
	}
	s.records[lm.RecipeUserID] = &record{LoginMethod: lm}
	return nil
}

// GetLoginMethod implements Store.
func (s *MemoryStore) GetLoginMethod(_ context.Context, recipeUserID string) (LoginMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[recipeUserID]
	if !ok {
		return LoginMethod{}, ErrLoginMethodNotFound
	}
	return rec.LoginMethod, nil
}

// GetUser implements Store.
func (s *MemoryStore) GetUser(_ context.Context, recipeUserID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked(recipeUserID)
}

func (s *MemoryStore) userLocked(recipeUserID string) (User, error) {
	rec, ok := s.records[recipeUserID]
	if !ok {
		return User{}, ErrLoginMethodNotFound
	}
	if rec.PrimaryUserID == "" {
		return User{ID: rec.RecipeUserID, LoginMethods: []LoginMethod{rec.LoginMethod}}, nil
	}

	user := User{ID: rec.PrimaryUserID, IsPrimary: true}
	for _, r := range s.records {
		if r.PrimaryUserID == rec.PrimaryUserID {
			user.LoginMethods = append(user.LoginMethods, r.LoginMethod)
		}
	}
	sortLoginMethods(user.LoginMethods)
	return user, nil
}

// ListByAccountInfo implements Store.
func (s *MemoryStore) ListByAccountInfo(_ context.Context, info AccountInfo) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var users []User
	for ruid, rec := range s.records {
		if !matchesAccountInfo(rec.LoginMethod, info) {
			continue
		}
		user, err := s.userLocked(ruid)
		if err != nil {
			return nil, err
		}
		if seen[user.ID] {
			continue
		}
		seen[user.ID] = true
		users = append(users, user)
	}
	sortUsers(users)
	return users, nil
}

// MakePrimary implements Store.
func (s *MemoryStore) MakePrimary(_ context.Context, recipeUserID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recipeUserID]
	if !ok {
		return User{}, ErrLoginMethodNotFound
	}
	switch rec.PrimaryUserID {
	case "":
		rec.PrimaryUserID = recipeUserID
	case recipeUserID:
		// already primary, idempotent
	default:
		return User{}, ErrRecipeUserIDAlreadyLinked
	}
	return s.userLocked(recipeUserID)
}

// LinkAccounts implements Store.
func (s *MemoryStore) LinkAccounts(_ context.Context, recipeUserID, primaryUserID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.records[primaryUserID]
	if !ok {
		return User{}, ErrLoginMethodNotFound
	}
	if target.PrimaryUserID != primaryUserID {
		return User{}, ErrNotPrimary
	}

	rec, ok := s.records[recipeUserID]
	if !ok {
		return User{}, ErrLoginMethodNotFound
	}

	switch rec.PrimaryUserID {
	case primaryUserID:
		// already linked here, idempotent
	case "":
		rec.PrimaryUserID = primaryUserID
	case recipeUserID:
		// absorbing a primary: re-parent every member; only one primary survives
		for _, r := range s.records {
			if r.PrimaryUserID == recipeUserID {
				r.PrimaryUserID = primaryUserID
			}
		}
	default:
		return User{}, ErrRecipeUserIDAlreadyLinked
	}

	return s.userLocked(primaryUserID)
}

// SetVerified implements Store.
func (s *MemoryStore) SetVerified(_ context.Context, recipeUserID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recipeUserID]
	if !ok {
		return ErrLoginMethodNotFound
	}
	rec.Verified = verified
	return nil
}

// UpdateEmail implements Store.
func (s *MemoryStore) UpdateEmail(_ context.Context, recipeUserID, newEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recipeUserID]
	if !ok {
		return ErrLoginMethodNotFound
	}

	for _, other := range s.records {
		if other.Email != newEmail || other.RecipeUserID == recipeUserID {
			continue
		}
		if other.PrimaryUserID != "" && other.PrimaryUserID != rec.PrimaryUserID {
			return ErrEmailChangeNotAllowed
		}
	}

	if rec.Email != newEmail {
		rec.Email = newEmail
		rec.Verified = false
	}
	return nil
}

func matchesAccountInfo(lm LoginMethod, info AccountInfo) bool {
	if info.Email != "" && lm.Email == info.Email {
		return true
	}
	if info.PhoneNumber != "" && lm.PhoneNumber == info.PhoneNumber {
		return true
	}
	if info.ThirdPartyID != "" && info.ThirdPartyUserID != "" &&
		lm.ThirdPartyID == info.ThirdPartyID && lm.ThirdPartyUserID == info.ThirdPartyUserID {
		return true
	}
	return false
}

func sortLoginMethods(methods []LoginMethod) {
	sort.Slice(methods, func(i, j int) bool {
		if methods[i].TimeJoined != methods[j].TimeJoined {
			return methods[i].TimeJoined < methods[j].TimeJoined
		}
		return methods[i].RecipeUserID < methods[j].RecipeUserID
	})
}

func sortUsers(users []User) {
	sort.Slice(users, func(i, j int) bool {
		ti, tj := earliestJoin(users[i]), earliestJoin(users[j])
		if ti != tj {
			return ti < tj
		}
		return users[i].ID < users[j].ID
	})
}

func earliestJoin(u User) int64 {
	var min int64
	for i, lm := range u.LoginMethods {
		if i == 0 || lm.TimeJoined < min {
			min = lm.TimeJoined
		}
	}
	return min
}
