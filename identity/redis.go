package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	linkStatusOK            = "OK"
	linkStatusNotPrimary    = "NOT_PRIMARY"
	linkStatusAlreadyLinked = "ALREADY_LINKED"
)

// makePrimaryScript promotes a record to root its own primary user.
// KEYS[1] = primary pointer, KEYS[2] = member set. ARGV[1] = recipe user id.
const makePrimaryScript = `
local pr = redis.call("GET", KEYS[1])
if pr == ARGV[1] then
  return "OK"
end
if pr then
  return "ALREADY_LINKED"
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SADD", KEYS[2], ARGV[1])
return "OK"
`

// linkAccountsScript re-parents one account (and, when it roots its own
// primary, all of its members) under the target primary in a single atomic
// step. KEYS[1] = target primary pointer, KEYS[2] = source primary pointer,
// KEYS[3] = target member set, KEYS[4] = source member set.
// ARGV[1] = source recipe user id, ARGV[2] = target primary user id,
// ARGV[3] = key prefix.
const linkAccountsScript = `
local target = redis.call("GET", KEYS[1])
if target ~= ARGV[2] then
  return "NOT_PRIMARY"
end
local pr = redis.call("GET", KEYS[2])
if pr == ARGV[2] then
  return "OK"
end
if pr == ARGV[1] then
  local members = redis.call("SMEMBERS", KEYS[4])
  for _, m in ipairs(members) do
    redis.call("SET", ARGV[3] .. ":pr:" .. m, ARGV[2])
    redis.call("SADD", KEYS[3], m)
  end
  redis.call("DEL", KEYS[4])
  return "OK"
end
if pr then
  return "ALREADY_LINKED"
end
redis.call("SET", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[1])
return "OK"
`

var (
	makePrimaryLua  = redis.NewScript(makePrimaryScript)
	linkAccountsLua = redis.NewScript(linkAccountsScript)
)

// RedisStore is the Redis-backed Store driver. Records are versioned binary
// blobs; the primary pointer lives in its own key so a merge touches only
// pointers and member sets and runs as one Lua script.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing Redis client. All keys are placed under
// the given prefix so several tenants can share one database.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "skid"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) recordKey(ruid string) string  { return s.prefix + ":lm:" + ruid }
func (s *RedisStore) primaryKey(ruid string) string { return s.prefix + ":pr:" + ruid }
func (s *RedisStore) memberKey(pid string) string   { return s.prefix + ":mem:" + pid }
func (s *RedisStore) emailKey(email string) string  { return s.prefix + ":ix:email:" + email }
func (s *RedisStore) phoneKey(phone string) string  { return s.prefix + ":ix:phone:" + phone }
func (s *RedisStore) thirdPartyKey(id, uid string) string {
	return s.prefix + ":ix:tp:" + id + ":" + uid
}

func (s *RedisStore) wrap(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// CreateLoginMethod implements Store.
func (s *RedisStore) CreateLoginMethod(ctx context.Context, lm LoginMethod) error {
	if lm.RecipeUserID == "" {
		return ErrLoginMethodNotFound
	}
	encoded, err := encodeRecord(&record{LoginMethod: lm})
	if err != nil {
		return err
	}

	created, err := s.redis.SetNX(ctx, s.recordKey(lm.RecipeUserID), encoded, 0).Result()
	if err != nil {
		return s.wrap(err)
	}
	if !created {
		return ErrLoginMethodExists
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range s.indexKeys(lm) {
			pipe.SAdd(ctx, key, lm.RecipeUserID)
		}
		return nil
	})
	if err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *RedisStore) indexKeys(lm LoginMethod) []string {
	var keys []string
	if lm.Email != "" {
		keys = append(keys, s.emailKey(lm.Email))
	}
	if lm.PhoneNumber != "" {
		keys = append(keys, s.phoneKey(lm.PhoneNumber))
	}
	if lm.ThirdPartyID != "" && lm.ThirdPartyUserID != "" {
		keys = append(keys, s.thirdPartyKey(lm.ThirdPartyID, lm.ThirdPartyUserID))
	}
	return keys
}

func (s *RedisStore) loadRecord(ctx context.Context, ruid string) (*record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(ruid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrLoginMethodNotFound
	}
	if err != nil {
		return nil, s.wrap(err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}

	primary, err := s.redis.Get(ctx, s.primaryKey(ruid)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, s.wrap(err)
	}
	rec.PrimaryUserID = primary
	return rec, nil
}

// GetLoginMethod implements Store.
func (s *RedisStore) GetLoginMethod(ctx context.Context, recipeUserID string) (LoginMethod, error) {
	rec, err := s.loadRecord(ctx, recipeUserID)
	if err != nil {
		return LoginMethod{}, err
	}
	return rec.LoginMethod, nil
}

// GetUser implements Store.
func (s *RedisStore) GetUser(ctx context.Context, recipeUserID string) (User, error) {
	rec, err := s.loadRecord(ctx, recipeUserID)
	if err != nil {
		return User{}, err
	}
	if rec.PrimaryUserID == "" {
		return User{ID: rec.RecipeUserID, LoginMethods: []LoginMethod{rec.LoginMethod}}, nil
	}

	members, err := s.redis.SMembers(ctx, s.memberKey(rec.PrimaryUserID)).Result()
	if err != nil {
		return User{}, s.wrap(err)
	}
	user := User{ID: rec.PrimaryUserID, IsPrimary: true}
	for _, member := range members {
		mrec, err := s.loadRecord(ctx, member)
		if err != nil {
			return User{}, err
		}
		user.LoginMethods = append(user.LoginMethods, mrec.LoginMethod)
	}
	sortLoginMethods(user.LoginMethods)
	return user, nil
}

// ListByAccountInfo implements Store.
func (s *RedisStore) ListByAccountInfo(ctx context.Context, info AccountInfo) ([]User, error) {
	var indexKeys []string
	if info.Email != "" {
		indexKeys = append(indexKeys, s.emailKey(info.Email))
	}
	if info.PhoneNumber != "" {
		indexKeys = append(indexKeys, s.phoneKey(info.PhoneNumber))
	}
	if info.ThirdPartyID != "" && info.ThirdPartyUserID != "" {
		indexKeys = append(indexKeys, s.thirdPartyKey(info.ThirdPartyID, info.ThirdPartyUserID))
	}

	seenRUID := map[string]bool{}
	seenUser := map[string]bool{}
	var users []User
	for _, key := range indexKeys {
		members, err := s.redis.SMembers(ctx, key).Result()
		if err != nil {
			return nil, s.wrap(err)
		}
		for _, ruid := range members {
			if seenRUID[ruid] {
				continue
			}
			seenRUID[ruid] = true
			user, err := s.GetUser(ctx, ruid)
			if errors.Is(err, ErrLoginMethodNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if seenUser[user.ID] {
				continue
			}
			seenUser[user.ID] = true
			users = append(users, user)
		}
	}
	sortUsers(users)
	return users, nil
}

// MakePrimary implements Store.
func (s *RedisStore) MakePrimary(ctx context.Context, recipeUserID string) (User, error) {
	if _, err := s.loadRecord(ctx, recipeUserID); err != nil {
		return User{}, err
	}

	status, err := makePrimaryLua.Run(ctx, s.redis,
		[]string{s.primaryKey(recipeUserID), s.memberKey(recipeUserID)},
		recipeUserID,
	).Text()
	if err != nil {
		return User{}, s.wrap(err)
	}
	if status == linkStatusAlreadyLinked {
		return User{}, ErrRecipeUserIDAlreadyLinked
	}
	return s.GetUser(ctx, recipeUserID)
}

// LinkAccounts implements Store.
func (s *RedisStore) LinkAccounts(ctx context.Context, recipeUserID, primaryUserID string) (User, error) {
	if _, err := s.loadRecord(ctx, recipeUserID); err != nil {
		return User{}, err
	}
	if _, err := s.loadRecord(ctx, primaryUserID); err != nil {
		return User{}, err
	}

	status, err := linkAccountsLua.Run(ctx, s.redis,
		[]string{
			s.primaryKey(primaryUserID),
			s.primaryKey(recipeUserID),
			s.memberKey(primaryUserID),
			s.memberKey(recipeUserID),
		},
		recipeUserID, primaryUserID, s.prefix,
	).Text()
	if err != nil {
		return User{}, s.wrap(err)
	}
	switch status {
	case linkStatusNotPrimary:
		return User{}, ErrNotPrimary
	case linkStatusAlreadyLinked:
		return User{}, ErrRecipeUserIDAlreadyLinked
	}
	return s.GetUser(ctx, primaryUserID)
}

// SetVerified implements Store.
func (s *RedisStore) SetVerified(ctx context.Context, recipeUserID string, verified bool) error {
	return s.rewriteRecord(ctx, recipeUserID, nil, func(rec *record) error {
		rec.Verified = verified
		return nil
	})
}

// UpdateEmail implements Store.
func (s *RedisStore) UpdateEmail(ctx context.Context, recipeUserID, newEmail string) error {
	myPrimary, err := s.redis.Get(ctx, s.primaryKey(recipeUserID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return s.wrap(err)
	}

	owners, err := s.redis.SMembers(ctx, s.emailKey(newEmail)).Result()
	if err != nil {
		return s.wrap(err)
	}
	for _, owner := range owners {
		if owner == recipeUserID {
			continue
		}
		ownerPrimary, err := s.redis.Get(ctx, s.primaryKey(owner)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return s.wrap(err)
		}
		if ownerPrimary != "" && ownerPrimary != myPrimary {
			return ErrEmailChangeNotAllowed
		}
	}

	return s.rewriteRecord(ctx, recipeUserID, func(pipe redis.Pipeliner, rec *record) {
		if rec.Email != "" {
			pipe.SRem(ctx, s.emailKey(rec.Email), recipeUserID)
		}
		pipe.SAdd(ctx, s.emailKey(newEmail), recipeUserID)
	}, func(rec *record) error {
		if rec.Email != newEmail {
			rec.Email = newEmail
			rec.Verified = false
		}
		return nil
	})
}

// rewriteRecord applies mutate to a record under an optimistic WATCH
// transaction, retrying a bounded number of times on contention.
func (s *RedisStore) rewriteRecord(
	ctx context.Context,
	recipeUserID string,
	extra func(pipe redis.Pipeliner, rec *record),
	mutate func(rec *record) error,
) error {
	const maxRetries = 4
	key := s.recordKey(recipeUserID)

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrLoginMethodNotFound
			}
			if err != nil {
				return s.wrap(err)
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if err := mutate(rec); err != nil {
				return err
			}
			encoded, err := encodeRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if extra != nil {
					extra(pipe, rec)
				}
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: record update contention", ErrStoreUnavailable)
}
