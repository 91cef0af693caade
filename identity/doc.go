// Package identity stores the user and login-method records the account
// linking engine decides over.
//
// The store is an arena keyed by stable recipe user id. A record holds one
// login method plus a pointer to its primary user; "linking" is a single
// transactional re-parenting of those pointers, never object-graph surgery.
// A User value is assembled on read from every record sharing a primary.
//
// Two drivers ship: an in-process map store and a Redis store whose merge
// runs as one Lua script so it is all-or-nothing under concurrency.
package identity
