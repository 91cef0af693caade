package claims

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

// Fragment field names inside a claim's payload entry.
const (
	fragmentValueKey = "v"
	fragmentTimeKey  = "t"
)

// NeverExpires is the defaultMaxAge meaning age alone never fails
// validation. Per-call overrides still apply.
var NeverExpires = math.Inf(1)

// FetchValue loads the current value of a claim for a user. The second
// return reports presence: (zero, false, nil) means the claim has no value
// and must be omitted from the payload entirely.
type FetchValue[T comparable] func(ctx context.Context, userID string, userContext map[string]any) (T, bool, error)

// SessionClaim is the capability every claim variant implements.
type SessionClaim interface {
	Key() string
	Build(ctx context.Context, userID string, userContext map[string]any) (map[string]any, error)
	GetValueFromPayload(payload map[string]any) (any, bool)
}

type ValidationResult struct {
	IsValid bool
	Reason  map[string]any
}

// Validator checks one claim inside an access token payload. Validate and
// ShouldRefetch are independent: a claim can pass validation yet still want
// a refetch, and vice versa.
type Validator struct {
	ID            string
	ClaimKey      string
	ShouldRefetch func(payload map[string]any, userContext map[string]any) bool
	Validate      func(payload map[string]any, userContext map[string]any) ValidationResult
}

// PrimitiveClaim is a claim over a single comparable value. Configure it
// once and treat it as immutable; one claim instance is shared across all
// sessions that carry it.
type PrimitiveClaim[T comparable] struct {
	key           string
	fetchValue    FetchValue[T]
	defaultMaxAge float64 // seconds; NeverExpires allowed
	now           func() time.Time
}

// NewPrimitiveClaim builds a claim keyed under key in the token payload.
// defaultMaxAgeSeconds bounds validator staleness when a call site supplies
// no override; pass NeverExpires to disable the bound.
func NewPrimitiveClaim[T comparable](key string, fetch FetchValue[T], defaultMaxAgeSeconds float64) *PrimitiveClaim[T] {
	return &PrimitiveClaim[T]{
		key:           key,
		fetchValue:    fetch,
		defaultMaxAge: defaultMaxAgeSeconds,
		now:           time.Now,
	}
}

// WithClock returns a copy using now for fragment timestamps and staleness
// checks. Test seam.
func (c *PrimitiveClaim[T]) WithClock(now func() time.Time) *PrimitiveClaim[T] {
	clone := *c
	clone.now = now
	return &clone
}

// Key returns the payload key this claim writes.
func (c *PrimitiveClaim[T]) Key() string { return c.key }

// Build fetches the claim value and returns the payload fragment to merge.
// A fetch reporting absence yields an empty fragment: absent values are
// omitted, never written as nulls.
func (c *PrimitiveClaim[T]) Build(ctx context.Context, userID string, userContext map[string]any) (map[string]any, error) {
	value, present, err := c.fetchValue(ctx, userID, userContext)
	if err != nil {
		return nil, err
	}
	if !present {
		return map[string]any{}, nil
	}
	return c.AddToPayload(map[string]any{}, value), nil
}

// AddToPayload returns a new payload with this claim's fragment set to
// value at the current time. The input payload is not mutated.
func (c *PrimitiveClaim[T]) AddToPayload(payload map[string]any, value T) map[string]any {
	out := clonePayload(payload)
	out[c.key] = map[string]any{
		fragmentValueKey: value,
		fragmentTimeKey:  c.now().Unix(),
	}
	return out
}

// RemoveFromPayload returns a new payload without this claim's fragment.
func (c *PrimitiveClaim[T]) RemoveFromPayload(payload map[string]any) map[string]any {
	out := clonePayload(payload)
	delete(out, c.key)
	return out
}

// GetValueFromPayload is a pure read of the stored value. No fetch occurs.
func (c *PrimitiveClaim[T]) GetValueFromPayload(payload map[string]any) (any, bool) {
	fragment, ok := payload[c.key].(map[string]any)
	if !ok {
		return nil, false
	}
	value, ok := fragment[fragmentValueKey]
	return value, ok
}

// Value is the typed variant of GetValueFromPayload.
func (c *PrimitiveClaim[T]) Value(payload map[string]any) (T, bool) {
	var zero T
	raw, ok := c.GetValueFromPayload(payload)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// LastFetchTime reports when the stored value was fetched, in whole seconds.
func (c *PrimitiveClaim[T]) LastFetchTime(payload map[string]any) (int64, bool) {
	fragment, ok := payload[c.key].(map[string]any)
	if !ok {
		return 0, false
	}
	return fragmentTime(fragment)
}

// ShouldRefetch reports whether the stored value is absent or older than the
// effective max age. Independent of validation outcome: with an infinite
// default and a finite override, a payload can validate clean while still
// reporting that a refetch is due.
func (c *PrimitiveClaim[T]) ShouldRefetch(payload map[string]any, maxAgeOverrideSeconds ...float64) bool {
	fetchedAt, ok := c.LastFetchTime(payload)
	if !ok {
		return true
	}
	maxAge := c.effectiveMaxAge(maxAgeOverrideSeconds)
	if math.IsInf(maxAge, 1) {
		return false
	}
	age := float64(c.now().Unix() - fetchedAt)
	return age > maxAge
}

// HasValue builds a validator asserting the claim currently holds expected.
// Reasons distinguish a missing value, a mismatched value, and a matched
// but stale value.
func (c *PrimitiveClaim[T]) HasValue(expected T, maxAgeOverrideSeconds ...float64) Validator {
	maxAge := c.effectiveMaxAge(maxAgeOverrideSeconds)

	return Validator{
		ID:       c.key + "-has-value",
		ClaimKey: c.key,
		ShouldRefetch: func(payload map[string]any, _ map[string]any) bool {
			return c.ShouldRefetch(payload, maxAgeOverrideSeconds...)
		},
		Validate: func(payload map[string]any, _ map[string]any) ValidationResult {
			actual, ok := c.Value(payload)
			if !ok {
				return ValidationResult{
					IsValid: false,
					Reason: map[string]any{
						"message":       "value does not exist",
						"expectedValue": expected,
					},
				}
			}
			if actual != expected {
				return ValidationResult{
					IsValid: false,
					Reason: map[string]any{
						"message":       "wrong value",
						"expectedValue": expected,
						"actualValue":   actual,
					},
				}
			}
			if !math.IsInf(maxAge, 1) {
				fetchedAt, _ := c.LastFetchTime(payload)
				age := float64(c.now().Unix() - fetchedAt)
				if age > maxAge {
					return ValidationResult{
						IsValid: false,
						Reason: map[string]any{
							"message":         "expired",
							"ageInSeconds":    age,
							"maxAgeInSeconds": maxAge,
						},
					}
				}
			}
			return ValidationResult{IsValid: true}
		},
	}
}

func (c *PrimitiveClaim[T]) effectiveMaxAge(override []float64) float64 {
	if len(override) > 0 {
		return override[0]
	}
	return c.defaultMaxAge
}

// BooleanClaim is a PrimitiveClaim over bool configured with boolean
// validators. Composition, not specialization: it adds IsTrue/IsFalse and
// changes nothing else.
type BooleanClaim struct {
	*PrimitiveClaim[bool]
}

// NewBooleanClaim wraps a bool-valued primitive claim and adds the
// IsTrue/IsFalse validators.
func NewBooleanClaim(key string, fetch FetchValue[bool], defaultMaxAgeSeconds float64) *BooleanClaim {
	return &BooleanClaim{NewPrimitiveClaim(key, fetch, defaultMaxAgeSeconds)}
}

// WithClock returns a copy using now. Test seam.
func (b *BooleanClaim) WithClock(now func() time.Time) *BooleanClaim {
	return &BooleanClaim{b.PrimitiveClaim.WithClock(now)}
}

// IsTrue asserts the claim holds true.
func (b *BooleanClaim) IsTrue(maxAgeOverrideSeconds ...float64) Validator {
	v := b.HasValue(true, maxAgeOverrideSeconds...)
	v.ID = b.Key() + "-is-true"
	return v
}

// IsFalse asserts the claim holds false.
func (b *BooleanClaim) IsFalse(maxAgeOverrideSeconds ...float64) Validator {
	v := b.HasValue(false, maxAgeOverrideSeconds...)
	v.ID = b.Key() + "-is-false"
	return v
}

func clonePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	return out
}

// fragmentTime tolerates both in-memory int64 timestamps and float64
// timestamps read back from token JSON.
func fragmentTime(fragment map[string]any) (int64, bool) {
	switch t := fragment[fragmentTimeKey].(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
