package internaldefs

import (
	sessionkit "github.com/sessionkit/sessionkit"
)

type CounterDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: sessionkit.MetricKeyCacheHit, Name: "sessionkit_key_cache_hit_total", Help: "Signing-key lookups served from cache."},
	{ID: sessionkit.MetricKeyCacheMiss, Name: "sessionkit_key_cache_miss_total", Help: "Signing-key lookups that triggered a fetch."},
	{ID: sessionkit.MetricKeyFetchFallover, Name: "sessionkit_key_fetch_fallover_total", Help: "Signing-key fetches that fell over to a replica host."},
	{ID: sessionkit.MetricVerifyLocal, Name: "sessionkit_verify_local_total", Help: "Verifications completed on the local path."},
	{ID: sessionkit.MetricVerifyRemote, Name: "sessionkit_verify_remote_total", Help: "Verifications delegated to the core."},
	{ID: sessionkit.MetricVerifySuccess, Name: "sessionkit_verify_success_total", Help: "Successful session verifications."},
	{ID: sessionkit.MetricVerifyFailure, Name: "sessionkit_verify_failure_total", Help: "Failed session verifications."},
	{ID: sessionkit.MetricVerifyExpired, Name: "sessionkit_verify_expired_total", Help: "Verifications rejected for an expired access token."},
	{ID: sessionkit.MetricAntiCSRFFailure, Name: "sessionkit_anti_csrf_failure_total", Help: "Verifications rejected by the anti-CSRF check."},
	{ID: sessionkit.MetricClaimValidationFailure, Name: "sessionkit_claim_validation_failure_total", Help: "Verifications rejected by a claim validator."},
	{ID: sessionkit.MetricSessionCreated, Name: "sessionkit_session_created_total", Help: "Created sessions."},
	{ID: sessionkit.MetricSessionRevoked, Name: "sessionkit_session_revoked_total", Help: "Revoked sessions."},
	{ID: sessionkit.MetricRefreshSuccess, Name: "sessionkit_refresh_success_total", Help: "Successful refresh operations."},
	{ID: sessionkit.MetricRefreshFailure, Name: "sessionkit_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: sessionkit.MetricTheftDetected, Name: "sessionkit_theft_detected_total", Help: "Refresh token reuse detections."},
	{ID: sessionkit.MetricAccountLinked, Name: "sessionkit_account_linked_total", Help: "Accounts linked by the auto-linking flow."},
	{ID: sessionkit.MetricAccountLinkDeferred, Name: "sessionkit_account_link_deferred_total", Help: "Linkings deferred pending verification."},
	{ID: sessionkit.MetricAccountLinkRejected, Name: "sessionkit_account_link_rejected_total", Help: "Linkings rejected by policy or store conflict."},
}

var HistogramDefs = []HistogramDef{
	{ID: sessionkit.MetricVerifyLatency, Name: "sessionkit_verify_latency_seconds", Help: "Session verification latency histogram."},
	{ID: sessionkit.MetricRefreshLatency, Name: "sessionkit_refresh_latency_seconds", Help: "Session refresh latency histogram."},
}

var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// eight-bucket layout exporters render.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus histograms use.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
