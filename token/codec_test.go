package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
)

func testKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return pub, priv
}

func samplePayload() AccessPayload {
	return AccessPayload{
		SessionHandle:           "handle-1",
		UserID:                  "user-1",
		RecipeUserID:            "recipe-user-1",
		RefreshTokenHash1:       Hash1("refresh-token"),
		ParentRefreshTokenHash1: Hash1("parent-refresh-token"),
		AntiCSRFToken:           "anti-csrf",
		ExpiryTime:              1_900_000_000,
		TimeCreated:             1_800_000_000,
		Claims: map[string]any{
			"st-ev": map[string]any{"v": true, "t": float64(1_800_000_000)},
		},
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	pub, priv := testKeypair(t)
	in := samplePayload()

	tokenString, err := Encode(in, priv, "kid-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := Parse(tokenString)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Header.KID != "kid-1" {
		t.Errorf("kid = %q, want kid-1", parsed.Header.KID)
	}
	if !VerifySignature(parsed, pub) {
		t.Fatal("VerifySignature = false for matching key")
	}

	got := parsed.Payload
	if got.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", got.Version, CurrentVersion)
	}
	if got.SessionHandle != in.SessionHandle ||
		got.UserID != in.UserID ||
		got.RecipeUserID != in.RecipeUserID ||
		got.RefreshTokenHash1 != in.RefreshTokenHash1 ||
		got.ParentRefreshTokenHash1 != in.ParentRefreshTokenHash1 ||
		got.AntiCSRFToken != in.AntiCSRFToken ||
		got.ExpiryTime != in.ExpiryTime ||
		got.TimeCreated != in.TimeCreated {
		t.Errorf("payload mismatch: got %+v, want %+v", got, in)
	}

	fragment, ok := got.Claims["st-ev"].(map[string]any)
	if !ok {
		t.Fatalf("claim st-ev missing or wrong shape: %#v", got.Claims)
	}
	if v, _ := fragment["v"].(bool); !v {
		t.Errorf("claim value = %#v, want true", fragment["v"])
	}
}

func TestVerifySignatureRejectsOtherKey(t *testing.T) {
	_, priv := testKeypair(t)
	otherPub, _ := testKeypair(t)

	tokenString, err := Encode(samplePayload(), priv, "kid-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := Parse(tokenString)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if VerifySignature(parsed, otherPub) {
		t.Fatal("VerifySignature = true for wrong key")
	}
	if VerifySignature(parsed, nil) {
		t.Fatal("VerifySignature = true for nil key")
	}
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	pub, priv := testKeypair(t)

	tokenString, err := Encode(samplePayload(), priv, "kid-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	other := samplePayload()
	other.UserID = "someone-else"
	otherString, err := Encode(other, priv, "kid-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parts := strings.Split(tokenString, ".")
	otherParts := strings.Split(otherString, ".")
	tampered := otherParts[0] + "." + otherParts[1] + "." + parts[2]

	parsed, err := Parse(tampered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if VerifySignature(parsed, pub) {
		t.Fatal("VerifySignature = true for tampered payload")
	}
}

func TestEncodeDeterministic(t *testing.T) {
	_, priv := testKeypair(t)
	in := samplePayload()

	first, err := Encode(in, priv, "kid-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := Encode(in, priv, "kid-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if first != second {
		t.Fatalf("Encode not deterministic:\n%s\n%s", first, second)
	}
}

func TestEncodeValidatesInput(t *testing.T) {
	_, priv := testKeypair(t)

	noHandle := samplePayload()
	noHandle.SessionHandle = ""
	if _, err := Encode(noHandle, priv, "kid-1"); err == nil {
		t.Error("Encode accepted empty session handle")
	}

	if _, err := Encode(samplePayload(), ed25519.PrivateKey("short"), "kid-1"); err == nil {
		t.Error("Encode accepted truncated private key")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"two segments", "aaaa.bbbb"},
		{"four segments", "a.b.c.d"},
		{"header not base64url", "!!!.e30.e30"},
		{"header not json", "bm90LWpzb24.e30.e30"},
		{"payload not base64url", "e30.!!!.e30"},
		{"payload not json", "e30.bm90LWpzb24.e30"},
		{"signature not base64url", "e30.e30.!!!"},
		{"empty payload object", "e30.e30.e30"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.input); err == nil {
				t.Fatalf("Parse(%q) accepted garbage", tc.input)
			}
		})
	}
}

func TestParseRejectsOlderVersions(t *testing.T) {
	_, priv := testKeypair(t)
	tokenString, err := Encode(samplePayload(), priv, "kid-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// sanity: the current version parses
	if _, err := Parse(tokenString); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	fields := map[string]any{
		"ver":           CurrentVersion - 1,
		"sessionHandle": "h",
		"sub":           "u",
		"rt1":           "hash",
		"exp":           1_900_000_000,
		"iat":           1_800_000_000,
	}
	if _, err := payloadFromFields(toAnyMap(fields)); err == nil {
		t.Fatal("payloadFromFields accepted an older version")
	}
}

func toAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if n, ok := v.(int); ok {
			out[k] = float64(n)
			continue
		}
		out[k] = v
	}
	return out
}

func TestRecipeUserIDDefaultsToSubject(t *testing.T) {
	fields := map[string]any{
		"ver":           float64(CurrentVersion),
		"sessionHandle": "h",
		"sub":           "user-1",
		"rt1":           "hash",
		"exp":           float64(1_900_000_000),
		"iat":           float64(1_800_000_000),
	}
	p, err := payloadFromFields(fields)
	if err != nil {
		t.Fatalf("payloadFromFields: %v", err)
	}
	if p.RecipeUserID != "user-1" {
		t.Errorf("RecipeUserID = %q, want subject fallback user-1", p.RecipeUserID)
	}
}

func TestHash1(t *testing.T) {
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Hash1("abc"); got != want {
		t.Fatalf("Hash1(abc) = %s, want %s", got, want)
	}
	if Hash1("abc") == Hash1("abd") {
		t.Fatal("Hash1 collides on adjacent inputs")
	}
}

func FuzzParse(f *testing.F) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatalf("keygen: %v", err)
	}
	valid, err := Encode(samplePayload(), priv, "kid-1")
	if err != nil {
		f.Fatalf("Encode: %v", err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("a.b.c")
	f.Add("e30.e30.e30")
	f.Add(strings.Repeat(".", 10))

	f.Fuzz(func(t *testing.T, input string) {
		parsed, err := Parse(input)
		if err != nil {
			return
		}
		// any accepted token must satisfy the payload invariants
		if parsed.Payload.SessionHandle == "" || parsed.Payload.UserID == "" {
			t.Fatalf("Parse accepted a payload without handle/subject: %+v", parsed.Payload)
		}
		if parsed.Payload.Version < CurrentVersion {
			t.Fatalf("Parse accepted version %d", parsed.Payload.Version)
		}
	})
}
