package sessionkit

import (
	"encoding/base64"
	"testing"
)

func TestFrontTokenRoundTrip(t *testing.T) {
	payload := map[string]any{"st-role": map[string]any{"v": "admin", "t": float64(1_800_000_000)}}
	frontToken := BuildFrontToken("user-1", 1_900_000_000, payload)
	if frontToken == "" {
		t.Fatal("BuildFrontToken returned empty")
	}

	userID, expiry, up, err := ParseFrontToken(frontToken)
	if err != nil {
		t.Fatalf("ParseFrontToken: %v", err)
	}
	if userID != "user-1" || expiry != 1_900_000_000 {
		t.Fatalf("parsed = %q, %d", userID, expiry)
	}
	fragment, ok := up["st-role"].(map[string]any)
	if !ok || fragment["v"] != "admin" {
		t.Fatalf("up = %#v", up)
	}
}

func TestFrontTokenNilPayload(t *testing.T) {
	frontToken := BuildFrontToken("user-1", 100, nil)

	_, _, up, err := ParseFrontToken(frontToken)
	if err != nil {
		t.Fatalf("ParseFrontToken: %v", err)
	}
	if up == nil || len(up) != 0 {
		t.Fatalf("up = %#v, want empty map", up)
	}
}

func TestParseFrontTokenRejectsGarbage(t *testing.T) {
	if _, _, _, err := ParseFrontToken("!!!not-base64!!!"); err == nil {
		t.Fatal("ParseFrontToken accepted invalid base64")
	}
	notJSON := base64.StdEncoding.EncodeToString([]byte("not json"))
	if _, _, _, err := ParseFrontToken(notJSON); err == nil {
		t.Fatal("ParseFrontToken accepted non-JSON body")
	}
}
