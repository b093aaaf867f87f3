package exchange

import (
	"strings"
	"testing"

	"spotmm/internal/config"
)

func testAuth() *Auth {
	return NewAuth(config.APIConfig{Key: "test-key", Secret: "test-secret"})
}

func TestHeadersIncludesApiKeyAndSignature(t *testing.T) {
	t.Parallel()
	a := testAuth()

	headers := a.Headers("POST", "/orders", `{"side":"BUY"}`)

	if headers["API-KEY"] != "test-key" {
		t.Errorf("API-KEY = %q, want test-key", headers["API-KEY"])
	}
	if headers["API-SIGNATURE"] == "" {
		t.Error("expected a non-empty signature")
	}
	if headers["API-TIMESTAMP"] == "" {
		t.Error("expected a non-empty timestamp")
	}
}

func TestHeadersSignatureChangesWithBody(t *testing.T) {
	t.Parallel()
	a := testAuth()

	h1 := a.Headers("POST", "/orders", `{"side":"BUY"}`)
	h2 := a.Headers("POST", "/orders", `{"side":"SELL"}`)

	if h1["API-SIGNATURE"] == h2["API-SIGNATURE"] {
		t.Error("expected different bodies to produce different signatures")
	}
}

func TestWSLoginPayloadSignsVerifyPath(t *testing.T) {
	t.Parallel()
	a := testAuth()

	apiKey, timestamp, sig := a.WSLoginPayload()

	if apiKey != "test-key" {
		t.Errorf("apiKey = %q, want test-key", apiKey)
	}
	if timestamp == "" || sig == "" {
		t.Error("expected non-empty timestamp and signature")
	}
	if len(sig) != 64 || strings.ContainsAny(sig, "ghijklmnopqrstuvwxyz") {
		t.Errorf("expected a 64-char hex signature, got %q", sig)
	}
}

func TestHasCredentialsRequiresBothKeyAndSecret(t *testing.T) {
	t.Parallel()

	if NewAuth(config.APIConfig{Key: "k"}).HasCredentials() {
		t.Error("expected HasCredentials to be false without a secret")
	}
	if !testAuth().HasCredentials() {
		t.Error("expected HasCredentials to be true with both key and secret")
	}
}
