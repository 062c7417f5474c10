package registry

import (
	"strings"
	"testing"
)

func TestNewSecret(t *testing.T) {
	a, err := newSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := newSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a == b {
		t.Error("two generated secrets must differ")
	}
	// 32 bytes encode to 43 characters without padding.
	if len(a) != 43 {
		t.Errorf("secret length = %d, want 43", len(a))
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("secret %q is not URL-safe", a)
	}
}

func TestSecretsMatch(t *testing.T) {
	secret, err := newSecret()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hash := hashSecret(secret)

	if !secretsMatch(secret, hash) {
		t.Error("secret must match its own digest")
	}
	if secretsMatch(secret+"x", hash) {
		t.Error("tampered secret must not match")
	}
	if secretsMatch("", hash) {
		t.Error("empty secret must not match")
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	a := hashSecret("token")
	b := hashSecret("token")
	if string(a) != string(b) {
		t.Error("digest must be deterministic")
	}
	if len(a) != 32 {
		t.Errorf("digest length = %d, want 32", len(a))
	}
}
