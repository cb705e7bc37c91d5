package service

import (
	"strings"
	"testing"
)

func TestNewAccessCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := NewAccessCode()
		if len(code) != 8 {
			t.Fatalf("access code %q has length %d, want 8", code, len(code))
		}
		for _, c := range code {
			if !strings.ContainsRune(accessCodeAlphabet, c) {
				t.Fatalf("access code %q contains %q outside the alphabet", code, c)
			}
		}
		if seen[code] {
			t.Fatalf("access code %q repeated within 100 draws", code)
		}
		seen[code] = true
	}
}

func TestNewSessionToken(t *testing.T) {
	a, b := NewSessionToken(), NewSessionToken()
	if len(a) != 48 {
		t.Fatalf("session token length = %d, want 48", len(a))
	}
	if a == b {
		t.Fatal("two session tokens collided")
	}
}
