package auth

import (
	"testing"
	"time"

	"infinityworld.gg/internal/fault"
)

func TestTokens_RoundTrip(t *testing.T) {
	tk := New("test-secret", time.Hour, time.Hour)

	raw, err := tk.IssuePlayer(42)
	if err != nil {
		t.Fatalf("issue player: %v", err)
	}
	pid, err := tk.VerifyPlayer(raw)
	if err != nil {
		t.Fatalf("verify player: %v", err)
	}
	if pid != 42 {
		t.Fatalf("expected player 42, got %d", pid)
	}

	res, err := tk.IssueResume(42, "S7")
	if err != nil {
		t.Fatalf("issue resume: %v", err)
	}
	pid, sid, err := tk.VerifyResume(res)
	if err != nil {
		t.Fatalf("verify resume: %v", err)
	}
	if pid != 42 || sid != "S7" {
		t.Fatalf("expected (42, S7), got (%d, %s)", pid, sid)
	}
}

func TestTokens_TypeConfusionRejected(t *testing.T) {
	tk := New("test-secret", time.Hour, time.Hour)
	raw, err := tk.IssuePlayer(1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := tk.VerifyResume(raw); !fault.Is(err, fault.Unauthenticated) {
		t.Fatalf("player token must not resume sessions, got %v", err)
	}
}

func TestTokens_WrongSecretRejected(t *testing.T) {
	raw, err := New("secret-a", time.Hour, time.Hour).IssuePlayer(1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := New("secret-b", time.Hour, time.Hour).VerifyPlayer(raw); !fault.Is(err, fault.Unauthenticated) {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}
