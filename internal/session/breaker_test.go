package session

import (
	"testing"
	"time"
)

func TestSendBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	b := newSendBreaker(3, time.Second)
	b.now = func() time.Time { return now }

	for i := range 2 {
		if b.failure() {
			t.Fatalf("opened after %d failures, want 3", i+1)
		}
		if !b.allow() {
			t.Fatal("closed breaker refused a send")
		}
	}
	if !b.failure() {
		t.Fatal("did not open after 3 failures")
	}
	if b.allow() {
		t.Fatal("open breaker allowed a send during cooldown")
	}

	now = now.Add(time.Second)
	if !b.allow() {
		t.Fatal("no probe allowed after cooldown")
	}
	if b.failure() {
		t.Error("failed probe reported a fresh open")
	}
	if b.allow() {
		t.Fatal("failed probe did not restart the cooldown")
	}

	now = now.Add(time.Second)
	if !b.allow() || !b.success() {
		t.Fatal("successful probe did not close the breaker")
	}
	if b.success() {
		t.Error("success on a closed breaker reported a close")
	}
}

func TestSendBreaker_SuccessResetsFailures(t *testing.T) {
	b := newSendBreaker(2, time.Second)
	b.failure()
	b.success()
	if b.failure() {
		t.Error("opened although the failures were not consecutive")
	}
}
