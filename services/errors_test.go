package services

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("missing album")
	if !IsPermanent(Permanent(base)) {
		t.Fatal("Permanent error not detected")
	}
	if IsPermanent(base) {
		t.Fatal("plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must be nil")
	}
	wrapped := fmt.Errorf("report failed: %w", Permanent(base))
	if !IsPermanent(wrapped) {
		t.Fatal("permanence must survive wrapping")
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	base := 5 * time.Second
	for attempt, want := range map[int]time.Duration{
		1: 5 * time.Second,
		2: 10 * time.Second,
		3: 20 * time.Second,
		0: 5 * time.Second,
	} {
		if got := backoffDelay(base, attempt); got != want {
			t.Fatalf("backoffDelay(attempt=%d) = %s, want %s", attempt, got, want)
		}
	}
}
