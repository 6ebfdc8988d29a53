package log

import "testing"

func TestSharedLoggerSingleton(t *testing.T) {
	first := Shared()
	second := Shared()

	if first != second {
		t.Fatalf("expected singleton logger instance")
	}

	if err := Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	if _, err := build("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := build("debug"); err != nil {
		t.Fatalf("unexpected error for debug level: %v", err)
	}
}

func TestNopSatisfiesLogger(t *testing.T) {
	var l Logger = Nop()
	l.Infow("discarded", "key", "value")
}
