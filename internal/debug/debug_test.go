package debug

import "testing"

func TestLogfNoopWhenDisabled(t *testing.T) {
	enabled = false
	// Only verifying this doesn't panic; stderr output isn't captured here.
	Logf("should not print %s", "anything")
	if Enabled() {
		t.Fatal("expected disabled")
	}
}

func TestEnabledReflectsFlag(t *testing.T) {
	enabled = true
	defer func() { enabled = false }()
	if !Enabled() {
		t.Fatal("expected enabled")
	}
}
