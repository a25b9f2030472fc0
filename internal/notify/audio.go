package notify

import (
	"context"
	"os/exec"
	"runtime"
)

// AudioNotifier plays a short platform-native sound cue on terminal
// states (blocked/failed/verified), the "platform audio cues" leg of
// spec §9. It shells out the same way the teacher invokes external git
// plumbing — there is no cross-platform audio-cue library in the
// reference corpus.
type AudioNotifier struct {
	// OnlyStates restricts playback to these ToState values; empty
	// means play on every event.
	OnlyStates map[string]bool
}

func (a *AudioNotifier) Notify(ctx context.Context, event Event) error {
	if len(a.OnlyStates) > 0 && !a.OnlyStates[event.ToState] {
		return nil
	}
	name, args := soundCommand()
	if name == "" {
		return nil
	}
	return exec.CommandContext(ctx, name, args...).Run() //nolint:gosec // G204: fixed platform command, no user input
}

func soundCommand() (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "afplay", []string{"/System/Library/Sounds/Glass.aiff"}
	case "linux":
		return "paplay", []string{"/usr/share/sounds/freedesktop/stereo/complete.oga"}
	default:
		return "", nil
	}
}
