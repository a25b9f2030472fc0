// Package notify is the best-effort status-change relay (spec §9:
// "status changes produce notifications: mail + optional chat +
// platform audio cues"). The mail/chat relay's actual wire protocol is
// explicitly out of scope (spec §1) — this package specifies the
// abstract Notifier capability the pulse engine programs against, the
// same way internal/forge specifies Forge for the git host.
package notify

import (
	"context"
	"fmt"
)

// Notifier is the relay the pulse engine sends notifications through.
// The pulse calls it once per cycle with one summary Event (counts in
// Detail, no TaskID or states); it does not send one Event per state
// transition. All implementations must be best-effort: a notification failure is
// logged and swallowed, never propagated as a pulse error (spec §9's
// "no exception ever propagates... best-effort writes are always
// non-fatal" applies to notifications explicitly).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Event describes one status-change notification.
type Event struct {
	TaskID    string
	FromState string
	ToState   string
	Detail    string
}

func (e Event) subject() string {
	return fmt.Sprintf("[aidevops] %s: %s -> %s", e.TaskID, e.FromState, e.ToState)
}

// Multi fans a single event out to every configured backend, running
// each independently so one backend's failure doesn't suppress another.
type Multi struct {
	Backends []Notifier
}

// Notify calls every backend and returns the first error encountered,
// after attempting all of them; callers are expected to log and
// discard this error per the best-effort contract above.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var firstErr error
	for _, b := range m.Backends {
		if b == nil {
			continue
		}
		if err := b.Notify(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
