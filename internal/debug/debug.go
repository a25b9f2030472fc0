// Package debug provides a conditional stderr logger gated by
// AIDEVOPS_DEBUG, mirroring the teacher's own internal/debug idiom used
// throughout its cmd/bd package (the teacher's package itself was not
// present in the retrieval pack, so this is reconstructed from its
// call sites, e.g. internal/config/config.go's debug.Logf calls).
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("AIDEVOPS_DEBUG") != ""

// Enabled reports whether debug logging is switched on.
func Enabled() bool {
	return enabled
}

// Logf writes a formatted debug line to stderr when AIDEVOPS_DEBUG is
// set. It is a no-op otherwise.
func Logf(format string, args ...any) {
	if !enabled {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}
