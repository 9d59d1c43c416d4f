// Package logging wires the compiler core's pass tracing to
// github.com/tliron/commonlog, the logging library server/lsp.go uses for
// the Maggie LSP server.
package logging

import (
	"fmt"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

// nextID hands out small correlation numbers for successive log messages,
// mirroring the message-ID argument server/lsp.go passes to
// commonlog.NewInfoMessage (there it's always 0 since only one message is
// ever logged; here passes log more than once per compilation, so each
// gets a fresh ID).
var nextID int

// Infof logs a single informational line at pipeline boundaries —
// entering/leaving compile(), a pass starting — the same way
// server/lsp.go logs server startup with a single
// commonlog.NewInfoMessage call. Compile errors are never logged here:
// they are returned values (package cerror), not log lines.
func Infof(format string, args ...any) {
	nextID++
	commonlog.NewInfoMessage(nextID, fmt.Sprintf(format, args...))
}

// Tracef logs an optimization decision (inlining, embedding, dropping a
// dead binding) at the same informational level; the core has no separate
// debug channel to ground on, so pass tracing and pipeline-boundary
// logging share one call.
func Tracef(format string, args ...any) {
	Infof(format, args...)
}
