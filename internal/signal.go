package internal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext returns a copy of parent that is cancelled on SIGINT or SIGTERM.
// Batch commands run under it so an interrupted run stops between actions
// and every journaled entry still reaches Committed or RolledBack.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
