package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/Iron-Ham/friendflow/internal/logging"
)

// guard runs fn and turns a panic into an error log so the loop survives.
func (e *Engine) guard(logger *logging.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered from panic",
				"in", what,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// attach acquires the driver's platform scope for the calling loop.
func (e *Engine) attach(ctx context.Context, logger *logging.Logger) {
	if err := e.driver.Attach(ctx); err != nil {
		logger.Warn("could not attach to automation surface", "error", err)
	}
}

// detach releases the scope acquired by attach. It runs after Stop has
// cancelled ctx, so the cancellation is dropped.
func (e *Engine) detach(ctx context.Context, logger *logging.Logger) {
	if err := e.driver.Detach(context.WithoutCancel(ctx)); err != nil {
		logger.Debug("detach from automation surface failed", "error", err)
	}
}
