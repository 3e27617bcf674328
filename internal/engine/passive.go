package engine

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/Iron-Ham/friendflow/internal/automation"
	"github.com/Iron-Ham/friendflow/internal/logging"
)

// passiveLoop scans the new-contacts list every passive interval ± jitter.
func (e *Engine) passiveLoop(ctx context.Context) {
	defer e.wg.Done()
	logger := e.log().WithLoop("passive")
	stop := e.stopCh

	e.attach(ctx, logger)
	defer e.detach(ctx, logger)

	scans := 0
	for {
		if e.paused.Load() {
			if !e.wait(stop, e.pausePoll) {
				return
			}
			continue
		}

		scans++
		logger.Info("scanning new contacts", "scan", scans, "interval", e.PassiveInterval().String())
		wait := e.passiveFloor
		e.guard(logger, "passive scan", func() {
			e.passiveCycle(ctx, logger)
			wait = e.nextPassiveWait()
		})
		logger.Debug("next scan scheduled", "wait", wait.String())
		if !e.waitObservingPause(stop, wait) {
			return
		}
	}
}

// nextPassiveWait is the interval randomized by ± jitter, never below the
// floor.
func (e *Engine) nextPassiveWait() time.Duration {
	wait := e.PassiveInterval()
	if j := min(e.Jitter(), MaxInterval); j > 0 {
		wait += time.Duration(rand.Int64N(2*int64(j)+1)) - j
	}
	return max(wait, e.passiveFloor)
}

// waitObservingPause sleeps for d in pause-poll steps so a pause cuts the
// wait short. It reports false when stopped.
func (e *Engine) waitObservingPause(stop <-chan struct{}, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || e.paused.Load() {
			return true
		}
		if !e.wait(stop, min(remaining, e.pausePoll)) {
			return false
		}
	}
}

func (e *Engine) passiveCycle(ctx context.Context, logger *logging.Logger) {
	s, err := e.lock.Acquire(ctx, "passive-scan")
	if err != nil {
		return
	}
	defer s.Release()

	state := e.welcome.Load()
	plan := automation.WelcomePlan{Enabled: state.enabled, Steps: state.steps}
	report, err := e.driver.ScanNewContacts(ctx, s, reconciler{e: e, logger: logger}, plan)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("new contacts scan failed", "error", err)
		}
		return
	}

	if report.Welcomed > 0 || report.Failed > 0 {
		e.welcomed.Add(int64(report.Welcomed))
		e.failed.Add(int64(report.Failed))
		e.publishCounters()
	}
	if report.Processed > 0 {
		logger.Info("new contacts processed",
			"processed", report.Processed,
			"verified", report.Verified,
			"pending", report.Pending,
			"welcomed", report.Welcomed,
			"failed", report.Failed,
			"ignored", report.Ignored,
		)
	}
}
