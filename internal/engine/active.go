package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Iron-Ham/friendflow/internal/automation"
	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/journal"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/taskstore"
)

// activeLoop processes pending records every active interval until Stop.
func (e *Engine) activeLoop(ctx context.Context) {
	defer e.wg.Done()
	logger := e.log().WithLoop("active")
	stop := e.stopCh

	e.attach(ctx, logger)
	defer e.detach(ctx, logger)

	for {
		if e.paused.Load() {
			if !e.wait(stop, e.pausePoll) {
				return
			}
			continue
		}

		e.guard(logger, "active cycle", func() { e.activeCycle(ctx, logger) })

		if !e.wait(stop, e.ActiveInterval()) {
			return
		}
	}
}

// activeCycle handles every record currently waiting to be added. A store
// failure skips the cycle.
func (e *Engine) activeCycle(ctx context.Context, logger *logging.Logger) {
	records, err := e.store.QueryByStatus(ctx, taskstore.StatusPendingAdd)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("could not query pending records, skipping cycle", "error", err)
		}
		return
	}
	if len(records) > 0 {
		logger.Info("pending records", "count", len(records))
	}

	for _, rec := range records {
		if ctx.Err() != nil || e.paused.Load() {
			return
		}
		e.guard(logger, "record "+rec.ID, func() { e.processRecord(ctx, logger, rec) })
	}
}

// processRecord runs one record through search, classification and the
// resulting status write. The UI lock is held for the whole record.
func (e *Engine) processRecord(ctx context.Context, logger *logging.Logger, rec taskstore.Record) {
	key := strings.TrimSpace(rec.ContactKey)
	logger = logger.With("record_id", rec.ID, "contact_key", key)
	if key == "" {
		logger.Warn("record has no contact key, skipping")
		return
	}

	s, err := e.lock.Acquire(ctx, "active:"+rec.ID)
	if err != nil {
		return
	}
	defer s.Release()

	p, err := e.driver.OpenProfile(ctx, s, key)
	if err != nil {
		logger.Warn("search failed", "error", err)
		e.unresolved(ctx, logger, rec, "search error")
		return
	}
	defer e.driver.CloseProfile(ctx, s, p)

	switch p.Status {
	case automation.ProfileNotFound:
		logger.Warn("client reports the user does not exist")
		if e.transition(ctx, logger, rec, taskstore.StatusNotFound, nil, "user not found") {
			e.failed.Add(1)
			e.publishCounters()
		}
		return
	case automation.ProfileUnresolved:
		logger.Warn("no profile opened and no not-found hint, will retry")
		e.unresolved(ctx, logger, rec, "profile unresolved")
		return
	}

	rel, err := e.driver.Classify(ctx, s, p)
	if err != nil {
		logger.Warn("relationship detection failed", "error", err)
		e.unresolved(ctx, logger, rec, "classify error")
		return
	}
	logger.Info("relationship detected", "relationship", rel.String())

	switch rel {
	case automation.Friend:
		plan := e.welcome.Load()
		if plan.enabled && len(plan.steps) > 0 {
			ok := e.driver.DeliverWelcome(ctx, s, automation.Delivery{Target: key, Profile: &p, Steps: plan.steps})
			if !ok {
				logger.Warn("welcome delivery failed, keeping status")
				e.failed.Add(1)
				e.publishCounters()
				e.unresolved(ctx, logger, rec, "welcome failed")
				return
			}
			e.welcomed.Add(1)
		}
		if e.transition(ctx, logger, rec, taskstore.StatusBound, nil, "already friends") {
			e.applied.Add(1)
		}
		e.publishCounters()

	case automation.Stranger:
		nickname := e.driver.DisplayName(ctx, s, p)
		outcome, err := e.driver.Apply(ctx, s, p)
		if err != nil {
			logger.Warn("friend request failed", "error", err)
			e.unresolved(ctx, logger, rec, "apply error")
			return
		}
		switch outcome {
		case automation.ApplySent:
			var extra map[string]any
			if nickname != "" {
				extra = map[string]any{e.store.Fields().Nickname: nickname}
			}
			logger.Info("friend request sent", "nickname", nickname)
			if e.transition(ctx, logger, rec, taskstore.StatusApplied, extra, "request sent") {
				e.applied.Add(1)
			}
		case automation.ApplyRejected:
			logger.Warn("friend request rejected")
			if e.transition(ctx, logger, rec, taskstore.StatusFailed, nil, "request rejected") {
				e.failed.Add(1)
			}
		default:
			logger.Warn("friend request not confirmed, will retry")
			e.failed.Add(1)
			e.unresolved(ctx, logger, rec, "apply unconfirmed")
		}
		e.publishCounters()

	case automation.Missing:
		found, err := e.driver.HasNotFoundSignal(ctx, s)
		if err == nil && found {
			logger.Warn("no contact affordance and a not-found hint is shown")
			if e.transition(ctx, logger, rec, taskstore.StatusNotFound, nil, "user not found") {
				e.failed.Add(1)
				e.publishCounters()
			}
			return
		}
		logger.Warn("no contact affordance but no not-found hint, will retry")
		e.unresolved(ctx, logger, rec, "not found without hint")

	default:
		logger.Warn("relationship unknown, will retry")
		e.unresolved(ctx, logger, rec, "relationship unknown")
	}
}

// transition writes rec's new status and records every hop in the journal.
// It reports whether the write succeeded.
func (e *Engine) transition(ctx context.Context, logger *logging.Logger, rec taskstore.Record, to taskstore.BindingStatus, extra map[string]any, reason string) bool {
	hops, err := e.store.UpdateStatus(ctx, rec, to, extra)
	if err != nil {
		if errors.Is(err, taskstore.ErrIllegalTransition) {
			logger.Warn("refusing status write", "from", rec.Status.String(), "to", to.String(), "error", err)
		} else {
			logger.Error("status write failed", "from", rec.Status.String(), "to", to.String(), "error", err)
		}
		return false
	}

	runID := e.RunID()
	from := rec.Status
	for _, hop := range hops {
		t := journal.Transition{
			RunID:      runID,
			RecordID:   rec.ID,
			ContactKey: rec.ContactKey,
			From:       from.String(),
			To:         hop.String(),
			Reason:     reason,
		}
		if err := e.journal.RecordTransition(ctx, t); err != nil {
			logger.Warn("journal write failed", "error", err)
		}
		from = hop
	}
	if err := e.journal.ResetAttempts(ctx, rec.ID); err != nil {
		logger.Debug("journal reset failed", "error", err)
	}

	logger.Info("status updated", "from", rec.Status.String(), "to", to.String(), "reason", reason)
	e.bus.Publish(event.NewStatusChangedEvent(rec.ID, rec.ContactKey, rec.Status.String(), to.String(), reason))
	return true
}

// unresolved counts an inconclusive attempt. With a configured bound the
// record is failed once the bound is reached; otherwise it stays pending.
func (e *Engine) unresolved(ctx context.Context, logger *logging.Logger, rec taskstore.Record, outcome string) {
	limit := e.cfg.Engine.MaxUnresolvedAttempts
	if ctx.Err() != nil {
		return
	}
	n, err := e.journal.IncrementAttempts(ctx, rec.ID, outcome)
	if err != nil {
		logger.Debug("journal attempt count failed", "error", err)
		return
	}
	if limit <= 0 || n < limit {
		return
	}
	reason := fmt.Sprintf("gave up after %d unresolved attempts (%s)", n, outcome)
	if e.transition(ctx, logger, rec, taskstore.StatusFailed, nil, reason) {
		e.failed.Add(1)
		e.publishCounters()
	}
}
