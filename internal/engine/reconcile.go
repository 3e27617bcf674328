package engine

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/friendflow/internal/automation"
	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/taskstore"
)

// reconciler writes contacts found by passive discovery back to the task
// store.
//
// A contact is matched by identifier first, then by nickname, preferring a
// record that already sent a request. A match is moved to bound when the
// transition graph allows it. Without a match a bound record is created,
// unless the identifier is unknown: a nickname alone is too weak to create
// a record from.
type reconciler struct {
	e      *Engine
	logger *logging.Logger
}

var _ automation.ContactSink = reconciler{}

func (r reconciler) Reconcile(ctx context.Context, p automation.ContactProfile) error {
	store := r.e.store
	fields := store.Fields()
	logger := r.logger.With("wechat_id", p.WechatID, "nickname", p.Nickname)

	if p.WechatID != "" {
		recs, err := store.Find(ctx, fields.ContactKey, p.WechatID)
		if err != nil {
			return fmt.Errorf("find by identifier: %w", err)
		}
		if len(recs) > 0 {
			return r.bind(ctx, logger, recs[0], p)
		}
	}

	if p.Nickname != "" && fields.Nickname != "" {
		recs, err := store.Find(ctx, fields.Nickname, p.Nickname)
		if err != nil {
			return fmt.Errorf("find by nickname: %w", err)
		}
		if rec, ok := preferApplied(recs); ok {
			return r.bind(ctx, logger, rec, p)
		}
	}

	if p.WechatID == "" {
		logger.Warn("no identifier and no nickname match, contact not recorded")
		return nil
	}

	values := map[string]any{fields.Status: store.Labels().Label(taskstore.StatusBound)}
	if p.Nickname != "" && fields.Nickname != "" {
		values[fields.Nickname] = p.Nickname
	}
	if p.Remark != "" && fields.Remark != "" {
		values[fields.Remark] = p.Remark
	}
	id, created, err := store.Upsert(ctx, fields.ContactKey, p.WechatID, values)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	logger.Info("contact recorded", "record_id", id, "created", created)
	r.e.bus.Publish(event.NewContactReconciledEvent(p.WechatID, p.Nickname, id, created))
	return nil
}

// bind moves rec towards bound.
func (r reconciler) bind(ctx context.Context, logger *logging.Logger, rec taskstore.Record, p automation.ContactProfile) error {
	logger = logger.With("record_id", rec.ID)
	switch {
	case rec.Status == taskstore.StatusBound:
		logger.Debug("record already bound")
	case len(taskstore.Path(rec.Status, taskstore.StatusBound)) == 0:
		logger.Warn("matched record cannot move to bound", "status", rec.Status.String(), "raw_status", rec.RawStatus)
		return nil
	default:
		fields := r.e.store.Fields()
		extra := map[string]any{}
		if fields.Nickname != "" && rec.Nickname == "" && p.Nickname != "" {
			extra[fields.Nickname] = p.Nickname
		}
		if fields.Remark != "" && p.Remark != "" {
			extra[fields.Remark] = p.Remark
		}
		if !r.e.transition(ctx, logger, rec, taskstore.StatusBound, extra, "contact discovered") {
			return fmt.Errorf("bind record %s", rec.ID)
		}
	}
	r.e.bus.Publish(event.NewContactReconciledEvent(p.WechatID, p.Nickname, rec.ID, false))
	return nil
}

// preferApplied picks the record that already sent a request, else the
// first.
func preferApplied(recs []taskstore.Record) (taskstore.Record, bool) {
	if len(recs) == 0 {
		return taskstore.Record{}, false
	}
	for _, rec := range recs {
		if rec.Status == taskstore.StatusApplied {
			return rec, true
		}
	}
	return recs[0], true
}
