package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/uilock"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

// EntryKind classifies a new-contacts entry.
type EntryKind int

const (
	EntryOther EntryKind = iota
	// EntryVerified is a request of ours that the contact accepted.
	EntryVerified
	// EntryPending is an incoming request awaiting our verification.
	EntryPending
)

func (k EntryKind) String() string {
	switch k {
	case EntryVerified:
		return "verified"
	case EntryPending:
		return "pending"
	default:
		return "other"
	}
}

// Entry is one row of the new-contacts list.
type Entry struct {
	Control  Control
	Kind     EntryKind
	Nickname string
}

// ContactProfile is what passive discovery learns about a contact.
type ContactProfile struct {
	// WechatID is empty when the identifier never became readable.
	WechatID string
	Nickname string
	// Remark is the note shown on the detail pane, "" when there is none.
	Remark string
}

// ContactSink writes discovered contacts back to the task store.
type ContactSink interface {
	Reconcile(ctx context.Context, p ContactProfile) error
}

// Ledger remembers new-contact entries already handled so an entry whose
// removal failed is not welcomed twice.
type Ledger interface {
	Welcomed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string, welcomed bool) error
}

// WelcomePlan is the welcome configuration captured at scan time.
type WelcomePlan struct {
	Enabled bool
	Steps   []welcome.Step
}

func (w WelcomePlan) active() bool { return w.Enabled && len(w.Steps) > 0 }

// ScanReport summarises one passive scan.
type ScanReport struct {
	Verified  int
	Pending   int
	Ignored   int
	Processed int
	Welcomed  int
	Failed    int
}

// ClassifyEntry splits an entry name into its kind and cleaned nickname.
func (d *Driver) ClassifyEntry(c Control) Entry {
	v := d.opts.Vocabulary
	e := Entry{Control: c, Nickname: c.Name}
	if m, ok := hasMarker(c.Name, v.VerifiedMarkers); ok {
		e.Kind, e.Nickname = EntryVerified, strings.Replace(c.Name, m, "", 1)
	} else if m, ok := hasMarker(c.Name, v.PendingMarkers); ok {
		e.Kind, e.Nickname = EntryPending, strings.Replace(c.Name, m, "", 1)
	}
	e.Nickname = CleanNickname(e.Nickname, v.SelfMarker)
	return e
}

func hasMarker(name string, markers []string) (string, bool) {
	for _, m := range markers {
		if m != "" && strings.Contains(name, m) {
			return m, true
		}
	}
	return "", false
}

func (d *Driver) ignored(nickname string) bool {
	for _, g := range d.ignore {
		if g.Match(nickname) {
			return true
		}
	}
	return false
}

// ScanNewContacts processes the new-contacts list: every Verified entry
// first, then every Pending one. Each entry is correlated through sink,
// welcomed when plan is active and removed from the list. A failing entry
// is counted and skipped. The chat list is restored before returning.
func (d *Driver) ScanNewContacts(ctx context.Context, s *uilock.Session, sink ContactSink, plan WelcomePlan) (ScanReport, error) {
	s.Check()
	var report ScanReport

	if err := d.EnsureRunning(ctx, s); err != nil {
		return report, err
	}
	defer d.restoreDefaultView(ctx)

	entries, err := d.listNewContacts(ctx)
	if err != nil || len(entries) == 0 {
		return report, err
	}

	var verified, pending []Entry
	for _, c := range entries {
		e := d.ClassifyEntry(c)
		if e.Kind == EntryOther {
			continue
		}
		if d.ignored(e.Nickname) {
			report.Ignored++
			d.logger.Debug("ignoring new contact", "nickname", e.Nickname)
			continue
		}
		if e.Kind == EntryVerified {
			verified = append(verified, e)
		} else {
			pending = append(pending, e)
		}
	}
	report.Verified, report.Pending = len(verified), len(pending)
	if len(verified)+len(pending) == 0 {
		return report, nil
	}
	d.logger.Info("processing new contacts", "verified", len(verified), "pending", len(pending))

	queue := make([]Entry, 0, len(verified)+len(pending))
	queue = append(append(queue, verified...), pending...)
	for i, e := range queue {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		logger := d.logger.With("nickname", e.Nickname, "kind", e.Kind.String(), "index", i+1, "total", len(queue))
		welcomed, err := d.processEntry(ctx, s, logger, e, sink, plan)
		if err != nil {
			report.Failed++
			logger.Warn("new contact not processed", "error", err)
		} else {
			report.Processed++
			if welcomed {
				report.Welcomed++
			}
		}

		if i < len(queue)-1 {
			d.restoreDefaultView(ctx)
			if _, err := d.listNewContacts(ctx); err != nil {
				return report, err
			}
		}
	}

	d.logger.Info("new contacts scan finished",
		"processed", report.Processed, "welcomed", report.Welcomed, "failed", report.Failed)
	return report, nil
}

// listNewContacts opens contacts → new contacts and returns the entries.
// The new-contacts item is absent when there are no requests.
func (d *Driver) listNewContacts(ctx context.Context) ([]Control, error) {
	tab, err := d.waitLocate(ctx, Query{Role: RoleContactsTab}, d.opts.ButtonTimeout)
	if err != nil {
		return nil, err
	}
	clicked, err := d.clickFirst(ctx, tab)
	if err != nil {
		return nil, err
	}
	if !clicked {
		return nil, errors.New("contacts tab not found")
	}
	if err := d.pause(ctx); err != nil {
		return nil, err
	}

	item, err := d.surface.Locate(ctx, Query{Role: RoleNewContacts})
	if err != nil {
		return nil, err
	}
	clicked, err = d.clickFirst(ctx, item)
	if err != nil || !clicked {
		return nil, err
	}
	if err := d.pause(ctx); err != nil {
		return nil, err
	}
	return d.surface.LocateAll(ctx, Query{Role: RoleNewContactItem})
}

func (d *Driver) processEntry(ctx context.Context, s *uilock.Session, logger *logging.Logger, e Entry, sink ContactSink, plan WelcomePlan) (bool, error) {
	key := NormalizeName(e.Nickname)
	alreadyWelcomed := false
	if d.ledger != nil && key != "" {
		w, err := d.ledger.Welcomed(ctx, key)
		if err != nil {
			logger.Warn("ledger lookup failed", "error", err)
		}
		alreadyWelcomed = w
	}

	entry, err := d.findEntry(ctx, e.Nickname)
	if err != nil {
		return false, err
	}
	if err := d.surface.Click(ctx, entry); err != nil {
		return false, fmt.Errorf("open detail: %w", err)
	}
	if err := d.pause(ctx); err != nil {
		return false, err
	}

	if e.Kind == EntryPending {
		if err := d.verify(ctx, logger); err != nil {
			return false, err
		}
	}

	profile := ContactProfile{Nickname: e.Nickname, WechatID: d.readIdentifier(ctx)}
	if profile.WechatID == "" {
		logger.Warn("contact identifier not readable")
	}
	profile.Remark = d.readRemark(ctx)
	if sink != nil {
		if err := sink.Reconcile(ctx, profile); err != nil {
			logger.Warn("task store reconcile failed", "wechat_id", profile.WechatID, "error", err)
		}
	}

	btn, err := d.waitLocate(ctx, Query{Role: RoleMessageButton}, d.opts.ButtonTimeout)
	if err != nil {
		return false, err
	}
	clicked, err := d.clickFirst(ctx, btn)
	if err != nil {
		return false, err
	}
	if !clicked {
		return false, errors.New("message button not found")
	}
	if err := d.pause(ctx); err != nil {
		return false, err
	}

	welcomed := false
	switch {
	case alreadyWelcomed:
		logger.Info("welcome already sent, skipping")
	case plan.active():
		welcomed = d.DeliverWelcome(ctx, s, Delivery{Target: e.Nickname, Steps: plan.Steps})
	}

	if d.ledger != nil && key != "" {
		if err := d.ledger.MarkProcessed(ctx, key, welcomed || alreadyWelcomed); err != nil {
			logger.Warn("ledger update failed", "error", err)
		}
	}

	d.restoreDefaultView(ctx)
	if _, err := d.listNewContacts(ctx); err != nil {
		return welcomed, err
	}
	if err := d.removeEntry(ctx, e.Nickname); err != nil {
		logger.Warn("entry not removed", "error", err)
	}
	return welcomed, nil
}

// findEntry locates the list entry whose name matches nickname.
func (d *Driver) findEntry(ctx context.Context, nickname string) (Control, error) {
	all, err := d.surface.LocateAll(ctx, Query{Role: RoleNewContactItem})
	if err != nil {
		return Control{}, err
	}
	for _, c := range all {
		if NamesMatch(d.ClassifyEntry(c).Nickname, nickname) {
			return c, nil
		}
	}
	return Control{}, fmt.Errorf("entry %q not in list", nickname)
}

// verify accepts an incoming request. The follow-up confirmation dialog is
// optional.
func (d *Driver) verify(ctx context.Context, logger *logging.Logger) error {
	btn, err := d.waitLocate(ctx, Query{Role: RoleVerifyButton}, d.opts.ButtonTimeout)
	if err != nil {
		return err
	}
	clicked, err := d.clickFirst(ctx, btn)
	if err != nil {
		return err
	}
	if !clicked {
		return errors.New("verify button not found")
	}
	if err := d.pause(ctx); err != nil {
		return err
	}

	err = WaitFor(ctx, d.opts.ConfirmTimeout, d.opts.Poll, d.confirmDialog)
	if errors.Is(err, ErrWaitTimeout) {
		logger.Debug("no verification dialog, assuming accepted")
		return nil
	}
	return err
}

// readIdentifier polls the detail pane for the contact identifier.
func (d *Driver) readIdentifier(ctx context.Context) string {
	var id string
	_ = WaitFor(ctx, d.opts.IdentifierTimeout, d.opts.Poll, func(ctx context.Context) (bool, error) {
		l, err := d.surface.Locate(ctx, Query{Role: RoleContactID})
		if err != nil {
			return false, err
		}
		c, ok := l.First()
		if !ok {
			return false, nil
		}
		id = ExtractIdentifier(c.Name)
		return id != "", nil
	})
	return id
}

// readRemark reads the remark shown in the detail pane, if any. It does not
// wait: the pane is loaded once the identifier was polled for.
func (d *Driver) readRemark(ctx context.Context) string {
	l, err := d.surface.Locate(ctx, Query{Role: RoleContactRemark})
	if err != nil {
		return ""
	}
	c, ok := l.First()
	if !ok {
		return ""
	}
	return ExtractRemark(c.Name)
}

// removeEntry deletes the entry through its context menu.
func (d *Driver) removeEntry(ctx context.Context, nickname string) error {
	entry, err := d.findEntry(ctx, nickname)
	if err != nil {
		return err
	}
	if err := d.surface.RightClick(ctx, entry); err != nil {
		return err
	}
	item, err := d.waitLocate(ctx, Query{Role: RoleDeleteMenuItem}, d.opts.ButtonTimeout)
	if err != nil {
		return err
	}
	clicked, err := d.clickFirst(ctx, item)
	if err != nil {
		return err
	}
	if !clicked {
		_ = d.surface.SendKeys(ctx, KeyEscape)
		return errors.New("delete menu item not found")
	}
	return d.pause(ctx)
}

// restoreDefaultView returns to the chat list. Failures are logged.
func (d *Driver) restoreDefaultView(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	tab, err := d.surface.Locate(ctx, Query{Role: RoleChatsTab})
	if err == nil {
		var clicked bool
		if clicked, err = d.clickFirst(ctx, tab); err == nil && clicked {
			return
		}
	}
	if err != nil {
		d.logger.Debug("restoring chat list failed", "error", err)
	}
	_ = d.surface.SendKeys(ctx, KeyEscape)
}
