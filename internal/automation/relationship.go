package automation

import (
	"context"
	"errors"
	"strings"

	"github.com/Iron-Ham/friendflow/internal/uilock"
)

// Relationship between the operator account and a searched contact.
type Relationship int

const (
	Unknown Relationship = iota
	Friend
	Stranger
	Missing
)

func (r Relationship) String() string {
	switch r {
	case Friend:
		return "friend"
	case Stranger:
		return "stranger"
	case Missing:
		return "not_found"
	default:
		return "unknown"
	}
}

// OpenStatus is the outcome of searching for a contact.
type OpenStatus int

const (
	// ProfileUnresolved means no profile and no not-found signal appeared.
	ProfileUnresolved OpenStatus = iota
	ProfileOpened
	// ProfileNotFound is the client's definitive "user not found" answer.
	ProfileNotFound
)

func (s OpenStatus) String() string {
	switch s {
	case ProfileOpened:
		return "opened"
	case ProfileNotFound:
		return "not_found"
	default:
		return "unresolved"
	}
}

// Profile is an opened contact card. Window is the profile card, or the
// main window when the card rendered inline.
type Profile struct {
	Status OpenStatus
	Key    string
	Window Control
}

// Opened reports whether the profile can be inspected.
func (p Profile) Opened() bool { return p.Status == ProfileOpened }

// ApplyOutcome is the result of sending a friend request.
type ApplyOutcome int

const (
	// ApplyUnconfirmed means the request could not be confirmed but was not
	// rejected either; the caller retries later.
	ApplyUnconfirmed ApplyOutcome = iota
	ApplySent
	// ApplyRejected is a definitive refusal shown by the client.
	ApplyRejected
)

func (o ApplyOutcome) String() string {
	switch o {
	case ApplySent:
		return "sent"
	case ApplyRejected:
		return "rejected"
	default:
		return "unconfirmed"
	}
}

// OpenProfile searches for key and waits for its profile card.
func (d *Driver) OpenProfile(ctx context.Context, s *uilock.Session, key string) (Profile, error) {
	s.Check()
	p := Profile{Key: key}
	key = strings.TrimSpace(key)
	if key == "" {
		return p, errors.New("automation: empty search key")
	}

	if err := d.EnsureRunning(ctx, s); err != nil {
		return p, err
	}
	if err := d.surface.SendKeys(ctx, KeySearch); err != nil {
		return p, err
	}
	if err := d.surface.SendKeys(ctx, KeySelectAll); err != nil {
		return p, err
	}
	if err := d.enterText(ctx, key); err != nil {
		return p, err
	}
	if err := d.pause(ctx); err != nil {
		return p, err
	}

	if hint, err := d.HasNotFoundSignal(ctx, s); err != nil || hint {
		if hint {
			p.Status = ProfileNotFound
		}
		return p, err
	}

	result, err := d.surface.Locate(ctx, Query{Role: RoleNetworkResult})
	if err != nil {
		return p, err
	}
	clicked, err := d.clickFirst(ctx, result)
	if err != nil {
		return p, err
	}
	if !clicked {
		if err := d.surface.SendKeys(ctx, KeyEnter); err != nil {
			return p, err
		}
	}

	err = WaitFor(ctx, d.opts.ProfileTimeout, d.opts.Poll, func(ctx context.Context) (bool, error) {
		card, err := d.surface.Locate(ctx, Query{Role: RoleProfileCard})
		if err != nil {
			return false, err
		}
		if c, ok := card.First(); ok {
			p.Status, p.Window = ProfileOpened, c
			return true, nil
		}
		hint, err := d.present(ctx, Query{Role: RoleNotFoundHint})
		if hint {
			p.Status = ProfileNotFound
		}
		return hint, err
	})
	if err == nil || !errors.Is(err, ErrWaitTimeout) {
		return p, err
	}

	// Some client versions render the card inside the main window.
	for _, role := range []Role{RoleMessageButton, RoleAddButton} {
		ok, err := d.present(ctx, Query{Role: role})
		if err != nil {
			return p, err
		}
		if ok {
			main, err := d.surface.Locate(ctx, Query{Role: RoleMainWindow})
			if err != nil {
				return p, err
			}
			p.Status, p.Window = ProfileOpened, main.Control
			return p, nil
		}
	}
	return p, nil
}

// HasNotFoundSignal reports whether the client currently shows a definitive
// "user not found" hint.
func (d *Driver) HasNotFoundSignal(ctx context.Context, s *uilock.Session) (bool, error) {
	s.Check()
	return d.present(ctx, Query{Role: RoleNotFoundHint})
}

// Classify waits for the profile to show a message or add affordance. A
// message affordance always wins. When neither appears in the profile nor
// anywhere in the client, the contact is Missing; otherwise Unknown.
func (d *Driver) Classify(ctx context.Context, s *uilock.Session, p Profile) (Relationship, error) {
	s.Check()
	if !p.Opened() {
		return Unknown, nil
	}

	rel := Unknown
	err := WaitFor(ctx, d.opts.RelationshipTimeout, d.opts.Poll, func(ctx context.Context) (bool, error) {
		var err error
		rel, err = d.affordances(ctx, p.Window.ID)
		return rel != Unknown, err
	})
	if err == nil {
		return rel, nil
	}
	if !errors.Is(err, ErrWaitTimeout) {
		return Unknown, err
	}

	global, err := d.affordances(ctx, "")
	if err != nil {
		return Unknown, err
	}
	if global == Unknown {
		return Missing, nil
	}
	return Unknown, nil
}

func (d *Driver) affordances(ctx context.Context, within string) (Relationship, error) {
	msg, err := d.present(ctx, Query{Role: RoleMessageButton, Within: within})
	if err != nil || msg {
		return Friend, err
	}
	add, err := d.present(ctx, Query{Role: RoleAddButton, Within: within})
	if err != nil || !add {
		return Unknown, err
	}
	return Stranger, nil
}

// DisplayName reads the nickname shown on the profile.
func (d *Driver) DisplayName(ctx context.Context, s *uilock.Session, p Profile) string {
	s.Check()
	if !p.Opened() {
		return ""
	}
	l, err := d.surface.Locate(ctx, Query{Role: RoleNickname, Within: p.Window.ID})
	if err != nil {
		d.logger.Debug("nickname lookup failed", "error", err)
		return ""
	}
	c, ok := l.First()
	if !ok {
		return ""
	}
	return CleanNickname(c.Name, d.opts.Vocabulary.SelfMarker)
}

// Apply sends a friend request from an opened stranger profile.
func (d *Driver) Apply(ctx context.Context, s *uilock.Session, p Profile) (ApplyOutcome, error) {
	s.Check()
	if !p.Opened() {
		return ApplyUnconfirmed, nil
	}

	add, err := d.waitLocate(ctx, Query{Role: RoleAddButton, Within: p.Window.ID}, d.opts.ButtonTimeout)
	if err != nil {
		return ApplyUnconfirmed, err
	}
	clicked, err := d.clickFirst(ctx, add)
	if err != nil || !clicked {
		return ApplyUnconfirmed, err
	}
	if err := d.pause(ctx); err != nil {
		return ApplyUnconfirmed, err
	}

	outcome := ApplyUnconfirmed
	err = WaitFor(ctx, d.opts.ConfirmTimeout, d.opts.Poll, func(ctx context.Context) (bool, error) {
		rejected, err := d.present(ctx, Query{Role: RoleRejectedHint})
		if err != nil {
			return false, err
		}
		if rejected {
			outcome = ApplyRejected
			return true, nil
		}
		confirmed, err := d.confirmDialog(ctx)
		if confirmed {
			outcome = ApplySent
		}
		return confirmed, err
	})
	switch {
	case err == nil:
		return outcome, nil
	case !errors.Is(err, ErrWaitTimeout):
		return ApplyUnconfirmed, err
	}

	// No dialog: the request went out directly when the add button is gone.
	still, err := d.present(ctx, Query{Role: RoleAddButton, Within: p.Window.ID})
	if err != nil {
		return ApplyUnconfirmed, err
	}
	if !still {
		return ApplySent, nil
	}
	return ApplyUnconfirmed, nil
}

// confirmDialog clicks the confirm button of a visible confirmation dialog,
// falling back to its first button. It reports whether a click happened.
func (d *Driver) confirmDialog(ctx context.Context) (bool, error) {
	dialog, err := d.surface.Locate(ctx, Query{Role: RoleConfirmDialog})
	if err != nil {
		return false, err
	}
	win, ok := dialog.First()
	if !ok {
		return false, nil
	}

	for _, role := range []Role{RoleConfirmButton, RoleButton} {
		btn, err := d.surface.Locate(ctx, Query{Role: role, Within: win.ID})
		if err != nil {
			return false, err
		}
		clicked, err := d.clickFirst(ctx, btn)
		if err != nil {
			return false, err
		}
		if clicked {
			_ = WaitFor(ctx, d.opts.ButtonTimeout, d.opts.Poll, func(ctx context.Context) (bool, error) {
				open, err := d.present(ctx, Query{Role: RoleConfirmDialog})
				return !open, err
			})
			return true, nil
		}
	}
	return false, nil
}

// CloseProfile dismisses an opened profile card, or the not-found tip left
// by a failed search. Failures are logged.
func (d *Driver) CloseProfile(ctx context.Context, s *uilock.Session, p Profile) {
	s.Check()
	if p.Status == ProfileNotFound {
		d.dismissNotFound(ctx)
		return
	}
	if !p.Opened() || p.Window.Role != RoleProfileCard {
		return
	}
	open, err := d.present(ctx, Query{Role: RoleProfileCard})
	if err != nil || !open {
		return
	}
	if err := d.surface.Dismiss(ctx, p.Window); err != nil {
		d.logger.Debug("closing profile failed, sending escape", "error", err)
		_ = d.surface.SendKeys(ctx, KeyEscape)
	}
}

// dismissNotFound closes the "user not found" tip so the next search starts
// from a clean window.
func (d *Driver) dismissNotFound(ctx context.Context) {
	hint, err := d.surface.Locate(ctx, Query{Role: RoleNotFoundHint})
	if err != nil {
		return
	}
	c, ok := hint.First()
	if !ok {
		return
	}
	if err := d.surface.Dismiss(ctx, c); err != nil {
		d.logger.Debug("closing not-found tip failed, sending escape", "error", err)
		_ = d.surface.SendKeys(ctx, KeyEscape)
	}
}
