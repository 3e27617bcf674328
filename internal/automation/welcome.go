package automation

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/uilock"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

// Delivery describes one welcome invocation.
type Delivery struct {
	// Target names the contact in logs and events.
	Target string
	// Profile, when set, is an opened profile whose message button leads to
	// the chat. Nil means the chat is already open.
	Profile *Profile
	Steps   []welcome.Step
}

// DeliverWelcome sends the steps in order. A failing step is logged and
// skipped; the result is false only when the chat could not be reached or
// ctx was cancelled. An empty step list succeeds without touching the UI.
func (d *Driver) DeliverWelcome(ctx context.Context, s *uilock.Session, dv Delivery) bool {
	s.Check()
	if len(dv.Steps) == 0 {
		return true
	}
	logger := d.logger.With("target", dv.Target)

	if dv.Profile != nil {
		if err := d.openChat(ctx, *dv.Profile); err != nil {
			logger.Warn("could not open chat for welcome", "error", err)
			d.bus.Publish(event.NewWelcomeDeliveredEvent(dv.Target, len(dv.Steps), 0, false))
			return false
		}
	}

	if input, err := d.surface.Locate(ctx, Query{Role: RoleChatInput}); err == nil {
		if _, err := d.clickFirst(ctx, input); err != nil {
			logger.Debug("focusing chat input failed", "error", err)
		}
	}

	logger.Info("sending welcome package", "steps", len(dv.Steps))
	delivered := 0
	for i, step := range dv.Steps {
		if err := d.sendStep(ctx, step); err != nil {
			if ctx.Err() != nil {
				d.bus.Publish(event.NewWelcomeDeliveredEvent(dv.Target, len(dv.Steps), delivered, false))
				return false
			}
			logger.Warn("welcome step failed", "step", i+1, "kind", step.Kind.String(), "error", err)
		} else {
			delivered++
		}
		if err := d.sleep(ctx, d.opts.StepDelay); err != nil {
			d.bus.Publish(event.NewWelcomeDeliveredEvent(dv.Target, len(dv.Steps), delivered, false))
			return false
		}
	}

	logger.Info("welcome package sent", "delivered", delivered, "steps", len(dv.Steps))
	d.bus.Publish(event.NewWelcomeDeliveredEvent(dv.Target, len(dv.Steps), delivered, true))
	return true
}

// openChat clicks the message button of an opened profile.
func (d *Driver) openChat(ctx context.Context, p Profile) error {
	if !p.Opened() {
		return fmt.Errorf("profile for %q is not open", p.Key)
	}
	btn, err := d.waitLocate(ctx, Query{Role: RoleMessageButton, Within: p.Window.ID}, d.opts.ButtonTimeout)
	if err != nil {
		return err
	}
	clicked, err := d.clickFirst(ctx, btn)
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no message button on profile for %q", p.Key)
	}
	if err := d.pause(ctx); err != nil {
		return err
	}
	return d.surface.Activate(ctx)
}

func (d *Driver) sendStep(ctx context.Context, step welcome.Step) error {
	switch step.Kind {
	case welcome.KindImage:
		if _, err := os.Stat(step.Path); err != nil {
			return fmt.Errorf("image %s: %w", step.Path, err)
		}
		if err := d.surface.SetClipboardFiles(ctx, []string{step.Path}); err != nil {
			return err
		}
		if err := d.surface.SendKeys(ctx, KeyPaste); err != nil {
			return err
		}
	default:
		msg := step.Message()
		if msg == "" {
			return fmt.Errorf("empty %s step", step.Kind)
		}
		if err := d.enterText(ctx, msg); err != nil {
			return err
		}
	}
	if err := d.pause(ctx); err != nil {
		return err
	}
	return d.surface.SendKeys(ctx, KeyEnter)
}
