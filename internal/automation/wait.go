package automation

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by WaitFor when the condition never held.
var ErrWaitTimeout = errors.New("wait timed out")

// Condition is polled by WaitFor. Returning an error stops the wait.
type Condition func(ctx context.Context) (bool, error)

// WaitFor polls cond every poll interval until it reports true, the timeout
// elapses (ErrWaitTimeout) or ctx is done. cond is always evaluated at least
// once, immediately.
func WaitFor(ctx context.Context, timeout, poll time.Duration, cond Condition) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrWaitTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitLocate polls until q matches at least one control.
func (d *Driver) waitLocate(ctx context.Context, q Query, timeout time.Duration) (Lookup, error) {
	var found Lookup
	err := WaitFor(ctx, timeout, d.opts.Poll, func(ctx context.Context) (bool, error) {
		l, err := d.surface.Locate(ctx, q)
		if err != nil {
			return false, err
		}
		found = l
		return l.Status != NotFound, nil
	})
	if errors.Is(err, ErrWaitTimeout) {
		return Lookup{Status: NotFound}, nil
	}
	return found, err
}

// present reports whether q currently matches anything.
func (d *Driver) present(ctx context.Context, q Query) (bool, error) {
	l, err := d.surface.Locate(ctx, q)
	if err != nil {
		return false, err
	}
	return l.Status != NotFound, nil
}
