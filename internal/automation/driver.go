package automation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os/exec"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/uilock"
)

// ErrClientNotRunning is returned when the client window is absent and
// could not be launched.
var ErrClientNotRunning = errors.New("messaging client is not running")

// Options holds the driver timing and vocabulary.
type Options struct {
	ExecPath   string
	LaunchWait time.Duration
	// Launcher starts the client; nil runs ExecPath as a process.
	Launcher func(path string) error

	ProfileTimeout      time.Duration
	RelationshipTimeout time.Duration
	ButtonTimeout       time.Duration
	ConfirmTimeout      time.Duration
	IdentifierTimeout   time.Duration
	Poll                time.Duration

	// DelayMin and DelayMax bound the random pause between UI actions.
	DelayMin time.Duration
	DelayMax time.Duration
	// StepDelay follows each welcome step.
	StepDelay time.Duration

	// IgnoreNames are glob patterns of new-contact names never processed.
	IgnoreNames []string

	Vocabulary Vocabulary
}

// Vocabulary is the client text the driver interprets itself. Control
// labels are resolved by the surface; entry names are not.
type Vocabulary struct {
	// VerifiedMarkers tag a new-contact entry whose request was accepted.
	VerifiedMarkers []string
	// PendingMarkers tag an incoming request awaiting verification.
	PendingMarkers []string
	// SelfMarker starts the self-introduction appended to nicknames.
	SelfMarker string
}

// DefaultVocabulary returns the labels of the Chinese desktop client.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		VerifiedMarkers: []string{"已添加", "Added"},
		PendingMarkers:  []string{"等待验证", "Awaiting verification"},
		SelfMarker:      "我",
	}
}

// OptionsFromConfig maps the automation, welcome and passive sections.
func OptionsFromConfig(cfg *config.Config) Options {
	a := cfg.Automation
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return Options{
		ExecPath:            a.ExecPath,
		LaunchWait:          sec(a.LaunchWaitSeconds),
		ProfileTimeout:      sec(a.ProfileTimeoutSeconds),
		RelationshipTimeout: sec(a.RelationshipTimeoutSeconds),
		ButtonTimeout:       sec(a.ButtonTimeoutSeconds),
		ConfirmTimeout:      sec(a.ConfirmTimeoutSeconds),
		IdentifierTimeout:   sec(a.IdentifierTimeoutSeconds),
		Poll:                ms(a.PollIntervalMs),
		DelayMin:            ms(a.DelayMinMs),
		DelayMax:            ms(a.DelayMaxMs),
		StepDelay:           cfg.Welcome.StepDelay(),
		IgnoreNames:         cfg.Passive.IgnoreNames,
		Vocabulary:          DefaultVocabulary(),
	}
}

// Driver runs the client workflows on top of a Surface.
type Driver struct {
	surface Surface
	opts    Options
	ignore  []glob.Glob
	logger  *logging.Logger
	bus     *event.Bus
	ledger  Ledger

	launch func(path string) error
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDriver creates a driver. bus may be nil.
func NewDriver(surface Surface, opts Options, logger *logging.Logger, bus *event.Bus) (*Driver, error) {
	if surface == nil {
		return nil, errors.New("automation: nil surface")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if len(opts.Vocabulary.VerifiedMarkers) == 0 && len(opts.Vocabulary.PendingMarkers) == 0 {
		opts.Vocabulary = DefaultVocabulary()
	}

	ignore := make([]glob.Glob, 0, len(opts.IgnoreNames))
	for _, pattern := range opts.IgnoreNames {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		ignore = append(ignore, g)
	}

	launch := opts.Launcher
	if launch == nil {
		launch = startProcess
	}

	return &Driver{
		surface: surface,
		opts:    opts,
		ignore:  ignore,
		logger:  logger.WithComponent("automation"),
		bus:     bus,
		launch:  launch,
		sleep:   sleepContext,
	}, nil
}

// SetLedger installs the record of processed new-contact entries.
func (d *Driver) SetLedger(l Ledger) {
	d.ledger = l
}

// Attach binds the surface to the calling loop when it needs it.
func (d *Driver) Attach(ctx context.Context) error {
	if a, ok := d.surface.(Attacher); ok {
		return a.Attach(ctx)
	}
	return nil
}

// Detach releases what Attach acquired.
func (d *Driver) Detach(ctx context.Context) error {
	if a, ok := d.surface.(Attacher); ok {
		return a.Detach(ctx)
	}
	return nil
}

// EnsureRunning activates the client, launching it from ExecPath first if
// its window is absent.
func (d *Driver) EnsureRunning(ctx context.Context, s *uilock.Session) error {
	s.Check()

	running, err := d.surface.Running(ctx)
	if err != nil {
		return err
	}
	if !running {
		if d.opts.ExecPath == "" {
			return ErrClientNotRunning
		}
		d.logger.Info("launching messaging client", "path", d.opts.ExecPath)
		if err := d.launch(d.opts.ExecPath); err != nil {
			return fmt.Errorf("%w: launch failed: %v", ErrClientNotRunning, err)
		}
		if err := d.sleep(ctx, d.opts.LaunchWait); err != nil {
			return err
		}
		if running, err = d.surface.Running(ctx); err != nil {
			return err
		}
		if !running {
			return ErrClientNotRunning
		}
	}
	return d.surface.Activate(ctx)
}

// pause waits a random human-like delay between UI actions.
func (d *Driver) pause(ctx context.Context) error {
	lo, hi := d.opts.DelayMin, d.opts.DelayMax
	if hi <= 0 {
		return ctx.Err()
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	delay := lo
	if hi > lo {
		delay += rand.N(hi - lo)
	}
	return d.sleep(ctx, delay)
}

// enterText puts text into the focused input, pasting through the
// clipboard when one is available.
func (d *Driver) enterText(ctx context.Context, text string) error {
	err := d.surface.SetClipboardText(ctx, text)
	if errors.Is(err, ErrClipboardUnavailable) {
		return d.surface.TypeText(ctx, text)
	}
	if err != nil {
		return err
	}
	return d.surface.SendKeys(ctx, KeyPaste)
}

// clickFirst clicks the located control or the first ambiguous candidate.
func (d *Driver) clickFirst(ctx context.Context, l Lookup) (bool, error) {
	c, ok := l.First()
	if !ok {
		return false, nil
	}
	return true, d.surface.Click(ctx, c)
}

func startProcess(path string) error {
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
