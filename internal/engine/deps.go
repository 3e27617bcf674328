package engine

import (
	"context"

	"github.com/Iron-Ham/friendflow/internal/automation"
	"github.com/Iron-Ham/friendflow/internal/automation/bridge"
	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/journal"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/taskstore"
	"github.com/Iron-Ham/friendflow/internal/uilock"
)

// Store is the part of the task store client the engine uses.
// *taskstore.Client implements it.
type Store interface {
	Ping(ctx context.Context) error
	Fields() config.FieldsConfig
	Labels() taskstore.Labels
	QueryByStatus(ctx context.Context, statuses ...taskstore.BindingStatus) ([]taskstore.Record, error)
	Find(ctx context.Context, field string, values ...string) ([]taskstore.Record, error)
	UpdateStatus(ctx context.Context, rec taskstore.Record, to taskstore.BindingStatus, extra map[string]any) ([]taskstore.BindingStatus, error)
	Upsert(ctx context.Context, keyField, keyValue string, fields map[string]any) (string, bool, error)
}

// Driver is the part of the automation driver the engine uses.
// *automation.Driver implements it.
type Driver interface {
	Attach(ctx context.Context) error
	Detach(ctx context.Context) error
	SetLedger(l automation.Ledger)

	OpenProfile(ctx context.Context, s *uilock.Session, key string) (automation.Profile, error)
	HasNotFoundSignal(ctx context.Context, s *uilock.Session) (bool, error)
	Classify(ctx context.Context, s *uilock.Session, p automation.Profile) (automation.Relationship, error)
	DisplayName(ctx context.Context, s *uilock.Session, p automation.Profile) string
	Apply(ctx context.Context, s *uilock.Session, p automation.Profile) (automation.ApplyOutcome, error)
	CloseProfile(ctx context.Context, s *uilock.Session, p automation.Profile)
	DeliverWelcome(ctx context.Context, s *uilock.Session, dv automation.Delivery) bool
	ScanNewContacts(ctx context.Context, s *uilock.Session, sink automation.ContactSink, plan automation.WelcomePlan) (automation.ScanReport, error)
}

// Journal records what the engine did. *journal.Journal implements it.
type Journal interface {
	automation.Ledger
	RecordTransition(ctx context.Context, t journal.Transition) error
	IncrementAttempts(ctx context.Context, recordID, outcome string) (int, error)
	ResetAttempts(ctx context.Context, recordID string) error
	Close() error
}

var (
	_ Store   = (*taskstore.Client)(nil)
	_ Driver  = (*automation.Driver)(nil)
	_ Journal = (*journal.Journal)(nil)
)

// Option customizes an Engine. Dependencies left unset are built from the
// configuration when the engine starts.
type Option func(*Engine)

// WithStore injects the task store.
func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

// WithDriver injects the automation driver.
func WithDriver(d Driver) Option { return func(e *Engine) { e.driver = d } }

// WithJournal injects the journal.
func WithJournal(j Journal) Option { return func(e *Engine) { e.journal = j } }

// WithLock injects the UI mutex shared with other callers of the driver.
func WithLock(m *uilock.Mutex) Option { return func(e *Engine) { e.lock = m } }

// WithBus sets the event bus front-ends subscribe to.
func WithBus(b *event.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithLogger sets the logger. Every record it emits is republished on the
// bus as an event.LogEvent.
func WithLogger(l *logging.Logger) Option { return func(e *Engine) { e.logger = l } }

// closer is something the engine built itself and must release on Stop.
type closer func() error

// buildDeps constructs the dependencies that were not injected.
func (e *Engine) buildDeps() ([]closer, error) {
	var owned []closer

	if !e.injected.store {
		client, err := taskstore.New(taskstore.OptionsFromConfig(e.cfg.TaskStore), e.base)
		if err != nil {
			return nil, err
		}
		e.store = client
	}

	if !e.injected.driver {
		surface := bridge.New(bridge.DefaultOptions(e.cfg.Automation.BridgeURL), e.base)
		d, err := automation.NewDriver(surface, automation.OptionsFromConfig(e.cfg), e.base, e.bus)
		if err != nil {
			_ = surface.Close()
			return nil, err
		}
		e.driver = d
		owned = append(owned, surface.Close)
	}

	if !e.injected.journal {
		if e.cfg.Journal.Enabled {
			j, err := journal.Open(e.cfg.Journal.JournalPath())
			if err != nil {
				closeAll(owned)
				return nil, err
			}
			e.journal = j
			owned = append(owned, j.Close)
		} else {
			e.journal = newMemoryJournal()
		}
	}

	return owned, nil
}

func closeAll(cs []closer) {
	for i := len(cs) - 1; i >= 0; i-- {
		_ = cs[i]()
	}
}
