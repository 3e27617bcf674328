package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/friendflow/internal/automation"
	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/journal"
	"github.com/Iron-Ham/friendflow/internal/taskstore"
	"github.com/Iron-Ham/friendflow/internal/uilock"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

type statusWrite struct {
	ID       string
	From, To taskstore.BindingStatus
	Extra    map[string]any
}

// fakeStore is an in-memory task table.
type fakeStore struct {
	mu      sync.Mutex
	fields  config.FieldsConfig
	labels  taskstore.Labels
	order   []string
	records map[string]taskstore.Record
	writes  []statusWrite
	created []string
	upserts []map[string]any
	nextID  int

	pingErr  error
	queryErr error
	queries  atomic.Int32
}

func newFakeStore(recs ...taskstore.Record) *fakeStore {
	d := config.Default()
	s := &fakeStore{
		fields:  d.TaskStore.Fields,
		labels:  taskstore.NewLabels(d.TaskStore.Statuses),
		records: make(map[string]taskstore.Record),
	}
	for _, r := range recs {
		s.put(r)
	}
	return s
}

func (s *fakeStore) put(r taskstore.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.records[r.ID] = r
}

func (s *fakeStore) get(id string) taskstore.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *fakeStore) statusWrites() []statusWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusWrite(nil), s.writes...)
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) Fields() config.FieldsConfig { return s.fields }

func (s *fakeStore) Labels() taskstore.Labels { return s.labels }

func (s *fakeStore) QueryByStatus(_ context.Context, statuses ...taskstore.BindingStatus) ([]taskstore.Record, error) {
	s.queries.Add(1)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []taskstore.Record
	for _, id := range s.order {
		r := s.records[id]
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) value(r taskstore.Record, field string) string {
	switch field {
	case s.fields.ContactKey:
		return r.ContactKey
	case s.fields.Nickname:
		return r.Nickname
	case s.fields.DisplayName:
		return r.DisplayName
	case s.fields.Status:
		return s.labels.Label(r.Status)
	}
	return ""
}

func (s *fakeStore) Find(_ context.Context, field string, values ...string) ([]taskstore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []taskstore.Record
	for _, id := range s.order {
		r := s.records[id]
		for _, v := range values {
			if s.value(r, field) == v {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, rec taskstore.Record, to taskstore.BindingStatus, extra map[string]any) ([]taskstore.BindingStatus, error) {
	hops := taskstore.Path(rec.Status, to)
	if len(hops) == 0 {
		return nil, fmt.Errorf("%w: %s → %s", taskstore.ErrIllegalTransition, rec.Status, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.records[rec.ID]
	stored.Status = to
	if nick, ok := extra[s.fields.Nickname].(string); ok {
		stored.Nickname = nick
	}
	s.records[rec.ID] = stored
	s.writes = append(s.writes, statusWrite{ID: rec.ID, From: rec.Status, To: to, Extra: extra})
	return hops, nil
}

func (s *fakeStore) Upsert(_ context.Context, keyField, keyValue string, fields map[string]any) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, fields)
	for _, id := range s.order {
		r := s.records[id]
		if s.value(r, keyField) == keyValue {
			s.apply(&r, fields)
			s.records[id] = r
			return id, false, nil
		}
	}
	s.nextID++
	r := taskstore.Record{ID: fmt.Sprintf("new%d", s.nextID), ContactKey: keyValue}
	s.apply(&r, fields)
	s.order = append(s.order, r.ID)
	s.records[r.ID] = r
	s.created = append(s.created, r.ID)
	return r.ID, true, nil
}

func (s *fakeStore) apply(r *taskstore.Record, fields map[string]any) {
	if v, ok := fields[s.fields.Status].(string); ok {
		r.Status = s.labels.Parse(v)
		r.RawStatus = v
	}
	if v, ok := fields[s.fields.Nickname].(string); ok {
		r.Nickname = v
	}
}

// -----------------------------------------------------------------------------
// Driver
// -----------------------------------------------------------------------------

// contactScript is how the fake client answers for one contact key.
type contactScript struct {
	open         automation.OpenStatus
	openErr      error
	rel          automation.Relationship
	nickname     string
	apply        automation.ApplyOutcome
	welcomeFails bool
	notFoundHint bool
	panics       bool
}

// fakeDriver answers from per-key scripts and checks that every call holds
// a live session and that calls never overlap.
type fakeDriver struct {
	mu        sync.Mutex
	scripts   map[string]contactScript
	calls     []string
	delivered []automation.Delivery
	closed    int
	lastKey   string
	ledger    automation.Ledger
	scan      func(ctx context.Context, sink automation.ContactSink, plan automation.WelcomePlan) (automation.ScanReport, error)

	// hold is how long each call keeps the UI busy.
	hold time.Duration
	// block, when set, makes OpenProfile wait for it regardless of ctx.
	block chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
	attached    atomic.Int32
	detached    atomic.Int32
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{scripts: make(map[string]contactScript)}
}

func (d *fakeDriver) script(key string, sc contactScript) {
	d.mu.Lock()
	d.scripts[key] = sc
	d.mu.Unlock()
}

func (d *fakeDriver) enter(s *uilock.Session, call string) func() {
	s.Check()
	n := d.inflight.Add(1)
	for {
		cur := d.maxInflight.Load()
		if n <= cur || d.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
	if d.hold > 0 {
		time.Sleep(d.hold)
	}
	return func() { d.inflight.Add(-1) }
}

func (d *fakeDriver) lookup(key string) contactScript {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scripts[key]
}

func (d *fakeDriver) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) deliveries() []automation.Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]automation.Delivery(nil), d.delivered...)
}

func (d *fakeDriver) Attach(context.Context) error { d.attached.Add(1); return nil }
func (d *fakeDriver) Detach(context.Context) error { d.detached.Add(1); return nil }

func (d *fakeDriver) SetLedger(l automation.Ledger) {
	d.mu.Lock()
	d.ledger = l
	d.mu.Unlock()
}

func (d *fakeDriver) OpenProfile(_ context.Context, s *uilock.Session, key string) (automation.Profile, error) {
	defer d.enter(s, "open:"+key)()
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	d.lastKey = key
	d.mu.Unlock()
	sc := d.lookup(key)
	if sc.panics {
		panic("driver exploded")
	}
	if sc.openErr != nil {
		return automation.Profile{}, sc.openErr
	}
	p := automation.Profile{Status: sc.open, Key: key}
	if sc.open == automation.ProfileOpened {
		p.Window = automation.Control{ID: "card-" + key, Role: automation.RoleProfileCard}
	}
	return p, nil
}

func (d *fakeDriver) HasNotFoundSignal(_ context.Context, s *uilock.Session) (bool, error) {
	defer d.enter(s, "hint")()
	d.mu.Lock()
	key := d.lastKey
	d.mu.Unlock()
	return d.lookup(key).notFoundHint, nil
}

func (d *fakeDriver) Classify(_ context.Context, s *uilock.Session, p automation.Profile) (automation.Relationship, error) {
	defer d.enter(s, "classify:"+p.Key)()
	return d.lookup(p.Key).rel, nil
}

func (d *fakeDriver) DisplayName(_ context.Context, s *uilock.Session, p automation.Profile) string {
	defer d.enter(s, "name:"+p.Key)()
	return d.lookup(p.Key).nickname
}

func (d *fakeDriver) Apply(_ context.Context, s *uilock.Session, p automation.Profile) (automation.ApplyOutcome, error) {
	defer d.enter(s, "apply:"+p.Key)()
	return d.lookup(p.Key).apply, nil
}

func (d *fakeDriver) CloseProfile(_ context.Context, s *uilock.Session, p automation.Profile) {
	defer d.enter(s, "close:"+p.Key)()
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
}

func (d *fakeDriver) DeliverWelcome(_ context.Context, s *uilock.Session, dv automation.Delivery) bool {
	defer d.enter(s, "welcome:"+dv.Target)()
	d.mu.Lock()
	d.delivered = append(d.delivered, dv)
	d.mu.Unlock()
	return !d.lookup(dv.Target).welcomeFails
}

func (d *fakeDriver) ScanNewContacts(ctx context.Context, s *uilock.Session, sink automation.ContactSink, plan automation.WelcomePlan) (automation.ScanReport, error) {
	defer d.enter(s, "scan")()
	if d.scan == nil {
		return automation.ScanReport{}, nil
	}
	return d.scan(ctx, sink, plan)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.PassiveEnabled = false
	cfg.Welcome.Enabled = true
	cfg.Welcome.WatchFile = false
	cfg.Welcome.Steps = []config.StepConfig{{Type: "text", Content: "hi"}}
	cfg.Journal.Enabled = false
	return cfg
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

// newTestEngine builds an engine with fast loop timings and the welcome
// steps of cfg already loaded.
func newTestEngine(t *testing.T, cfg *config.Config, store *fakeStore, driver *fakeDriver, opts ...Option) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	all := append([]Option{WithStore(store), WithDriver(driver)}, opts...)
	e := New(cfg, all...)
	if e.journal == nil {
		e.journal = newMemoryJournal()
	}
	e.activeInterval.Store(int64(10 * time.Millisecond))
	e.passiveInterval.Store(int64(10 * time.Millisecond))
	e.jitter.Store(0)
	e.passiveFloor = 10 * time.Millisecond
	e.pausePoll = 5 * time.Millisecond
	e.welcome.Store(&welcomeState{enabled: cfg.Welcome.Enabled, steps: welcome.Normalize(cfg.Welcome.Steps)})
	return e
}

// recordEvents collects every event published on bus.
func recordEvents(bus *event.Bus) func() []event.Event {
	var mu sync.Mutex
	var got []event.Event
	bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	return func() []event.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]event.Event(nil), got...)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func session(t *testing.T, e *Engine) *uilock.Session {
	t.Helper()
	s, err := e.lock.Acquire(context.Background(), t.Name())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	t.Cleanup(s.Release)
	return s
}

func pending(id, key string) taskstore.Record {
	return taskstore.Record{ID: id, ContactKey: key, Status: taskstore.StatusPendingAdd}
}
