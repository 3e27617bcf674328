package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/engine"
	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

// fakeEngine records control calls.
type fakeEngine struct {
	mu       sync.Mutex
	bus      *event.Bus
	state    engine.State
	startErr error
	active   time.Duration
	passive  time.Duration
	jitter   time.Duration
	welcome  bool
	steps    []welcome.Step
	counters engine.Counters
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		bus:     event.NewBus(),
		state:   engine.StateStopped,
		active:  10 * time.Second,
		passive: 30 * time.Second,
		jitter:  5 * time.Second,
		welcome: true,
		steps:   []welcome.Step{welcome.Text("hello"), welcome.Link("https://example.com", "site")},
	}
}

func (f *fakeEngine) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.state = engine.StateRunning
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = engine.StateStopped
	return nil
}

func (f *fakeEngine) Pause() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != engine.StateRunning {
		return false
	}
	f.state = engine.StatePaused
	return true
}

func (f *fakeEngine) Resume() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != engine.StatePaused {
		return false
	}
	f.state = engine.StateRunning
	return true
}

func (f *fakeEngine) State() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) RunID() string             { return "run-1" }
func (f *fakeEngine) Counters() engine.Counters { return f.counters }

func (f *fakeEngine) SetActiveInterval(d time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = max(d, engine.MinActiveInterval)
	return f.active
}

func (f *fakeEngine) SetPassiveInterval(d time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passive = max(d, engine.MinPassiveInterval)
	return f.passive
}

func (f *fakeEngine) SetJitter(d time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jitter = d
	return d
}

func (f *fakeEngine) ActiveInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeEngine) PassiveInterval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passive
}

func (f *fakeEngine) Jitter() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jitter
}

func (f *fakeEngine) ToggleWelcome(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcome = enabled
}

func (f *fakeEngine) WelcomeEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.welcome
}

func (f *fakeEngine) WelcomeSteps() []welcome.Step { return f.steps }
func (f *fakeEngine) Bus() *event.Bus             { return f.bus }

func newTestServer(t *testing.T, e *fakeEngine, origins ...string) (*Server, *httptest.Server) {
	t.Helper()
	s := New(config.ServerConfig{Enabled: true, AllowedOrigins: origins}, e, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.Close()
		ts.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestControlEndpoints(t *testing.T) {
	e := newFakeEngine()
	_, ts := newTestServer(t, e)

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		wantCode  int
		wantState string
	}{
		{"pause while stopped", http.MethodPost, "/api/pause", "", http.StatusConflict, ""},
		{"start", http.MethodPost, "/api/start", "", http.StatusOK, "running"},
		{"start again", http.MethodPost, "/api/start", "", http.StatusOK, "running"},
		{"pause", http.MethodPost, "/api/pause", "", http.StatusOK, "paused"},
		{"pause again", http.MethodPost, "/api/pause", "", http.StatusOK, "paused"},
		{"resume", http.MethodPost, "/api/resume", "", http.StatusOK, "running"},
		{"state", http.MethodGet, "/api/state", "", http.StatusOK, "running"},
		{"stop", http.MethodPost, "/api/stop", "", http.StatusOK, "stopped"},
		{"wrong method", http.MethodGet, "/api/stop", "", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		code, body := do(t, tt.method, ts.URL+tt.path, tt.body)
		if code != tt.wantCode {
			t.Fatalf("%s: status = %d, want %d (%v)", tt.name, code, tt.wantCode, body)
		}
		if tt.wantState != "" && body["state"] != tt.wantState {
			t.Fatalf("%s: state = %v, want %s", tt.name, body["state"], tt.wantState)
		}
	}
}

func TestStartFailure(t *testing.T) {
	e := newFakeEngine()
	e.startErr = errors.New("task store unreachable")
	_, ts := newTestServer(t, e)

	code, body := do(t, http.MethodPost, ts.URL+"/api/start", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if body["error"] != "task store unreachable" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestIntervals(t *testing.T) {
	e := newFakeEngine()
	_, ts := newTestServer(t, e)

	code, body := do(t, http.MethodPut, ts.URL+"/api/intervals", `{"active_seconds": 1, "jitter_seconds": 2.5}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d (%v)", code, body)
	}
	if body["active_seconds"] != 3.0 {
		t.Errorf("active_seconds = %v, want clamped 3", body["active_seconds"])
	}
	if body["passive_seconds"] != 30.0 {
		t.Errorf("passive_seconds = %v, want unchanged 30", body["passive_seconds"])
	}
	if body["jitter_seconds"] != 2.5 {
		t.Errorf("jitter_seconds = %v, want 2.5", body["jitter_seconds"])
	}

	for _, bad := range []string{`{"active_seconds": -1}`, `{"jitter_seconds": 5e9}`, `{"passive_seconds": 90000}`, `{"bogus": 1}`, `not json`} {
		if code, _ := do(t, http.MethodPut, ts.URL+"/api/intervals", bad); code != http.StatusBadRequest {
			t.Errorf("PUT %s: status = %d, want 400", bad, code)
		}
	}
	if got := e.Jitter(); got != 2500*time.Millisecond {
		t.Errorf("jitter after rejected updates = %v, want 2.5s", got)
	}
}

func TestWelcome(t *testing.T) {
	e := newFakeEngine()
	_, ts := newTestServer(t, e)

	code, body := do(t, http.MethodGet, ts.URL+"/api/welcome", "")
	if code != http.StatusOK || body["enabled"] != true {
		t.Fatalf("GET welcome = %d %v", code, body)
	}
	steps, _ := body["steps"].([]any)
	if len(steps) != 2 {
		t.Fatalf("steps = %v, want 2", body["steps"])
	}
	if first, _ := steps[0].(map[string]any); first["kind"] != "text" || first["content"] != "hello" {
		t.Errorf("first step = %v", steps[0])
	}

	code, body = do(t, http.MethodPut, ts.URL+"/api/welcome", `{"enabled": false}`)
	if code != http.StatusOK || body["enabled"] != false || e.WelcomeEnabled() {
		t.Errorf("PUT welcome = %d %v", code, body)
	}
	if code, _ := do(t, http.MethodPut, ts.URL+"/api/welcome", `{}`); code != http.StatusBadRequest {
		t.Errorf("PUT without enabled: status = %d, want 400", code)
	}
}

func TestCounters(t *testing.T) {
	e := newFakeEngine()
	e.counters = engine.Counters{Applied: 3, Welcomed: 2, Failed: 1}
	_, ts := newTestServer(t, e)

	code, body := do(t, http.MethodGet, ts.URL+"/api/counters", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["applied"] != 3.0 || body["welcomed"] != 2.0 || body["failed"] != 1.0 {
		t.Errorf("counters = %v", body)
	}
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestEventStream(t *testing.T) {
	e := newFakeEngine()
	_, ts := newTestServer(t, e)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Type != TypeStreamOpen {
		t.Fatalf("first message type = %q, want %q", env.Type, TypeStreamOpen)
	}

	e.bus.Publish(event.NewEngineStateEvent(event.StateStarted, "run-1"))
	e.bus.Publish(event.NewLogEvent(time.Time{}, "WARN", "could not query", map[string]any{
		"error": errors.New("timeout"),
		"count": 2,
	}))

	env := readEnvelope(t, conn)
	if env.Type != event.TypeEngineState || env.ID == "" {
		t.Fatalf("envelope = %+v", env)
	}
	data, _ := env.Data.(map[string]any)
	if data["state"] != "started" || data["run_id"] != "run-1" {
		t.Errorf("state data = %v", env.Data)
	}

	env = readEnvelope(t, conn)
	if env.Type != event.TypeLog {
		t.Fatalf("envelope type = %q, want %q", env.Type, event.TypeLog)
	}
	data, _ = env.Data.(map[string]any)
	attrs, _ := data["attrs"].(map[string]any)
	if data["level"] != "WARN" || data["message"] != "could not query" || attrs["error"] != "timeout" {
		t.Errorf("log data = %v", env.Data)
	}
}

func TestEventStream_Origins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		wantOK  bool
	}{
		{"no origin header", nil, "", true},
		{"foreign origin rejected", nil, "http://evil.example", false},
		{"listed origin", []string{"http://app.example"}, "http://app.example", true},
		{"wildcard", []string{"*"}, "http://anything.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, newFakeEngine(), tt.allowed...)
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("dial: %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatal("dial succeeded for a foreign origin")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("response = %v, want 403", resp)
			}
		})
	}
}

func TestHubClose(t *testing.T) {
	e := newFakeEngine()
	s, ts := newTestServer(t, e)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readEnvelope(t, conn)

	s.hub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after close = %v, want going-away close", err)
	}
	if n := s.hub.Clients(); n != 0 {
		t.Errorf("Clients() = %d after Close", n)
	}
}

func TestServerStartShutdown(t *testing.T) {
	s := New(config.ServerConfig{Enabled: true, Addr: "127.0.0.1:0"}, newFakeEngine(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if s.Addr() != "" {
		t.Error("Addr() not cleared after Shutdown")
	}
}
