// Package automationtest provides a scripted in-memory automation.Surface
// for driver and engine tests.
package automationtest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/friendflow/internal/automation"
)

// ClickFunc mutates the fake UI in reaction to a click.
type ClickFunc func(s *Surface)

type node struct {
	control automation.Control
	within  string
}

// Surface is a fake client UI. Controls are shown and hidden explicitly;
// clicks run scripted reactions. Text entered through the clipboard or
// typing is buffered and recorded as a sent message on Enter, except while
// the search box is focused.
type Surface struct {
	mu sync.Mutex

	running  bool
	nodes    []node
	onClick  map[string]ClickFunc
	onRight  map[string]ClickFunc
	onLaunch func(s *Surface)

	clipboard     string
	clipboardFile []string
	buffer        string
	searching     bool

	// NoClipboard makes SetClipboardText report ErrClipboardUnavailable.
	NoClipboard bool
	// Err, when set, is returned by every call.
	Err error

	clicks    []string
	keys      []string
	sent      []string
	dismissed []string
	attached  int

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

// New creates a running surface with a main window.
func New() *Surface {
	s := &Surface{
		running: true,
		onClick: make(map[string]ClickFunc),
		onRight: make(map[string]ClickFunc),
	}
	s.Show(automation.Control{ID: "main", Role: automation.RoleMainWindow, Name: "Weixin"}, "")
	return s
}

// SetRunning toggles the client window.
func (s *Surface) SetRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

// Show adds a control inside within ("" for top level). Showing an existing
// ID replaces it.
func (s *Surface) Show(c automation.Control, within string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.nodes {
		if n.control.ID == c.ID {
			s.nodes[i] = node{control: c, within: within}
			return
		}
	}
	s.nodes = append(s.nodes, node{control: c, within: within})
}

// Hide removes controls by ID together with their descendants.
func (s *Surface) Hide(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.hideLocked(id)
	}
}

func (s *Surface) hideLocked(id string) {
	kept := s.nodes[:0]
	var children []string
	for _, n := range s.nodes {
		switch {
		case n.control.ID == id:
		case n.within == id:
			children = append(children, n.control.ID)
			kept = append(kept, n)
		default:
			kept = append(kept, n)
		}
	}
	s.nodes = kept
	for _, c := range children {
		s.hideLocked(c)
	}
}

// Visible reports whether a control is shown.
func (s *Surface) Visible(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.control.ID == id {
			return true
		}
	}
	return false
}

// OnClick scripts the reaction to clicking id.
func (s *Surface) OnClick(id string, fn ClickFunc) {
	s.mu.Lock()
	s.onClick[id] = fn
	s.mu.Unlock()
}

// OnRightClick scripts the reaction to right-clicking id.
func (s *Surface) OnRightClick(id string, fn ClickFunc) {
	s.mu.Lock()
	s.onRight[id] = fn
	s.mu.Unlock()
}

// OnLaunch scripts what a client launch does.
func (s *Surface) OnLaunch(fn func(s *Surface)) {
	s.mu.Lock()
	s.onLaunch = fn
	s.mu.Unlock()
}

// Launch runs the OnLaunch script; drivers under test use it in place of
// starting a process.
func (s *Surface) Launch(string) error {
	s.mu.Lock()
	fn := s.onLaunch
	s.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return nil
}

// Clicks returns the IDs clicked so far, in order.
func (s *Surface) Clicks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clicks...)
}

// Keys returns the key sequences sent so far.
func (s *Surface) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

// Sent returns the messages submitted with Enter.
func (s *Surface) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// Dismissed returns the IDs passed to Dismiss.
func (s *Surface) Dismissed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dismissed...)
}

// Attached returns the number of live Attach calls.
func (s *Surface) Attached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// MaxConcurrent returns the highest number of calls observed in flight at
// once.
func (s *Surface) MaxConcurrent() int {
	return int(s.maxInflight.Load())
}

func (s *Surface) enter() func() {
	n := s.inflight.Add(1)
	for {
		m := s.maxInflight.Load()
		if n <= m || s.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { s.inflight.Add(-1) }
}

func (s *Surface) Attach(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached++
	return s.Err
}

func (s *Surface) Detach(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached--
	return s.Err
}

func (s *Surface) Running(ctx context.Context) (bool, error) {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, s.Err
}

func (s *Surface) Activate(ctx context.Context) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if !s.running {
		return automation.ErrClientNotRunning
	}
	return nil
}

func (s *Surface) match(q automation.Query) []automation.Control {
	var out []automation.Control
	for _, n := range s.nodes {
		if n.control.Role != q.Role {
			continue
		}
		if q.Within != "" && !s.descendantLocked(n, q.Within) {
			continue
		}
		if q.Name != "" && !strings.Contains(n.control.Name, q.Name) {
			continue
		}
		out = append(out, n.control)
	}
	return out
}

func (s *Surface) descendantLocked(n node, ancestor string) bool {
	for depth := 0; n.within != "" && depth < 32; depth++ {
		if n.within == ancestor {
			return true
		}
		parent, ok := s.findLocked(n.within)
		if !ok {
			return false
		}
		n = parent
	}
	return false
}

func (s *Surface) findLocked(id string) (node, bool) {
	for _, n := range s.nodes {
		if n.control.ID == id {
			return n, true
		}
	}
	return node{}, false
}

func (s *Surface) Locate(ctx context.Context, q automation.Query) (automation.Lookup, error) {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return automation.Lookup{}, s.Err
	}
	found := s.match(q)
	switch len(found) {
	case 0:
		return automation.Lookup{Status: automation.NotFound}, nil
	case 1:
		return automation.Lookup{Status: automation.Found, Control: found[0]}, nil
	default:
		return automation.Lookup{Status: automation.Ambiguous, Candidates: found}, nil
	}
}

func (s *Surface) LocateAll(ctx context.Context, q automation.Query) ([]automation.Control, error) {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.match(q), s.Err
}

func (s *Surface) Click(ctx context.Context, c automation.Control) error {
	return s.click(c, s.onClick)
}

func (s *Surface) RightClick(ctx context.Context, c automation.Control) error {
	return s.click(c, s.onRight)
}

func (s *Surface) click(c automation.Control, scripts map[string]ClickFunc) error {
	defer s.enter()()
	s.mu.Lock()
	if s.Err != nil {
		s.mu.Unlock()
		return s.Err
	}
	s.clicks = append(s.clicks, c.ID)
	if s.searching {
		s.searching, s.buffer = false, ""
	}
	fn := scripts[c.ID]
	s.mu.Unlock()
	if fn != nil {
		fn(s)
	}
	return nil
}

func (s *Surface) Dismiss(ctx context.Context, c automation.Control) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.dismissed = append(s.dismissed, c.ID)
	s.hideLocked(c.ID)
	return nil
}

func (s *Surface) SendKeys(ctx context.Context, keys string) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.keys = append(s.keys, keys)
	switch keys {
	case automation.KeySearch:
		s.searching, s.buffer = true, ""
	case automation.KeyPaste:
		if len(s.clipboardFile) > 0 {
			s.buffer += "[image:" + strings.Join(s.clipboardFile, ",") + "]"
		} else {
			s.buffer += s.clipboard
		}
	case automation.KeySelectAll:
		s.buffer = ""
	case automation.KeyEnter:
		if s.searching {
			s.searching, s.buffer = false, ""
		} else if s.buffer != "" {
			s.sent = append(s.sent, s.buffer)
			s.buffer = ""
		}
	}
	return nil
}

func (s *Surface) TypeText(ctx context.Context, text string) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.buffer += text
	return nil
}

func (s *Surface) SetClipboardText(ctx context.Context, text string) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.NoClipboard {
		return automation.ErrClipboardUnavailable
	}
	s.clipboard, s.clipboardFile = text, nil
	return nil
}

func (s *Surface) SetClipboardFiles(ctx context.Context, paths []string) error {
	defer s.enter()()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.clipboard, s.clipboardFile = "", append([]string(nil), paths...)
	return nil
}
