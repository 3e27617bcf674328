// Package console renders the engine's event stream and stored log entries
// as human-readable terminal lines.
package console

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/logging"
)

const timeLayout = "15:04:05"

// hiddenAttrs are already shown elsewhere on the line or are noise on a
// terminal.
var hiddenAttrs = map[string]bool{
	"component": true,
	"run_id":    true,
	"loop":      true,
	"stack":     true,
}

// Options configures a Console.
type Options struct {
	// Level is the minimum log level shown.
	Level string
	// Color forces styling on or off. Nil detects a terminal.
	Color *bool
}

// Console writes one line per event to w. It is safe for concurrent use.
type Console struct {
	mu       sync.Mutex
	w        io.Writer
	minLevel int
	styles   styles
	subID    string
	bus      *event.Bus
}

// New creates a console writing to w.
func New(w io.Writer, opts Options) *Console {
	color := IsTerminal(w) && os.Getenv("NO_COLOR") == ""
	if opts.Color != nil {
		color = *opts.Color
	}
	return &Console{
		w:        w,
		minLevel: levelRank(logging.ParseLevel(opts.Level)),
		styles:   newStyles(lipgloss.NewRenderer(w), color),
	}
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Attach subscribes the console to every event on bus.
func (c *Console) Attach(bus *event.Bus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subID != "" {
		return
	}
	c.bus = bus
	c.subID = bus.SubscribeAll(c.Handle)
}

// Detach removes the subscription made by Attach.
func (c *Console) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subID == "" {
		return
	}
	c.bus.Unsubscribe(c.subID)
	c.subID = ""
	c.bus = nil
}

// Handle writes ev if it renders to a line.
func (c *Console) Handle(ev event.Event) {
	line, ok := c.Render(ev)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, line)
}

// Render formats ev. Events already announced through a log line, and log
// lines below the level, render to nothing.
func (c *Console) Render(ev event.Event) (string, bool) {
	s := c.styles
	ts := s.muted.Render(ev.Timestamp().Format(timeLayout))

	switch e := ev.(type) {
	case event.LogEvent:
		if levelRank(e.Level) < c.minLevel {
			return "", false
		}
		loop, _ := e.Attrs["loop"].(string)
		return c.line(ts, e.Level, loop, e.Message, e.Attrs), true

	case event.StatusChangedEvent:
		msg := fmt.Sprintf("%s %s %s → %s", e.RecordID, e.ContactKey, e.From, s.status(e.To))
		if e.Reason != "" {
			msg += s.muted.Render(" (" + e.Reason + ")")
		}
		return ts + " " + s.accent.Render("status") + "  " + msg, true

	case event.WelcomeDeliveredEvent:
		result := s.ok.Render("delivered")
		if !e.OK {
			result = s.err.Render("incomplete")
		}
		return fmt.Sprintf("%s %s %s %s %d/%d", ts, s.accent.Render("welcome"), e.Target, result, e.Delivered, e.Steps), true

	case event.ContactReconciledEvent:
		what := "bound"
		if e.Created {
			what = "created"
		}
		return fmt.Sprintf("%s %s %s (%s) %s %s", ts, s.accent.Render("contact"), e.Nickname, e.WechatID, s.ok.Render(what), e.RecordID), true

	case event.CountersEvent:
		return ts + " " + s.muted.Render(fmt.Sprintf("counters applied=%d welcomed=%d failed=%d", e.Applied, e.Welcomed, e.Failed)), true
	}
	return "", false
}

// RenderEntry formats a stored log entry the same way as a live log event.
func (c *Console) RenderEntry(e logging.Entry) string {
	ts := c.styles.muted.Render(e.Time.Local().Format(time.DateTime))
	return c.line(ts, e.Level, e.Loop, e.Message, e.Attrs)
}

func (c *Console) line(ts, level, loop, msg string, attrs map[string]any) string {
	s := c.styles
	var b strings.Builder
	b.WriteString(ts)
	b.WriteByte(' ')
	b.WriteString(s.level(level))
	if loop != "" {
		b.WriteString(s.muted.Render(" [" + loop + "]"))
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	if kv := formatAttrs(attrs); kv != "" {
		b.WriteByte(' ')
		b.WriteString(s.muted.Render(kv))
	}
	return b.String()
}

// formatAttrs renders attributes as sorted key=value pairs.
func formatAttrs(attrs map[string]any) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if !hiddenAttrs[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := fmt.Sprint(attrs[k])
		if strings.ContainsAny(v, " \t") {
			v = fmt.Sprintf("%q", v)
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func levelRank(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return 1
	}
}
