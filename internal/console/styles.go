package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/friendflow/internal/logging"
)

var (
	accentColor = lipgloss.Color("#A78BFA")
	okColor     = lipgloss.Color("#10B981")
	warnColor   = lipgloss.Color("#F59E0B")
	errColor    = lipgloss.Color("#F87171")
	mutedColor  = lipgloss.Color("#9CA3AF")
	debugColor  = lipgloss.Color("#60A5FA")
)

type styles struct {
	accent lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	err    lipgloss.Style
	muted  lipgloss.Style
	debug  lipgloss.Style
}

// newStyles builds the palette on r. Without color every style is a
// pass-through.
func newStyles(r *lipgloss.Renderer, color bool) styles {
	if !color {
		plain := r.NewStyle()
		return styles{accent: plain, ok: plain, warn: plain, err: plain, muted: plain, debug: plain}
	}
	return styles{
		accent: r.NewStyle().Foreground(accentColor).Bold(true),
		ok:     r.NewStyle().Foreground(okColor),
		warn:   r.NewStyle().Foreground(warnColor).Bold(true),
		err:    r.NewStyle().Foreground(errColor).Bold(true),
		muted:  r.NewStyle().Foreground(mutedColor),
		debug:  r.NewStyle().Foreground(debugColor),
	}
}

// level renders a fixed-width level tag.
func (s styles) level(level string) string {
	tag := fmt.Sprintf("%-5s", strings.ToUpper(level))
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return s.debug.Render(tag)
	case logging.LevelWarn:
		return s.warn.Render(tag)
	case logging.LevelError:
		return s.err.Render(tag)
	default:
		return s.ok.Render(tag)
	}
}

func (s styles) status(status string) string {
	switch status {
	case "Bound", "Applied":
		return s.ok.Render(status)
	case "NotFound", "Failed":
		return s.err.Render(status)
	default:
		return status
	}
}
