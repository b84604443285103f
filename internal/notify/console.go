package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"pfctl/internal/session"

	"github.com/charmbracelet/lipgloss"
)

// Console prints notifications as single styled lines. Colours are only
// emitted when out is a terminal.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
	// ShowTime prefixes every line with the notification time.
	ShowTime bool
}

var _ session.Notifier = (*Console)(nil)

func NewConsole(out io.Writer) *Console {
	return &Console{out: out, styles: newStyles(lipgloss.NewRenderer(out))}
}

func (c *Console) Notify(n session.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.format(n))
}

func (c *Console) format(n session.Notification) string {
	line := c.styles.forLevel(n.Level).Render(levelIcon(n.Level)) + " " + c.styles.title.Render(n.Title)
	if n.Message != "" {
		line += "  " + n.Message
	}
	if c.ShowTime && !n.Time.IsZero() {
		line = c.styles.muted.Render(n.Time.Format(time.TimeOnly)) + " " + line
	}
	return line
}

// PrintSession prints a one-line summary of s coloured by its status.
func (c *Console) PrintSession(s session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	icon := c.styles.forLevel(statusLevel(s.Status)).Render(statusIcon(s.Status))
	line := fmt.Sprintf("%s %s  %s -> %s:%d", icon, c.styles.title.Render(s.Target()), s.URL(), s.Namespace, s.TargetPort)
	if s.PodName != "" {
		line += c.styles.muted.Render(fmt.Sprintf("  (pod %s)", s.PodName))
	}
	fmt.Fprintln(c.out, line)
}
