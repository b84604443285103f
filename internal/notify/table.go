package notify

import (
	"fmt"
	"strings"
	"time"

	"pfctl/internal/session"

	"github.com/mattn/go-runewidth"
)

var tableHeader = []string{"", "TARGET", "NAMESPACE", "LOCAL", "REMOTE", "POD", "STATUS", "AGE"}

// SessionTable renders sessions as an aligned plain-text table. Widths are
// measured in terminal cells so status icons line up.
func SessionTable(sessions []session.Session, now time.Time) string {
	if len(sessions) == 0 {
		return "No port forwards.\n"
	}

	rows := [][]string{tableHeader}
	for _, s := range sessions {
		local := "-"
		if s.LocalPort > 0 {
			local = fmt.Sprintf("localhost:%d", s.LocalPort)
		}
		pod := s.PodName
		if pod == "" {
			pod = "-"
		}
		status := string(s.Status)
		if s.Status == session.StatusReconnecting && !s.ReconnectingSince.IsZero() {
			status = fmt.Sprintf("%s (%s)", status, shortDuration(now.Sub(s.ReconnectingSince)))
		}
		age := "-"
		if !s.StartedAt.IsZero() {
			age = shortDuration(now.Sub(s.StartedAt))
		}
		rows = append(rows, []string{
			statusIcon(s.Status),
			s.Target(),
			s.Namespace,
			local,
			fmt.Sprintf("%d", s.TargetPort),
			pod,
			status,
			age,
		})
	}

	widths := make([]int, len(tableHeader))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			if i == len(row)-1 {
				cells[i] = cell
				continue
			}
			cells[i] = runewidth.FillRight(cell, widths[i])
		}
		b.WriteString(strings.TrimRight(strings.Join(cells, "  "), " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// shortDuration renders d the way kubectl prints ages: 45s, 3m, 2h, 4d.
func shortDuration(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
