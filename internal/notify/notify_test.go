package notify

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"pfctl/internal/session"
	"pfctl/pkg/logging"

	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsole_Notify(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Notify(session.Notification{Level: session.LevelSuccess, Title: "Port forward connected", Message: "service/web in default is available on localhost:8080"})
	c.Notify(session.Notification{Level: session.LevelError, Title: "Port forward error", Message: "boom"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	// A buffer is not a terminal, so no escape sequences are written.
	assert.Equal(t, "✓ Port forward connected  service/web in default is available on localhost:8080", lines[0])
	assert.Equal(t, "✗ Port forward error  boom", lines[1])
}

func TestConsole_ShowTime(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	c.ShowTime = true

	at := time.Date(2024, 5, 1, 14, 3, 9, 0, time.Local)
	c.Notify(session.Notification{Level: session.LevelInfo, Title: "Port forward reconnecting", Time: at})

	assert.Equal(t, "14:03:09 • Port forward reconnecting\n", buf.String())
}

func TestConsole_PrintSession(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.PrintSession(session.Session{
		Namespace:  "default",
		Name:       "web",
		TargetType: session.TargetService,
		TargetPort: 3000,
		LocalPort:  8080,
		Status:     session.StatusConnected,
		PodName:    "web-1",
	})

	assert.Equal(t, "● service/web  http://localhost:8080 -> default:3000  (pod web-1)\n", buf.String())
}

func TestStatusLevel(t *testing.T) {
	assert.Equal(t, session.LevelSuccess, statusLevel(session.StatusConnected))
	assert.Equal(t, session.LevelInfo, statusLevel(session.StatusReconnecting))
	assert.Equal(t, session.LevelWarning, statusLevel(session.StatusDisconnected))
	assert.Equal(t, session.LevelError, statusLevel(session.StatusError))
	assert.Equal(t, session.Level(""), statusLevel(session.StatusStopped))
}

type recorder struct{ got []session.Notification }

func (r *recorder) Notify(n session.Notification) { r.got = append(r.got, n) }

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, nil, b}

	m.Notify(session.Notification{Title: "x"})

	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logging.InitForCLI(logging.LevelDebug, &buf)
	t.Cleanup(func() { logging.InitForCLI(logging.LevelError, io.Discard) })

	Log{}.Notify(session.Notification{SessionID: "s1", Level: session.LevelWarning, Title: "Pod died", Message: "gone"})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "subsystem=Notify-s1")
	assert.Contains(t, out, "Pod died: gone")
}

func TestSessionTable(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "No port forwards.\n", SessionTable(nil, now))

	out := SessionTable([]session.Session{
		{
			ID: "a", Namespace: "default", Name: "web", TargetType: session.TargetService,
			TargetPort: 3000, LocalPort: 8080, Status: session.StatusConnected, PodName: "web-1",
			StartedAt: now.Add(-90 * time.Minute),
		},
		{
			ID: "b", Namespace: "data", Name: "db-0", TargetType: session.TargetPod,
			TargetPort: 5432, Status: session.StatusReconnecting,
			StartedAt: now.Add(-3 * 24 * time.Hour), ReconnectingSince: now.Add(-12 * time.Second),
		},
	}, now)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "TARGET")
	assert.Contains(t, lines[1], "service/web")
	assert.Contains(t, lines[1], "localhost:8080")
	assert.Contains(t, lines[1], "web-1")
	assert.True(t, strings.HasSuffix(lines[1], "1h"), lines[1])
	assert.Contains(t, lines[2], "reconnecting (12s)")
	assert.True(t, strings.HasSuffix(lines[2], "3d"), lines[2])

	// Columns line up in terminal cells.
	col := runewidth.StringWidth(lines[0][:strings.Index(lines[0], "NAMESPACE")])
	for _, line := range lines[1:] {
		ns := "default"
		if strings.Contains(line, "db-0") {
			ns = "data"
		}
		assert.Equal(t, col, runewidth.StringWidth(line[:strings.Index(line, ns)]), line)
	}
}

func TestShortDuration(t *testing.T) {
	assert.Equal(t, "0s", shortDuration(-time.Second))
	assert.Equal(t, "45s", shortDuration(45*time.Second))
	assert.Equal(t, "3m", shortDuration(3*time.Minute+20*time.Second))
	assert.Equal(t, "26h", shortDuration(26*time.Hour))
	assert.Equal(t, "4d", shortDuration(4*24*time.Hour))
}
