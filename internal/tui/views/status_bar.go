package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays connection state, queue depth and the flash line.
type StatusBar struct {
	*tview.TextView
	session    string
	state      string
	latency    time.Duration
	queued     int
	typing     []string
	flash      string
	flashError bool
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetConnection updates the relay state, round trip and queued work.
func (sb *StatusBar) SetConnection(state string, latency time.Duration, queued int) {
	sb.state = state
	sb.latency = latency
	sb.queued = queued
	sb.render()
}

// SetTyping lists the users typing in the open conversation.
func (sb *StatusBar) SetTyping(users []string) {
	sb.typing = users
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, isError bool) {
	sb.flash = msg
	sb.flashError = isError
	sb.render()
}

func stateColor(state string) string {
	switch state {
	case "CONNECTED":
		return "green"
	case "CONNECTING", "RECONNECTING":
		return "yellow"
	case "ERROR":
		return "red"
	}
	return "gray"
}

func (sb *StatusBar) render() {
	sb.Clear()

	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-]", sb.session, stateColor(sb.state), sb.state)
	if sb.latency > 0 {
		line += fmt.Sprintf(" %dms", sb.latency.Milliseconds())
	}
	if sb.queued > 0 {
		line += fmt.Sprintf(" | [yellow]%d queued[-]", sb.queued)
	}
	if len(sb.typing) > 0 {
		line += fmt.Sprintf(" | [::i]%s typing...[-:-:-]", strings.Join(sb.typing, ", "))
	}
	line += " | " + time.Now().Format("15:04")
	if sb.flash != "" {
		color := "yellow"
		if sb.flashError {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
