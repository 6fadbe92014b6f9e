package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/rivo/tview"
)

// ConversationList is the table of known conversations.
type ConversationList struct {
	*tview.Table
	convs  []api.Conversation
	active string
}

// NewConversationList creates a new conversation table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Conversations ")

	return &ConversationList{Table: table}
}

// Update refreshes the list. The selected row is kept when the same
// conversation is still present.
func (cl *ConversationList) Update(convs []api.Conversation, active string) {
	selected := cl.SelectedConversation()
	cl.convs = convs
	cl.active = active
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell(" Conversation").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 1, tview.NewTableCell(" Unread").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Activity").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 3, tview.NewTableCell(" Last").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, c := range convs {
		row := i + 1
		name := c.ID
		if c.ID == active {
			name = "> " + name
		}
		unread := ""
		if c.Unread > 0 {
			unread = fmt.Sprintf("%d", c.Unread)
		}
		activity := ""
		if len(c.Typing) > 0 {
			activity = strings.Join(c.Typing, ", ") + " typing"
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(" "+unread).SetMaxWidth(8))
		cl.SetCell(row, 2, tview.NewTableCell(" "+activity).SetMaxWidth(30).SetExpansion(1))
		cl.SetCell(row, 3, tview.NewTableCell(" "+formatTime(c.LastMessageAt)).SetMaxWidth(12))
		if c.ID == selected {
			cl.Select(row, 0)
		}
	}
}

// SelectedConversation returns the id of the selected row.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // account for header
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx].ID
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
