package views

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/rivo/tview"
)

// MessageView lists the messages of the open conversation, one row each,
// in the order the daemon sorted them.
type MessageView struct {
	*tview.Table
	msgs   []api.Message
	selfID string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{Table: table}
}

// SetSelf sets the user id shown as "You".
func (mv *MessageView) SetSelf(userID string) {
	mv.selfID = userID
}

// SetTitleInfo shows the conversation and the active sort in the border.
func (mv *MessageView) SetTitleInfo(conversation, sort string) {
	title := " " + conversation + " "
	if sort != "" {
		title += "[" + sort + "] "
	}
	mv.SetTitle(title)
}

// Update refreshes the rows, keeping the selected message when possible.
func (mv *MessageView) Update(msgs []api.Message) {
	selected := ""
	if m, ok := mv.SelectedMessage(); ok {
		selected = m.ID
	}
	mv.msgs = msgs
	mv.Clear()

	for i, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		if m.SenderID == mv.selfID {
			sender = "You"
		}
		mv.SetCell(i, 0, tview.NewTableCell(" "+formatTime(m.CreatedAt)).SetTextColor(tview.Styles.TertiaryTextColor))
		mv.SetCell(i, 1, tview.NewTableCell(" "+tview.Escape(sender)).SetMaxWidth(16))
		mv.SetCell(i, 2, tview.NewTableCell(" "+renderBody(m)).SetExpansion(1))
		mv.SetCell(i, 3, tview.NewTableCell(" "+statusGlyph(m.Status)).SetTextColor(tview.Styles.SecondaryTextColor))
		if m.ID == selected {
			mv.Select(i, 0)
		}
	}
	if selected == "" && len(msgs) > 0 {
		mv.Select(len(msgs)-1, 0)
		mv.ScrollToEnd()
	}
}

// SelectedMessage returns the highlighted message.
func (mv *MessageView) SelectedMessage() (api.Message, bool) {
	row, _ := mv.GetSelection()
	if row >= 0 && row < len(mv.msgs) {
		return mv.msgs[row], true
	}
	return api.Message{}, false
}

func renderBody(m api.Message) string {
	if m.IsRecalled {
		return "[::d]message recalled[-:-:-]"
	}
	body := tview.Escape(sanitize(strings.ReplaceAll(m.Content, "\n", " ")))
	var tags []string
	if m.EditCount > 0 {
		tags = append(tags, "edited")
	}
	if m.Liked || m.LikeCount > 0 {
		tags = append(tags, fmt.Sprintf("♥%d", m.LikeCount))
	}
	if m.Collected {
		tags = append(tags, "★")
	}
	if len(tags) > 0 {
		body += " [::d](" + strings.Join(tags, " ") + ")[-:-:-]"
	}
	return body
}

func statusGlyph(status string) string {
	switch status {
	case "sent":
		return "✓"
	case "delivered":
		return "✓✓"
	case "read":
		return "[blue]✓✓[-]"
	}
	return ""
}

// sanitize drops emoji modifiers, joiners and variation selectors, which
// tcell renders with the wrong cell width.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF, r == 0x200D,
			r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
