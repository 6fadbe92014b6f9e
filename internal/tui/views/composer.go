package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for messages, edits and ':' commands.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onEdit   func(messageID, text string)
	onCancel func()
	editing  string
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := c.GetText()
			if text == "" {
				return
			}
			if c.editing != "" {
				if c.onEdit != nil {
					c.onEdit(c.editing, text)
				}
			} else if c.onSend != nil {
				c.onSend(text)
			}
			c.Reset()
		case tcell.KeyEscape:
			c.Reset()
			if c.onCancel != nil {
				c.onCancel()
			}
		}
	})

	return c
}

// SetOnSend sets the callback for new text.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnEdit sets the callback for a submitted edit.
func (c *Composer) SetOnEdit(fn func(messageID, text string)) {
	c.onEdit = fn
}

// SetOnCancel sets the callback for Escape.
func (c *Composer) SetOnCancel(fn func()) {
	c.onCancel = fn
}

// StartEdit prefills content and routes the next submit to the edit
// callback for messageID.
func (c *Composer) StartEdit(messageID, content string) {
	c.editing = messageID
	c.SetLabel(" edit> ")
	c.SetText(content)
}

// StartCommand prefills ':' for a command line.
func (c *Composer) StartCommand() {
	c.editing = ""
	c.SetLabel(" > ")
	c.SetText(":")
}

// Reset clears the text and leaves edit mode.
func (c *Composer) Reset() {
	c.editing = ""
	c.SetLabel(" > ")
	c.SetText("")
}
