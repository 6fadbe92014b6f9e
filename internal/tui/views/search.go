package views

import (
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/rank"
	"github.com/rivo/tview"
)

// SearchView searches the open conversation. Tab switches between the
// local index and the server.
type SearchView struct {
	*tview.Flex
	input   *tview.InputField
	results *tview.Table
	onQuery func(keyword string, remote bool)
	remote  bool
	data    []api.Message
}

// NewSearchView creates a new search view.
func NewSearchView() *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	results.SetBorder(true).SetTitle(" Results ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	sv := &SearchView{
		Flex:    flex,
		input:   input,
		results: results,
	}
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyTab {
			sv.SetRemote(!sv.remote)
			return nil
		}
		return ev
	})
	return sv
}

// SetRemote selects where the next query runs.
func (sv *SearchView) SetRemote(remote bool) {
	sv.remote = remote
	if remote {
		sv.input.SetLabel(" Search (server): ")
		return
	}
	sv.input.SetLabel(" Search: ")
}

// SetOnQuery sets the callback when a search query is submitted.
func (sv *SearchView) SetOnQuery(fn func(keyword string, remote bool)) {
	sv.onQuery = fn
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && sv.onQuery != nil {
			sv.onQuery(strings.TrimSpace(sv.input.GetText()), sv.remote)
		}
	})
}

// SetAutocomplete offers suggestions for the keyword being typed.
func (sv *SearchView) SetAutocomplete(fn func(partial string) []string) {
	sv.input.SetAutocompleteFunc(func(current string) []string {
		if strings.TrimSpace(current) == "" {
			return nil
		}
		return fn(current)
	})
}

// Match markers survive escaping and are swapped for style tags afterwards.
const (
	matchOpen  = "\x00"
	matchClose = "\x01"
)

var matchTags = strings.NewReplacer(matchOpen, "[yellow::b]", matchClose, "[-:-:-]")

// highlightBody renders m with every occurrence of keyword emphasized.
func highlightBody(m api.Message, keyword string) string {
	if keyword == "" || m.IsRecalled {
		return renderBody(m)
	}
	m.Content = rank.Highlight(m.Content, keyword, matchOpen, matchClose)
	return matchTags.Replace(renderBody(m))
}

// Update refreshes search results, highlighting keyword in each body.
func (sv *SearchView) Update(results []api.Message, keyword string) {
	sv.data = results
	sv.results.Clear()

	sv.results.SetCell(0, 0, tview.NewTableCell(" Sender").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	sv.results.SetCell(0, 1, tview.NewTableCell(" Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	sv.results.SetCell(0, 2, tview.NewTableCell(" Score").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, m := range results {
		row := i + 1
		sender := m.SenderName
		if sender == "" {
			sender = m.SenderID
		}
		score := ""
		if m.Relevance > 0 {
			score = strconv.FormatFloat(m.Relevance, 'f', 2, 64)
		}
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sender)).SetMaxWidth(20))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+highlightBody(m, keyword)).SetExpansion(1))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+score).SetMaxWidth(6))
	}
}

// SelectedResult returns the selected message.
func (sv *SearchView) SelectedResult() (api.Message, bool) {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(sv.data) {
		return sv.data[idx], true
	}
	return api.Message{}, false
}

// Input returns the search input field.
func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

// Results returns the results table.
func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
