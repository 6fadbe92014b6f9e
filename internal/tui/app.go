package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/tui/client"
	"github.com/matheus3301/dmsync/internal/tui/keys"
	"github.com/matheus3301/dmsync/internal/tui/model"
	"github.com/matheus3301/dmsync/internal/tui/views"
	"github.com/rivo/tview"
)

const flashTTL = 5 * time.Second

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	grpc      *client.Client
	registry  *keys.Registry
	statusBar *views.StatusBar
	convList  *views.ConversationList
	msgView   *views.MessageView
	composer  *views.Composer
	searchV   *views.SearchView
	invite    *views.InviteView
	relayURL  string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application. relayURL is embedded in invite links.
func NewApp(c *client.Client, sessionName, relayURL string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	vm := model.NewViewModel(c)

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        vm,
		grpc:      c,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		searchV:   views.NewSearchView(),
		invite:    views.NewInviteView(),
		relayURL:  relayURL,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal("search", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:search", Visible: true,
		Handler: func() { a.showSearch() },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: "::command", Visible: true,
		Handler: func() {
			a.showChat()
			a.composer.StartCommand()
			a.app.SetFocus(a.composer)
		},
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() {
			page, _ := a.pages.GetFrontPage()
			a.vm.Flash.Set(strings.Join(a.registry.Hints(page), "  "), 10*time.Second)
			a.refreshStatus()
		},
	})

	a.registry.AddView("chat", "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:write", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer) },
	})
	a.registry.AddView("chat", "edit", &keys.Action{
		Rune: 'e', Key: tcell.KeyRune,
		Description: "e:edit", Visible: true,
		Handler: func() {
			if m, ok := a.msgView.SelectedMessage(); ok {
				a.composer.StartEdit(m.ID, m.Content)
				a.app.SetFocus(a.composer)
			}
		},
	})
	for _, view := range []string{"chat", "search"} {
		a.registry.AddView(view, "like", &keys.Action{
			Rune: 'l', Key: tcell.KeyRune,
			Description: "l:like", Visible: true,
			Handler: func() { a.runCommand(Command{Name: "like"}) },
		})
		a.registry.AddView(view, "pin", &keys.Action{
			Rune: 'p', Key: tcell.KeyRune,
			Description: "p:pin", Visible: true,
			Handler: func() { a.runCommand(Command{Name: "pin"}) },
		})
	}
	a.registry.AddView("chat", "sort", &keys.Action{
		Rune: 'o', Key: tcell.KeyRune,
		Description: "o:sort", Visible: true,
		Handler: func() { a.runCommand(Command{Name: "sort", Args: nextSort(a.vm.SortName())}) },
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if id := a.convList.SelectedConversation(); id != "" {
			a.openConversation(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		if strings.HasPrefix(text, ":") {
			a.runCommand(ParseCommand(text[1:]))
			return
		}
		if a.vm.Active() == "" {
			a.vm.Flash.Error("Open a conversation first", flashTTL)
			a.refreshStatus()
			return
		}
		a.async(func() error { return a.vm.SendText(a.ctx, text) })
	})

	a.composer.SetOnEdit(func(messageID, text string) {
		a.async(func() error { return a.vm.Edit(a.ctx, messageID, text) })
		a.app.SetFocus(a.msgView)
	})

	a.composer.SetOnCancel(func() { a.app.SetFocus(a.msgView) })

	a.searchV.SetOnQuery(func(keyword string, remote bool) {
		go func() {
			results, err := a.vm.Search(a.ctx, keyword, remote)
			if err != nil {
				a.vm.Flash.Error("Search failed: "+err.Error(), flashTTL)
				a.app.QueueUpdateDraw(a.refreshStatus)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results, keyword)
				a.app.SetFocus(a.searchV.Results())
				a.refreshStatus()
			})
		}()
	})

	a.searchV.SetAutocomplete(func(partial string) []string {
		ctx, cancel := context.WithTimeout(a.ctx, time.Second)
		defer cancel()
		s, err := a.grpc.Suggestions(ctx, partial)
		if err != nil {
			return nil
		}
		return s
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, true).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)
	a.pages.AddPage("invite", a.invite, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()
		focused := a.app.GetFocus()
		_, inInput := focused.(*tview.InputField)

		if event.Key() == tcell.KeyEscape && !inInput {
			switch currentPage {
			case "chat", "search", "invite":
				a.pages.SwitchToPage("conversations")
				a.app.SetFocus(a.convList)
				return nil
			}
		}
		if event.Key() == tcell.KeyEscape && currentPage == "search" {
			a.showChat()
			return nil
		}

		// Let text input widgets handle all keys normally.
		if inInput {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}
		return event
	})
}

// async runs fn off the UI goroutine and redraws afterwards.
func (a *App) async(fn func() error) {
	go func() {
		if err := fn(); err != nil {
			a.vm.Flash.Error(err.Error(), flashTTL)
		}
		a.app.QueueUpdateDraw(a.refreshAll)
	}()
}

func (a *App) openConversation(id string) {
	a.async(func() error {
		if err := a.vm.OpenConversation(a.ctx, id); err != nil {
			return err
		}
		a.app.QueueUpdateDraw(a.showChat)
		return nil
	})
}

func (a *App) showChat() {
	a.pages.SwitchToPage("chat")
	a.app.SetFocus(a.msgView)
}

func (a *App) showSearch() {
	if a.vm.Active() == "" {
		a.vm.Flash.Error("Open a conversation to search it", flashTTL)
		a.refreshStatus()
		return
	}
	a.pages.SwitchToPage("search")
	a.app.SetFocus(a.searchV.Input())
}

// selected returns the message under the cursor on the current page.
func (a *App) selected() (string, bool) {
	if page, _ := a.pages.GetFrontPage(); page == "search" {
		m, ok := a.searchV.SelectedResult()
		return m.ID, ok
	}
	m, ok := a.msgView.SelectedMessage()
	return m.ID, ok
}

// runCommand executes a ':' command against the selected message or the
// open conversation.
func (a *App) runCommand(cmd Command) {
	needMessage := func(fn func(c *client.Client, id string) (string, error)) {
		id, ok := a.selected()
		if !ok {
			a.vm.Flash.Error("Select a message first", flashTTL)
			a.refreshStatus()
			return
		}
		a.async(func() error {
			return a.vm.Run(a.ctx, func(c *client.Client) (string, error) { return fn(c, id) })
		})
	}

	switch cmd.Name {
	case "q", "quit":
		a.Stop()
	case "open":
		a.openConversation(cmd.Args)
	case "connect":
		a.async(func() error {
			_, err := a.grpc.Connect(a.ctx)
			return err
		})
	case "disconnect":
		a.async(func() error {
			_, err := a.grpc.Disconnect(a.ctx)
			return err
		})
	case "retry":
		a.async(func() error {
			return a.vm.Run(a.ctx, func(c *client.Client) (string, error) {
				r, err := c.Retry(a.ctx)
				return fmt.Sprintf("Retried: %d sent, %d left", r.Sent, r.Retained), err
			})
		})
	case "sort":
		a.async(func() error { return a.vm.SetSort(a.ctx, cmd.Args) })
	case "filter":
		a.async(func() error {
			return a.vm.Run(a.ctx, func(c *client.Client) (string, error) {
				r, err := c.SetFilter(a.ctx, filterRequest(cmd.Args))
				return "Filters: " + strings.Join(r.Filters, ", "), err
			})
		})
	case "search":
		a.showSearch()
		a.searchV.SetRemote(false)
		a.searchV.Input().SetText(cmd.Args)
	case "remote":
		a.showSearch()
		a.searchV.SetRemote(true)
		a.searchV.Input().SetText(cmd.Args)
	case "invite":
		conv := a.vm.Active()
		if conv == "" {
			a.vm.Flash.Error("Open a conversation first", flashTTL)
			a.refreshStatus()
			return
		}
		a.invite.ShowLink(conv, session.InviteLink(a.relayURL, conv))
		a.pages.SwitchToPage("invite")
	case "edit":
		needMessage(func(c *client.Client, id string) (string, error) {
			r, err := c.Edit(a.ctx, id, cmd.Args)
			return fmt.Sprintf("Edited, version %d", r.Version), err
		})
	case "recall":
		needMessage(func(c *client.Client, id string) (string, error) {
			_, err := c.Recall(a.ctx, id)
			return "Recalled", err
		})
	case "restore":
		v, err := strconv.Atoi(strings.TrimPrefix(cmd.Args, "v"))
		if err != nil {
			a.vm.Flash.Error("usage: :restore <version>", flashTTL)
			a.refreshStatus()
			return
		}
		needMessage(func(c *client.Client, id string) (string, error) {
			r, err := c.Restore(a.ctx, id, v)
			return fmt.Sprintf("Restored as version %d", r.Version), err
		})
	case "history":
		needMessage(func(c *client.Client, id string) (string, error) {
			versions, err := c.History(a.ctx, id)
			return fmt.Sprintf("%d versions, restore with :restore <n>", len(versions)), err
		})
	case "like", "collect":
		needMessage(func(c *client.Client, id string) (string, error) {
			r, err := c.Toggle(a.ctx, cmd.Name, "message", id)
			if err == nil && !r.Confirmed {
				return "Server rejected " + cmd.Name + ", rolled back", nil
			}
			return "", err
		})
	case "pin":
		needMessage(func(c *client.Client, id string) (string, error) {
			_, err := c.Pin(a.ctx, id)
			return "Pinned", err
		})
	case "unpin":
		needMessage(func(c *client.Client, id string) (string, error) {
			_, err := c.Unpin(a.ctx, id)
			return "Unpinned", err
		})
	case "mark":
		needMessage(func(c *client.Client, id string) (string, error) {
			r, err := c.Mark(a.ctx, id, cmd.Args)
			return "Marks: " + strings.Join(r.Marks, ", "), err
		})
	case "read":
		needMessage(func(c *client.Client, id string) (string, error) {
			_, err := c.MarkRead(a.ctx, a.vm.Active(), id)
			return "", err
		})
	default:
		a.vm.Flash.Error("Unknown command: "+cmd.Name, flashTTL)
		a.refreshStatus()
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		_ = a.vm.LoadStatus(a.ctx)
		a.app.QueueUpdateDraw(a.refreshAll)
		a.startRefreshLoop()
		go a.watch()
	}()

	return a.app.Run()
}

// watch follows daemon events, resubscribing after transient stream errors.
func (a *App) watch() {
	for a.ctx.Err() == nil {
		if err := a.vm.Watch(a.ctx); err != nil && a.ctx.Err() == nil {
			a.vm.Flash.Error("Event stream lost: "+err.Error(), flashTTL)
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = a.vm.LoadStatus(a.ctx)
				a.app.QueueUpdateDraw(a.refreshAll)
			case <-a.vm.RefreshCh():
				a.app.QueueUpdateDraw(a.refreshAll)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) refreshAll() {
	st := a.vm.GetStatus()
	a.convList.Update(a.vm.GetConversations(), a.vm.Active())
	a.msgView.SetSelf(st.UserID)
	a.msgView.SetTitleInfo(a.vm.Active(), a.vm.SortName())
	a.msgView.Update(a.vm.GetMessages())
	a.refreshStatus()
}

func (a *App) refreshStatus() {
	st := a.vm.GetStatus()
	a.statusBar.SetConnection(st.State, time.Duration(st.LatencyMS)*time.Millisecond, st.Queued)
	a.statusBar.SetTyping(a.vm.Typing())
	msg, level := a.vm.Flash.Get()
	a.statusBar.SetFlash(msg, level == model.FlashError)
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
