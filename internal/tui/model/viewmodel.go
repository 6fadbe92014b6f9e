package model

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/dmsync/internal/api"
	"github.com/matheus3301/dmsync/internal/tui/client"
)

// WatchedNamespaces are the daemon events that change what the TUI shows.
var WatchedNamespaces = []string{"conn.", "message.", "conversation.", "presence.", "engagement.", "quickaccess.", "notify."}

// ViewModel caches daemon state and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	client             *client.Client
	Status             api.StatusResponse
	Messages           []api.Message
	ActiveConversation string
	Keyword            string
	Sort               string
	Flash              Flash

	refreshCh chan struct{}
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(c *client.Client) *ViewModel {
	return &ViewModel{
		client:    c,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches connection state and the conversation list.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.Status = resp
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// OpenConversation makes id the active conversation and loads its messages.
func (vm *ViewModel) OpenConversation(ctx context.Context, id string) error {
	resp, err := vm.client.OpenConversation(ctx, id)
	if err != nil {
		return err
	}
	if !resp.Joined {
		vm.Flash.Set("Offline: join will be sent on reconnect", 5*time.Second)
	}
	vm.mu.Lock()
	vm.ActiveConversation = id
	vm.Keyword = ""
	vm.mu.Unlock()
	return vm.LoadMessages(ctx)
}

// LoadMessages reloads the active conversation with the current keyword
// and sort.
func (vm *ViewModel) LoadMessages(ctx context.Context) error {
	vm.mu.RLock()
	req := api.ListMessagesRequest{
		ConversationID: vm.ActiveConversation,
		Keyword:        vm.Keyword,
		Sort:           vm.Sort,
	}
	vm.mu.RUnlock()
	if req.ConversationID == "" {
		return nil
	}
	resp, err := vm.client.ListMessages(ctx, req)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.Messages = resp.Messages
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// Search filters the active conversation by keyword. Remote runs the
// server-side search instead.
func (vm *ViewModel) Search(ctx context.Context, keyword string, remote bool) ([]api.Message, error) {
	vm.mu.RLock()
	conv, sort := vm.ActiveConversation, vm.Sort
	vm.mu.RUnlock()
	resp, err := vm.client.ListMessages(ctx, api.ListMessagesRequest{
		ConversationID: conv,
		Keyword:        keyword,
		Sort:           sort,
		Remote:         remote,
	})
	if err != nil {
		return nil, err
	}
	if resp.Cached {
		vm.Flash.Set("Cached results", 3*time.Second)
	}
	return resp.Messages, nil
}

// SetSort changes the sort strategy and reloads.
func (vm *ViewModel) SetSort(ctx context.Context, strategy string) error {
	vm.mu.Lock()
	vm.Sort = strategy
	vm.mu.Unlock()
	return vm.LoadMessages(ctx)
}

// SendText sends text to the active conversation.
func (vm *ViewModel) SendText(ctx context.Context, text string) error {
	conv := vm.Active()
	resp, err := vm.client.Send(ctx, conv, text)
	if err != nil {
		return err
	}
	if resp.Queued {
		vm.Flash.Set("Offline: message queued", 3*time.Second)
	}
	return vm.LoadMessages(ctx)
}

// Edit replaces the content of messageID.
func (vm *ViewModel) Edit(ctx context.Context, messageID, content string) error {
	resp, err := vm.client.Edit(ctx, messageID, content)
	if err != nil {
		return err
	}
	switch {
	case !resp.Changed:
		vm.Flash.Set("Nothing changed", 3*time.Second)
	case resp.Queued:
		vm.Flash.Set("Edit queued, will retry on reconnect", 5*time.Second)
	}
	return vm.LoadMessages(ctx)
}

// Run dispatches one daemon call and reloads messages afterwards.
func (vm *ViewModel) Run(ctx context.Context, fn func(c *client.Client) (string, error)) error {
	msg, err := fn(vm.client)
	if err != nil {
		return err
	}
	if msg != "" {
		vm.Flash.Set(msg, 3*time.Second)
	}
	return vm.LoadMessages(ctx)
}

// Watch streams daemon events until ctx ends, refreshing state as they
// arrive and turning notifications into flash messages.
func (vm *ViewModel) Watch(ctx context.Context) error {
	return vm.client.Watch(ctx, WatchedNamespaces, func(evt api.Event) error {
		vm.apply(ctx, evt)
		return nil
	})
}

func (vm *ViewModel) apply(ctx context.Context, evt api.Event) {
	switch {
	case strings.HasPrefix(evt.Kind, "notify."):
		var n struct{ Text string }
		if json.Unmarshal(evt.Payload, &n) == nil && n.Text != "" {
			vm.Flash.Set(n.Text, 5*time.Second)
		}
		vm.signalRefresh()
	case strings.HasPrefix(evt.Kind, "message."), strings.HasPrefix(evt.Kind, "engagement."):
		_ = vm.LoadMessages(ctx)
		_ = vm.LoadStatus(ctx)
	default:
		_ = vm.LoadStatus(ctx)
	}
}

// Active returns the active conversation id.
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.ActiveConversation
}

// GetConversations returns a snapshot of the conversation list.
func (vm *ViewModel) GetConversations() []api.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Status.Conversations
}

// GetMessages returns a snapshot of the current messages.
func (vm *ViewModel) GetMessages() []api.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Messages
}

// GetStatus returns a snapshot of the daemon status.
func (vm *ViewModel) GetStatus() api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Status
}

// SortName returns the sort strategy in use; empty means the preferred one.
func (vm *ViewModel) SortName() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.Sort
}

// Typing returns who is typing in the active conversation.
func (vm *ViewModel) Typing() []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.Status.Conversations {
		if c.ID == vm.ActiveConversation {
			return c.Typing
		}
	}
	return nil
}
