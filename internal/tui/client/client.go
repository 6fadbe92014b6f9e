package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/dmsync/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client of the daemon control service.
type Client struct {
	conn grpc.ClientConnInterface
	cc   *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// FromConn wraps an existing connection.
func FromConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := api.Encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return api.Decode(out, resp)
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var resp api.StatusResponse
	return resp, c.call(ctx, api.MethodStatus, nil, &resp)
}

func (c *Client) Connect(ctx context.Context) (string, error) {
	var resp api.StateResponse
	err := c.call(ctx, api.MethodConnect, nil, &resp)
	return resp.State, err
}

func (c *Client) Disconnect(ctx context.Context) (string, error) {
	var resp api.StateResponse
	err := c.call(ctx, api.MethodDisconnect, nil, &resp)
	return resp.State, err
}

// Logout disconnects and clears the session's cached state.
func (c *Client) Logout(ctx context.Context) (string, error) {
	var resp api.StateResponse
	err := c.call(ctx, api.MethodLogout, nil, &resp)
	return resp.State, err
}

func (c *Client) OpenConversation(ctx context.Context, conversationID string) (api.OpenConversationResponse, error) {
	var resp api.OpenConversationResponse
	err := c.call(ctx, api.MethodOpenConversation, api.ConversationRequest{ConversationID: conversationID}, &resp)
	return resp, err
}

func (c *Client) Send(ctx context.Context, conversationID, content string) (api.SendMessageResponse, error) {
	var resp api.SendMessageResponse
	err := c.call(ctx, api.MethodSendMessage, api.SendMessageRequest{ConversationID: conversationID, Content: content}, &resp)
	return resp, err
}

func (c *Client) ListMessages(ctx context.Context, req api.ListMessagesRequest) (api.ListMessagesResponse, error) {
	var resp api.ListMessagesResponse
	err := c.call(ctx, api.MethodListMessages, req, &resp)
	return resp, err
}

func (c *Client) ViewMessage(ctx context.Context, messageID string) (api.Message, error) {
	var resp api.MessageResponse
	err := c.call(ctx, api.MethodViewMessage, api.MessageRequest{MessageID: messageID}, &resp)
	return resp.Message, err
}

func (c *Client) MarkRead(ctx context.Context, conversationID, messageID string) (bool, error) {
	var resp api.SentResponse
	err := c.call(ctx, api.MethodMarkRead, api.MessageRequest{MessageID: messageID, ConversationID: conversationID}, &resp)
	return resp.Sent, err
}

func (c *Client) Typing(ctx context.Context, conversationID string, isTyping bool) (bool, error) {
	var resp api.SentResponse
	err := c.call(ctx, api.MethodTyping, api.TypingRequest{ConversationID: conversationID, IsTyping: isTyping}, &resp)
	return resp.Sent, err
}

func (c *Client) Edit(ctx context.Context, messageID, content string) (api.EditResponse, error) {
	var resp api.EditResponse
	err := c.call(ctx, api.MethodEditMessage, api.EditMessageRequest{MessageID: messageID, Content: content}, &resp)
	return resp, err
}

func (c *Client) Recall(ctx context.Context, messageID string) (bool, error) {
	var resp api.QueuedResponse
	err := c.call(ctx, api.MethodRecallMessage, api.MessageRequest{MessageID: messageID}, &resp)
	return resp.Queued, err
}

// Delete forgets a message locally and drops its queued frames.
func (c *Client) Delete(ctx context.Context, messageID string) (api.DeleteResponse, error) {
	var resp api.DeleteResponse
	err := c.call(ctx, api.MethodDeleteMessage, api.MessageRequest{MessageID: messageID}, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, messageID string) ([]api.Version, error) {
	var resp api.HistoryResponse
	err := c.call(ctx, api.MethodHistory, api.MessageRequest{MessageID: messageID}, &resp)
	return resp.Versions, err
}

func (c *Client) Restore(ctx context.Context, messageID string, version int) (api.EditResponse, error) {
	var resp api.EditResponse
	err := c.call(ctx, api.MethodRestoreVersion, api.RestoreVersionRequest{MessageID: messageID, Version: version}, &resp)
	return resp, err
}

func (c *Client) Toggle(ctx context.Context, kind, targetType, targetID string) (api.ToggleResponse, error) {
	var resp api.ToggleResponse
	err := c.call(ctx, api.MethodToggle, api.ToggleRequest{Kind: kind, TargetType: targetType, TargetID: targetID}, &resp)
	return resp, err
}

func (c *Client) Pin(ctx context.Context, messageID string) (bool, error) {
	var resp api.ChangedResponse
	err := c.call(ctx, api.MethodPin, api.MessageRequest{MessageID: messageID}, &resp)
	return resp.Changed, err
}

func (c *Client) Unpin(ctx context.Context, messageID string) (bool, error) {
	var resp api.ChangedResponse
	err := c.call(ctx, api.MethodUnpin, api.MessageRequest{MessageID: messageID}, &resp)
	return resp.Changed, err
}

func (c *Client) QuickAccess(ctx context.Context) (api.QuickAccessResponse, error) {
	var resp api.QuickAccessResponse
	return resp, c.call(ctx, api.MethodQuickAccess, nil, &resp)
}

func (c *Client) SetFilter(ctx context.Context, req api.SetFilterRequest) (api.QuickAccessResponse, error) {
	var resp api.QuickAccessResponse
	err := c.call(ctx, api.MethodSetFilter, req, &resp)
	return resp, err
}

// Mark toggles mark on a message. An empty mark only reads the marks.
func (c *Client) Mark(ctx context.Context, messageID, mark string) (api.MarkResponse, error) {
	var resp api.MarkResponse
	err := c.call(ctx, api.MethodMark, api.MarkRequest{MessageID: messageID, Mark: mark}, &resp)
	return resp, err
}

func (c *Client) SetPreference(ctx context.Context, req api.SetPreferenceRequest) (api.Preferences, error) {
	var resp api.Preferences
	err := c.call(ctx, api.MethodSetPreference, req, &resp)
	return resp, err
}

func (c *Client) Suggestions(ctx context.Context, partial string) ([]string, error) {
	var resp api.SuggestionsResponse
	err := c.call(ctx, api.MethodSuggestions, api.SuggestionsRequest{Partial: partial}, &resp)
	return resp.Suggestions, err
}

func (c *Client) Cache(ctx context.Context, purge bool) (api.CacheResponse, error) {
	var resp api.CacheResponse
	err := c.call(ctx, api.MethodCache, api.CacheRequest{Clear: purge}, &resp)
	return resp, err
}

func (c *Client) Presence(ctx context.Context, req api.PresenceRequest) (api.PresenceResponse, error) {
	var resp api.PresenceResponse
	err := c.call(ctx, api.MethodPresence, req, &resp)
	return resp, err
}

func (c *Client) Retry(ctx context.Context) (api.RetryResponse, error) {
	var resp api.RetryResponse
	return resp, c.call(ctx, api.MethodRetry, nil, &resp)
}

// Watch streams daemon events matching namespaces to fn until ctx ends,
// the stream fails or fn returns an error.
func (c *Client) Watch(ctx context.Context, namespaces []string, fn func(api.Event) error) error {
	stream, err := c.conn.NewStream(ctx, &api.ServiceDesc.Streams[0], api.FullMethod(api.MethodWatch))
	if err != nil {
		return err
	}
	in, err := api.Encode(api.WatchRequest{Namespaces: namespaces})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var evt api.Event
		if err := api.Decode(out, &evt); err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
