// Package httpapi is the REST client of the message backend: edit
// history, remote search and engagement toggles.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/dmsync/internal/msgstore"
	"github.com/matheus3301/dmsync/internal/optimistic"
	"github.com/matheus3301/dmsync/internal/protocol"
	"github.com/matheus3301/dmsync/internal/rank"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Client talks to the backend at BaseURL on behalf of one user.
type Client struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
}

// New creates a client. hc may be nil.
func New(baseURL, token, userID string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		userID:  userID,
		http:    hc,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

type historyResponse struct {
	Versions []msgstore.EditVersion `json:"versions"`
}

// FetchHistory returns the server-side edit history of messageID.
func (c *Client) FetchHistory(ctx context.Context, messageID string) ([]msgstore.EditVersion, error) {
	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(messageID)+"/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

type searchResponse struct {
	Messages []protocol.Message `json:"messages"`
}

// SearchMessages runs the server-side search of a conversation.
func (c *Client) SearchMessages(ctx context.Context, conversationID, keyword string, opts rank.SearchOptions) ([]msgstore.Message, error) {
	q := url.Values{"q": {keyword}}
	if opts.SenderID != "" {
		q.Set("senderId", opts.SenderID)
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var resp searchResponse
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages/search"
	if err := c.do(ctx, http.MethodGet, path, q, &resp); err != nil {
		return nil, err
	}
	out := make([]msgstore.Message, len(resp.Messages))
	for i, m := range resp.Messages {
		out[i] = m.ToStore()
	}
	return out, nil
}

// Toggle sets or clears an engagement: POST to turn it on, DELETE to turn
// it off.
func (c *Client) Toggle(ctx context.Context, kind optimistic.Kind, target optimistic.Target, on bool) error {
	method := http.MethodDelete
	if on {
		method = http.MethodPost
	}
	path := fmt.Sprintf("/api/%ss/%s/%s", target.Type, url.PathEscape(target.ID), kind)
	return c.do(ctx, method, path, nil, nil)
}
