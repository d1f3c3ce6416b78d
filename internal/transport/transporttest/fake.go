// Package transporttest provides an in-memory transport.Client for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"tgcast/internal/transport"
)

// Call is one recorded client invocation.
type Call struct {
	Method  string
	Chat    string
	Text    string
	Items   int
	Message int
}

// Client records calls and answers with increasing message ids. Fail, when
// set, is consulted before every call; a non-nil error is returned as is.
type Client struct {
	mu     sync.Mutex
	calls  []Call
	nextID int

	Fail   func(c Call) error
	Chat   transport.ChatInfo
	Member transport.MemberInfo
	Me     transport.BotInfo
}

func New() *Client {
	return &Client{
		nextID: 100,
		Member: transport.MemberInfo{Status: "administrator", CanPost: true, CanDelete: true, IsAdminLike: true},
		Me:     transport.BotInfo{ID: 42, Username: "tgcast_bot", Name: "tgcast"},
	}
}

var _ transport.Client = (*Client)(nil)

// Calls returns a copy of the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Count returns how many calls matched method (and chat, when not empty).
func (c *Client) Count(method, chat string) int {
	n := 0
	for _, call := range c.Calls() {
		if call.Method == method && (chat == "" || call.Chat == chat) {
			n++
		}
	}
	return n
}

func (c *Client) record(call Call, ids int) (transport.Receipt, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	fail := c.Fail
	c.mu.Unlock()
	if fail != nil {
		if err := fail(call); err != nil {
			return transport.Receipt{}, err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rc := transport.Receipt{}
	for i := 0; i < ids; i++ {
		c.nextID++
		rc.MessageIDs = append(rc.MessageIDs, c.nextID)
	}
	return rc, nil
}

func (c *Client) SendText(_ context.Context, chat, text string, _ *transport.SendOptions) (transport.Receipt, error) {
	return c.record(Call{Method: "sendText", Chat: chat, Text: text}, 1)
}

func (c *Client) SendPhoto(_ context.Context, chat string, _ transport.Media, caption string, _ *transport.SendOptions) (transport.Receipt, error) {
	return c.record(Call{Method: "sendPhoto", Chat: chat, Text: caption, Items: 1}, 1)
}

func (c *Client) SendVideo(_ context.Context, chat string, _ transport.Media, caption string, _ *transport.SendOptions) (transport.Receipt, error) {
	return c.record(Call{Method: "sendVideo", Chat: chat, Text: caption, Items: 1}, 1)
}

func (c *Client) SendDocument(_ context.Context, chat string, _ transport.Media, caption string, _ *transport.SendOptions) (transport.Receipt, error) {
	return c.record(Call{Method: "sendDocument", Chat: chat, Text: caption, Items: 1}, 1)
}

func (c *Client) SendMediaGroup(_ context.Context, chat string, items []transport.Media, caption string, _ *transport.SendOptions) (transport.Receipt, error) {
	return c.record(Call{Method: "sendMediaGroup", Chat: chat, Text: caption, Items: len(items)}, len(items))
}

func (c *Client) DeleteMessage(_ context.Context, chat string, id int) error {
	_, err := c.record(Call{Method: "deleteMessage", Chat: chat, Message: id}, 0)
	return err
}

func (c *Client) GetChat(_ context.Context, chat string) (transport.ChatInfo, error) {
	if _, err := c.record(Call{Method: "getChat", Chat: chat}, 0); err != nil {
		return transport.ChatInfo{}, err
	}
	info := c.Chat
	if info.Title == "" {
		info.Title = fmt.Sprintf("chat %s", chat)
	}
	return info, nil
}

func (c *Client) GetChatMember(_ context.Context, chat string, _ int64) (transport.MemberInfo, error) {
	if _, err := c.record(Call{Method: "getChatMember", Chat: chat}, 0); err != nil {
		return transport.MemberInfo{}, err
	}
	return c.Member, nil
}

func (c *Client) GetMe(_ context.Context) (transport.BotInfo, error) {
	if _, err := c.record(Call{Method: "getMe"}, 0); err != nil {
		return transport.BotInfo{}, err
	}
	return c.Me, nil
}
