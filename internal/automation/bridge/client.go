// Package bridge implements automation.Surface over a JSON-RPC 2.0
// websocket connection to the accessibility helper that runs next to the
// messaging client.
//
// The helper owns the platform accessibility tree and maps each semantic
// role to concrete controls. On every (re)connect the client sends the
// label hints for each role with "surface.configure".
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/friendflow/internal/automation"
	"github.com/Iron-Ham/friendflow/internal/logging"
)

// Error codes returned by the helper besides the JSON-RPC standard ones.
const (
	CodeClipboardUnavailable = -32001
	CodeControlGone          = -32002
	CodeClientNotRunning     = -32003
)

// ErrClosed is returned by calls after Close.
var ErrClosed = errors.New("bridge: client closed")

// RPCError is an error response from the helper.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("bridge: %s (code %d)", e.Message, e.Code)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Options configures a Client.
type Options struct {
	URL          string
	DialTimeout  time.Duration
	CallTimeout  time.Duration
	WriteTimeout time.Duration
	// Hints maps roles to the labels the helper should match.
	Hints map[automation.Role][]string
}

// DefaultOptions returns options for url with the default label hints.
func DefaultOptions(url string) Options {
	return Options{
		URL:          url,
		DialTimeout:  5 * time.Second,
		CallTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
		Hints:        DefaultHints(),
	}
}

// DefaultHints returns the control labels of the desktop client, Chinese
// and English builds.
func DefaultHints() map[automation.Role][]string {
	return map[automation.Role][]string{
		automation.RoleMainWindow:     {"微信", "Weixin", "WeChat"},
		automation.RoleProfileCard:    {"详细资料", "个人资料", "Profile"},
		automation.RoleNetworkResult:  {"网络查找", "搜索网络结果", "Search network"},
		automation.RoleMessageButton:  {"发消息", "发送消息", "Message"},
		automation.RoleAddButton:      {"添加到通讯录", "加好友", "Add to contacts"},
		automation.RoleNotFoundHint:   {"无法找到该用户", "请检查你填写的账号是否正确", "User not found"},
		automation.RoleConfirmDialog:  {"申请添加朋友", "发送好友申请", "好友验证", "通过朋友验证"},
		automation.RoleConfirmButton:  {"确定", "发送", "Send", "确定(&O)", "确定(&S)"},
		automation.RoleRejectedHint:   {"对方拒绝", "已拒绝", "操作过于频繁"},
		automation.RoleContactsTab:    {"通讯录", "Contacts"},
		automation.RoleChatsTab:       {"微信", "聊天", "Chats"},
		automation.RoleNewContacts:    {"新的朋友", "New Friends"},
		automation.RoleVerifyButton:   {"前往验证", "Verify"},
		automation.RoleDeleteMenuItem: {"删除", "Delete"},
		automation.RoleContactID:      {"微信号", "Weixin ID"},
		automation.RoleContactRemark:  {"备注", "Remark"},
	}
}

// Client is a lazily connected Surface. It reconnects on the next call
// after the connection breaks. Safe for concurrent use.
type Client struct {
	opts   Options
	logger *logging.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan response
	closed  bool

	writeMu sync.Mutex
}

var _ automation.Surface = (*Client)(nil)
var _ automation.Attacher = (*Client)(nil)

// New creates a client. No connection is made until the first call.
func New(opts Options, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &Client{
		opts:    opts,
		logger:  logger.WithComponent("bridge"),
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.DialTimeout},
		pending: make(map[string]chan response),
	}
}

// connection returns the live connection, dialing when needed.
func (c *Client) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	if c.conn != nil {
		// Lost a dial race; keep the first connection.
		existing := c.conn
		c.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("connected to automation helper", "url", c.opts.URL)
	go c.readLoop(conn)

	if len(c.opts.Hints) > 0 {
		if err := c.send(ctx, conn, "surface.configure", map[string]any{"hints": c.opts.Hints}, nil); err != nil {
			c.drop(conn, err)
			return nil, err
		}
	}
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("malformed helper message", "error", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// drop forgets conn and fails every call waiting on it.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	waiting := c.pending
	c.pending = make(map[string]chan response)
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close()
	if !closed && !websocket.IsCloseError(cause, websocket.CloseNormalClosure) {
		c.logger.Warn("automation helper connection lost", "error", cause)
	}
	for _, ch := range waiting {
		ch <- response{Error: &RPCError{Code: -32000, Message: "connection lost"}}
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}
	return c.send(ctx, conn, method, params, result)
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	req := request{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("bridge: encode %s: %w", method, err)
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if c.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(conn, err)
		return fmt.Errorf("bridge: send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("bridge: %s: %w", method, ctx.Err())
	case resp := <-ch:
		if resp.Error != nil {
			return translate(resp.Error)
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("bridge: decode %s result: %w", method, err)
		}
		return nil
	}
}

func translate(e *RPCError) error {
	switch e.Code {
	case CodeClipboardUnavailable:
		return automation.ErrClipboardUnavailable
	case CodeClientNotRunning:
		return automation.ErrClientNotRunning
	default:
		return e
	}
}

// Close shuts the connection down. Further calls return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.drop(conn, nil)
	return nil
}
