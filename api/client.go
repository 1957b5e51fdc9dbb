package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kleeedolinux/chatsocket/logs"
	"github.com/kleeedolinux/chatsocket/socket"
)

// ErrUnauthorized matches any *Error with code 401. The session token is no
// longer valid and should be dropped.
var ErrUnauthorized = errors.New("unauthorized")

// Error is a response whose envelope code is not 200.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Code == http.StatusUnauthorized
}

type Client struct {
	baseURL string
	http    *http.Client
	token   string
	log     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     logs.L().Named("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Messages(ctx context.Context, page, size int) (*MessagePage, error) {
	return c.messages(ctx, "/api/chat/messages", page, size)
}

// AdminMessages includes announcement-only broadcasts.
func (c *Client) AdminMessages(ctx context.Context, page, size int) (*MessagePage, error) {
	return c.messages(ctx, "/api/admin/chat/messages", page, size)
}

func (c *Client) messages(ctx context.Context, path string, page, size int) (*MessagePage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))

	var out MessagePage
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OnlineInfo(ctx context.Context) (*socket.OnlineInfo, error) {
	var out socket.OnlineInfo
	if err := c.do(ctx, http.MethodGet, "/api/chat/online", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ChatSettings(ctx context.Context) (*ChatSettings, error) {
	var out ChatSettings
	if err := c.do(ctx, http.MethodGet, "/api/chat/settings", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateChatSettings(ctx context.Context, s ChatSettings) error {
	return c.do(ctx, http.MethodPut, "/api/admin/chat/settings", nil, s, nil)
}

func (c *Client) Broadcast(ctx context.Context, req BroadcastRequest) (*socket.ChatMessage, error) {
	var out socket.ChatMessage
	if err := c.do(ctx, http.MethodPost, "/api/admin/chat/broadcast", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Kick(ctx context.Context, clientID, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/admin/chat/kick", nil, KickRequest{ClientID: clientID, Reason: reason}, nil)
}

func (c *Client) DeleteMessage(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodDelete, "/api/admin/chat/messages/"+strconv.FormatUint(uint64(id), 10), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &Error{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return errors.Wrap(err, "decode envelope")
	}

	if env.Code != CodeOK {
		apiErr := &Error{Code: env.Code, Message: env.Message}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("code", apiErr.Code),
			zap.String("message", apiErr.Message))
		return apiErr
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(err, "decode data")
	}
	return nil
}
