// Package remote talks to the sync server: REST for writes and a WebSocket for live snapshots.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/pkg/logger"
	"github.com/iamyasumichi/only-one/socket"
)

var ErrNoToken = errors.New("not signed in")

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client is safe for concurrent use. The owner arguments of the store methods are informational;
// the server derives the owner from the token.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer

	mu    sync.RWMutex
	token string
}

func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must be http or https", baseURL)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		token:   token,
	}, nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SignInAnonymously asks the server for a fresh identity and keeps its token.
func (c *Client) SignInAnonymously(ctx context.Context) (model.TokenResponse, error) {
	var resp model.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/anonymous", nil, false, &resp); err != nil {
		return model.TokenResponse{}, err
	}
	c.SetToken(resp.Token)
	return resp, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, false, nil)
}

func (c *Client) List(ctx context.Context, owner string) ([]model.Memo, error) {
	var memos []model.Memo
	if err := c.do(ctx, http.MethodGet, "/api/memos", nil, true, &memos); err != nil {
		return nil, err
	}
	if memos == nil {
		memos = []model.Memo{}
	}
	return memos, nil
}

func (c *Client) Create(ctx context.Context, owner string, m model.Memo) (string, error) {
	req := model.CreateMemoRequest{
		Title:     m.Title,
		Items:     m.Items,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	var resp model.CreateMemoResponse
	if err := c.do(ctx, http.MethodPost, "/api/memos", req, true, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) Update(ctx context.Context, owner, id string, p model.Patch) error {
	return c.do(ctx, http.MethodPatch, "/api/memos?id="+url.QueryEscape(id), p, true, nil)
}

func (c *Client) Delete(ctx context.Context, owner, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/memos?id="+url.QueryEscape(id), nil, true, nil)
}

// Watch streams the owner's snapshots from the server's WebSocket. The connection is made in the
// background; dial and read failures are reported through onError, once. Nothing is delivered
// after stop returns.
func (c *Client) Watch(owner string, onSnapshot func([]model.Memo), onError func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var stopped atomic.Bool
	var connMu sync.Mutex
	var conn *websocket.Conn

	fail := func(err error) {
		if !stopped.Load() && onError != nil {
			onError(err)
		}
	}

	go func() {
		token := c.Token()
		if token == "" {
			fail(ErrNoToken)
			return
		}
		ws, resp, err := c.dialer.DialContext(ctx, c.socketURL(token), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			fail(fmt.Errorf("dial sync socket: %w", err))
			return
		}
		connMu.Lock()
		conn = ws
		connMu.Unlock()
		defer ws.Close()
		if stopped.Load() {
			return
		}

		for {
			var msg socket.WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				fail(fmt.Errorf("read sync socket: %w", err))
				return
			}
			switch msg.Type {
			case socket.SnapshotType:
				memos, err := model.DecodeCollection(msg.Payload)
				if err != nil {
					logger.Sugar.Warnf("Ignoring unreadable snapshot: %v", err)
					continue
				}
				if stopped.Load() {
					return
				}
				onSnapshot(memos)
			case socket.ErrorType:
				var reason string
				_ = json.Unmarshal(msg.Payload, &reason)
				fail(fmt.Errorf("sync server: %s", reason))
				return
			}
		}
	}()

	return func() {
		if stopped.Swap(true) {
			return
		}
		cancel()
		connMu.Lock()
		if conn != nil {
			conn.Close()
		}
		connMu.Unlock()
	}
}

func (c *Client) socketURL(token string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, authed bool, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL.String(), "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.Token()
		if token == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
