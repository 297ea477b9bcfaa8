// Package companion dials the upstream Companion server: one HTTP call to
// create/kill an agent session, and one WebSocket per session carrying the
// JSON frames documented in internal/wire.
//
// The dial pattern is adapted from the bridge client the teacher uses to
// reach its own Cloud Bridge (a plain websocket.DefaultDialer.DialContext
// call), but without the yamux-multiplexed gRPC layer that client also
// establishes: the Companion protocol here is one JSON frame per WebSocket
// message, nothing more.
package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/igoryan-dao/ricochet/internal/wire"
)

// Client owns one WebSocket connection to one upstream agent session.
// Per the single-owner-connection design note, nothing outside this type
// ever touches the underlying socket.
type Client struct {
	conn     *websocket.Conn
	incoming chan wire.InFrame
	closed   chan struct{}
}

// HTTP is a thin wrapper around the two plain HTTP endpoints the Companion
// exposes for session lifecycle management.
type HTTP struct {
	BaseURL    string
	httpClient *http.Client
}

// NewHTTP builds the session-lifecycle HTTP client for a Companion base URL
// such as "http://localhost:8787".
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{BaseURL: strings.TrimRight(baseURL, "/"), httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// CreateSession issues POST <companion>/api/sessions/create.
func (h *HTTP) CreateSession(ctx context.Context, permissionMode, cwd string) (string, error) {
	body, err := json.Marshal(wire.CreateSessionRequest{PermissionMode: permissionMode, Cwd: cwd})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/api/sessions/create", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("companion create-session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("companion create-session: status %d", resp.StatusCode)
	}

	var out wire.CreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("companion create-session: decode: %w", err)
	}
	return out.SessionID, nil
}

// KillSession issues a best-effort, fire-and-forget
// POST <companion>/api/sessions/<id>/kill.
func (h *HTTP) KillSession(upstreamID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+"/api/sessions/"+upstreamID+"/kill", nil)
		if err != nil {
			return
		}
		resp, err := h.httpClient.Do(req)
		if err != nil {
			log.Warn().Str("component", "companion").Err(err).Str("upstream_session_id", upstreamID).Msg("kill-session request failed")
			return
		}
		resp.Body.Close()
	}()
}

// WSURL derives the browser WebSocket URL for an upstream session id from
// the Companion's HTTP base URL: ws://<host>/ws/browser/<id>.
func WSURL(companionBaseURL, upstreamID string) (string, error) {
	u, err := url.Parse(companionBaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/browser/" + upstreamID
	return u.String(), nil
}

// Dial opens the WebSocket to the Companion for the given upstream session
// id and starts the background read loop feeding Incoming().
func Dial(ctx context.Context, companionBaseURL, upstreamID string) (*Client, error) {
	wsURL, err := WSURL(companionBaseURL, upstreamID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("companion dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan wire.InFrame, 64),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.closed)
	defer close(c.incoming)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wire.InFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Warn().Str("component", "companion").Err(err).Msg("dropping undecodable frame")
			continue
		}
		c.incoming <- frame
	}
}

// Incoming is the channel of decoded frames; it is closed when the
// connection is closed (by either side) or errors.
func (c *Client) Incoming() <-chan wire.InFrame { return c.incoming }

// Closed reports when the underlying read loop has exited.
func (c *Client) Closed() <-chan struct{} { return c.closed }

// Send marshals and writes one outbound frame.
func (c *Client) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
