package relayimpl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/orgball2608/nostr-media-observatory/internal/relay"
	"github.com/orgball2608/nostr-media-observatory/pkg/logger"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// subHandler is one subscription's leg on one relay connection.
type subHandler struct {
	onEvent func(ev relay.Event)
	onEOSE  func()
	onClose func(reason string)
}

// conn is a single websocket connection to one relay, with a read loop that
// routes frames to the subscriptions registered on it.
type conn struct {
	url    string
	ws     *websocket.Conn
	logger logger.Logger

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]*subHandler

	closeOnce sync.Once
	done      chan struct{}
}

func dial(ctx context.Context, url string, dialTimeout time.Duration, log logger.Logger) (*conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  dialTimeout,
		EnableCompression: true,
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (HTTP %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &conn{
		url:    url,
		ws:     ws,
		logger: log,
		subs:   make(map[string]*subHandler),
		done:   make(chan struct{}),
	}

	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

func (c *conn) register(subID string, h *subHandler) {
	c.subMu.Lock()
	c.subs[subID] = h
	c.subMu.Unlock()
}

func (c *conn) unregister(subID string) {
	c.subMu.Lock()
	delete(c.subs, subID)
	c.subMu.Unlock()
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) sendReq(subID string, f relay.Filter) error {
	return c.writeJSON([]any{"REQ", subID, f})
}

func (c *conn) sendClose(subID string) error {
	return c.writeJSON([]any{"CLOSE", subID})
}

// readLoop parses incoming frames and routes them. Relay frames are JSON
// arrays: ["EVENT", subID, event], ["EOSE", subID], ["CLOSED", subID, msg],
// ["NOTICE", msg].
func (c *conn) readLoop() {
	defer c.shutdown("read loop ended")

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("Relay read error", "relay", c.url, "error", err)
			return
		}

		var frame []json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
			c.logger.Debug("Unparseable relay frame", "relay", c.url)
			continue
		}

		var label string
		if err := json.Unmarshal(frame[0], &label); err != nil {
			continue
		}

		switch label {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			var subID string
			if err := json.Unmarshal(frame[1], &subID); err != nil {
				continue
			}
			var ev relay.Event
			if err := json.Unmarshal(frame[2], &ev); err != nil {
				c.logger.Debug("Unparseable event from relay", "relay", c.url, "error", err)
				continue
			}
			if h := c.handler(subID); h != nil && h.onEvent != nil {
				h.onEvent(ev)
			}
		case "EOSE":
			var subID string
			if err := json.Unmarshal(frame[1], &subID); err != nil {
				continue
			}
			if h := c.handler(subID); h != nil && h.onEOSE != nil {
				h.onEOSE()
			}
		case "CLOSED":
			var subID string
			if err := json.Unmarshal(frame[1], &subID); err != nil {
				continue
			}
			reason := ""
			if len(frame) > 2 {
				json.Unmarshal(frame[2], &reason)
			}
			c.subMu.Lock()
			h := c.subs[subID]
			delete(c.subs, subID)
			c.subMu.Unlock()
			if h != nil && h.onClose != nil {
				h.onClose(reason)
			}
		case "NOTICE":
			var msg string
			json.Unmarshal(frame[1], &msg)
			c.logger.Debug("Relay notice", "relay", c.url, "notice", msg)
		}
	}
}

func (c *conn) handler(subID string) *subHandler {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.subs[subID]
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("Relay ping failed", "relay", c.url, "error", err)
				c.shutdown("ping failed")
				return
			}
		}
	}
}

// shutdown closes the websocket and fails every subscription leg exactly once.
func (c *conn) shutdown(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()

		c.subMu.Lock()
		subs := c.subs
		c.subs = make(map[string]*subHandler)
		c.subMu.Unlock()

		for _, h := range subs {
			if h.onClose != nil {
				h.onClose(reason)
			}
		}
	})
}
