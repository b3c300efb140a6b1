// Package signal implements C1 (SignalClient): one browser's duplex
// JSON-over-WebSocket connection. Grounded on the teacher's
// websocketExecutor (internal/agent/executor/llm/internal/websocket/
// websocket_executor.go) for the single-writer-mutex / background
// reader-goroutine split, adapted from an outbound provider connection
// to an inbound browser connection, and on the commented-out
// WebRTCConnect handler (api/talk/webrtc.go) for the gorilla/websocket
// Upgrader shape and the "send error, then close" convention.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/errs"
	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

// outboundQueueLimit is the buffer-overrun threshold (§6): once this
// many outbound envelopes are queued for one client, each further Send
// drops and logs the oldest queued envelope rather than blocking the
// broadcaster.
const outboundQueueLimit = 1000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var validate = validator.New()

// Claims is the bearer JWT payload an agent-side caller presents on
// connect (§6 auth).
type Claims struct {
	jwt.RegisteredClaims
	AgentCode string `json:"agent_code"`
}

// Authenticate parses and validates a bearer token against secret,
// returning its claims. Used by the HTTP layer before upgrading.
func Authenticate(token, secret string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.Wrap(errs.Auth, errs.CodeUnauthorized, "invalid bearer token", err)
	}
	return claims, nil
}

// Client is one browser's signalling connection: a single reader
// goroutine decoding inbound envelopes, and a single writer goroutine
// serialising outbound ones so gorilla/websocket's one-writer-at-a-time
// contract is never violated by concurrent broadcasters (O5 FIFO per
// client).
type Client struct {
	conn   *websocket.Conn
	logger commons.Logger

	out chan wire.Envelope

	mu     sync.Mutex
	closed bool
	doneCh chan struct{}
}

// Upgrade upgrades an HTTP request to a WebSocket connection and wraps
// it in a Client. Callers must call Run to start the read/write pumps.
func Upgrade(w http.ResponseWriter, r *http.Request, logger commons.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Protocol, errs.CodeBadState, "websocket upgrade failed", err)
	}
	conn.SetReadLimit(1 << 20)
	return &Client{
		conn:   conn,
		logger: logger,
		out:    make(chan wire.Envelope, outboundQueueLimit),
		doneCh: make(chan struct{}),
	}, nil
}

// Send implements room.MessageSink: enqueues env for the writer
// goroutine, non-blocking. Past outboundQueueLimit queued messages,
// the oldest is logged and dropped rather than applying backpressure
// to the broadcasting goroutine (§6 buffer-overrun handling).
func (c *Client) Send(env wire.Envelope) error {
	select {
	case c.out <- env:
		return nil
	default:
	}

	select {
	case <-c.out:
		c.logger.Warnw("outbound queue overrun, dropping oldest envelope", "type", env.Type)
	default:
	}
	select {
	case c.out <- env:
		return nil
	default:
		return errs.New(errs.Resource, errs.CodeBufferOverrun, "outbound queue full")
	}
}

// SendError is a convenience wrapper for the `error` outbound type.
func (c *Client) SendError(message string) {
	data, _ := json.Marshal(wire.ErrorData{Message: message})
	_ = c.Send(wire.Envelope{Type: wire.TypeError, Data: data})
}

// Run starts the reader and writer pumps and blocks until the
// connection closes or ctx is cancelled. handle is invoked once per
// inbound envelope from the single reader goroutine — handlers must
// not block for long since it serialises all inbound messages for
// this client.
func (c *Client) Run(ctx context.Context, handle func(wire.Envelope)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		// Closing the connection unblocks readPump's ReadMessage.
		defer c.Close()
		c.writePump(ctx)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		c.readPump(ctx, handle)
	}()

	wg.Wait()
	c.Close()
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.doneCh:
			return
		case env, ok := <-c.out:
			if !ok {
				return
			}
			payload, err := json.Marshal(env)
			if err != nil {
				c.logger.Errorw("marshal outbound envelope failed", "type", env.Type, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debugw("write failed, closing", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, handle func(wire.Envelope)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugw("read error", "error", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.SendError("malformed message")
			continue
		}
		if env.Type == "" {
			c.SendError("missing message type")
			continue
		}
		handle(env)
	}
}

// DecodeData unmarshals env.Data into dst and validates dst's
// `validate` struct tags (§6: every inbound payload is
// struct-tag-validated before being acted on).
func DecodeData(env wire.Envelope, dst interface{}) error {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return errs.Wrap(errs.Protocol, errs.CodeMalformed, "decode "+env.Type+" data", err)
	}
	if err := validate.Struct(dst); err != nil {
		return errs.Wrap(errs.Protocol, errs.CodeMalformed, "validate "+env.Type+" data", err)
	}
	return nil
}

// Close idempotently tears down the connection and stops the pumps.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.doneCh)
	return c.conn.Close()
}
