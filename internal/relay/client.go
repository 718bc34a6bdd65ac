package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"campuscard/internal/card"
	"campuscard/internal/logging"
)

// ClientHandler receives commands the server routes to the bridge.
type ClientHandler interface {
	// OnRequestWrite stores a pending write intent.
	OnRequestWrite(intent card.WriteIntent)
	// OnGetStatus returns the current reader status for resynchronisation.
	OnGetStatus() ReaderStatus
}

// Client is the bridge side of the relay: one websocket connection with
// automatic reconnection. Publishes never block the reader loop; frames the
// socket cannot take are dropped, matching the at-most-once contract.
type Client struct {
	url     string
	log     logging.Logger
	handler ClientHandler
	out     chan Envelope
}

func NewClient(url string, handler ClientHandler, log logging.Logger) *Client {
	return &Client{
		url:     url,
		log:     log.With("module", "relay_client"),
		handler: handler,
		out:     make(chan Envelope, sessionBuffer),
	}
}

// Publish enqueues an envelope for the server.
func (c *Client) Publish(ctx context.Context, env Envelope) {
	select {
	case c.out <- env:
	default:
		c.log.Warn(ctx, "relay outbox full, dropping frame", "type", string(env.Type))
	}
}

// PublishStatus is a convenience wrapper for reader status changes.
func (c *Client) PublishStatus(ctx context.Context, status ReaderStatus) {
	env, err := NewEnvelope(EventReaderStatus, status)
	if err != nil {
		return
	}
	c.Publish(ctx, env)
}

// Run connects and keeps the session alive until ctx is cancelled. Each
// drop triggers a fibonacci-backoff redial; after every successful connect
// the current status is re-published so the server cache resynchronises.
func (c *Client) Run(ctx context.Context) error {
	for {
		var conn *websocket.Conn
		backoff := retry.WithCappedDuration(30*time.Second, retry.NewFibonacci(500*time.Millisecond))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			dialed, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err != nil {
				c.log.Warn(ctx, "relay dial failed, retrying", "url", c.url, "error", err)
				return retry.RetryableError(err)
			}
			conn = dialed
			return nil
		})
		if err != nil {
			return err
		}

		c.log.Info(ctx, "relay connected", "url", c.url)
		c.PublishStatus(ctx, c.handler.OnGetStatus())
		c.session(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn(ctx, "relay connection lost, reconnecting")
	}
}

// session pumps frames both ways until the connection breaks.
func (c *Client) session(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			c.dispatch(ctx, env)
		}
	}()

	for {
		select {
		case env := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dispatch(ctx context.Context, env Envelope) {
	switch env.Type {
	case EventRequestWrite:
		var intent card.WriteIntent
		if err := env.Decode(&intent); err != nil {
			c.log.Warn(ctx, "undecodable write intent", "error", err)
			return
		}
		c.log.Info(ctx, "write intent armed", "student", intent.StudentIdentifier)
		c.handler.OnRequestWrite(intent)

	case EventGetStatus:
		c.PublishStatus(ctx, c.handler.OnGetStatus())

	default:
		// Bridge ignores fan-out traffic meant for web clients.
	}
}
