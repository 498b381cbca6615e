// Package feed manages the persistent upstream connection of one pipeline.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stormfeed/stormfeed/internal/decode"
	"github.com/stormfeed/stormfeed/internal/store"
	"github.com/stormfeed/stormfeed/internal/stream"
)

// State is the connection lifecycle state. Transitions are driven only by
// the connector's own dial/read loop, never set externally.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Status is a point-in-time view of the connector for health queries.
type Status struct {
	State    State  `json:"state"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Options configures one feed pipeline.
type Options struct {
	Name      string
	Endpoints []string
	Handshake []byte // control frame sent once after each connect
	Reconnect time.Duration
	Decode    decode.Func
}

// Connector owns one outbound websocket at a time, feeding decoded frames
// into the store and broadcaster. Connection errors are never fatal: the
// loop sleeps the feed's fixed reconnect delay and tries the next endpoint
// round-robin, so an upstream outage of any length heals itself.
type Connector struct {
	opts   Options
	store  *store.Store
	bc     *stream.Broadcaster
	logger *zap.Logger

	startOnce sync.Once

	mu       sync.RWMutex
	state    State
	endpoint string
	next     int
}

// NewConnector wires a connector to its pipeline. Start must be called to
// begin connecting.
func NewConnector(opts Options, st *store.Store, bc *stream.Broadcaster, logger *zap.Logger) *Connector {
	return &Connector{
		opts:   opts,
		store:  st,
		bc:     bc,
		logger: logger,
		state:  StateDisconnected,
	}
}

// Start launches the connect loop. Safe to call more than once; only the
// first call has any effect.
func (c *Connector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go c.run(ctx)
	})
}

// Status reports the current connection state and endpoint.
func (c *Connector) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{State: c.state, Endpoint: c.endpoint}
}

func (c *Connector) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected, "")
			return
		}

		endpoint := c.nextEndpoint()
		c.setState(StateConnecting, endpoint)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			c.setState(StateDisconnected, "")
			c.logger.Warn("upstream connect failed",
				zap.String("feed", c.opts.Name),
				zap.String("endpoint", endpoint),
				zap.Duration("retryIn", c.opts.Reconnect),
				zap.Error(err),
			)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.setState(StateConnected, endpoint)
		c.logger.Info("upstream connected",
			zap.String("feed", c.opts.Name),
			zap.String("endpoint", endpoint),
		)

		if len(c.opts.Handshake) > 0 {
			if err := conn.WriteMessage(websocket.TextMessage, c.opts.Handshake); err != nil {
				c.logger.Warn("handshake failed",
					zap.String("feed", c.opts.Name),
					zap.Error(err),
				)
				conn.Close()
				c.setState(StateDisconnected, "")
				if !c.sleep(ctx) {
					return
				}
				continue
			}
		}

		c.readFrames(ctx, conn)
		conn.Close()
		c.setState(StateDisconnected, "")

		if !c.sleep(ctx) {
			return
		}
	}
}

// readFrames consumes frames until the socket errors or the context is
// cancelled. Frames the decoder rejects are dropped without state change.
func (c *Connector) readFrames(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("upstream read failed",
					zap.String("feed", c.opts.Name),
					zap.Duration("retryIn", c.opts.Reconnect),
					zap.Error(err),
				)
			}
			return
		}

		e, ok := c.opts.Decode(frame)
		if !ok {
			continue
		}
		c.store.Record(e)
		c.bc.Publish(e)
	}
}

// nextEndpoint selects endpoints round-robin across reconnects, spreading
// load and routing around a single dead endpoint.
func (c *Connector) nextEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	endpoint := c.opts.Endpoints[c.next%len(c.opts.Endpoints)]
	c.next++
	return endpoint
}

// sleep waits the reconnect delay. Returns false if the context was
// cancelled first.
func (c *Connector) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		c.setState(StateDisconnected, "")
		return false
	case <-time.After(c.opts.Reconnect):
		return true
	}
}

func (c *Connector) setState(s State, endpoint string) {
	c.mu.Lock()
	c.state = s
	c.endpoint = endpoint
	c.mu.Unlock()
}
