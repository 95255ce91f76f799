/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Client-side connection lifecycle (spec section 4.5): dial, heartbeat,
 * and exponential-backoff reconnect. Generalized from the teacher's
 * usbtransport.go connection-pool idiom (one shared live connection,
 * reopened on demand) but replacing its synchronous libusb I/O with a
 * QUIC-backed state machine.
 */

package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/health"
	"github.com/kimasplund/go-p2p-usb/internal/logutil"
	"github.com/kimasplund/go-p2p-usb/internal/transport"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

var errUnexpectedResponse = errors.New("client: unexpected response payload")

// Client owns one logical connection to a remote server, automatically
// reconnecting with exponential backoff on failure.
type Client struct {
	Endpoint *transport.Endpoint
	Addr     string
	Log      *logutil.Logger

	mu      sync.RWMutex
	conn    *transport.Conn
	monitor *health.Monitor

	closed chan struct{}
	once   sync.Once
}

// New builds a Client bound to a remote address; call Run to start
// connecting.
func New(ep *transport.Endpoint, addr string, log *logutil.Logger) *Client {
	if log == nil {
		log = logutil.New()
	}
	return &Client{
		Endpoint: ep,
		Addr:     addr,
		Log:      log,
		monitor:  health.NewMonitor(),
		closed:   make(chan struct{}),
	}
}

// Run drives the connect/heartbeat/reconnect loop until ctx is
// canceled or Close is called.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		conn, err := c.Endpoint.Dial(ctx, c.Addr)
		if err != nil {
			c.Log.Error("client: dial %s: %s", c.Addr, err)
			if !c.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		c.setConn(conn)
		backoff = initialBackoff
		c.monitor.SetState(health.StateConnected)
		c.Log.Info("client: connected to %s", c.Addr)

		c.heartbeatUntilDown(ctx, conn)

		c.setConn(nil)
		c.monitor.SetState(health.StateConnecting)
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	return next
}

// heartbeatUntilDown sends Ping on HeartbeatInterval cadence until the
// connection is declared Disconnected by the health monitor or ctx is
// canceled.
func (c *Client) heartbeatUntilDown(ctx context.Context, conn *transport.Conn) {
	ticker := time.NewTicker(health.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			seq := c.monitor.NextPing()
			pingCtx, cancel := context.WithTimeout(ctx, health.HeartbeatTimeout())
			_, err := transport.Request(pingCtx, conn, wire.Ping{})
			cancel()

			if err != nil {
				c.monitor.RecordTimeout(seq)
			} else {
				c.monitor.RecordPong(seq)
			}
			if c.monitor.State() == health.StateDisconnected {
				conn.CloseWithError(0, "heartbeat failed")
				return
			}
		}
	}
}

func (c *Client) setConn(conn *transport.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// Conn returns the current live connection, or nil while disconnected.
func (c *Client) Conn() *transport.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// State returns the client's current connection lifecycle state.
func (c *Client) State() health.State { return c.monitor.State() }

// Quality returns the client's current link quality classification.
func (c *Client) Quality() health.Quality { return c.monitor.Quality() }

// Close stops Run and closes the live connection, if any.
func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
	if conn := c.Conn(); conn != nil {
		conn.CloseWithError(0, "client closed")
	}
}

// request performs one request/response exchange on the current
// connection, failing fast if there is none.
func (c *Client) request(ctx context.Context, payload wire.Payload) (wire.Payload, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, errNotConnected
	}
	return transport.Request(ctx, conn, payload)
}

// ListDevices requests the current device snapshot from the connected
// server.
func (c *Client) ListDevices(ctx context.Context) ([]wire.DeviceInfo, error) {
	resp, err := c.request(ctx, wire.ListDevicesRequest{})
	if err != nil {
		return nil, err
	}
	listResp, ok := resp.(wire.ListDevicesResponse)
	if !ok {
		return nil, errUnexpectedResponse
	}
	return listResp.Devices, nil
}
