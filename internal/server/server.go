/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Per-peer connection handler (spec section 4.3): accepts inbound
 * streams and dispatches them against the device manager, forwards hot
 * plug events back to peers, and runs a keep-alive heartbeat. The
 * accept-loop-plus-fan-out shape is generalized from the teacher's
 * listener.go/http.go request dispatch, adapted onto QUIC streams and
 * golang.org/x/sync/errgroup for the handler's internal fan-out instead
 * of net/http's implicit one-goroutine-per-connection model.
 */

package server

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimasplund/go-p2p-usb/internal/health"
	"github.com/kimasplund/go-p2p-usb/internal/logutil"
	"github.com/kimasplund/go-p2p-usb/internal/notify"
	"github.com/kimasplund/go-p2p-usb/internal/ratelimit"
	"github.com/kimasplund/go-p2p-usb/internal/statusevents"
	"github.com/kimasplund/go-p2p-usb/internal/transport"
	"github.com/kimasplund/go-p2p-usb/internal/usbdev"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

// Server owns the transport endpoint and the shared device manager,
// and spawns one handler per accepted peer connection.
type Server struct {
	Endpoint *transport.Endpoint
	Manager  *usbdev.Manager
	Limiter  *ratelimit.Limiter
	Status   *statusevents.Table
	Log      *logutil.Logger
}

// New builds a Server. Endpoint must already be listening. status may
// be nil if the control socket's status endpoint isn't in use.
func New(ep *transport.Endpoint, mgr *usbdev.Manager, limiter *ratelimit.Limiter, status *statusevents.Table, log *logutil.Logger) *Server {
	if log == nil {
		log = logutil.New()
	}
	return &Server{Endpoint: ep, Manager: mgr, Limiter: limiter, Status: status, Log: log}
}

// Run accepts connections until ctx is canceled, handling each on its
// own goroutine.
func (s *Server) Run(ctx context.Context) error {
	for {
		conn, err := s.Endpoint.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Log.Error("server: accept: %s", err)
			continue
		}

		h := &connHandler{
			srv:     s,
			conn:    conn,
			peerID:  conn.PeerID.String(),
			monitor: health.NewMonitor(),
		}
		go h.run(ctx)
	}
}

// connHandler is one peer's connection lifecycle: the 3-source
// multiplex described in spec section 4.3 (inbound streams, USB events
// fanned out from the manager, and the periodic heartbeat), modeled as
// three goroutines coordinated by an errgroup so a fatal error in any
// one of them tears down the whole connection.
type connHandler struct {
	srv      *Server
	conn     *transport.Conn
	peerID   string
	monitor  *health.Monitor
	agg      *notify.Aggregator
	since    time.Time
	attached int32 // atomic
}

func (h *connHandler) run(parent context.Context) {
	h.since = time.Now()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer h.cleanup(ctx)

	h.agg = notify.NewAggregator(func(batch []notify.Change) {
		h.pushDeviceChanges(ctx, batch)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.acceptStreams(gctx) })
	g.Go(func() error { return h.forwardEvents(gctx) })
	g.Go(func() error { return h.heartbeat(gctx) })

	if err := g.Wait(); err != nil {
		h.srv.Log.Info("server: connection %s closed: %s", h.peerID, err)
	}
}

func (h *connHandler) cleanup(ctx context.Context) {
	detachCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.srv.Manager.DetachPeer(detachCtx, h.peerID)
	if h.srv.Limiter != nil {
		h.srv.Limiter.Forget(h.peerID)
	}
	if h.srv.Status != nil {
		h.srv.Status.Remove(h.peerID)
	}
	h.agg.Flush()
	h.conn.CloseWithError(0, "bye")
}

func (h *connHandler) updateStatus() {
	if h.srv.Status == nil {
		return
	}
	attached := int(atomic.LoadInt32(&h.attached))
	h.srv.Status.Upsert(statusevents.FromMonitor(h.peerID, h.monitor, attached, h.since))
}

// acceptStreams loops accepting inbound streams and dispatches each to
// its own goroutine so a slow transfer doesn't head-of-line block the
// next request (spec section 4.3's "requests may overlap" note).
func (h *connHandler) acceptStreams(ctx context.Context) error {
	for {
		stream, err := h.conn.AcceptStream(ctx)
		if err != nil {
			return err
		}
		go func() {
			if err := transport.ServeStream(stream, h.dispatch); err != nil {
				h.srv.Log.Debug("server: stream from %s: %s", h.peerID, err)
			}
		}()
	}
}

// dispatch maps one request payload to its response, per the table in
// spec section 4.3.
func (h *connHandler) dispatch(p wire.Payload) wire.Payload {
	ctx := context.Background()

	switch req := p.(type) {
	case wire.ListDevicesRequest:
		devices, err := h.srv.Manager.ListDevices(ctx)
		if err != nil {
			return wire.ErrorPayload{Message: err.Error()}
		}
		return wire.ListDevicesResponse{Devices: devices}

	case wire.AttachRequest:
		handle, err := h.srv.Manager.Attach(ctx, req.DeviceID, h.peerID)
		if err != nil {
			kind := wire.AttachErrOther
			if ae, ok := err.(wire.AttachError); ok {
				kind = ae.Kind
			}
			return wire.AttachResponse{Result: wire.AttachResult{
				Err: wire.AttachError{Kind: kind, Message: err.Error()},
			}}
		}
		atomic.AddInt32(&h.attached, 1)
		h.updateStatus()
		return wire.AttachResponse{Result: wire.AttachResult{Ok: true, Handle: handle}}

	case wire.DetachRequest:
		err := h.srv.Manager.Detach(ctx, req.Handle)
		if err != nil {
			kind := wire.DetachErrOther
			if de, ok := err.(wire.DetachError); ok {
				kind = de.Kind
			}
			return wire.DetachResponse{Result: wire.DetachResult{
				Err: wire.DetachError{Kind: kind, Message: err.Error()},
			}}
		}
		atomic.AddInt32(&h.attached, -1)
		h.updateStatus()
		return wire.DetachResponse{Result: wire.DetachResult{Ok: true}}

	case wire.SubmitTransfer:
		if h.srv.Limiter != nil && !h.srv.Limiter.Allow(h.peerID) {
			busy := wire.TransferResult{Err: wire.NewUsbError(wire.UsbErrBusy, "rate limit exceeded")}
			return wire.TransferComplete{Response: wire.TransferResponse{ID: req.Request.ID, Result: busy}}
		}
		result, err := h.srv.Manager.Submit(ctx, h.peerID, req.Request)
		if err != nil {
			result = wire.TransferResult{Err: wire.NewUsbError(wire.UsbErrOther, err.Error())}
		}
		return wire.TransferComplete{Response: wire.TransferResponse{ID: req.Request.ID, Result: result}}

	case wire.Ping:
		return wire.Pong{}

	default:
		return wire.ErrorPayload{Message: "unsupported request"}
	}
}

// forwardEvents relays DeviceArrived/DeviceLeft events from this peer's
// own manager subscription into its notification aggregator. Each
// connection gets its own subscription (spec section 4.3(2)) so
// concurrent peers don't race each other for a single shared channel.
func (h *connHandler) forwardEvents(ctx context.Context) error {
	events, unsubscribe := h.srv.Manager.Subscribe(h.peerID)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case usbdev.EventDeviceArrived:
				h.agg.Push(notify.Change{DeviceID: ev.DeviceID, Arrived: true})
			case usbdev.EventDeviceLeft:
				h.agg.Push(notify.Change{DeviceID: ev.DeviceID, Arrived: false})
			}
		}
	}
}

// pushDeviceChanges sends a debounced batch of device changes to the
// peer as a single ListDevicesResponse snapshot refresh.
func (h *connHandler) pushDeviceChanges(ctx context.Context, batch []notify.Change) {
	devices, err := h.srv.Manager.ListDevices(ctx)
	if err != nil {
		return
	}
	stream, err := h.conn.OpenRequestStream(ctx)
	if err != nil {
		return
	}
	defer stream.Close()

	env := wire.Envelope{Version: wire.Current, Payload: wire.ListDevicesResponse{Devices: devices}}
	_ = wire.WriteEnvelope(stream, env)
}

// heartbeat sends a Ping every health.HeartbeatInterval and tears down
// the connection once the health monitor reports Disconnected (spec
// section 4.5).
func (h *connHandler) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(health.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			seq := h.monitor.NextPing()
			pingCtx, cancel := context.WithTimeout(ctx, health.HeartbeatTimeout())
			_, err := transport.Request(pingCtx, h.conn, wire.Ping{})
			cancel()

			if err != nil {
				h.monitor.RecordTimeout(seq)
			} else {
				h.monitor.RecordPong(seq)
			}
			h.updateStatus()
			if h.monitor.State() == health.StateDisconnected {
				return context.DeadlineExceeded
			}
		}
	}
}
