package websocket

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// testHookBeforeRegister runs between the handshake and the registration of
// a new connection.
var testHookBeforeRegister = func() {}

// Filter selects broadcast recipients. It is called with each candidate, its
// index and the full snapshot of candidates.
type Filter func(c *Conn, index int, all []*Conn) bool

// Host accepts WebSocket connections for one endpoint and keeps track of them.
//
// Host provides a central point for managing connections: it performs the
// server handshake, runs the connection handler, broadcasts to every live
// connection and hands out named Channels for scoped broadcasts.
//
// A connection is removed from the Host (and from all of its Channels) as
// soon as its socket closes, before its OnClose callback runs.
//
// Example Usage:
//
//	host := websocket.NewHost(websocket.Config{Timeout: 30 * time.Second}, func(c *websocket.Conn) {
//	    c.OnMessage(func(m websocket.Message) {
//	        _ = c.Send(m)
//	    })
//	})
//	defer host.Close()
//
//	http.Handle("/ws", host)
//
// Host is safe for concurrent use.
type Host struct {
	cfg     Config
	handler Handler
	limiter *rate.Limiter
	log     *slog.Logger

	mu       sync.Mutex
	conns    []*Conn // in connection order
	channels map[string]*Channel
	closed   bool
}

// NewHost creates a Host that calls handler for every accepted connection.
// handler may be nil.
func NewHost(cfg Config, handler Handler) *Host {
	cfg = cfg.withDefaults()

	h := &Host{
		cfg:      cfg,
		handler:  handler,
		log:      cfg.Logger,
		channels: make(map[string]*Channel),
	}
	if cfg.HandshakeRate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.HandshakeRate), cfg.HandshakeBurst)
	}
	return h
}

// ServeHTTP upgrades an HTTP request to a WebSocket connection.
//
// Requests other than GET, and requests failing the handshake checks, are
// answered with 400 Bad Request.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.rejected(r.RemoteAddr, http.StatusBadRequest, ErrInvalidMethod)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		h.rejected(r.RemoteAddr, http.StatusInternalServerError, ErrHijackFailed)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	netConn, rw, err := hj.Hijack()
	if err != nil {
		h.rejected(r.RemoteAddr, http.StatusInternalServerError, fmt.Errorf("%w: %w", ErrHijackFailed, err))
		return
	}

	// The server may have armed deadlines for the HTTP exchange.
	_ = netConn.SetDeadline(time.Time{})

	// Errors were already answered on the socket and logged.
	_, _ = h.connect(netConn, rw.Reader, r.Header, r.URL)
}

// Connect performs the server handshake on a socket whose HTTP Upgrade
// request headers were already read.
//
// On failure an HTTP error response is written, socket is closed and a
// *HandshakeError is returned. On success the 101 response is written, the
// Host handler runs and the returned connection starts reading.
//
// If the handler panics, the connection is destroyed and the error wraps
// ErrHandlerPanic. If the Host is closed while the handshake is under way,
// the connection is closed with CloseGoingAway and the error wraps
// ErrHostClosed.
func (h *Host) Connect(socket net.Conn, header http.Header) (*Conn, error) {
	return h.connect(socket, socket, header, nil)
}

func (h *Host) connect(socket net.Conn, reader io.Reader, header http.Header, u *url.URL) (*Conn, error) {
	if h.isClosed() {
		return nil, h.reject(socket, http.StatusServiceUnavailable, ErrHostClosed)
	}
	if h.limiter != nil && !h.limiter.Allow() {
		return nil, h.reject(socket, http.StatusServiceUnavailable, ErrTooManyHandshakes)
	}

	up, err := validateUpgrade(header, &h.cfg)
	if err != nil {
		return nil, h.reject(socket, http.StatusBadRequest, err)
	}

	if err := writeUpgradeResponse(socket, up); err != nil {
		_ = socket.Close()
		handshakesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("websocket: write handshake response: %w", err)
	}
	handshakesTotal.WithLabelValues("accepted").Inc()

	c := newConn(socket, reader, RoleServer, h.cfg, header, up.protocol)
	c.url = u
	c.host = h

	testHookBeforeRegister()

	h.mu.Lock()
	if h.closed {
		// Close ran during the handshake and did not see this connection.
		h.mu.Unlock()
		c.log.Debug("host closed during handshake")
		_ = c.Close(CloseGoingAway, "")
		c.start()
		return nil, fmt.Errorf("websocket: connect: %w", ErrHostClosed)
	}
	h.conns = append(h.conns, c)
	h.mu.Unlock()
	connectionsActive.Inc()

	c.log.Debug("connection opened", "protocol", up.protocol)
	c.resetKeepalive()

	if h.handler != nil {
		if err := c.safely(func() { h.handler(c) }); err != nil {
			// The connection is already gone.
			return nil, fmt.Errorf("websocket: connect: %w", err)
		}
	}
	c.start()
	return c, nil
}

func (h *Host) reject(socket net.Conn, status int, err error) error {
	_ = writeRejection(socket, status)
	_ = socket.Close()

	var remote string
	if addr := socket.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	h.rejected(remote, status, err)
	return &HandshakeError{Status: status, Err: err}
}

func (h *Host) rejected(remote string, status int, err error) {
	handshakesTotal.WithLabelValues("rejected").Inc()
	h.log.Warn("handshake rejected",
		"remote_addr", remote,
		"status", status,
		"error", err,
	)
}

func (h *Host) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// remove drops a torn down connection.
func (h *Host) remove(c *Conn) {
	h.mu.Lock()
	i := slices.Index(h.conns, c)
	if i >= 0 {
		h.conns = slices.Delete(h.conns, i, i+1)
	}
	h.mu.Unlock()

	if i >= 0 {
		connectionsActive.Dec()
	}
}

// Connections returns a snapshot of the live connections in connection order.
func (h *Host) Connections() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.conns)
}

// Len returns the number of live connections.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends v to every live connection, or to those accepted by
// filter when it is non-nil. v is encoded once, as for Conn.Send.
//
// Connections that are closing are skipped silently. Other send failures are
// joined into the returned error.
func (h *Host) Broadcast(v any, filter Filter) error {
	return broadcast(h.Connections(), v, filter)
}

func broadcast(all []*Conn, v any, filter Filter) error {
	opcode, data, err := encodePayload(v)
	if err != nil {
		return err
	}

	// Hosts and channels only hold server connections, which never mask, so
	// the frames can be shared.
	frames := slices.Collect(fragments(opcode, data, false))

	var errs []error
	for i, c := range all {
		if filter != nil && !filter(c, i, all) {
			continue
		}
		if err := c.sendFrames(frames, MessageType(opcode)); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, fmt.Errorf("websocket: broadcast to %s: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Channel returns the channel called name, creating it on first use.
func (h *Host) Channel(name string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.channels[name]; ok && !ch.isClosed() {
		return ch
	}
	ch := newChannel(name, h)
	h.channels[name] = ch
	return ch
}

// Channels returns the names of the open channels.
func (h *Host) Channels() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (h *Host) removeChannel(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[ch.name] == ch {
		delete(h.channels, ch.name)
	}
}

// Close refuses further handshakes and starts the closing handshake on every
// live connection with CloseGoingAway.
//
// Close does not wait for the connections to go away; use Conn.Done for that.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := slices.Clone(h.conns)
	h.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(CloseGoingAway, ""); err != nil && !errors.Is(err, ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
