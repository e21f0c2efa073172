package websocket

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	conc "github.com/panyam/gocurrent"
)

// Handler is called once for every new connection, before any frame is
// read. It typically registers the connection's event callbacks. A panic in
// the handler (or in any callback) destroys that connection only.
type Handler func(c *Conn)

// outbound is one item of the write pipeline.
type outbound struct {
	frame []byte
	end   bool          // half-close the socket after everything before it
	stop  bool          // last item; ends the writer goroutine
	done  chan struct{} // closed once the item has been handled
}

// errWriterStopped ends the writer goroutine once teardown has queued the
// final item.
var errWriterStopped = errors.New("websocket: writer stopped")

// Conn is one WebSocket connection (RFC 6455).
//
// Conn owns its socket. Incoming bytes are read by a dedicated goroutine and
// fed to a Parser strictly in arrival order; events are dispatched from that
// goroutine, so callbacks of one connection never run concurrently. Outgoing
// frames go through a single writer goroutine, so frames of one message are
// never interleaved with other frames and a slow peer blocks senders instead
// of losing data.
//
// Pings are answered automatically. A received close frame is answered with
// a close frame before the socket is shut down.
type Conn struct {
	id       string
	role     Role
	netConn  net.Conn
	reader   io.Reader
	parser   *Parser
	header   http.Header
	url      *url.URL
	protocol string
	cfg      Config
	log      *slog.Logger

	writer  *conc.Writer[outbound]
	sendMu  sync.Mutex
	stopped bool // writer stopped; guarded by sendMu

	mu          sync.Mutex
	closing     bool // close frame sent or received
	closed      bool // teardown started; no more channel bindings
	closeCode   CloseCode
	closeReason string
	channels    map[*Channel]struct{}
	keepalive   *time.Timer

	onMessage func(Message)
	onControl func(*Frame)
	onClose   func(CloseCode, string)
	onError   func(error)

	// host accepted the connection; nil for client connections.
	host *Host

	started   atomic.Bool
	destroyed atomic.Bool
	tornDown  atomic.Bool
	done      chan struct{}
}

func newConn(netConn net.Conn, reader io.Reader, role Role, cfg Config, header http.Header, protocol string) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		role:      role,
		netConn:   netConn,
		reader:    reader,
		parser:    NewParser(role, cfg.Limit),
		header:    header,
		protocol:  protocol,
		cfg:       cfg,
		closeCode: CloseAbnormalClosure,
		channels:  make(map[*Channel]struct{}),
		done:      make(chan struct{}),
	}
	c.log = cfg.Logger.With(
		"conn_id", c.id,
		"role", role.String(),
		"remote_addr", c.RemoteAddr(),
	)
	c.writer = conc.NewWriter(c.write)
	return c
}

// ID returns a unique identifier for this connection.
func (c *Conn) ID() string { return c.id }

// Role returns whether this end is the server or the client.
func (c *Conn) Role() Role { return c.role }

// Protocol returns the negotiated subprotocol, if any.
func (c *Conn) Protocol() string { return c.protocol }

// Header returns the handshake headers sent by the peer.
func (c *Conn) Header() http.Header { return c.header }

// URL returns the request URL of the handshake. It is nil for connections
// accepted through Host.Connect.
func (c *Conn) URL() *url.URL { return c.url }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	if addr := c.netConn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// OnMessage sets the callback for complete data messages.
func (c *Conn) OnMessage(fn func(Message)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnControl sets the callback for received ping, pong and close frames.
// Pings and closes are answered by the engine whether or not it is set.
func (c *Conn) OnControl(fn func(*Frame)) {
	c.mu.Lock()
	c.onControl = fn
	c.mu.Unlock()
}

// OnClose sets the callback run once the connection is gone. It receives the
// status of the peer's close frame, or CloseAbnormalClosure if none arrived.
func (c *Conn) OnClose(fn func(code CloseCode, reason string)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// OnError sets the callback for protocol, I/O and callback failures.
func (c *Conn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *Conn) masked() bool {
	return c.role == RoleClient
}

// Send queues v as one message. Strings are sent as text, byte slices as
// binary, Message values keep their type and anything else is sent as JSON
// text. Large payloads are fragmented (see Wrap).
//
// Send blocks while the writer is backed up. It returns ErrClosed once the
// closing handshake has started.
func (c *Conn) Send(v any) error {
	opcode, data, err := encodePayload(v)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.stopped || c.isClosing() {
		return ErrClosed
	}
	for frame := range fragments(opcode, data, c.masked()) {
		c.writer.Send(outbound{frame: frame})
	}
	messagesSent.WithLabelValues(MessageType(opcode).String()).Inc()
	return nil
}

// sendFrames queues pre-built frames of one message.
func (c *Conn) sendFrames(frames [][]byte, mt MessageType) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.stopped || c.isClosing() {
		return ErrClosed
	}
	for _, frame := range frames {
		c.writer.Send(outbound{frame: frame})
	}
	messagesSent.WithLabelValues(mt.String()).Inc()
	return nil
}

// enqueue queues control items. Unlike Send it is allowed while closing.
func (c *Conn) enqueue(items ...outbound) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.stopped {
		return ErrClosed
	}
	for _, it := range items {
		c.writer.Send(it)
	}
	return nil
}

// flush queues frame and waits until it was written or CloseTimeout passed.
func (c *Conn) flush(frame []byte) {
	done := make(chan struct{})
	if err := c.enqueue(outbound{frame: frame, done: done}); err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(c.cfg.CloseTimeout):
	}
}

// write runs on the writer goroutine.
func (c *Conn) write(msg outbound) error {
	if msg.done != nil {
		defer close(msg.done)
	}

	if msg.stop {
		return errWriterStopped
	}
	if msg.end {
		c.shutdownWrite()
		return nil
	}

	n, err := c.netConn.Write(msg.frame)
	bytesSent.Add(float64(n))
	if err != nil {
		// The read loop notices the closed socket and tears down.
		c.log.Debug("write failed", "error", err)
		_ = c.netConn.Close()
	}
	return nil
}

// shutdownWrite ends the writable side, falling back to a full close for
// sockets without half-close support.
func (c *Conn) shutdownWrite() {
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := c.netConn.(closeWriter); ok {
		if err := cw.CloseWrite(); err == nil {
			return
		}
	}
	_ = c.netConn.Close()
}

// Ping sends a ping frame.
func (c *Conn) Ping() error {
	if c.isClosing() {
		return ErrClosed
	}
	return c.enqueue(outbound{frame: BuildPing(c.masked())})
}

// Close starts the closing handshake (RFC 6455 Section 7.1.2): a close frame
// carrying code and reason is sent and the writable side is ended. The
// socket is torn down when the peer answers, or after CloseTimeout.
//
// Invalid codes are sent as CloseProtocolError. Calling Close again is a no-op.
func (c *Conn) Close(code CloseCode, reason string) error {
	frame, err := BuildClose(code, reason, c.masked())
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	err = c.enqueue(outbound{frame: frame}, outbound{end: true})
	c.armCloseTimeout()
	return err
}

// Destroy tears the socket down immediately, without a closing handshake.
// It is safe to call more than once and from any goroutine.
func (c *Conn) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	_ = c.netConn.Close()
	if !c.started.Load() {
		c.teardown()
	}
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) armCloseTimeout() {
	_ = c.netConn.SetReadDeadline(time.Now().Add(c.cfg.CloseTimeout))
}

// start launches the read loop. Events may be dispatched from then on.
func (c *Conn) start() {
	if c.destroyed.Load() {
		return
	}
	c.started.Store(true)
	go c.readLoop()
}

func (c *Conn) readLoop() {
	defer c.teardown()

	buf := make([]byte, c.cfg.ReadBufferSize)
	for {
		n, err := c.reader.Read(buf)
		if n > 0 {
			bytesReceived.Add(float64(n))
			c.resetKeepalive()
			for _, out := range c.parser.Feed(buf[:n]) {
				if !c.dispatch(out) {
					return
				}
			}
		}
		if err != nil {
			if !expectedReadError(err) {
				c.emitError(fmt.Errorf("websocket: read: %w", err))
			}
			return
		}
	}
}

// expectedReadError reports errors that simply mean the socket is gone.
func expectedReadError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}

// dispatch handles one parser outcome and reports whether reading goes on.
func (c *Conn) dispatch(out Outcome) bool {
	switch out.Kind {
	case MessageOutcome:
		messagesReceived.WithLabelValues(out.Message.Type.String()).Inc()
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn == nil {
			return true
		}
		return c.safely(func() { fn(out.Message) }) == nil

	case ControlOutcome:
		controlFramesReceived.WithLabelValues(out.Frame.Opcode.String()).Inc()
		return c.handleControl(out.Frame)

	case ErrorOutcome:
		c.fail(out.Err)
		return false
	}
	return true
}

func (c *Conn) handleControl(f *Frame) bool {
	c.mu.Lock()
	fn := c.onControl
	c.mu.Unlock()
	if fn != nil && c.safely(func() { fn(f) }) != nil {
		return false
	}

	switch f.Opcode {
	case OpPing:
		_ = c.enqueue(outbound{frame: BuildPong(f, c.masked())})

	case OpClose:
		code, reason := f.CloseStatus()

		c.mu.Lock()
		c.closeCode, c.closeReason = code, reason
		answered := c.closing
		c.closing = true
		c.mu.Unlock()

		if answered {
			// Our close frame was acknowledged; the handshake is done.
			c.Destroy()
			return false
		}

		reply := code
		if reply == CloseNoStatusReceived {
			reply = CloseNormalClosure
		}
		frame, _ := BuildClose(reply, "", c.masked())
		_ = c.enqueue(outbound{frame: frame}, outbound{end: true})
		c.armCloseTimeout()
	}
	return true
}

// fail handles the parser's terminal error: it is reported, a close frame
// with the matching status is sent, and the socket is destroyed.
func (c *Conn) fail(err error) {
	code := CloseProtocolError
	var pe *ProtocolError
	if errors.As(err, &pe) {
		code = pe.CloseCode()
		protocolErrors.WithLabelValues(pe.Kind()).Inc()
	}
	c.log.Warn("protocol error", "error", err)
	c.emitError(err)

	c.mu.Lock()
	answered := c.closing
	c.closing = true
	c.mu.Unlock()

	if !answered {
		frame, _ := BuildClose(code, "", c.masked())
		c.flush(frame)
	}
	c.Destroy()
}

func (c *Conn) emitError(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn == nil {
		c.log.Debug("connection error", "error", err)
		return
	}
	c.safely(func() { fn(err) })
}

// safely runs a user callback. A panic is logged, reported through OnError
// and destroys this connection; the returned error wraps ErrHandlerPanic in
// that case.
func (c *Conn) safely(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			c.log.Error("handler panic", "panic", r)

			c.mu.Lock()
			onError := c.onError
			c.mu.Unlock()
			if onError != nil {
				func() {
					defer func() { _ = recover() }()
					onError(err)
				}()
			}
			c.Destroy()
		}
	}()
	fn()
	return nil
}

func (c *Conn) resetKeepalive() {
	d := c.cfg.keepalive()
	if d == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.keepalive == nil {
		c.keepalive = time.AfterFunc(d, c.idle)
		return
	}
	c.keepalive.Reset(d)
}

// idle fires when nothing was received for the keepalive interval.
func (c *Conn) idle() {
	if err := c.Ping(); err != nil {
		c.log.Debug("keepalive ping not sent", "error", err)
		return
	}
	c.resetKeepalive()
}

// bind records ch as a channel this connection belongs to. It fails once
// teardown has begun.
func (c *Conn) bind(ch *Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.channels[ch] = struct{}{}
	return true
}

func (c *Conn) unbind(ch *Channel) {
	c.mu.Lock()
	delete(c.channels, ch)
	c.mu.Unlock()
}

// teardown runs exactly once when the socket is gone. The connection leaves
// every channel and its host first, then the keepalive timer is stopped, and
// only then is the close callback run.
func (c *Conn) teardown() {
	if !c.tornDown.CompareAndSwap(false, true) {
		return
	}
	c.destroyed.Store(true)
	_ = c.netConn.Close()

	c.mu.Lock()
	c.closed = true
	channels := make([]*Channel, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		ch.Unbind(c)
	}
	if c.host != nil {
		c.host.remove(c)
	}

	c.mu.Lock()
	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	code, reason := c.closeCode, c.closeReason
	onClose := c.onClose
	c.mu.Unlock()

	// The socket is closed, so a pending write fails and the writer reaches
	// the stop item. Nothing is sent to the writer after it.
	c.sendMu.Lock()
	c.stopped = true
	c.writer.Send(outbound{stop: true})
	c.sendMu.Unlock()
	<-c.writer.ClosedChan()

	c.log.Debug("connection closed", "code", int(code), "reason", reason)
	if onClose != nil {
		c.safely(func() { onClose(code, reason) })
	}
	close(c.done)
}
