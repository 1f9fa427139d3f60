// Package conn implements the per-socket connection state machine: the
// read path drives the incremental parser, the write path drains the write
// stream, and the lifecycle covers idle timeout, keep-alive, pipelining and
// half-close.
package conn

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/yourusername/filament/pkg/filament/buffer"
	"github.com/yourusername/filament/pkg/filament/http1"
	"github.com/yourusername/filament/pkg/filament/reactor"
)

// Type distinguishes the two connection roles.
type Type uint8

const (
	// TypeServer parses requests and writes responses.
	TypeServer Type = iota

	// TypeClient writes requests and parses responses.
	TypeClient
)

// String returns "server" or "client".
func (t Type) String() string {
	if t == TypeServer {
		return "server"
	}
	return "client"
}

// Hooks are the callbacks a connection invokes on the reactor thread.
// Dispatch is required; everything else is optional.
type Hooks struct {
	// RequestReceived fires pre-route, for observation only.
	RequestReceived func(c *Connection, m *http1.Message)

	// Dispatch hands a complete message to its consumer: the server's
	// route resolver, or the client's response matcher.
	Dispatch func(c *Connection, m *http1.Message)

	// Error receives library-level diagnostics: protocol failures and
	// resource errors.
	Error func(c *Connection, err error)

	// Trace, when set, receives every complete message for protocol
	// tracing.
	Trace func(c *Connection, m *http1.Message)

	// ErrorSender overrides rendering of default error responses. It must
	// itself enqueue a response for the given status.
	ErrorSender func(c *Connection, status int, headers []http1.Header, detail string)

	// ResponseSent fires after a response has been fully enqueued, with
	// its status code.
	ResponseSent func(c *Connection, status int)

	// ParserReset fires after the parser is reset for the next pipelined
	// message; the client uses it to hint response framing.
	ParserReset func(c *Connection)
}

// Config holds per-connection settings.
type Config struct {
	// Parser carries the limits, bufferization mode and content decoders.
	Parser http1.Config

	// ConnectionTimeout is the idle cutoff; connections quiet for longer
	// are sent 408 and half-closed by the owner's sweep.
	// Default: 10 seconds.
	ConnectionTimeout time.Duration

	// DefaultHeaders are merged into every response.
	DefaultHeaders []http1.Header

	// ReadChunk caps how many bytes a single socket read appends to the
	// read buffer; a read-readiness callback keeps reading until the
	// socket would block.
	// Default: 4096 bytes.
	ReadChunk int

	// Logger receives connection lifecycle diagnostics.
	// Default: zap.NewNop().
	Logger *zap.Logger
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout: 10 * time.Second,
		ReadChunk:         4096,
		Logger:            zap.NewNop(),
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = d.ReadChunk
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Connection is one socket's state. All methods run on the reactor thread;
// there is no locking anywhere in the core.
type Connection struct {
	typ   Type
	id    string
	sock  reactor.Socket
	r     reactor.Reactor
	cfg   Config
	hooks Hooks
	log   *zap.Logger

	readBuf *buffer.ByteBuffer
	stream  *WriteStream
	parser  *http1.Parser

	readHandle  reactor.Handle
	writeHandle reactor.Handle

	httpVersion  http1.Version
	lastActivity time.Time

	shuttingDown bool
	closedByPeer bool
	closed       bool
	sent100      bool

	// closeAfterResponse forces the next response to advertise and trigger
	// connection close (protocol failures, timeouts).
	closeAfterResponse bool

	// dispatch-scoped state for the message currently in its handler
	cur          *http1.Message
	routeHeaders []http1.Header
	wrote        bool
	deferred     bool

	infos   []*RequestInfo
	onClose func(*Connection)
}

// New registers a connection on the reactor and starts reading.
func New(typ Type, sock reactor.Socket, r reactor.Reactor, cfg Config, hooks Hooks) (*Connection, error) {
	cfg = cfg.withDefaults()
	kind := http1.KindRequest
	if typ == TypeClient {
		kind = http1.KindResponse
	}
	c := &Connection{
		typ:          typ,
		id:           uuid.NewString(),
		sock:         sock,
		r:            r,
		cfg:          cfg,
		hooks:        hooks,
		readBuf:      buffer.NewSize(cfg.ReadChunk),
		stream:       NewWriteStream(),
		parser:       http1.NewParser(kind, cfg.Parser),
		httpVersion:  http1.Version11,
		lastActivity: r.Now(),
	}
	c.log = cfg.Logger.With(zap.String("conn_id", c.id), zap.Stringer("type", typ))
	h, err := r.RegisterRead(sock, c.onReadable)
	if err != nil {
		return nil, err
	}
	c.readHandle = h
	c.log.Debug("connection registered")
	return c, nil
}

// ID returns the connection's UUID, used in logs.
func (c *Connection) ID() string { return c.id }

// Type returns the connection role.
func (c *Connection) Type() Type { return c.typ }

// Parser exposes the connection's parser; the client uses it to hint
// response framing with the pending request's method.
func (c *Connection) Parser() *http1.Parser { return c.parser }

// LastActivity returns the reactor time of the last read or write progress.
func (c *Connection) LastActivity() time.Time { return c.lastActivity }

// ShuttingDown reports whether half-close has begun.
func (c *Connection) ShuttingDown() bool { return c.shuttingDown }

// Closed reports whether the connection has been torn down.
func (c *Connection) Closed() bool { return c.closed }

// ClosedByPeer reports whether the peer has closed its write side.
func (c *Connection) ClosedByPeer() bool { return c.closedByPeer }

// SetOnClose installs the owner's unregistration callback.
func (c *Connection) SetOnClose(fn func(*Connection)) { c.onClose = fn }

// touch records activity for the idle-timeout sweep.
func (c *Connection) touch() {
	c.lastActivity = c.r.Now()
}

// onReadable is the read-readiness callback: append socket bytes to the
// read buffer, then run the parser until it blocks or fails.
func (c *Connection) onReadable() {
	if c.closed {
		return
	}
	c.touch()
	for {
		n, err := c.readBuf.ReadFrom(c.sock, c.cfg.ReadChunk)
		if err != nil {
			if errors.Is(err, reactor.ErrWouldBlock) {
				break
			}
			if errors.Is(err, io.EOF) {
				c.closedByPeer = true
				c.parser.SetEOF()
				break
			}
			c.failResource(err)
			return
		}
		if n == 0 {
			break
		}
	}
	c.parseLoop()
}

// parseLoop consumes the read buffer message by message; pipelined requests
// arriving in one segment dispatch back to back in arrival order.
func (c *Connection) parseLoop() {
	for !c.closed {
		switch c.parser.Parse(c.readBuf) {
		case http1.NeedMore:
			c.maybeSend100Continue()
			if c.closedByPeer && c.parser.Idle() {
				// Clean EOF between messages.
				c.log.Debug("peer closed, no message pending")
				c.Shutdown()
			}
			return

		case http1.Complete:
			msg := c.parser.TakeMessage()
			c.parser.Reset()
			c.dispatchMessage(msg)
			// The dispatcher has consumed its request info; only now can
			// the next message's framing be hinted.
			if c.hooks.ParserReset != nil {
				c.hooks.ParserReset(c)
			}

		case http1.Fail:
			c.failProtocol()
			return
		}
	}
}

// maybeSend100Continue emits the interim response once the header section
// of a request carrying Expect: 100-continue is parsed and body bytes are
// still pending.
func (c *Connection) maybeSend100Continue() {
	if c.typ != TypeServer || c.sent100 || !c.parser.HeadersDone() {
		return
	}
	msg := c.parser.Message()
	if msg == nil || !msg.Expects100Continue {
		return
	}
	c.sent100 = true
	c.stream.PushBytes([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
	c.flushStream()
}

// dispatchMessage runs the hooks and the dispatcher for one complete
// message, then synthesizes a defensive 500 if a server handler returned
// without producing or deferring a response.
func (c *Connection) dispatchMessage(msg *http1.Message) {
	c.httpVersion = msg.Version
	c.sent100 = false

	if c.typ == TypeServer {
		c.pushInfo(&RequestInfo{
			IssuedAt: c.r.Now(),
			Method:   msg.Method,
			URI:      msg.RawURI,
		})
	}
	if c.hooks.Trace != nil {
		c.hooks.Trace(c, msg)
	}
	if c.hooks.RequestReceived != nil {
		c.hooks.RequestReceived(c, msg)
	}

	c.cur = msg
	c.wrote = false
	c.deferred = false
	if c.hooks.Dispatch != nil {
		c.hooks.Dispatch(c, msg)
	}
	if c.typ == TypeServer && !c.closed && !c.wrote && !c.deferred {
		c.SendError(http1.StatusInternalServerError, "handler produced no response")
	}
	if msg.Decoded != nil && c.cfg.Parser.Decoders != nil {
		c.cfg.Parser.Decoders.Dispose(msg.ContentType.Type, msg.Decoded)
	}
	c.cur = nil
	c.routeHeaders = nil
}

// failProtocol answers a parse failure with its mapped status and
// half-closes (server), or tears down (client).
func (c *Connection) failProtocol() {
	status := c.parser.FailStatus()
	detail := c.parser.ErrMsg()
	perr := http1.NewProtocolError(status, "%s", detail)
	c.log.Warn("protocol error", zap.Int("status", status), zap.String("detail", detail))
	if c.hooks.Error != nil {
		c.hooks.Error(c, perr)
	}
	if c.typ == TypeServer {
		c.closeAfterResponse = true
		c.SendError(status, "%s", detail)
		c.Shutdown()
		return
	}
	c.Close()
}

// failResource tears down after a socket or reactor failure.
func (c *Connection) failResource(err error) {
	c.log.Error("resource error", zap.Error(err))
	if c.hooks.Error != nil {
		c.hooks.Error(c, err)
	}
	c.Close()
}

// SetRouteHeaders installs per-route default headers for the response(s) to
// the message currently being dispatched.
func (c *Connection) SetRouteHeaders(headers []http1.Header) {
	c.routeHeaders = headers
}

// DeferResponse marks the current request as answered later from another
// reactor callback; the defensive 500 is suppressed. The deferred response
// must still be produced in arrival order.
func (c *Connection) DeferResponse() {
	c.deferred = true
}

// SendResponse enqueues a bodyless response.
func (c *Connection) SendResponse(status int, headers []http1.Header) {
	c.sendResponse(status, headers, nil, nil, 0, nil)
}

// SendResponseWithBody enqueues a response with an in-memory body.
func (c *Connection) SendResponseWithBody(status int, headers []http1.Header, body []byte) {
	c.sendResponse(status, headers, body, nil, 0, nil)
}

// SendResponseWithFile enqueues a response whose body is a file region.
// With a single satisfiable range the region is narrowed and Content-Range
// is added; multi-range sets fall back to the whole file.
func (c *Connection) SendResponseWithFile(status int, headers []http1.Header, src io.ReaderAt, size int64, ranges *http1.Ranges) {
	c.sendResponse(status, headers, nil, src, size, ranges)
}

// SendError renders a default error response, or delegates to the
// configured ErrorSender override.
func (c *Connection) SendError(status int, format string, args ...any) {
	detail := http1.NewProtocolError(status, format, args...).Detail
	if c.hooks.ErrorSender != nil {
		c.wrote = true
		c.hooks.ErrorSender(c, status, nil, detail)
		return
	}
	body := []byte(http1.ReasonPhrase(status) + ": " + detail + "\n")
	c.sendResponse(status, []http1.Header{
		{Name: http1.HeaderContentType, Value: "text/plain; charset=utf-8"},
	}, body, nil, 0, nil)
}

// sendResponse synthesizes the status line and headers, applies the
// keep-alive decision, and enqueues head and body on the write stream.
func (c *Connection) sendResponse(status int, headers []http1.Header, body []byte, src io.ReaderAt, size int64, ranges *http1.Ranges) {
	if c.closed {
		return
	}

	var hs http1.Headers
	for _, h := range c.cfg.DefaultHeaders {
		hs.Add(h.Name, h.Value)
	}
	for _, h := range c.routeHeaders {
		hs.Set(h.Name, h.Value)
	}
	for _, h := range headers {
		hs.Set(h.Name, h.Value)
	}

	// Resolve a single byte range onto the file region.
	off := int64(0)
	length := size
	if src != nil && ranges != nil && len(ranges.Specs) == 1 {
		if o, l, ok := ranges.Specs[0].Resolve(size); ok {
			off, length = o, l
			hs.Set(http1.HeaderContentRange, contentRangeValue(o, l, size))
		}
	}
	if src != nil {
		hs.Set(http1.HeaderContentLength, strconv.FormatInt(length, 10))
	} else {
		hs.Set(http1.HeaderContentLength, strconv.Itoa(len(body)))
	}

	closing := c.decideClose(&hs)
	if closing {
		hs.Set(http1.HeaderConnection, "close")
	} else if c.httpVersion == http1.Version10 {
		// HTTP/1.0 keep-alive must be explicit on the response too.
		hs.Set(http1.HeaderConnection, "keep-alive")
	}

	bb := bytebufferpool.Get()
	http1.AppendResponseHead(bb, c.httpVersion, status, "", &hs)
	c.stream.PushBuffer(bb)
	if src != nil {
		c.stream.PushFile(src, off, length)
	} else if len(body) > 0 {
		c.stream.PushBytes(body)
	}

	c.wrote = true
	if info := c.oldestUnanswered(); info != nil {
		info.Status = status
	}
	if c.typ == TypeServer {
		c.popInfo()
	}
	if c.hooks.ResponseSent != nil {
		c.hooks.ResponseSent(c, status)
	}

	c.flushStream()
	if closing {
		c.Shutdown()
	}
}

// oldestUnanswered returns the FIFO head still waiting for a status.
func (c *Connection) oldestUnanswered() *RequestInfo {
	for _, info := range c.infos {
		if info.Status == 0 {
			return info
		}
	}
	return nil
}

// decideClose applies the keep-alive rules: HTTP/1.0 closes unless the
// request asked for keep-alive; HTTP/1.1 stays open unless either side says
// close. When a request carries both keep-alive and close, close wins.
func (c *Connection) decideClose(respHeaders *http1.Headers) bool {
	if c.shuttingDown || c.closedByPeer || c.closeAfterResponse {
		return true
	}
	reqWantsClose := false
	reqWantsKeepAlive := false
	if c.cur != nil {
		reqWantsClose = c.cur.WantsClose()
		reqWantsKeepAlive = c.cur.WantsKeepAlive()
	}
	respClose := false
	if v, ok := respHeaders.Get(http1.HeaderConnection); ok {
		respClose = headerTokenIs(v, "close")
	}
	if c.httpVersion == http1.Version10 {
		return !reqWantsKeepAlive || reqWantsClose || respClose
	}
	return reqWantsClose || respClose
}

// WriteBytes enqueues raw bytes (client request serialization path).
func (c *Connection) WriteBytes(p []byte) error {
	if c.closed {
		return ErrConnectionClosed
	}
	if c.shuttingDown {
		return ErrShuttingDown
	}
	c.stream.PushBytes(p)
	c.flushStream()
	return nil
}

// WriteBuffer enqueues a pooled chunk, taking ownership.
func (c *Connection) WriteBuffer(bb *bytebufferpool.ByteBuffer) error {
	if c.closed {
		return ErrConnectionClosed
	}
	if c.shuttingDown {
		return ErrShuttingDown
	}
	c.stream.PushBuffer(bb)
	c.flushStream()
	return nil
}

// WriteFile enqueues a file region.
func (c *Connection) WriteFile(src io.ReaderAt, off, size int64) error {
	if c.closed {
		return ErrConnectionClosed
	}
	if c.shuttingDown {
		return ErrShuttingDown
	}
	c.stream.PushFile(src, off, size)
	c.flushStream()
	return nil
}

// flushStream drains opportunistically and keeps write interest armed
// exactly while the stream is non-empty.
func (c *Connection) flushStream() {
	if c.closed {
		return
	}
	drained, err := c.stream.Drain(c.sock)
	if err != nil {
		c.failResource(err)
		return
	}
	if drained {
		c.touch()
		c.disarmWrite()
		if c.shuttingDown {
			c.Close()
		}
		return
	}
	c.armWrite()
}

// onWritable is the write-readiness callback.
func (c *Connection) onWritable() {
	if c.closed {
		return
	}
	c.touch()
	c.flushStream()
}

func (c *Connection) armWrite() {
	if c.writeHandle != nil {
		return
	}
	h, err := c.r.RegisterWrite(c.sock, c.onWritable)
	if err != nil {
		c.failResource(err)
		return
	}
	c.writeHandle = h
}

func (c *Connection) disarmWrite() {
	if c.writeHandle == nil {
		return
	}
	c.r.Unregister(c.writeHandle)
	c.writeHandle = nil
}

// SendTimeout answers an idle connection with 408 and half-closes it. The
// owner's sweep calls this for connections whose last activity predates the
// timeout.
func (c *Connection) SendTimeout() {
	c.log.Debug("idle timeout", zap.Time("last_activity", c.lastActivity))
	c.closeAfterResponse = true
	c.SendError(http1.StatusRequestTimeout, "connection idle longer than %s", c.cfg.ConnectionTimeout)
	c.Shutdown()
}

// IdleFor reports how long the connection has been quiet.
func (c *Connection) IdleFor() time.Duration {
	return c.r.Now().Sub(c.lastActivity)
}

// Timeout returns the configured idle cutoff.
func (c *Connection) Timeout() time.Duration {
	return c.cfg.ConnectionTimeout
}

// Shutdown begins half-close: read interest is dropped, the socket's read
// side is shut down, and the connection closes once the write stream
// drains.
func (c *Connection) Shutdown() {
	if c.closed || c.shuttingDown {
		return
	}
	c.shuttingDown = true
	if c.readHandle != nil {
		c.r.Unregister(c.readHandle)
		c.readHandle = nil
	}
	_ = c.sock.CloseRead()
	if c.stream.Empty() {
		c.Close()
	}
}

// Close tears the connection down immediately: registrations dropped,
// pending output discarded, socket closed, owner notified.
func (c *Connection) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.readHandle != nil {
		c.r.Unregister(c.readHandle)
		c.readHandle = nil
	}
	c.disarmWrite()
	c.stream.Discard()
	_ = c.sock.Close()
	c.log.Debug("connection closed")
	if c.onClose != nil {
		c.onClose(c)
	}
}

// contentRangeValue renders "bytes off-(off+len-1)/size".
func contentRangeValue(off, length, size int64) string {
	return "bytes " + strconv.FormatInt(off, 10) + "-" +
		strconv.FormatInt(off+length-1, 10) + "/" + strconv.FormatInt(size, 10)
}

// headerTokenIs reports whether any comma-separated token of v equals tok,
// case-insensitively.
func headerTokenIs(v, tok string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), tok) {
			return true
		}
	}
	return false
}
