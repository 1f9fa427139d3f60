// Package client implements the outbound side of the core: one lazily
// opened connection issuing pipelined requests and matching responses to
// their request infos in FIFO order.
package client

import (
	"errors"
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/yourusername/filament/pkg/filament/conn"
	"github.com/yourusername/filament/pkg/filament/http1"
	"github.com/yourusername/filament/pkg/filament/reactor"
)

var (
	// ErrNoDialer indicates a client built without a Dial function
	ErrNoDialer = errors.New("client: no dialer configured")

	// ErrNotConnected indicates an operation needing the connection before
	// the first send opened it
	ErrNotConnected = errors.New("client: not connected")
)

// ResponseHandler receives each response together with the request info it
// answers, popped from the FIFO.
type ResponseHandler func(info *conn.RequestInfo, m *http1.Message)

// Config holds client configuration.
type Config struct {
	// Host names the peer; it becomes the default Host header.
	Host string

	// Dial opens the transport. The core stays transport-agnostic: the
	// embedder connects (and TLS-wraps, if it wants) the socket.
	Dial func() (reactor.Socket, error)

	// Conn carries the parser limits and timeout settings for the single
	// connection.
	Conn conn.Config

	// ResponseHandler receives responses in request order.
	ResponseHandler ResponseHandler

	// OnError receives library-level diagnostics.
	OnError func(err error)

	// Logger receives client diagnostics. Default: zap.NewNop().
	Logger *zap.Logger
}

// Client owns exactly one connection, opened lazily on the first send.
type Client struct {
	cfg Config
	r   reactor.Reactor
	c   *conn.Connection
	log *zap.Logger
}

// New validates the configuration and builds a client.
func New(cfg Config, r reactor.Reactor) (*Client, error) {
	if cfg.Dial == nil {
		return nil, ErrNoDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{cfg: cfg, r: r, log: cfg.Logger.Named("client")}, nil
}

// Connected reports whether the connection is open.
func (cl *Client) Connected() bool {
	return cl.c != nil && !cl.c.Closed()
}

// Connection exposes the underlying connection, mainly for tests.
func (cl *Client) Connection() *conn.Connection {
	return cl.c
}

// ensureConnected dials and registers the connection on first use.
func (cl *Client) ensureConnected() error {
	if cl.Connected() {
		return nil
	}
	sock, err := cl.cfg.Dial()
	if err != nil {
		return err
	}
	hooks := conn.Hooks{
		Dispatch:    cl.onResponse,
		ParserReset: cl.hintFraming,
		Error: func(_ *conn.Connection, err error) {
			cl.log.Warn("connection error", zap.Error(err))
			if cl.cfg.OnError != nil {
				cl.cfg.OnError(err)
			}
		},
	}
	c, err := conn.New(conn.TypeClient, sock, cl.r, cl.cfg.Conn, hooks)
	if err != nil {
		_ = sock.Close()
		return err
	}
	cl.c = c
	return nil
}

// onResponse pops the oldest pending request info and hands both to the
// configured handler. Responses arrive in request order by HTTP/1.x
// pipelining rules; an unmatched response is a peer bug and closes the
// connection.
func (cl *Client) onResponse(c *conn.Connection, m *http1.Message) {
	info := c.PopRequestInfo()
	if info == nil {
		cl.log.Warn("response without pending request", zap.Int("status", m.StatusCode))
		c.Close()
		return
	}
	info.Status = m.StatusCode
	if cl.cfg.ResponseHandler != nil {
		cl.cfg.ResponseHandler(info, m)
	}
}

// hintFraming tells the parser which request method the next response
// answers, so HEAD responses are framed without a body.
func (cl *Client) hintFraming(c *conn.Connection) {
	if info := c.FrontRequestInfo(); info != nil {
		c.Parser().SetRequestMethod(info.Method)
	}
}

// SendRequest serializes a request onto the connection's write stream and
// queues its info for response matching. body may be nil.
func (cl *Client) SendRequest(method, target string, headers []http1.Header, body []byte) (*conn.RequestInfo, error) {
	return cl.send(method, target, headers, body, nil, 0)
}

// SendRequestWithFile streams a file region as the request body.
func (cl *Client) SendRequestWithFile(method, target string, headers []http1.Header, src io.ReaderAt, size int64) (*conn.RequestInfo, error) {
	return cl.send(method, target, headers, nil, src, size)
}

func (cl *Client) send(method, target string, headers []http1.Header, body []byte, src io.ReaderAt, size int64) (*conn.RequestInfo, error) {
	if err := cl.ensureConnected(); err != nil {
		return nil, err
	}

	var hs http1.Headers
	hs.Add(http1.HeaderHost, cl.cfg.Host)
	for _, h := range headers {
		hs.Set(h.Name, h.Value)
	}
	if src != nil {
		hs.Set(http1.HeaderContentLength, strconv.FormatInt(size, 10))
	} else if len(body) > 0 {
		hs.Set(http1.HeaderContentLength, strconv.Itoa(len(body)))
	}

	bb := bytebufferpool.Get()
	http1.AppendRequestHead(bb, method, target, http1.Version11, &hs)
	if err := cl.c.WriteBuffer(bb); err != nil {
		return nil, err
	}
	if src != nil {
		if err := cl.c.WriteFile(src, 0, size); err != nil {
			return nil, err
		}
	} else if len(body) > 0 {
		if err := cl.c.WriteBytes(body); err != nil {
			return nil, err
		}
	}

	info := &conn.RequestInfo{
		IssuedAt: cl.r.Now(),
		Method:   method,
		URI:      target,
	}
	first := cl.c.FrontRequestInfo() == nil
	cl.c.PushRequestInfo(info)
	if first {
		// Nothing ahead of us in the pipeline; frame the next response
		// against this request.
		cl.c.Parser().SetRequestMethod(method)
	}
	return info, nil
}

// Get issues a GET request.
func (cl *Client) Get(target string, headers ...http1.Header) (*conn.RequestInfo, error) {
	return cl.SendRequest("GET", target, headers, nil)
}

// Head issues a HEAD request.
func (cl *Client) Head(target string, headers ...http1.Header) (*conn.RequestInfo, error) {
	return cl.SendRequest("HEAD", target, headers, nil)
}

// Post issues a POST request with the given content type and body.
func (cl *Client) Post(target, contentType string, body []byte) (*conn.RequestInfo, error) {
	return cl.SendRequest("POST", target, []http1.Header{
		{Name: http1.HeaderContentType, Value: contentType},
	}, body)
}

// InFlight returns a snapshot of the pending request infos.
func (cl *Client) InFlight() []conn.RequestInfo {
	if cl.c == nil {
		return nil
	}
	return cl.c.InFlight()
}

// Close tears down the connection if open.
func (cl *Client) Close() error {
	if cl.c == nil {
		return nil
	}
	cl.c.Close()
	cl.c = nil
	return nil
}
