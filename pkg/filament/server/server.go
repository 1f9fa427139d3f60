// Package server owns the accept loop, the connection registry, the route
// table and the shared configuration of an embedded HTTP/1.x server.
package server

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yourusername/filament/pkg/filament/conn"
	"github.com/yourusername/filament/pkg/filament/http1"
	"github.com/yourusername/filament/pkg/filament/reactor"
	"github.com/yourusername/filament/pkg/filament/router"
)

// Server is the embeddable HTTP/1.x server core. It runs entirely on the
// reactor thread: accepts, parsing, routing, handlers and timers all share
// one cooperative loop, so there is no locking anywhere.
type Server struct {
	cfg      Config
	r        reactor.Reactor
	table    *router.Table
	decoders *http1.DecoderRegistry
	log      *zap.Logger
	metrics  *Metrics

	listeners     []reactor.Listener
	acceptHandles []reactor.Handle
	conns         map[*conn.Connection]struct{}
	sweepTimer    reactor.TimerHandle
	listening     bool
}

// New validates the configuration and builds a server. Routes are added
// before Listen; the route table is immutable once listening begins.
func New(cfg Config, r reactor.Reactor) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	decoders := http1.NewDecoderRegistry()
	for _, d := range cfg.ContentDecoders {
		decoders.Register(d.MediaType, d.Decode, d.Dispose)
	}
	s := &Server{
		cfg:      cfg,
		r:        r,
		table:    router.NewTable(),
		decoders: decoders,
		log:      cfg.Logger.Named("server"),
		conns:    make(map[*conn.Connection]struct{}),
	}
	if cfg.Metrics != nil {
		s.metrics = newMetrics(cfg.Metrics)
	}
	return s, nil
}

// AddRoute registers a handler for (method, pattern). Pattern syntax errors
// surface as ConfigurationError; registration after Listen is rejected.
func (s *Server) AddRoute(method, pattern string, handler router.Handler, opts router.Options) error {
	if s.listening {
		return ErrAlreadyListening
	}
	if err := s.table.Add(method, pattern, handler, opts); err != nil {
		return &ConfigurationError{Reason: err.Error()}
	}
	return nil
}

// Routes returns the route table, for inspection in tests.
func (s *Server) Routes() *router.Table {
	return s.table
}

// Listen registers accept handlers for the given listeners (one per
// resolved address family, built by the embedder) and starts the idle
// sweep. The route table freezes here.
func (s *Server) Listen(listeners ...reactor.Listener) error {
	if s.listening {
		return ErrAlreadyListening
	}
	if len(listeners) == 0 {
		return &ConfigurationError{Reason: "no listeners supplied"}
	}
	for _, l := range listeners {
		l := l
		h, err := s.r.RegisterAccept(l, func() { s.acceptLoop(l) })
		if err != nil {
			return err
		}
		s.listeners = append(s.listeners, l)
		s.acceptHandles = append(s.acceptHandles, h)
		s.log.Info("listening", zap.String("addr", l.Addr()))
	}
	s.listening = true
	s.scheduleSweep()
	return nil
}

// acceptLoop drains pending sockets from one listener.
func (s *Server) acceptLoop(l reactor.Listener) {
	for {
		sock, err := l.Accept()
		if err != nil {
			if !errors.Is(err, reactor.ErrWouldBlock) {
				s.log.Error("accept failed", zap.String("addr", l.Addr()), zap.Error(err))
			}
			return
		}
		s.adopt(sock)
	}
}

// adopt wires a fresh socket into a Connection with the server's hooks.
func (s *Server) adopt(sock reactor.Socket) {
	hooks := conn.Hooks{
		Dispatch:    s.dispatch,
		Error:       s.onError,
		Trace:       s.cfg.Hooks.Trace,
		ErrorSender: s.cfg.Hooks.ErrorSender,
		ResponseSent: func(c *conn.Connection, status int) {
			s.metrics.responseSent(status)
		},
		RequestReceived: func(c *conn.Connection, m *http1.Message) {
			s.metrics.requestReceived()
			if s.cfg.Hooks.Request != nil {
				s.cfg.Hooks.Request(c, m)
			}
		},
	}
	c, err := conn.New(conn.TypeServer, sock, s.r, s.cfg.connConfig(s.decoders), hooks)
	if err != nil {
		s.log.Error("connection registration failed", zap.Error(err))
		_ = sock.Close()
		return
	}
	c.SetOnClose(s.unregister)
	s.conns[c] = struct{}{}
	s.metrics.connectionAccepted()
	s.log.Debug("connection accepted", zap.String("conn_id", c.ID()))
}

// unregister removes a closed connection from the registry.
func (s *Server) unregister(c *conn.Connection) {
	if _, ok := s.conns[c]; !ok {
		return
	}
	delete(s.conns, c)
	s.metrics.connectionClosed()
}

// onError forwards diagnostics and counts protocol failures.
func (s *Server) onError(c *conn.Connection, err error) {
	var perr *http1.ProtocolError
	if errors.As(err, &perr) {
		s.metrics.parseError()
	}
	if s.cfg.Hooks.Error != nil {
		s.cfg.Hooks.Error(c, err)
	}
}

// dispatch resolves a complete request to its route handler, mapping
// resolver misses to 404/405 and the asterisk target to 400.
func (s *Server) dispatch(c *conn.Connection, m *http1.Message) {
	// "*" parses but is unsupported as a request target.
	if m.RawURI == "*" {
		c.SendError(http1.StatusBadRequest, "asterisk request target is not supported")
		return
	}

	match := s.table.Find(m.Method, m.URI.Path)
	switch match.Result {
	case router.WrongPath:
		c.SendError(http1.StatusNotFound, "no route for %s", m.URI.Path)
		return
	case router.WrongMethod:
		allow := strings.Join(match.Allow, ", ")
		c.SendResponseWithBody(http1.StatusMethodNotAllowed,
			[]http1.Header{
				{Name: http1.HeaderAllow, Value: allow},
				{Name: http1.HeaderContentType, Value: "text/plain; charset=utf-8"},
			},
			[]byte(http1.ReasonPhrase(http1.StatusMethodNotAllowed)+"\n"))
		return
	}

	route := match.Route
	if route.Options.MaxContentLength > 0 && int64(len(m.Body)) > route.Options.MaxContentLength {
		c.SendError(http1.StatusRequestEntityTooLarge,
			"body exceeds route limit of %d bytes", route.Options.MaxContentLength)
		return
	}
	m.Params = match.Params
	c.SetRouteHeaders(route.Options.DefaultHeaders)
	route.Handler(c, m)
}

// scheduleSweep arms the periodic idle scan. The period is half the
// timeout, so a dead connection is answered within one period of
// expiring.
func (s *Server) scheduleSweep() {
	period := time.Duration(s.cfg.ConnectionTimeoutMS) * time.Millisecond / 2
	if period <= 0 {
		period = 5 * time.Second
	}
	s.sweepTimer = s.r.ScheduleTimer(period, func() {
		s.sweepIdle()
		if s.listening {
			s.scheduleSweep()
		}
	})
}

// sweepIdle times out connections quiet for longer than the configured
// cutoff: they get 408 and a half-close.
func (s *Server) sweepIdle() {
	cutoff := time.Duration(s.cfg.ConnectionTimeoutMS) * time.Millisecond
	for c := range s.conns {
		if c.Closed() || c.ShuttingDown() {
			continue
		}
		if c.IdleFor() > cutoff {
			s.metrics.timedOut()
			c.SendTimeout()
		}
	}
}

// ActiveConnections returns the registry size.
func (s *Server) ActiveConnections() int {
	return len(s.conns)
}

// Shutdown closes the listeners, tears down every connection and stops the
// sweep. Errors are aggregated; the server can not be restarted.
func (s *Server) Shutdown() error {
	if !s.listening {
		return ErrNotListening
	}
	s.listening = false
	var errs error
	for _, h := range s.acceptHandles {
		s.r.Unregister(h)
	}
	for _, l := range s.listeners {
		errs = multierr.Append(errs, l.Close())
	}
	if s.sweepTimer != nil {
		s.r.CancelTimer(s.sweepTimer)
		s.sweepTimer = nil
	}
	for c := range s.conns {
		c.Close()
	}
	s.log.Info("server shut down")
	return errs
}
