package client

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/filament/pkg/filament/conn"
	"github.com/yourusername/filament/pkg/filament/http1"
	"github.com/yourusername/filament/pkg/filament/reactor"
)

// clientEnv wires a client to a driver-held server end.
type clientEnv struct {
	t      *testing.T
	mr     *reactor.Manual
	cl     *Client
	cliEnd *reactor.MemSocket // client's socket
	srvEnd *reactor.MemSocket // driver's socket
	got    []response
	dials  int
}

type response struct {
	info conn.RequestInfo
	msg  *http1.Message
}

func newClientEnv(t *testing.T) *clientEnv {
	t.Helper()
	e := &clientEnv{t: t, mr: reactor.NewManual()}
	e.cliEnd, e.srvEnd = reactor.Pipe()
	cfg := Config{
		Host: "peer.example",
		Dial: func() (reactor.Socket, error) {
			e.dials++
			return e.cliEnd, nil
		},
		ResponseHandler: func(info *conn.RequestInfo, m *http1.Message) {
			e.got = append(e.got, response{info: *info, msg: m})
		},
	}
	cl, err := New(cfg, e.mr)
	require.NoError(t, err)
	e.cl = cl
	return e
}

// respond writes wire bytes from the "server" and fires read readiness.
func (e *clientEnv) respond(wire string) {
	e.t.Helper()
	_, err := e.srvEnd.Write([]byte(wire))
	require.NoError(e.t, err)
	e.mr.FireRead(e.cliEnd)
}

func TestNewRequiresDialer(t *testing.T) {
	_, err := New(Config{}, reactor.NewManual())
	assert.ErrorIs(t, err, ErrNoDialer)
}

func TestLazyConnectOnFirstSend(t *testing.T) {
	e := newClientEnv(t)
	assert.False(t, e.cl.Connected())
	assert.Equal(t, 0, e.dials)

	_, err := e.cl.Get("/a")
	require.NoError(t, err)
	assert.True(t, e.cl.Connected())
	assert.Equal(t, 1, e.dials)

	_, err = e.cl.Get("/b")
	require.NoError(t, err)
	assert.Equal(t, 1, e.dials, "second send reuses the connection")
}

func TestRequestWireFormat(t *testing.T) {
	e := newClientEnv(t)
	_, err := e.cl.SendRequest("GET", "/items?id=2",
		[]http1.Header{{Name: "Accept", Value: "application/json"}}, nil)
	require.NoError(t, err)

	wire := string(e.srvEnd.Drain())
	assert.True(t, strings.HasPrefix(wire, "GET /items?id=2 HTTP/1.1\r\n"), "got %q", wire)
	assert.Contains(t, wire, "Host: peer.example\r\n")
	assert.Contains(t, wire, "Accept: application/json\r\n")
	assert.True(t, strings.HasSuffix(wire, "\r\n\r\n"))
}

func TestPostAddsContentLengthAndBody(t *testing.T) {
	e := newClientEnv(t)
	_, err := e.cl.Post("/u", "text/plain", []byte("hello"))
	require.NoError(t, err)

	wire := string(e.srvEnd.Drain())
	assert.Contains(t, wire, "Content-Type: text/plain\r\n")
	assert.Contains(t, wire, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(wire, "\r\n\r\nhello"))
}

func TestSendRequestWithFile(t *testing.T) {
	e := newClientEnv(t)
	payload := "file payload bytes"
	_, err := e.cl.SendRequestWithFile("PUT", "/up", nil,
		strings.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	wire := string(e.srvEnd.Drain())
	assert.Contains(t, wire, "Content-Length: 18\r\n")
	assert.True(t, strings.HasSuffix(wire, payload))
}

func TestResponseMatchedToRequestInfo(t *testing.T) {
	e := newClientEnv(t)
	info, err := e.cl.Get("/a")
	require.NoError(t, err)
	require.Len(t, e.cl.InFlight(), 1)

	e.respond("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")

	require.Len(t, e.got, 1)
	assert.Equal(t, "GET", e.got[0].info.Method)
	assert.Equal(t, "/a", e.got[0].info.URI)
	assert.Equal(t, 200, e.got[0].info.Status)
	assert.Equal(t, 200, info.Status, "caller-held info sees the status")
	assert.Equal(t, []byte("ok"), e.got[0].msg.Body)
	assert.Empty(t, e.cl.InFlight())
}

func TestPipelinedResponsesMatchFIFO(t *testing.T) {
	e := newClientEnv(t)
	_, err := e.cl.Get("/first")
	require.NoError(t, err)
	_, err = e.cl.Get("/second")
	require.NoError(t, err)
	require.Len(t, e.cl.InFlight(), 2)

	// Both responses arrive in one TCP segment.
	e.respond("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nA" +
		"HTTP/1.1 404 Not Found\r\nContent-Length: 1\r\n\r\nB")

	require.Len(t, e.got, 2)
	assert.Equal(t, "/first", e.got[0].info.URI)
	assert.Equal(t, 200, e.got[0].info.Status)
	assert.Equal(t, "/second", e.got[1].info.URI)
	assert.Equal(t, 404, e.got[1].info.Status)
}

func TestHeadResponseFraming(t *testing.T) {
	e := newClientEnv(t)
	_, err := e.cl.Head("/doc")
	require.NoError(t, err)
	_, err = e.cl.Get("/doc")
	require.NoError(t, err)

	// The HEAD response declares a length but carries no body; the GET
	// response follows immediately in the stream.
	e.respond("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nbody")

	require.Len(t, e.got, 2)
	assert.Empty(t, e.got[0].msg.Body)
	assert.Equal(t, []byte("body"), e.got[1].msg.Body)
}

func TestConnectionCloseFraming(t *testing.T) {
	e := newClientEnv(t)
	_, err := e.cl.Get("/stream")
	require.NoError(t, err)

	e.respond("HTTP/1.1 200 OK\r\n\r\nchunk one ")
	assert.Empty(t, e.got, "body extends until the peer closes")

	_, err = e.srvEnd.Write([]byte("chunk two"))
	require.NoError(t, err)
	e.srvEnd.CloseWrite()
	e.mr.FireRead(e.cliEnd)

	require.Len(t, e.got, 1)
	assert.Equal(t, []byte("chunk one chunk two"), e.got[0].msg.Body)
}

func TestDialFailureSurfaces(t *testing.T) {
	boom := errors.New("connection refused")
	cl, err := New(Config{
		Host: "x",
		Dial: func() (reactor.Socket, error) { return nil, boom },
	}, reactor.NewManual())
	require.NoError(t, err)

	_, err = cl.Get("/a")
	assert.ErrorIs(t, err, boom)
	assert.False(t, cl.Connected())
}

func TestUnmatchedResponseClosesConnection(t *testing.T) {
	e := newClientEnv(t)
	_, err := e.cl.Get("/only")
	require.NoError(t, err)

	e.respond("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n" +
		"HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")

	assert.Len(t, e.got, 1)
	assert.False(t, e.cl.Connected())
}

func TestClientClose(t *testing.T) {
	e := newClientEnv(t)
	_, err := e.cl.Get("/a")
	require.NoError(t, err)
	require.NoError(t, e.cl.Close())
	assert.False(t, e.cl.Connected())
	assert.NoError(t, e.cl.Close(), "double close is a no-op")
}
