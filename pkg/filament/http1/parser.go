package http1

import (
	"bytes"

	"github.com/yourusername/filament/pkg/filament/buffer"
)

// Result is the outcome of one Parse call.
type Result uint8

const (
	// NeedMore means the buffer ran out before a complete message; no bytes
	// past the last cleanly parsed token were consumed.
	NeedMore Result = iota

	// Complete means a full message (including the chunked terminator's
	// trailing CRLF, if chunked) was consumed and can be taken.
	Complete

	// Fail means the input is malformed or over a limit; FailStatus and
	// ErrMsg carry the mapped status and detail.
	Fail
)

// State is the parser's coarse position in the message grammar.
type State uint8

const (
	StateStart State = iota
	StateHeader
	StateBody
	StateTrailer
	StateError
	StateDone
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateHeader:
		return "header"
	case StateBody:
		return "body"
	case StateTrailer:
		return "trailer"
	case StateError:
		return "error"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// bodyKind is the framing selected once headers complete.
type bodyKind uint8

const (
	bodyNone bodyKind = iota
	bodyLength
	bodyChunked
	bodyUntilEOF
)

// chunkPhase is the sub-state inside a chunked body.
type chunkPhase uint8

const (
	chunkSize chunkPhase = iota
	chunkData
	chunkDataCRLF
)

// Config carries the parser's limits, bufferization mode and content
// decoders. The zero value selects defaults everywhere.
type Config struct {
	Limits        Limits
	Bufferization Bufferization
	Decoders      *DecoderRegistry
}

// Parser is a deterministic incremental HTTP/1.x message parser.
//
// It consumes bytes from the connection's read buffer (which it never
// allocates itself) and moves through START -> HEADER -> BODY -> TRAILER ->
// DONE, or to ERROR with a mapped status code. A NeedMore return leaves the
// buffer positioned exactly after the last cleanly parsed token, so callers
// append more input and call Parse again.
//
// One Parser serves one connection; Reset prepares it for the next
// pipelined message.
type Parser struct {
	cfg  Config
	kind Kind

	state State
	msg   *Message

	failStatus int
	errmsg     string

	framing       bodyKind
	bodyRemaining int64
	bodyTotal     int64
	phase         chunkPhase
	chunkRemain   int64

	headersDone bool
	consumedAny bool
	eof         bool

	// reqMethod is the method of the request a response answers; it decides
	// whether the response may carry a body (client side only).
	reqMethod string
}

// NewParser returns a parser for the given message kind (requests on the
// server side, responses on the client side).
func NewParser(kind Kind, cfg Config) *Parser {
	cfg.Limits = cfg.Limits.withDefaults()
	return &Parser{cfg: cfg, kind: kind}
}

// Reset prepares the parser for the next message on the same connection.
// Configuration and EOF state survive; everything message-scoped is cleared.
func (p *Parser) Reset() {
	p.state = StateStart
	p.msg = nil
	p.failStatus = 0
	p.errmsg = ""
	p.framing = bodyNone
	p.bodyRemaining = 0
	p.bodyTotal = 0
	p.phase = chunkSize
	p.chunkRemain = 0
	p.headersDone = false
	p.consumedAny = false
	p.reqMethod = ""
}

// SetRequestMethod hints the method of the request the next response
// answers, which decides response body framing (HEAD, CONNECT).
func (p *Parser) SetRequestMethod(method string) {
	p.reqMethod = method
}

// SetEOF records that the peer closed its write side. A read-until-EOF body
// completes on the next Parse; any other partial message fails with 400.
func (p *Parser) SetEOF() {
	p.eof = true
}

// State returns the current coarse state.
func (p *Parser) State() State {
	return p.state
}

// HeadersDone reports whether the header section has been fully parsed.
func (p *Parser) HeadersDone() bool {
	return p.headersDone
}

// Idle reports that no byte of a new message has been consumed yet, i.e.
// an EOF now would not abort anything in flight.
func (p *Parser) Idle() bool {
	return p.state == StateStart && !p.consumedAny
}

// FailStatus returns the status code mapped to the parse failure.
func (p *Parser) FailStatus() int {
	return p.failStatus
}

// ErrMsg returns the failure detail.
func (p *Parser) ErrMsg() string {
	return p.errmsg
}

// Message returns the in-progress message. It is valid to inspect mid-parse
// (e.g. for Expect: 100-continue once HeadersDone is true) but ownership
// moves only via TakeMessage.
func (p *Parser) Message() *Message {
	return p.msg
}

// TakeMessage moves the completed message out of the parser. The caller
// must Reset before parsing the next message.
func (p *Parser) TakeMessage() *Message {
	m := p.msg
	p.msg = nil
	return m
}

// Parse consumes as much of buf as possible.
func (p *Parser) Parse(buf *buffer.ByteBuffer) Result {
	for {
		switch p.state {
		case StateDone:
			return Complete
		case StateError:
			return Fail

		case StateStart:
			if p.msg == nil {
				p.msg = &Message{Kind: p.kind, ContentLength: -1}
			}
			res := p.parseStartLine(buf)
			if res != Complete {
				return p.checkEOF(res)
			}

		case StateHeader:
			res := p.parseHeaderLine(buf)
			if res != Complete {
				return p.checkEOF(res)
			}

		case StateBody:
			res := p.parseBody(buf)
			if res != Complete {
				return p.checkEOF(res)
			}

		case StateTrailer:
			res := p.parseTrailerLine(buf)
			if res != Complete {
				return p.checkEOF(res)
			}
		}
	}
}

// checkEOF converts a NeedMore into a 400 failure when the peer already
// closed and a message is partially parsed. Read-until-EOF framing is the
// exception; parseBody completes it directly.
func (p *Parser) checkEOF(res Result) Result {
	if res == NeedMore && p.eof && !p.Idle() {
		return p.fail(StatusBadRequest, "unexpected end of input in %s", p.state)
	}
	return res
}

// fail moves to ERROR with the mapped status.
func (p *Parser) fail(status int, format string, args ...any) Result {
	p.state = StateError
	p.failStatus = status
	err := NewProtocolError(status, format, args...)
	p.errmsg = err.Detail
	if p.msg != nil {
		p.msg.Aborted = true
	}
	return Fail
}

// takeLine extracts one CRLF-terminated line, consuming it from buf.
// res is NeedMore when no full line is buffered yet, and Fail with
// overStatus when the line (or the unterminated fragment) exceeds maxLen.
func (p *Parser) takeLine(buf *buffer.ByteBuffer, maxLen int, overStatus int, what string) (line []byte, res Result) {
	avail := buf.Peek()
	idx := bytes.IndexByte(avail, '\n')
	if idx < 0 {
		if len(avail) > maxLen {
			return nil, p.fail(overStatus, "%s exceeds %d bytes", what, maxLen)
		}
		return nil, NeedMore
	}
	if idx > maxLen+1 {
		return nil, p.fail(overStatus, "%s exceeds %d bytes", what, maxLen)
	}
	if idx == 0 || avail[idx-1] != '\r' {
		return nil, p.fail(StatusBadRequest, "%s not terminated by CRLF", what)
	}
	line = avail[:idx-1]
	buf.Advance(idx + 1)
	p.consumedAny = true
	return line, Complete
}

// parseStartLine handles the request-line or status-line.
func (p *Parser) parseStartLine(buf *buffer.ByteBuffer) Result {
	maxLine := p.cfg.Limits.MaxRequestURILength + startLineSlack
	line, res := p.takeLine(buf, maxLine, p.startLineOverStatus(), "start line")
	if res != Complete {
		return res
	}
	if p.kind == KindRequest {
		if res := p.parseRequestLine(line); res != Complete {
			return res
		}
	} else {
		if res := p.parseStatusLine(line); res != Complete {
			return res
		}
	}
	p.state = StateHeader
	return Complete
}

// startLineOverStatus maps an over-long start line: 414 for requests (the
// URI dominates the line), 400 for responses.
func (p *Parser) startLineOverStatus() int {
	if p.kind == KindRequest {
		return StatusRequestURITooLong
	}
	return StatusBadRequest
}

// parseRequestLine parses "METHOD SP request-target SP HTTP/x.y".
func (p *Parser) parseRequestLine(line []byte) Result {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return p.fail(StatusBadRequest, "malformed request line %q", line)
	}
	method := line[:sp1]
	for _, c := range method {
		if !isTokenByte(c) {
			return p.fail(StatusBadRequest, "illegal byte 0x%02x in method", c)
		}
	}

	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return p.fail(StatusBadRequest, "malformed request line %q", line)
	}
	target := rest[:sp2]
	if len(target) > p.cfg.Limits.MaxRequestURILength {
		return p.fail(StatusRequestURITooLong, "request target exceeds %d bytes",
			p.cfg.Limits.MaxRequestURILength)
	}
	for _, c := range target {
		if !isTargetByte(c) {
			return p.fail(StatusBadRequest, "illegal byte 0x%02x in request target", c)
		}
	}

	version, res := p.parseVersion(rest[sp2+1:])
	if res != Complete {
		return res
	}

	p.msg.Method = string(method)
	p.msg.RawURI = string(target)
	p.msg.Version = version

	// "*" is accepted here and resolved to 400 downstream; everything else
	// must decompose as an origin-form path or absolute URI.
	if p.msg.RawURI != "*" {
		uri, err := ParseURI(p.msg.RawURI)
		if err != nil {
			return p.fail(StatusBadRequest, "unparseable request target %q", target)
		}
		p.msg.URI = uri
	}
	return Complete
}

// parseStatusLine parses "HTTP/x.y SP status-code SP reason-phrase".
func (p *Parser) parseStatusLine(line []byte) Result {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return p.fail(StatusBadRequest, "malformed status line %q", line)
	}
	version, res := p.parseVersion(line[:sp1])
	if res != Complete {
		return res
	}

	rest := line[sp1+1:]
	code := rest
	reason := []byte(nil)
	if sp2 := bytes.IndexByte(rest, ' '); sp2 >= 0 {
		code = rest[:sp2]
		reason = rest[sp2+1:]
	}
	if len(code) != 3 {
		return p.fail(StatusBadRequest, "malformed status code %q", code)
	}
	status := 0
	for _, c := range code {
		if c < '0' || c > '9' {
			return p.fail(StatusBadRequest, "malformed status code %q", code)
		}
		status = status*10 + int(c-'0')
	}
	if status < 100 {
		return p.fail(StatusBadRequest, "status code %d out of range", status)
	}

	p.msg.Version = version
	p.msg.StatusCode = status
	p.msg.ReasonPhrase = string(reason)
	return Complete
}

// parseVersion parses "HTTP/<major>.<minor>". Digits outside {1.0, 1.1}
// are a version problem (505); anything else is malformed (400).
func (p *Parser) parseVersion(tok []byte) (Version, Result) {
	if len(tok) != 8 || !bytes.HasPrefix(tok, httpSlash) ||
		tok[6] != '.' || tok[5] < '0' || tok[5] > '9' || tok[7] < '0' || tok[7] > '9' {
		return Version{}, p.fail(StatusBadRequest, "malformed HTTP version %q", tok)
	}
	v := Version{Major: int(tok[5] - '0'), Minor: int(tok[7] - '0')}
	if v != Version10 && v != Version11 {
		return Version{}, p.fail(StatusHTTPVersionNotSupported, "unsupported HTTP version %s", tok)
	}
	return v, Complete
}

// parseHeaderLine consumes one header field or the empty terminator line.
func (p *Parser) parseHeaderLine(buf *buffer.ByteBuffer) Result {
	limits := p.cfg.Limits
	maxLine := limits.MaxHeaderNameLength + limits.MaxHeaderValueLength + 4
	line, res := p.takeLine(buf, maxLine, StatusRequestHeaderFieldsTooLarge, "header field")
	if res != Complete {
		return res
	}
	if len(line) == 0 {
		return p.finishHeaders()
	}

	name, value, res := p.parseHeaderField(line)
	if res != Complete {
		return res
	}
	p.msg.Headers.Add(name, value)
	return Complete
}

// parseHeaderField validates and splits one "name: value" line. Shared by
// the header and trailer sections.
func (p *Parser) parseHeaderField(line []byte) (string, string, Result) {
	limits := p.cfg.Limits

	// Obsolete line folding: a continuation line fails the message.
	if line[0] == ' ' || line[0] == '\t' {
		return "", "", p.fail(StatusBadRequest, "obsolete header line folding")
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return "", "", p.fail(StatusBadRequest, "header field without colon")
	}
	name := line[:colon]
	if c := name[len(name)-1]; c == ' ' || c == '\t' {
		// Whitespace between field name and colon (RFC 7230 §3.2.4).
		return "", "", p.fail(StatusBadRequest, "whitespace before header colon")
	}
	if len(name) > limits.MaxHeaderNameLength {
		return "", "", p.fail(StatusRequestHeaderFieldsTooLarge,
			"header name exceeds %d bytes", limits.MaxHeaderNameLength)
	}
	for _, c := range name {
		if !isTokenByte(c) {
			return "", "", p.fail(StatusBadRequest, "illegal byte 0x%02x in header name", c)
		}
	}

	value := trimOWS(line[colon+1:])
	if len(value) > limits.MaxHeaderValueLength {
		return "", "", p.fail(StatusRequestHeaderFieldsTooLarge,
			"header value exceeds %d bytes", limits.MaxHeaderValueLength)
	}
	for _, c := range value {
		if !isFieldValueByte(c) {
			return "", "", p.fail(StatusBadRequest, "illegal byte 0x%02x in header value", c)
		}
	}
	return string(name), string(value), Complete
}

// finishHeaders post-processes the completed header section and selects
// body framing.
func (p *Parser) finishHeaders() Result {
	msg := p.msg
	limits := p.cfg.Limits

	// Connection options, case-insensitive token list.
	for _, v := range msg.Headers.Values(HeaderConnection) {
		msg.ConnOptions |= parseConnectionOptions(v)
	}

	// Content-Length / Transfer-Encoding are mutually exclusive.
	clValues := msg.Headers.Values(HeaderContentLength)
	teValues := msg.Headers.Values(HeaderTransferEncoding)
	if len(clValues) > 0 && len(teValues) > 0 {
		return p.fail(StatusBadRequest, "both Content-Length and Transfer-Encoding present")
	}

	for _, v := range teValues {
		for _, tok := range bytes.Split([]byte(v), []byte(",")) {
			tok = trimOWS(tok)
			if !nameEq(string(tok), tokenChunked) {
				// Only chunked is recognized.
				return p.fail(StatusNotImplemented, "unsupported transfer coding %q", tok)
			}
			msg.Chunked = true
		}
	}

	if len(clValues) > 0 {
		cl, err := parseContentLength(clValues[0])
		if err != nil {
			return p.fail(StatusBadRequest, "malformed Content-Length %q", clValues[0])
		}
		// Duplicate Content-Length headers must agree.
		for _, v := range clValues[1:] {
			other, err := parseContentLength(v)
			if err != nil || other != cl {
				return p.fail(StatusBadRequest, "conflicting Content-Length headers")
			}
		}
		if cl > limits.MaxContentLength {
			return p.fail(StatusRequestEntityTooLarge,
				"declared Content-Length %d exceeds %d", cl, limits.MaxContentLength)
		}
		msg.ContentLength = cl
	}

	if msg.IsRequest() {
		hosts := msg.Headers.Values(HeaderHost)
		if msg.Version == Version11 && len(hosts) == 0 {
			return p.fail(StatusBadRequest, "HTTP/1.1 request without Host header")
		}
		if len(hosts) > 1 {
			return p.fail(StatusBadRequest, "multiple Host headers")
		}
		if v, ok := msg.Headers.Get(HeaderExpect); ok && nameEq(v, token100Continue) {
			msg.Expects100Continue = true
		}
		if v, ok := msg.Headers.Get(HeaderRange); ok {
			// A malformed Range header is ignored, not fatal (RFC 7233 §3.1).
			if ranges, err := ParseRanges(v); err == nil {
				msg.Ranges = ranges
			}
		}
	}

	if v, ok := msg.Headers.Get(HeaderContentType); ok {
		msg.ContentType = parseMediaType(v)
	}

	p.headersDone = true
	return p.selectFraming()
}

// selectFraming applies the body framing precedence from RFC 7230 §3.3.3.
func (p *Parser) selectFraming() Result {
	msg := p.msg

	// Responses that cannot carry a body (1xx, 204, 304, answers to HEAD)
	// ignore any declared framing.
	if !msg.IsRequest() && !msg.canHaveBody(p.reqMethod) {
		return p.finishMessage()
	}

	switch {
	case msg.Chunked:
		p.framing = bodyChunked
		p.phase = chunkSize
		p.state = StateBody
	case msg.ContentLength == 0:
		return p.finishMessage()
	case msg.ContentLength > 0:
		p.framing = bodyLength
		p.bodyRemaining = msg.ContentLength
		p.state = StateBody
	case msg.IsRequest():
		// A request with neither framing header has an empty body.
		return p.finishMessage()
	default:
		// Response without explicit framing: body extends to connection
		// close.
		p.framing = bodyUntilEOF
		p.state = StateBody
	}
	return Complete
}

// parseBody advances whichever body framing is active.
func (p *Parser) parseBody(buf *buffer.ByteBuffer) Result {
	switch p.framing {
	case bodyLength:
		return p.parseLengthBody(buf)
	case bodyChunked:
		return p.parseChunked(buf)
	case bodyUntilEOF:
		return p.parseUntilEOF(buf)
	}
	return p.fail(StatusInternalServerError, "body state without framing")
}

func (p *Parser) parseLengthBody(buf *buffer.ByteBuffer) Result {
	avail := buf.Peek()
	n := int64(len(avail))
	if n > p.bodyRemaining {
		n = p.bodyRemaining
	}
	p.appendBody(avail[:n])
	buf.Advance(int(n))
	p.bodyRemaining -= n
	if p.bodyRemaining > 0 {
		return NeedMore
	}
	return p.finishMessage()
}

func (p *Parser) parseUntilEOF(buf *buffer.ByteBuffer) Result {
	avail := buf.Peek()
	if len(avail) > 0 {
		if p.bodyTotal+int64(len(avail)) > p.cfg.Limits.MaxContentLength {
			return p.fail(StatusRequestEntityTooLarge,
				"body exceeds %d bytes", p.cfg.Limits.MaxContentLength)
		}
		p.appendBody(avail)
		buf.Advance(len(avail))
	}
	if p.eof {
		return p.finishMessage()
	}
	return NeedMore
}

// parseChunked advances the chunked-body sub-machine: hex size line, data,
// CRLF, repeating until the zero chunk hands off to the trailer section.
func (p *Parser) parseChunked(buf *buffer.ByteBuffer) Result {
	for {
		switch p.phase {
		case chunkSize:
			line, res := p.takeLine(buf, 32, StatusBadRequest, "chunk size line")
			if res != Complete {
				return res
			}
			// Chunk extensions after ';' are dropped; they are rare and a
			// known smuggling vector.
			if idx := bytes.IndexByte(line, ';'); idx >= 0 {
				line = line[:idx]
			}
			line = trimOWS(line)
			size, err := parseHex(line)
			if err != nil {
				return p.fail(StatusBadRequest, "malformed chunk size %q", line)
			}
			if size > p.cfg.Limits.MaxChunkLength {
				return p.fail(StatusRequestEntityTooLarge,
					"chunk of %d bytes exceeds %d", size, p.cfg.Limits.MaxChunkLength)
			}
			if p.bodyTotal+size > p.cfg.Limits.MaxContentLength {
				return p.fail(StatusRequestEntityTooLarge,
					"chunked body exceeds %d bytes", p.cfg.Limits.MaxContentLength)
			}
			if size == 0 {
				p.state = StateTrailer
				return Complete
			}
			p.chunkRemain = size
			p.phase = chunkData

		case chunkData:
			avail := buf.Peek()
			n := int64(len(avail))
			if n == 0 {
				return NeedMore
			}
			if n > p.chunkRemain {
				n = p.chunkRemain
			}
			p.appendBody(avail[:n])
			buf.Advance(int(n))
			p.chunkRemain -= n
			if p.chunkRemain > 0 {
				return NeedMore
			}
			p.phase = chunkDataCRLF

		case chunkDataCRLF:
			avail := buf.Peek()
			if len(avail) < 2 {
				return NeedMore
			}
			if avail[0] != '\r' || avail[1] != '\n' {
				return p.fail(StatusBadRequest, "chunk data not terminated by CRLF")
			}
			buf.Advance(2)
			p.phase = chunkSize
		}
	}
}

// parseTrailerLine consumes trailer fields after the zero chunk; the empty
// line completes the message.
func (p *Parser) parseTrailerLine(buf *buffer.ByteBuffer) Result {
	limits := p.cfg.Limits
	maxLine := limits.MaxHeaderNameLength + limits.MaxHeaderValueLength + 4
	line, res := p.takeLine(buf, maxLine, StatusRequestHeaderFieldsTooLarge, "trailer field")
	if res != Complete {
		return res
	}
	if len(line) == 0 {
		return p.finishMessage()
	}
	name, value, res := p.parseHeaderField(line)
	if res != Complete {
		return res
	}
	p.msg.Trailers.Add(name, value)
	return Complete
}

// appendBody accumulates body bytes. BufferizationStream is reserved;
// it currently buffers like BufferizationBuffer.
func (p *Parser) appendBody(b []byte) {
	p.bodyTotal += int64(len(b))
	p.msg.Body = append(p.msg.Body, b...)
}

// finishMessage marks the message complete and runs any registered content
// decoder for its base media type. A decoder error leaves Decoded nil; the
// raw body is still delivered.
func (p *Parser) finishMessage() Result {
	msg := p.msg
	msg.Complete = true
	if p.cfg.Decoders != nil && msg.ContentType.Type != "" && len(msg.Body) > 0 {
		if p.cfg.Decoders.Has(msg.ContentType.Type) {
			if decoded, err := p.cfg.Decoders.Decode(msg.ContentType.Type, msg.Body); err == nil {
				msg.Decoded = decoded
			}
		}
	}
	p.state = StateDone
	return Complete
}

// trimOWS strips optional whitespace (SP/HTAB) from both ends.
func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// parseContentLength parses a Content-Length value: decimal digits only.
func parseContentLength(s string) (int64, error) {
	if len(s) == 0 {
		return -1, ErrInvalidContentLength
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return -1, ErrInvalidContentLength
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return -1, ErrInvalidContentLength
		}
	}
	return n, nil
}

// parseHex parses a chunk-size token: hex digits only.
func parseHex(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, ErrInvalidHeader
	}
	var n int64
	for _, c := range b {
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'f':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int64(c-'A') + 10
		default:
			return 0, ErrInvalidHeader
		}
		n = n<<4 | d
		if n < 0 {
			return 0, ErrInvalidHeader
		}
	}
	return n, nil
}
