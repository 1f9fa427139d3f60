// Package router implements pattern-matched dispatch over (method, path)
// with literal, named-parameter and wildcard segments.
package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yourusername/filament/pkg/filament/conn"
	"github.com/yourusername/filament/pkg/filament/http1"
)

// ErrInvalidPattern indicates a route pattern that failed validation.
// It surfaces synchronously from Add; the table is left unchanged.
var ErrInvalidPattern = errors.New("router: invalid route pattern")

// Handler produces the response for a routed request.
type Handler func(c *conn.Connection, m *http1.Message)

// Options are per-route settings. MaxContentLength and DefaultHeaders are
// applied at dispatch time.
type Options struct {
	// Bufferization is stored with the route but not consulted at dispatch;
	// the body has already been parsed under the server-wide mode.
	Bufferization http1.Bufferization

	// MaxContentLength, when >0, rejects larger bodies with 413 for this
	// route even though the global parser limit accepted them.
	MaxContentLength int64

	// DefaultHeaders are merged into every response this route sends.
	DefaultHeaders []http1.Header
}

// componentKind classifies one slash-delimited pattern segment.
type componentKind uint8

const (
	componentLiteral componentKind = iota
	componentNamed
	componentWildcard
)

// component is one parsed pattern segment.
type component struct {
	kind componentKind
	// value is the literal text or the parameter name.
	value string
}

// Route is one registered pattern.
type Route struct {
	Method  string
	Pattern string
	Handler Handler
	Options Options

	components []component
	// seq is the registration order, the tie-breaker after specificity.
	seq int
}

// parsePattern splits a pattern into components. The empty pattern and "/"
// yield zero components and match only the root; a trailing slash is
// significant and produces a trailing empty literal.
func parsePattern(pattern string) ([]component, error) {
	if pattern == "" || pattern == "/" {
		return nil, nil
	}
	if pattern[0] != '/' {
		return nil, fmt.Errorf("%w: %q does not start with '/'", ErrInvalidPattern, pattern)
	}
	segs := strings.Split(pattern[1:], "/")
	out := make([]component, 0, len(segs))
	for i, seg := range segs {
		switch {
		case seg == "*":
			if i != len(segs)-1 {
				return nil, fmt.Errorf("%w: wildcard in %q must be the last segment",
					ErrInvalidPattern, pattern)
			}
			out = append(out, component{kind: componentWildcard})
		case strings.HasPrefix(seg, ":"):
			name := seg[1:]
			if name == "" {
				return nil, fmt.Errorf("%w: empty parameter name in %q",
					ErrInvalidPattern, pattern)
			}
			out = append(out, component{kind: componentNamed, value: name})
		default:
			out = append(out, component{kind: componentLiteral, value: seg})
		}
	}
	return out, nil
}

// wildcardCount returns how many wildcard components the route has.
func (r *Route) wildcardCount() int {
	n := 0
	for _, c := range r.components {
		if c.kind == componentWildcard {
			n++
		}
	}
	return n
}

// match compares the route's components against the path segments,
// binding named parameters and the wildcard remainder into params.
// segs is the request path split on '/' with the leading slash dropped;
// the root path yields nil segs.
func (r *Route) match(segs []string) (map[string]string, bool) {
	var params map[string]string
	for i, c := range r.components {
		switch c.kind {
		case componentWildcard:
			// Trailing wildcard swallows the remaining segments verbatim.
			if params == nil {
				params = make(map[string]string, 1)
			}
			params["*"] = strings.Join(segs[i:], "/")
			return params, true
		case componentNamed:
			if i >= len(segs) || segs[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[c.value] = segs[i]
		case componentLiteral:
			if i >= len(segs) || segs[i] != c.value {
				return nil, false
			}
		}
	}
	if len(segs) != len(r.components) {
		return nil, false
	}
	return params, true
}
