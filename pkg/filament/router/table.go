package router

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// MatchResult classifies a lookup outcome.
type MatchResult uint8

const (
	// MatchFound carries the winning route and its bound parameters.
	MatchFound MatchResult = iota

	// WrongMethod means some route's path matched but none with the
	// request's method; Allow lists the methods that would have.
	WrongMethod

	// WrongPath means no route's path matched at all.
	WrongPath
)

// Match is the result of Table.Find.
type Match struct {
	Result MatchResult
	Route  *Route
	Params map[string]string

	// Allow holds the path-matching methods when Result is WrongMethod,
	// deduplicated, in table order (most specific route first, registration
	// order among equally specific routes).
	Allow []string
}

// Table is an ordered set of routes with lazy specificity sorting: routes
// are kept in registration order until the first lookup, then sorted so
// that more specific patterns win. The table is immutable once the owning
// server starts listening; Find is pure.
type Table struct {
	routes []*Route
	sorted bool
	nextID int
}

// NewTable returns an empty route table.
func NewTable() *Table {
	return &Table{}
}

// Add registers a route. Pattern syntax errors surface here and leave the
// table unchanged.
func (t *Table) Add(method, pattern string, handler Handler, opts Options) error {
	components, err := parsePattern(pattern)
	if err != nil {
		return err
	}
	t.routes = append(t.routes, &Route{
		Method:     method,
		Pattern:    pattern,
		Handler:    handler,
		Options:    opts,
		components: components,
		seq:        t.nextID,
	})
	t.nextID++
	t.sorted = false
	return nil
}

// Remove unregisters the route with the exact method and pattern, returning
// whether one was removed. Registering and removing a route leaves the
// table equal to its prior state, modulo the sort flag.
func (t *Table) Remove(method, pattern string) bool {
	for i, r := range t.routes {
		if r.Method == method && r.Pattern == pattern {
			t.routes = append(t.routes[:i], t.routes[i+1:]...)
			t.sorted = false
			return true
		}
	}
	return false
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Find resolves (method, path) to a route. Matching is segment-by-segment:
// literals need byte equality, named components bind any non-empty segment,
// a trailing wildcard swallows the rest. Among path matches the request
// method selects the winner; path matches without a method match yield
// WrongMethod with the Allow set.
func (t *Table) Find(method, path string) Match {
	t.ensureSorted()
	segs := splitPath(path)

	var allow []string
	for _, r := range t.routes {
		params, ok := r.match(segs)
		if !ok {
			continue
		}
		if r.Method == method {
			return Match{Result: MatchFound, Route: r, Params: params}
		}
		allow = append(allow, r.Method)
	}
	if len(allow) > 0 {
		return Match{Result: WrongMethod, Allow: lo.Uniq(allow)}
	}
	return Match{Result: WrongPath}
}

// splitPath splits a request path into segments, dropping the leading
// slash. "/" yields nil so it matches only zero-component routes; a
// trailing slash yields a trailing empty segment, making it significant.
func splitPath(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	path = strings.TrimPrefix(path, "/")
	return strings.Split(path, "/")
}

// ensureSorted sorts lazily on first lookup: fewer wildcards first; then, at
// the first differing position, literals precede named components which
// precede wildcards; then more components first; registration order breaks
// the remaining ties, so equal-specificity routes keep their registration
// order.
func (t *Table) ensureSorted() {
	if t.sorted {
		return
	}
	sort.SliceStable(t.routes, func(i, j int) bool {
		a, b := t.routes[i], t.routes[j]
		if c := compareSpecificity(a, b); c != 0 {
			return c < 0
		}
		return a.seq < b.seq
	})
	t.sorted = true
}

// compareSpecificity orders a before b (negative) when a is more specific.
func compareSpecificity(a, b *Route) int {
	if wa, wb := a.wildcardCount(), b.wildcardCount(); wa != wb {
		return wa - wb
	}
	n := len(a.components)
	if len(b.components) < n {
		n = len(b.components)
	}
	for i := 0; i < n; i++ {
		ra, rb := componentRank(a.components[i]), componentRank(b.components[i])
		if ra != rb {
			return ra - rb
		}
	}
	// More components (deeper literals) first.
	return len(b.components) - len(a.components)
}

// componentRank: literal < named < wildcard.
func componentRank(c component) int {
	switch c.kind {
	case componentLiteral:
		return 0
	case componentNamed:
		return 1
	default:
		return 2
	}
}
