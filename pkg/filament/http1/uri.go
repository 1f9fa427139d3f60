package http1

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// QueryParam is one decoded query-string parameter.
type QueryParam struct {
	Name  string
	Value string
}

// URI is the decomposed form of a request-target or absolute URI.
// Query parameters are percent-decoded at parse time; the path keeps its
// wire form, so String re-encodes to a URI that parses back identically.
// Re-encoding lowercases the scheme and adds "/" to an absolute URI that
// had no path.
type URI struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
	Path     string
	Fragment string
	Query    []QueryParam

	// rawQuery keeps the undecoded query string so String() round-trips
	// byte-exactly.
	rawQuery string
}

// ParseURI decomposes either an origin-form target ("/path?query") or an
// absolute URI ("scheme://authority/path?query#fragment").
func ParseURI(raw string) (*URI, error) {
	if raw == "" {
		return nil, ErrInvalidURI
	}
	u := &URI{}
	rest := raw

	if rest[0] != '/' {
		// absolute URI: scheme "://" authority ...
		idx := strings.Index(rest, "://")
		if idx <= 0 {
			return nil, ErrInvalidURI
		}
		u.Scheme = strings.ToLower(rest[:idx])
		rest = rest[idx+3:]

		authority := rest
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			authority = rest[:slash]
			rest = rest[slash:]
		} else if q := strings.IndexAny(rest, "?#"); q >= 0 {
			authority = rest[:q]
			rest = rest[q:]
		} else {
			rest = ""
		}
		if err := u.parseAuthority(authority); err != nil {
			return nil, err
		}
		if rest == "" {
			rest = "/"
		}
	}

	if frag := strings.IndexByte(rest, '#'); frag >= 0 {
		u.Fragment = rest[frag+1:]
		rest = rest[:frag]
	}
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		u.rawQuery = rest[q+1:]
		rest = rest[:q]
		params, err := parseQuery(u.rawQuery)
		if err != nil {
			return nil, err
		}
		u.Query = params
	}
	if rest == "" || rest[0] != '/' {
		return nil, ErrInvalidURI
	}
	u.Path = rest
	return u, nil
}

// parseAuthority splits [user[:password]@]host[:port].
func (u *URI) parseAuthority(authority string) error {
	if authority == "" {
		return ErrInvalidURI
	}
	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		userinfo := authority[:at]
		authority = authority[at+1:]
		if colon := strings.IndexByte(userinfo, ':'); colon >= 0 {
			u.User = userinfo[:colon]
			u.Password = userinfo[colon+1:]
		} else {
			u.User = userinfo
		}
	}
	host := authority
	if colon := strings.LastIndexByte(authority, ':'); colon >= 0 && !strings.Contains(authority[colon:], "]") {
		host = authority[:colon]
		portStr := authority[colon+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 0 || port > 65535 {
			return ErrInvalidURI
		}
		u.Port = port
	}
	if host == "" {
		return ErrInvalidURI
	}
	u.Host = host
	return nil
}

// parseQuery splits and percent-decodes "name=value&name=value" pairs.
// Pairs without '=' become parameters with an empty value.
func parseQuery(raw string) ([]QueryParam, error) {
	if raw == "" {
		return nil, nil
	}
	var params []QueryParam
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		name, value := pair, ""
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			name, value = pair[:eq], pair[eq+1:]
		}
		dn, err := url.QueryUnescape(name)
		if err != nil {
			return nil, fmt.Errorf("%w: bad query parameter %q", ErrInvalidURI, name)
		}
		dv, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: bad query parameter %q", ErrInvalidURI, pair)
		}
		params = append(params, QueryParam{Name: dn, Value: dv})
	}
	return params, nil
}

// QueryGet returns the first value of a decoded query parameter.
func (u *URI) QueryGet(name string) (string, bool) {
	for i := range u.Query {
		if u.Query[i].Name == name {
			return u.Query[i].Value, true
		}
	}
	return "", false
}

// String re-encodes the URI. For a URI produced by ParseURI on valid input,
// ParseURI(u.String()) decomposes identically.
func (u *URI) String() string {
	var sb strings.Builder
	if u.Scheme != "" {
		sb.WriteString(u.Scheme)
		sb.WriteString("://")
		if u.User != "" {
			sb.WriteString(u.User)
			if u.Password != "" {
				sb.WriteByte(':')
				sb.WriteString(u.Password)
			}
			sb.WriteByte('@')
		}
		sb.WriteString(u.Host)
		if u.Port != 0 {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(u.Port))
		}
	}
	sb.WriteString(u.Path)
	if u.rawQuery != "" {
		sb.WriteByte('?')
		sb.WriteString(u.rawQuery)
	}
	if u.Fragment != "" {
		sb.WriteByte('#')
		sb.WriteString(u.Fragment)
	}
	return sb.String()
}
