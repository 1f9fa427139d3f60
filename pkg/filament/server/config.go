package server

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/yourusername/filament/pkg/filament/conn"
	"github.com/yourusername/filament/pkg/filament/http1"
)

// ContentDecoder registers one media-type decoder with the server.
type ContentDecoder struct {
	MediaType string
	Decode    http1.DecodeFunc
	Dispose   http1.DisposeFunc
}

// Hooks are the embedder-facing callbacks, all optional.
type Hooks struct {
	// Request fires pre-route for every received request, observation only.
	Request func(c *conn.Connection, m *http1.Message)

	// Error receives library-level diagnostics (protocol and resource
	// failures).
	Error func(c *conn.Connection, err error)

	// Trace receives every complete message for protocol tracing.
	Trace func(c *conn.Connection, m *http1.Message)

	// ErrorSender overrides rendering of default error bodies.
	ErrorSender func(c *conn.Connection, status int, headers []http1.Header, detail string)
}

// Config holds the full server configuration. Fields with TOML tags can be
// loaded from a file via LoadConfig; callbacks, decoders and the logger are
// wired in code.
type Config struct {
	// Host and Port describe the address embedders bind their listeners
	// to; the core itself consumes pre-built reactor.Listeners.
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// ConnectionBacklog is advisory for the embedder's listen(2) call.
	// Default: 128.
	ConnectionBacklog int `toml:"connection_backlog"`

	// TLS material. The handshake itself is the embedder's collaborator;
	// the core only validates that enabling TLS comes with material.
	UseTLS         bool   `toml:"use_tls"`
	TLSCertificate string `toml:"tls_certificate"`
	TLSKey         string `toml:"tls_key"`
	TLSCiphers     string `toml:"tls_ciphers"`

	// Parser limits; zero selects the documented defaults.
	MaxRequestURILength  int   `toml:"max_request_uri_length"`
	MaxHeaderNameLength  int   `toml:"max_header_name_length"`
	MaxHeaderValueLength int   `toml:"max_header_value_length"`
	MaxContentLength     int64 `toml:"max_content_length"`
	MaxChunkLength       int64 `toml:"max_chunk_length"`

	// Bufferization selects body delivery: "auto" (default), "buffer" or
	// "stream".
	Bufferization string `toml:"bufferization"`

	// ConnectionTimeoutMS is the idle cutoff in milliseconds.
	// Default: 10000.
	ConnectionTimeoutMS int `toml:"connection_timeout_ms"`

	// DefaultHeaders are merged into every response.
	DefaultHeaders []http1.Header `toml:"default_headers"`

	// ContentDecoders extend the registry beyond the unconditional
	// form-urlencoded decoder.
	ContentDecoders []ContentDecoder `toml:"-"`

	// Hooks are the embedder callbacks.
	Hooks Hooks `toml:"-"`

	// Logger receives server diagnostics. Default: zap.NewNop().
	Logger *zap.Logger `toml:"-"`

	// Metrics, when set, registers the server's Prometheus collectors.
	Metrics prometheus.Registerer `toml:"-"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:                 "localhost",
		Port:                 8080,
		ConnectionBacklog:    128,
		MaxRequestURILength:  http1.DefaultMaxRequestURILength,
		MaxHeaderNameLength:  http1.DefaultMaxHeaderNameLength,
		MaxHeaderValueLength: http1.DefaultMaxHeaderValueLength,
		MaxContentLength:     http1.DefaultMaxContentLength,
		MaxChunkLength:       http1.DefaultMaxChunkLength,
		Bufferization:        "auto",
		ConnectionTimeoutMS:  10000,
		Logger:               zap.NewNop(),
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("server: reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("server: parsing config: %w", err)
	}
	return cfg, nil
}

// validate surfaces configuration errors synchronously from New.
func (c *Config) validate() error {
	if c.UseTLS && (c.TLSCertificate == "" || c.TLSKey == "") {
		return &ConfigurationError{Reason: "use_tls requires tls_certificate and tls_key"}
	}
	switch c.Bufferization {
	case "", "auto", "buffer", "stream":
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown bufferization mode %q", c.Bufferization)}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigurationError{Reason: fmt.Sprintf("port %d out of range", c.Port)}
	}
	return nil
}

// bufferization maps the config token to the parser mode.
func (c *Config) bufferization() http1.Bufferization {
	switch c.Bufferization {
	case "buffer":
		return http1.BufferizationBuffer
	case "stream":
		return http1.BufferizationStream
	default:
		return http1.BufferizationAuto
	}
}

// connConfig derives the per-connection configuration.
func (c *Config) connConfig(decoders *http1.DecoderRegistry) conn.Config {
	return conn.Config{
		Parser: http1.Config{
			Limits: http1.Limits{
				MaxRequestURILength:  c.MaxRequestURILength,
				MaxHeaderNameLength:  c.MaxHeaderNameLength,
				MaxHeaderValueLength: c.MaxHeaderValueLength,
				MaxContentLength:     c.MaxContentLength,
				MaxChunkLength:       c.MaxChunkLength,
			},
			Bufferization: c.bufferization(),
			Decoders:      decoders,
		},
		ConnectionTimeout: time.Duration(c.ConnectionTimeoutMS) * time.Millisecond,
		DefaultHeaders:    c.DefaultHeaders,
		Logger:            c.Logger,
	}
}
