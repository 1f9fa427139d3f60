package http1

import (
	"bufio"
	"net/http"
	"strings"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/yourusername/filament/pkg/filament/buffer"
)

// Comparison benchmarks: filament vs net/http vs fasthttp request parsing.
//
// Run with: go test -bench=BenchmarkComparison -benchmem

var (
	benchSimpleGET = "GET /api/users HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: bench/1.0\r\n" +
		"\r\n"

	benchPOSTWithBody = "POST /api/users HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 25\r\n" +
		"\r\n" +
		`{"name":"ada","age":"36"}`

	benchManyHeaders = "GET /api/data HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"User-Agent: Mozilla/5.0\r\n" +
		"Accept: application/json\r\n" +
		"Accept-Encoding: gzip, deflate\r\n" +
		"Accept-Language: en-US,en;q=0.9\r\n" +
		"Cache-Control: no-cache\r\n" +
		"Connection: keep-alive\r\n" +
		"Cookie: session=abc123\r\n" +
		"Referer: https://example.com\r\n" +
		"Authorization: Bearer token123\r\n" +
		"\r\n"
)

func benchmarkFilamentParse(b *testing.B, input string) {
	b.ReportAllocs()
	b.SetBytes(int64(len(input)))
	p := NewParser(KindRequest, Config{})
	buf := buffer.New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Clear()
		buf.AppendString(input)
		if p.Parse(buf) != Complete {
			b.Fatal("parse did not complete")
		}
		p.TakeMessage()
		p.Reset()
	}
}

func benchmarkNetHTTPParse(b *testing.B, input string) {
	b.ReportAllocs()
	b.SetBytes(int64(len(input)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := bufio.NewReader(strings.NewReader(input))
		req, err := http.ReadRequest(r)
		if err != nil {
			b.Fatal(err)
		}
		_ = req.Body.Close()
	}
}

func benchmarkFasthttpParse(b *testing.B, input string) {
	b.ReportAllocs()
	b.SetBytes(int64(len(input)))
	var req fasthttp.Request
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.Reset()
		r := bufio.NewReader(strings.NewReader(input))
		if err := req.Read(r); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkComparison_SimpleGET_Filament(b *testing.B) {
	benchmarkFilamentParse(b, benchSimpleGET)
}

func BenchmarkComparison_SimpleGET_NetHTTP(b *testing.B) {
	benchmarkNetHTTPParse(b, benchSimpleGET)
}

func BenchmarkComparison_SimpleGET_Fasthttp(b *testing.B) {
	benchmarkFasthttpParse(b, benchSimpleGET)
}

func BenchmarkComparison_POSTWithBody_Filament(b *testing.B) {
	benchmarkFilamentParse(b, benchPOSTWithBody)
}

func BenchmarkComparison_POSTWithBody_NetHTTP(b *testing.B) {
	benchmarkNetHTTPParse(b, benchPOSTWithBody)
}

func BenchmarkComparison_POSTWithBody_Fasthttp(b *testing.B) {
	benchmarkFasthttpParse(b, benchPOSTWithBody)
}

func BenchmarkComparison_ManyHeaders_Filament(b *testing.B) {
	benchmarkFilamentParse(b, benchManyHeaders)
}

func BenchmarkComparison_ManyHeaders_NetHTTP(b *testing.B) {
	benchmarkNetHTTPParse(b, benchManyHeaders)
}

func BenchmarkComparison_ManyHeaders_Fasthttp(b *testing.B) {
	benchmarkFasthttpParse(b, benchManyHeaders)
}
