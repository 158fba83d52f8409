package wdx

import (
	"net"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// Request is an abstract HTTP request/response pair: immutable request
// data plus response state that may be set exactly once. Respond may be
// invoked at most once; a second call is a programming error. The
// implementations in this package drop a second call silently in every
// build and do not panic on it.
type Request interface {
	Method() string
	Path() string
	Query() string
	Header(name string) (string, bool)
	HasHeader(name string) bool
	ContentType() string
	Body() []byte
	IsHTTPS() bool
	IsLocalhost() bool

	AddResponseHeader(name, value string)
	Respond(status int, body []byte)
	Responded() bool
}

// ginRequest adapts a *gin.Context to the Request interface.
type ginRequest struct {
	ctx *gin.Context

	mu        sync.Mutex
	responded bool
}

// NewGinRequest wraps ctx as a Request. The caller transfers ownership: the
// chain that receives this Request either responds through it or forwards
// it, never both, and must not retain it past that decision.
func NewGinRequest(ctx *gin.Context) Request {
	return &ginRequest{ctx: ctx}
}

func (r *ginRequest) Method() string { return r.ctx.Request.Method }
func (r *ginRequest) Path() string   { return r.ctx.Request.URL.Path }
func (r *ginRequest) Query() string  { return r.ctx.Request.URL.RawQuery }

func (r *ginRequest) Header(name string) (string, bool) {
	values := r.ctx.Request.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (r *ginRequest) HasHeader(name string) bool {
	_, ok := r.Header(name)
	return ok
}

func (r *ginRequest) ContentType() string {
	return r.ctx.GetHeader("Content-Type")
}

func (r *ginRequest) Body() []byte {
	body, _ := r.ctx.GetRawData()
	return body
}

func (r *ginRequest) IsHTTPS() bool {
	return r.ctx.Request.TLS != nil
}

func (r *ginRequest) IsLocalhost() bool {
	host, _, err := net.SplitHostPort(r.ctx.Request.RemoteAddr)
	if err != nil {
		host = r.ctx.Request.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

func (r *ginRequest) AddResponseHeader(name, value string) {
	r.ctx.Header(name, value)
}

func (r *ginRequest) Respond(status int, body []byte) {
	r.mu.Lock()
	if r.responded {
		r.mu.Unlock()
		// Programming error: a stage both forwarded and responded, or
		// responded twice. Production behavior is to drop silently
		// rather than corrupt an already-flushed response.
		return
	}
	r.responded = true
	r.mu.Unlock()

	if body == nil {
		r.ctx.Status(status)
		return
	}
	r.ctx.Data(status, "application/octet-stream", body)
}

func (r *ginRequest) Responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responded
}

// headerEqualFold reports whether a header value, with surrounding
// whitespace trimmed, equals want ignoring case.
func headerEqualFold(value, want string) bool {
	return strings.EqualFold(strings.TrimSpace(value), want)
}
