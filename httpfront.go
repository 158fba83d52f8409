package wdx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultHTTPListenAddr is used when a caller has no override for the
// authenticating HTTP front's listen address.
const DefaultHTTPListenAddr = "127.0.0.1:8080"

var frontMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// FrontOptions configures NewFrontEngine.
type FrontOptions struct {
	Authenticator  *Authenticator
	AllowLocalHTTP bool
	AllowedMethods []string
	AllowedHeaders string
	ExposedHeaders string
	Operation      HandlerFunc
}

// NewFrontEngine builds the gin.Engine that fronts the handler chain: every
// request gin accepts is adapted via NewGinRequest and run through
// SecureStage, OptionsStage, the Authenticator, and finally opts.Operation.
func NewFrontEngine(opts FrontOptions) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	chain := Chain(opts.Operation,
		SecureStage(opts.AllowLocalHTTP),
		OptionsStage(opts.AllowedMethods, opts.AllowedHeaders, opts.ExposedHeaders),
		opts.Authenticator.Stage(),
	)

	handle := func(c *gin.Context) {
		chain(NewGinRequest(c), AuthInfo{})
	}
	for _, method := range frontMethods {
		engine.Handle(method, "/*path", handle)
	}
	return engine
}

// ListenAndServe runs engine's HTTP accept loop on addr. The accept loop
// itself is this module's one external collaborator here; this is a thin
// pass-through so callers can run it on its own goroutine.
func ListenAndServe(addr string, engine *gin.Engine) error {
	return http.ListenAndServe(addr, engine)
}
