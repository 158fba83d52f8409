package wdx

import (
	"strings"
	"sync/atomic"
)

// AuthInfo is the authenticator's output, forwarded to downstream stages
// once a request has been accepted (including the unauthenticated
// allow-list path, where UserName is "unknown").
type AuthInfo struct {
	UserName string
}

// HandlerFunc is one stage's entry point. A stage either responds on req
// or forwards to the next stage by calling it directly; it must never do
// both.
type HandlerFunc func(req Request, auth AuthInfo)

// Stage wraps a HandlerFunc with a preceding concern (security gating,
// authentication, CORS, ...), producing a new HandlerFunc that owns the
// decision to forward to next.
type Stage func(next HandlerFunc) HandlerFunc

// Chain composes stages around a terminal operation handler and wraps the
// whole chain in a panic-recovery boundary: any uncaught panic, or any
// stage that drops the request without responding, yields a 500 response
// instead of leaking the request or crashing the process.
func Chain(final HandlerFunc, stages ...Stage) HandlerFunc {
	h := final
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return func(req Request, auth AuthInfo) {
		defer func() {
			if r := recover(); r != nil {
				reportHandlerPanic(NewHandlerUnexpectedError(r))
				respond500(req)
			}
		}()
		h(req, auth)
		if !req.Responded() {
			respond500(req)
		}
	}
}

func respond500(req Request) {
	if req.Responded() {
		return
	}
	req.Respond(500, nil)
}

var handlerPanicSink atomic.Pointer[func(error)]

// SetHandlerPanicSink installs a hook invoked with a HandlerUnexpectedError
// whenever Chain recovers a panicking stage, so callers can log or meter
// these without the recovered value ever reaching the client. Pass nil to
// clear a previously installed sink.
func SetHandlerPanicSink(fn func(error)) {
	if fn == nil {
		handlerPanicSink.Store(nil)
		return
	}
	handlerPanicSink.Store(&fn)
}

func reportHandlerPanic(err error) {
	sink := handlerPanicSink.Load()
	if sink != nil {
		(*sink)(err)
	}
}

// SecureStage rejects any request that is neither HTTPS nor, when
// allowLocalHTTP is set, from localhost, with a 426 Upgrade Required.
func SecureStage(allowLocalHTTP bool) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(req Request, auth AuthInfo) {
			if !req.IsHTTPS() && !(allowLocalHTTP && req.IsLocalhost()) {
				req.Respond(426, nil)
				return
			}
			next(req, auth)
		}
	}
}

// OptionsStage intercepts OPTIONS requests and answers them with a CORS
// preflight response built from the operation's declared method set,
// always bypassing authentication.
func OptionsStage(allowedMethods []string, allowedHeaders, exposedHeaders string) Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(req Request, auth AuthInfo) {
			if req.Method() == "OPTIONS" {
				OptionsResponse(req, allowedMethods, allowedHeaders, exposedHeaders)
				return
			}
			next(req, auth)
		}
	}
}

// NotFoundHandler answers any request with 404.
func NotFoundHandler() HandlerFunc {
	return func(req Request, _ AuthInfo) { req.Respond(404, nil) }
}

// NotImplementedHandler answers any request with 501.
func NotImplementedHandler() HandlerFunc {
	return func(req Request, _ AuthInfo) { req.Respond(501, nil) }
}

// NotAcceptableHandler answers any request with 406, for an Accept header
// the operation cannot satisfy.
func NotAcceptableHandler() HandlerFunc {
	return func(req Request, _ AuthInfo) { req.Respond(406, nil) }
}

// UnsupportedMediaTypeHandler answers any request with 415, for a
// Content-Type the operation does not accept.
func UnsupportedMediaTypeHandler() HandlerFunc {
	return func(req Request, _ AuthInfo) { req.Respond(415, nil) }
}

// MethodNotAllowedHandler answers with 405 and an Allow header populated
// from the operation's declared methods.
func MethodNotAllowedHandler(allowedMethods []string) HandlerFunc {
	return func(req Request, _ AuthInfo) {
		req.AddResponseHeader(headerAllow, strings.Join(allowedMethods, ", "))
		req.Respond(405, nil)
	}
}

// RedirectHandler answers with status and a Location header, for the
// trailing-slash-removed and lowercase-path redirect operations.
func RedirectHandler(status int, location string) HandlerFunc {
	return func(req Request, _ AuthInfo) {
		req.AddResponseHeader("Location", location)
		req.Respond(status, nil)
	}
}
