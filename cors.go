package wdx

import "strings"

// CORS response header names, per the WHATWG Fetch standard as consumed by
// this handler chain.
const (
	headerVary                          = "Vary"
	headerAccessControlAllowOrigin      = "Access-Control-Allow-Origin"
	headerAccessControlMaxAge           = "Access-Control-Max-Age"
	headerAccessControlAllowCredentials = "Access-Control-Allow-Credentials"
	headerAccessControlAllowMethods     = "Access-Control-Allow-Methods"
	headerAccessControlAllowHeaders     = "Access-Control-Allow-Headers"
	headerAccessControlExposeHeaders    = "Access-Control-Expose-Headers"
	headerAllow                         = "Allow"
	headerOrigin                        = "Origin"
)

const corsMaxAgeSeconds = "86400"

// OptionsResponse builds the 204 response for a preflight OPTIONS request:
// the Allow header lists allowedMethods, and CORS headers are added the
// same way AddCORSResponseHeaders does.
func OptionsResponse(req Request, allowedMethods []string, allowedHeaders, exposedHeaders string) {
	req.AddResponseHeader(headerAllow, strings.Join(allowedMethods, ", "))
	AddCORSResponseHeaders(req, allowedMethods, allowedHeaders, exposedHeaders)
	req.Respond(204, nil)
}

// AddCORSResponseHeaders adds CORS headers to an in-flight response, but
// only if the request carries an Origin header — mirroring the source's
// behavior of treating CORS as strictly origin-gated, independent of
// method or authentication outcome.
func AddCORSResponseHeaders(req Request, allowedMethods []string, allowedHeaders, exposedHeaders string) {
	origin, ok := req.Header(headerOrigin)
	if !ok || origin == "" {
		return
	}
	req.AddResponseHeader(headerVary, "Origin")
	req.AddResponseHeader(headerAccessControlAllowOrigin, origin)
	req.AddResponseHeader(headerAccessControlMaxAge, corsMaxAgeSeconds)
	req.AddResponseHeader(headerAccessControlAllowCredentials, "true")
	req.AddResponseHeader(headerAccessControlAllowMethods, strings.Join(allowedMethods, ", "))
	if allowedHeaders != "" {
		req.AddResponseHeader(headerAccessControlAllowHeaders, allowedHeaders)
	}
	if exposedHeaders != "" {
		req.AddResponseHeader(headerAccessControlExposeHeaders, exposedHeaders)
	}
	// TODO: Access-Control-Request-Method / Access-Control-Request-Headers
	// on the preflight request are not currently cross-checked against
	// allowedMethods/allowedHeaders before responding.
}
