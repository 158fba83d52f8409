package wdx

import (
	"strconv"
	"strings"
)

// HTTP header names the authenticator reads and writes.
const (
	headerAuthorization       = "Authorization"
	headerWWWAuthenticate     = "WWW-Authenticate"
	headerAuthMethods         = "WAGO-WDX-Auth-Methods"
	headerNoAuthPopup         = "WAGO-WDX-No-Auth-Popup"
	headerAuthTokenType       = "WAGO-WDX-Auth-Token-Type"
	headerAuthToken           = "WAGO-WDX-Auth-Token"
	headerAuthTokenExpiration = "WAGO-WDX-Auth-Token-Expiration"
	headerAuthPasswordExpired = "WAGO-WDX-Auth-Password-Expired"
	headerCacheControl        = "Cache-Control"
	headerPragma              = "Pragma"
)

const (
	maxAuthorizationHeaderLength = 4096
	maxBasicAuthorizationLength  = 512
	authMethodsHeaderValue       = "Password, WDXToken, OAuth2"
	schemeBasic                  = "Basic"
	schemeBearer                 = "Bearer"
)

// AuthResult is what a password or token backend reports back to the
// authenticator.
type AuthResult struct {
	UserName     string
	Success      bool
	Expired      bool
	Token        string
	TokenTTLSecs uint32
}

// PasswordBackend authenticates a Basic-scheme user/password pair. Backend
// failure is represented by AuthResult.Success == false, not a Go error —
// rejection and backend-internal failure are indistinguishable to the
// authenticator, matching the source's single auth_result contract.
type PasswordBackend interface {
	Authenticate(user, password string) AuthResult
}

// TokenBackend authenticates a Bearer-scheme token. A nil TokenBackend
// means Bearer is not recognized at all (treated as unknown scheme).
type TokenBackend interface {
	Authenticate(token string) AuthResult
}

// AuthSettings supplies the authenticator with the pieces of configuration
// that do not belong to either backend: the unauthenticated URL allow-list
// and the service's base URL (used both to strip the request path and to
// build the WWW-Authenticate realm). CORS headers on a failed-authentication
// response list only the request's own method, so no method set is needed.
type AuthSettings interface {
	UnauthenticatedURLPatterns() string // semicolon-separated pattern list
	ServiceBaseURL() string
}

// Authenticator is the C7 handler-chain stage: it parses the Authorization
// header, dispatches to the configured backend, and either forwards the
// request with an AuthInfo or emits the structured 401/500 responses
// described by the design.
type Authenticator struct {
	password    PasswordBackend
	token       TokenBackend
	settings    AuthSettings
	onAuthError func(error)
}

// AuthenticatorOption configures an Authenticator at construction time.
type AuthenticatorOption func(*Authenticator)

// WithAuthErrorSink registers a hook invoked with the AuthParseError or
// AuthRejectedError behind a denied request, for callers that want to log
// or meter authentication failures without changing the client-visible
// 401/500 response.
func WithAuthErrorSink(fn func(error)) AuthenticatorOption {
	return func(a *Authenticator) { a.onAuthError = fn }
}

// NewAuthenticator constructs an Authenticator. token may be nil, in which
// case Bearer credentials are never recognized.
func NewAuthenticator(password PasswordBackend, token TokenBackend, settings AuthSettings, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{password: password, token: token, settings: settings}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Authenticator) reportAuthError(err error) {
	if err != nil && a.onAuthError != nil {
		a.onAuthError(err)
	}
}

// Stage adapts the Authenticator into a handler-chain Stage.
func (a *Authenticator) Stage() Stage {
	return func(next HandlerFunc) HandlerFunc {
		return func(req Request, _ AuthInfo) {
			a.handle(req, next)
		}
	}
}

func (a *Authenticator) handle(req Request, next HandlerFunc) {
	if req.Method() == "OPTIONS" {
		next(req, AuthInfo{UserName: "unknown"})
		return
	}

	header, present := req.Header(headerAuthorization)
	if present && len(header) > maxAuthorizationHeaderLength {
		a.respondUnexpected(req, NewAuthParseError("Authorization header too long"))
		return
	}

	var result AuthResult
	var parseErr error

	if present && header != "" {
		switch {
		case isScheme(header, schemeBasic):
			result, parseErr = a.authenticateBasic(header)
		case a.token != nil && isScheme(header, schemeBearer):
			result, parseErr = a.authenticateBearer(header)
		default:
			// Unknown scheme: not a parse error, just a failed
			// authentication attempt (falls through to the gating below).
		}
	}

	if parseErr != nil {
		a.respondUnexpected(req, parseErr)
		return
	}

	if result.Success {
		a.forwardAuthenticated(req, next, result)
		return
	}

	hasAuthInformation := present && header != ""
	if !hasAuthInformation && a.allowUnauthenticated(req) {
		next(req, AuthInfo{UserName: "unknown"})
		return
	}

	var reason error
	if hasAuthInformation {
		reason = NewAuthRejectedError("credentials rejected by backend")
	}
	a.respondUnauthorized(req, reason)
}

func (a *Authenticator) forwardAuthenticated(req Request, next HandlerFunc, result AuthResult) {
	if result.Expired {
		req.AddResponseHeader(headerAuthPasswordExpired, "true")
	}
	if result.Token != "" {
		req.AddResponseHeader(headerAuthTokenType, schemeBearer)
		req.AddResponseHeader(headerAuthToken, result.Token)
		req.AddResponseHeader(headerAuthTokenExpiration, strconv.FormatUint(uint64(result.TokenTTLSecs), 10))
		req.AddResponseHeader(headerCacheControl, "no-store")
		req.AddResponseHeader(headerPragma, "no-cache")
	}
	next(req, AuthInfo{UserName: result.UserName})
}

func (a *Authenticator) respondUnauthorized(req Request, reason error) {
	a.reportAuthError(reason)

	req.AddResponseHeader(headerAuthMethods, authMethodsHeaderValue)

	popup, _ := req.Header(headerNoAuthPopup)
	if !headerEqualFold(popup, "true") {
		realm := strings.TrimPrefix(a.settings.ServiceBaseURL(), "/")
		req.AddResponseHeader(headerWWWAuthenticate, schemeBasic+` realm="`+realm+`", `+schemeBearer+` realm="`+realm+`"`)
	}

	AddCORSResponseHeaders(req, []string{req.Method()}, "", "")
	req.AddResponseHeader(headerAccessControlExposeHeaders, headerWWWAuthenticate+", "+headerAuthMethods)
	req.Respond(401, nil)
}

func (a *Authenticator) respondUnexpected(req Request, err error) {
	a.reportAuthError(err)
	AddCORSResponseHeaders(req, []string{req.Method()}, "", "")
	req.Respond(500, nil)
}

func (a *Authenticator) authenticateBasic(header string) (AuthResult, error) {
	credentials := strings.TrimSpace(stripScheme(header, schemeBasic))
	if len(credentials) > maxBasicAuthorizationLength {
		return AuthResult{}, NewAuthParseError("basic credentials too long")
	}
	decoded, err := Base64Decode(credentials)
	if err != nil || len(strings.TrimSpace(string(decoded))) == 0 {
		return AuthResult{}, NewAuthParseError("empty basic authentication")
	}
	idx := strings.IndexByte(string(decoded), ':')
	if idx < 0 {
		return AuthResult{}, NewAuthParseError("invalid basic authentication")
	}
	user, password := string(decoded[:idx]), string(decoded[idx+1:])
	return a.password.Authenticate(user, password), nil
}

func (a *Authenticator) authenticateBearer(header string) (AuthResult, error) {
	token := strings.TrimSpace(stripScheme(header, schemeBearer))
	if token == "" {
		return AuthResult{}, NewAuthParseError("empty token authentication")
	}
	return a.token.Authenticate(token), nil
}

func (a *Authenticator) allowUnauthenticated(req Request) bool {
	if req.Method() == "OPTIONS" {
		return true
	}
	patterns := a.settings.UnauthenticatedURLPatterns()
	if patterns == "" {
		return false
	}
	path := strings.TrimPrefix(req.Path(), a.settings.ServiceBaseURL())
	for _, pattern := range strings.Split(patterns, ";") {
		if pattern == "" {
			continue
		}
		if matchURLPattern(pattern, path) {
			return true
		}
	}
	return false
}

// isScheme reports whether header begins with scheme (case-insensitive)
// followed by at least one space, i.e. a well-formed "<Scheme> <rest>".
func isScheme(header, scheme string) bool {
	if len(header) <= len(scheme) {
		return false
	}
	return strings.EqualFold(header[:len(scheme)], scheme) && header[len(scheme)] == ' '
}

func stripScheme(header, scheme string) string {
	return header[len(scheme):]
}

// matchURLPattern matches pattern against path where pattern segments of
// the form :name: match exactly one non-slash path segment.
func matchURLPattern(pattern, path string) bool {
	patternSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(strings.SplitN(path, "?", 2)[0], "/"), "/")
	if len(patternSegs) != len(pathSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if strings.HasPrefix(seg, ":") && strings.HasSuffix(seg, ":") && len(seg) > 1 {
			if pathSegs[i] == "" {
				return false
			}
			continue
		}
		if seg != pathSegs[i] {
			return false
		}
	}
	return true
}
