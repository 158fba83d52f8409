package wdx

import (
	"errors"
	"testing"
)

type fakePasswordBackend struct {
	allow map[string]string // user -> password
}

func (b *fakePasswordBackend) Authenticate(user, password string) AuthResult {
	if want, ok := b.allow[user]; ok && want == password {
		return AuthResult{UserName: user, Success: true}
	}
	return AuthResult{Success: false}
}

type fakeTokenBackend struct {
	valid map[string]string // token -> user
}

func (b *fakeTokenBackend) Authenticate(token string) AuthResult {
	if user, ok := b.valid[token]; ok {
		return AuthResult{UserName: user, Success: true, Token: token, TokenTTLSecs: 3600}
	}
	return AuthResult{Success: false}
}

type fakeAuthSettings struct {
	patterns string
	base     string
}

func (s *fakeAuthSettings) UnauthenticatedURLPatterns() string { return s.patterns }
func (s *fakeAuthSettings) ServiceBaseURL() string             { return s.base }

func basicHeader(t *testing.T, user, password string) string {
	t.Helper()
	enc, err := Base64Encode([]byte(user + ":" + password))
	if err != nil {
		t.Fatalf("encode basic credentials: %v", err)
	}
	return "Basic " + enc
}

func newTestAuthenticator() (*Authenticator, *fakePasswordBackend, *fakeTokenBackend, *fakeAuthSettings) {
	pw := &fakePasswordBackend{allow: map[string]string{"alice": "secret"}}
	tok := &fakeTokenBackend{valid: map[string]string{"goodtoken": "bob"}}
	settings := &fakeAuthSettings{patterns: "/public/:name:", base: "/api"}
	return NewAuthenticator(pw, tok, settings), pw, tok, settings
}

func TestAuthenticatorAcceptsValidBasicCredentials(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	var gotUser string
	next := func(req Request, auth AuthInfo) { gotUser = auth.UserName; req.Respond(200, nil) }

	req := newFakeRequest("GET", "/api/things")
	req.headers[headerAuthorization] = basicHeader(t, "alice", "secret")

	a.handle(req, next)

	if gotUser != "alice" {
		t.Errorf("auth.UserName = %q; want alice", gotUser)
	}
	if req.status != 200 {
		t.Errorf("status = %d; want 200", req.status)
	}
}

func TestAuthenticatorRejectsBadPassword(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	next := func(req Request, auth AuthInfo) { req.Respond(200, nil) }

	req := newFakeRequest("GET", "/api/things")
	req.headers[headerAuthorization] = basicHeader(t, "alice", "wrong")

	a.handle(req, next)

	if req.status != 401 {
		t.Errorf("status = %d; want 401", req.status)
	}
	if req.responseHdrs[headerAuthMethods] == "" {
		t.Error("expected WAGO-WDX-Auth-Methods header on 401")
	}
}

func TestAuthenticatorAcceptsValidBearerToken(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	var gotUser string
	next := func(req Request, auth AuthInfo) { gotUser = auth.UserName; req.Respond(200, nil) }

	req := newFakeRequest("GET", "/api/things")
	req.headers[headerAuthorization] = "Bearer goodtoken"

	a.handle(req, next)

	if gotUser != "bob" {
		t.Errorf("auth.UserName = %q; want bob", gotUser)
	}
	if req.responseHdrs[headerAuthToken] != "goodtoken" {
		t.Errorf("expected token echoed back in response headers")
	}
}

func TestAuthenticatorAllowsUnauthenticatedAllowListedPath(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	called := false
	next := func(req Request, auth AuthInfo) { called = true; req.Respond(200, nil) }

	req := newFakeRequest("GET", "/api/public/widgets")
	a.handle(req, next)

	if !called {
		t.Error("expected allow-listed unauthenticated path to reach next")
	}
}

func TestAuthenticatorRejectsMissingCredentialsOutsideAllowList(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	next := func(req Request, auth AuthInfo) { req.Respond(200, nil) }

	req := newFakeRequest("GET", "/api/private")
	a.handle(req, next)

	if req.status != 401 {
		t.Errorf("status = %d; want 401", req.status)
	}
}

func TestAuthenticatorRejectsOversizedHeaderAs500(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	next := func(req Request, auth AuthInfo) { req.Respond(200, nil) }

	req := newFakeRequest("GET", "/api/private")
	huge := make([]byte, maxAuthorizationHeaderLength+1)
	for i := range huge {
		huge[i] = 'a'
	}
	req.headers[headerAuthorization] = string(huge)

	a.handle(req, next)

	if req.status != 500 {
		t.Errorf("status = %d; want 500 for oversized header", req.status)
	}
}

func TestAuthenticatorEmptyBasicCredentialsIsParseError(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	next := func(req Request, auth AuthInfo) { req.Respond(200, nil) }

	req := newFakeRequest("GET", "/api/private")
	empty, err := Base64Encode([]byte(""))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req.headers[headerAuthorization] = "Basic " + empty

	a.handle(req, next)

	if req.status != 500 {
		t.Errorf("status = %d; want 500 for empty basic credentials", req.status)
	}
}

func TestAuthenticatorRejectionReportsAuthRejectedErrorToSink(t *testing.T) {
	pw := &fakePasswordBackend{allow: map[string]string{"alice": "secret"}}
	settings := &fakeAuthSettings{patterns: "", base: "/api"}

	var reported error
	a := NewAuthenticator(pw, nil, settings, WithAuthErrorSink(func(err error) { reported = err }))

	next := func(req Request, auth AuthInfo) { req.Respond(200, nil) }
	req := newFakeRequest("GET", "/api/things")
	req.headers[headerAuthorization] = basicHeader(t, "alice", "wrong")

	a.handle(req, next)

	if req.status != 401 {
		t.Fatalf("status = %d; want 401", req.status)
	}
	var target *AuthRejectedError
	if !errors.As(reported, &target) {
		t.Errorf("reported error = %v; want *AuthRejectedError", reported)
	}
}

func TestAuthenticatorParseErrorReportsAuthParseErrorToSink(t *testing.T) {
	pw := &fakePasswordBackend{allow: map[string]string{}}
	settings := &fakeAuthSettings{patterns: "", base: "/api"}

	var reported error
	a := NewAuthenticator(pw, nil, settings, WithAuthErrorSink(func(err error) { reported = err }))

	next := func(req Request, auth AuthInfo) { req.Respond(200, nil) }
	req := newFakeRequest("GET", "/api/things")
	empty, err := Base64Encode([]byte(""))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req.headers[headerAuthorization] = "Basic " + empty

	a.handle(req, next)

	if req.status != 500 {
		t.Fatalf("status = %d; want 500", req.status)
	}
	var target *AuthParseError
	if !errors.As(reported, &target) {
		t.Errorf("reported error = %v; want *AuthParseError", reported)
	}
}

func TestAuthenticatorOptionsAlwaysBypassesAuth(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	called := false
	next := func(req Request, auth AuthInfo) { called = true; req.Respond(204, nil) }

	req := newFakeRequest("OPTIONS", "/api/private")
	a.handle(req, next)

	if !called {
		t.Error("expected OPTIONS to bypass authentication")
	}
}

func TestAuthenticatorNoAuthPopupSuppressesWWWAuthenticate(t *testing.T) {
	a, _, _, _ := newTestAuthenticator()
	next := func(req Request, auth AuthInfo) { req.Respond(200, nil) }

	req := newFakeRequest("GET", "/api/private")
	req.headers[headerNoAuthPopup] = "true"
	a.handle(req, next)

	if _, ok := req.responseHdrs[headerWWWAuthenticate]; ok {
		t.Error("expected WWW-Authenticate to be suppressed by No-Auth-Popup")
	}
}

func TestMatchURLPatternWithPlaceholder(t *testing.T) {
	if !matchURLPattern("/public/:name:", "/public/widgets") {
		t.Error("expected placeholder segment to match")
	}
	if matchURLPattern("/public/:name:", "/public/widgets/extra") {
		t.Error("expected segment-count mismatch to fail")
	}
	if matchURLPattern("/public/:name:", "/public/") {
		t.Error("expected empty placeholder segment to fail")
	}
}

func TestIsSchemeRequiresTrailingSpace(t *testing.T) {
	if !isScheme("Basic abc", "Basic") {
		t.Error("expected well-formed scheme match")
	}
	if isScheme("Basicabc", "Basic") {
		t.Error("expected scheme match to require a following space")
	}
	if !isScheme("basic abc", "Basic") {
		t.Error("expected case-insensitive scheme match")
	}
}
