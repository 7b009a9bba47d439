package main

import (
	"net/http"
	"sync"
)

// authCookieName is the HTTP-only cookie carrying the login token.
const authCookieName = "access-token"

// --- Auth Gate ---

// authGate validates request credentials against a process-owned token
// table. Two policies are supported: a static username/password table or
// a predicate function; with neither configured every request passes.
//
// Tokens are never rotated or expired, so the table only grows. Login
// volume is assumed low; scaling this table is out of scope.
type authGate struct {
	users  map[string]string
	authFn func(username, password string) bool

	mu     sync.RWMutex
	tokens map[string]string // token -> username
}

func newAuthGate(users map[string]string, authFn func(username, password string) bool) *authGate {
	return &authGate{
		users:  users,
		authFn: authFn,
		tokens: make(map[string]string),
	}
}

// enabled reports whether any login policy is configured.
func (g *authGate) enabled() bool {
	return g.authFn != nil || len(g.users) > 0
}

// verify checks credentials against the configured policy. The table
// policy is plain string equality; passwords are not hashed. Known
// weakness, kept deliberately.
func (g *authGate) verify(username, password string) bool {
	if g.authFn != nil {
		return g.authFn(username, password)
	}
	want, ok := g.users[username]
	return ok && want == password
}

// login verifies credentials and, on success, mints a random opaque
// token bound to the username.
func (g *authGate) login(username, password string) (string, bool) {
	if !g.verify(username, password) {
		return "", false
	}
	token := randomToken(16)
	g.mu.Lock()
	g.tokens[token] = username
	g.mu.Unlock()
	return token, true
}

// authenticate resolves a token to its username.
func (g *authGate) authenticate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	user, ok := g.tokens[token]
	return user, ok
}

// userFromRequest reads the auth cookie and resolves it. The empty
// string with ok=false means the caller is anonymous.
func (g *authGate) userFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return "", false
	}
	return g.authenticate(cookie.Value)
}

// allow is the gating predicate: true when no policy is configured or
// the request bears a valid token.
func (g *authGate) allow(r *http.Request) bool {
	if !g.enabled() {
		return true
	}
	_, ok := g.userFromRequest(r)
	return ok
}

// setAuthCookie instructs the client to persist the token. HTTP-only so
// page scripts cannot read it.
func setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
	})
}
