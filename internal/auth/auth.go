// Package auth authenticates admin API bearer tokens and checks their scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Well-known scopes. A ":rw" scope implies the matching ":ro" scope.
const (
	ScopeAll       = "*"
	ScopeModulesRO = "modules:ro"
	ScopeModulesRW = "modules:rw"
	ScopeEventsRO  = "events:ro"
	ScopeMetricsRO = "metrics:ro"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing API token")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
// If adminToken matches, it authenticates with scope "*".
func Authenticate(presented string, adminToken string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, adminToken) {
		return Principal{
			Token:  presented,
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:  presented,
				Scopes: normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	if _, ok := out[ScopeModulesRW]; ok {
		out[ScopeModulesRO] = struct{}{}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
