package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "surrounding space", header: "Bearer   abc123  ", want: "abc123"},
		{name: "missing header", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc123", wantErr: true},
		{name: "empty token", header: "Bearer    ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "reader", Scopes: []string{ScopeModulesRO, " "}},
		{Token: "writer", Scopes: []string{ScopeModulesRW}},
	}

	admin, ok := Authenticate("root", "root", tokens)
	if !ok || !HasAnyScope(admin, ScopeEventsRO) {
		t.Fatalf("admin token should grant every scope: %+v", admin)
	}

	reader, ok := Authenticate("reader", "root", tokens)
	if !ok {
		t.Fatal("reader token rejected")
	}
	if !HasAnyScope(reader, ScopeModulesRO) {
		t.Error("reader lacks modules:ro")
	}
	if HasAnyScope(reader, ScopeModulesRW) {
		t.Error("reader should not have modules:rw")
	}
	if _, blank := reader.Scopes[""]; blank {
		t.Error("blank scope kept")
	}

	writer, ok := Authenticate("writer", "root", tokens)
	if !ok || !HasAnyScope(writer, ScopeModulesRO) {
		t.Error("modules:rw should imply modules:ro")
	}

	if _, ok := Authenticate("nobody", "root", tokens); ok {
		t.Error("unknown token accepted")
	}
	if _, ok := Authenticate("", "", nil); ok {
		t.Error("empty token accepted against empty admin token")
	}
}

func TestHasAnyScopeWithoutRequirements(t *testing.T) {
	if !HasAnyScope(Principal{}) {
		t.Error("no required scopes should always pass")
	}
}

func TestPrincipalContext(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("unexpected principal in empty context")
	}
	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token != "t" {
		t.Fatalf("principal = %+v, %v", p, ok)
	}
}
