package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type stubProfiles struct {
	record *firebaseauth.UserRecord
	err    error
	calls  int
}

func (s *stubProfiles) GetUser(context.Context, string) (*firebaseauth.UserRecord, error) {
	s.calls++
	return s.record, s.err
}

func serve(t *testing.T, authn *Authenticator, roles []string, token string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := authn.RequireFirebaseAuth(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestAuthenticatorAcceptsOperatorWithClaims(t *testing.T) {
	verifier := &stubVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"role":  []any{"Operator", "admin", "admin"},
			"name":  "Rita Alves",
			"email": "rita@tripdesk.example",
		},
	}}
	profiles := &stubProfiles{}
	rr, identity := serve(t, NewAuthenticator(verifier, WithProfileLoader(profiles)), []string{RoleOperator}, "token-value")

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if verifier.received != "token-value" {
		t.Fatalf("verifier received %q", verifier.received)
	}
	if identity.UID != "uid-123" || identity.Name != "Rita Alves" || identity.Email != "rita@tripdesk.example" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 2 || !identity.IsAdmin() || !identity.HasRole("OPERATOR") {
		t.Fatalf("unexpected roles %v", identity.Roles)
	}
	if profiles.calls != 0 {
		t.Fatalf("profile lookup should be skipped when claims are complete")
	}
}

func TestAuthenticatorFillsProfileFromUserRecord(t *testing.T) {
	verifier := &stubVerifier{token: &firebaseauth.Token{UID: "uid-9", Claims: map[string]any{}}}
	profiles := &stubProfiles{record: &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{
		UID: "uid-9", Email: "bruno@tripdesk.example", DisplayName: "Bruno",
	}}}

	rr, identity := serve(t, NewAuthenticator(verifier, WithProfileLoader(profiles)), nil, "t")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if identity.Name != "Bruno" || identity.Email != "bruno@tripdesk.example" {
		t.Fatalf("profile not applied: %+v", identity)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != RoleOperator {
		t.Fatalf("expected fallback operator role, got %v", identity.Roles)
	}
}

func TestAuthenticatorRejectsDisabledAccount(t *testing.T) {
	verifier := &stubVerifier{token: &firebaseauth.Token{UID: "uid-9", Claims: map[string]any{}}}
	profiles := &stubProfiles{record: &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: "uid-9"}, Disabled: true}}

	rr, _ := serve(t, NewAuthenticator(verifier, WithProfileLoader(profiles)), nil, "t")
	if rr.Code != http.StatusForbidden || errorCode(t, rr) != "account_disabled" {
		t.Fatalf("expected 403 account_disabled, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAuthenticatorProfileErrorsDoNotBlock(t *testing.T) {
	verifier := &stubVerifier{token: &firebaseauth.Token{UID: "uid-4", Claims: map[string]any{"role": "operator"}}}
	profiles := &stubProfiles{err: errors.New("firebase down")}

	rr, identity := serve(t, NewAuthenticator(verifier, WithProfileLoader(profiles)), nil, "t")
	if rr.Code != http.StatusNoContent || identity.UID != "uid-4" {
		t.Fatalf("expected request to pass, got %d", rr.Code)
	}
}

func TestAuthenticatorFailures(t *testing.T) {
	cases := []struct {
		name     string
		authn    *Authenticator
		roles    []string
		token    string
		wantCode int
		wantErr  string
	}{
		{
			name:     "missing header",
			authn:    NewAuthenticator(&stubVerifier{}),
			wantCode: http.StatusUnauthorized,
			wantErr:  "unauthenticated",
		},
		{
			name:     "expired",
			authn:    NewAuthenticator(&stubVerifier{err: ErrTokenExpired}),
			token:    "expired",
			wantCode: http.StatusUnauthorized,
			wantErr:  "token_expired",
		},
		{
			name:     "invalid",
			authn:    NewAuthenticator(&stubVerifier{err: ErrTokenInvalid}),
			token:    "forged",
			wantCode: http.StatusUnauthorized,
			wantErr:  "invalid_token",
		},
		{
			name:     "operator on admin route",
			authn:    NewAuthenticator(&stubVerifier{token: &firebaseauth.Token{UID: "u", Claims: map[string]any{"role": "operator"}}}),
			roles:    []string{RoleAdmin},
			token:    "t",
			wantCode: http.StatusForbidden,
			wantErr:  "insufficient_role",
		},
		{
			name: "no role without fallback",
			authn: NewAuthenticator(&stubVerifier{token: &firebaseauth.Token{UID: "u", Claims: map[string]any{}}},
				WithFallbackRole("")),
			token:    "t",
			wantCode: http.StatusUnauthorized,
			wantErr:  "missing_role",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, _ := serve(t, tc.authn, tc.roles, tc.token)
			if rr.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rr.Code)
			}
			if got := errorCode(t, rr); got != tc.wantErr {
				t.Fatalf("expected error %q, got %q", tc.wantErr, got)
			}
		})
	}
}

func TestRolesFromClaimShapes(t *testing.T) {
	if got := rolesFromClaim(map[string]any{"role": " Admin "}, "role"); len(got) != 1 || got[0] != "admin" {
		t.Fatalf("string claim: %v", got)
	}
	if got := rolesFromClaim(map[string]any{"role": map[string]any{"admin": true, "operator": false}}, "role"); len(got) != 1 || got[0] != "admin" {
		t.Fatalf("map claim: %v", got)
	}
	if got := rolesFromClaim(map[string]any{"role": []any{"operator", 7, ""}}, "role"); len(got) != 1 || got[0] != "operator" {
		t.Fatalf("list claim: %v", got)
	}
	if got := rolesFromClaim(map[string]any{}, "role"); len(got) != 0 {
		t.Fatalf("missing claim: %v", got)
	}
}
