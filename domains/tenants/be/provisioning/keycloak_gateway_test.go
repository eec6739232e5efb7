package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/keycloak"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/retry"
)

// realm is a fake Keycloak realm whose member endpoint lags behind user
// creation by lagCalls calls.
type realm struct {
	mu       sync.Mutex
	lagCalls int
	users    map[string]bool
	orgs     map[string]bool
	members  map[string]string
	bindHits int
	tokens   int
}

func newRealm(t *testing.T, lagCalls int) (*realm, *httptest.Server) {
	t.Helper()
	r := &realm{lagCalls: lagCalls, users: map[string]bool{}, orgs: map[string]bool{}, members: map[string]string{}}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", func(w http.ResponseWriter, _ *http.Request) {
		r.mu.Lock()
		r.tokens++
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"bearer","expires_in":60}`)
	})
	mux.HandleFunc("POST /admin/realms/tenants/users", func(w http.ResponseWriter, req *http.Request) {
		var u keycloak.User
		_ = json.NewDecoder(req.Body).Decode(&u)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.users[u.Email] {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"errorMessage":"User exists with same email"}`)
			return
		}
		r.users[u.Email] = true
		w.Header().Set("Location", "http://kc/admin/realms/tenants/users/"+u.Email)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /admin/realms/tenants/users/{id}", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.users[req.PathValue("id")] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(keycloak.User{ID: req.PathValue("id")})
	})
	mux.HandleFunc("DELETE /admin/realms/tenants/users/{id}", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.users[req.PathValue("id")] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(r.users, req.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /admin/realms/tenants/organizations", func(w http.ResponseWriter, req *http.Request) {
		var o keycloak.Organization
		_ = json.NewDecoder(req.Body).Decode(&o)
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.orgs[o.Alias] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		r.orgs[o.Alias] = true
		w.Header().Set("Location", "http://kc/admin/realms/tenants/organizations/"+o.Alias)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("DELETE /admin/realms/tenants/organizations/{id}", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.orgs[req.PathValue("id")] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(r.orgs, req.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /admin/realms/tenants/organizations/{id}/members", func(w http.ResponseWriter, req *http.Request) {
		var userID string
		_ = json.NewDecoder(req.Body).Decode(&userID)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.bindHits++
		if r.bindHits <= r.lagCalls {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"errorMessage":"User does not exist"}`)
			return
		}
		if r.members[req.PathValue("id")] == userID {
			w.WriteHeader(http.StatusConflict)
			return
		}
		r.members[req.PathValue("id")] = userID
		w.WriteHeader(http.StatusCreated)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return r, srv
}

func newTestGateway(t *testing.T, srv *httptest.Server) *KeycloakGateway {
	t.Helper()
	client, err := keycloak.New(keycloak.Config{
		BaseURL:       srv.URL,
		Realm:         "tenants",
		AdminUser:     "admin",
		AdminPassword: "secret",
	}, srv.Client())
	require.NoError(t, err)
	return NewKeycloakGateway(client, retry.Policy{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxAttempts: 15}, zaptest.NewLogger(t))
}

func TestKeycloakGatewayBindWaitsForIndexing(t *testing.T) {
	r, srv := newRealm(t, 3)
	g := newTestGateway(t, srv)
	ctx := context.Background()

	userID, err := g.CreateUser(ctx, service.AdminUser{Email: "admin@acme.test", Password: "pw"})
	require.NoError(t, err)
	org, err := g.CreateOrganization(ctx, "acme", "Acme Co", userID)
	require.NoError(t, err)
	require.False(t, org.MemberBound)

	tokensBefore := r.tokens
	attempts, err := g.BindUserToOrganization(ctx, org.ID, userID)
	require.NoError(t, err)
	require.Equal(t, 4, attempts)
	require.Equal(t, userID, r.members[org.ID])
	// every bind and every re-verification authenticates afresh
	require.Equal(t, tokensBefore+4+3, r.tokens)

	// rebinding an existing member is not an error
	attempts, err = g.BindUserToOrganization(ctx, org.ID, userID)
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestKeycloakGatewayBindAbortsForDeletedUser(t *testing.T) {
	_, srv := newRealm(t, 100)
	g := newTestGateway(t, srv)
	ctx := context.Background()

	org, err := g.CreateOrganization(ctx, "acme", "Acme Co", "")
	require.NoError(t, err)

	attempts, err := g.BindUserToOrganization(ctx, org.ID, "ghost@acme.test")
	require.ErrorIs(t, err, service.ErrTerminalExternal)
	require.Equal(t, 2, attempts)
}

func TestKeycloakGatewayConflictsAndIdempotentDeletes(t *testing.T) {
	_, srv := newRealm(t, 0)
	g := newTestGateway(t, srv)
	ctx := context.Background()

	userID, err := g.CreateUser(ctx, service.AdminUser{Email: "admin@acme.test", Password: "pw"})
	require.NoError(t, err)
	_, err = g.CreateUser(ctx, service.AdminUser{Email: "admin@acme.test", Password: "pw"})
	require.ErrorIs(t, err, service.ErrConflict)

	_, err = g.CreateOrganization(ctx, "acme", "Acme Co", userID)
	require.NoError(t, err)
	_, err = g.CreateOrganization(ctx, "acme", "Acme Co", userID)
	require.ErrorIs(t, err, service.ErrConflict)

	require.NoError(t, g.DeleteUser(ctx, userID))
	require.NoError(t, g.DeleteUser(ctx, userID))
	require.NoError(t, g.DeleteOrganization(ctx, "acme"))
	require.NoError(t, g.DeleteOrganization(ctx, "acme"))

	exists, err := g.UserExists(ctx, userID)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestClassifyKeycloak(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&keycloak.APIError{StatusCode: http.StatusConflict}, service.ErrConflict},
		{&keycloak.APIError{StatusCode: http.StatusNotFound}, service.ErrNotFound},
		{&keycloak.APIError{StatusCode: http.StatusBadGateway}, service.ErrTransientExternal},
		{&keycloak.APIError{StatusCode: http.StatusForbidden}, service.ErrTerminalExternal},
		{fmt.Errorf("dial: %w", errors.New("connection refused")), service.ErrTransientExternal},
	}
	for _, tc := range cases {
		require.ErrorIs(t, classifyKeycloak("op", tc.err), tc.want)
	}
	require.NoError(t, classifyKeycloak("op", nil))
}

func TestKeycloakGatewayRetryable(t *testing.T) {
	g := &KeycloakGateway{}
	require.True(t, g.Retryable(&keycloak.APIError{StatusCode: http.StatusBadRequest}))
	require.True(t, g.Retryable(&keycloak.APIError{StatusCode: http.StatusServiceUnavailable}))
	require.True(t, g.Retryable(&keycloak.APIError{StatusCode: http.StatusNotFound, Message: "User not found"}))
	require.False(t, g.Retryable(&keycloak.APIError{StatusCode: http.StatusForbidden, Message: "forbidden"}))
	require.True(t, g.Retryable(errors.New("connection reset")))
}
