package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

func requestWithTenant(tenantID *string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := platformauth.WithUser(req.Context(), &platformauth.UserCredentials{Id: "user-1", TenantID: tenantID})
	return req.WithContext(ctx)
}

func TestWithTenantScopeSetsTenant(t *testing.T) {
	t.Parallel()

	var seen string
	h := WithTenantScope(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = tenant.IDFromContext(r.Context())
	}))

	id := "acme"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestWithTenant(&id))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "acme", seen)
}

func TestWithTenantScopeRequired(t *testing.T) {
	t.Parallel()

	called := false
	h := WithTenantScope(Config{Required: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestWithTenant(nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, called)
}

func TestWithTenantScopeOptionalShadowsOuterTenant(t *testing.T) {
	t.Parallel()

	var present bool
	h := WithTenantScope(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present = tenant.IDFromContext(r.Context())
	}))

	req := requestWithTenant(nil)
	req = req.WithContext(tenant.WithTenantID(req.Context(), "stale"))
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, present)
}

func TestWithTenantScopeConcurrentRequestsStayIsolated(t *testing.T) {
	t.Parallel()

	h := WithTenantScope(Config{Required: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := tenant.IDFromContext(r.Context())
		_, _ = w.Write([]byte(id))
	}))

	tenants := []string{"acme", "beta", "gamma", "delta"}
	var wg sync.WaitGroup
	errs := make(chan string, 400)
	for i := 0; i < 100; i++ {
		for _, name := range tenants {
			name := name
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, requestWithTenant(&name))
				if rec.Body.String() != name {
					errs <- rec.Body.String() + " != " + name
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("tenant leaked across requests: %s", e)
	}
}
