package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/routing"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

type mockProvisioner struct {
	provisionFn func(ctx context.Context, req service.ProvisionRequest) (service.Tenant, error)
}

func (m *mockProvisioner) Provision(ctx context.Context, req service.ProvisionRequest) (service.Tenant, error) {
	if m.provisionFn == nil {
		panic("provisionFn not configured")
	}
	return m.provisionFn(ctx, req)
}

type stubDatabases struct {
	migrated []string
	err      error
}

func (s *stubDatabases) EnsureDatabase(ctx context.Context, name string) error { return nil }

func (s *stubDatabases) Migrate(ctx context.Context, name string) ([]string, error) {
	return s.migrated, s.err
}

type fixture struct {
	repo   *repo.MemoryRepository
	dbs    *stubDatabases
	prov   *mockProvisioner
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	memory := repo.NewMemoryRepository()
	dbs := &stubDatabases{}
	prov := &mockProvisioner{}
	svc := service.New(memory, service.NewDirectory(memory, logger), dbs, logger)

	h, err := New(svc, prov, nil, logger)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/api/v1/admin", h.AdminRoutes)
	return &fixture{repo: memory, dbs: dbs, prov: prov, router: r}
}

func (f *fixture) seed(t *testing.T, slug string, status service.Status) service.Tenant {
	t.Helper()
	now := time.Now().UTC()
	created, err := f.repo.Create(context.Background(), service.Tenant{
		ID:           uuid.New(),
		Slug:         slug,
		DisplayName:  strings.ToUpper(slug),
		Status:       status,
		Tier:         "standard",
		DatabaseName: "tenant_" + strings.ReplaceAll(slug, "-", "_"),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.Equal(t, rec.Code, p.Status)
	return p
}

const validProvisionBody = `{
	"tenantName": "Acme Labs",
	"slug": "acme-labs",
	"tier": "pro",
	"limits": {"maxUsers": 50, "maxStorageGB": 20},
	"adminUser": {"email": "admin@acme.test", "password": "s3cret-pass", "firstName": "Ada"}
}`

func TestTenantsProvisionCreated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := uuid.New()
	var got service.ProvisionRequest
	f.prov.provisionFn = func(ctx context.Context, req service.ProvisionRequest) (service.Tenant, error) {
		got = req
		return service.Tenant{ID: id, Slug: req.Slug, DisplayName: req.TenantName, Status: service.StatusActive, Tier: req.Tier, DatabaseName: "acme_labs", Limits: req.Limits}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/admin/tenants", validProvisionBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/api/v1/admin/tenants/"+id.String(), rec.Header().Get("Location"))

	var body tenantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "acme_labs", body.DatabaseName)
	require.Equal(t, 50, body.Limits.MaxUsers)

	require.Equal(t, "acme-labs", got.Slug)
	require.Equal(t, "admin@acme.test", got.AdminUser.Email)
	require.Equal(t, "Ada", got.AdminUser.FirstName)
	require.Equal(t, 20, got.Limits.MaxStorageGB)
}

func TestTenantsProvisionRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		body  string
		field string
	}{
		"empty":          {body: "", field: ""},
		"malformed json": {body: `{"slug":`, field: ""},
		"bad slug":       {body: strings.Replace(validProvisionBody, `"acme-labs"`, `"Acme Labs!"`, 1), field: "/slug"},
		"short password": {body: strings.Replace(validProvisionBody, `"s3cret-pass"`, `"short"`, 1), field: "/adminUser/password"},
		"bad email":      {body: strings.Replace(validProvisionBody, `"admin@acme.test"`, `"not-an-email"`, 1), field: "/adminUser/email"},
		"unknown field":  {body: `{"tenantName":"x","slug":"x","adminUser":{"email":"a@b.co","password":"12345678"},"extra":1}`, field: "/"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/api/v1/admin/tenants", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			p := decodeProblem(t, rec)
			require.Equal(t, problemTypeValidation, p.Type)
			if tc.field != "" {
				require.Contains(t, p.Errors, tc.field)
			}
		})
	}
}

func TestTenantsProvisionMapsSagaErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err    error
		status int
		step   string
	}{
		"invalid input": {
			err:    fmt.Errorf("%w: tenant name is required", service.ErrInvalidInput),
			status: http.StatusBadRequest,
		},
		"slug exists": {
			err:    fmt.Errorf("%w: tenant slug acme-labs", service.ErrConflict),
			status: http.StatusConflict,
		},
		"user exists": {
			err:    &service.OnboardingError{Step: service.StepUserCreation, Slug: "acme-labs", Err: service.ErrConflict},
			status: http.StatusConflict,
			step:   "USER_CREATION",
		},
		"migration failed": {
			err:    &service.OnboardingError{Step: service.StepDatabaseMigration, Slug: "acme-labs", DatabaseName: "acme_labs", Err: service.ErrDatabaseProvisioning},
			status: http.StatusBadGateway,
			step:   "DATABASE_MIGRATION",
		},
		"bind gave up": {
			err:    &service.OnboardingError{Step: service.StepUserOrgAssignment, Slug: "acme-labs", Err: service.ErrTerminalExternal},
			status: http.StatusBadGateway,
			step:   "USER_ORG_ASSIGNMENT",
		},
		"unexpected": {
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.prov.provisionFn = func(ctx context.Context, req service.ProvisionRequest) (service.Tenant, error) {
				return service.Tenant{}, tc.err
			}

			rec := f.do(t, http.MethodPost, "/api/v1/admin/tenants", validProvisionBody)
			require.Equal(t, tc.status, rec.Code)

			p := decodeProblem(t, rec)
			require.Equal(t, tc.step, p.Step)
			if tc.status == http.StatusInternalServerError {
				require.NotContains(t, p.Detail, "boom")
			}
		})
	}
}

func TestTenantsProvisionReportsDatabaseLeftBehind(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.prov.provisionFn = func(ctx context.Context, req service.ProvisionRequest) (service.Tenant, error) {
		return service.Tenant{}, &service.OnboardingError{Step: service.StepDatabaseMigration, Slug: req.Slug, DatabaseName: "acme_labs", Err: errors.New("syntax error")}
	}

	rec := f.do(t, http.MethodPost, "/api/v1/admin/tenants", validProvisionBody)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	p := decodeProblem(t, rec)
	require.Equal(t, "acme_labs", p.Database)
	require.Equal(t, "/api/v1/admin/tenants", p.Instance)
}

func TestTenantsListAndGet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	acme := f.seed(t, "acme", service.StatusActive)
	f.seed(t, "globex", service.StatusSuspended)

	rec := f.do(t, http.MethodGet, "/api/v1/admin/tenants?status=suspended&pageSize=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.TotalItems)
	require.Equal(t, 5, list.PageSize)
	require.Equal(t, "globex", list.Items[0].Slug)

	for _, identifier := range []string{acme.ID.String(), "acme", "ACME"} {
		rec = f.do(t, http.MethodGet, "/api/v1/admin/tenants/"+identifier, "")
		require.Equal(t, http.StatusOK, rec.Code, identifier)
		var got tenantResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Equal(t, acme.ID.String(), got.TenantID)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/admin/tenants/initech", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	decodeProblem(t, rec)
}

func TestTenantsListRejectsBadQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, query := range []string{"page=0", "pageSize=101", "pageSize=x", "status=archived"} {
		rec := f.do(t, http.MethodGet, "/api/v1/admin/tenants?"+query, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestTenantsUpdateStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "acme", service.StatusActive)

	rec := f.do(t, http.MethodPatch, "/api/v1/admin/tenants/acme/status", `{"status":"suspended"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got tenantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "suspended", got.Status)

	rec = f.do(t, http.MethodPatch, "/api/v1/admin/tenants/acme/status", `{"status":"archived"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/v1/admin/tenants/acme/status", `{"status":"deleted"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/v1/admin/tenants/acme/status", `{"status":"active"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTenantsMigrations(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seed(t, "acme", service.StatusActive)
	f.dbs.migrated = []string{"0001", "0002"}

	rec := f.do(t, http.MethodPost, "/api/v1/admin/tenants/acme/migrations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var applied migrateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	require.Equal(t, []string{"0001", "0002"}, applied.Applied)

	rec = f.do(t, http.MethodGet, "/api/v1/admin/tenants/acme/migrations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Items []migrationResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Items, 2)
	require.Equal(t, "success", history.Items[0].Status)

	f.dbs.migrated, f.dbs.err = nil, errors.New("lock timeout")
	rec = f.do(t, http.MethodPost, "/api/v1/admin/tenants/acme/migrations", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestTenantDatabaseWithoutRouting(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	memory := repo.NewMemoryRepository()
	svc := service.New(memory, service.NewDirectory(memory, logger), &stubDatabases{}, logger)
	h, err := New(svc, &mockProvisioner{}, nil, logger)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.TenantDatabase(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tenant/database", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type unreachablePools struct {
	kinds   []routing.OperationKind
	tenants []string
}

func (u *unreachablePools) PoolFor(ctx context.Context, kind routing.OperationKind) (*pgxpool.Pool, error) {
	id, _ := tenant.IDFromContext(ctx)
	u.kinds = append(u.kinds, kind)
	u.tenants = append(u.tenants, id)
	return nil, errors.New("connection refused")
}

func TestDatabaseEndpointsUseTheirRoutingKind(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	memory := repo.NewMemoryRepository()
	svc := service.New(memory, service.NewDirectory(memory, logger), &stubDatabases{}, logger)
	pools := &unreachablePools{}
	h, err := New(svc, &mockProvisioner{}, pools, logger)
	require.NoError(t, err)

	scoped := httptest.NewRequest(http.MethodGet, "/api/v1/tenant/database", nil)
	scoped = scoped.WithContext(tenant.WithTenantID(scoped.Context(), "acme"))
	rec := httptest.NewRecorder()
	h.TenantDatabase(rec, scoped)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.SessionDatabase(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session/database", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "connection refused")

	require.Equal(t, []routing.OperationKind{routing.KindTenantData, routing.KindSession}, pools.kinds)
	require.Equal(t, []string{"acme", ""}, pools.tenants)
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	memory := repo.NewMemoryRepository()
	svc := service.New(memory, service.NewDirectory(memory, logger), &stubDatabases{}, logger)

	_, err := New(nil, &mockProvisioner{}, nil, logger)
	require.Error(t, err)
	_, err = New(svc, nil, nil, logger)
	require.Error(t, err)
	_, err = New(svc, &mockProvisioner{}, nil, nil)
	require.Error(t, err)
}
