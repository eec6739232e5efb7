package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	platformlogging "github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/routing"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/tenant"
)

const (
	problemTypeValidation = "https://palmyra.pro/problems/validation-error"
	problemTypeNotFound   = "https://palmyra.pro/problems/not-found"
	problemTypeConflict   = "https://palmyra.pro/problems/conflict"
	problemTypeForbidden  = "https://palmyra.pro/problems/forbidden"
	problemTypeUpstream   = "https://palmyra.pro/problems/provisioning-failed"
	problemTypeInternal   = "https://palmyra.pro/problems/internal-error"
)

// Provisioner runs the onboarding saga.
type Provisioner interface {
	Provision(ctx context.Context, req service.ProvisionRequest) (service.Tenant, error)
}

// PoolProvider selects the pool backing an operation.
type PoolProvider interface {
	PoolFor(ctx context.Context, kind routing.OperationKind) (*pgxpool.Pool, error)
}

// Handler serves the tenant admin API and the routed data-plane endpoints.
type Handler struct {
	svc         *service.Service
	provisioner Provisioner
	pools       PoolProvider
	validator   *validator
	logger      *zap.Logger
}

// New constructs a Handler instance. pools may be nil; the data-plane
// endpoints then answer 500.
func New(svc *service.Service, provisioner Provisioner, pools PoolProvider, logger *zap.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("tenants service is required")
	}
	if provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	return &Handler{svc: svc, provisioner: provisioner, pools: pools, validator: v, logger: logger}, nil
}

// AdminRoutes mounts /tenants under r.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Route("/tenants", func(r chi.Router) {
		r.Get("/", h.TenantsList)
		r.Post("/", h.TenantsProvision)
		r.Route("/{tenant}", func(r chi.Router) {
			r.Get("/", h.TenantsGet)
			r.Patch("/status", h.TenantsUpdateStatus)
			r.Get("/migrations", h.TenantsListMigrations)
			r.Post("/migrations", h.TenantsRunMigrations)
		})
	})
}

// TenantsList implements GET /admin/tenants
func (h *Handler) TenantsList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		h.writeProblem(w, r, http.StatusBadRequest, problem{Type: problemTypeValidation, Title: "Invalid query", Detail: err.Error()})
		return
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]tenantResponse, 0, len(result.Tenants))
	for _, t := range result.Tenants {
		items = append(items, toTenantResponse(t))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

// TenantsProvision implements POST /admin/tenants
func (h *Handler) TenantsProvision(w http.ResponseWriter, r *http.Request) {
	var body provisionBody
	if err := h.validator.decode(w, r, provisionSchema, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	req := service.ProvisionRequest{
		TenantName: body.TenantName,
		Slug:       body.Slug,
		Tier:       body.Tier,
		Metadata:   body.Metadata,
		AdminUser: service.AdminUser{
			Email:         body.AdminUser.Email,
			Password:      body.AdminUser.Password,
			FirstName:     body.AdminUser.FirstName,
			LastName:      body.AdminUser.LastName,
			EmailVerified: body.AdminUser.EmailVerified,
		},
	}
	if body.Limits != nil {
		req.Limits = *body.Limits
	}

	t, err := h.provisioner.Provision(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/admin/tenants/%s", t.ID))
	writeJSON(w, http.StatusCreated, toTenantResponse(t))
}

// TenantsGet implements GET /admin/tenants/{tenant}
func (h *Handler) TenantsGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// TenantsUpdateStatus implements PATCH /admin/tenants/{tenant}/status
func (h *Handler) TenantsUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := h.validator.decode(w, r, statusSchema, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	t, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "tenant"), service.Status(body.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// TenantsRunMigrations implements POST /admin/tenants/{tenant}/migrations
func (h *Handler) TenantsRunMigrations(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "tenant")
	applied, err := h.svc.RunMigrations(r.Context(), identifier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if applied == nil {
		applied = []string{}
	}
	writeJSON(w, http.StatusOK, migrateResponse{Tenant: identifier, Applied: applied})
}

// TenantsListMigrations implements GET /admin/tenants/{tenant}/migrations
func (h *Handler) TenantsListMigrations(w http.ResponseWriter, r *http.Request) {
	history, err := h.svc.ListMigrations(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]migrationResponse, 0, len(history))
	for _, m := range history {
		items = append(items, migrationResponse{ID: m.ID.String(), Version: m.Version, AppliedAt: m.AppliedAt, Status: m.Status})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// TenantDatabase implements GET /tenant/database: it reports which database
// the caller's tenant context routes to.
func (h *Handler) TenantDatabase(w http.ResponseWriter, r *http.Request) {
	h.reportDatabase(w, r, routing.KindTenantData)
}

// SessionDatabase implements GET /session/database. Callers without a tenant,
// or whose tenant cannot be resolved, are answered from the control plane.
func (h *Handler) SessionDatabase(w http.ResponseWriter, r *http.Request) {
	h.reportDatabase(w, r, routing.KindSession)
}

func (h *Handler) reportDatabase(w http.ResponseWriter, r *http.Request, kind routing.OperationKind) {
	if h.pools == nil {
		h.writeError(w, r, errors.New("routing is not configured"))
		return
	}

	pool, err := h.pools.PoolFor(r.Context(), kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var database string
	if err := pool.QueryRow(r.Context(), "SELECT current_database()").Scan(&database); err != nil {
		h.writeError(w, r, fmt.Errorf("query %s database: %w", kind, err))
		return
	}

	identifier, _ := tenant.IDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"tenant": identifier, "database": database})
}

func listOptions(r *http.Request) (service.ListOptions, error) {
	opts := service.ListOptions{Page: 1, PageSize: 20}
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("page must be a positive integer")
		}
		opts.Page = n
	}
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return opts, fmt.Errorf("pageSize must be between 1 and 100")
		}
		opts.PageSize = n
	}
	if v := q.Get("status"); v != "" {
		status, err := service.ParseStatus(v)
		if err != nil {
			return opts, err
		}
		opts.Status = &status
	}
	return opts, nil
}

// writeError maps err onto a problem response.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		bodyErr *bodyError
		oerr    *service.OnboardingError
	)
	switch {
	case errors.As(err, &bodyErr):
		h.writeProblem(w, r, http.StatusBadRequest, problem{Type: problemTypeValidation, Title: "Invalid request body", Detail: bodyErr.detail, Errors: bodyErr.fields})
	case errors.Is(err, service.ErrInvalidInput):
		h.writeProblem(w, r, http.StatusBadRequest, problem{Type: problemTypeValidation, Title: "Invalid request", Detail: err.Error()})
	case errors.Is(err, tenant.ErrTenantContextMissing):
		h.writeProblem(w, r, http.StatusBadRequest, problem{Type: problemTypeValidation, Title: "Tenant required", Detail: err.Error()})
	case errors.Is(err, service.ErrTenantInactive):
		h.writeProblem(w, r, http.StatusForbidden, problem{Type: problemTypeForbidden, Title: "Tenant inactive", Detail: err.Error()})
	case errors.Is(err, service.ErrNotFound):
		h.writeProblem(w, r, http.StatusNotFound, problem{Type: problemTypeNotFound, Title: "Not found", Detail: err.Error()})
	case errors.Is(err, service.ErrConflict):
		p := problem{Type: problemTypeConflict, Title: "Conflict", Detail: err.Error()}
		if errors.As(err, &oerr) {
			p.Step = string(oerr.Step)
		}
		h.writeProblem(w, r, http.StatusConflict, p)
	case errors.As(err, &oerr):
		h.logFailure(r, "tenant provisioning failed", err)
		h.writeProblem(w, r, http.StatusBadGateway, problem{
			Type:     problemTypeUpstream,
			Title:    "Provisioning failed",
			Detail:   err.Error(),
			Step:     string(oerr.Step),
			Database: oerr.DatabaseName,
		})
	case errors.Is(err, service.ErrDatabaseProvisioning), errors.Is(err, service.ErrTransientExternal), errors.Is(err, service.ErrTerminalExternal):
		h.logFailure(r, "tenant operation failed upstream", err)
		h.writeProblem(w, r, http.StatusBadGateway, problem{Type: problemTypeUpstream, Title: "Upstream failure", Detail: err.Error()})
	default:
		h.logFailure(r, "tenant operation failed", err)
		h.writeProblem(w, r, http.StatusInternalServerError, problem{Type: problemTypeInternal, Title: "Internal error", Detail: "internal error"})
	}
}

func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	platformlogging.FromRequest(r, h.logger).Error(msg, zap.Error(err))
}

func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, status int, p problem) {
	p.Status = status
	p.Instance = r.URL.Path
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		platformlogging.FromRequest(r, h.logger).Warn("write problem response", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
