package handler

import (
	"time"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

// problem is an RFC 7807 problem document. Step and Database carry the failed
// onboarding step and the database left behind, when there is one.
type problem struct {
	Type     string              `json:"type"`
	Title    string              `json:"title"`
	Status   int                 `json:"status"`
	Detail   string              `json:"detail,omitempty"`
	Instance string              `json:"instance,omitempty"`
	Step     string              `json:"step,omitempty"`
	Database string              `json:"database,omitempty"`
	Errors   map[string][]string `json:"errors,omitempty"`
}

type provisionBody struct {
	TenantName string          `json:"tenantName"`
	Slug       string          `json:"slug"`
	Tier       string          `json:"tier"`
	Limits     *service.Limits `json:"limits"`
	Metadata   map[string]any  `json:"metadata"`
	AdminUser  struct {
		Email         string `json:"email"`
		Password      string `json:"password"`
		FirstName     string `json:"firstName"`
		LastName      string `json:"lastName"`
		EmailVerified bool   `json:"emailVerified"`
	} `json:"adminUser"`
}

type statusBody struct {
	Status string `json:"status"`
}

type tenantResponse struct {
	TenantID         string         `json:"tenantId"`
	Slug             string         `json:"slug"`
	TenantName       string         `json:"tenantName"`
	Status           string         `json:"status"`
	Tier             string         `json:"tier"`
	DatabaseName     string         `json:"databaseName"`
	ConnectionString string         `json:"connectionString,omitempty"`
	Limits           service.Limits `json:"limits"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

type listResponse struct {
	Items      []tenantResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
}

type migrationResponse struct {
	ID        string    `json:"migrationId"`
	Version   string    `json:"version"`
	AppliedAt time.Time `json:"appliedAt"`
	Status    string    `json:"status"`
}

type migrateResponse struct {
	Tenant  string   `json:"tenant"`
	Applied []string `json:"applied"`
}

func toTenantResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		TenantID:         t.ID.String(),
		Slug:             t.Slug,
		TenantName:       t.DisplayName,
		Status:           string(t.Status),
		Tier:             t.Tier,
		DatabaseName:     t.DatabaseName,
		ConnectionString: t.ConnectionString,
		Limits:           t.Limits,
		Metadata:         t.Metadata,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}
