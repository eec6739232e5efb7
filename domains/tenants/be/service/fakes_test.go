package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/repo"
	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
)

var errBoom = errors.New("boom")

// fakeIdentity records calls and fails on demand.
type fakeIdentity struct {
	mu sync.Mutex

	users map[string]service.AdminUser
	orgs  map[string]string
	roles map[string]string

	memberBound bool
	bindTries   int

	failCreateUser error
	failCreateOrg  error
	failBind       error
	failRole       error
	failDeleteUser error
	failDeleteOrg  error

	deletedUsers []string
	deletedOrgs  []string
	calls        []string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		users:     make(map[string]service.AdminUser),
		orgs:      make(map[string]string),
		roles:     make(map[string]string),
		bindTries: 1,
	}
}

func (f *fakeIdentity) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeIdentity) CreateUser(_ context.Context, user service.AdminUser) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_user")
	if f.failCreateUser != nil {
		return "", f.failCreateUser
	}
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return "", fmt.Errorf("%w: user %s", service.ErrConflict, user.Email)
		}
	}
	id := "user-" + uuid.NewString()[:8]
	f.users[id] = user
	return id, nil
}

func (f *fakeIdentity) DeleteUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete_user")
	if f.failDeleteUser != nil {
		return f.failDeleteUser
	}
	delete(f.users, userID)
	f.deletedUsers = append(f.deletedUsers, userID)
	return nil
}

func (f *fakeIdentity) CreateOrganization(_ context.Context, alias, _ string, _ string) (service.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_organization")
	if f.failCreateOrg != nil {
		return service.Organization{}, f.failCreateOrg
	}
	id := "org-" + alias
	f.orgs[id] = alias
	return service.Organization{ID: id, MemberBound: f.memberBound}, nil
}

func (f *fakeIdentity) DeleteOrganization(_ context.Context, orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete_organization")
	if f.failDeleteOrg != nil {
		return f.failDeleteOrg
	}
	delete(f.orgs, orgID)
	f.deletedOrgs = append(f.deletedOrgs, orgID)
	return nil
}

func (f *fakeIdentity) BindUserToOrganization(_ context.Context, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("bind")
	return f.bindTries, f.failBind
}

func (f *fakeIdentity) AssignRole(_ context.Context, orgID, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("assign_role")
	if f.failRole != nil {
		return f.failRole
	}
	f.roles[orgID+"/"+userID] = role
	return nil
}

// fakeDatabases tracks databases and applied versions.
type fakeDatabases struct {
	mu        sync.Mutex
	databases map[string][]string
	versions  []string

	failEnsure  error
	failMigrate error
	migrated    []string
}

func newFakeDatabases() *fakeDatabases {
	return &fakeDatabases{
		databases: make(map[string][]string),
		versions:  []string{"0001", "0002", "0003"},
	}
}

func (f *fakeDatabases) EnsureDatabase(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnsure != nil {
		return f.failEnsure
	}
	if _, ok := f.databases[name]; !ok {
		f.databases[name] = nil
	}
	return nil
}

func (f *fakeDatabases) Migrate(_ context.Context, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.migrated = append(f.migrated, name)
	if f.failMigrate != nil {
		return nil, f.failMigrate
	}
	applied, ok := f.databases[name]
	if !ok {
		return nil, fmt.Errorf("database %s does not exist", name)
	}
	fresh := append([]string(nil), f.versions[len(applied):]...)
	f.databases[name] = append(applied, fresh...)
	return fresh, nil
}

func (f *fakeDatabases) exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.databases[name]
	return ok
}

// flakyRepo wraps the memory repository and injects catalog failures.
type flakyRepo struct {
	*repo.MemoryRepository

	failCreate           error
	failRecordMigrations error
	failDelete           error
	gets                 int
	mu                   sync.Mutex
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{MemoryRepository: repo.NewMemoryRepository()}
}

func (r *flakyRepo) Create(ctx context.Context, t service.Tenant) (service.Tenant, error) {
	if r.failCreate != nil {
		return service.Tenant{}, r.failCreate
	}
	return r.MemoryRepository.Create(ctx, t)
}

func (r *flakyRepo) RecordMigrations(ctx context.Context, id uuid.UUID, versions []string) ([]service.Migration, error) {
	if r.failRecordMigrations != nil {
		return nil, r.failRecordMigrations
	}
	return r.MemoryRepository.RecordMigrations(ctx, id, versions)
}

func (r *flakyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if r.failDelete != nil {
		return r.failDelete
	}
	return r.MemoryRepository.Delete(ctx, id)
}

func (r *flakyRepo) FindBySlug(ctx context.Context, slug string) (service.Tenant, error) {
	r.mu.Lock()
	r.gets++
	r.mu.Unlock()
	return r.MemoryRepository.FindBySlug(ctx, slug)
}

func (r *flakyRepo) lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}
