package service

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Ledger records the side effects committed by one provisioning run so a
// failure can be compensated in reverse order. It lives only for the run and
// is appended to by the single goroutine driving it.
type Ledger struct {
	UserID            string
	OrganizationID    string
	DatabaseName      string
	DatabaseEnsured   bool
	MigrationsApplied []string
	TenantRecordID    uuid.UUID

	logger *zap.Logger
}

func newLedger(logger *zap.Logger) *Ledger {
	return &Ledger{logger: logger}
}

func (l *Ledger) append(effect string, fields ...zap.Field) {
	l.logger.Info("provisioning side effect recorded", append([]zap.Field{zap.String("effect", effect)}, fields...)...)
}

func (l *Ledger) userCreated(id string) {
	l.UserID = id
	l.append("user", zap.String("user_id", id))
}

func (l *Ledger) organizationCreated(id string) {
	l.OrganizationID = id
	l.append("organization", zap.String("organization_id", id))
}

func (l *Ledger) databaseEnsured(name string) {
	l.DatabaseName = name
	l.DatabaseEnsured = true
	l.append("database", zap.String("database", name))
}

func (l *Ledger) migrationsApplied(versions []string) {
	l.MigrationsApplied = append(l.MigrationsApplied, versions...)
	l.append("migrations", zap.Strings("versions", versions))
}

func (l *Ledger) tenantPersisted(id uuid.UUID) {
	l.TenantRecordID = id
	l.append("tenant_record", zap.String("tenant_id", id.String()))
}

// Empty reports whether nothing needs compensating.
func (l *Ledger) Empty() bool {
	return l.UserID == "" && l.OrganizationID == "" && l.TenantRecordID == uuid.Nil && !l.DatabaseEnsured
}
