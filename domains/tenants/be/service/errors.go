package service

import (
	"errors"
	"fmt"
)

// Errors returned by the service layer. Classify with errors.Is.
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("already exists")
	ErrTransientExternal    = errors.New("transient external failure")
	ErrTerminalExternal     = errors.New("terminal external failure")
	ErrDatabaseProvisioning = errors.New("database provisioning failure")
	ErrInvalidInput         = errors.New("invalid input")
	ErrTenantInactive       = errors.New("tenant is not active")
)

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Step names the onboarding step at which provisioning failed.
type Step string

const (
	StepOrgCreation       Step = "ORG_CREATION"
	StepDatabaseCreation  Step = "DATABASE_CREATION"
	StepDatabaseMigration Step = "DATABASE_MIGRATION"
	StepUserCreation      Step = "USER_CREATION"
	StepUserOrgAssignment Step = "USER_ORG_ASSIGNMENT"
	StepRoleAssignment    Step = "ROLE_ASSIGNMENT"
)

// OnboardingError is returned by Orchestrator.Provision. Err is the original
// cause; compensation outcomes never replace it.
type OnboardingError struct {
	Step         Step
	Slug         string
	DatabaseName string
	Err          error
}

func (e *OnboardingError) Error() string {
	if e.DatabaseName != "" {
		return fmt.Sprintf("tenant %s onboarding failed at %s (database %s): %v", e.Slug, e.Step, e.DatabaseName, e.Err)
	}
	return fmt.Sprintf("tenant %s onboarding failed at %s: %v", e.Slug, e.Step, e.Err)
}

func (e *OnboardingError) Unwrap() error { return e.Err }

// FailedStep returns the step carried by err, if any.
func FailedStep(err error) (Step, bool) {
	var oe *OnboardingError
	if errors.As(err, &oe) {
		return oe.Step, true
	}
	return "", false
}
