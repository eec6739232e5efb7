package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/domains/tenants/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/retry"
)

// Binder is one identity provider's membership surface.
type Binder interface {
	// BindOnce makes a single bind call with fresh credentials.
	BindOnce(ctx context.Context, orgID, userID string) error
	// UserExists checks the user directly, without the membership endpoint.
	UserExists(ctx context.Context, userID string) (bool, error)
	// Retryable reports whether a BindOnce failure may clear once the
	// provider has indexed the user.
	Retryable(err error) bool
}

var notYetVisible = []string{"user does not exist", "user not found", "not found", "invalid user"}

// messageLooksNotYetVisible matches the provider messages seen while a new
// user is still being indexed.
func messageLooksNotYetVisible(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range notYetVisible {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// BindWithRetry binds userID to orgID, retrying failures b classifies as
// retryable under policy. Before every retry the user is re-verified; if it is
// gone the loop stops. It returns the attempts made. Errors wrap
// service.ErrTerminalExternal, including an exhausted attempt ceiling.
func BindWithRetry(ctx context.Context, b Binder, orgID, userID string, policy retry.Policy, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("organization_id", orgID), zap.String("user_id", userID))

	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			exists, err := b.UserExists(ctx, userID)
			switch {
			case err != nil:
				return fmt.Errorf("%w: verify user: %w", service.ErrTransientExternal, err)
			case !exists:
				return retry.Permanent(fmt.Errorf("%w: user %s no longer exists", service.ErrTerminalExternal, userID))
			}
		}

		err := b.BindOnce(ctx, orgID, userID)
		switch {
		case err == nil:
			return nil
		case b.Retryable(err):
			return fmt.Errorf("%w: bind user: %w", service.ErrTransientExternal, err)
		default:
			return retry.Permanent(fmt.Errorf("%w: bind user: %w", service.ErrTerminalExternal, err))
		}
	}, func(attempt int, err error, wait time.Duration) {
		logger.Warn("membership bind failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err == nil {
		return attempts, nil
	}
	if errors.Is(err, service.ErrTerminalExternal) {
		return attempts, err
	}
	return attempts, fmt.Errorf("%w: gave up after %d attempts: %w", service.ErrTerminalExternal, attempts, err)
}
