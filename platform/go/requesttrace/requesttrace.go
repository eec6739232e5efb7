package requesttrace

import (
	"context"
	"errors"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/palmyra-tenancy/platform/go/auth"
)

type contextKey string

const (
	ctxActor contextKey = "PALMYRA_REQUEST_ACTOR"
)

// ActorKind represents who initiated an operation.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// Actor identifies who started a request or background operation. Provisioning
// and status changes log it so onboarding runs can be traced to an operator.
// UserID is set only for ActorKindUser.
type Actor struct {
	Kind      ActorKind
	UserID    string
	Email     string
	TenantID  string
	RequestID string
}

// IntoContext stores the Actor in the provided context.
func IntoContext(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxActor, actor)
}

// FromContext extracts the Actor from context, returning false when not present.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ctxActor).(Actor)
	return actor, ok
}

// FromContextOrAnonymous returns the Actor stored on the context, or an anonymous actor when absent.
func FromContextOrAnonymous(ctx context.Context) Actor {
	if actor, ok := FromContext(ctx); ok {
		return actor
	}
	return Anonymous("")
}

// FromCredentials builds an Actor from authenticated user credentials and a request ID.
func FromCredentials(creds *platformauth.UserCredentials, requestID string) (Actor, error) {
	if creds == nil {
		return Actor{}, errors.New("credentials are required to build actor")
	}
	if creds.Id == "" {
		return Actor{}, errors.New("user id is required to build actor")
	}

	actor := Actor{Kind: ActorKindUser, UserID: creds.Id, Email: creds.Email, RequestID: requestID}
	if creds.TenantID != nil {
		actor.TenantID = *creds.TenantID
	}
	return actor, nil
}

// Anonymous builds an Actor for unauthenticated requests.
func Anonymous(requestID string) Actor {
	return Actor{Kind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an Actor for CLI and background operations such as the pool warmer.
func System(requestID string) Actor {
	return Actor{Kind: ActorKindSystem, RequestID: requestID}
}

// Fields renders the actor as log fields, skipping empty values. The request
// ID is left to the request logger.
func (a Actor) Fields() []zap.Field {
	fields := []zap.Field{zap.String("actor_kind", string(a.Kind))}
	if a.UserID != "" {
		fields = append(fields, zap.String("actor_id", a.UserID))
	}
	if a.Email != "" {
		fields = append(fields, zap.String("actor_email", a.Email))
	}
	return fields
}
