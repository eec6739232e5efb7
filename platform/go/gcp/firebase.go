package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Config locates the Firebase project. Empty fields fall back to Application
// Default Credentials and the project they carry.
type Config struct {
	CredentialsFile string
	ProjectID       string
}

// NewApp creates a Firebase App instance.
func NewApp(ctx context.Context, cfg Config) (*firebase.App, error) {
	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	return firebase.NewApp(ctx, fbConfig, opts...)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client. The
// client verifies ID tokens and, with Identity Platform enabled, manages the
// tenants that back tenant organizations.
func InitFirebaseAuth(ctx context.Context, cfg Config) (*firebase.App, *firebaseauth.Client, error) {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing firebase app [%w]", err)
	}

	fbAuth, err := app.Auth(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing firebase auth [%w]", err)
	}

	return app, fbAuth, nil
}
