package auth

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/tripdesk/api/internal/platform/config"
)

// FirebaseClient verifies ID tokens and reads user records through the Admin SDK.
// It satisfies both TokenVerifier and ProfileLoader.
type FirebaseClient struct {
	client *firebaseauth.Client
}

// NewFirebaseClient initialises the Admin SDK for the configured project.
func NewFirebaseClient(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseClient, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}
	return &FirebaseClient{client: client}, nil
}

// VerifyIDToken checks the signature and expiry of a Firebase ID token.
func (c *FirebaseClient) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return c.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads the user record for uid.
func (c *FirebaseClient) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	return c.client.GetUser(ctx, uid)
}
