// Package auth verifies the caller's identity. The verified subject is the
// passenger session id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Identity is a verified caller.
type Identity struct {
	Subject string
	Claims  map[string]any
}

// TokenVerifier checks a bearer token.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Identity, error)
}

// NewFirebaseApp builds the Admin SDK app shared by auth and push.
// An empty credentialsFile falls back to application default credentials.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	return app, nil
}

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens.
type FirebaseVerifier struct {
	client idTokenVerifier
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Identity, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Identity{Subject: token.UID, Claims: token.Claims}, nil
}

// SessionHeader carries the session id when no verifier is configured.
const SessionHeader = "X-Session-ID"

// Authenticator resolves the session id of a request.
type Authenticator struct {
	Verifier TokenVerifier
}

// SessionID returns the bearer token's subject when a verifier is set and
// the X-Session-ID header otherwise.
func (a *Authenticator) SessionID(r *http.Request) (string, error) {
	if a == nil || a.Verifier == nil {
		id := strings.TrimSpace(r.Header.Get(SessionHeader))
		if id == "" {
			return "", ErrMissingCredentials
		}
		return id, nil
	}
	token, ok := bearer(r)
	if !ok {
		return "", ErrMissingCredentials
	}
	ident, err := a.Verifier.VerifyIDToken(r.Context(), token)
	if err != nil {
		return "", err
	}
	return ident.Subject, nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

type ctxKey struct{}

func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func SessionFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
