package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/hanko-field/ordercore/internal/platform/config"
)

// ErrTokenRevoked signals a token issued before the user's sessions were revoked or for a disabled user.
var ErrTokenRevoked = errors.New("auth: firebase id token revoked")

type idTokenClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier checks shopper and operator ID tokens against a Firebase project.
type FirebaseVerifier struct {
	client       idTokenClient
	checkRevoked bool
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithRevocationCheck makes every verification consult the user record, so
// revoked sessions and disabled accounts are rejected at the cost of an extra lookup.
func WithRevocationCheck() FirebaseOption {
	return func(v *FirebaseVerifier) {
		v.checkRevoked = true
	}
}

// NewFirebaseVerifier initialises the Admin SDK auth client for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: init firebase auth client: %w", err)
	}
	return newFirebaseVerifier(client, opts...), nil
}

func newFirebaseVerifier(client idTokenClient, opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// VerifyIDToken decodes idToken. Deadlines come from ctx; the authenticator bounds them.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}
	if strings.TrimSpace(idToken) == "" {
		return nil, ErrTokenInvalid
	}

	var (
		token *firebaseauth.Token
		err   error
	)
	if v.checkRevoked {
		token, err = v.client.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	} else {
		token, err = v.client.VerifyIDToken(ctx, idToken)
	}
	if err != nil {
		return nil, classifyFirebaseError(err)
	}
	return token, nil
}

func classifyFirebaseError(err error) error {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case firebaseauth.IsIDTokenRevoked(err), firebaseauth.IsUserDisabled(err):
		return fmt.Errorf("%w: %v", ErrTokenRevoked, err)
	case firebaseauth.IsIDTokenInvalid(err):
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	default:
		return err
	}
}
