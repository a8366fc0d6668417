package auth

import (
	"context"
	"errors"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubIDTokenClient struct {
	plainCalls   int
	revokedCalls int
	err          error
}

func (s *stubIDTokenClient) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.plainCalls++
	if s.err != nil {
		return nil, s.err
	}
	return &firebaseauth.Token{UID: idToken}, nil
}

func (s *stubIDTokenClient) VerifyIDTokenAndCheckRevoked(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.revokedCalls++
	if s.err != nil {
		return nil, s.err
	}
	return &firebaseauth.Token{UID: idToken}, nil
}

func TestFirebaseVerifierUsesRevocationCheckWhenEnabled(t *testing.T) {
	client := &stubIDTokenClient{}
	verifier := newFirebaseVerifier(client, WithRevocationCheck())

	token, err := verifier.VerifyIDToken(context.Background(), "user-aiko")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token.UID != "user-aiko" {
		t.Fatalf("unexpected uid %q", token.UID)
	}
	if client.revokedCalls != 1 || client.plainCalls != 0 {
		t.Fatalf("expected revocation-checked call, got plain=%d revoked=%d", client.plainCalls, client.revokedCalls)
	}
}

func TestFirebaseVerifierRejectsBlankToken(t *testing.T) {
	client := &stubIDTokenClient{}
	verifier := newFirebaseVerifier(client)

	if _, err := verifier.VerifyIDToken(context.Background(), "  "); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if client.plainCalls != 0 {
		t.Fatalf("blank token should not reach the SDK")
	}
}

func TestFirebaseVerifierPassesThroughUnknownErrors(t *testing.T) {
	boom := errors.New("backend unavailable")
	verifier := newFirebaseVerifier(&stubIDTokenClient{err: boom})

	_, err := verifier.VerifyIDToken(context.Background(), "token")
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenExpired) {
		t.Fatalf("unclassified error should not map to token sentinels: %v", err)
	}
}

func TestNilFirebaseVerifier(t *testing.T) {
	var verifier *FirebaseVerifier
	if _, err := verifier.VerifyIDToken(context.Background(), "token"); err == nil {
		t.Fatal("expected error from nil verifier")
	}
}
