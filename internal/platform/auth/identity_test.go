package auth

import (
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

func TestNewIdentityFromToken(t *testing.T) {
	token := &firebaseauth.Token{
		UID:      "staff-1",
		Firebase: firebaseauth.FirebaseInfo{SignInProvider: "google.com"},
		Claims: map[string]any{
			"email":          " ops@example.com ",
			"email_verified": true,
			"role":           []any{"Staff", "staff", "user"},
		},
	}
	identity := newIdentity(token, "role")
	if identity.Email != "ops@example.com" || !identity.EmailVerified || identity.SignInProvider != "google.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 2 || !identity.HasRole(" STAFF ") {
		t.Fatalf("expected de-duplicated roles, got %v", identity.Roles)
	}
	if actor := identity.Actor(); actor.Kind != domain.ActorStaff || actor.ID != "staff-1" {
		t.Fatalf("expected staff actor, got %+v", actor)
	}

	buyer := newIdentity(&firebaseauth.Token{UID: "buyer-1", Claims: map[string]any{}}, "role")
	if !buyer.HasRole(RoleUser) || buyer.Actor().Kind != domain.ActorUser {
		t.Fatalf("expected default user role, got %+v", buyer)
	}
	var anonymous *Identity
	if anonymous.HasAnyRole(RoleUser) || anonymous.Actor().Kind != domain.ActorGuest {
		t.Fatal("nil identity is a guest without roles")
	}
}
