package auth

import (
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"

	domain "github.com/hanko-field/ordercore/internal/domain"
)

const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// Identity is the verified Firebase principal behind a request.
type Identity struct {
	UID            string
	Email          string
	EmailVerified  bool
	SignInProvider string
	// Roles are lower-cased and unique; every identity has at least RoleUser.
	Roles          []string
}

func newIdentity(token *firebaseauth.Token, roleClaim string) *Identity {
	identity := &Identity{UID: token.UID}
	if email, ok := token.Claims["email"].(string); ok {
		identity.Email = strings.TrimSpace(email)
	}
	identity.EmailVerified, _ = token.Claims["email_verified"].(bool)
	identity.SignInProvider = token.Firebase.SignInProvider
	identity.Roles = rolesFromClaim(token.Claims[roleClaim])
	if len(identity.Roles) == 0 {
		identity.Roles = []string{RoleUser}
	}
	return identity
}

func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Roles, strings.ToLower(strings.TrimSpace(role)))
}

func (i *Identity) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// Actor maps the identity onto an order actor. Staff and admin act as operators.
func (i *Identity) Actor() domain.Actor {
	switch {
	case i == nil || i.UID == "":
		return domain.Actor{Kind: domain.ActorGuest}
	case i.HasAnyRole(RoleStaff, RoleAdmin):
		return domain.Actor{Kind: domain.ActorStaff, ID: i.UID, Email: i.Email}
	default:
		return domain.Actor{Kind: domain.ActorUser, ID: i.UID, Email: i.Email}
	}
}

// rolesFromClaim accepts "staff", ["staff", "user"] or {"staff": true}.
func rolesFromClaim(raw any) []string {
	var roles []string
	add := func(role string) {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}

	switch v := raw.(type) {
	case string:
		add(v)
	case []string:
		for _, item := range v {
			add(item)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case map[string]any:
		for key, enabled := range v {
			if on, _ := enabled.(bool); on {
				add(key)
			}
		}
	}
	return roles
}
