package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ActorKind identifies who is acting on an order.
type ActorKind string

const (
	// ActorUser is a signed-in buyer.
	ActorUser ActorKind = "user"
	// ActorGuest is an anonymous buyer identified only by a contact email.
	ActorGuest ActorKind = "guest"
	// ActorStaff is an operator acting through the admin surface.
	ActorStaff ActorKind = "staff"
	// ActorSystem is used for automated transitions.
	ActorSystem ActorKind = "system"
)

// Actor is the already-resolved identity passed into the order core.
type Actor struct {
	Kind  ActorKind
	ID    string
	Email string
}

// IsAuthenticated reports whether the actor carries a verified user id.
func (a Actor) IsAuthenticated() bool {
	return (a.Kind == ActorUser || a.Kind == ActorStaff) && a.ID != ""
}

// IsStaff reports whether the actor acts on behalf of operations.
func (a Actor) IsStaff() bool {
	return a.Kind == ActorStaff && a.ID != ""
}

// Product is the minimal catalog view the order core needs: price, display snapshot and stock counters.
type Product struct {
	ID            string
	Name          string
	Image         string
	Price         int64
	Currency      string
	CountInStock  int
	PurchaseCount int
	UpdatedAt     time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
