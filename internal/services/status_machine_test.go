package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/platform/textutil"
)

func TestStatusMachineDelivered(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})

	updated, err := core.machine.Transition(context.Background(), TransitionCommand{
		OrderID: order.ID,
		Status:  "delivered",
		Note:    "left with concierge",
		Actor:   staff("op-1"),
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !updated.IsDelivered || updated.DeliveredAt == nil {
		t.Fatalf("expected delivered flags, got %+v", updated)
	}
	last := updated.StatusHistory[len(updated.StatusHistory)-1]
	if last.Status != domain.OrderStatusDelivered || last.Note != "left with concierge" {
		t.Fatalf("unexpected history entry %+v", last)
	}
	if !last.Timestamp.Equal(*updated.DeliveredAt) {
		t.Fatalf("delivered timestamp %v does not match history %v", updated.DeliveredAt, last.Timestamp)
	}
}

func TestStatusMachineRejectsUnknownStatus(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})

	_, err := core.machine.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Status: "teleported"})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	stored, _ := core.registry.OrderStore.FindByID(context.Background(), order.ID)
	if len(stored.StatusHistory) != 1 || stored.Status != domain.OrderStatusPending {
		t.Fatalf("order must be untouched, got %+v", stored)
	}
}

func TestStatusMachineHistoryIsAppendOnly(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})
	ctx := context.Background()

	steps := []string{"confirmed", "processing", "Packaging", "pending", "shipped", "cancelled"}
	var snapshots [][]domain.StatusHistoryEntry
	for _, status := range steps {
		updated, err := core.machine.Transition(ctx, TransitionCommand{OrderID: order.ID, Status: status})
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
		snapshots = append(snapshots, updated.StatusHistory)
	}

	final := snapshots[len(snapshots)-1]
	if len(final) != len(steps)+1 {
		t.Fatalf("expected %d history entries, got %d", len(steps)+1, len(final))
	}
	for i := 1; i < len(final); i++ {
		if final[i].Timestamp.Before(final[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
	}
	for _, snapshot := range snapshots {
		for i, entry := range snapshot {
			if entry != final[i] {
				t.Fatalf("history entry %d rewritten: %+v vs %+v", i, entry, final[i])
			}
		}
	}
	if final[3].Status != domain.OrderStatusPackaging {
		t.Fatalf("expected case-insensitive status parsing, got %s", final[3].Status)
	}
}

func TestStatusMachineSetsTrackingAndNotifiesOnShipment(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})
	before := len(core.registry.NotificationStore.All())

	tracking := " JP123456789 "
	eta := time.Date(2025, 3, 20, 0, 0, 0, 0, time.FixedZone("JST", 9*3600))
	updated, err := core.machine.Transition(context.Background(), TransitionCommand{
		OrderID:               order.ID,
		Status:                "shipped",
		TrackingNumber:        &tracking,
		EstimatedDeliveryDate: &eta,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.TrackingNumber != "JP123456789" {
		t.Fatalf("unexpected tracking number %q", updated.TrackingNumber)
	}
	if updated.EstimatedDeliveryDate == nil || !updated.EstimatedDeliveryDate.Equal(eta) {
		t.Fatalf("unexpected eta %v", updated.EstimatedDeliveryDate)
	}

	all := core.registry.NotificationStore.All()
	if len(all) != before+1 {
		t.Fatalf("expected one status notification, got %d new", len(all)-before)
	}
	if _, err := core.machine.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Status: "in_transit"}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(core.registry.NotificationStore.All()) != before+1 {
		t.Fatalf("in_transit must not notify")
	}
}

func TestStatusMachineSanitizesNotes(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})
	machine, err := NewStatusMachine(StatusMachineDeps{
		Orders:    core.registry.Orders(),
		Sanitizer: textutil.NewPlainTextSanitizer(),
	})
	if err != nil {
		t.Fatalf("new status machine: %v", err)
	}

	updated, err := machine.Transition(context.Background(), TransitionCommand{
		OrderID: order.ID,
		Status:  "confirmed",
		Note:    `<script>alert(1)</script>checked <b>stock</b>`,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if note := updated.StatusHistory[len(updated.StatusHistory)-1].Note; note != "checked stock" {
		t.Fatalf("expected markup stripped, got %q", note)
	}
}

func TestStatusMachineCountsTrackingNumberInCharacters(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})

	// 64 three-byte characters: 192 bytes but within the limit.
	multibyte := strings.Repeat("追", maxTrackingNumberLength)
	updated, err := core.machine.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Status: "shipped", TrackingNumber: &multibyte})
	if err != nil {
		t.Fatalf("expected %d characters to be accepted, got %v", maxTrackingNumberLength, err)
	}
	if updated.TrackingNumber != multibyte {
		t.Fatalf("unexpected tracking number %q", updated.TrackingNumber)
	}

	tooLong := multibyte + "A"
	if _, err := core.machine.Transition(context.Background(), TransitionCommand{OrderID: order.ID, Status: "in_transit", TrackingNumber: &tooLong}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected %d characters to be rejected, got %v", maxTrackingNumberLength+1, err)
	}
}

func TestStatusMachineStrictMode(t *testing.T) {
	core := newOrderCore(t)
	order := core.place(t, buyer("user-1"), CreateOrderItem{ProductID: "prod-seal", Quantity: 1})
	machine, err := NewStatusMachine(StatusMachineDeps{Orders: core.registry.Orders(), Strict: true})
	if err != nil {
		t.Fatalf("new status machine: %v", err)
	}
	ctx := context.Background()

	if _, err := machine.Transition(ctx, TransitionCommand{OrderID: order.ID, Status: "shipped"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected skip to be rejected, got %v", err)
	}
	if _, err := machine.Transition(ctx, TransitionCommand{OrderID: order.ID, Status: "confirmed"}); err != nil {
		t.Fatalf("forward step rejected: %v", err)
	}
	if _, err := machine.Transition(ctx, TransitionCommand{OrderID: order.ID, Status: "cancelled"}); err != nil {
		t.Fatalf("cancel rejected: %v", err)
	}
	if _, err := machine.Transition(ctx, TransitionCommand{OrderID: order.ID, Status: "processing"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected cancelled to be terminal for forward moves, got %v", err)
	}

	next := machine.AllowedNext(domain.OrderStatusShipped)
	want := map[domain.OrderStatus]bool{
		domain.OrderStatusInTransit: true,
		domain.OrderStatusReturned:  true,
		domain.OrderStatusRefunded:  true,
	}
	if len(next) != len(want) {
		t.Fatalf("unexpected allowed next %v", next)
	}
	for _, status := range next {
		if !want[status] {
			t.Fatalf("unexpected allowed status %s", status)
		}
	}
}

func TestStatusMachinePermissiveAllowsAnyKnownStatus(t *testing.T) {
	core := newOrderCore(t)
	if got := len(core.machine.AllowedNext(domain.OrderStatusDelivered)); got != 13 {
		t.Fatalf("expected all 13 statuses, got %d", got)
	}
	if _, err := core.machine.Transition(context.Background(), TransitionCommand{OrderID: "missing", Status: "shipped"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
