package services

import (
	"context"
	"errors"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/ordercore/internal/domain"
	"github.com/hanko-field/ordercore/internal/repositories"
)

const (
	defaultDispatchBatchSize       = 20
	defaultDispatchMaxAttempts     = 5
	defaultDispatchLease           = time.Minute
	defaultDispatchBackoffStart    = 30 * time.Second
	defaultDispatchBackoffMax      = 30 * time.Minute
	maxNotificationErrorLength     = 512
	notificationDispatchInstrument = "ordercore.notifications.dispatched"
)

// NotificationDispatcherDeps enumerates collaborators required to construct the dispatcher.
type NotificationDispatcherDeps struct {
	Notifications  repositories.NotificationRepository
	Sender         NotificationSender
	MaxAttempts    int
	Lease          time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Meter          metric.Meter
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type notificationDispatcher struct {
	repo        repositories.NotificationRepository
	sender      NotificationSender
	maxAttempts int
	lease       time.Duration
	backoff     gax.Backoff
	outcomes    metric.Int64Counter
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewNotificationDispatcher wires the outbox and a sender into a NotificationDispatcher.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification dispatcher: notification repository is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("notification dispatcher: sender is required")
	}

	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultDispatchMaxAttempts
	}
	lease := deps.Lease
	if lease <= 0 {
		lease = defaultDispatchLease
	}
	initial := deps.BackoffInitial
	if initial <= 0 {
		initial = defaultDispatchBackoffStart
	}
	maxBackoff := deps.BackoffMax
	if maxBackoff < initial {
		maxBackoff = defaultDispatchBackoffMax
		if maxBackoff < initial {
			maxBackoff = initial
		}
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter("github.com/hanko-field/ordercore/services")
	}
	outcomes, err := meter.Int64Counter(notificationDispatchInstrument,
		metric.WithDescription("Count of notification dispatch attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationDispatcher{
		repo:        deps.Notifications,
		sender:      deps.Sender,
		maxAttempts: maxAttempts,
		lease:       lease,
		backoff:     gax.Backoff{Initial: initial, Max: maxBackoff, Multiplier: 2},
		outcomes:    outcomes,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// DispatchDue sends every due notification once. Entries claimed by another worker are skipped.
func (d *notificationDispatcher) DispatchDue(ctx context.Context, limit int) (DispatchResult, error) {
	if limit <= 0 {
		limit = defaultDispatchBatchSize
	}

	due, err := d.repo.ListDue(ctx, d.clock(), limit)
	if err != nil {
		return DispatchResult{}, mapRepositoryError(err)
	}

	result := DispatchResult{Due: len(due)}
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		claimed, err := d.repo.Claim(ctx, candidate.ID, d.clock(), d.lease)
		if err != nil {
			if isRepoConflict(err) {
				result.Skipped++
				d.record(ctx, "skipped")
				continue
			}
			return result, mapRepositoryError(err)
		}

		sendErr := d.sender.SendNotification(ctx, claimed)
		now := d.clock()
		claimed.LeaseUntil = nil
		claimed.UpdatedAt = now
		claimed.Attempts++

		outcome := "sent"
		switch {
		case sendErr == nil:
			claimed.Status = domain.NotificationStatusSent
			claimed.SentAt = &now
			claimed.LastError = ""
			result.Sent++
		case claimed.Attempts >= d.maxAttempts:
			claimed.Status = domain.NotificationStatusFailed
			claimed.LastError = truncateError(sendErr)
			result.Failed++
			outcome = "failed"
		default:
			claimed.Status = domain.NotificationStatusPending
			claimed.LastError = truncateError(sendErr)
			claimed.NextAttemptAt = now.Add(d.retryDelay(claimed.Attempts))
			result.Retried++
			outcome = "retried"
		}

		if sendErr != nil {
			d.logger(ctx, "notification.dispatch.failed", map[string]any{
				"notificationId": claimed.ID,
				"orderId":        claimed.OrderID,
				"kind":           string(claimed.Kind),
				"attempts":       claimed.Attempts,
				"status":         string(claimed.Status),
				"error":          sendErr.Error(),
			})
		}

		if err := d.repo.Save(ctx, claimed); err != nil {
			d.logger(ctx, "notification.dispatch.save_failed", map[string]any{
				"notificationId": claimed.ID,
				"error":          err.Error(),
			})
			return result, mapRepositoryError(err)
		}
		d.record(ctx, outcome)
	}

	if result.Due > 0 {
		d.logger(ctx, "notification.dispatch.completed", map[string]any{
			"due":     result.Due,
			"sent":    result.Sent,
			"retried": result.Retried,
			"failed":  result.Failed,
			"skipped": result.Skipped,
		})
	}
	return result, nil
}

// Run dispatches on every tick until ctx is cancelled.
func (d *notificationDispatcher) Run(ctx context.Context, interval time.Duration, batch int) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchDue(ctx, batch); err != nil && !errors.Is(err, context.Canceled) {
				d.logger(ctx, "notification.dispatch.pass_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// retryDelay walks a fresh exponential backoff to the attempt count. gax jitters each step.
func (d *notificationDispatcher) retryDelay(attempts int) time.Duration {
	bo := gax.Backoff{Initial: d.backoff.Initial, Max: d.backoff.Max, Multiplier: d.backoff.Multiplier}
	var delay time.Duration
	for i := 0; i < attempts; i++ {
		delay = bo.Pause()
	}
	return delay
}

func (d *notificationDispatcher) record(ctx context.Context, outcome string) {
	d.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func truncateError(err error) string {
	msg := strings.TrimSpace(err.Error())
	if len(msg) > maxNotificationErrorLength {
		return msg[:maxNotificationErrorLength]
	}
	return msg
}
