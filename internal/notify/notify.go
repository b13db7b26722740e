// Package notify delivers best-effort alerts for newly admitted listings.
//
// Delivery is decoupled from admission: a failed notification is retried a
// small fixed number of times, then dropped with a failure receipt. It never
// causes a listing to be processed again.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
	"github.com/BTreeMap/ListingPipe/internal/store"
)

// Dispatcher defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 500 * time.Millisecond
)

// ErrNoChannels is returned by NewDispatcher when no notifier is configured.
var ErrNoChannels = errors.New("no notification channels configured")

// Message is the rendered alert for one listing.
type Message struct {
	Text     string
	ImageURL string
}

// Notifier delivers a message on one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, l models.Listing, msg Message) error
}

// Dispatcher fans a listing out to every notifier with bounded retry.
type Dispatcher struct {
	notifiers   []Notifier
	formatter   Formatter
	receipts    store.ReceiptRepo
	maxAttempts int
	baseBackoff time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts sets the per-channel attempt count (values < 1 mean 1).
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n < 1 {
			n = 1
		}
		d.maxAttempts = n
	}
}

// WithBackoff sets the delay before the second attempt; it doubles afterwards.
func WithBackoff(base time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.baseBackoff = base }
}

// WithFormatter overrides the default TextFormatter.
func WithFormatter(f Formatter) DispatcherOption {
	return func(d *Dispatcher) { d.formatter = f }
}

// WithReceiptRepo records every receipt in repo.
func WithReceiptRepo(repo store.ReceiptRepo) DispatcherOption {
	return func(d *Dispatcher) { d.receipts = repo }
}

// NewDispatcher creates a dispatcher over the given notifiers.
func NewDispatcher(notifiers []Notifier, opts ...DispatcherOption) (*Dispatcher, error) {
	if len(notifiers) == 0 {
		return nil, ErrNoChannels
	}
	d := &Dispatcher{
		notifiers:   notifiers,
		formatter:   TextFormatter{},
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Channels returns the configured channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Notify delivers l on every channel and returns one receipt per channel.
func (d *Dispatcher) Notify(ctx context.Context, l models.Listing) []models.Receipt {
	msg := d.formatter.Format(ctx, l)
	receipts := make([]models.Receipt, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		r := d.deliver(ctx, n, l, msg)
		if d.receipts != nil {
			if err := d.receipts.AddReceipt(ctx, r); err != nil {
				slog.Warn("Dispatcher.Notify: failed to record receipt", "id", l.ID, "channel", r.Channel, "error", err)
			}
		}
		receipts = append(receipts, r)
	}
	return receipts
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, l models.Listing, msg Message) models.Receipt {
	r := models.Receipt{ListingID: l.ID, Channel: n.Name()}
	backoff := d.baseBackoff

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		r.Attempts = attempt
		lastErr = n.Notify(ctx, l, msg)
		if lastErr == nil {
			r.Status = models.DeliveryStatusDelivered
			r.Time = d.now().Unix()
			slog.Debug("Dispatcher.deliver: delivered", "id", l.ID, "channel", r.Channel, "attempts", attempt)
			return r
		}
		if attempt == d.maxAttempts {
			break
		}
		slog.Debug("Dispatcher.deliver: attempt failed, retrying", "id", l.ID, "channel", r.Channel, "attempt", attempt, "error", lastErr)
		if err := d.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	r.Status = models.DeliveryStatusFailed
	r.Reason = lastErr.Error()
	r.Time = d.now().Unix()
	slog.Warn("Dispatcher.deliver: notification dropped", "id", l.ID, "channel", r.Channel, "attempts", r.Attempts, "error", lastErr)
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
