// Package notify fans operator alerts (cycles, rejected payouts, failed
// sweeps) out to chat webhooks. Each event type can be filtered and every
// sender is rate limited so a burst of cycles cannot flood a channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, n Notification) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notification is one alert as handed to a Sender.
type Notification struct {
	Event   string
	Title   string
	Message string
}

// Options tunes a Notifier.
type Options struct {
	// Events lists the event types to forward. Entries ending in "*" match
	// by prefix. Empty forwards everything.
	Events []string
	// PerMinute caps deliveries per sender; 0 disables the cap.
	PerMinute int
}

type limitedSender struct {
	Sender
	limiter *rate.Limiter
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders  []limitedSender
	exact    map[string]bool
	prefixes []string
	logger   *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, opts Options, logger *slog.Logger) *Notifier {
	n := &Notifier{
		exact:  make(map[string]bool),
		logger: logger.With(slog.String("component", "notifier")),
	}
	for _, e := range opts.Events {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
		case strings.HasSuffix(e, "*"):
			n.prefixes = append(n.prefixes, strings.TrimSuffix(e, "*"))
		default:
			n.exact[e] = true
		}
	}
	for _, s := range senders {
		ls := limitedSender{Sender: s}
		if opts.PerMinute > 0 {
			ls.limiter = rate.NewLimiter(rate.Limit(float64(opts.PerMinute)/60), opts.PerMinute)
		}
		n.senders = append(n.senders, ls)
	}
	return n
}

// Allows reports whether event passes the configured filter.
func (n *Notifier) Allows(event string) bool {
	if len(n.exact) == 0 && len(n.prefixes) == 0 {
		return true
	}
	if n.exact[event] {
		return true
	}
	for _, p := range n.prefixes {
		if strings.HasPrefix(event, p) {
			return true
		}
	}
	return false
}

// Notify sends a notification to all senders if the event type passes the
// filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Allows(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, Notification{Event: event, Title: title, Message: message})
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, Notification{Event: "broadcast", Title: title, Message: message})
}

// dispatch delivers to every sender. A single sender failure does not
// prevent delivery to the rest; all failures are joined.
func (n *Notifier) dispatch(ctx context.Context, msg Notification) error {
	var errs []error
	for _, s := range n.senders {
		if s.limiter != nil && !s.limiter.Allow() {
			n.logger.WarnContext(ctx, "notification dropped by rate limit",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
			)
			continue
		}
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
