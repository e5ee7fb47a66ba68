// Package notify announces finished stages to the recipients listed in the
// run configuration. Delivery is left to the Notifier implementation.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoRecipients is returned when Notify is called with an empty list.
var ErrNoRecipients = errors.New("no notification recipients")

// Message describes a finished stage.
type Message struct {
	Module  string
	Elapsed time.Duration
}

// Subject renders the one-line summary sent to recipients.
func (m Message) Subject() string {
	return fmt.Sprintf("%s finished after %d seconds", m.Module, int(m.Elapsed.Seconds()))
}

// Notifier delivers a message to recipients.
type Notifier interface {
	Notify(ctx context.Context, recipients []string, msg Message) error
}

// LogNotifier writes notifications to the run log instead of sending them.
type LogNotifier struct {
	Log *slog.Logger
}

// Notify logs msg once per recipient.
func (n LogNotifier) Notify(_ context.Context, recipients []string, msg Message) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	for _, r := range recipients {
		n.Log.Info("notification", "to", r, "subject", msg.Subject())
	}
	return nil
}

// Recorder keeps every notification in memory.
type Recorder struct {
	Sent []Sent
}

// Sent is one recorded notification.
type Sent struct {
	Recipients []string
	Message    Message
}

// Notify records the call.
func (r *Recorder) Notify(_ context.Context, recipients []string, msg Message) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	r.Sent = append(r.Sent, Sent{Recipients: append([]string(nil), recipients...), Message: msg})
	return nil
}
