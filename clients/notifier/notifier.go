package notifier

import "context"

// Notifier is the interface for delivering rendered alerts to a channel.
type Notifier interface {
	// Deliver sends the rendered text to one recipient. userID is the
	// channel-specific recipient identifier.
	Deliver(ctx context.Context, userID string, text string) error

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts deliveries to multiple notifiers. A failure in one
// notifier does not stop delivery through the others.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	// Filter out nil notifiers
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// Deliver sends the text through all registered notifiers and returns the
// last error seen, if any.
func (m *MultiNotifier) Deliver(ctx context.Context, userID string, text string) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Deliver(ctx, userID, text); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}
