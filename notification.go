package credo

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// NoOpNotifier is a [NotificationSink] that silently discards every delivery.
type NoOpNotifier struct{}

func (NoOpNotifier) Deliver(context.Context, string, string) error { return nil }

// WriterNotifier is a [NotificationSink] that writes the recipient and code
// to an io.Writer. It is the fallback delivery channel for non-production
// contexts where no mail transport is wired, surfacing the code on a console
// or log instead of dropping it.
type WriterNotifier struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{writer: w}
}

func (n *WriterNotifier) Deliver(_ context.Context, email, code string) error {
	if n == nil || n.writer == nil {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	_, err := fmt.Fprintf(n.writer, "recovery code for %s: %s (single use, expires in 1 hour)\n", email, code)
	return err
}
