package adapter

import (
	"context"

	"github.com/justapithecus/fedrun/types"
)

// Notifier is a runtime observer that forwards chunk installs to an
// Adapter. Failures and imports are not published.
type Notifier struct {
	adapter Adapter
}

// NewNotifier wraps a.
func NewNotifier(a Adapter) *Notifier {
	return &Notifier{adapter: a}
}

// Observe publishes e if it is a chunk install.
func (n *Notifier) Observe(ctx context.Context, e *types.LoadEvent) error {
	if e.Type != types.LoadEventChunkInstalled {
		return nil
	}
	return n.adapter.Publish(ctx, FromLoadEvent(e))
}

// Close closes the wrapped adapter.
func (n *Notifier) Close() error {
	return n.adapter.Close()
}
