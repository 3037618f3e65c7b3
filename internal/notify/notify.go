// Package notify pushes committed notifications to live listeners. Delivery is
// best effort: publishers log failures and never return them, so a slow or
// absent listener cannot fail a workflow operation.
package notify

import (
	"context"

	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

// Publisher delivers a stored notification to whoever is listening.
type Publisher interface {
	Publish(ctx context.Context, n *repository.Notification)
}

// Fanout publishes to every wrapped publisher in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, n *repository.Notification) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, n)
		}
	}
}

// Nop discards every notification.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, *repository.Notification) {}
