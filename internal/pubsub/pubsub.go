// Package pubsub fans interview snapshots out to connected clients.
package pubsub

import (
	"context"

	"github.com/yoockh/anamnesi/internal/models"
)

type Subscription interface {
	// Messages yields snapshot JSON payloads until the subscription is closed.
	Messages() <-chan []byte
	Close() error
}

type Broker interface {
	PublishSnapshot(ctx context.Context, snap models.Snapshot) error
	Subscribe(ctx context.Context, interviewID string) (Subscription, error)
}

func SnapshotChannel(interviewID string) string {
	return "interview:" + interviewID + ":snapshot"
}
