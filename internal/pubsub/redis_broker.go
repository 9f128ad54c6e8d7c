package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/anamnesi/internal/models"
)

// RedisBroker publishes snapshots on Redis pub/sub so that any replica
// holding a client's WebSocket can forward them.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) PublishSnapshot(ctx context.Context, snap models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, SnapshotChannel(snap.InterviewID), payload).Err()
}

// Subscribe returns once Redis has confirmed the subscription, so snapshots
// published afterwards are not missed.
func (b *RedisBroker) Subscribe(ctx context.Context, interviewID string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, SnapshotChannel(interviewID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	s := &redisSub{ps: ps, out: make(chan []byte, 8), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *redisSub) pump() {
	defer close(s.out)
	for m := range s.ps.Channel() {
		select {
		case s.out <- []byte(m.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) Messages() <-chan []byte { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
