package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/yoockh/anamnesi/internal/models"
)

// MemoryBroker fans snapshots out inside one process. It is used when no
// Redis is configured. Slow subscribers lose their oldest queued snapshot.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySub]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySub]struct{})}
}

func (b *MemoryBroker) PublishSnapshot(_ context.Context, snap models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[snap.InterviewID] {
		s.deliver(payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, interviewID string) (Subscription, error) {
	s := &memorySub{broker: b, id: interviewID, out: make(chan []byte, 8)}

	b.mu.Lock()
	if b.subs[interviewID] == nil {
		b.subs[interviewID] = make(map[*memorySub]struct{})
	}
	b.subs[interviewID][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (b *MemoryBroker) remove(s *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[s.id]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.id)
	}
	close(s.out)
}

type memorySub struct {
	broker *MemoryBroker
	id     string
	out    chan []byte
	once   sync.Once
}

// deliver runs under the broker's read lock, so out is never closed
// concurrently.
func (s *memorySub) deliver(payload []byte) {
	for {
		select {
		case s.out <- payload:
			return
		default:
		}
		select {
		case <-s.out:
		default:
		}
	}
}

func (s *memorySub) Messages() <-chan []byte { return s.out }

func (s *memorySub) Close() error {
	s.once.Do(func() { s.broker.remove(s) })
	return nil
}
