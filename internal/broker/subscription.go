package broker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message is one raw pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription is a live set of channel subscriptions feeding one handler.
type Subscription struct {
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	done     chan struct{}
	closeErr error
	once     sync.Once
}

// Subscribe subscribes to channels and calls handler for every message from a
// single goroutine. It returns once redis has confirmed the subscription, so
// messages published afterwards are not missed.
func (b *Broker) Subscribe(ctx context.Context, channels []string, handler func(Message)) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	ch := pubsub.Channel()

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(Message{Channel: msg.Channel, Payload: []byte(msg.Payload)})
			}
		}
	}()

	b.log.Debug("subscribed", zap.Strings("channels", channels))
	return s, nil
}

// Close unsubscribes and waits for the dispatch goroutine to exit. It is safe to
// call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.closeErr = s.pubsub.Close()
		<-s.done
	})
	return s.closeErr
}
