package queue

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Subscription is a cancellable queue-position subscription. Release may be
// called any number of times; the underlying resource is freed exactly once.
type Subscription struct {
	C       <-chan IndexUpdate
	release func()
	once    sync.Once
}

// NewSubscription wraps an update channel with a release callback. The
// callback runs at most once regardless of how often Release is called.
func NewSubscription(c <-chan IndexUpdate, release func()) *Subscription {
	return &Subscription{C: c, release: release}
}

func (s *Subscription) Release() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// IndexReader reports a ceremony's currentIndex on demand.
type IndexReader interface {
	CurrentIndex(ctx context.Context, ceremonyID string) (int, error)
}

// Coordinator translates server-visible turn progress into a single
// activation per participant: when the ceremony's currentIndex reaches the
// participant's queueIndex, the subscription is released and the waiter is
// activated. Activation is delivered at most once per circuit even if
// further updates arrive.
type Coordinator struct {
	listener   Listener
	reader     IndexReader
	ceremonyID string
	queueIndex int
}

func NewCoordinator(listener Listener, reader IndexReader, ceremonyID string, queueIndex int) *Coordinator {
	return &Coordinator{
		listener:   listener,
		reader:     reader,
		ceremonyID: ceremonyID,
		queueIndex: queueIndex,
	}
}

// Await blocks until it is this participant's turn, the subscription closes,
// or the context is cancelled. The subscription is always released before
// Await returns, so a stale participant context can never be acted on.
func (c *Coordinator) Await(ctx context.Context) error {
	sub, err := c.listener.Subscribe(ctx, c.ceremonyID)
	if err != nil {
		return errors.Wrap(err, "failed to subscribe to queue position")
	}
	defer sub.Release()

	// An index that advanced before the subscription existed never
	// arrives on the channel, so the current value is checked once after
	// subscribing.
	current, err := c.reader.CurrentIndex(ctx, c.ceremonyID)
	if err != nil {
		return errors.Wrap(err, "failed to read current queue index")
	}
	if current == c.queueIndex {
		sub.Release()
		log.Debug().
			Str("ceremony_id", c.ceremonyID).
			Int("queue_index", c.queueIndex).
			Msg("Queue position already reached, activating participant")
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "queue wait cancelled")
		case update, ok := <-sub.C:
			if !ok {
				return errors.New("queue subscription closed before activation")
			}
			if update.CurrentIndex == c.queueIndex {
				// Unsubscribe first so no further update can re-activate.
				sub.Release()
				log.Debug().
					Str("ceremony_id", c.ceremonyID).
					Int("queue_index", c.queueIndex).
					Msg("Queue position reached, activating participant")
				return nil
			}
		}
	}
}
