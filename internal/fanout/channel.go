// ABOUTME: Channel-backed subscriber adapter for streaming transports
// ABOUTME: Buffered delivery with drop-on-full; errors only once closed

package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each streaming subscriber.
const subscriberBufferSize = 64

// ErrSubscriberClosed is returned by Send after the subscriber is closed.
var ErrSubscriberClosed = errors.New("subscriber closed")

// ChannelSubscriber adapts a buffered channel to the Subscriber interface.
// The SSE and WebSocket handlers drain Ch and write to their transport.
type ChannelSubscriber struct {
	id string
	ch chan []byte

	mu     sync.Mutex
	closed bool
}

// NewChannelSubscriber creates a subscriber that is automatically closed
// when ctx is cancelled.
func NewChannelSubscriber(ctx context.Context) *ChannelSubscriber {
	s := &ChannelSubscriber{
		id: uuid.New().String(),
		ch: make(chan []byte, subscriberBufferSize),
	}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s
}

func (s *ChannelSubscriber) ID() string { return s.id }

// Send enqueues data for the transport writer. A full buffer drops the
// event (slow subscribers miss events rather than blocking publishers);
// a closed subscriber returns an error so the fanout removes it.
func (s *ChannelSubscriber) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.ch <- data:
	default:
	}
	return nil
}

// Events returns the delivery channel. It is closed when the subscriber is.
func (s *ChannelSubscriber) Events() <-chan []byte {
	return s.ch
}

// Close marks the subscriber dead and closes the delivery channel.
// Safe to call multiple times.
func (s *ChannelSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
