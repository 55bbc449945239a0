// Package transport is an in-process message bus. Topics carry messages from publishers to any
// number of subscribers through bounded queues, and services carry a request to a single handler
// and its response back to the caller.
package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/utils"
)

// ErrEmptyName is returned when subscribing to, advertising or calling an empty name. Components
// treat an empty name in their configuration as "disabled" and never reach the bus with it.
var ErrEmptyName = errors.New("topic or service name must not be empty")

// Bus routes messages between components of one process.
type Bus struct {
	logger logging.Logger

	mu       sync.RWMutex
	topics   map[string][]*Subscription
	services map[string]*Service
}

// NewBus returns an empty bus.
func NewBus(logger logging.Logger) *Bus {
	return &Bus{
		logger:   logger,
		topics:   map[string][]*Subscription{},
		services: map[string]*Service{},
	}
}

// A Subscription delivers the messages of one topic to one handler, in order, on its own
// goroutine.
type Subscription struct {
	bus     *Bus
	topic   string
	queue   chan interface{}
	deliver func(ctx context.Context, msg interface{})

	cancelCtx  context.Context
	cancelFunc func()
	done       chan struct{}
	dropped    atomic.Int64
}

// Subscribe delivers every message published on topic to handler. Up to queueSize messages wait
// while the handler is busy; newer messages are dropped when the queue is full. Messages that are
// not of type T are dropped.
func Subscribe[T any](bus *Bus, topic string, queueSize int, handler func(ctx context.Context, msg T)) (*Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyName
	}
	if queueSize < 1 {
		queueSize = 1
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	sub := &Subscription{
		bus:        bus,
		topic:      topic,
		queue:      make(chan interface{}, queueSize),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		done:       make(chan struct{}),
	}
	sub.deliver = func(ctx context.Context, msg interface{}) {
		typed, ok := msg.(T)
		if !ok {
			bus.logger.Warnw("dropping message of unexpected type", "topic", topic, "error", utils.NewUnexpectedTypeError(typed, msg))
			return
		}
		handler(ctx, typed)
	}

	bus.mu.Lock()
	bus.topics[topic] = append(bus.topics[topic], sub)
	bus.mu.Unlock()

	goutils.PanicCapturingGo(sub.run)
	return sub, nil
}

func (sub *Subscription) run() {
	defer close(sub.done)
	for {
		select {
		case <-sub.cancelCtx.Done():
			return
		case msg := <-sub.queue:
			if sub.cancelCtx.Err() != nil {
				return
			}
			sub.deliver(sub.cancelCtx, msg)
		}
	}
}

func (sub *Subscription) offer(msg interface{}) bool {
	if sub.cancelCtx.Err() != nil {
		return false
	}
	select {
	case sub.queue <- msg:
		return true
	default:
		sub.dropped.Inc()
		return false
	}
}

// Topic returns the subscribed topic.
func (sub *Subscription) Topic() string {
	return sub.topic
}

// Dropped returns how many messages were dropped because the queue was full.
func (sub *Subscription) Dropped() int64 {
	return sub.dropped.Load()
}

// Unsubscribe stops delivery. It does not wait for a handler that is already running, so it is
// safe to call from inside a handler. Calling it more than once is a no-op.
func (sub *Subscription) Unsubscribe() {
	sub.cancelFunc()
	sub.bus.mu.Lock()
	defer sub.bus.mu.Unlock()
	subs := sub.bus.topics[sub.topic]
	for i, other := range subs {
		if other == sub {
			sub.bus.topics[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(sub.bus.topics[sub.topic]) == 0 {
		delete(sub.bus.topics, sub.topic)
	}
}

// Done is closed once the delivery goroutine has exited after Unsubscribe.
func (sub *Subscription) Done() <-chan struct{} {
	return sub.done
}

// Publish offers msg to every subscriber of topic without blocking and returns how many accepted
// it.
func (bus *Bus) Publish(topic string, msg interface{}) int {
	bus.mu.RLock()
	subs := append([]*Subscription(nil), bus.topics[topic]...)
	bus.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.offer(msg) {
			delivered++
		} else if sub.cancelCtx.Err() == nil {
			bus.logger.Debugw("subscriber queue full, dropping message", "topic", topic)
		}
	}
	return delivered
}

// NumSubscribers returns the number of live subscriptions on topic.
func (bus *Bus) NumSubscribers(topic string) int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.topics[topic])
}
