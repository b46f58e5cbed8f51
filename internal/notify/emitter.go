// Package notify delivers user-facing outcome messages to subscribers.
//
// Delivery is fire-and-forget: Publish never waits for a subscriber and a subscriber that
// panics is logged and otherwise ignored. Messages published before a subscription are not replayed.
package notify

import (
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/logger"
)

// ChannelEarnDeposit carries the outcome of vault deposits.
const ChannelEarnDeposit = "earnDeposit"

const (
	MessageDepositSucceeded = "Asset successfully deposited"
	MessageDepositFailed    = "Asset deposit has failed"
)

// Message is a single notification.
type Message struct {
	Channel string
	Text    string
}

// Subscriber receives messages of one channel.
type Subscriber func(Message)

// Publisher is what the executor depends on.
type Publisher interface {
	Publish(channel, text string)
}

type subscription struct {
	id uint64
	fn Subscriber
}

// Emitter keeps, per channel, the subscribers in the order they subscribed.
type Emitter struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers map[string][]subscription
	wg          sync.WaitGroup
	log         zerolog.Logger
}

var _ Publisher = (*Emitter)(nil)

func NewEmitter() *Emitter {
	return &Emitter{
		subscribers: map[string][]subscription{},
		log:         logger.GetForComponent("notify"),
	}
}

// Subscribe registers fn on channel and returns a function removing it.
func (e *Emitter) Subscribe(channel string, fn Subscriber) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.subscribers[channel] = append(e.subscribers[channel], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.subscribers[channel] = slices.DeleteFunc(e.subscribers[channel], func(sub subscription) bool {
				return sub.id == id
			})
		})
	}
}

// Publish hands text to every current subscriber of channel, each on its own goroutine.
// Deliveries are started in subscription order.
func (e *Emitter) Publish(channel, text string) {
	e.mu.RLock()
	targets := make([]Subscriber, 0, len(e.subscribers[channel]))
	for _, sub := range e.subscribers[channel] {
		targets = append(targets, sub.fn)
	}
	e.mu.RUnlock()

	msg := Message{Channel: channel, Text: text}
	e.log.Info().Str("channel", channel).Str("text", text).Int("subscribers", len(targets)).Msg("Publishing notification")

	for _, fn := range targets {
		e.wg.Add(1)
		go e.deliver(fn, msg)
	}
}

// Wait blocks until all deliveries started so far have returned. Used at shutdown.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

func (e *Emitter) deliver(fn Subscriber, msg Message) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("channel", msg.Channel).Msg("Notification subscriber panicked")
		}
	}()
	fn(msg)
}
