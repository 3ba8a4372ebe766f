// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kvdb

import (
	"context"
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/luxfi/ledger/backend"
)

const (
	feedBufferSize = 64

	// maxQueuedChanges is how far a subscriber may fall behind before its
	// subscription ends with a Resync change.
	maxQueuedChanges = 4096
)

// feed fans committed changes out to subscribers. Every subscriber attaches
// its own handler to the bus topic of its collection. Publishing never
// blocks on a slow subscriber: each one queues changes for its own
// goroutine to deliver.
type feed struct {
	bus       evbus.Bus
	maxQueued int

	lock   sync.Mutex
	subs   map[backend.Collection]map[*subscriber]struct{}
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func newFeed(collections []backend.Collection) *feed {
	f := &feed{
		bus:       evbus.New(),
		maxQueued: maxQueuedChanges,
		subs:      make(map[backend.Collection]map[*subscriber]struct{}, len(collections)),
		done:      make(chan struct{}),
	}
	for _, coll := range collections {
		f.subs[coll] = make(map[*subscriber]struct{})
	}
	return f
}

// publish must be called while the gateway write lock is held so that every
// subscriber observes changes in commit order.
func (f *feed) publish(coll backend.Collection, change backend.Change) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.bus.Publish(string(coll), change)
}

func (f *feed) subscribe(ctx context.Context, coll backend.Collection) (<-chan backend.Change, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.closed {
		return nil, backend.ErrClosed
	}
	subs, ok := f.subs[coll]
	if !ok {
		return nil, backend.ErrUnknownCollection
	}
	sub := &subscriber{
		out:       make(chan backend.Change, feedBufferSize),
		wake:      make(chan struct{}, 1),
		maxQueued: f.maxQueued,
	}
	if err := f.bus.Subscribe(string(coll), sub.push); err != nil {
		return nil, err
	}
	subs[sub] = struct{}{}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		sub.pump(ctx, f.done)

		f.detach(coll, sub)
		close(sub.out)
	}()
	return sub.out, nil
}

// detach removes the handler of [sub] from the bus. The bus tells handlers
// apart by their code only, so every handler of the topic is removed and
// those of the remaining subscribers are attached again.
func (f *feed) detach(coll backend.Collection, sub *subscriber) {
	f.lock.Lock()
	defer f.lock.Unlock()

	topic := string(coll)
	subs := f.subs[coll]
	for range subs {
		_ = f.bus.Unsubscribe(topic, sub.push)
	}
	delete(subs, sub)
	for live := range subs {
		_ = f.bus.Subscribe(topic, live.push)
	}
}

func (f *feed) close() {
	f.lock.Lock()
	if f.closed {
		f.lock.Unlock()
		return
	}
	f.closed = true
	close(f.done)
	f.lock.Unlock()

	f.wg.Wait()
}

type subscriber struct {
	out       chan backend.Change
	wake      chan struct{}
	maxQueued int

	lock       sync.Mutex
	queue      []backend.Change
	overflowed bool
}

// push queues [change]. Once the queue is full the queued changes are
// dropped and the subscription is ended with a Resync change.
func (s *subscriber) push(change backend.Change) {
	s.lock.Lock()
	switch {
	case s.overflowed:
	case len(s.queue) >= s.maxQueued:
		s.queue = nil
		s.overflowed = true
	default:
		s.queue = append(s.queue, change)
	}
	s.lock.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump(ctx context.Context, done <-chan struct{}) {
	for {
		s.lock.Lock()
		pending, overflowed := s.queue, s.overflowed
		s.queue = nil
		s.lock.Unlock()

		if overflowed {
			select {
			case s.out <- backend.Change{Op: backend.Resync}:
			case <-ctx.Done():
			case <-done:
			}
			return
		}

		for _, change := range pending {
			select {
			case s.out <- change:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}
