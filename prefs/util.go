package prefs

import (
	"context"
	"os"
	"os/signal"
	"slices"
	"sync"
	"time"
)

// closes the current notify channel on each `NotifyAll` and replaces it
type Monitor struct {
	mutex  sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.update
}

// returns the channel that will be closed on the next notify
func (self *Monitor) NotifyAll() chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	close(self.update)
	self.update = make(chan struct{})
	return self.update
}

type callbackEntry[T any] struct {
	callbackId uint64
	callback   T
}

// makes a copy of the list on update
// funcs are not comparable, so callbacks are removed by the id returned from `Add`
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId uint64
	callbacks      []callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: []callbackEntry[T]{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbacks))
	for _, entry := range self.callbacks {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

func (self *CallbackList[T]) Add(callback T) uint64 {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.nextCallbackId += 1
	callbackId := self.nextCallbackId
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callbackEntry[T]{
		callbackId: callbackId,
		callback:   callback,
	})
	self.callbacks = nextCallbacks
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId uint64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.callbacks, func(entry callbackEntry[T]) bool {
		return entry.callbackId == callbackId
	})
	if i < 0 {
		// not present
		return
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

// cancels its context on any of the registered signals
type Event struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewEventWithContext(ctx context.Context) *Event {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Event{
		ctx:    cancelCtx,
		cancel: cancel,
	}
}

func (self *Event) Ctx() context.Context {
	return self.ctx
}

func (self *Event) Set() {
	self.cancel()
}

func (self *Event) SetOnSignals(signals ...os.Signal) func() {
	stopSignal := make(chan os.Signal, len(signals))
	signal.Notify(stopSignal, signals...)
	go func() {
		defer signal.Stop(stopSignal)
		select {
		case _, ok := <-stopSignal:
			if ok {
				self.cancel()
			}
		case <-self.ctx.Done():
		}
	}()
	return func() {
		signal.Stop(stopSignal)
		close(stopSignal)
	}
}

// paces connection attempts to at most one per timeout, measured from the attempt start
type Reconnect struct {
	startTime time.Time
	timeout   time.Duration
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		startTime: time.Now(),
		timeout:   timeout,
	}
}

func (self *Reconnect) After() <-chan time.Time {
	remaining := self.startTime.Add(self.timeout).Sub(time.Now())
	if remaining < 0 {
		remaining = 0
	}
	return time.After(remaining)
}
