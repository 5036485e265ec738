package quill

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// note all callbacks are wrapped to recover from panics so that one bad
// listener cannot take down the dispatch loop

type callbackId = int64

// makes a copy of the list on get so that callbacks can add/remove
// while a dispatch is in progress
type CallbackList[T any] struct {
	mutex          sync.Mutex
	nextCallbackId callbackId
	callbacks      map[callbackId]T
	orderedIds     []callbackId
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[callbackId]T{},
	}
}

func (self *CallbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	callbacks := make([]T, 0, len(self.orderedIds))
	for _, callbackId := range self.orderedIds {
		callbacks = append(callbacks, self.callbacks[callbackId])
	}
	return callbacks
}

// returns a func that removes the callback
func (self *CallbackList[T]) add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextCallbackId
	self.nextCallbackId += 1
	self.callbacks[callbackId] = callback
	self.orderedIds = append(self.orderedIds, callbackId)

	return func() {
		self.remove(callbackId)
	}
}

func (self *CallbackList[T]) remove(callbackId callbackId) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	i := slices.Index(self.orderedIds, callbackId)
	self.orderedIds = slices.Delete(self.orderedIds, i, i+1)
}

func (self *CallbackList[T]) size() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}

func (self *CallbackList[T]) clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	maps.Clear(self.callbacks)
	self.orderedIds = nil
}

type resultCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleResultCallback[R any] struct {
	callback func(result R, err error)
}

func NewResultCallback[R any](callback func(result R, err error)) resultCallback[R] {
	return &simpleResultCallback[R]{
		callback: callback,
	}
}

func NewNoopResultCallback[R any]() resultCallback[R] {
	return &simpleResultCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleResultCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ResultCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingResultCallback[R any]() (resultCallback[R], chan ResultCallbackResult[R]) {
	c := make(chan ResultCallbackResult[R], 1)
	callback := NewResultCallback[R](func(result R, err error) {
		c <- ResultCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return callback, c
}

func safeCallback(callback func()) {
	defer func() {
		if r := recover(); r != nil {
			logError("callback panic: %v", r)
		}
	}()
	callback()
}
