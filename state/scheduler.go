package state

import (
	"fmt"
	"time"
)

// Reactor runs callbacks on the goroutine that owns all session and routing state.
// Post may be called from any goroutine, AfterFunc and Timer.Stop only from the reactor itself.
type Reactor interface {
	Post(fun func())
	AfterFunc(delay time.Duration, fun func()) Timer
}

// Timer is a one-shot reactor timer. After Stop returns, the callback will not run.
type Timer interface {
	Stop()
}

// Dispatch Dispatches the function to run on the main thread without waiting for it to complete
func (e *Env) Dispatch(fun func(*State) error) {
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("panic: %v", r))
		}
	}()
	select {
	case e.DispatchChannel <- fun:
	case <-e.Context.Done():
	}
}

type dispatchResult[T any] struct {
	val T
	err error
}

// DispatchWait Dispatches the function to run on the main thread and wait for it to complete
func DispatchWait[T any](e *Env, fun func(*State) (T, error)) (T, error) {
	ret := make(chan dispatchResult[T], 1)
	e.Dispatch(func(s *State) error {
		res, err := fun(s)
		ret <- dispatchResult[T]{res, err}
		return nil
	})
	select {
	case res := <-ret:
		return res.val, res.err
	case <-e.Context.Done():
		var zero T
		return zero, e.Context.Err()
	}
}

func (e *Env) ScheduleTask(fun func(*State) error, delay time.Duration) {
	time.AfterFunc(delay, func() {
		e.Dispatch(fun)
	})
}

func (e *Env) repeatedTask(fun func(*State) error, delay time.Duration) {
	for e.Context.Err() == nil {
		e.Dispatch(fun)
		time.Sleep(delay)
	}
}

func (e *Env) RepeatTask(fun func(*State) error, delay time.Duration) {
	go e.repeatedTask(fun, delay)
}

// Post implements Reactor
func (e *Env) Post(fun func()) {
	e.Dispatch(func(*State) error {
		fun()
		return nil
	})
}

type envTimer struct {
	t *time.Timer
	// only touched on the dispatch goroutine
	stopped bool
}

func (t *envTimer) Stop() {
	t.stopped = true
	t.t.Stop()
}

// AfterFunc implements Reactor. A timer that already fired but is still queued is discarded by Stop.
func (e *Env) AfterFunc(delay time.Duration, fun func()) Timer {
	et := &envTimer{}
	et.t = time.AfterFunc(delay, func() {
		e.Post(func() {
			if et.stopped {
				return
			}
			et.stopped = true
			fun()
		})
	})
	return et
}
