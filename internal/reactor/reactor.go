// Package reactor runs completion handlers posted by transports.
//
// A Context may be driven by any number of goroutines calling Run, Poll or
// PollOne. Handlers posted by one connection never overlap because a connection
// posts its next completion only after the previous one re-armed it.
package reactor

import (
	"container/list"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler is one unit of queued work.
type Handler func()

type Context struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending list.List
	stopped bool
}

func New() *Context {
	c := &Context{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Post queues h. It reports false once the context is stopped.
func (c *Context) Post(h Handler) bool {
	if h == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.pending.PushBack(h)
	c.cond.Signal()
	return true
}

// PollOne runs at most one ready handler without blocking.
func (c *Context) PollOne() int {
	h := c.next(false)
	if h == nil {
		return 0
	}
	c.invoke(h)
	return 1
}

// Poll runs every handler that is ready without blocking.
func (c *Context) Poll() int {
	n := 0
	for c.PollOne() == 1 {
		n++
	}
	return n
}

// Run executes handlers as they are posted until Stop and reports how many ran.
func (c *Context) Run() int {
	n := 0
	for {
		h := c.next(true)
		if h == nil {
			return n
		}
		c.invoke(h)
		n++
	}
}

// Stop wakes every Run call and rejects further posts. Queued handlers are
// dropped.
func (c *Context) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.pending.Init()
	c.cond.Broadcast()
}

// Restart clears the stopped state so the context can be run again.
func (c *Context) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = false
}

func (c *Context) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Pending is the number of queued handlers.
func (c *Context) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

func (c *Context) next(block bool) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if c.stopped {
			return nil
		}
		if front := c.pending.Front(); front != nil {
			c.pending.Remove(front)
			return front.Value.(Handler)
		}
		if !block {
			return nil
		}
		c.cond.Wait()
	}
}

func (c *Context) invoke(h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("reactor handler panicked")
		}
	}()
	h()
}
