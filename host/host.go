// Package host drives a VM: it runs scheduler ticks at a fixed rate,
// feeds keyboard input to the console natives and serializes requests
// from other goroutines onto the tick goroutine.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chazu/sauce/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger(vm.LogHost)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("host stopped")

// Options configures a Host.
type Options struct {
	// Tick is the interval between scheduler ticks. Default 50ms.
	Tick time.Duration
	// MaxTicks stops the loop after that many ticks; 0 runs until no
	// thread is left.
	MaxTicks int
}

// request is a unit of work to be executed on the tick goroutine.
type request struct {
	fn   func(*vm.VM) error
	done chan error
}

// Host owns a VM. The interpreter is single-threaded, so every access
// from outside the loop goes through Do.
type Host struct {
	vm       *vm.VM
	opts     Options
	keys     *KeyBuffer
	requests chan request
	quit     chan struct{}
	ticks    int
}

// New creates a host for m.
func New(m *vm.VM, opts Options) *Host {
	if opts.Tick <= 0 {
		opts.Tick = 50 * time.Millisecond
	}
	return &Host{
		vm:       m,
		opts:     opts,
		keys:     &KeyBuffer{},
		requests: make(chan request, 16),
		quit:     make(chan struct{}),
	}
}

// Keys returns the key buffer the console natives read.
func (h *Host) Keys() *KeyBuffer { return h.keys }

// Ticks returns the number of ticks run so far.
func (h *Host) Ticks() int { return h.ticks }

// Idle reports whether no live thread is left.
func (h *Host) Idle() bool {
	for _, t := range h.vm.Threads() {
		if t.State != vm.StateDead {
			return false
		}
	}
	return true
}

// Step runs one tick and reports whether the title is finished: no
// thread left or the tick limit reached.
func (h *Host) Step() (finished bool, err error) {
	if err := h.vm.RunThreads(); err != nil {
		return true, err
	}
	h.ticks++
	if h.opts.MaxTicks > 0 && h.ticks >= h.opts.MaxTicks {
		log.Infof("tick limit %d reached", h.opts.MaxTicks)
		return true, nil
	}
	return h.Idle(), nil
}

// Run ticks until the title finishes, a fault occurs or ctx is done.
// A quit opcode surfaces as *vm.QuitError.
func (h *Host) Run(ctx context.Context) error {
	defer close(h.quit)
	if h.Idle() {
		return nil
	}

	ticker := time.NewTicker(h.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-h.requests:
			req.done <- h.execute(req.fn)
		case <-ticker.C:
			finished, err := h.Step()
			if err != nil {
				return err
			}
			if finished {
				log.Debugf("finished after %d ticks", h.ticks)
				return nil
			}
		}
	}
}

// execute runs fn on the VM, converting a panic into an error.
func (h *Host) execute(fn func(*vm.VM) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn(h.vm)
}

// drain runs every pending request.
func (h *Host) drain() {
	for {
		select {
		case req := <-h.requests:
			req.done <- h.execute(req.fn)
		default:
			return
		}
	}
}

// Do runs fn on the tick goroutine between ticks and waits for it.
func (h *Host) Do(ctx context.Context, fn func(*vm.VM) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case h.requests <- req:
	case <-h.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-h.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
