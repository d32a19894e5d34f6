package host

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/chazu/sauce/assets"
	"github.com/chazu/sauce/vm"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

// titleClass builds class Main with a static "ticks" counter and a boot
// script made by body.
func titleClass(body func(c *vm.BytecodeBuilder, ticks int32)) *vm.SobBuilder {
	b := vm.NewSobBuilder("Main")
	ticks := b.Static("ticks", vm.TypeInt32, 0)
	b.Method("boot()V", vm.RefFlagStatic|vm.RefFlagScript, 0, nil, func(c *vm.BytecodeBuilder) {
		body(c, ticks)
	})
	return b
}

func emitTick(c *vm.BytecodeBuilder, ticks int32) {
	c.EmitInt32(vm.OpPushStatic, ticks).EmitByte(vm.OpPushInt8, 1).Emit(vm.OpAddInt).EmitInt32(vm.OpPopStatic, ticks)
}

// threeTicks counts to three, yielding between counts, then ends.
func threeTicks(c *vm.BytecodeBuilder, ticks int32) {
	emitTick(c, ticks)
	c.Emit(vm.OpBreakHere)
	emitTick(c, ticks)
	c.Emit(vm.OpBreakHere)
	emitTick(c, ticks)
	c.Emit(vm.OpEnd)
}

// spinForever counts every tick and never ends.
func spinForever(c *vm.BytecodeBuilder, ticks int32) {
	loop := c.NewLabel()
	c.Mark(loop)
	emitTick(c, ticks)
	c.Emit(vm.OpBreakHere)
	c.EmitJump(vm.OpJump, loop)
}

func bootTitle(t *testing.T, game vm.GameID, b *vm.SobBuilder) *vm.VM {
	t.Helper()
	m := vm.New(vm.Options{Source: assets.MemSource{}.Add(b), Game: game})
	if err := m.RunMainBoot("Main", nil); err != nil {
		t.Fatalf("RunMainBoot: %v", err)
	}
	return m
}

func ticksOf(t *testing.T, m *vm.VM) int32 {
	t.Helper()
	v, err := m.ClassStatic("Main", "ticks")
	if err != nil {
		t.Fatalf("ClassStatic: %v", err)
	}
	return v.Bits
}

// ---------------------------------------------------------------------------
// Tick loop
// ---------------------------------------------------------------------------

func TestStepUntilFinished(t *testing.T) {
	m := bootTitle(t, vm.GameAutorun, titleClass(threeTicks))
	h := New(m, Options{})

	finished, err := h.Step()
	if err != nil || finished {
		t.Fatalf("first Step = %v, %v; want running", finished, err)
	}
	finished, err = h.Step()
	if err != nil || !finished {
		t.Fatalf("second Step = %v, %v; want finished", finished, err)
	}
	if got := ticksOf(t, m); got != 3 {
		t.Errorf("ticks = %d, want 3", got)
	}
	if h.Ticks() != 2 {
		t.Errorf("Ticks() = %d, want 2", h.Ticks())
	}
}

func TestRunStopsAtTickLimit(t *testing.T) {
	m := bootTitle(t, vm.GameAutorun, titleClass(spinForever))
	h := New(m, Options{Tick: time.Millisecond, MaxTicks: 5})
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.Ticks() != 5 {
		t.Errorf("Ticks() = %d, want 5", h.Ticks())
	}
	if got := ticksOf(t, m); got != 6 {
		t.Errorf("ticks = %d, want 6", got)
	}
}

func TestRunReturnsWhenNothingRuns(t *testing.T) {
	m := bootTitle(t, vm.GameAutorun, titleClass(func(c *vm.BytecodeBuilder, ticks int32) {
		c.Emit(vm.OpEnd)
	}))
	h := New(m, Options{Tick: time.Hour})
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.Ticks() != 0 {
		t.Errorf("Ticks() = %d, want 0", h.Ticks())
	}
}

func TestRunSurfacesQuit(t *testing.T) {
	m := bootTitle(t, vm.GameMoop, titleClass(func(c *vm.BytecodeBuilder, ticks int32) {
		c.Emit(vm.OpBreakHere)
		c.EmitByte(vm.OpPushInt8, 4)
		c.Emit(vm.OpQuit)
	}))
	h := New(m, Options{Tick: time.Millisecond})
	err := h.Run(context.Background())
	var q *vm.QuitError
	if !errors.As(err, &q) {
		t.Fatalf("err = %v, want *vm.QuitError", err)
	}
	if q.Code != 4 {
		t.Errorf("exit code = %d, want 4", q.Code)
	}
}

func TestRunCancelled(t *testing.T) {
	m := bootTitle(t, vm.GameAutorun, titleClass(spinForever))
	h := New(m, Options{Tick: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx) }()

	var frames uint32
	err := h.Do(context.Background(), func(m *vm.VM) error {
		frames = m.FrameCounter()
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	_ = frames

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if err := h.Do(context.Background(), func(*vm.VM) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after stop = %v, want ErrStopped", err)
	}
}

func TestDoRecoversPanics(t *testing.T) {
	m := bootTitle(t, vm.GameAutorun, titleClass(spinForever))
	h := New(m, Options{Tick: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	err := h.Do(ctx, func(*vm.VM) error { panic("boom") })
	if err == nil || err.Error() != "boom" {
		t.Errorf("Do = %v, want boom", err)
	}
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

func TestKeyBuffer(t *testing.T) {
	var k KeyBuffer
	if k.LastKey() != 0 {
		t.Error("new buffer should be empty")
	}
	k.Press('a')
	k.Press('b')
	if k.LastKey() != 'b' {
		t.Errorf("LastKey() = %d, want %d", k.LastKey(), 'b')
	}
	k.ResetKey()
	if k.LastKey() != 0 {
		t.Error("ResetKey should clear the key")
	}
}

func TestConsoleReadsKeys(t *testing.T) {
	keys := &KeyBuffer{}
	c := NewConsole(strings.NewReader("xyz"), keys)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("console did not finish reading")
	}
	if keys.LastKey() != 'z' {
		t.Errorf("LastKey() = %d, want %d", keys.LastKey(), 'z')
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestConsoleOnPipeSkipsRawMode(t *testing.T) {
	r, w := io.Pipe()
	c := NewConsole(r, &KeyBuffer{})
	if c.fd != -1 {
		t.Errorf("fd = %d, want -1 for a pipe", c.fd)
	}
	w.Close()
}
