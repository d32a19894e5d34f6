package host

import (
	"errors"
	"fmt"
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// WindowOptions configures the Ebiten window.
type WindowOptions struct {
	Width, Height int
	Title         string
	// Overlay prints the tick counter and thread count.
	Overlay bool
}

// specialKeys maps non-character keys to the codes titles expect.
var specialKeys = map[ebiten.Key]int32{
	ebiten.KeyEnter:     13,
	ebiten.KeyEscape:    27,
	ebiten.KeyBackspace: 8,
	ebiten.KeyTab:       9,
}

// window adapts a Host to ebiten.Game. Ebiten calls Update at its own
// rate; ticks run when the tick interval has elapsed.
type window struct {
	host *Host
	opts WindowOptions
	last time.Time
	err  error
}

// RunWindow opens a window and ticks the VM from the Ebiten update loop
// until the title finishes or the window is closed.
func (h *Host) RunWindow(opts WindowOptions) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = h.vm.Game.DefaultScreen()
	}
	if opts.Title == "" {
		opts.Title = h.vm.Game.String()
	}
	defer close(h.quit)

	ebiten.SetWindowSize(opts.Width, opts.Height)
	ebiten.SetWindowTitle(opts.Title)
	w := &window{host: h, opts: opts, last: time.Now()}
	if err := ebiten.RunGame(w); err != nil && !errors.Is(err, ebiten.Termination) {
		return err
	}
	return w.err
}

func (w *window) Update() error {
	for _, r := range ebiten.AppendInputChars(nil) {
		if r < 256 {
			w.host.keys.Press(int32(r))
		}
	}
	for k, code := range specialKeys {
		if inpututil.IsKeyJustPressed(k) {
			w.host.keys.Press(code)
		}
	}

	w.host.drain()

	if ebiten.IsWindowBeingClosed() {
		return ebiten.Termination
	}
	if time.Since(w.last) < w.host.opts.Tick {
		return nil
	}
	w.last = time.Now()
	finished, err := w.host.Step()
	if err != nil {
		w.err = err
		return ebiten.Termination
	}
	if finished {
		return ebiten.Termination
	}
	return nil
}

func (w *window) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{A: 255})
	if w.opts.Overlay {
		ebitenutil.DebugPrint(screen, fmt.Sprintf("tick %d  threads %d", w.host.ticks, w.host.vm.ThreadCount()))
	}
}

func (w *window) Layout(outsideWidth, outsideHeight int) (int, int) {
	return w.opts.Width, w.opts.Height
}
