package host

import (
	"io"
	"os"

	"golang.org/x/term"
)

// Console feeds bytes typed on a terminal into a KeyBuffer. When the
// input is a terminal it is switched to raw mode until Close.
type Console struct {
	in    io.Reader
	keys  *KeyBuffer
	fd    int
	state *term.State
	done  chan struct{}
}

// NewConsole reads keys from in. Pass os.Stdin for the process terminal.
func NewConsole(in io.Reader, keys *KeyBuffer) *Console {
	c := &Console{in: in, keys: keys, fd: -1, done: make(chan struct{})}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
	}
	return c
}

// Start enters raw mode when possible and begins reading.
func (c *Console) Start() error {
	if c.fd >= 0 {
		state, err := term.MakeRaw(c.fd)
		if err != nil {
			return err
		}
		c.state = state
	}
	go c.read()
	return nil
}

func (c *Console) read() {
	defer close(c.done)
	buf := make([]byte, 1)
	for {
		n, err := c.in.Read(buf)
		if n == 1 {
			c.keys.Press(int32(buf[0]))
		}
		if err != nil {
			if err != io.EOF {
				log.Warningf("console input: %s", err)
			}
			return
		}
	}
}

// Done is closed when the input ends.
func (c *Console) Done() <-chan struct{} { return c.done }

// Close restores the terminal mode.
func (c *Console) Close() error {
	if c.state != nil {
		err := term.Restore(c.fd, c.state)
		c.state = nil
		return err
	}
	return nil
}
