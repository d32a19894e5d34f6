package host

import "sync"

// KeyBuffer holds the last key pressed. Input goroutines call Press; the
// console natives read it between ticks.
type KeyBuffer struct {
	mu   sync.Mutex
	last int32
}

// Press records key as the last key pressed.
func (k *KeyBuffer) Press(key int32) {
	k.mu.Lock()
	k.last = key
	k.mu.Unlock()
}

// LastKey returns the last key pressed, or 0.
func (k *KeyBuffer) LastKey() int32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last
}

// ResetKey forgets the last key.
func (k *KeyBuffer) ResetKey() {
	k.mu.Lock()
	k.last = 0
	k.mu.Unlock()
}
