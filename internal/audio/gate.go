package audio

import "sync"

// Gate serializes access to the audio hardware. The microphone and speaker
// are exclusive singletons on the target hardware: opening both at once is
// a device conflict, so every acquisition goes through one gate.
type Gate struct {
	mu     sync.Mutex
	holder string
}

// NewGate returns an open gate.
func NewGate() *Gate { return &Gate{} }

// TryAcquire takes the gate for the named device. It never blocks; a held
// gate yields ErrDeviceBusy so callers can surface a device conflict
// instead of deadlocking mid-turn.
func (g *Gate) TryAcquire(device string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != "" {
		return ErrDeviceBusy
	}
	g.holder = device
	return nil
}

// Release frees the gate. Releasing an open gate is a no-op.
func (g *Gate) Release() {
	g.mu.Lock()
	g.holder = ""
	g.mu.Unlock()
}

// Holder reports which device currently holds the gate, or "".
func (g *Gate) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}
