package audio

import (
	"context"
	"io"
	"sync"
	"time"
)

// PlaybackDevice binds the physical speaker. Open acquires the device
// exclusively and returns a writer of raw PCM16LE mono samples.
type PlaybackDevice interface {
	Open() (io.WriteCloser, error)
	SampleRate() int
}

// PacedWriter buffers incoming PCM and writes it to the speaker in 20ms
// frames at wall-clock rate, so that Reset can drop queued audio with at
// most one frame of residual latency.
type PacedWriter struct {
	dev        io.WriteCloser
	gate       *Gate
	frameBytes int
	frames     chan []byte
	stopCh     chan struct{}
	stopped    bool
	mu         sync.Mutex
	pcmBuf     []byte
	pacerDone  chan struct{}
	frameDur   time.Duration
}

// NewPacedWriter acquires the speaker through the gate and starts the
// pacer. The caller must Close it to release the device.
func NewPacedWriter(device PlaybackDevice, gate *Gate) (*PacedWriter, error) {
	if err := gate.TryAcquire("playback"); err != nil {
		return nil, err
	}
	dev, err := device.Open()
	if err != nil {
		gate.Release()
		return nil, err
	}
	w := &PacedWriter{
		dev:        dev,
		gate:       gate,
		frameBytes: device.SampleRate() / 50 * 2, // 20ms of PCM16 mono
		frameDur:   20 * time.Millisecond,
		frames:     make(chan []byte, 512),
		stopCh:     make(chan struct{}),
		pacerDone:  make(chan struct{}),
	}
	go w.pacer()
	return w, nil
}

// WritePCM buffers PCM mono data and emits full frames to the pacer.
func (w *PacedWriter) WritePCM(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.pcmBuf = append(w.pcmBuf, pcm...)
	for len(w.pcmBuf) >= w.frameBytes {
		frame := make([]byte, w.frameBytes)
		copy(frame, w.pcmBuf[:w.frameBytes])
		copy(w.pcmBuf, w.pcmBuf[w.frameBytes:])
		w.pcmBuf = w.pcmBuf[:len(w.pcmBuf)-w.frameBytes]
		w.pushFrame(frame)
	}
}

// FlushTail zero-pads the remaining PCM to a full frame so the end of the
// utterance is not clipped.
func (w *PacedWriter) FlushTail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || len(w.pcmBuf) == 0 {
		return
	}
	frame := make([]byte, w.frameBytes)
	copy(frame, w.pcmBuf)
	w.pcmBuf = w.pcmBuf[:0]
	w.pushFrame(frame)
}

// Drain blocks until every queued frame has been written out, then returns.
// It does not release the device.
func (w *PacedWriter) Drain(ctx context.Context) error {
	ticker := time.NewTicker(w.frameDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.mu.Lock()
			empty := len(w.frames) == 0 && len(w.pcmBuf) == 0
			w.mu.Unlock()
			if empty {
				return nil
			}
		}
	}
}

// Reset drops all queued frames immediately to support barge-in.
func (w *PacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			w.pcmBuf = w.pcmBuf[:0]
			return
		}
	}
}

// Close stops the pacer and releases the speaker.
func (w *PacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
	<-w.pacerDone
	_ = w.dev.Close()
	w.gate.Release()
}

func (w *PacedWriter) pacer() {
	defer close(w.pacerDone)
	ticker := time.NewTicker(w.frameDur)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_, _ = w.dev.Write(frame)
			default:
			}
		}
	}
}

// pushFrame enqueues a frame without blocking the producer; when the queue
// is full the oldest frame is dropped, which is preferable to stalling the
// synthesis stream.
func (w *PacedWriter) pushFrame(frame []byte) {
	select {
	case w.frames <- frame:
	default:
		select {
		case <-w.frames:
		default:
		}
		select {
		case w.frames <- frame:
		default:
		}
	}
}
