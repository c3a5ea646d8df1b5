package audio

import (
	"context"
	"io"
	"log"
	"time"
)

// CaptureDevice binds the physical microphone. Open acquires the device
// exclusively and returns a reader of raw PCM16LE mono samples; closing the
// reader releases the device.
type CaptureDevice interface {
	Open() (io.ReadCloser, error)
	SampleRate() int
}

// MicCapture is a CaptureSource over a CaptureDevice with energy-based
// utterance endpointing: recording starts immediately, speech onset is
// detected by the VAD, and the utterance ends after a sustained silence
// window. A pre-roll ring keeps the audio just before onset so the first
// syllable is not clipped.
type MicCapture struct {
	device CaptureDevice
	gate   *Gate
}

// NewMicCapture wires a capture source to its device and the shared gate.
func NewMicCapture(device CaptureDevice, gate *Gate) *MicCapture {
	return &MicCapture{device: device, gate: gate}
}

const preRollMs = 300

// Capture records one utterance. The device and gate are released on every
// return path, including cancellation and read errors.
func (m *MicCapture) Capture(ctx context.Context, opts CaptureOptions) ([]byte, error) {
	if err := m.gate.TryAcquire("capture"); err != nil {
		return nil, err
	}
	defer m.gate.Release()

	rc, err := m.device.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	sr := m.device.SampleRate()
	vad := newEnergyVAD()
	preRoll := newRingPCM(preRollMs, sr)

	type readResult struct {
		data []byte
		err  error
	}
	readCh := make(chan readResult, 8)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(readCh)
		buf := make([]byte, sr/100*2) // 10ms
		for {
			n, rerr := io.ReadFull(rc, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case readCh <- readResult{data: chunk}:
				case <-stop:
					return
				}
			}
			if rerr != nil {
				select {
				case readCh <- readResult{err: rerr}:
				case <-stop:
				}
				return
			}
		}
	}()

	var utterance []byte
	speechSeen := false
	started := time.Now()
	lastVoice := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return nil, ErrCancelled
		case res, ok := <-readCh:
			if !ok {
				res.err = io.EOF
			}
			if res.err != nil {
				// Device drained: treat accumulated speech as the utterance.
				if speechSeen {
					return utterance, nil
				}
				if res.err == io.EOF || res.err == io.ErrUnexpectedEOF {
					return nil, ErrNoSpeech
				}
				return nil, res.err
			}

			for _, frame := range splitFrames(res.data, sr) {
				voiced := vad.isSpeech(frame)
				if voiced {
					lastVoice = time.Now()
				}
				if !speechSeen {
					preRoll.Write(frame)
					if voiced {
						speechSeen = true
						utterance = append(utterance, frameBytes(Frame(preRoll.ReadLastMs(preRollMs)))...)
						log.Printf("capture: speech onset after %s", time.Since(started).Round(time.Millisecond))
					}
					continue
				}
				utterance = append(utterance, frameBytes(frame)...)
			}

			now := time.Now()
			if opts.NoSpeech > 0 && !speechSeen && now.Sub(started) >= opts.NoSpeech {
				return nil, ErrNoSpeech
			}
			if speechSeen && now.Sub(lastVoice) >= opts.Silence {
				log.Printf("capture: utterance ended (%d bytes)", len(utterance))
				return utterance, nil
			}
			if opts.MaxDuration > 0 && now.Sub(started) >= opts.MaxDuration {
				if speechSeen {
					return utterance, nil
				}
				return nil, ErrNoSpeech
			}
		}
	}
}
